package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/money"
	"varejo/backend/internal/store"
	"varejo/backend/internal/xid"
)

const DefaultTenant = "default"

var _ store.Repository = (*Store)(nil)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	orders          map[string]*domain.Order
	ordersByIdem    map[string]string
	returnsByOrder  map[string][]domain.OrderReturn
	movements       []domain.InventoryMovement
	entries         []domain.FinancialEntry
	receipts        []domain.PurchaseReceipt
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		orders:          make(map[string]*domain.Order),
		ordersByIdem:    make(map[string]string),
		returnsByOrder:  make(map[string][]domain.OrderReturn),
		movements:       make([]domain.InventoryMovement, 0, 128),
		entries:         make([]domain.FinancialEntry, 0, 64),
		receipts:        make([]domain.PurchaseReceipt, 0, 16),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, with a warning when the
// built-in defaults are used.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.L().Warn("memory store is using default dev credentials",
			zap.String("hint", "set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD"))
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory store: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			TenantID:  DefaultTenant,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small grocery catalog (120 units each) and
// the dev accounts, all in the default tenant.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	for _, p := range []struct {
		id, name, price, discount string
		minStock                  int
	}{
		{"prd-arroz-5kg", "Arroz 5kg", "27.90", "0", 10},
		{"prd-feijao-1kg", "Feijão 1kg", "8.49", "0", 10},
		{"prd-cafe-500g", "Café 500g", "18.90", "5", 8},
		{"prd-acucar-1kg", "Açúcar 1kg", "4.99", "0", 10},
		{"prd-leite-1l", "Leite 1L", "5.49", "0", 24},
		{"prd-oleo-900ml", "Óleo de Soja 900ml", "7.99", "0", 12},
	} {
		s.products[p.id] = domain.Product{
			ID:                         p.id,
			TenantID:                   DefaultTenant,
			Name:                       p.name,
			Price:                      decimal.RequireFromString(p.price),
			Stock:                      120,
			MinStock:                   p.minStock,
			RecommendedDiscountPercent: decimal.RequireFromString(p.discount),
			Active:                     true,
			CreatedAt:                  now,
			UpdatedAt:                  now,
		}
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context, tenantID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.TenantID != tenantID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, tenantID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.productLocked(tenantID, productID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	if product.Stock < 0 {
		return nil, domain.Validationf("stock must not be negative")
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, domain.Validationf("product %s already exists", product.ID)
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
	return &product, nil
}

// UpdateProduct changes catalog fields only. Stock moves through the ledger.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.productLocked(product.TenantID, product.ID)
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	current.Name = product.Name
	current.Price = product.Price
	current.MinStock = product.MinStock
	current.RecommendedDiscountPercent = product.RecommendedDiscountPercent
	current.Active = product.Active
	current.UpdatedAt = time.Now().UTC()
	s.products[current.ID] = current
	return &current, nil
}

func (s *Store) FindOrderByIdempotency(_ context.Context, tenantID string, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.ordersByIdem[idemKey(tenantID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Store) FindOrderByID(_ context.Context, tenantID string, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orderLocked(tenantID, orderID)
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, tenantID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = store.NormalizeLimit(limit, 50, 500)
	orders := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if order.TenantID != tenantID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		orders = append(orders, *cloneOrder(order))
	}
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) CommitOrder(_ context.Context, order domain.Order, entry domain.FinancialEntry) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.TenantID == "" || order.IdempotencyKey == "" {
		return nil, false, domain.Validationf("order needs a tenant and an idempotency key")
	}
	if id, ok := s.ordersByIdem[idemKey(order.TenantID, order.IdempotencyKey)]; ok {
		return cloneOrder(s.orders[id]), true, nil
	}
	if len(order.Items) == 0 {
		return nil, false, domain.Validationf("order must have at least one item")
	}

	// Check every line before touching stock so a rejection leaves nothing behind.
	wanted := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity < 1 {
			return nil, false, domain.Validationf("quantity for product %s must be at least 1", item.ProductID)
		}
		product, ok := s.productLocked(order.TenantID, item.ProductID)
		if !ok || !product.Active {
			return nil, false, domain.Validationf("product %s unavailable", item.ProductID)
		}
		wanted[item.ProductID] += item.Quantity
		if product.Stock < wanted[item.ProductID] {
			return nil, false, &domain.StockError{ProductID: product.ID, Requested: wanted[item.ProductID], Available: product.Stock}
		}
	}

	now := time.Now().UTC()
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.Status = domain.OrderStatusCompleted
	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == "" {
			item.ID = xid.New("oi")
		}
		item.OrderID = order.ID
		item.Position = i + 1
		s.moveStockLocked(order.TenantID, item.ProductID, domain.MovementOut, item.Quantity,
			"sale", order.ID, order.Salesperson, now)
	}

	entry.ID = xid.New("fin")
	entry.TenantID = order.TenantID
	entry.OrderID = order.ID
	entry.Kind = domain.EntryRevenue
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	s.entries = append(s.entries, entry)

	stored := cloneOrder(&order)
	s.orders[order.ID] = stored
	s.ordersByIdem[idemKey(order.TenantID, order.IdempotencyKey)] = order.ID
	return cloneOrder(stored), false, nil
}

func (s *Store) CancelOrder(_ context.Context, cancel store.Cancellation) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orderLocked(cancel.TenantID, cancel.OrderID)
	if !ok {
		return nil, store.ErrNotFound
	}
	if !order.Status.CanTransitionTo(domain.OrderStatusCancelled) {
		return nil, store.NewTransitionError(*order, "cancel")
	}

	at := cancel.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	returned := store.ReturnedTotalsOf(s.returnsByOrder[order.ID])
	for _, r := range store.RestoreQuantities(*order, returned) {
		if _, ok := s.productLocked(order.TenantID, r.ProductID); !ok {
			continue
		}
		s.moveStockLocked(order.TenantID, r.ProductID, domain.MovementIn, r.Quantity,
			"cancel", order.ID, cancel.Actor, at)
	}

	s.entries = append(s.entries, domain.FinancialEntry{
		ID:            xid.New("fin"),
		TenantID:      order.TenantID,
		OrderID:       order.ID,
		Kind:          domain.EntryReversal,
		Amount:        order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		CreatedBy:     cancel.Actor,
		CreatedAt:     at,
	})

	order.Status = domain.OrderStatusCancelled
	order.CancelledReason = strings.TrimSpace(cancel.Reason)
	order.CancelledAt = &at
	return cloneOrder(order), nil
}

// DeleteOrder drops a cancelled order together with its idempotency key.
func (s *Store) DeleteOrder(_ context.Context, tenantID string, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orderLocked(tenantID, orderID)
	if !ok {
		return store.ErrNotFound
	}
	if order.Status != domain.OrderStatusCancelled {
		return store.NewTransitionError(*order, "remove")
	}
	delete(s.ordersByIdem, idemKey(order.TenantID, order.IdempotencyKey))
	delete(s.orders, order.ID)
	return nil
}

func (s *Store) ListReturns(_ context.Context, tenantID string, orderID string) ([]domain.OrderReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	returns := s.returnsByOrder[orderID]
	out := make([]domain.OrderReturn, 0, len(returns))
	for _, ret := range returns {
		if ret.TenantID != tenantID {
			continue
		}
		out = append(out, cloneReturn(ret))
	}
	return out, nil
}

func (s *Store) CreateReturn(_ context.Context, ret domain.OrderReturn) (*domain.OrderReturn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orderLocked(ret.TenantID, ret.OrderID)
	if !ok {
		return nil, store.ErrNotFound
	}
	returned := store.ReturnedTotalsOf(s.returnsByOrder[order.ID])
	items, total, err := store.CheckReturnable(*order, returned, ret.Items)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
	}
	for i := range items {
		items[i].ReturnID = ret.ID
	}
	ret.Items = items
	ret.Amount = total
	ret.Reason = strings.TrimSpace(ret.Reason)

	for _, item := range items {
		if item.Quantity == 0 {
			continue
		}
		if _, ok := s.productLocked(order.TenantID, item.ProductID); !ok {
			continue
		}
		s.moveStockLocked(order.TenantID, item.ProductID, domain.MovementIn, item.Quantity,
			"return", ret.ID, ret.CreatedBy, ret.CreatedAt)
	}

	order.TotalAmount = money.Round2(order.TotalAmount.Sub(total))
	if total.IsPositive() {
		s.entries = append(s.entries, domain.FinancialEntry{
			ID:            xid.New("fin"),
			TenantID:      order.TenantID,
			OrderID:       order.ID,
			Kind:          domain.EntryRefund,
			Amount:        total,
			PaymentMethod: order.PaymentMethod,
			CreatedBy:     ret.CreatedBy,
			CreatedAt:     ret.CreatedAt,
		})
	}

	s.returnsByOrder[order.ID] = append(s.returnsByOrder[order.ID], cloneReturn(ret))
	created := cloneReturn(ret)
	return &created, nil
}

func (s *Store) ApplyMovement(_ context.Context, movement domain.InventoryMovement) (domain.MovementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !movement.Type.IsValid() {
		return domain.MovementResult{}, domain.Validationf("movement type must be IN or OUT")
	}
	if movement.Quantity < 1 {
		return domain.MovementResult{}, domain.Validationf("movement quantity must be at least 1")
	}
	product, ok := s.productLocked(movement.TenantID, movement.ProductID)
	if !ok {
		return domain.MovementResult{}, store.ErrNotFound
	}
	if movement.Type == domain.MovementOut && product.Stock < movement.Quantity {
		return domain.MovementResult{}, &domain.StockError{ProductID: product.ID, Requested: movement.Quantity, Available: product.Stock}
	}

	at := movement.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	recorded := s.moveStockLocked(movement.TenantID, movement.ProductID, movement.Type, movement.Quantity,
		movement.Note, movement.Reference, movement.CreatedBy, at)
	return domain.MovementResult{Movement: recorded, AuditRecorded: true}, nil
}

func (s *Store) ListMovements(_ context.Context, tenantID string, productID string, limit int) ([]domain.InventoryMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = store.NormalizeLimit(limit, 50, 500)
	out := make([]domain.InventoryMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.movements[i]
		if m.TenantID != tenantID {
			continue
		}
		if productID != "" && m.ProductID != productID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) CreatePurchaseReceipt(_ context.Context, receipt domain.PurchaseReceipt) (*domain.PurchaseReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(receipt.Items) == 0 {
		return nil, domain.Validationf("purchase receipt must have at least one item")
	}
	for _, item := range receipt.Items {
		if item.Quantity < 1 {
			return nil, domain.Validationf("quantity for product %s must be at least 1", item.ProductID)
		}
		if _, ok := s.productLocked(receipt.TenantID, item.ProductID); !ok {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
	}

	if receipt.ID == "" {
		receipt.ID = xid.New("pr")
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	for _, item := range receipt.Items {
		s.moveStockLocked(receipt.TenantID, item.ProductID, domain.MovementIn, item.Quantity,
			"purchase receipt", receipt.ID, receipt.CreatedBy, receipt.CreatedAt)
	}

	s.receipts = append(s.receipts, cloneReceipt(receipt))
	created := cloneReceipt(receipt)
	return &created, nil
}

func (s *Store) SetPurchaseReceiptAttachment(_ context.Context, tenantID string, receiptID string, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.receipts {
		if s.receipts[i].ID == receiptID && s.receipts[i].TenantID == tenantID {
			s.receipts[i].AttachmentRef = ref
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) ListPurchaseReceipts(_ context.Context, tenantID string, limit int) ([]domain.PurchaseReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = store.NormalizeLimit(limit, 50, 200)
	out := make([]domain.PurchaseReceipt, 0, limit)
	for i := len(s.receipts) - 1; i >= 0 && len(out) < limit; i-- {
		if s.receipts[i].TenantID != tenantID {
			continue
		}
		out = append(out, cloneReceipt(s.receipts[i]))
	}
	return out, nil
}

func (s *Store) ListFinancialEntries(_ context.Context, tenantID string, orderID string) ([]domain.FinancialEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.FinancialEntry, 0, 4)
	for _, e := range s.entries {
		if e.TenantID == tenantID && e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, tenantID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = store.NormalizeLimit(limit, 100, 500)
	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.TenantID != tenantID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return domain.Validationf("username is required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return domain.Validationf("username already exists")
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// moveStockLocked applies a checked stock change and appends its movement.
// Callers hold the write lock and have validated the product and quantity.
func (s *Store) moveStockLocked(tenantID, productID string, kind domain.MovementType, qty int, note, reference, actor string, at time.Time) domain.InventoryMovement {
	product := s.products[productID]
	prev := product.Stock
	next := prev + qty
	if kind == domain.MovementOut {
		next = prev - qty
	}
	product.Stock = next
	product.UpdatedAt = at
	s.products[productID] = product

	m := domain.InventoryMovement{
		ID:        xid.New("mov"),
		TenantID:  tenantID,
		ProductID: productID,
		Type:      kind,
		Quantity:  qty,
		PrevStock: prev,
		NewStock:  next,
		Note:      note,
		Reference: reference,
		CreatedBy: actor,
		CreatedAt: at,
	}
	s.movements = append(s.movements, m)
	return m
}

func (s *Store) productLocked(tenantID, productID string) (domain.Product, bool) {
	p, ok := s.products[productID]
	if !ok || p.TenantID != tenantID {
		return domain.Product{}, false
	}
	return p, true
}

func (s *Store) orderLocked(tenantID, orderID string) (*domain.Order, bool) {
	o, ok := s.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, false
	}
	return o, true
}

func idemKey(tenantID, key string) string {
	return tenantID + "\x00" + key
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Items = slices.Clone(src.Items)
	if src.CancelledAt != nil {
		at := *src.CancelledAt
		dst.CancelledAt = &at
	}
	return &dst
}

func cloneReturn(src domain.OrderReturn) domain.OrderReturn {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}

func cloneReceipt(src domain.PurchaseReceipt) domain.PurchaseReceipt {
	dst := src
	dst.Items = slices.Clone(src.Items)
	return dst
}
