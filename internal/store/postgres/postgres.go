package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/store"
	"varejo/backend/internal/xid"
)

var _ store.Repository = (*Store)(nil)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return NewFromDB(db), nil
}

// NewFromDB wraps an already opened pool.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, tenant_id, name, price, stock, min_stock, recommended_discount_percent, active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Price, &p.Stock, &p.MinStock,
		&p.RecommendedDiscountPercent, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1
		ORDER BY name, id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, tenantID string, productID string) (*domain.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	if product.Stock < 0 {
		return nil, domain.Validationf("stock must not be negative")
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := s.now()
	product.CreatedAt = now
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.TenantID, product.Name, product.Price, product.Stock, product.MinStock,
		product.RecommendedDiscountPercent, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.Validationf("product %s already exists", product.ID)
		}
		return nil, err
	}
	return &product, nil
}

// UpdateProduct changes catalog fields only. Stock moves through the ledger.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if err := store.ValidateProduct(product); err != nil {
		return nil, err
	}
	updated, err := scanProduct(s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $1, price = $2, min_stock = $3, recommended_discount_percent = $4, active = $5, updated_at = $6
		WHERE tenant_id = $7 AND id = $8
		RETURNING `+productColumns,
		product.Name, product.Price, product.MinStock, product.RecommendedDiscountPercent, product.Active,
		s.now(), product.TenantID, product.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

// lockStock reads a product's stock under a row lock.
func lockStock(ctx context.Context, q queryer, tenantID, productID string) (int, bool, error) {
	var stock int
	var active bool
	err := q.QueryRowContext(ctx, `
		SELECT stock, active
		FROM products
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, productID).Scan(&stock, &active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, store.ErrNotFound
		}
		return 0, false, err
	}
	return stock, active, nil
}

// writeStock stores a new stock figure for a product already locked by the
// transaction and appends the matching movement.
func writeStock(ctx context.Context, q queryer, m domain.InventoryMovement) (domain.InventoryMovement, error) {
	if _, err := q.ExecContext(ctx, `
		UPDATE products SET stock = $1, updated_at = $2
		WHERE tenant_id = $3 AND id = $4
	`, m.NewStock, m.CreatedAt, m.TenantID, m.ProductID); err != nil {
		return m, fmt.Errorf("update stock of %s: %w", m.ProductID, err)
	}
	if err := insertMovement(ctx, q, &m); err != nil {
		return m, err
	}
	return m, nil
}

// adjustStock locks, checks and moves stock in one step.
func adjustStock(ctx context.Context, q queryer, m domain.InventoryMovement) (domain.InventoryMovement, error) {
	prev, _, err := lockStock(ctx, q, m.TenantID, m.ProductID)
	if err != nil {
		return m, err
	}
	m.PrevStock = prev
	m.NewStock = nextStock(prev, m.Type, m.Quantity)
	if m.NewStock < 0 {
		return m, &domain.StockError{ProductID: m.ProductID, Requested: m.Quantity, Available: prev}
	}
	return writeStock(ctx, q, m)
}

func insertMovement(ctx context.Context, q queryer, m *domain.InventoryMovement) error {
	if m.ID == "" {
		m.ID = xid.New("mov")
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, tenant_id, product_id, type, quantity, prev_stock, new_stock, note, reference, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, m.ID, m.TenantID, m.ProductID, string(m.Type), m.Quantity, m.PrevStock, m.NewStock,
		nullIfEmpty(m.Note), nullIfEmpty(m.Reference), m.CreatedBy, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, q queryer, e domain.FinancialEntry) error {
	if e.ID == "" {
		e.ID = xid.New("fin")
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO financial_entries (id, tenant_id, order_id, kind, amount, payment_method, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.TenantID, e.OrderID, e.Kind, e.Amount, e.PaymentMethod, e.CreatedBy, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s entry: %w", strings.ToLower(e.Kind), err)
	}
	return nil
}

func nextStock(prev int, kind domain.MovementType, qty int) int {
	if kind == domain.MovementOut {
		return prev - qty
	}
	return prev + qty
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
