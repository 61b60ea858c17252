package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"varejo/backend/internal/domain"
	"varejo/backend/internal/money"
)

// ListProducts serves the catalog snapshot, which may come from the cache.
func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	snap, err := s.catalog.Load(ctx, s.actor(ctx).TenantID)
	if err != nil {
		return nil, fail("load catalog", err)
	}
	return snap.Products(), nil
}

// LowStock lists active products at or below their minimum stock, lowest first.
func (s *Service) LowStock(ctx context.Context) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx, s.actor(ctx).TenantID)
	if err != nil {
		return nil, fail("list products", err)
	}
	low := make([]domain.Product, 0, 8)
	for _, p := range products {
		if p.Active && p.Stock <= p.MinStock {
			low = append(low, p)
		}
	}
	sort.SliceStable(low, func(i, j int) bool {
		if low[i].Stock != low[j].Stock {
			return low[i].Stock < low[j].Stock
		}
		return low[i].Name < low[j].Name
	})
	return low, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor := s.actor(ctx)
	if req.InitialStock < 0 {
		return domain.Product{}, domain.Validationf("initial stock must not be negative")
	}

	product := domain.Product{
		TenantID:                   actor.TenantID,
		Name:                       strings.TrimSpace(req.Name),
		Price:                      money.Round2(req.Price),
		MinStock:                   req.MinStock,
		RecommendedDiscountPercent: req.RecommendedDiscountPercent,
		Active:                     true,
	}
	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, fail("create product", err)
	}

	// Opening stock goes through the ledger like any other stock change.
	if req.InitialStock > 0 {
		res, err := s.applyMovement(ctx, domain.InventoryMovement{
			TenantID:  actor.TenantID,
			ProductID: created.ID,
			Type:      domain.MovementIn,
			Quantity:  req.InitialStock,
			Note:      "initial stock",
			CreatedBy: actor.Username,
		})
		if err != nil {
			return domain.Product{}, err
		}
		created.Stock = res.Movement.NewStock
	}

	s.catalog.Invalidate(ctx, actor.TenantID)
	s.logAudit(ctx, "product_create", "product", created.ID,
		fmt.Sprintf("name=%s,price=%s,stock=%d", created.Name, created.Price.StringFixed(2), created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor := s.actor(ctx)
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, domain.Validationf("product id is required")
	}

	existing, err := s.repo.GetProduct(ctx, actor.TenantID, productID)
	if err != nil {
		return domain.Product{}, fail("get product", err)
	}

	updated := *existing
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
	}
	if req.Price != nil {
		updated.Price = money.Round2(*req.Price)
	}
	if req.MinStock != nil {
		updated.MinStock = *req.MinStock
	}
	if req.RecommendedDiscountPercent != nil {
		updated.RecommendedDiscountPercent = *req.RecommendedDiscountPercent
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, fail("update product", err)
	}

	s.catalog.Invalidate(ctx, actor.TenantID)
	s.logAudit(ctx, "product_update", "product", saved.ID,
		fmt.Sprintf("active=%t,price=%s,min_stock=%d", saved.Active, saved.Price.StringFixed(2), saved.MinStock))
	return *saved, nil
}
