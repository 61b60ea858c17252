package cache

import (
	"context"
	"time"

	"varejo/backend/internal/domain"
)

// CatalogCache keeps a short-lived copy of a tenant's product list.
type CatalogCache interface {
	Get(ctx context.Context, tenantID string) ([]domain.Product, bool, error)
	Set(ctx context.Context, tenantID string, products []domain.Product, ttl time.Duration) error
	Delete(ctx context.Context, tenantID string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) Delete(_ context.Context, _ string) error {
	return nil
}

func catalogKey(tenantID string) string {
	return "catalog:" + tenantID
}
