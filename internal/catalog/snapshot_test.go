package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"varejo/backend/internal/domain"
)

type countingSource struct {
	calls    int
	products []domain.Product
}

func (s *countingSource) ListProducts(_ context.Context, _ string) ([]domain.Product, error) {
	s.calls++
	return s.products, nil
}

type mapCache struct {
	entries map[string][]domain.Product
	failGet bool
}

func (c *mapCache) Get(_ context.Context, tenantID string) ([]domain.Product, bool, error) {
	if c.failGet {
		return nil, false, errors.New("redis down")
	}
	p, ok := c.entries[tenantID]
	return p, ok, nil
}

func (c *mapCache) Set(_ context.Context, tenantID string, products []domain.Product, _ time.Duration) error {
	c.entries[tenantID] = products
	return nil
}

func (c *mapCache) Delete(_ context.Context, tenantID string) error {
	delete(c.entries, tenantID)
	return nil
}

func sampleProducts() []domain.Product {
	return []domain.Product{
		{ID: "b", Name: "Feijão 1kg", Price: decimal.RequireFromString("8.49"), Stock: 3, Active: true},
		{ID: "a", Name: "Arroz 5kg", Price: decimal.RequireFromString("27.90"), Stock: 7, Active: true},
	}
}

func TestSnapshotOrdersByNameAndCopies(t *testing.T) {
	snap := New("t1", sampleProducts(), time.Now())

	products := snap.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "a", products[0].ID)

	products[0].Stock = 999
	p, ok := snap.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, 7, p.Stock)

	_, ok = snap.Lookup("zzz")
	assert.False(t, ok)
}

func TestLoaderUsesCacheUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	source := &countingSource{products: sampleProducts()}
	c := &mapCache{entries: map[string][]domain.Product{}}
	loader := NewLoader(source, c, time.Minute, nil)

	_, err := loader.Load(ctx, "t1")
	require.NoError(t, err)
	_, err = loader.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	loader.Invalidate(ctx, "t1")
	snap, err := loader.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)
	assert.Equal(t, "t1", snap.TenantID())
}

func TestLoaderFallsBackWhenCacheFails(t *testing.T) {
	source := &countingSource{products: sampleProducts()}
	loader := NewLoader(source, &mapCache{entries: map[string][]domain.Product{}, failGet: true}, time.Minute, nil)

	snap, err := loader.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, snap.Products(), 2)
	assert.Equal(t, 1, source.calls)
}
