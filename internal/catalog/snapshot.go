// Package catalog builds the read-only product view that feeds the cart.
package catalog

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"varejo/backend/internal/cache"
	"varejo/backend/internal/domain"
)

// Snapshot is immutable once built. Its stock figures are advisory.
type Snapshot struct {
	tenantID string
	takenAt  time.Time
	byID     map[string]domain.Product
	ordered  []domain.Product
}

func New(tenantID string, products []domain.Product, takenAt time.Time) *Snapshot {
	ordered := make([]domain.Product, len(products))
	copy(ordered, products)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Name != ordered[j].Name {
			return ordered[i].Name < ordered[j].Name
		}
		return ordered[i].ID < ordered[j].ID
	})

	byID := make(map[string]domain.Product, len(ordered))
	for _, p := range ordered {
		byID[p.ID] = p
	}
	return &Snapshot{tenantID: tenantID, takenAt: takenAt, byID: byID, ordered: ordered}
}

func (s *Snapshot) Lookup(productID string) (domain.Product, bool) {
	p, ok := s.byID[productID]
	return p, ok
}

func (s *Snapshot) Products() []domain.Product {
	out := make([]domain.Product, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func (s *Snapshot) TenantID() string { return s.tenantID }

func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

type ProductSource interface {
	ListProducts(ctx context.Context, tenantID string) ([]domain.Product, error)
}

// Loader builds snapshots, going through the cache when one is configured.
// Cache failures are logged and fall through to the source.
type Loader struct {
	source ProductSource
	cache  cache.CatalogCache
	ttl    time.Duration
	logger *zap.Logger
}

func NewLoader(source ProductSource, c cache.CatalogCache, ttl time.Duration, logger *zap.Logger) *Loader {
	if c == nil {
		c = cache.NoopCatalogCache{}
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{source: source, cache: c, ttl: ttl, logger: logger}
}

func (l *Loader) Load(ctx context.Context, tenantID string) (*Snapshot, error) {
	products, hit, err := l.cache.Get(ctx, tenantID)
	if err != nil {
		l.logger.Warn("catalog cache read failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if hit {
		return New(tenantID, products, time.Now().UTC()), nil
	}
	return l.LoadFresh(ctx, tenantID)
}

// LoadFresh bypasses the cache and refreshes it.
func (l *Loader) LoadFresh(ctx context.Context, tenantID string) (*Snapshot, error) {
	products, err := l.source.ListProducts(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := l.cache.Set(ctx, tenantID, products, l.ttl); err != nil {
		l.logger.Warn("catalog cache write failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	return New(tenantID, products, time.Now().UTC()), nil
}

func (l *Loader) Invalidate(ctx context.Context, tenantID string) {
	if err := l.cache.Delete(ctx, tenantID); err != nil {
		l.logger.Warn("catalog cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
