package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"varejo/backend/internal/catalog"
	"varejo/backend/internal/domain"
	"varejo/backend/internal/logger"
	"varejo/backend/internal/storage"
	"varejo/backend/internal/store"
	"varejo/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultTenantID string
	ReceiptHeader   string
	ReceiptFooter   string
	// Location is used to print receipt dates. Defaults to time.Local.
	Location *time.Location
}

type Service struct {
	repo    store.Repository
	catalog *catalog.Loader
	objects storage.ObjectStorage
	logger  *zap.Logger
	opts    Options
	now     func() time.Time
}

func New(repo store.Repository, loader *catalog.Loader, objects storage.ObjectStorage, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if loader == nil {
		loader = catalog.NewLoader(repo, nil, 0, log)
	}
	if objects == nil {
		objects = storage.NoopStorage{}
	}
	if opts.DefaultTenantID == "" {
		opts.DefaultTenantID = "default"
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	return &Service{
		repo:    repo,
		catalog: loader,
		objects: objects,
		logger:  log,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// actor resolves the caller and its tenant. Calls without an authenticated
// actor run as "system" in the default tenant.
func (s *Service) actor(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	if actor.TenantID == "" {
		actor.TenantID = s.opts.DefaultTenantID
	}
	return actor
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logger.FromContext(ctx, s.logger)
}

// fail passes domain errors through and wraps anything else coming from the
// backend as a retryable persistence error.
func fail(op string, err error) error {
	if err == nil || domain.IsBusinessError(err) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := s.actor(ctx)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		TenantID:      actor.TenantID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log(ctx).Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}

// ListAuditLogs returns one UTC day of audit entries. An empty date means the
// last 24 hours.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	now := s.now()
	from, to := now.Add(-24*time.Hour), now.Add(time.Second)
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return nil, domain.Validationf("date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}

	logs, err := s.repo.ListAuditLogs(ctx, s.actor(ctx).TenantID, from, to, limit)
	return logs, fail("list audit logs", err)
}
