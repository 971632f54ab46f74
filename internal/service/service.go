package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"bloompos/backend/internal/domain"
	"bloompos/backend/internal/lock"
	"bloompos/backend/internal/settlement"
	"bloompos/backend/internal/store"
	"bloompos/backend/internal/xid"
)

const instrumentationName = "bloompos/backend/internal/service"

const (
	DefaultLockTimeout = 3 * time.Second
	DefaultWarningDays = 2
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
	Policy      settlement.Policy
	LockTimeout time.Duration
	WarningDays *int // nil means DefaultWarningDays
	Logger      *slog.Logger
	Now         func() time.Time
}

type Service struct {
	repo        store.Repository
	locker      lock.Locker
	policy      settlement.Policy
	lockTimeout time.Duration
	warningDays int
	logger      *slog.Logger
	now         func() time.Time

	tracer      trace.Tracer
	settlements metric.Int64Counter
	depletions  metric.Int64Counter
}

func New(repo store.Repository, locker lock.Locker, opts Options) *Service {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if opts.Policy.DownpaymentMinimum.IsZero() {
		opts.Policy = settlement.DefaultPolicy()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	warningDays := DefaultWarningDays
	if opts.WarningDays != nil && *opts.WarningDays >= 0 {
		warningDays = *opts.WarningDays
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	logger := opts.Logger.With("component", "service")
	meter := otel.Meter(instrumentationName)
	settlements, err := meter.Int64Counter("bloompos.settlements",
		metric.WithDescription("Payment attempts by outcome"))
	if err != nil {
		logger.Warn("settlement counter unavailable", "error", err)
		settlements = noop.Int64Counter{}
	}
	depletions, err := meter.Int64Counter("bloompos.stock.depleted_units",
		metric.WithDescription("Units consumed from stock batches by settled orders"))
	if err != nil {
		logger.Warn("depletion counter unavailable", "error", err)
		depletions = noop.Int64Counter{}
	}

	return &Service{
		repo:        repo,
		locker:      locker,
		policy:      opts.Policy,
		lockTimeout: opts.LockTimeout,
		warningDays: warningDays,
		logger:      logger,
		now:         opts.Now,
		tracer:      otel.Tracer(instrumentationName),
		settlements: settlements,
		depletions:  depletions,
	}
}

func (s *Service) WarningDays() int {
	return s.warningDays
}

func (s *Service) lockOrder(ctx context.Context, orderID string) (lock.Unlock, error) {
	return lock.Acquire(ctx, s.locker, s.lockTimeout, lock.OrderKey(orderID))
}

func (s *Service) lockProducts(ctx context.Context, productIDs []string) (lock.Unlock, error) {
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, lock.ProductKey(id))
	}
	return lock.Acquire(ctx, s.locker, s.lockTimeout, keys...)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.ErrForbidden
	}
	return nil
}

func failSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind := domain.ErrorKind(err); kind != "" {
		span.SetAttributes(attribute.String("error.kind", kind))
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to write audit log",
			"action", action, "entity", fmt.Sprintf("%s/%s", entityType, entityID), "error", err)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, entityID string, limit int) ([]domain.AuditLog, error) {
	return s.repo.ListAuditLogs(ctx, entityID, limit)
}
