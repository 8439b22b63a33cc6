package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/cache"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/metrics"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/store"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/xid"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	// ErrForbidden never says which capability was missing.
	ErrForbidden = errors.New("permission denied")
)

const dashboardCachePrefix = "dashboard:"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache        cache.Cache
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Location     *time.Location
	DashboardTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
	Now        func() time.Time
}

type Service struct {
	repo         store.Repository
	cache        cache.Cache
	metrics      *metrics.Metrics
	log          *slog.Logger
	auditLog     *slog.Logger
	loc          *time.Location
	dashboardTTL time.Duration
	bcryptCost   int
	now          func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DashboardTTL <= 0 {
		opts.DashboardTTL = time.Minute
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Service{
		repo:         repo,
		cache:        opts.Cache,
		metrics:      opts.Metrics,
		log:          opts.Logger.With("component", "service"),
		auditLog:     opts.Logger.With("component", "audit"),
		loc:          opts.Location,
		dashboardTTL: opts.DashboardTTL,
		bcryptCost:   opts.BcryptCost,
		now:          opts.Now,
	}
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// authorize resolves the caller and checks one capability.
func (s *Service) authorize(ctx context.Context, module permission.Module, action permission.Action) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	if !permission.Allowed(actor.RoleName, actor.Permissions, module, action) {
		return actor, ErrForbidden
	}
	return actor, nil
}

// grant names one module action for authorizeAny.
type grant struct {
	module permission.Module
	action permission.Action
}

// authorizeAny passes when the actor holds at least one of grants.
func (s *Service) authorizeAny(ctx context.Context, grants ...grant) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID == "" {
		return domain.Actor{}, ErrUnauthenticated
	}
	for _, g := range grants {
		if permission.Allowed(actor.RoleName, actor.Permissions, g.module, g.action) {
			return actor, nil
		}
	}
	return actor, ErrForbidden
}

func isSuperAdmin(actor domain.Actor) bool {
	return actor.RoleName == permission.SuperAdminRole
}

// logAudit records an audit entry. Failures are logged and never returned.
func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ID:         xid.New("audit"),
		UserID:     actor.UserID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  s.clock(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.auditLog.Warn("failed to write audit log",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
	}
}

// invalidateDashboard drops every cached dashboard after a write that moves
// sales or stock.
func (s *Service) invalidateDashboard(ctx context.Context) {
	if err := s.cache.DeletePrefix(ctx, dashboardCachePrefix); err != nil {
		s.log.Warn("failed to invalidate dashboard cache", "error", err)
	}
}
