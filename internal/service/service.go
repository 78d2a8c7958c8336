package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"laybyku/backend/internal/cache"
	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/logger"
	"laybyku/backend/internal/store"
	"laybyku/backend/internal/xid"
)

// ErrForbidden is returned when the actor's role does not allow the call.
var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo           store.Repository
	dashboards     cache.DashboardCache
	dashboardTTL   time.Duration
	log            *logger.Logger
	now            func() time.Time
	defaultStoreID string
}

type Option func(*Service)

func WithLogger(log *logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides time.Now. Tests use it to step past due dates.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithDashboardTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.dashboardTTL = ttl
		}
	}
}

func New(repo store.Repository, dashboards cache.DashboardCache, defaultStoreID string, opts ...Option) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	if dashboards == nil {
		dashboards = cache.NoopDashboardCache{}
	}

	s := &Service{
		repo:           repo,
		dashboards:     dashboards,
		dashboardTTL:   30 * time.Second,
		log:            logger.Nop(),
		now:            time.Now,
		defaultStoreID: defaultStoreID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) DefaultStoreID() string {
	return s.defaultStoreID
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// GetSettings returns the actor's store settings, creating the defaults on
// first use.
func (s *Service) GetSettings(ctx context.Context) (domain.LaybySettings, error) {
	settings, err := s.settingsFor(ctx, s.storeFor(ctx))
	if err != nil {
		return domain.LaybySettings{}, err
	}
	return *settings, nil
}

func (s *Service) SaveSettings(ctx context.Context, req domain.LaybySettings) (domain.LaybySettings, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.LaybySettings{}, err
	}
	if err := validateSettings(req); err != nil {
		return domain.LaybySettings{}, err
	}

	storeID := s.storeFor(ctx)
	req.StoreID = storeID
	req.UpdatedAt = s.now().UTC()

	saved, err := s.repo.UpsertLaybySettings(ctx, req)
	if err != nil {
		return domain.LaybySettings{}, err
	}

	s.logAudit(ctx, storeID, "layby_settings_update", "layby_settings", storeID, fmt.Sprintf(
		"interest=%.2f%% grace=%dd deposit=%.2f%% max_days=%d reminders=%t fee=%.2f%%",
		saved.DefaultInterestRatePercent,
		saved.OverdueGracePeriodDays,
		saved.RequireDepositPercent,
		saved.MaxLaybyDurationDays,
		saved.AutomaticRemindersEnabled,
		saved.DefaultCancellationFeePercent,
	))
	return *saved, nil
}

func (s *Service) settingsFor(ctx context.Context, storeID string) (*domain.LaybySettings, error) {
	settings, err := s.repo.GetLaybySettings(ctx, storeID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return s.repo.InitializeLaybySettings(ctx, storeID)
}

func validateSettings(settings domain.LaybySettings) error {
	percents := []float64{
		settings.DefaultInterestRatePercent,
		settings.RequireDepositPercent,
		settings.DefaultCancellationFeePercent,
	}
	for _, value := range percents {
		if value < 0 || value > 100 {
			return fmt.Errorf("%w: percent must be between 0 and 100", store.ErrInvalidTransaction)
		}
	}
	if settings.MaxLaybyDurationDays < 1 || settings.MaxLaybyDurationDays > 365 {
		return fmt.Errorf("%w: max_layby_duration_days must be between 1 and 365", store.ErrInvalidTransaction)
	}
	if settings.ReminderIntervalDays < 1 || settings.ReminderIntervalDays > 365 {
		return fmt.Errorf("%w: reminder_interval_days must be between 1 and 365", store.ErrInvalidTransaction)
	}
	// Zero grace means overdue the day after the due date.
	if settings.OverdueGracePeriodDays < 0 || settings.OverdueGracePeriodDays > 365 {
		return fmt.Errorf("%w: overdue_grace_period_days must be between 0 and 365", store.ErrInvalidTransaction)
	}
	if settings.MaxReminderCount < 0 || settings.MaxReminderCount > 50 {
		return fmt.Errorf("%w: max_reminder_count must be between 0 and 50", store.ErrInvalidTransaction)
	}
	return nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	storeID := s.storeFor(ctx)
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidTransaction
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

// storeFor scopes every call to the actor's store. Background callers
// without an actor fall back to the default store.
func (s *Service) storeFor(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.StoreID != "" {
		return actor.StoreID
	}
	return s.defaultStoreID
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		auditCtx := s.log.WithFields(ctx, map[string]any{
			"action": action,
			"entity": entityType + "/" + entityID,
			"error":  err.Error(),
		})
		s.log.Warn(auditCtx, "failed to write audit log")
	}
}

func (s *Service) invalidateDashboard(ctx context.Context, storeID string) {
	if err := s.dashboards.Invalidate(ctx, storeID); err != nil {
		s.log.Warn(s.log.WithField(ctx, "error", err.Error()), "dashboard cache invalidate failed")
	}
}

func ValidateStoreID(storeID string) error {
	if storeID == "" {
		return fmt.Errorf("store_id is required")
	}
	return nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case "cash", "card", "qris", "ewallet", "bank_transfer":
		return true
	default:
		return false
	}
}

// normalizePaymentMethod lowercases the method and enforces that anything
// other than cash carries a reference.
func normalizePaymentMethod(method string, reference string) (string, string, error) {
	method = strings.ToLower(strings.TrimSpace(defaultString(method, "cash")))
	reference = strings.TrimSpace(reference)
	if !isSupportedPaymentMethod(method) {
		return "", "", fmt.Errorf("%w: unsupported payment method %q", store.ErrInvalidTransaction, method)
	}
	if method != "cash" && reference == "" {
		return "", "", fmt.Errorf("%w: reference required for %s payments", store.ErrInvalidTransaction, method)
	}
	return method, reference, nil
}

// AuthorizeStore confirms the actor may act on the store named in their
// token. It runs once per request.
func (s *Service) AuthorizeStore(ctx context.Context, actor domain.Actor) error {
	if actor.Username == "" || actor.StoreID == "" {
		return fmt.Errorf("%w: token carries no store", ErrForbidden)
	}
	allowed, err := s.repo.HasStoreAccess(ctx, actor.Username, actor.StoreID)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("%w: no access to store %s", ErrForbidden, actor.StoreID)
	}
	return nil
}
