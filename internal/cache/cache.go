package cache

import (
	"context"
	"time"

	"laybyku/backend/internal/domain"
)

// DashboardCache holds the per-store dashboard summary for a short TTL.
type DashboardCache interface {
	Get(ctx context.Context, storeID string) (*domain.DashboardSummary, bool, error)
	Set(ctx context.Context, storeID string, value *domain.DashboardSummary, ttl time.Duration) error
	Invalidate(ctx context.Context, storeID string) error
}

type NoopDashboardCache struct{}

func (NoopDashboardCache) Get(_ context.Context, _ string) (*domain.DashboardSummary, bool, error) {
	return nil, false, nil
}

func (NoopDashboardCache) Set(_ context.Context, _ string, _ *domain.DashboardSummary, _ time.Duration) error {
	return nil
}

func (NoopDashboardCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func dashboardKey(storeID string) string {
	return "layby:dashboard:" + storeID
}
