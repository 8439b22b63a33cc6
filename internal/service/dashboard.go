package service

import (
	"context"

	"github.com/crossnetg1-dev/cidpos-sub001/internal/analytics"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/domain"
	"github.com/crossnetg1-dev/cidpos-sub001/internal/permission"
)

// Dashboard returns the rollups for the current moment, served from cache
// when a fresh copy exists for today. Cache failures fall through to a
// recomputation.
func (s *Service) Dashboard(ctx context.Context) (analytics.Summary, error) {
	if _, err := s.authorize(ctx, permission.ModuleDashboard, permission.ActionView); err != nil {
		return analytics.Summary{}, err
	}

	now := s.clock()
	key := dashboardCachePrefix + now.In(s.loc).Format("2006-01-02")

	var cached analytics.Summary
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.log.Warn("dashboard cache read failed", "key", key, "error", err)
	}
	s.metrics.CacheLookup(hit)
	if hit {
		return cached, nil
	}

	from := analytics.WindowsFor(now, s.loc).Earliest()
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{
		From:      &from,
		Status:    domain.SaleCompleted,
		WithItems: true,
	})
	if err != nil {
		return analytics.Summary{}, err
	}
	lowStock, err := s.repo.ListProducts(ctx, domain.ProductFilter{LowStockOnly: true})
	if err != nil {
		return analytics.Summary{}, err
	}

	summary := analytics.Summarize(sales, now, s.loc)
	summary.LowStockCount = len(lowStock)

	if err := s.cache.Set(ctx, key, summary, s.dashboardTTL); err != nil {
		s.log.Warn("dashboard cache write failed", "key", key, "error", err)
	}
	return summary, nil
}
