package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/meshworks/backoffice/internal/collections"
	"github.com/meshworks/backoffice/internal/rbac"
)

// Source yields the records a summary is built from.
type Source interface {
	Leads(ctx context.Context) ([]collections.Lead, error)
	Expenses(ctx context.Context, kind collections.ExpenseKind) ([]collections.ExpenseEntry, error)
}

// RegistrySource reads dashboard inputs straight from the entity collections.
type RegistrySource struct {
	Registry *collections.Registry
}

// Leads returns every lead.
func (s RegistrySource) Leads(ctx context.Context) ([]collections.Lead, error) {
	return s.Registry.Leads.All(ctx, nil)
}

// Expenses returns the expense entries of one kind.
func (s RegistrySource) Expenses(ctx context.Context, kind collections.ExpenseKind) ([]collections.ExpenseEntry, error) {
	return s.Registry.Expenses.All(ctx, map[string]any{"kind": kind})
}

// Service builds and caches the dashboard summary.
type Service struct {
	source Source
	cache  *Cache
	group  singleflight.Group
	logger *slog.Logger
	clock  func() time.Time
}

// NewService constructs the dashboard service. cache may be nil.
func NewService(source Source, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: cache, logger: logger, clock: time.Now}
}

// Summary returns the dashboard for the current month.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	if _, err := rbac.RequireView(ctx, rbac.MenuDashboard); err != nil {
		return Summary{}, err
	}
	return s.summary(ctx)
}

// Warm populates the cache for the current month. It is run by background
// jobs and carries no principal.
func (s *Service) Warm(ctx context.Context) error {
	_, err := s.summary(ctx)
	return err
}

// Invalidate drops every cached summary. Collections call it after leads or
// expenses change.
func (s *Service) Invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("dashboard cache bump failed", slog.Any("error", err))
	}
}

func (s *Service) summary(ctx context.Context) (Summary, error) {
	asOf := s.clock()
	key, err := s.cache.BuildKey(ctx, "summary", asOf.Format("2006-01"))
	if err != nil {
		s.logger.Warn("dashboard cache unavailable", slog.Any("error", err))
		return s.build(ctx, asOf)
	}

	ch := s.group.DoChan(key, func() (any, error) {
		var out Summary
		err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
			return s.build(ctx, asOf)
		})
		return out, err
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Summary{}, res.Err
		}
		return res.Val.(Summary), nil
	}
}

func (s *Service) build(ctx context.Context, asOf time.Time) (Summary, error) {
	var in Inputs
	var daily, monthly []collections.ExpenseEntry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		in.Leads, err = s.source.Leads(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		in.Assets, err = s.source.Expenses(gctx, collections.ExpenseAsset)
		return err
	})
	g.Go(func() error {
		var err error
		daily, err = s.source.Expenses(gctx, collections.ExpenseDaily)
		return err
	})
	g.Go(func() error {
		var err error
		monthly, err = s.source.Expenses(gctx, collections.ExpenseMonthly)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("dashboard: load inputs: %w", err)
	}
	in.Expenses = append(daily, monthly...)
	return Build(in, asOf), nil
}
