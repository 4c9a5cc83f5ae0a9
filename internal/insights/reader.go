package insights

import (
	"context"
	"fmt"
	"sync"

	"finsync/internal/aggregate"
	"finsync/internal/cache"
	"finsync/internal/core"
)

// AggregateSource returns the aggregate of a month, empty when none exists.
// *aggregate.Maintainer implements it.
type AggregateSource interface {
	Get(ctx context.Context, monthKey string) (aggregate.Monthly, error)
}

// BudgetSource lists the visible budgets.
type BudgetSource interface {
	List(ctx context.Context) ([]core.BudgetGoal, error)
}

// Reader serves monthly aggregates through a cache. Invalidate must be
// called after local mutations; the repositories' OnChange hook does it.
type Reader struct {
	aggregates AggregateSource
	budgets    BudgetSource
	cache      cache.Cache[aggregate.Monthly]

	// gen counts invalidations. A read fills the cache only if no
	// invalidation happened since it started.
	mu  sync.Mutex
	gen uint64
}

func NewReader(aggregates AggregateSource, budgets BudgetSource, c cache.Cache[aggregate.Monthly]) *Reader {
	return &Reader{aggregates: aggregates, budgets: budgets, cache: c}
}

// Monthly returns the aggregate of monthKey.
func (r *Reader) Monthly(ctx context.Context, monthKey string) (aggregate.Monthly, error) {
	if agg, ok := r.cache.Get(monthKey); ok {
		return agg.Clone(), nil
	}
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()

	agg, err := r.aggregates.Get(ctx, monthKey)
	if err != nil {
		return aggregate.Monthly{}, err
	}

	r.mu.Lock()
	if r.gen == gen {
		r.cache.Set(monthKey, agg.Clone())
	}
	r.mu.Unlock()
	return agg, nil
}

// Progress returns the budget progress of monthKey.
func (r *Reader) Progress(ctx context.Context, monthKey string) ([]core.BudgetProgress, error) {
	agg, err := r.Monthly(ctx, monthKey)
	if err != nil {
		return nil, err
	}
	budgets, err := r.budgets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return BudgetProgress(agg, budgets), nil
}

// Insights returns the advice for monthKey.
func (r *Reader) Insights(ctx context.Context, monthKey string) ([]Insight, error) {
	agg, err := r.Monthly(ctx, monthKey)
	if err != nil {
		return nil, err
	}
	budgets, err := r.budgets.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return Generate(agg, BudgetProgress(agg, budgets)), nil
}

// Invalidate drops every cached aggregate.
func (r *Reader) Invalidate(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	r.cache.Purge()
}
