// Package services ties the repositories, insights and alerts together and
// runs the periodic sync loop.
package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"finsync/internal/core"
	"finsync/internal/insights"
	"finsync/internal/repository"
)

// FinanceService is the facade the daemon and the ops surface use.
type FinanceService struct {
	transactions *repository.TransactionRepository
	budgets      *repository.BudgetRepository
	reader       *insights.Reader
	closers      []io.Closer
	now          func() time.Time
}

func NewFinanceService(transactions *repository.TransactionRepository, budgets *repository.BudgetRepository, reader *insights.Reader) *FinanceService {
	s := &FinanceService{
		transactions: transactions,
		budgets:      budgets,
		reader:       reader,
		now:          time.Now,
	}
	transactions.OnChange(s.localChanged)
	budgets.OnChange(s.localChanged)
	return s
}

// localChanged drops cached aggregates and re-evaluates budget alerts, so a
// write that crosses a threshold alerts without waiting for a refresh.
func (s *FinanceService) localChanged(ctx context.Context) {
	s.reader.Invalidate(ctx)
	if _, err := s.RecomputeAlerts(ctx); err != nil {
		slog.WarnContext(ctx, "Budget alert evaluation failed", "error", err)
	}
}

// AddCloser registers a resource released by Close after the repositories.
// Closers run in registration order.
func (s *FinanceService) AddCloser(c io.Closer) {
	s.closers = append(s.closers, c)
}

func (s *FinanceService) Transactions() *repository.TransactionRepository { return s.transactions }

func (s *FinanceService) Budgets() *repository.BudgetRepository { return s.budgets }

// Bootstrap brings the aggregate mirror in line with the local rows and runs
// a first refresh, which seeds defaults on an empty account.
func (s *FinanceService) Bootstrap(ctx context.Context) error {
	if err := s.transactions.RebuildAggregates(ctx); err != nil {
		return fmt.Errorf("rebuild aggregates: %w", err)
	}
	s.reader.Invalidate(ctx)
	return s.RefreshAll(ctx)
}

// RefreshAll refreshes both repositories concurrently and re-evaluates
// budget alerts. Only local storage faults are returned.
func (s *FinanceService) RefreshAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.transactions.RefreshFromRemote(gctx) })
	g.Go(func() error { return s.budgets.RefreshFromRemote(gctx) })
	if err := g.Wait(); err != nil {
		return err
	}

	if _, err := s.RecomputeAlerts(ctx); err != nil {
		return fmt.Errorf("recompute alerts: %w", err)
	}
	return nil
}

// RecomputeAlerts evaluates the current month's budgets and dispatches an
// alert per escalated category. It returns how many were dispatched.
func (s *FinanceService) RecomputeAlerts(ctx context.Context) (int, error) {
	progress, err := s.reader.Progress(ctx, s.currentMonth())
	if err != nil {
		return 0, err
	}
	return s.budgets.TrackBudgetAlerts(ctx, progress), nil
}

// Insights returns the advice for monthKey, or for the current month when
// monthKey is empty.
func (s *FinanceService) Insights(ctx context.Context, monthKey string) ([]insights.Insight, error) {
	if monthKey == "" {
		monthKey = s.currentMonth()
	}
	return s.reader.Insights(ctx, monthKey)
}

// Progress returns the budget progress of monthKey, or of the current month
// when monthKey is empty.
func (s *FinanceService) Progress(ctx context.Context, monthKey string) ([]core.BudgetProgress, error) {
	if monthKey == "" {
		monthKey = s.currentMonth()
	}
	return s.reader.Progress(ctx, monthKey)
}

// NetworkStates returns the latest remote state per record kind.
func (s *FinanceService) NetworkStates() map[string]repository.NetworkState {
	return map[string]repository.NetworkState{
		s.transactions.Kind(): s.transactions.NetworkState(),
		s.budgets.Kind():      s.budgets.NetworkState(),
	}
}

// SignOut drops every local record and aggregate. Remote data is kept.
func (s *FinanceService) SignOut(ctx context.Context) error {
	var result *multierror.Error
	if err := s.transactions.ClearLocalData(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear transactions: %w", err))
	}
	if err := s.budgets.ClearLocalData(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("clear budgets: %w", err))
	}
	s.reader.Invalidate(ctx)

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Local data cleared")
	return nil
}

// Close stops both repositories, then releases registered resources.
func (s *FinanceService) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := s.transactions.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("transactions: %w", err))
	}
	if err := s.budgets.Close(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("budgets: %w", err))
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *FinanceService) currentMonth() string {
	return s.now().Format("2006-01")
}
