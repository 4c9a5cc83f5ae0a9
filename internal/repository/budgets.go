package repository

import (
	"context"
	"fmt"
	"strings"

	"finsync/internal/alerts"
	"finsync/internal/core"
	"finsync/internal/log"
)

// BudgetRepository synchronizes budget goals and raises an alert whenever a
// category's spend escalates.
type BudgetRepository struct {
	*Repository[core.BudgetGoal]
	tracker *alerts.Tracker
	sink    alerts.Sink
	userID  func() string
}

// NewBudgetRepository builds the repository. sink may be nil, in which case
// escalations are tracked but not delivered. userID is read when an alert is
// sent.
func NewBudgetRepository(cfg Config[core.BudgetGoal], sink alerts.Sink, userID func() string) (*BudgetRepository, error) {
	if cfg.Kind == "" {
		cfg.Kind = "budgets"
	}
	repo, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if userID == nil {
		userID = func() string { return "" }
	}
	return &BudgetRepository{
		Repository: repo,
		tracker:    alerts.NewTracker(),
		sink:       sink,
		userID:     userID,
	}, nil
}

// TrackBudgetAlerts evaluates progress and sends one alert per category
// whose level rose. Delivery runs in the background; failures show up as a
// NetworkError state. It returns how many alerts were dispatched.
func (r *BudgetRepository) TrackBudgetAlerts(ctx context.Context, progress []core.BudgetProgress) int {
	escalations := r.tracker.Evaluate(progress)
	if r.sink == nil {
		return len(escalations)
	}

	for _, e := range escalations {
		name := fmt.Sprintf("alert %s %s", e.Progress.Category, e.Level)
		err := r.Go(name, func(ctx context.Context) error {
			return r.sendAlert(ctx, e)
		})
		if err != nil {
			r.logger.WarnContext(ctx, "Failed to schedule budget alert",
				log.FieldCategory, e.Progress.Category, log.FieldError, err)
		}
	}
	return len(escalations)
}

func (r *BudgetRepository) sendAlert(ctx context.Context, e alerts.Escalation) error {
	uid := strings.TrimSpace(r.userID())
	if uid == "" {
		r.setState(NetworkError, "no authenticated user to notify budget alert")
		return alerts.ErrNoUser
	}

	alert := alerts.NewAlert(uid, e.Progress, e.Level)
	if err := r.sink.Send(ctx, alert); err != nil {
		r.logger.WarnContext(ctx, "Budget alert delivery failed",
			log.NewFields().WithComponent(log.ComponentAlerts).WithOperation(log.OpAlert).WithError(err).ToSlice()...)
		r.setState(NetworkError, fmt.Sprintf("budget alert not delivered: %s", errorMessage(err)))
		return err
	}

	r.logger.InfoContext(ctx, "Budget alert sent",
		log.FieldOperation, log.OpAlert,
		log.FieldCategory, alert.Category,
		"level", e.Level.String(),
		"progress", alert.Progress)
	return nil
}

// AlertLevel returns the last level reported for category.
func (r *BudgetRepository) AlertLevel(category string) alerts.Level {
	return r.tracker.Level(category)
}

// ClearLocalData empties the table and forgets reported alerts.
func (r *BudgetRepository) ClearLocalData(ctx context.Context) error {
	r.tracker.Reset()
	return r.Repository.ClearLocalData(ctx)
}
