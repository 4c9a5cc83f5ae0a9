// Package alerts decides when a budget category crosses an alert level and
// delivers the resulting notification.
package alerts

import (
	"sync"

	"finsync/internal/core"
)

// Level orders alert severity. Higher values are more severe.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelCritical
)

const (
	WarningThreshold  = 0.75
	CriticalThreshold = 1.0
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "WARNING"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "NONE"
	}
}

// Threshold is the ratio reported alongside an alert of level l.
func (l Level) Threshold() float64 {
	if l == LevelCritical {
		return CriticalThreshold
	}
	return WarningThreshold
}

// LevelFor maps a spent/limit ratio to its alert level.
func LevelFor(ratio float64) Level {
	switch {
	case ratio >= CriticalThreshold:
		return LevelCritical
	case ratio >= WarningThreshold:
		return LevelWarning
	default:
		return LevelNone
	}
}

// Alert is the outbound notification for one escalation.
type Alert struct {
	UserID    string  `json:"user_id"`
	Category  string  `json:"category"`
	Limit     float64 `json:"limit"`
	Spent     float64 `json:"spent"`
	Progress  float64 `json:"progress"`
	Threshold float64 `json:"threshold"`
	Level     Level   `json:"-"`
}

// NewAlert builds the payload for progress escalating to level.
func NewAlert(userID string, progress core.BudgetProgress, level Level) Alert {
	return Alert{
		UserID:    userID,
		Category:  progress.Category,
		Limit:     core.ToAmount(progress.LimitCents),
		Spent:     core.ToAmount(progress.SpentCents),
		Progress:  progress.Ratio(),
		Threshold: level.Threshold(),
		Level:     level,
	}
}

// Escalation is a category whose level rose during Evaluate.
type Escalation struct {
	Progress core.BudgetProgress
	Level    Level
}

// Tracker remembers the highest level already reported per category. It is
// safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	triggered map[string]Level
}

func NewTracker() *Tracker {
	return &Tracker{triggered: make(map[string]Level)}
}

// Evaluate records the current progress and returns the categories that
// escalated since the last call. Categories missing from progress are
// forgotten, as are categories that dropped back to LevelNone, so a later
// rise fires again.
func (t *Tracker) Evaluate(progress []core.BudgetProgress) []Escalation {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := make(map[string]struct{}, len(progress))
	for _, p := range progress {
		active[p.Category] = struct{}{}
	}
	for category := range t.triggered {
		if _, ok := active[category]; !ok {
			delete(t.triggered, category)
		}
	}

	var out []Escalation
	for _, p := range progress {
		current := LevelFor(p.Ratio())
		previous := t.triggered[p.Category]
		switch {
		case current > previous:
			t.triggered[p.Category] = current
			out = append(out, Escalation{Progress: p, Level: current})
		case current == LevelNone:
			delete(t.triggered, p.Category)
		}
	}
	return out
}

// Level returns the last level reported for category.
func (t *Tracker) Level(category string) Level {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.triggered[category]
}

// Reset forgets every category.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.triggered)
}
