package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"finsync/internal/amqp"
	"finsync/internal/core"
	"finsync/internal/remote/rest"
)

func progressAt(category string, ratio float64) core.BudgetProgress {
	return core.BudgetProgress{
		Category:   category,
		LimitCents: 10000,
		SpentCents: int64(math.Round(ratio * 10000)),
	}
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		ratio float64
		want  Level
	}{
		{0, LevelNone},
		{0.7499, LevelNone},
		{0.75, LevelWarning},
		{0.99, LevelWarning},
		{1.0, LevelCritical},
		{3.2, LevelCritical},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.ratio); got != tt.want {
			t.Errorf("LevelFor(%v) = %v, want %v", tt.ratio, got, tt.want)
		}
	}
}

func TestTrackerFiresOncePerEscalation(t *testing.T) {
	tracker := NewTracker()
	var fired []Level
	for _, ratio := range []float64{0.5, 0.8, 0.95, 1.2, 0.4} {
		for _, e := range tracker.Evaluate([]core.BudgetProgress{progressAt("Social", ratio)}) {
			fired = append(fired, e.Level)
		}
	}

	if len(fired) != 2 {
		t.Fatalf("got %d alerts, want 2: %v", len(fired), fired)
	}
	if fired[0] != LevelWarning || fired[1] != LevelCritical {
		t.Errorf("fired = %v, want [WARNING CRITICAL]", fired)
	}
	if tracker.Level("Social") != LevelNone {
		t.Errorf("category should be forgotten after dropping below warning")
	}
}

func TestTrackerRefiresAfterReset(t *testing.T) {
	tracker := NewTracker()
	tracker.Evaluate([]core.BudgetProgress{progressAt("Social", 0.8)})
	tracker.Evaluate([]core.BudgetProgress{progressAt("Social", 0.1)})

	got := tracker.Evaluate([]core.BudgetProgress{progressAt("Social", 0.8)})
	if len(got) != 1 {
		t.Fatalf("got %d alerts after falling back, want 1", len(got))
	}
}

func TestTrackerForgetsInactiveCategories(t *testing.T) {
	tracker := NewTracker()
	tracker.Evaluate([]core.BudgetProgress{progressAt("Social", 0.9), progressAt("Alimentos", 0.9)})

	tracker.Evaluate([]core.BudgetProgress{progressAt("Alimentos", 0.9)})
	if tracker.Level("Social") != LevelNone {
		t.Fatal("Social should be forgotten once it leaves the active set")
	}
	if tracker.Level("Alimentos") != LevelWarning {
		t.Fatal("Alimentos should keep its level")
	}

	got := tracker.Evaluate([]core.BudgetProgress{progressAt("Social", 0.9), progressAt("Alimentos", 0.9)})
	if len(got) != 1 || got[0].Progress.Category != "Social" {
		t.Fatalf("got %+v, want a single Social alert", got)
	}
}

func TestTrackerNoDowngradeAlert(t *testing.T) {
	tracker := NewTracker()
	tracker.Evaluate([]core.BudgetProgress{progressAt("Social", 1.1)})

	if got := tracker.Evaluate([]core.BudgetProgress{progressAt("Social", 0.8)}); len(got) != 0 {
		t.Fatalf("dropping to warning should not alert, got %+v", got)
	}
	if tracker.Level("Social") != LevelCritical {
		t.Errorf("level = %v, want CRITICAL", tracker.Level("Social"))
	}
}

func TestNewAlert(t *testing.T) {
	p := core.BudgetProgress{Category: "Alimentos", LimitCents: 30000, SpentCents: 24000}
	alert := NewAlert("user-1", p, LevelWarning)

	if alert.Limit != 300 || alert.Spent != 240 {
		t.Errorf("limit/spent = %v/%v, want 300/240", alert.Limit, alert.Spent)
	}
	if alert.Progress != 0.8 {
		t.Errorf("progress = %v, want 0.8", alert.Progress)
	}
	if alert.Threshold != 0.75 {
		t.Errorf("threshold = %v, want 0.75", alert.Threshold)
	}
	if NewAlert("user-1", p, LevelCritical).Threshold != 1.0 {
		t.Error("critical threshold should be 1.0")
	}
}

func TestHTTPSink(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/budget-alerts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := NewHTTPSink(rest.NewClient(server.URL, time.Second))
	alert := NewAlert("user-1", progressAt("Social", 1.2), LevelCritical)
	if err := sink.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	for _, key := range []string{"user_id", "category", "limit", "spent", "progress", "threshold"} {
		if _, ok := got[key]; !ok {
			t.Errorf("payload missing %q: %v", key, got)
		}
	}
	if got["threshold"] != 1.0 {
		t.Errorf("threshold = %v, want 1", got["threshold"])
	}
}

func TestHTTPSinkRejectsBlankUser(t *testing.T) {
	sink := NewHTTPSink(rest.NewClient("http://127.0.0.1:1", time.Second))
	err := sink.Send(context.Background(), NewAlert("  ", progressAt("Social", 1.2), LevelCritical))
	if !errors.Is(err, ErrNoUser) {
		t.Fatalf("err = %v, want ErrNoUser", err)
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []*amqp.BudgetAlertMessage
	err  error
}

func (p *fakePublisher) PublishBudgetAlert(_ context.Context, msg *amqp.BudgetAlertMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestAMQPSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewAMQPSink(pub)

	if err := sink.Send(context.Background(), NewAlert("user-1", progressAt("Social", 0.8), LevelWarning)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Level != "WARNING" || msg.Category != "Social" || msg.Threshold != 0.75 {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestMultiSinkJoinsErrors(t *testing.T) {
	var delivered int
	ok := SinkFunc(func(context.Context, Alert) error { delivered++; return nil })
	failA := SinkFunc(func(context.Context, Alert) error { return errors.New("risk down") })
	failB := NewAMQPSink(&fakePublisher{err: errors.New("broker down")})

	err := MultiSink{failA, ok, failB}.Send(context.Background(), NewAlert("user-1", progressAt("Social", 1), LevelCritical))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if delivered != 1 {
		t.Errorf("healthy sink delivered %d times, want 1", delivered)
	}
	for _, want := range []string{"risk down", "broker down"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}

	if err := (MultiSink{ok}).Send(context.Background(), Alert{UserID: "u"}); err != nil {
		t.Errorf("all-healthy MultiSink error = %v", err)
	}
}
