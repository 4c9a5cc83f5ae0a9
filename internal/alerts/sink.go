package alerts

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hashicorp/go-multierror"

	"finsync/internal/amqp"
	"finsync/internal/remote/rest"
)

// ErrNoUser is returned when an alert has no user to notify.
var ErrNoUser = errors.New("alert has no user id")

// Sink delivers one alert.
type Sink interface {
	Send(ctx context.Context, alert Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, alert Alert) error

func (f SinkFunc) Send(ctx context.Context, alert Alert) error { return f(ctx, alert) }

const budgetAlertsPath = "api/v1/budget-alerts"

// HTTPSink posts alerts to the risk service.
type HTTPSink struct {
	client *rest.Client
}

func NewHTTPSink(client *rest.Client) *HTTPSink {
	return &HTTPSink{client: client}
}

func (s *HTTPSink) Send(ctx context.Context, alert Alert) error {
	if strings.TrimSpace(alert.UserID) == "" {
		return ErrNoUser
	}
	return s.client.Do(ctx, http.MethodPost, budgetAlertsPath, alert, nil)
}

// Publisher is the slice of the AMQP client the sink needs.
type Publisher interface {
	PublishBudgetAlert(ctx context.Context, msg *amqp.BudgetAlertMessage) error
}

// AMQPSink publishes alerts to a message exchange.
type AMQPSink struct {
	publisher Publisher
}

func NewAMQPSink(publisher Publisher) *AMQPSink {
	return &AMQPSink{publisher: publisher}
}

func (s *AMQPSink) Send(ctx context.Context, alert Alert) error {
	if strings.TrimSpace(alert.UserID) == "" {
		return ErrNoUser
	}
	msg := amqp.NewBudgetAlertMessage(alert.UserID, alert.Category, alert.Level.String(),
		alert.Limit, alert.Spent, alert.Progress, alert.Threshold)
	return s.publisher.PublishBudgetAlert(ctx, msg)
}

// MultiSink sends to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, alert Alert) error {
	var result *multierror.Error
	for _, sink := range m {
		if err := sink.Send(ctx, alert); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
