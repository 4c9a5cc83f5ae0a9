// Command finsync-alerts drains the budget alert queue. Each alert is
// logged and, when RISK_SERVICE_URL is set, relayed to the risk service.
package main

import (
	"context"
	"errors"
	"os"

	"finsync/internal/alerts"
	"finsync/internal/amqp"
	"finsync/internal/cli"
	"finsync/internal/log"
	"finsync/internal/remote/rest"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel, log.ComponentAlerts)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required to consume budget alerts")
		os.Exit(1)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPAlertRoutingKey)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	var relay alerts.Sink
	if cfg.RiskServiceURL != "" {
		relay = alerts.NewHTTPSink(rest.NewClient(cfg.RiskServiceURL, cfg.LedgerTimeout))
		logger.Info("Relaying budget alerts", "url", cfg.RiskServiceURL)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	handler := func(ctx context.Context, msg *amqp.BudgetAlertMessage) error {
		logger.InfoContext(ctx, "Budget alert",
			"user", msg.UserID,
			"category", msg.Category,
			"level", msg.Level,
			"progress", msg.Progress,
			"threshold", msg.Threshold)
		if relay == nil {
			return nil
		}
		return relay.Send(ctx, alerts.Alert{
			UserID:    msg.UserID,
			Category:  msg.Category,
			Limit:     msg.Limit,
			Spent:     msg.Spent,
			Progress:  msg.Progress,
			Threshold: msg.Threshold,
		})
	}

	logger.Info("Starting finsync-alerts", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPAlertRoutingKey)
	if err := client.ConsumeBudgetAlerts(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", "error", err)
		os.Exit(1)
	}
	logger.Info("finsync-alerts stopped")
}
