// Package firestore is the document-store remote. Records live under
// users/{uid}/transactions and users/{uid}/budgets; monthly aggregates under
// users/{uid}/insights/monthly/monthly/{monthKey}.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	goption "google.golang.org/api/option"

	"finsync/internal/core"
)

type Config struct {
	ProjectID       string
	UserID          string
	CredentialsJSON string
	CredentialsFile string
}

// Backend owns the Firestore client and the per-user gateways.
type Backend struct {
	client *firestore.Client
	userID string

	Transactions *Gateway[core.Transaction]
	Budgets      *Gateway[core.BudgetGoal]
	Aggregates   *AggregateStore
}

// Open connects to Firestore. Credentials come from CredentialsJSON,
// CredentialsFile or GOOGLE_APPLICATION_CREDENTIALS, in that order; with
// none set the client falls back to application default credentials (or the
// emulator when FIRESTORE_EMULATOR_HOST is set).
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("missing firestore project id")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("missing firestore user id")
	}

	opts, err := clientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	b := NewBackend(client, cfg.UserID)
	slog.InfoContext(ctx, "Firestore backend ready", "project", cfg.ProjectID, "user", cfg.UserID)
	return b, nil
}

// NewBackend binds an existing client to one user.
func NewBackend(client *firestore.Client, userID string) *Backend {
	user := client.Collection("users").Doc(userID)
	aggregates := &AggregateStore{
		client: client,
		coll:   user.Collection("insights").Doc("monthly").Collection("monthly"),
	}
	return &Backend{
		client:       client,
		userID:       userID,
		Aggregates:   aggregates,
		Transactions: newGateway(client, user.Collection("transactions"), transactionCodec, aggregates.mirror()),
		Budgets:      newGateway[core.BudgetGoal](client, user.Collection("budgets"), budgetCodec, nil),
	}
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func clientOptions(ctx context.Context, cfg Config) ([]goption.ClientOption, error) {
	credentialsJSON := strings.TrimSpace(cfg.CredentialsJSON)
	credentialsFile := strings.TrimSpace(cfg.CredentialsFile)
	if credentialsJSON == "" && credentialsFile == "" {
		credentialsFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case credentialsJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []goption.ClientOption{goption.WithCredentialsJSON([]byte(credentialsJSON))}, nil
	case credentialsFile != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", credentialsFile)
		raw, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return []goption.ClientOption{goption.WithCredentialsJSON(raw)}, nil
	}
	slog.InfoContext(ctx, "No explicit credentials, using application default credentials")
	return nil, nil
}
