package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"finsync/internal/core"
	"finsync/internal/remote"
)

// Gateway implements remote.Gateway for one REST collection.
type Gateway[T core.Record[T]] struct {
	client *Client
	path   string
	encode func(T) any
	decode func(json.RawMessage) (T, error)
}

var (
	_ remote.Gateway[core.Transaction] = (*Gateway[core.Transaction])(nil)
	_ remote.Gateway[core.BudgetGoal]  = (*Gateway[core.BudgetGoal])(nil)
)

// NewTransactionGateway serves /api/transactions.
func NewTransactionGateway(c *Client) *Gateway[core.Transaction] {
	return &Gateway[core.Transaction]{
		client: c,
		path:   "api/transactions",
		encode: func(t core.Transaction) any { return transactionToDTO(t) },
		decode: decodeAs(transactionFromDTO),
	}
}

// NewBudgetGateway serves /api/budgets.
func NewBudgetGateway(c *Client) *Gateway[core.BudgetGoal] {
	return &Gateway[core.BudgetGoal]{
		client: c,
		path:   "api/budgets",
		encode: func(b core.BudgetGoal) any { return budgetToDTO(b) },
		decode: decodeAs(budgetFromDTO),
	}
}

func (g *Gateway[T]) Download(ctx context.Context) ([]T, error) {
	var raw []json.RawMessage
	if err := g.client.Do(ctx, "GET", g.path, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, item := range raw {
		rec, err := g.decode(item)
		if err != nil {
			return nil, remote.Fail("GET "+g.path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Upsert POSTs records the ledger has never acknowledged and PUTs the rest.
// A POST carries no id and must be answered with the ledger's id. A PUT with
// an empty response echoes rec.
func (g *Gateway[T]) Upsert(ctx context.Context, rec T) (T, error) {
	var (
		zero   T
		method = "PUT"
		path   = g.path + "/" + strconv.FormatInt(rec.RecordID(), 10)
		body   = g.encode(rec)
	)
	post := !rec.State().RemoteAcked || rec.RecordID() <= 0
	if post {
		method = "POST"
		path = g.path
		body = g.encode(rec.WithID(0))
	}

	var raw json.RawMessage
	if err := g.client.Do(ctx, method, path, body, &raw); err != nil {
		return zero, err
	}

	acked := core.SyncState{Status: core.Synced, RemoteAcked: true}
	if len(raw) == 0 || string(raw) == "null" {
		if post {
			return zero, remote.Failf(method+" "+path, "response carries no id")
		}
		return rec.WithState(acked), nil
	}
	stored, err := g.decode(raw)
	if err != nil {
		return zero, remote.Fail(method+" "+path, err)
	}
	if stored.RecordID() <= 0 {
		if post {
			return zero, remote.Failf(method+" "+path, "response carries no id")
		}
		stored = stored.WithID(rec.RecordID())
	}
	return stored.WithState(acked), nil
}

// Delete treats 404 as success.
func (g *Gateway[T]) Delete(ctx context.Context, id int64) error {
	err := g.client.Do(ctx, "DELETE", g.path+"/"+strconv.FormatInt(id, 10), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func decodeAs[D any, T any](conv func(D) (T, error)) func(json.RawMessage) (T, error) {
	return func(raw json.RawMessage) (T, error) {
		var dto D
		if err := json.Unmarshal(raw, &dto); err != nil {
			var zero T
			return zero, fmt.Errorf("decode record: %w", err)
		}
		return conv(dto)
	}
}
