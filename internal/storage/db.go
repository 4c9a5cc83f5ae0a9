// Package storage is the durable local cache: SQLite tables for
// transactions, budgets and the monthly aggregate mirror.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"finsync/internal/core"

	_ "modernc.org/sqlite"
)

// Fault is a local storage failure. It matches core.ErrStorageFault with
// errors.Is and unwraps to the driver error.
type Fault struct {
	Op  string
	Err error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("storage %s: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

func (f *Fault) Is(target error) bool { return target == core.ErrStorageFault }

func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	return &Fault{Op: op, Err: err}
}

// DB owns the SQLite handle and the per-kind stores built on it.
type DB struct {
	db *sql.DB

	Transactions *Store[core.Transaction]
	Budgets      *Store[core.BudgetGoal]
	Aggregates   *AggregateStore
}

// Open creates (if needed) and migrates the database at dbPath.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes writers; observers are notified after commit.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	aggregates := &AggregateStore{db: db}
	s := &DB{
		db:           db,
		Aggregates:   aggregates,
		Transactions: newStore(db, transactionCodec, aggregates.mirror()),
		Budgets:      newStore[core.BudgetGoal](db, budgetCodec, nil),
	}

	slog.Info("Local store ready", "path", dbPath)
	return s, nil
}

// Ping reports whether the database is reachable.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops every observer and closes the database.
func (s *DB) Close() error {
	s.Transactions.closeObservers()
	s.Budgets.closeObservers()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
