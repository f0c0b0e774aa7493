package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/mybillbook/reconciler/internal/domain/ledger"
)

// Storage provides SQLite database access for the reconciliation ledger.
// It implements the Repository interface.
type Storage struct {
	queries
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement. Bound to the database for plain calls and to a
// transaction inside WithinTx.
type queries struct {
	q querier
}

// NewStorage creates a new storage instance with SQLite database and applies
// pending migrations.
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Storage{queries: queries{q: db}, db: db}

	if err := Migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// dsn enables foreign keys, WAL, a busy timeout and BEGIN IMMEDIATE so that
// concurrent settlements queue on the write lock instead of failing.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
}

// DB exposes the underlying handle for migration tooling.
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// WithinTx runs fn in a database transaction, committing on success.
func (s *Storage) WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&queries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Storage) inTx(ctx context.Context, fn func(q *queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&queries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// notFound converts sql.ErrNoRows into ledger.ErrNotFound for the named record.
func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, ledger.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %v: %w", what, id, err)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
