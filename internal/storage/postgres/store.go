package postgres

import (
	"context"
	"database/sql" // standard Go package for SQL database access
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	interfaces "github.com/sheikh-saqib/budget-compliance-engine/internal/interfaces"
	"github.com/sheikh-saqib/budget-compliance-engine/internal/models"

	"github.com/lib/pq" // PostgreSQL driver
)

//go:embed schema.sql
var schema string

// PostgresLedgerStore implements interfaces.Store on PostgreSQL.
// Row-level atomicity comes from SELECT ... FOR UPDATE inside one
// transaction and from status-guarded UPDATE statements.
type PostgresLedgerStore struct {
	db *sql.DB
}

// NewPostgresLedgerStore creates a new PostgresLedgerStore with the given DB connection
func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db}
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storageErr("open database", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, storageErr("ping database", err)
	}
	return db, nil
}

// Migrate creates the engine's tables if they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// storageErr wraps a driver error so callers can match ErrStorageFailure
// while the driver error stays inspectable.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorageFailure, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	clauses []string
	args    []any
}

// add appends a condition; format holds one %d for the placeholder index.
func (w *where) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, len(w.args)))
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET; limit <= 0 means unbounded.
func (w *where) page(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		w.args = append(w.args, limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func stringSlice[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

var _ interfaces.Store = (*PostgresLedgerStore)(nil) // compile-time check: ensures PostgresLedgerStore implements interfaces.Store
