package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var validIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore is an AuditStore backed by Postgres. It does not own the
// pool, so Close is a no-op, and the schema name is validated before
// being interpolated into SQL (pgx has no identifier-quoting helper of
// its own).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the schema holding the audit_events table (default
// "swap_relay").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !validIdent.MatchString(schema) {
			return fmt.Errorf("store: invalid schema identifier %q", schema)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed AuditStore. The caller
// owns pool and must close it; PostgresStore.Close is a no-op.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("store: nil pool")
	}
	st := &PostgresStore{pool: pool, schema: "swap_relay"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgIdent(s.schema, "audit_events")
}

func pgIdent(schema, name string) string {
	return `"` + schema + `"."` + name + `"`
}

func (s *PostgresStore) Append(ctx context.Context, ev Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (kind, source_a, source_b, occurred_at) VALUES ($1, $2, $3, $4)`,
		string(ev.Kind), ev.A, nullableString(ev.B), ev.At,
	)
	if err != nil {
		return fmt.Errorf("store: append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT kind, source_a, source_b, occurred_at FROM `+s.table()+` ORDER BY occurred_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query recent audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			kind string
			a    string
			b    *string
			at   time.Time
		)
		if err := rows.Scan(&kind, &a, &b, &at); err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		ev := Event{Kind: EventKind(kind), A: a, At: at}
		if b != nil {
			ev.B = *b
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate audit events: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error { return nil }

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// EnsureSchema creates the audit_events table if it does not already
// exist. Callers typically run this once at startup when
// SWAP_DATABASE_URL is configured.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS "`+s.schema+`";
		CREATE TABLE IF NOT EXISTS `+s.table()+` (
			id BIGSERIAL PRIMARY KEY,
			kind TEXT NOT NULL,
			source_a TEXT NOT NULL,
			source_b TEXT,
			occurred_at TIMESTAMPTZ NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}
