package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open wires an AuditStore in dual mode: a real Postgres-backed store
// when databaseURL is non-empty, an in-memory fallback otherwise. The
// returned pool (nil in the fallback case) is the caller's to close
// alongside the store.
func Open(ctx context.Context, databaseURL string) (AuditStore, *pgxpool.Pool, error) {
	if databaseURL == "" {
		return NewMemoryStore(), nil, nil
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect: %w", err)
	}

	pg, err := NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool, nil
}
