// Package store owns the Postgres connection pool, schema migrator, and the
// query/command methods every other component uses to read and write
// observer state (spec §4.A). It is the one package that knows SQL.
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// Store wraps a pgx connection pool. Every other component is handed a
// *Store by value of its pointer and treats it as a long-lived shared
// handle, the way the teacher's internal/db.Postgres was shared across
// scanner/API goroutines.
type Store struct {
	pool *pgxpool.Pool
	log  *logrus.Entry
}

// Connect opens the pool and runs the migrator before returning, so a
// *Store is always handed back schema-current (spec §4.A "runs first, to
// completion, before anything else starts").
func Connect(ctx context.Context, dsn string, log *logrus.Entry) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{pool: pool, log: log.WithField("component", "store")}

	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for components that need to run their
// own multi-statement transactions (processor, federationreg).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
