package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migration is one schema-version step. index 0 is schema-setup-only: it is
// only ever valid to apply against a database with no schema_version row at
// all, never as a step in an upgrade chain (spec §4.A).
type migration struct {
	index    int
	sql      string
	backfill backfillFunc // nil if the migration carries no data backfill
}

// backfillFunc runs inside the same transaction as its migration's DDL, so a
// failed backfill rolls the schema change back with it.
type backfillFunc func(ctx context.Context, tx pgx.Tx, s *Store) error

func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var out []migration
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".sql") {
			continue
		}
		idxStr := strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".sql")
		idx, err := strconv.Atoi(idxStr)
		if err != nil {
			return nil, fmt.Errorf("migration file %s: non-numeric version", name)
		}
		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, migration{index: idx, sql: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })

	for i, m := range out {
		if m.index != i {
			return nil, fmt.Errorf("migration gap: expected v%d, found v%d", i, m.index)
		}
	}

	// Data backfills that ride along with specific schema changes (spec
	// §4.A "migrations that add derived state backfill it from the
	// sessions already on disk").
	for i := range out {
		switch out[i].index {
		case 2:
			out[i].backfill = backfillReprocessAllSessions
		case 6:
			out[i].backfill = backfillReencodeConfigs
		}
	}

	return out, nil
}

// migrate brings the database up to the latest embedded migration. A fresh
// database has no schema_version row; migrate treats that as "apply v0
// through latest". An existing database whose recorded version predates v0
// in a way that implies a pre-schema-setup state is refused outright.
func (s *Store) migrate(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	current, err := s.currentSchemaVersion(ctx)
	if err != nil {
		return err
	}

	if current == -2 {
		// No schema_version table at all: genuinely fresh database.
		current = -1
	}

	for _, m := range migrations {
		if m.index <= current {
			continue
		}
		if m.index == 0 && current != -1 {
			return fmt.Errorf("refusing schema-setup migration v0 against a database already at version %d", current)
		}

		s.log.WithField("version", m.index).Info("applying migration")

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.index, err)
		}

		if _, err := tx.Exec(ctx, m.sql); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("apply migration v%d: %w", m.index, err)
		}

		if m.backfill != nil {
			if err := m.backfill(ctx, tx, s); err != nil {
				tx.Rollback(ctx)
				return fmt.Errorf("backfill migration v%d: %w", m.index, err)
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE schema_version SET version = $1`, m.index); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("record migration v%d: %w", m.index, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.index, err)
		}
	}

	return nil
}

// currentSchemaVersion returns -2 if schema_version does not exist yet
// (brand new database, before even v0 has run).
func (s *Store) currentSchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			return -2, nil
		}
		if err == pgx.ErrNoRows {
			return -1, nil
		}
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return version, nil
}

// Reprocessor lets the migrator replay stored sessions through the
// processor without store importing processor (which imports store). The
// default cmd/observer wiring supplies the real implementation; nil is
// valid and simply skips the backfill with a warning, matching the
// teacher's tolerance for best-effort startup backfills.
type Reprocessor interface {
	ReprocessStoredSessions(ctx context.Context, tx pgx.Tx) error
}

// ConfigReencoder re-serialises a federation's stored config blob through
// the current canonical encoder. Supplied by cmd/observer the same way.
type ConfigReencoder interface {
	ReencodeConfig(raw []byte) ([]byte, error)
}

var (
	activeReprocessor    Reprocessor
	activeConfigReencoder ConfigReencoder
)

// SetReprocessor wires the backfill hooks before Connect is called. It is a
// package-level setter (rather than a Store field threaded through
// Connect's signature) because the hooks are only ever needed transiently,
// at startup, and never again afterward.
func SetReprocessor(r Reprocessor) { activeReprocessor = r }

func SetConfigReencoder(r ConfigReencoder) { activeConfigReencoder = r }

func backfillReprocessAllSessions(ctx context.Context, tx pgx.Tx, s *Store) error {
	if activeReprocessor == nil {
		s.log.Warn("no reprocessor wired, skipping reprocess-all-sessions backfill")
		return nil
	}
	return activeReprocessor.ReprocessStoredSessions(ctx, tx)
}

func backfillReencodeConfigs(ctx context.Context, tx pgx.Tx, s *Store) error {
	if activeConfigReencoder == nil {
		s.log.Warn("no config reencoder wired, skipping config-re-serialisation backfill")
		return nil
	}

	rows, err := tx.Query(ctx, `SELECT federation_id, config FROM federations`)
	if err != nil {
		return fmt.Errorf("list federations: %w", err)
	}
	type pending struct {
		id  []byte
		cfg []byte
	}
	var all []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.cfg); err != nil {
			rows.Close()
			return err
		}
		all = append(all, p)
	}
	rows.Close()

	for _, p := range all {
		reencoded, err := activeConfigReencoder.ReencodeConfig(p.cfg)
		if err != nil {
			return fmt.Errorf("reencode config for federation %x: %w", p.id, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE federations SET config = $1 WHERE federation_id = $2`, reencoded, p.id); err != nil {
			return fmt.Errorf("store reencoded config for federation %x: %w", p.id, err)
		}
	}
	return nil
}
