package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rawblock/fedobserver/internal/fedtypes"
)

var ErrNotFound = errors.New("not found")

// InsertFederation registers a federation idempotently: a second call with
// the same id and config is a no-op, but a second call with a different
// config for an id already on file is refused (spec §4.C "config mismatch
// on re-add is an error, not an overwrite").
func InsertFederation(ctx context.Context, db DBTX, f fedtypes.Federation) error {
	existing, err := GetFederation(ctx, db, f.ID)
	if err == nil {
		if string(existing.Config) != string(f.Config) {
			return fmt.Errorf("federation %s already registered with a different config", f.ID)
		}
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = db.Exec(ctx, `INSERT INTO federations (federation_id, config, endpoints) VALUES ($1, $2, $3)`,
		f.ID.Bytes(), f.Config, f.Endpoints)
	if err != nil {
		return fmt.Errorf("insert federation %s: %w", f.ID, err)
	}
	return nil
}

func GetFederation(ctx context.Context, db DBTX, id fedtypes.FederationID) (fedtypes.Federation, error) {
	var cfg []byte
	var endpoints []string
	err := db.QueryRow(ctx, `SELECT config, endpoints FROM federations WHERE federation_id = $1`, id.Bytes()).Scan(&cfg, &endpoints)
	if errors.Is(err, pgx.ErrNoRows) {
		return fedtypes.Federation{}, ErrNotFound
	}
	if err != nil {
		return fedtypes.Federation{}, fmt.Errorf("get federation %s: %w", id, err)
	}
	return fedtypes.Federation{ID: id, Config: cfg, Endpoints: endpoints}, nil
}

func ListFederations(ctx context.Context, db DBTX) ([]fedtypes.Federation, error) {
	rows, err := db.Query(ctx, `SELECT federation_id, config, endpoints FROM federations ORDER BY federation_id`)
	if err != nil {
		return nil, fmt.Errorf("list federations: %w", err)
	}
	defer rows.Close()

	var out []fedtypes.Federation
	for rows.Next() {
		var idBytes, cfg []byte
		var endpoints []string
		if err := rows.Scan(&idBytes, &cfg, &endpoints); err != nil {
			return nil, err
		}
		out = append(out, fedtypes.Federation{ID: fedtypes.HashFromBytes(idBytes), Config: cfg, Endpoints: endpoints})
	}
	return out, rows.Err()
}
