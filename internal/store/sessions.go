package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rawblock/fedobserver/internal/fedtypes"
)

// InsertSession stores one session's raw bytes. Callers are responsible for
// ordering (spec §4.E "sessions are delivered to the processor strictly in
// order") — InsertSession itself does not enforce contiguity; the session
// fetcher resumes after LatestSessionIndex and hands sessions over in order.
func InsertSession(ctx context.Context, db DBTX, s fedtypes.Session) error {
	_, err := db.Exec(ctx,
		`INSERT INTO sessions (federation_id, session_index, data) VALUES ($1, $2, $3)
		 ON CONFLICT (federation_id, session_index) DO NOTHING`,
		s.FederationID.Bytes(), s.SessionIndex, s.Data)
	if err != nil {
		return fmt.Errorf("insert session %s/%d: %w", s.FederationID, s.SessionIndex, err)
	}
	return nil
}

// LatestSessionIndex returns the highest stored session index for a
// federation, or -1 if none have been stored yet (spec §4.E "resumes from
// the last persisted session on restart").
func LatestSessionIndex(ctx context.Context, db DBTX, fed fedtypes.FederationID) (int64, error) {
	var idx *int64
	err := db.QueryRow(ctx,
		`SELECT max(session_index) FROM sessions WHERE federation_id = $1`, fed.Bytes()).Scan(&idx)
	if err != nil {
		return -1, fmt.Errorf("latest session index for %s: %w", fed, err)
	}
	if idx == nil {
		return -1, nil
	}
	return *idx, nil
}

func GetSession(ctx context.Context, db DBTX, fed fedtypes.FederationID, index uint64) (fedtypes.Session, error) {
	var data []byte
	err := db.QueryRow(ctx,
		`SELECT data FROM sessions WHERE federation_id = $1 AND session_index = $2`,
		fed.Bytes(), index).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return fedtypes.Session{}, ErrNotFound
	}
	if err != nil {
		return fedtypes.Session{}, fmt.Errorf("get session %s/%d: %w", fed, index, err)
	}
	return fedtypes.Session{FederationID: fed, SessionIndex: index, Data: data}, nil
}

// ListSessions pages through a federation's stored sessions newest-first,
// for GET /federations/{id}/sessions (spec §6). Raw session bytes are
// large and rarely wanted for a listing, so only the index is returned;
// GetSession fetches one session's full bytes.
func ListSessions(ctx context.Context, db DBTX, fed fedtypes.FederationID, limit, offset int) ([]uint64, error) {
	rows, err := db.Query(ctx,
		`SELECT session_index FROM sessions WHERE federation_id = $1
		 ORDER BY session_index DESC LIMIT $2 OFFSET $3`,
		fed.Bytes(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", fed, err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var idx uint64
		if err := rows.Scan(&idx); err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// SessionCount is used by the façade's GET /sessions/count.
func SessionCount(ctx context.Context, db DBTX, fed fedtypes.FederationID) (uint64, error) {
	var count uint64
	err := db.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE federation_id = $1`, fed.Bytes()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sessions for %s: %w", fed, err)
	}
	return count, nil
}

// IterateStoredSessions streams every stored session in (federation,
// session_index) order, for backfill/reprocessing (spec §4.A, §4.F).
func IterateStoredSessions(ctx context.Context, db DBTX, fn func(fedtypes.Session) error) error {
	rows, err := db.Query(ctx,
		`SELECT federation_id, session_index, data FROM sessions ORDER BY federation_id, session_index`)
	if err != nil {
		return fmt.Errorf("iterate sessions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idBytes []byte
		var index uint64
		var data []byte
		if err := rows.Scan(&idBytes, &index, &data); err != nil {
			return err
		}
		s := fedtypes.Session{FederationID: fedtypes.HashFromBytes(idBytes), SessionIndex: index, Data: data}
		if err := fn(s); err != nil {
			return err
		}
	}
	return rows.Err()
}
