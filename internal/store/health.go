package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rawblock/fedobserver/internal/fedtypes"
)

// InsertGuardianHealth records one poll of one guardian (spec §4.G). reachable
// false means the RPC timed out or errored; sessionCount/blockCount/status
// are nil in that case. latencyMs is the block_count_local round-trip time
// and is recorded even when that call timed out or returned an error (spec
// §4.G "timeouts and parse errors yield status = null / block_height = null
// but still record latency").
func InsertGuardianHealth(ctx context.Context, db DBTX, fed fedtypes.FederationID, peer fedtypes.PeerID, polledAt time.Time, reachable bool, sessionCount, blockCount *uint64, latencyMs int64, status []byte) error {
	_, err := db.Exec(ctx,
		`INSERT INTO guardian_health (federation_id, peer_id, polled_at, reachable, session_count, block_count, latency_ms, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		fed.Bytes(), int(peer), polledAt, reachable, uint64Ptr(sessionCount), uint64Ptr(blockCount), latencyMs, status)
	if err != nil {
		return fmt.Errorf("insert guardian health %s/peer%d: %w", fed, peer, err)
	}
	return nil
}

func uint64Ptr(u *uint64) any {
	if u == nil {
		return nil
	}
	return *u
}

// uptimeWindow is the rolling window the 30-day uptime/latency rollup in
// spec §4.G averages over.
const uptimeWindow = 30 * 24 * time.Hour

// LatestGuardianHealth returns the most recent poll per guardian for a
// federation, alongside each peer's 30-day uptime ratio and mean latency
// (spec §4.G "for each peer select the latest row and its 30-day uptime ...
// and mean latency"), used for both the health rollup and the façade's
// guardian detail endpoint.
func LatestGuardianHealth(ctx context.Context, db DBTX, fed fedtypes.FederationID) ([]GuardianHealthRow, error) {
	rows, err := db.Query(ctx,
		`WITH latest AS (
		     SELECT DISTINCT ON (peer_id) peer_id, polled_at, reachable, session_count, block_count, latency_ms
		     FROM guardian_health WHERE federation_id = $1
		     ORDER BY peer_id, polled_at DESC
		 ), stats AS (
		     SELECT peer_id,
		            avg(CASE WHEN reachable THEN 1 ELSE 0 END) AS uptime_ratio,
		            avg(latency_ms) AS mean_latency_ms
		     FROM guardian_health
		     WHERE federation_id = $1 AND polled_at >= $2
		     GROUP BY peer_id
		 )
		 SELECT l.peer_id, l.polled_at, l.reachable, l.session_count, l.block_count, l.latency_ms,
		        coalesce(s.uptime_ratio, 0), coalesce(s.mean_latency_ms, 0)
		 FROM latest l LEFT JOIN stats s ON s.peer_id = l.peer_id
		 ORDER BY l.peer_id`,
		fed.Bytes(), time.Now().UTC().Add(-uptimeWindow))
	if err != nil {
		return nil, fmt.Errorf("latest guardian health for %s: %w", fed, err)
	}
	defer rows.Close()

	var out []GuardianHealthRow
	for rows.Next() {
		var r GuardianHealthRow
		var peer int
		if err := rows.Scan(&peer, &r.PolledAt, &r.Reachable, &r.SessionCount, &r.BlockCount, &r.LatencyMs, &r.UptimeRatio30d, &r.MeanLatencyMs30d); err != nil {
			return nil, err
		}
		r.PeerID = fedtypes.PeerID(peer)
		out = append(out, r)
	}
	return out, rows.Err()
}

type GuardianHealthRow struct {
	PeerID           fedtypes.PeerID
	PolledAt         time.Time
	Reachable        bool
	SessionCount     *uint64
	BlockCount       *uint64
	LatencyMs        int64
	UptimeRatio30d   float64
	MeanLatencyMs30d float64
}

func InsertBlockTime(ctx context.Context, db DBTX, height uint32, t time.Time) error {
	_, err := db.Exec(ctx,
		`INSERT INTO block_times (block_height, block_time) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		height, t)
	if err != nil {
		return fmt.Errorf("insert block time %d: %w", height, err)
	}
	return nil
}

// MaxIndexedBlockHeight returns the highest block height already stored, or
// -1 if none, so the indexing loop in §4.D knows where to resume.
func MaxIndexedBlockHeight(ctx context.Context, db DBTX) (int64, error) {
	var h *int64
	err := db.QueryRow(ctx, `SELECT max(block_height) FROM block_times`).Scan(&h)
	if err != nil {
		return -1, fmt.Errorf("max indexed block height: %w", err)
	}
	if h == nil {
		return -1, nil
	}
	return *h, nil
}
