package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rawblock/fedobserver/internal/fedtypes"
)

// FederationSummaryRow backs the GET /federations/{id} response (spec §6).
type FederationSummaryRow struct {
	SessionCount     uint64
	TransactionCount uint64
	PegInTotalMsat   int64
	PegOutTotalMsat  int64
}

func FederationSummary(ctx context.Context, db DBTX, fed fedtypes.FederationID) (FederationSummaryRow, error) {
	var row FederationSummaryRow
	err := db.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE federation_id = $1`, fed.Bytes()).Scan(&row.SessionCount)
	if err != nil {
		return row, fmt.Errorf("summary session count: %w", err)
	}
	err = db.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE federation_id = $1`, fed.Bytes()).Scan(&row.TransactionCount)
	if err != nil {
		return row, fmt.Errorf("summary transaction count: %w", err)
	}
	err = db.QueryRow(ctx, `SELECT coalesce(sum(amount_msat), 0) FROM wallet_peg_ins WHERE federation_id = $1`, fed.Bytes()).Scan(&row.PegInTotalMsat)
	if err != nil {
		return row, fmt.Errorf("summary peg-in total: %w", err)
	}
	err = db.QueryRow(ctx, `SELECT coalesce(sum(amount_msat), 0) FROM wallet_withdrawal_requests WHERE federation_id = $1`, fed.Bytes()).Scan(&row.PegOutTotalMsat)
	if err != nil {
		return row, fmt.Errorf("summary peg-out total: %w", err)
	}
	return row, nil
}

// ActivityDayRow is one day's bucket for GET /federations/{id}/activity.
// Days with no transactions are not returned by this query; the caller
// (internal/aggregation) zero-fills the gaps (spec §4.J "activity is
// dense, day range is determined by the caller not by what rows exist").
type ActivityDayRow struct {
	Day           time.Time
	TxCount       int64
	PegInMsat     int64
}

func ActivityByDay(ctx context.Context, db DBTX, fed fedtypes.FederationID, since time.Time) ([]ActivityDayRow, error) {
	rows, err := db.Query(ctx,
		`SELECT date_trunc('day', st.block_time) AS day, count(DISTINCT t.txid), coalesce(sum(p.amount_msat), 0)
		 FROM transactions t
		 JOIN session_times st ON st.federation_id = t.federation_id AND st.session_index = t.session_index
		 LEFT JOIN wallet_peg_ins p ON p.federation_id = t.federation_id AND p.federation_txid = t.txid
		 WHERE t.federation_id = $1 AND st.block_time >= $2
		 GROUP BY day ORDER BY day`,
		fed.Bytes(), since)
	if err != nil {
		return nil, fmt.Errorf("activity by day for %s: %w", fed, err)
	}
	defer rows.Close()

	var out []ActivityDayRow
	for rows.Next() {
		var r ActivityDayRow
		if err := rows.Scan(&r.Day, &r.TxCount, &r.PegInMsat); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type UTXORow struct {
	OnChainTxID fedtypes.Hash32
	Vout        uint32
	Address     string
	AmountMsat  int64
}

func ListUTXOs(ctx context.Context, db DBTX, fed fedtypes.FederationID) ([]UTXORow, error) {
	rows, err := db.Query(ctx,
		`SELECT on_chain_txid, vout, address, amount_msat FROM utxos WHERE federation_id = $1 ORDER BY amount_msat DESC`,
		fed.Bytes())
	if err != nil {
		return nil, fmt.Errorf("list utxos for %s: %w", fed, err)
	}
	defer rows.Close()

	var out []UTXORow
	for rows.Next() {
		var r UTXORow
		var txidBytes []byte
		if err := rows.Scan(&txidBytes, &r.Vout, &r.Address, &r.AmountMsat); err != nil {
			return nil, err
		}
		r.OnChainTxID = fedtypes.HashFromBytes(txidBytes)
		out = append(out, r)
	}
	return out, rows.Err()
}

// TotalsRow backs GET /federations/totals: the sum across every observed
// federation (spec §6).
type TotalsRow struct {
	FederationCount int64
	PegInTotalMsat  int64
	PegOutTotalMsat int64
}

func Totals(ctx context.Context, db DBTX) (TotalsRow, error) {
	var row TotalsRow
	err := db.QueryRow(ctx, `SELECT count(*) FROM federations`).Scan(&row.FederationCount)
	if err != nil {
		return row, fmt.Errorf("totals federation count: %w", err)
	}
	err = db.QueryRow(ctx, `SELECT coalesce(sum(amount_msat), 0) FROM wallet_peg_ins`).Scan(&row.PegInTotalMsat)
	if err != nil {
		return row, fmt.Errorf("totals peg-in: %w", err)
	}
	err = db.QueryRow(ctx, `SELECT coalesce(sum(amount_msat), 0) FROM wallet_withdrawal_requests`).Scan(&row.PegOutTotalMsat)
	if err != nil {
		return row, fmt.Errorf("totals peg-out: %w", err)
	}
	return row, nil
}
