package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rawblock/fedobserver/internal/fedtypes"
)

func InsertTransaction(ctx context.Context, db DBTX, fed fedtypes.FederationID, txid fedtypes.TxID, sessionIndex, itemIndex uint64, raw []byte) error {
	_, err := db.Exec(ctx,
		`INSERT INTO transactions (txid, federation_id, session_index, item_index, data) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (federation_id, txid) DO NOTHING`,
		txid.Bytes(), fed.Bytes(), sessionIndex, itemIndex, raw)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", txid, err)
	}
	return nil
}

func msatPtr(m *fedtypes.Msat) any {
	if m == nil {
		return nil
	}
	return int64(*m)
}

func hashPtr(h *fedtypes.Hash32) any {
	if h == nil {
		return nil
	}
	return h.Bytes()
}

func InsertTransactionInput(ctx context.Context, db DBTX, fed fedtypes.FederationID, txid fedtypes.TxID, idx int, kind fedtypes.ModuleKind, contractID *fedtypes.ContractID, amount *fedtypes.Msat) error {
	_, err := db.Exec(ctx,
		`INSERT INTO transaction_inputs (federation_id, txid, idx, kind, contract_id, amount_msat) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (federation_id, txid, idx) DO NOTHING`,
		fed.Bytes(), txid.Bytes(), idx, string(kind), hashPtr(contractID), msatPtr(amount))
	if err != nil {
		return fmt.Errorf("insert transaction input %s/%d: %w", txid, idx, err)
	}
	return nil
}

func InsertTransactionOutput(ctx context.Context, db DBTX, fed fedtypes.FederationID, txid fedtypes.TxID, idx int, kind fedtypes.ModuleKind, lnInteraction string, contractID *fedtypes.ContractID, amount *fedtypes.Msat) error {
	var interaction any
	if lnInteraction != "" {
		interaction = lnInteraction
	}
	_, err := db.Exec(ctx,
		`INSERT INTO transaction_outputs (federation_id, txid, idx, kind, ln_interaction, contract_id, amount_msat) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (federation_id, txid, idx) DO NOTHING`,
		fed.Bytes(), txid.Bytes(), idx, string(kind), interaction, hashPtr(contractID), msatPtr(amount))
	if err != nil {
		return fmt.Errorf("insert transaction output %s/%d: %w", txid, idx, err)
	}
	return nil
}

func InsertTransactionInputDetails(ctx context.Context, db DBTX, fed fedtypes.FederationID, txid fedtypes.TxID, idx int, details []byte) error {
	if len(details) == 0 {
		return nil
	}
	_, err := db.Exec(ctx,
		`INSERT INTO transaction_input_details (federation_id, txid, idx, details) VALUES ($1, $2, $3, $4) ON CONFLICT (federation_id, txid, idx) DO NOTHING`,
		fed.Bytes(), txid.Bytes(), idx, details)
	if err != nil {
		return fmt.Errorf("insert transaction input details %s/%d: %w", txid, idx, err)
	}
	return nil
}

func InsertTransactionOutputDetails(ctx context.Context, db DBTX, fed fedtypes.FederationID, txid fedtypes.TxID, idx int, details []byte) error {
	if len(details) == 0 {
		return nil
	}
	_, err := db.Exec(ctx,
		`INSERT INTO transaction_output_details (federation_id, txid, idx, details) VALUES ($1, $2, $3, $4) ON CONFLICT (federation_id, txid, idx) DO NOTHING`,
		fed.Bytes(), txid.Bytes(), idx, details)
	if err != nil {
		return fmt.Errorf("insert transaction output details %s/%d: %w", txid, idx, err)
	}
	return nil
}

func InsertConsensusItem(ctx context.Context, db DBTX, fed fedtypes.FederationID, sessionIndex, itemIndex uint64, peer fedtypes.PeerID, kind fedtypes.ModuleKind, details []byte) error {
	_, err := db.Exec(ctx,
		`INSERT INTO consensus_items (federation_id, session_index, item_index, peer_id, module_kind, details) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (federation_id, session_index, item_index) DO NOTHING`,
		fed.Bytes(), sessionIndex, itemIndex, int(peer), string(kind), details)
	if err != nil {
		return fmt.Errorf("insert consensus item %d/%d: %w", sessionIndex, itemIndex, err)
	}
	return nil
}

func InsertBlockHeightVote(ctx context.Context, db DBTX, fed fedtypes.FederationID, sessionIndex, itemIndex uint64, peer fedtypes.PeerID, height uint32) error {
	_, err := db.Exec(ctx,
		`INSERT INTO block_height_votes (federation_id, session_index, item_index, peer_id, height) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (federation_id, session_index, item_index, peer_id) DO NOTHING`,
		fed.Bytes(), sessionIndex, itemIndex, int(peer), height)
	if err != nil {
		return fmt.Errorf("insert block height vote %d/%d: %w", sessionIndex, itemIndex, err)
	}
	return nil
}

func InsertWalletPegIn(ctx context.Context, db DBTX, fed fedtypes.FederationID, op fedtypes.OutPoint, address string, amount fedtypes.Msat, txid fedtypes.TxID, inputIdx int) error {
	_, err := db.Exec(ctx,
		`INSERT INTO wallet_peg_ins (on_chain_txid, vout, address, amount_msat, federation_id, federation_txid, input_idx)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT DO NOTHING`,
		op.TxID.Bytes(), op.Vout, address, int64(amount), fed.Bytes(), txid.Bytes(), inputIdx)
	if err != nil {
		return fmt.Errorf("insert wallet peg-in %s:%d: %w", op.TxID, op.Vout, err)
	}
	return nil
}

func InsertWalletWithdrawalRequest(ctx context.Context, db DBTX, fed fedtypes.FederationID, txid fedtypes.TxID, outputIdx int, address string, amount fedtypes.Msat) error {
	_, err := db.Exec(ctx,
		`INSERT INTO wallet_withdrawal_requests (federation_id, federation_txid, output_idx, address, amount_msat)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (federation_id, federation_txid, output_idx) DO NOTHING`,
		fed.Bytes(), txid.Bytes(), outputIdx, address, int64(amount))
	if err != nil {
		return fmt.Errorf("insert wallet withdrawal request %s/%d: %w", txid, outputIdx, err)
	}
	return nil
}

func InsertLNContract(ctx context.Context, db DBTX, fed fedtypes.FederationID, contractID fedtypes.ContractID, txid fedtypes.TxID, outputIdx int, amount fedtypes.Msat, paymentHash *fedtypes.Hash32) error {
	_, err := db.Exec(ctx,
		`INSERT INTO ln_contracts (federation_id, contract_id, federation_txid, output_idx, amount_msat, payment_hash)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING`,
		fed.Bytes(), contractID.Bytes(), txid.Bytes(), outputIdx, int64(amount), hashPtr(paymentHash))
	if err != nil {
		return fmt.Errorf("insert ln contract %s: %w", contractID, err)
	}
	return nil
}

// TransactionRow is the façade's GET /federations/{id}/transactions row
// shape: enough to list and page through without joining in every
// module-specific detail table.
type TransactionRow struct {
	TxID         fedtypes.TxID
	SessionIndex uint64
	ItemIndex    uint64
	Raw          []byte
}

// ListTransactions pages through a federation's transactions newest-first,
// for GET /federations/{id}/transactions (spec §6).
func ListTransactions(ctx context.Context, db DBTX, fed fedtypes.FederationID, limit, offset int) ([]TransactionRow, error) {
	rows, err := db.Query(ctx,
		`SELECT txid, session_index, item_index, data FROM transactions
		 WHERE federation_id = $1 ORDER BY session_index DESC, item_index DESC LIMIT $2 OFFSET $3`,
		fed.Bytes(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", fed, err)
	}
	defer rows.Close()

	var out []TransactionRow
	for rows.Next() {
		var txidBytes []byte
		var row TransactionRow
		if err := rows.Scan(&txidBytes, &row.SessionIndex, &row.ItemIndex, &row.Raw); err != nil {
			return nil, err
		}
		row.TxID = fedtypes.HashFromBytes(txidBytes)
		out = append(out, row)
	}
	return out, rows.Err()
}

// CountTransactions backs GET /federations/{id}/transactions/count.
func CountTransactions(ctx context.Context, db DBTX, fed fedtypes.FederationID) (uint64, error) {
	var count uint64
	err := db.QueryRow(ctx, `SELECT count(*) FROM transactions WHERE federation_id = $1`, fed.Bytes()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count transactions for %s: %w", fed, err)
	}
	return count, nil
}

// GetTransaction backs GET /federations/{id}/transactions/{txid}.
func GetTransaction(ctx context.Context, db DBTX, fed fedtypes.FederationID, txid fedtypes.TxID) (TransactionRow, error) {
	var row TransactionRow
	row.TxID = txid
	err := db.QueryRow(ctx,
		`SELECT session_index, item_index, data FROM transactions WHERE federation_id = $1 AND txid = $2`,
		fed.Bytes(), txid.Bytes()).Scan(&row.SessionIndex, &row.ItemIndex, &row.Raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return TransactionRow{}, ErrNotFound
	}
	if err != nil {
		return TransactionRow{}, fmt.Errorf("get transaction %s/%s: %w", fed, txid, err)
	}
	return row, nil
}

// TransactionHistogramBucket is one day's transaction count, for
// GET /federations/{id}/transactions/histogram.
type TransactionHistogramBucket struct {
	Day   time.Time
	Count uint64
}

// TransactionHistogram groups transaction counts by the session's
// indexed block day, derived from session_times (the materialized view
// refreshed by internal/views, spec §4.I) rather than re-deriving block
// times per request.
func TransactionHistogram(ctx context.Context, db DBTX, fed fedtypes.FederationID, since time.Time) ([]TransactionHistogramBucket, error) {
	rows, err := db.Query(ctx,
		`SELECT date_trunc('day', st.block_time) AS day, count(*)
		 FROM transactions t
		 JOIN session_times st ON st.federation_id = t.federation_id AND st.session_index = t.session_index
		 WHERE t.federation_id = $1 AND st.block_time >= $2
		 GROUP BY day ORDER BY day`,
		fed.Bytes(), since)
	if err != nil {
		return nil, fmt.Errorf("transaction histogram for %s: %w", fed, err)
	}
	defer rows.Close()

	var out []TransactionHistogramBucket
	for rows.Next() {
		var bucket TransactionHistogramBucket
		if err := rows.Scan(&bucket.Day, &bucket.Count); err != nil {
			return nil, err
		}
		out = append(out, bucket)
	}
	return out, rows.Err()
}
