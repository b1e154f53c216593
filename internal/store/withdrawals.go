package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rawblock/fedobserver/internal/fedtypes"
)

// RecordWithdrawalSignature stores one guardian's threshold-signature share
// for a pending on-chain withdrawal transaction. The processor calls this
// for every wallet.PegOutSignature consensus item regardless of whether
// threshold has been reached yet (spec §4.F "signatures accumulate before
// the threshold check").
func RecordWithdrawalSignature(ctx context.Context, db DBTX, fed fedtypes.FederationID, onChainTxID fedtypes.Hash32, peer fedtypes.PeerID, sessionIndex, itemIndex uint64) error {
	_, err := db.Exec(ctx,
		`INSERT INTO wallet_withdrawal_signatures (federation_id, on_chain_txid, peer_id, session_index, item_index)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
		fed.Bytes(), onChainTxID.Bytes(), int(peer), sessionIndex, itemIndex)
	if err != nil {
		return fmt.Errorf("record withdrawal signature %s/peer%d: %w", onChainTxID, peer, err)
	}
	return nil
}

// CountWithdrawalSignatures returns how many distinct guardians have signed
// a pending withdrawal transaction, for the threshold check in §4.F.
func CountWithdrawalSignatures(ctx context.Context, db DBTX, fed fedtypes.FederationID, onChainTxID fedtypes.Hash32) (int, error) {
	var n int
	err := db.QueryRow(ctx,
		`SELECT count(*) FROM wallet_withdrawal_signatures WHERE federation_id = $1 AND on_chain_txid = $2`,
		fed.Bytes(), onChainTxID.Bytes()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count withdrawal signatures %s: %w", onChainTxID, err)
	}
	return n, nil
}

// WithdrawalTransactionExists reports whether the on-chain transaction has
// already been fetched and linked, so the mempool-fetch retry loop can stop
// polling once another session's processing has already done the work.
func WithdrawalTransactionExists(ctx context.Context, db DBTX, fed fedtypes.FederationID, onChainTxID fedtypes.Hash32) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT exists(SELECT 1 FROM wallet_withdrawal_transactions WHERE federation_id = $1 AND on_chain_txid = $2)`,
		fed.Bytes(), onChainTxID.Bytes()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check withdrawal transaction %s: %w", onChainTxID, err)
	}
	return exists, nil
}

// InsertWithdrawalTransaction stores the fetched on-chain transaction shape
// and then links each of its outputs to the earliest unlinked withdrawal
// request at the same address (spec §4.F "address-linking heuristic": the
// oldest unlinked request wins, by (session_index, item_index) order).
func InsertWithdrawalTransaction(ctx context.Context, db DBTX, fed fedtypes.FederationID, onChainTxID fedtypes.Hash32, feesSat int64, inputs []fedtypes.OutPoint, outputs []WithdrawalTxOutput) error {
	_, err := db.Exec(ctx,
		`INSERT INTO wallet_withdrawal_transactions (federation_id, on_chain_txid, fees_sat) VALUES ($1, $2, $3)
		 ON CONFLICT (federation_id, on_chain_txid) DO UPDATE SET fees_sat = excluded.fees_sat
		 WHERE wallet_withdrawal_transactions.fees_sat = 0`,
		fed.Bytes(), onChainTxID.Bytes(), feesSat)
	if err != nil {
		return fmt.Errorf("insert withdrawal transaction %s: %w", onChainTxID, err)
	}

	for i, in := range inputs {
		if _, err := db.Exec(ctx,
			`INSERT INTO wallet_withdrawal_tx_inputs (federation_id, on_chain_txid, idx, prev_txid, prev_vout)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
			fed.Bytes(), onChainTxID.Bytes(), i, in.TxID.Bytes(), in.Vout); err != nil {
			return fmt.Errorf("insert withdrawal tx input %s/%d: %w", onChainTxID, i, err)
		}
	}

	for i, out := range outputs {
		if _, err := db.Exec(ctx,
			`INSERT INTO wallet_withdrawal_tx_outputs (federation_id, on_chain_txid, idx, address, amount_sat)
			 VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`,
			fed.Bytes(), onChainTxID.Bytes(), i, nullableString(out.Address), out.AmountSat); err != nil {
			return fmt.Errorf("insert withdrawal tx output %s/%d: %w", onChainTxID, i, err)
		}
		if out.Address == "" {
			continue
		}
		if err := linkWithdrawalRequest(ctx, db, fed, out.Address, onChainTxID); err != nil {
			return err
		}
	}

	return nil
}

type WithdrawalTxOutput struct {
	Address   string
	AmountSat int64
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// linkWithdrawalRequest attaches onChainTxID to the oldest withdrawal
// request at address that has not yet been linked to any on-chain
// transaction, and back-fills WalletWithdrawalTransaction.federation_txid
// with the requesting fedimint transaction (spec §3 "federation_txid is
// back-filled when an output address matches a known withdrawal request").
// Idempotent: a request already linked, or a transaction that already has
// federation_txid set, is left untouched — once set it is never changed
// (spec's address-linking monotonicity property).
func linkWithdrawalRequest(ctx context.Context, db DBTX, fed fedtypes.FederationID, address string, onChainTxID fedtypes.Hash32) error {
	var federationTxid []byte
	var outputIdx int
	err := db.QueryRow(ctx,
		`SELECT r.federation_txid, r.output_idx
		 FROM wallet_withdrawal_requests r
		 JOIN transactions t ON t.federation_id = r.federation_id AND t.txid = r.federation_txid
		 WHERE r.federation_id = $1 AND r.address = $2 AND r.on_chain_txid IS NULL
		 ORDER BY t.session_index, t.item_index
		 LIMIT 1`,
		fed.Bytes(), address).Scan(&federationTxid, &outputIdx)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil // no matching unlinked request; address may belong to change
	}
	if err != nil {
		return fmt.Errorf("find unlinked withdrawal request for %s: %w", address, err)
	}

	_, err = db.Exec(ctx,
		`UPDATE wallet_withdrawal_requests SET on_chain_txid = $1 WHERE federation_id = $2 AND federation_txid = $3 AND output_idx = $4`,
		onChainTxID.Bytes(), fed.Bytes(), federationTxid, outputIdx)
	if err != nil {
		return fmt.Errorf("link withdrawal request to %s: %w", onChainTxID, err)
	}

	_, err = db.Exec(ctx,
		`UPDATE wallet_withdrawal_transactions SET federation_txid = $1
		 WHERE federation_id = $2 AND on_chain_txid = $3 AND federation_txid IS NULL`,
		federationTxid, fed.Bytes(), onChainTxID.Bytes())
	if err != nil {
		return fmt.Errorf("link withdrawal transaction %s to %x: %w", onChainTxID, federationTxid, err)
	}
	return nil
}
