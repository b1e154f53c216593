// Package processor decodes and persists one session at a time (spec §4.F):
// the single place that turns a federation's opaque session blob into the
// relational projection the rest of the observer reads.
package processor

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/fedobserver/internal/decoder"
	"github.com/rawblock/fedobserver/internal/explorer"
	"github.com/rawblock/fedobserver/internal/fedtypes"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/sirupsen/logrus"
)

// UnsupportedVariantError is returned when a session contains a module
// variant this observer cannot interpret (spec §4.F "fatal by policy").
// The caller is expected to treat it the same as any other hard error —
// abort the session's transaction and let the fetcher restart — but it is
// typed so callers can tell it apart from a transient failure in logs.
type UnsupportedVariantError struct {
	FederationID fedtypes.FederationID
	Detail       string
}

func (e *UnsupportedVariantError) Error() string {
	return fmt.Sprintf("federation %s: unsupported protocol variant: %s", e.FederationID, e.Detail)
}

// CommitHook is notified after a session's transaction has committed
// successfully (supplements spec.md: "Live WebSocket tail of newly
// processed sessions", not part of the original scope). Left nil, it is a
// no-op.
type CommitHook func(fed fedtypes.FederationID, sessionIndex uint64, txCount int)

type Processor struct {
	federationID fedtypes.FederationID
	peerCount    int
	decoder      decoder.Registry
	pool         *pgxpool.Pool
	explorer     *explorer.Client
	log          *logrus.Entry
	onCommit     CommitHook
}

// SetCommitHook wires a callback fired after ProcessSession commits. Not
// used by ApplySessionTx, whose caller owns the transaction and already
// knows it is replaying history rather than observing it live.
func (p *Processor) SetCommitHook(h CommitHook) {
	p.onCommit = h
}

func New(fed fedtypes.FederationID, peerCount int, reg decoder.Registry, pool *pgxpool.Pool, exp *explorer.Client, log *logrus.Entry) *Processor {
	return &Processor{
		federationID: fed,
		peerCount:    peerCount,
		decoder:      reg,
		pool:         pool,
		explorer:     exp,
		log:          log.WithFields(logrus.Fields{"component": "processor", "federation": fed.String()}),
	}
}

// ProcessSession is the consumer half of the §4.E/§4.F pipeline: one
// database transaction per session, decoded items applied strictly in
// order.
func (p *Processor) ProcessSession(ctx context.Context, session fedtypes.Session) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin session %d: %w", session.SessionIndex, err)
	}
	defer tx.Rollback(ctx)

	txCount, err := p.applySession(ctx, tx, session)
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit session %d: %w", session.SessionIndex, err)
	}
	if p.onCommit != nil {
		p.onCommit(p.federationID, session.SessionIndex, txCount)
	}
	return nil
}

// ApplySessionTx runs the same decode/persist algorithm as ProcessSession
// but inside a transaction the caller already owns, for replay during
// backfills (spec §4.A "reprocess-all-sessions").
func (p *Processor) ApplySessionTx(ctx context.Context, tx pgx.Tx, session fedtypes.Session) error {
	_, err := p.applySession(ctx, tx, session)
	return err
}

func (p *Processor) applySession(ctx context.Context, tx pgx.Tx, session fedtypes.Session) (int, error) {
	if err := store.InsertSession(ctx, tx, session); err != nil {
		return 0, err
	}

	items, err := p.decoder.DecodeSession(session.Data)
	if err != nil {
		// A decode error on freshly fetched data is a bug, not a
		// transient condition (spec §7): propagate as a hard failure.
		return 0, fmt.Errorf("decode session %d: %w", session.SessionIndex, err)
	}

	txCount := 0
	for itemIndex, item := range items {
		switch {
		case item.Transaction != nil:
			if err := p.applyTransaction(ctx, tx, session.SessionIndex, uint64(itemIndex), item.Transaction); err != nil {
				return 0, err
			}
			txCount++
		case item.ConsensusItem != nil:
			if err := p.applyConsensusItem(ctx, tx, session.SessionIndex, uint64(itemIndex), item.ConsensusItem); err != nil {
				return 0, err
			}
		default:
			// unknown item type: ignored per spec §4.F
		}
	}

	return txCount, nil
}

func (p *Processor) applyTransaction(ctx context.Context, tx pgx.Tx, sessionIndex, itemIndex uint64, decoded *fedtypes.DecodedTransaction) error {
	if err := store.InsertTransaction(ctx, tx, p.federationID, decoded.TxID, sessionIndex, itemIndex, decoded.Raw); err != nil {
		return err
	}

	for i, in := range decoded.Inputs {
		if in.WalletUnsupported {
			return &UnsupportedVariantError{FederationID: p.federationID, Detail: fmt.Sprintf("tx %s input %d", decoded.TxID, i)}
		}
		if err := store.InsertTransactionInput(ctx, tx, p.federationID, decoded.TxID, i, in.Kind, in.ContractID, in.AmountMsat); err != nil {
			return err
		}
		if err := store.InsertTransactionInputDetails(ctx, tx, p.federationID, decoded.TxID, i, in.DetailsJSON); err != nil {
			return err
		}
		if in.Kind == fedtypes.ModuleWallet && in.WalletOutPoint != nil && in.AmountMsat != nil {
			if err := store.InsertWalletPegIn(ctx, tx, p.federationID, *in.WalletOutPoint, in.WalletAddress, *in.AmountMsat, decoded.TxID, i); err != nil {
				return err
			}
		}
	}

	for i, out := range decoded.Outputs {
		if out.WalletUnsupported {
			return &UnsupportedVariantError{FederationID: p.federationID, Detail: fmt.Sprintf("tx %s output %d", decoded.TxID, i)}
		}
		if err := store.InsertTransactionOutput(ctx, tx, p.federationID, decoded.TxID, i, out.Kind, out.LNInteractionKind, out.ContractID, out.AmountMsat); err != nil {
			return err
		}
		if err := store.InsertTransactionOutputDetails(ctx, tx, p.federationID, decoded.TxID, i, out.DetailsJSON); err != nil {
			return err
		}

		switch out.Kind {
		case fedtypes.ModuleLN:
			if out.LNInteractionKind == "fund" && out.ContractID != nil && out.AmountMsat != nil {
				if err := store.InsertLNContract(ctx, tx, p.federationID, *out.ContractID, decoded.TxID, i, *out.AmountMsat, out.LNPaymentHash); err != nil {
					return err
				}
			}
		case fedtypes.ModuleWallet:
			if out.WalletPegOut != nil && out.AmountMsat != nil {
				if err := store.InsertWalletWithdrawalRequest(ctx, tx, p.federationID, decoded.TxID, i, out.WalletPegOut.Address, *out.AmountMsat); err != nil {
					return err
				}
			}
		}
	}

	return nil
}

func (p *Processor) applyConsensusItem(ctx context.Context, tx pgx.Tx, sessionIndex, itemIndex uint64, ci *fedtypes.DecodedConsensusItem) error {
	if err := store.InsertConsensusItem(ctx, tx, p.federationID, sessionIndex, itemIndex, ci.PeerID, ci.Kind, ci.DetailsJSON); err != nil {
		return err
	}

	if ci.BlockHeightVote != nil {
		// Peer-reported heights are 1-based; persisted heights are
		// 0-based Bitcoin heights (spec §3 invariant).
		if *ci.BlockHeightVote < 1 {
			return fmt.Errorf("session %d item %d: block height vote %d is not 1-based", sessionIndex, itemIndex, *ci.BlockHeightVote)
		}
		if err := store.InsertBlockHeightVote(ctx, tx, p.federationID, sessionIndex, itemIndex, ci.PeerID, *ci.BlockHeightVote-1); err != nil {
			return err
		}
	}

	if ci.PegOutSignature != nil {
		if err := p.applyPegOutSignature(ctx, tx, sessionIndex, itemIndex, ci.PeerID, ci.PegOutSignature.OnChainTxID); err != nil {
			return err
		}
	}

	return nil
}

func (p *Processor) applyPegOutSignature(ctx context.Context, tx pgx.Tx, sessionIndex, itemIndex uint64, peer fedtypes.PeerID, onChainTxID fedtypes.Hash32) error {
	if err := store.InsertWithdrawalTransaction(ctx, tx, p.federationID, onChainTxID, 0, nil, nil); err != nil {
		return err
	}
	if err := store.RecordWithdrawalSignature(ctx, tx, p.federationID, onChainTxID, peer, sessionIndex, itemIndex); err != nil {
		return err
	}

	count, err := store.CountWithdrawalSignatures(ctx, tx, p.federationID, onChainTxID)
	if err != nil {
		return err
	}
	threshold := fedtypes.Threshold(p.peerCount)
	if count < threshold {
		return nil
	}

	already, err := store.WithdrawalTransactionExists(ctx, tx, p.federationID, onChainTxID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	return p.fetchAndLinkWithdrawal(ctx, tx, onChainTxID)
}

// fetchAndLinkWithdrawal fetches the broadcast transaction from the
// configured mempool API with Fibonacci backoff (spec §4.F step d) and
// links its outputs to outstanding withdrawal requests.
func (p *Processor) fetchAndLinkWithdrawal(ctx context.Context, tx pgx.Tx, onChainTxID fedtypes.Hash32) error {
	hash, err := chainhash.NewHash(onChainTxID[:])
	if err != nil {
		return fmt.Errorf("on-chain txid %s: %w", onChainTxID, err)
	}

	mempoolTx, err := fetchWithFibonacciRetry(ctx, func() (explorer.Tx, error) {
		return p.explorer.GetTx(ctx, *hash)
	})
	if err != nil {
		return fmt.Errorf("fetch withdrawal tx %s: %w", onChainTxID, err)
	}

	inputs := make([]fedtypes.OutPoint, len(mempoolTx.Vin))
	for i, in := range mempoolTx.Vin {
		prevTxid, err := fedtypes.ParseHash32(in.PrevTxID)
		if err != nil {
			return fmt.Errorf("withdrawal tx %s input %d: %w", onChainTxID, i, err)
		}
		inputs[i] = fedtypes.OutPoint{TxID: prevTxid, Vout: in.PrevVout}
	}

	outputs := make([]store.WithdrawalTxOutput, len(mempoolTx.Vout))
	for i, out := range mempoolTx.Vout {
		outputs[i] = store.WithdrawalTxOutput{Address: out.ScriptPubKeyAddress, AmountSat: out.ValueSat}
	}

	return store.InsertWithdrawalTransaction(ctx, tx, p.federationID, onChainTxID, mempoolTx.Fee, inputs, outputs)
}
