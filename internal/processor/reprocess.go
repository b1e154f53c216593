package processor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/fedobserver/internal/decoder"
	"github.com/rawblock/fedobserver/internal/federationreg"
	"github.com/rawblock/fedobserver/internal/fedtypes"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/sirupsen/logrus"
)

// PeerCounter resolves how many guardians a federation has, needed for the
// peg-out signature threshold during reprocessing. Backed by
// internal/federationreg's config parsing in default wiring.
type PeerCounter func(config []byte) (int, error)

// MigrationReprocessor implements store.Reprocessor by replaying every
// stored session of every federation through a freshly-built Processor for
// that federation, inside the migration's own transaction (spec §4.A
// "reprocess-all-sessions").
// MigrationReprocessor never needs to re-fetch a withdrawal's on-chain
// transaction: the sessions being replayed already produced whatever
// mempool-derived rows they were going to produce on their original run,
// and WithdrawalTransactionExists short-circuits before a second fetch
// would ever be attempted, so it is safe to build its processors without
// an explorer client.
type MigrationReprocessor struct {
	DecoderFactory decoder.Factory
	PeerCounter    PeerCounter
	Log            *logrus.Entry
}

func (m MigrationReprocessor) ReprocessStoredSessions(ctx context.Context, tx pgx.Tx) error {
	federations, err := store.ListFederations(ctx, tx)
	if err != nil {
		return fmt.Errorf("list federations for reprocessing: %w", err)
	}

	processors := make(map[fedtypes.FederationID]*Processor, len(federations))
	for _, fed := range federations {
		modules, err := federationreg.ModulesFromConfig(fed.Config)
		if err != nil {
			return fmt.Errorf("federation %s: %w", fed.ID, err)
		}
		reg, err := m.DecoderFactory.ForFederation(modules)
		if err != nil {
			return fmt.Errorf("federation %s: build decoder: %w", fed.ID, err)
		}
		peers, err := m.PeerCounter(fed.Config)
		if err != nil {
			return fmt.Errorf("federation %s: %w", fed.ID, err)
		}
		processors[fed.ID] = New(fed.ID, peers, reg, nil, nil, m.Log)
	}

	return store.IterateStoredSessions(ctx, tx, func(session fedtypes.Session) error {
		p, ok := processors[session.FederationID]
		if !ok {
			return fmt.Errorf("session for unregistered federation %s", session.FederationID)
		}
		return p.ApplySessionTx(ctx, tx, session)
	})
}

// ReprocessRange re-runs processing for sessions [start, end] (inclusive)
// of one federation, each in its own transaction, for the façade's
// POST /federations/{id}/backfill (spec §6).
func ReprocessRange(ctx context.Context, pool *pgxpool.Pool, p *Processor, fed fedtypes.FederationID, start, end uint64) error {
	for idx := start; idx <= end; idx++ {
		session, err := store.GetSession(ctx, pool, fed, idx)
		if err != nil {
			return fmt.Errorf("load session %d for backfill: %w", idx, err)
		}
		if err := p.ProcessSession(ctx, session); err != nil {
			return fmt.Errorf("reprocess session %d: %w", idx, err)
		}
	}
	return nil
}
