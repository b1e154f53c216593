// Package health runs the per-federation guardian health poller (spec
// §4.G): every tick it queries each peer's generic status and wallet-module
// block count in parallel and appends one GuardianHealth row per peer.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/fedobserver/internal/consensusapi"
	"github.com/rawblock/fedobserver/internal/fedtypes"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	pollInterval    = 60 * time.Second
	perPeerTimeout  = 20 * time.Second
	restartDelay    = 30 * time.Second
)

// Peer is one guardian this poller talks to.
type Peer struct {
	ID     fedtypes.PeerID
	Client *consensusapi.Client
}

type Poller struct {
	federationID           fedtypes.FederationID
	peers                  []Peer
	walletModuleInstanceID uint16
	pool                   *pgxpool.Pool
	log                    *logrus.Entry
}

func New(fed fedtypes.FederationID, peers []Peer, walletModuleInstanceID uint16, pool *pgxpool.Pool, log *logrus.Entry) *Poller {
	return &Poller{
		federationID:           fed,
		peers:                  peers,
		walletModuleInstanceID: walletModuleInstanceID,
		pool:                   pool,
		log:                    log.WithFields(logrus.Fields{"component": "health", "federation": fed.String()}),
	}
}

// Run loops until ctx is cancelled, restarting after restartDelay on any
// fatal error (spec §4.G "the task is restarted after 30 s on any fatal
// error").
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := p.tick(ctx); err != nil {
			p.log.WithError(err).Error("health poll tick failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(restartDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) tick(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range p.peers {
		peer := peer
		g.Go(func() error {
			return p.pollPeer(gctx, peer)
		})
	}
	return g.Wait()
}

func (p *Poller) pollPeer(ctx context.Context, peer Peer) error {
	polledAt := time.Now().UTC()

	statusCtx, cancel := context.WithTimeout(ctx, perPeerTimeout)
	statusRaw, sessionCount, statusErr := peer.Client.Status(statusCtx)
	cancel()

	blockCtx, cancel2 := context.WithTimeout(ctx, perPeerTimeout)
	blockStart := time.Now()
	blockCount, blockErr := peer.Client.BlockCountLocal(blockCtx, p.walletModuleInstanceID)
	latency := time.Since(blockStart)
	cancel2()

	reachable := statusErr == nil || blockErr == nil

	var statusJSON json.RawMessage
	var sessionCountPtr *uint64
	if statusErr == nil {
		statusJSON = statusRaw
		sessionCountPtr = &sessionCount
	}

	var blockCountPtr *uint64
	if blockErr == nil {
		blockCountPtr = &blockCount
	}

	if err := store.InsertGuardianHealth(ctx, p.pool, p.federationID, peer.ID, polledAt, reachable, sessionCountPtr, blockCountPtr, latency.Milliseconds(), statusJSON); err != nil {
		return fmt.Errorf("record health for peer %d: %w", peer.ID, err)
	}
	return nil
}
