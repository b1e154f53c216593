// Package sessionfetch runs the per-federation ordered session producer
// (spec §4.E): it pulls consensus sessions from a federation's guardians in
// strict order and hands them to a consumer, prefetching ahead to mask tail
// latency.
package sessionfetch

import (
	"context"
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
	prefetchDepth   = 32
	fetchRetryDelay = 1 * time.Second
	restartDelay    = 30 * time.Second
)

// Consume processes one session strictly in order. An error stops the
// whole fetch/consume chain, which is then restarted from scratch after
// restartDelay (spec §4.E "if the consumer returns an error the whole task
// restarts after a 30 s pause").
type Consume func(ctx context.Context, session fedtypes.Session) error

type Fetcher struct {
	federationID fedtypes.FederationID
	client       *consensusapi.Client
	pool         *pgxpool.Pool
	log          *logrus.Entry
}

func New(fed fedtypes.FederationID, client *consensusapi.Client, pool *pgxpool.Pool, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		federationID: fed,
		client:       client,
		pool:         pool,
		log:          log.WithFields(logrus.Fields{"component": "sessionfetch", "federation": fed.String()}),
	}
}

// Run blocks until ctx is cancelled, restarting the producer/consumer chain
// on any consumer error.
func (f *Fetcher) Run(ctx context.Context, consume Consume) error {
	for {
		err := f.runOnce(ctx, consume)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.WithError(err).Error("session fetcher chain failed, restarting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(restartDelay):
		}
	}
}

func (f *Fetcher) runOnce(ctx context.Context, consume Consume) error {
	latest, err := store.LatestSessionIndex(ctx, f.pool, f.federationID)
	if err != nil {
		return fmt.Errorf("determine resume point: %w", err)
	}
	next := uint64(latest + 1)

	buffer := make(chan fedtypes.Session, prefetchDepth)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(buffer)
		idx := next
		for {
			data, err := f.awaitBlockWithRetry(gctx, idx)
			if err != nil {
				return err // only ctx cancellation reaches here; awaitBlockWithRetry retries everything else
			}
			session := fedtypes.Session{FederationID: f.federationID, SessionIndex: idx, Data: data}
			select {
			case buffer <- session:
			case <-gctx.Done():
				return gctx.Err()
			}
			idx++
		}
	})

	g.Go(func() error {
		for session := range buffer {
			if err := consume(gctx, session); err != nil {
				return fmt.Errorf("consume session %d: %w", session.SessionIndex, err)
			}
		}
		return nil
	})

	return g.Wait()
}

// awaitBlockWithRetry retries forever at a constant 1s interval, since a
// session not existing yet is the expected steady state, not a failure
// (spec §4.E "sessions may not yet exist").
func (f *Fetcher) awaitBlockWithRetry(ctx context.Context, sessionIndex uint64) ([]byte, error) {
	for {
		data, err := f.client.AwaitBlock(ctx, sessionIndex)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(fetchRetryDelay):
		}
	}
}
