// Package blocktime runs the singleton block-time back-index loop (spec
// §4.D): it keeps block_times(height → timestamp) current by polling a
// Bitcoin block-explorer REST API.
package blocktime

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/fedobserver/internal/explorer"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

//go:embed seed.sql
var seedFS embed.FS

const (
	pollInterval   = 60 * time.Second
	fetchFanOut    = 4
	retryDelay     = 60 * time.Second
)

// Indexer owns the loop. One instance runs for the life of the process.
type Indexer struct {
	pool     *pgxpool.Pool
	explorer *explorer.Client
	log      *logrus.Entry
}

func New(pool *pgxpool.Pool, client *explorer.Client, log *logrus.Entry) *Indexer {
	return &Indexer{pool: pool, explorer: client, log: log.WithField("component", "blocktime")}
}

// Run seeds block_times from the embedded snapshot if empty, then loops
// until ctx is cancelled, fetching newly confirmed block headers every
// pollInterval (spec §4.D "sleep 60s and repeat").
func (idx *Indexer) Run(ctx context.Context) error {
	if err := idx.seedIfEmpty(ctx); err != nil {
		idx.log.WithError(err).Warn("seed block_times failed, continuing from explorer only")
	}

	for {
		if err := idx.tick(ctx); err != nil {
			idx.log.WithError(err).Error("block time tick failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (idx *Indexer) seedIfEmpty(ctx context.Context) error {
	max, err := store.MaxIndexedBlockHeight(ctx, idx.pool)
	if err != nil {
		return err
	}
	if max >= 0 {
		return nil
	}

	seed, err := seedFS.ReadFile("seed.sql")
	if err != nil {
		return fmt.Errorf("read embedded seed: %w", err)
	}
	if _, err := idx.pool.Exec(ctx, string(seed)); err != nil {
		return fmt.Errorf("apply block_times seed: %w", err)
	}
	return nil
}

func (idx *Indexer) tick(ctx context.Context) error {
	tip, err := idx.explorer.GetHeight(ctx)
	if err != nil {
		return fmt.Errorf("get chain tip: %w", err)
	}

	last, err := store.MaxIndexedBlockHeight(ctx, idx.pool)
	if err != nil {
		return err
	}
	start := uint32(last + 1)
	if start > tip {
		return nil
	}

	heights := make(chan uint32)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < fetchFanOut; i++ {
		g.Go(func() error {
			for h := range heights {
				if err := idx.fetchAndStore(gctx, h); err != nil {
					return fmt.Errorf("height %d: %w", h, err)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(heights)
		for h := start; h <= tip; h++ {
			select {
			case heights <- h:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	return g.Wait()
}

func (idx *Indexer) fetchAndStore(ctx context.Context, height uint32) error {
	hash, err := idx.explorer.GetBlockHash(ctx, height)
	if err != nil {
		return err
	}
	header, err := idx.explorer.GetHeaderByHash(ctx, hash)
	if err != nil {
		return err
	}
	return store.InsertBlockTime(ctx, idx.pool, height, header.Timestamp)
}
