// Command observer runs the federation observer: it wires every shared
// handle (spec §9), connects and migrates the store, starts the
// per-federation and singleton task loops, and serves the HTTP façade.
// Grounded on the teacher's cmd/engine/main.go ("build every shared
// resource once, thread it into each subsystem constructor") reworked
// around cobra/viper flag binding in place of bare os.Getenv.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rawblock/fedobserver/internal/api"
	"github.com/rawblock/fedobserver/internal/config"
	"github.com/rawblock/fedobserver/internal/decoder"
	"github.com/rawblock/fedobserver/internal/explorer"
	"github.com/rawblock/fedobserver/internal/federationreg"
	"github.com/rawblock/fedobserver/internal/fedtypes"
	"github.com/rawblock/fedobserver/internal/observer"
	"github.com/rawblock/fedobserver/internal/processor"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// shutdownGrace bounds how long an in-flight request gets to finish once
// the process starts shutting down.
const shutdownGrace = 10 * time.Second

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	entry := logrus.NewEntry(log).WithField("component", "main")

	cmd := &cobra.Command{
		Use:   "fedobserver",
		Short: "Observes federated e-cash consensus sessions and serves aggregate queries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), entry)
		},
	}
	config.Bind(cmd)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		entry.WithError(err).Fatal("fedobserver exited with error")
	}
}

func run(ctx context.Context, log *logrus.Entry) error {
	cfg, err := config.Resolve()
	if err != nil {
		return err
	}

	// Migration backfills (spec §4.A "reprocess-all-sessions",
	// "config-re-serialisation") need a live processor/reencoder before
	// store.Connect runs them, so these are wired ahead of Connect.
	store.SetReprocessor(processor.MigrationReprocessor{
		DecoderFactory: decoder.NewJSONRegistry(),
		PeerCounter:    federationreg.PeerCount,
		Log:            log.WithField("component", "reprocessor"),
	})
	store.SetConfigReencoder(federationreg.CanonicalReencoder{})

	db, err := store.Connect(ctx, cfg.Database, log.WithField("component", "store"))
	if err != nil {
		return err
	}
	defer db.Close()

	hub := api.NewHub()

	handles := observer.Handles{
		Store:       db,
		AdminSecret: cfg.AdminAuth,
		Explorer:    explorer.New(cfg.ExplorerURL),
		Mempool:     explorer.New(cfg.MempoolURL),
		NostrRelays: cfg.NostrRelays,
		OnCommit: func(fed fedtypes.FederationID, sessionIndex uint64, txCount int) {
			hub.BroadcastSessionProcessed(api.SessionProcessed{
				FederationID:     fed,
				SessionIndex:     sessionIndex,
				TransactionCount: txCount,
			})
		},
		Log: log,
	}

	obs := observer.New(handles)
	if err := obs.Start(ctx); err != nil {
		return err
	}

	router := api.SetupRouter(api.Dependencies{
		Aggregation:    handles.AggregationService(),
		Registry:       obs.Registry(),
		Store:          db,
		Hub:            hub,
		Nostr:          obs.Nostr(),
		DecoderFactory: decoder.NewJSONRegistry(),
		AdminSecret:    cfg.AdminAuth,
		Log:            log.WithField("component", "api"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return runHTTPServer(gctx, cfg.Bind, router, log) })
	g.Go(obs.Wait)

	return g.Wait()
}

func runHTTPServer(ctx context.Context, addr string, handler http.Handler, log *logrus.Entry) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("façade listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
