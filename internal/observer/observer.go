// Package observer wires the per-federation task chains and the
// singleton loops together and owns the process-wide shutdown handle
// (spec §2 control flow, §5 Concurrency & Resource Model, §9 "Shared
// handles"). Grounded on the teacher's top-level `cmd/` wiring (a single
// struct of shared resources constructed once in main and threaded into
// every subsystem constructor) generalized to a dynamic set of
// federations whose task chains can be spawned after startup.
package observer

import (
	"context"
	"fmt"

	"github.com/rawblock/fedobserver/internal/aggregation"
	"github.com/rawblock/fedobserver/internal/blocktime"
	"github.com/rawblock/fedobserver/internal/consensusapi"
	"github.com/rawblock/fedobserver/internal/decoder"
	"github.com/rawblock/fedobserver/internal/explorer"
	"github.com/rawblock/fedobserver/internal/federationreg"
	"github.com/rawblock/fedobserver/internal/fedtypes"
	"github.com/rawblock/fedobserver/internal/health"
	"github.com/rawblock/fedobserver/internal/nostr"
	"github.com/rawblock/fedobserver/internal/processor"
	"github.com/rawblock/fedobserver/internal/sessionfetch"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/rawblock/fedobserver/internal/views"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Handles is the value type described in spec §9: a connection pool, an
// admin secret, the shared explorer client, and the configured Nostr
// relay set. Every spawned task is handed a copy of this struct (the
// pointers inside are shared; the struct itself is not), rather than
// reaching for package-level globals.
type Handles struct {
	Store       *store.Store
	AdminSecret string
	Explorer    *explorer.Client        // block-time indexer's chain-tip/header source (spec §4.D)
	Mempool     *explorer.Client        // processor's broadcast-transaction lookup (spec §4.F), a distinct configured endpoint
	NostrRelays []string
	OnCommit    processor.CommitHook // optional live-tail notification, wired to the façade's Hub
	Log         *logrus.Entry
}

func (h Handles) withComponent(name string) Handles {
	h.Log = h.Log.WithField("component", name)
	return h
}

// AggregationService builds the read-side query service the façade serves
// GET /federations* from (spec §4.J), over the same pool every task chain
// writes through.
func (h Handles) AggregationService() *aggregation.Service {
	return aggregation.New(h.Store.Pool())
}

// Observer owns the process-wide task group: every long-running loop,
// singleton or per-federation, is registered on it, and shutdown is a
// single context cancellation away.
type Observer struct {
	handles Handles
	group   *errgroup.Group
	gctx    context.Context
	nostr   *nostr.Synchroniser
}

// Nostr exposes the Nostr synchroniser so the façade can publish rating
// and announcement events submitted over PUT /federations/nostr/rating and
// PUT /nostr/federations (spec §6). Only valid after Start.
func (o *Observer) Nostr() *nostr.Synchroniser {
	return o.nostr
}

func New(handles Handles) *Observer {
	return &Observer{handles: handles}
}

// Registry exposes AddFederation as a federationreg.Spawner callback so
// the HTTP façade can register new federations without this package
// depending on internal/api.
func (o *Observer) Registry() *federationreg.Registry {
	return federationreg.New(federationreg.WSDownloader{}, o.SpawnFederation)
}

// Start loads every already-observed federation (spec §2 "loads C"),
// spawns its {E+F, G} task pair, then spawns D, H, I as singletons. It
// returns once everything is launched; call Wait to block for shutdown.
func (o *Observer) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	o.group = g
	o.gctx = gctx

	feds, err := store.ListFederations(gctx, o.handles.Store.Pool())
	if err != nil {
		return fmt.Errorf("load observed federations: %w", err)
	}
	for _, fed := range feds {
		o.SpawnFederation(fed)
	}

	blockIndexer := blocktime.New(o.handles.Store.Pool(), o.handles.Explorer, o.handles.withComponent("blocktime").Log)
	g.Go(func() error { return blockIndexer.Run(gctx) })

	o.nostr = nostr.New(o.handles.NostrRelays, o.handles.Store.Pool(), o.knownFederationIDs, o.handles.withComponent("nostr").Log)
	g.Go(func() error { return o.nostr.Run(gctx) })

	viewLoop := views.New(o.handles.Store, o.handles.withComponent("views").Log)
	g.Go(func() error { return viewLoop.Run(gctx) })

	return nil
}

// Wait blocks until every spawned task has returned, which only happens
// on context cancellation (every loop is internally self-healing and
// otherwise runs forever).
func (o *Observer) Wait() error {
	return o.group.Wait()
}

// SpawnFederation starts a fresh {E+F, G} task pair for one federation
// (spec §4.C "spawn a fresh {E+F, G} task pair"). Safe to call both during
// Start's initial load and later from the federation registry's Spawner
// callback when an operator adds a new federation at runtime.
func (o *Observer) SpawnFederation(fed fedtypes.Federation) {
	o.group.Go(func() error {
		return o.runFederation(o.gctx, fed)
	})
}

func (o *Observer) runFederation(ctx context.Context, fed fedtypes.Federation) error {
	log := o.handles.withComponent("federation").Log.WithField("federation", fed.ID.String())

	if len(fed.Endpoints) == 0 {
		log.Error("federation has no recorded guardian endpoints, cannot spawn its tasks")
		return nil
	}

	modules, err := federationreg.ModulesFromConfig(fed.Config)
	if err != nil {
		return fmt.Errorf("federation %s: resolve modules: %w", fed.ID, err)
	}
	peerCount, err := federationreg.PeerCount(fed.Config)
	if err != nil {
		return fmt.Errorf("federation %s: resolve peer count: %w", fed.ID, err)
	}

	walletModuleID, ok := walletInstanceID(modules)
	if !ok {
		log.Warn("federation has no wallet module, peg-in/out and health block-count tracking are disabled")
	}

	peerClients, peers, err := dialGuardians(ctx, fed.Endpoints)
	if err != nil {
		return fmt.Errorf("federation %s: dial guardians: %w", fed.ID, err)
	}
	defer func() {
		for _, c := range peerClients {
			c.Close()
		}
	}()

	registry, err := decoder.NewJSONRegistry().ForFederation(modules)
	if err != nil {
		return fmt.Errorf("federation %s: build decoder: %w", fed.ID, err)
	}

	proc := processor.New(fed.ID, peerCount, registry, o.handles.Store.Pool(), o.handles.Mempool, log)
	if o.handles.OnCommit != nil {
		proc.SetCommitHook(o.handles.OnCommit)
	}
	fetcher := sessionfetch.New(fed.ID, peerClients[0], o.handles.Store.Pool(), log)
	poller := health.New(fed.ID, peers, uint16(walletModuleID), o.handles.Store.Pool(), log)

	inner, innerCtx := errgroup.WithContext(ctx)
	inner.Go(func() error { return fetcher.Run(innerCtx, proc.ProcessSession) })
	inner.Go(func() error { return poller.Run(innerCtx) })
	return inner.Wait()
}

func walletInstanceID(modules decoder.ModuleRegistry) (fedtypes.ModuleInstanceID, bool) {
	for id, kind := range modules {
		if kind == fedtypes.ModuleWallet {
			return id, true
		}
	}
	return 0, false
}

func dialGuardians(ctx context.Context, endpoints []string) ([]*consensusapi.Client, []health.Peer, error) {
	clients := make([]*consensusapi.Client, 0, len(endpoints))
	peers := make([]health.Peer, 0, len(endpoints))
	for i, endpoint := range endpoints {
		client, err := consensusapi.Dial(ctx, endpoint)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, nil, fmt.Errorf("dial guardian %d (%s): %w", i, endpoint, err)
		}
		clients = append(clients, client)
		peers = append(peers, health.Peer{ID: fedtypes.PeerID(i), Client: client})
	}
	return clients, peers, nil
}

// knownFederationIDs implements nostr.KnownFederations over the
// federation registry: the rating sync filters by every federation this
// observer already knows about, regardless of whether it came from direct
// onboarding or from a Nostr-discovered announcement (spec §4.H "union of
// observed federations ∪ nostr-known federations").
func (o *Observer) knownFederationIDs(ctx context.Context) ([]fedtypes.FederationID, error) {
	observed, err := store.ListFederations(ctx, o.handles.Store.Pool())
	if err != nil {
		return nil, err
	}
	nostrKnown, err := store.ListNostrFederations(ctx, o.handles.Store.Pool())
	if err != nil {
		return nil, err
	}

	seen := make(map[fedtypes.FederationID]bool, len(observed)+len(nostrKnown))
	var out []fedtypes.FederationID
	for _, f := range observed {
		if !seen[f.ID] {
			seen[f.ID] = true
			out = append(out, f.ID)
		}
	}
	for _, n := range nostrKnown {
		if !seen[n.FederationID] {
			seen[n.FederationID] = true
			out = append(out, n.FederationID)
		}
	}
	return out, nil
}
