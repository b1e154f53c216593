// Package nostr maintains a relay pool and keeps federation-discovery
// (kind 38173) and rating (kind 38000) events in sync (spec §4.H). The
// relay protocol itself comes from github.com/nbd-wtf/go-nostr, an
// ecosystem addition — no example repo in the retrieved pack touches
// Nostr, so this package is the one place in the codebase not grounded on
// a specific teacher file beyond the general "singleton sync loop" shape
// shared with internal/blocktime.
package nostr

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rawblock/fedobserver/internal/federationreg"
	"github.com/rawblock/fedobserver/internal/fedtypes"
	"github.com/rawblock/fedobserver/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	KindFederationAnnouncement = 38173
	KindFederationRating       = 38000

	syncInterval     = 60 * time.Second
	handshakeBudget  = 5 * time.Second
	fetchBudget      = 30 * time.Second
	publishBudget    = 5 * time.Second
	restartDelay     = 30 * time.Second
)

var starPrefix = regexp.MustCompile(`^\[([1-5])/5\]`)

// KnownFederations resolves the union of already-observed federations and
// the federations already discovered through Nostr, for rating-event
// filtering (spec §4.H "the union of observed federations ∪ nostr-known
// federations").
type KnownFederations func(ctx context.Context) ([]fedtypes.FederationID, error)

type Synchroniser struct {
	relayURLs []string
	pool      *pgxpool.Pool
	known     KnownFederations
	log       *logrus.Entry
}

func New(relayURLs []string, pool *pgxpool.Pool, known KnownFederations, log *logrus.Entry) *Synchroniser {
	return &Synchroniser{
		relayURLs: relayURLs,
		pool:      pool,
		known:     known,
		log:       log.WithField("component", "nostr"),
	}
}

// Run loops until ctx is cancelled, restarting after restartDelay on a
// fatal error in one sync round.
func (s *Synchroniser) Run(ctx context.Context) error {
	for {
		if err := s.syncOnce(ctx); err != nil {
			s.log.WithError(err).Error("nostr sync round failed")
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
		case <-time.After(syncInterval):
		}
	}
}

func (s *Synchroniser) syncOnce(ctx context.Context) error {
	relays, err := s.connectAll(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, r := range relays {
			r.Close()
		}
	}()

	if err := s.syncAnnouncements(ctx, relays); err != nil {
		return fmt.Errorf("sync federation announcements: %w", err)
	}
	if err := s.syncRatings(ctx, relays); err != nil {
		return fmt.Errorf("sync federation ratings: %w", err)
	}
	return nil
}

func (s *Synchroniser) connectAll(ctx context.Context) ([]*nostr.Relay, error) {
	var relays []*nostr.Relay
	for _, url := range s.relayURLs {
		connCtx, cancel := context.WithTimeout(ctx, handshakeBudget)
		relay, err := nostr.RelayConnect(connCtx, url)
		cancel()
		if err != nil {
			s.log.WithError(err).WithField("relay", url).Warn("relay handshake failed, skipping")
			continue
		}
		relays = append(relays, relay)
	}
	if len(relays) == 0 {
		return nil, fmt.Errorf("no configured relay accepted a connection")
	}
	return relays, nil
}

func (s *Synchroniser) syncAnnouncements(ctx context.Context, relays []*nostr.Relay) error {
	fetchCtx, cancel := context.WithTimeout(ctx, fetchBudget)
	defer cancel()

	filter := nostr.Filter{Kinds: []int{KindFederationAnnouncement}}
	events := fetchFromAll(fetchCtx, relays, filter)

	seen := make(map[string]bool)
	for _, ev := range events {
		if seen[ev.ID] {
			continue
		}
		seen[ev.ID] = true

		ann, err := parseAnnouncement(ev)
		if err != nil {
			s.log.WithError(err).WithField("event_id", ev.ID).Warn("skipping malformed federation announcement")
			continue
		}
		if err := store.UpsertNostrFederation(ctx, s.pool, ann); err != nil {
			return err
		}
	}
	return nil
}

func parseAnnouncement(ev *nostr.Event) (store.NostrFederationAnnouncement, error) {
	var dTag, inviteTag string
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "d":
			dTag = tag[1]
		case "invite":
			inviteTag = tag[1]
		}
	}
	if dTag == "" {
		return store.NostrFederationAnnouncement{}, fmt.Errorf("announcement %s missing d tag", ev.ID)
	}

	fedID, err := fedtypes.ParseHash32(dTag)
	if err != nil {
		return store.NostrFederationAnnouncement{}, fmt.Errorf("announcement %s: %w", ev.ID, err)
	}

	if inviteTag != "" {
		invite, err := federationreg.ParseInvite(inviteTag)
		if err != nil {
			return store.NostrFederationAnnouncement{}, fmt.Errorf("announcement %s: invite code: %w", ev.ID, err)
		}
		if invite.FederationID != fedID {
			return store.NostrFederationAnnouncement{}, fmt.Errorf("announcement %s: invite federation id %s does not match d tag %s", ev.ID, invite.FederationID, fedID)
		}
	}

	return store.NostrFederationAnnouncement{
		FederationID: fedID,
		EventID:      ev.ID,
		Pubkey:       ev.PubKey,
		InviteCode:   inviteTag,
		AnnouncedAt:  ev.CreatedAt.Time().UTC(),
	}, nil
}

func (s *Synchroniser) syncRatings(ctx context.Context, relays []*nostr.Relay) error {
	federations, err := s.known(ctx)
	if err != nil {
		return fmt.Errorf("resolve known federations: %w", err)
	}
	if len(federations) == 0 {
		return nil
	}

	dValues := make([]string, len(federations))
	for i, f := range federations {
		dValues[i] = f.String()
	}

	fetchCtx, cancel := context.WithTimeout(ctx, fetchBudget)
	defer cancel()

	filter := nostr.Filter{Kinds: []int{KindFederationRating}, Tags: nostr.TagMap{"d": dValues}}
	events := fetchFromAll(fetchCtx, relays, filter)

	for _, ev := range events {
		vote, err := parseRating(ev)
		if err != nil {
			s.log.WithError(err).WithField("event_id", ev.ID).Warn("skipping malformed rating event")
			continue
		}
		if err := store.UpsertNostrVote(ctx, s.pool, vote.fed, ev.ID, ev.PubKey, vote.stars, ev.CreatedAt.Time().UTC()); err != nil {
			return err
		}
	}
	return nil
}

type parsedRating struct {
	fed   fedtypes.FederationID
	stars int
}

func parseRating(ev *nostr.Event) (parsedRating, error) {
	var dTag string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "d" {
			dTag = tag[1]
		}
	}
	if dTag == "" {
		return parsedRating{}, fmt.Errorf("rating %s missing d tag", ev.ID)
	}
	fedID, err := fedtypes.ParseHash32(dTag)
	if err != nil {
		return parsedRating{}, fmt.Errorf("rating %s: %w", ev.ID, err)
	}

	stars := 0
	if m := starPrefix.FindStringSubmatch(ev.Content); m != nil {
		stars, _ = strconv.Atoi(m[1])
	}

	return parsedRating{fed: fedID, stars: stars}, nil
}

// PublishRating handles PUT /federations/nostr/rating (spec §6): the body
// is a client-signed kind-38000 event. It is parsed and stored locally the
// same way a fetched event would be, then published to the relay pool with
// a 5s send budget each (spec §4.H "Publishing ... stored locally in the
// same way as fetched events"). Signature validity itself is the caller's
// concern (spec §7 names it as a non-goal of this layer beyond well-formed
// parsing); a relay that rejects an invalid signature simply never echoes
// it back on the next sync.
func (s *Synchroniser) PublishRating(ctx context.Context, ev *nostr.Event) error {
	vote, err := parseRating(ev)
	if err != nil {
		return fmt.Errorf("publish rating: %w", err)
	}
	if err := store.UpsertNostrVote(ctx, s.pool, vote.fed, ev.ID, ev.PubKey, vote.stars, ev.CreatedAt.Time().UTC()); err != nil {
		return err
	}

	relays, err := s.connectAll(ctx)
	if err != nil {
		s.log.WithError(err).Warn("publish rating: no relay reachable, stored locally only")
		return nil
	}
	defer func() {
		for _, r := range relays {
			r.Close()
		}
	}()

	for _, relay := range relays {
		pubCtx, cancel := context.WithTimeout(ctx, publishBudget)
		if err := relay.Publish(pubCtx, *ev); err != nil {
			s.log.WithError(err).WithField("relay", relay.URL).Warn("publish rating to relay failed")
		}
		cancel()
	}
	return nil
}

// PublishAnnouncement handles PUT /nostr/federations (spec §6): the
// counterpart to PublishRating for kind-38173 federation-announcement
// events.
func (s *Synchroniser) PublishAnnouncement(ctx context.Context, ev *nostr.Event) error {
	ann, err := parseAnnouncement(ev)
	if err != nil {
		return fmt.Errorf("publish announcement: %w", err)
	}
	if err := store.UpsertNostrFederation(ctx, s.pool, ann); err != nil {
		return err
	}

	relays, err := s.connectAll(ctx)
	if err != nil {
		s.log.WithError(err).Warn("publish announcement: no relay reachable, stored locally only")
		return nil
	}
	defer func() {
		for _, r := range relays {
			r.Close()
		}
	}()

	for _, relay := range relays {
		pubCtx, cancel := context.WithTimeout(ctx, publishBudget)
		if err := relay.Publish(pubCtx, *ev); err != nil {
			s.log.WithError(err).WithField("relay", relay.URL).Warn("publish announcement to relay failed")
		}
		cancel()
	}
	return nil
}

// fetchFromAll drains a subscription against every connected relay,
// returning once the context budget expires (relays may legitimately never
// send an EOSE on a long-poll filter).
func fetchFromAll(ctx context.Context, relays []*nostr.Relay, filter nostr.Filter) []*nostr.Event {
	var out []*nostr.Event
	for _, relay := range relays {
		sub, err := relay.Subscribe(ctx, nostr.Filters{filter})
		if err != nil {
			continue
		}
		func() {
			defer sub.Unsub()
			for {
				select {
				case ev, ok := <-sub.Events:
					if !ok {
						return
					}
					out = append(out, ev)
				case <-sub.EndOfStoredEvents:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	return out
}
