package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rawblock/fedobserver/internal/fedtypes"
)

// NostrFederationAnnouncement is one decoded kind-38173 federation
// announcement event (spec §4.H).
type NostrFederationAnnouncement struct {
	FederationID     fedtypes.FederationID
	EventID          string
	Pubkey           string
	InviteCode       string
	RelayHint        string
	AnnouncedAt      time.Time
	MetaOverrideURL  string
	MetaExternalURL  string
}

// UpsertNostrFederation replaces the stored announcement for a federation
// only if the incoming event is newer, matching relay replaceable-event
// semantics (spec §4.H "latest announcement wins").
func UpsertNostrFederation(ctx context.Context, db DBTX, a NostrFederationAnnouncement) error {
	_, err := db.Exec(ctx,
		`INSERT INTO nostr_federations (federation_id, event_id, pubkey, invite_code, relay_hint, announced_at, meta_override_url, meta_external_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (federation_id) DO UPDATE SET
		   event_id = excluded.event_id, pubkey = excluded.pubkey, invite_code = excluded.invite_code,
		   relay_hint = excluded.relay_hint, announced_at = excluded.announced_at,
		   meta_override_url = excluded.meta_override_url, meta_external_url = excluded.meta_external_url
		 WHERE nostr_federations.announced_at < excluded.announced_at`,
		a.FederationID.Bytes(), a.EventID, a.Pubkey, a.InviteCode, nullableString(a.RelayHint), a.AnnouncedAt,
		nullableString(a.MetaOverrideURL), nullableString(a.MetaExternalURL))
	if err != nil {
		return fmt.Errorf("upsert nostr federation %s: %w", a.FederationID, err)
	}
	return nil
}

func ListNostrFederations(ctx context.Context, db DBTX) ([]NostrFederationAnnouncement, error) {
	rows, err := db.Query(ctx,
		`SELECT federation_id, event_id, pubkey, invite_code, coalesce(relay_hint, ''), announced_at,
		        coalesce(meta_override_url, ''), coalesce(meta_external_url, '')
		 FROM nostr_federations ORDER BY announced_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list nostr federations: %w", err)
	}
	defer rows.Close()

	var out []NostrFederationAnnouncement
	for rows.Next() {
		var a NostrFederationAnnouncement
		var idBytes []byte
		if err := rows.Scan(&idBytes, &a.EventID, &a.Pubkey, &a.InviteCode, &a.RelayHint, &a.AnnouncedAt, &a.MetaOverrideURL, &a.MetaExternalURL); err != nil {
			return nil, err
		}
		a.FederationID = fedtypes.HashFromBytes(idBytes)
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertNostrVote records (or replaces) one pubkey's rating of a federation
// (spec §4.H kind-38000). One vote per pubkey per federation; the newest
// replaces the prior one, matching the teacher's replaceable-event pattern.
func UpsertNostrVote(ctx context.Context, db DBTX, fed fedtypes.FederationID, eventID, pubkey string, rating int, ratedAt time.Time) error {
	_, err := db.Exec(ctx,
		`INSERT INTO nostr_votes (federation_id, event_id, pubkey, rating, rated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (federation_id, pubkey) DO UPDATE SET
		   event_id = excluded.event_id, rating = excluded.rating, rated_at = excluded.rated_at
		 WHERE nostr_votes.rated_at < excluded.rated_at`,
		fed.Bytes(), eventID, pubkey, rating, ratedAt)
	if err != nil {
		return fmt.Errorf("upsert nostr vote %s/%s: %w", fed, pubkey, err)
	}
	return nil
}

// AverageRating returns the mean rating and vote count for a federation.
func AverageRating(ctx context.Context, db DBTX, fed fedtypes.FederationID) (avg float64, count int, err error) {
	var a *float64
	err = db.QueryRow(ctx,
		`SELECT avg(rating), count(*) FROM nostr_votes WHERE federation_id = $1`, fed.Bytes()).Scan(&a, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("average rating for %s: %w", fed, err)
	}
	if a != nil {
		avg = *a
	}
	return avg, count, nil
}
