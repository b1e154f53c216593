package nostr

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/rawblock/fedobserver/internal/federationreg"
	"github.com/rawblock/fedobserver/internal/fedtypes"
)

const fakeFedID = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func TestParseAnnouncement_OK(t *testing.T) {
	fedID, _ := fedtypes.ParseHash32(fakeFedID)
	invite := federationreg.Encode(federationreg.Invite{FederationID: fedID, Endpoints: []string{"wss://guardian1.example.org"}})
	ev := &nostr.Event{
		ID:        "evt1",
		PubKey:    "pub1",
		CreatedAt: nostr.Timestamp(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix()),
		Tags: nostr.Tags{
			{"d", fakeFedID},
			{"invite", invite},
		},
	}

	ann, err := parseAnnouncement(ev)
	if err != nil {
		t.Fatalf("parseAnnouncement: %v", err)
	}
	want, _ := fedtypes.ParseHash32(fakeFedID)
	if ann.FederationID != want {
		t.Errorf("federation id = %s, want %s", ann.FederationID, want)
	}
	if ann.InviteCode != invite {
		t.Errorf("invite code = %q", ann.InviteCode)
	}
	if ann.EventID != "evt1" || ann.Pubkey != "pub1" {
		t.Errorf("unexpected event/pubkey: %+v", ann)
	}
}

func TestParseAnnouncement_MissingDTag(t *testing.T) {
	ev := &nostr.Event{ID: "evt2", Tags: nostr.Tags{{"invite", "fed1x"}}}
	if _, err := parseAnnouncement(ev); err == nil {
		t.Fatal("expected error for missing d tag")
	}
}

func TestParseAnnouncement_BadFederationID(t *testing.T) {
	ev := &nostr.Event{ID: "evt3", Tags: nostr.Tags{{"d", "not-a-hash"}}}
	if _, err := parseAnnouncement(ev); err == nil {
		t.Fatal("expected error for malformed federation id")
	}
}

func TestParseRating_WithStarPrefix(t *testing.T) {
	ev := &nostr.Event{
		ID:      "evt4",
		Tags:    nostr.Tags{{"d", fakeFedID}},
		Content: "[4/5] reliable and fast",
	}
	got, err := parseRating(ev)
	if err != nil {
		t.Fatalf("parseRating: %v", err)
	}
	if got.stars != 4 {
		t.Errorf("stars = %d, want 4", got.stars)
	}
}

func TestParseRating_NoPrefixDefaultsToZero(t *testing.T) {
	ev := &nostr.Event{
		ID:      "evt5",
		Tags:    nostr.Tags{{"d", fakeFedID}},
		Content: "great federation",
	}
	got, err := parseRating(ev)
	if err != nil {
		t.Fatalf("parseRating: %v", err)
	}
	if got.stars != 0 {
		t.Errorf("stars = %d, want 0", got.stars)
	}
}

func TestParseRating_MissingDTag(t *testing.T) {
	ev := &nostr.Event{ID: "evt6", Content: "[5/5] great"}
	if _, err := parseRating(ev); err == nil {
		t.Fatal("expected error for missing d tag")
	}
}
