package federationreg

import (
	"testing"

	"github.com/rawblock/fedobserver/internal/fedtypes"
)

func mustHash(t *testing.T, s string) fedtypes.Hash32 {
	t.Helper()
	h, err := fedtypes.ParseHash32(s)
	if err != nil {
		t.Fatalf("ParseHash32(%q): %v", s, err)
	}
	return h
}

func TestParseInvite_RoundTrip(t *testing.T) {
	inv := Invite{
		FederationID: mustHash(t, "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"),
		Endpoints:    []string{"wss://guardian1.example.org", "wss://guardian2.example.org"},
	}

	encoded := Encode(inv)
	parsed, err := ParseInvite(encoded)
	if err != nil {
		t.Fatalf("ParseInvite: %v", err)
	}
	if parsed.FederationID != inv.FederationID {
		t.Errorf("federation id mismatch: got %s, want %s", parsed.FederationID, inv.FederationID)
	}
	if len(parsed.Endpoints) != 2 || parsed.Endpoints[0] != inv.Endpoints[0] {
		t.Errorf("endpoints mismatch: got %v", parsed.Endpoints)
	}
}

func TestParseInvite_MissingPrefix(t *testing.T) {
	if _, err := ParseInvite("not-an-invite"); err == nil {
		t.Fatal("expected error for missing prefix")
	}
}

func TestParseInvite_MalformedPayload(t *testing.T) {
	bad := invitePrefix + "ORSXG5A"
	if _, err := ParseInvite(bad); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
