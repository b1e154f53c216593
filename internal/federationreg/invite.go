package federationreg

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/rawblock/fedobserver/internal/fedtypes"
)

// Invite is a parsed federation invite code: the asserted federation id and
// the guardian WebSocket endpoints to contact for the signed client config.
// Real invite codes are bech32m-encoded blobs the guardian's own SDK knows
// how to produce; this package only needs to parse what its own federations
// registry is handed, so it uses a self-contained "fed1<base32 payload>"
// encoding carrying the same two fields (spec §4.C: "parse the invite
// string, resolve its guardian endpoints ... verify the derived
// federation_id matches the invite's asserted id").
type Invite struct {
	FederationID fedtypes.FederationID
	Endpoints    []string // ws(s):// guardian API urls, in peer-id order
}

const invitePrefix = "fed1"

// ParseInvite decodes an invite string. Format after the prefix is
// base32(federation_id_hex || "|" || endpoint1 || "," || endpoint2 || ...).
func ParseInvite(s string) (Invite, error) {
	if !strings.HasPrefix(s, invitePrefix) {
		return Invite{}, fmt.Errorf("invite %q: missing %q prefix", s, invitePrefix)
	}
	payload, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(strings.TrimPrefix(s, invitePrefix)))
	if err != nil {
		return Invite{}, fmt.Errorf("invite %q: invalid encoding: %w", s, err)
	}

	parts := strings.SplitN(string(payload), "|", 2)
	if len(parts) != 2 {
		return Invite{}, fmt.Errorf("invite %q: malformed payload", s)
	}

	fedID, err := fedtypes.ParseHash32(parts[0])
	if err != nil {
		return Invite{}, fmt.Errorf("invite %q: %w", s, err)
	}

	endpoints := strings.Split(parts[1], ",")
	if len(endpoints) == 0 || endpoints[0] == "" {
		return Invite{}, fmt.Errorf("invite %q: no guardian endpoints", s)
	}

	return Invite{FederationID: fedID, Endpoints: endpoints}, nil
}

// Encode is the inverse of ParseInvite, used by tests and by any future
// admin tooling that needs to mint an invite for a known federation.
func Encode(inv Invite) string {
	payload := inv.FederationID.String() + "|" + strings.Join(inv.Endpoints, ",")
	return invitePrefix + strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString([]byte(payload)))
}
