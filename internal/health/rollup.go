package health

import "github.com/rawblock/fedobserver/internal/fedtypes"

// BlockOutdated implements the per-peer flag from spec §4.G: a peer is
// considered behind once it trails the best-known chain tip by more than
// six blocks.
func BlockOutdated(ourBlockHeight, peerBlockHeight uint64) bool {
	if peerBlockHeight >= ourBlockHeight {
		return false
	}
	return ourBlockHeight-peerBlockHeight > 6
}

// SessionOutdated implements the session-lag flag from spec §4.G.
func SessionOutdated(maxPeerSession, peerSession uint64) bool {
	if peerSession >= maxPeerSession {
		return false
	}
	return maxPeerSession-peerSession > 1
}

// RollupFederationHealth derives federation-level health from each peer's
// latest reachability, delegating the actual threshold rule to
// fedtypes.ClassifyHealth so the two stay in lockstep. Taking a plain
// []bool rather than a store row type keeps this a pure function,
// independently unit testable from the persistence layer.
func RollupFederationHealth(latestReachable []bool) fedtypes.FederationHealth {
	online := 0
	for _, reachable := range latestReachable {
		if reachable {
			online++
		}
	}
	return fedtypes.ClassifyHealth(len(latestReachable), online)
}
