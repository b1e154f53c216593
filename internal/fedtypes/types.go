// Package fedtypes defines the domain vocabulary shared by every observer
// component: federation/session/transaction identifiers, the tagged-variant
// module payloads described in spec §9, and the small value types threaded
// through the store, processor, and aggregation layers.
package fedtypes

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash32 is a 32-byte content hash (federation id, txid, contract id, ...).
type Hash32 [32]byte

func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash32) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}

func (h Hash32) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

func (h *Hash32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseHash32(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func ParseHash32(s string) (Hash32, error) {
	var h Hash32
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash32 %q: %w", s, err)
	}
	if len(b) != 32 {
		return h, fmt.Errorf("invalid hash32 %q: want 32 bytes, got %d", s, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromBytes copies a (not necessarily 32-byte) slice into a Hash32
// without checking its length: a shorter slice leaves the trailing bytes
// zero and a longer one is truncated. Used on data already validated by a
// content hash function.
func HashFromBytes(b []byte) Hash32 {
	var h Hash32
	copy(h[:], b)
	return h
}

// FederationID identifies a federation by the consensus hash of its config.
type FederationID = Hash32

// TxID identifies a federation consensus transaction.
type TxID = Hash32

// ContractID identifies a Lightning contract.
type ContractID = Hash32

// PeerID is a guardian's index within its federation (0-based).
type PeerID uint16

// Msat is an amount of millisatoshis, fedimint's native unit of value.
type Msat int64

// ModuleKind names the consensus module a given input/output/item belongs
// to. "mint", "ln" and "wallet" are understood by the processor; anything
// else is carried through opaquely (spec §9 "open unknown case").
type ModuleKind string

const (
	ModuleMint    ModuleKind = "mint"
	ModuleLN      ModuleKind = "ln"
	ModuleWallet  ModuleKind = "wallet"
	ModuleUnknown ModuleKind = "unknown"
)

// ModuleInstanceID is the per-federation module instance identifier carried
// on the wire alongside each opaque payload (spec §9 "polymorphic module
// payloads").
type ModuleInstanceID uint16

// Federation is the persisted record of an observed federation.
type Federation struct {
	ID        FederationID
	Config    []byte   // opaque canonical-encoded client config blob
	Endpoints []string // guardian API endpoints, in peer-id order, from the onboarding invite
}

// Session is one consensus round's raw, canonically-encoded outcome.
type Session struct {
	FederationID FederationID
	SessionIndex uint64
	Data         []byte
}

// DecodedItem is the result of running a decoder over one session item: it
// is either an accepted transaction or a module consensus item. Exactly one
// of Transaction / ConsensusItem is set; an item that decodes to neither
// (spec: "unknown items are ignored") has both nil.
type DecodedItem struct {
	Transaction   *DecodedTransaction
	ConsensusItem *DecodedConsensusItem
}

// DecodedTransaction is a single accepted consensus transaction and its
// typed inputs/outputs.
type DecodedTransaction struct {
	TxID    TxID
	Raw     []byte
	Inputs  []DecodedIO
	Outputs []DecodedIO
}

// DecodedIO is one input or output of a transaction, already resolved to a
// module kind with any module-specific fields the processor needs.
type DecodedIO struct {
	Kind ModuleKind

	// Common
	AmountMsat *Msat

	// ln
	ContractID            *ContractID
	LNInteractionKind      string // "", "fund", "offer", "cancel" (outputs only)
	LNPaymentHash          *Hash32

	// wallet (input = peg-in, output = peg-out)
	WalletOutPoint     *OutPoint
	WalletAddress      string
	WalletPegOut       *WalletPegOutDetails
	WalletUnsupported  bool // set when the wallet variant is unsupported (e.g. RBF)

	// Raw per-kind JSON for debug inspection (TransactionItemDetails).
	DetailsJSON json.RawMessage
}

// WalletPegOutDetails carries the recipient address of a wallet peg-out
// output, before it is persisted as a WalletWithdrawalRequest.
type WalletPegOutDetails struct {
	Address string
}

// OutPoint references a Bitcoin on-chain output.
type OutPoint struct {
	TxID TxID // on-chain txid, not a federation txid
	Vout uint32
}

// DecodedConsensusItem is a non-transaction module item.
type DecodedConsensusItem struct {
	PeerID PeerID
	Kind   ModuleKind
	// DetailsJSON is the verbatim JSON encoding stored in ConsensusItem.
	DetailsJSON json.RawMessage

	// wallet.BlockCount
	BlockHeightVote *uint32

	// wallet.PegOutSignature
	PegOutSignature *PegOutSignatureItem
}

// PegOutSignatureItem is a threshold-signature share for a pending on-chain
// withdrawal transaction.
type PegOutSignatureItem struct {
	OnChainTxID Hash32
}

// GuardianStatus is the decoded reply to the generic "status" guardian RPC.
// Unknown/absent fields are left zero; the wire JSON is kept verbatim in
// Raw for storage (spec: GuardianHealth.status is `json?`).
type GuardianStatus struct {
	Raw            json.RawMessage
	SessionCount   *uint64
}

// FederationHealth is the three-value health classification from §4.G.
type FederationHealth string

const (
	HealthOnline   FederationHealth = "online"
	HealthDegraded FederationHealth = "degraded"
	HealthOffline  FederationHealth = "offline"
)

// Threshold returns t = n - floor((n-1)/3), the BFT signing/liveness
// threshold used throughout the spec (peg-out signatures, health rollup).
func Threshold(n int) int {
	if n <= 0 {
		return 0
	}
	return n - (n-1)/3
}

// ClassifyHealth implements the federation-level health rule of §4.G.
func ClassifyHealth(n, onlinePeers int) FederationHealth {
	if n <= 1 {
		return HealthOnline
	}
	t := Threshold(n)
	switch {
	case onlinePeers > t:
		return HealthOnline
	case onlinePeers == t:
		return HealthDegraded
	default:
		return HealthOffline
	}
}
