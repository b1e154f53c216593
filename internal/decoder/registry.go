// Package decoder defines the decoder-registry capability (spec §4.B): the
// observer is handed a registry that knows how to turn a federation's
// opaque per-module payloads into typed fedtypes values. The registry
// itself — and therefore the wire format of a session's canonical bytes —
// is provided by the caller (a real fedimint client library in production);
// this package only fixes the contract and ships a JSON-envelope reference
// implementation so the rest of the observer can be built and tested
// without one.
package decoder

import (
	"github.com/rawblock/fedobserver/internal/fedtypes"
)

// ModuleRegistry maps a federation's module instances to the kind of module
// running at that instance, as read from the federation's client config
// (spec §4.C "signed client configuration").
type ModuleRegistry map[fedtypes.ModuleInstanceID]fedtypes.ModuleKind

// KindOf resolves a module instance id to its kind, or ModuleUnknown if the
// instance is not present in the config (spec: "not-in-config" fallback).
func (m ModuleRegistry) KindOf(id fedtypes.ModuleInstanceID) fedtypes.ModuleKind {
	if kind, ok := m[id]; ok {
		return kind
	}
	return fedtypes.ModuleUnknown
}

// Registry decodes one federation's session outcomes. Implementations are
// immutable after construction and safe for concurrent use by many
// observer tasks (spec §9 "concurrency of the decoder registry" — share one
// instance per federation by handle, not by copy).
type Registry interface {
	// DecodeSession decodes the canonically-encoded bytes of one session
	// into its ordered list of items. A decode error here is, per spec
	// §7, always a bug (either in the freshly fetched data or in
	// previously-stored data) and should propagate as a hard failure to
	// the caller rather than be swallowed.
	DecodeSession(raw []byte) ([]fedtypes.DecodedItem, error)
}

// Factory builds a Registry scoped to one federation's module layout, the
// way §4.E "requests ... with a decoder registry scoped to that
// federation's modules" describes. Production callers supply a Factory
// backed by the real consensus-item/transaction decoders; NewJSONRegistry
// (jsoncodec.go) is the reference implementation used by tests and by the default wiring
// in cmd/observer when no external decoder package is linked in.
type Factory interface {
	ForFederation(modules ModuleRegistry) (Registry, error)
}

// FactoryFunc adapts a function to a Factory.
type FactoryFunc func(modules ModuleRegistry) (Registry, error)

func (f FactoryFunc) ForFederation(modules ModuleRegistry) (Registry, error) {
	return f(modules)
}
