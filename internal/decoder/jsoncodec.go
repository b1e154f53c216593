package decoder

import (
	"encoding/json"
	"fmt"

	"github.com/rawblock/fedobserver/internal/fedtypes"
)

// wireSession is the reference on-the-wire shape a Session.Data blob
// decodes from in this repository's default Registry. A production
// deployment replaces this entirely with a real fedimint-compatible
// decoder; only the Registry/Factory contract in registry.go is load
// bearing for the rest of the observer.
type wireSession struct {
	Items []wireItem `json:"items"`
}

type wireItem struct {
	Type string `json:"type"` // "tx" | "ci"

	// tx
	TxID    string   `json:"txid,omitempty"`
	Inputs  []wireIO `json:"inputs,omitempty"`
	Outputs []wireIO `json:"outputs,omitempty"`

	// ci
	PeerID           *uint16         `json:"peer_id,omitempty"`
	ModuleInstanceID *uint16         `json:"module_instance_id,omitempty"`
	Kind             string          `json:"kind,omitempty"`
	Height           *uint32         `json:"height,omitempty"`
	OnChainTxID      string          `json:"on_chain_txid,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

type wireIO struct {
	ModuleInstanceID uint16          `json:"module_instance_id"`
	AmountMsat       *int64          `json:"amount_msat,omitempty"`
	ContractID       string          `json:"contract_id,omitempty"`
	LNKind           string          `json:"ln_kind,omitempty"` // fund | offer | cancel (outputs only)
	PaymentHash      string          `json:"payment_hash,omitempty"`
	OutPointTxID     string          `json:"out_point_txid,omitempty"`
	OutPointVout     uint32          `json:"out_point_vout,omitempty"`
	Address          string          `json:"address,omitempty"`
	Unsupported      bool            `json:"unsupported,omitempty"`
	Details          json.RawMessage `json:"details,omitempty"`
}

type jsonRegistry struct {
	modules ModuleRegistry
}

// NewJSONRegistry returns the reference Factory used by tests and the
// default cmd/observer wiring.
func NewJSONRegistry() Factory {
	return FactoryFunc(func(modules ModuleRegistry) (Registry, error) {
		return jsonRegistry{modules: modules}, nil
	})
}

func (r jsonRegistry) DecodeSession(raw []byte) ([]fedtypes.DecodedItem, error) {
	var ws wireSession
	if err := json.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	items := make([]fedtypes.DecodedItem, 0, len(ws.Items))
	for _, wi := range ws.Items {
		switch wi.Type {
		case "tx":
			tx, err := r.decodeTx(wi)
			if err != nil {
				return nil, err
			}
			items = append(items, fedtypes.DecodedItem{Transaction: tx})
		case "ci":
			ci, err := r.decodeCI(wi)
			if err != nil {
				return nil, err
			}
			if ci != nil {
				items = append(items, fedtypes.DecodedItem{ConsensusItem: ci})
			} else {
				items = append(items, fedtypes.DecodedItem{})
			}
		default:
			// unknown item type: ignored per spec
			items = append(items, fedtypes.DecodedItem{})
		}
	}
	return items, nil
}

func (r jsonRegistry) decodeTx(wi wireItem) (*fedtypes.DecodedTransaction, error) {
	txid, err := fedtypes.ParseHash32(wi.TxID)
	if err != nil {
		return nil, fmt.Errorf("tx %s: %w", wi.TxID, err)
	}

	raw, _ := json.Marshal(wi)

	inputs := make([]fedtypes.DecodedIO, len(wi.Inputs))
	for i, in := range wi.Inputs {
		io, err := r.decodeIO(in, false)
		if err != nil {
			return nil, fmt.Errorf("tx %s input %d: %w", wi.TxID, i, err)
		}
		inputs[i] = io
	}

	outputs := make([]fedtypes.DecodedIO, len(wi.Outputs))
	for i, out := range wi.Outputs {
		io, err := r.decodeIO(out, true)
		if err != nil {
			return nil, fmt.Errorf("tx %s output %d: %w", wi.TxID, i, err)
		}
		outputs[i] = io
	}

	return &fedtypes.DecodedTransaction{
		TxID:    txid,
		Raw:     raw,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

func (r jsonRegistry) decodeIO(w wireIO, isOutput bool) (fedtypes.DecodedIO, error) {
	kind := r.modules.KindOf(fedtypes.ModuleInstanceID(w.ModuleInstanceID))
	io := fedtypes.DecodedIO{Kind: kind}
	if len(w.Details) > 0 {
		io.DetailsJSON = w.Details
	}

	switch kind {
	case fedtypes.ModuleMint:
		if w.AmountMsat != nil {
			amt := fedtypes.Msat(*w.AmountMsat)
			io.AmountMsat = &amt
		}
	case fedtypes.ModuleLN:
		if w.AmountMsat != nil {
			amt := fedtypes.Msat(*w.AmountMsat)
			io.AmountMsat = &amt
		}
		if w.ContractID != "" {
			cid, err := fedtypes.ParseHash32(w.ContractID)
			if err != nil {
				return io, err
			}
			io.ContractID = &cid
		}
		if w.PaymentHash != "" {
			ph, err := fedtypes.ParseHash32(w.PaymentHash)
			if err != nil {
				return io, err
			}
			io.LNPaymentHash = &ph
		}
		if isOutput {
			io.LNInteractionKind = w.LNKind
		}
	case fedtypes.ModuleWallet:
		if w.AmountMsat != nil {
			amt := fedtypes.Msat(*w.AmountMsat)
			io.AmountMsat = &amt
		}
		if w.Unsupported {
			io.WalletUnsupported = true
			return io, nil
		}
		if !isOutput {
			if w.OutPointTxID != "" {
				opTxid, err := fedtypes.ParseHash32(w.OutPointTxID)
				if err != nil {
					return io, err
				}
				io.WalletOutPoint = &fedtypes.OutPoint{TxID: opTxid, Vout: w.OutPointVout}
			}
			io.WalletAddress = w.Address
		} else if w.Address != "" {
			io.WalletPegOut = &fedtypes.WalletPegOutDetails{Address: w.Address}
		}
	}
	return io, nil
}

func (r jsonRegistry) decodeCI(wi wireItem) (*fedtypes.DecodedConsensusItem, error) {
	if wi.ModuleInstanceID == nil || wi.PeerID == nil {
		return nil, fmt.Errorf("consensus item missing module_instance_id/peer_id")
	}
	kind := r.modules.KindOf(fedtypes.ModuleInstanceID(*wi.ModuleInstanceID))
	raw, _ := json.Marshal(wi)

	ci := &fedtypes.DecodedConsensusItem{
		PeerID:      fedtypes.PeerID(*wi.PeerID),
		Kind:        kind,
		DetailsJSON: raw,
	}

	switch wi.Kind {
	case "wallet.BlockCount":
		ci.BlockHeightVote = wi.Height
	case "wallet.PegOutSignature":
		txid, err := fedtypes.ParseHash32(wi.OnChainTxID)
		if err != nil {
			return nil, fmt.Errorf("peg-out signature: %w", err)
		}
		ci.PegOutSignature = &fedtypes.PegOutSignatureItem{OnChainTxID: txid}
	}

	return ci, nil
}
