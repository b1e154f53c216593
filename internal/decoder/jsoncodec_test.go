package decoder

import (
	"encoding/json"
	"testing"

	"github.com/rawblock/fedobserver/internal/fedtypes"
)

func testModules() ModuleRegistry {
	return ModuleRegistry{
		0: fedtypes.ModuleMint,
		1: fedtypes.ModuleLN,
		2: fedtypes.ModuleWallet,
	}
}

const fakeHash = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func TestJSONRegistry_DecodeSession_PegIn(t *testing.T) {
	reg, err := NewJSONRegistry().ForFederation(testModules())
	if err != nil {
		t.Fatalf("ForFederation: %v", err)
	}

	session := map[string]any{
		"items": []map[string]any{
			{
				"type": "tx",
				"txid": fakeHash,
				"inputs": []map[string]any{
					{
						"module_instance_id": 2,
						"amount_msat":         100000,
						"out_point_txid":      fakeHash,
						"out_point_vout":      0,
						"address":             "bc1qexample",
					},
				},
				"outputs": []map[string]any{
					{"module_instance_id": 0, "amount_msat": 100000},
				},
			},
		},
	}
	raw, _ := json.Marshal(session)

	items, err := reg.DecodeSession(raw)
	if err != nil {
		t.Fatalf("DecodeSession: %v", err)
	}
	if len(items) != 1 || items[0].Transaction == nil {
		t.Fatalf("expected a single decoded transaction, got %+v", items)
	}

	tx := items[0].Transaction
	if len(tx.Inputs) != 1 || tx.Inputs[0].Kind != fedtypes.ModuleWallet {
		t.Fatalf("expected one wallet input, got %+v", tx.Inputs)
	}
	if tx.Inputs[0].WalletOutPoint == nil || tx.Inputs[0].WalletAddress != "bc1qexample" {
		t.Fatalf("peg-in input not decoded: %+v", tx.Inputs[0])
	}
	if len(tx.Outputs) != 1 || tx.Outputs[0].Kind != fedtypes.ModuleMint {
		t.Fatalf("expected one mint output, got %+v", tx.Outputs)
	}
}

func TestJSONRegistry_DecodeSession_UnsupportedWalletVariant(t *testing.T) {
	reg, err := NewJSONRegistry().ForFederation(testModules())
	if err != nil {
		t.Fatalf("ForFederation: %v", err)
	}

	session := map[string]any{
		"items": []map[string]any{
			{
				"type": "tx",
				"txid": fakeHash,
				"inputs": []map[string]any{
					{"module_instance_id": 2, "unsupported": true},
				},
				"outputs": []map[string]any{},
			},
		},
	}
	raw, _ := json.Marshal(session)

	items, err := reg.DecodeSession(raw)
	if err != nil {
		t.Fatalf("DecodeSession: %v", err)
	}
	if !items[0].Transaction.Inputs[0].WalletUnsupported {
		t.Fatal("expected WalletUnsupported to be set")
	}
}

func TestJSONRegistry_DecodeSession_UnknownModuleFallsBack(t *testing.T) {
	reg, err := NewJSONRegistry().ForFederation(ModuleRegistry{})
	if err != nil {
		t.Fatalf("ForFederation: %v", err)
	}

	session := map[string]any{
		"items": []map[string]any{
			{
				"type":    "tx",
				"txid":    fakeHash,
				"inputs":  []map[string]any{{"module_instance_id": 99}},
				"outputs": []map[string]any{},
			},
		},
	}
	raw, _ := json.Marshal(session)

	items, err := reg.DecodeSession(raw)
	if err != nil {
		t.Fatalf("DecodeSession: %v", err)
	}
	if items[0].Transaction.Inputs[0].Kind != fedtypes.ModuleUnknown {
		t.Fatalf("expected ModuleUnknown, got %s", items[0].Transaction.Inputs[0].Kind)
	}
}

func TestJSONRegistry_DecodeSession_BlockCountConsensusItem(t *testing.T) {
	reg, err := NewJSONRegistry().ForFederation(testModules())
	if err != nil {
		t.Fatalf("ForFederation: %v", err)
	}

	peer := uint16(1)
	moduleID := uint16(2)
	height := uint32(800000)
	session := map[string]any{
		"items": []map[string]any{
			{
				"type":                "ci",
				"peer_id":             peer,
				"module_instance_id":  moduleID,
				"kind":                "wallet.BlockCount",
				"height":              height,
			},
		},
	}
	raw, _ := json.Marshal(session)

	items, err := reg.DecodeSession(raw)
	if err != nil {
		t.Fatalf("DecodeSession: %v", err)
	}
	ci := items[0].ConsensusItem
	if ci == nil || ci.BlockHeightVote == nil || *ci.BlockHeightVote != height {
		t.Fatalf("expected block height vote %d, got %+v", height, ci)
	}
}
