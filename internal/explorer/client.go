// Package explorer is a REST client for a Bitcoin block-explorer/mempool
// API (mempool.space-compatible): block heights and headers for the
// block-time indexer (§4.D), and broadcast transaction lookup for the
// session processor's peg-out handling (§4.F). Grounded on the teacher's
// internal/bitcoin/client.go: a thin struct wrapping an HTTP/RPC client,
// typed wrapper methods per call, using btcsuite types for hashes.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Client wraps a shared *http.Client the way the teacher's bitcoin.Client
// wraps a shared *rpcclient.Client — one instance per subsystem, reused
// across requests rather than constructed per call (spec §5 "external HTTP
// clients are shared per subsystem, not per request").
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s: %w", path, err)
	}
	return nil
}

// GetHeight returns the current chain tip height.
func (c *Client) GetHeight(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.get(ctx, "/api/blocks/tip/height", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetBlockHash returns the hash of the block at height.
func (c *Client) GetBlockHash(ctx context.Context, height uint32) (chainhash.Hash, error) {
	var hashHex string
	if err := c.get(ctx, fmt.Sprintf("/api/block-height/%d", height), &hashHex); err != nil {
		return chainhash.Hash{}, err
	}
	h, err := chainhash.NewHashFromStr(hashHex)
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("parse block hash at height %d: %w", height, err)
	}
	return *h, nil
}

// BlockHeader is the subset of header fields the indexer needs.
type BlockHeader struct {
	Height    uint32    `json:"height"`
	Timestamp time.Time `json:"-"`
}

func (c *Client) GetHeaderByHash(ctx context.Context, hash chainhash.Hash) (BlockHeader, error) {
	var wire struct {
		Height    uint32 `json:"height"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := c.get(ctx, "/api/block/"+hash.String(), &wire); err != nil {
		return BlockHeader{}, err
	}
	return BlockHeader{Height: wire.Height, Timestamp: time.Unix(wire.Timestamp, 0).UTC()}, nil
}

// Tx is the shape of a broadcast transaction needed by the peg-out linking
// step: its inputs' previous outpoints and its outputs' addresses/values.
type Tx struct {
	TxID string  `json:"txid"`
	Vin  []TxIn  `json:"vin"`
	Vout []TxOut `json:"vout"`
	Fee  int64   `json:"fee"`
}

type TxIn struct {
	PrevTxID string `json:"txid"`
	PrevVout uint32 `json:"vout"`
}

type TxOut struct {
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	ValueSat            int64  `json:"value"`
}

func (c *Client) GetTx(ctx context.Context, txid chainhash.Hash) (Tx, error) {
	var tx Tx
	if err := c.get(ctx, "/api/tx/"+txid.String(), &tx); err != nil {
		return Tx{}, err
	}
	return tx, nil
}
