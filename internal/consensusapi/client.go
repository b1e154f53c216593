// Package consensusapi is a client for a federation guardian's JSON-RPC-like
// API exposed over WebSocket (spec §6 "wire dependencies"). It owns exactly
// one connection and correlates concurrent requests by id, the way the
// teacher's internal/api.Hub owns one connection per browser client and
// pairs writes with a mutex-guarded map instead of a client set.
package consensusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type rpcRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("guardian rpc error %d: %s", e.Code, e.Message)
}

// Client talks to a single guardian endpoint. Safe for concurrent Call use;
// the write side is serialised by writeMu since gorilla/websocket forbids
// concurrent writers on one connection.
type Client struct {
	endpoint string
	conn     *websocket.Conn
	writeMu  sync.Mutex
	nextID   uint64

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcResponse

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial opens the connection and starts the background read loop. The
// caller owns the Client's lifetime and must call Close.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 20 * time.Second}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial guardian %s: %w", endpoint, err)
	}

	c := &Client{
		endpoint: endpoint,
		conn:     conn,
		pending:  make(map[uint64]chan rpcResponse),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.failAllPending(err)
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		ch <- rpcResponse{ID: id, Error: &rpcError{Code: -1, Message: err.Error()}}
		delete(c.pending, id)
	}
}

// call issues one JSON-RPC request and waits for its matching response or
// ctx cancellation, whichever comes first.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddUint64(&c.nextID, 1)

	var rawParams json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		rawParams = b
	}

	ch := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	req := rpcRequest{ID: id, Method: method, Params: rawParams}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request %s: %w", method, err)
	}

	c.writeMu.Lock()
	err = c.conn.WriteMessage(websocket.TextMessage, body)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write request %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("guardian connection %s closed", c.endpoint)
	}
}

// AwaitBlock requests the canonically-encoded outcome of session sessionIndex,
// blocking (on the guardian's side) until that session has been agreed.
func (c *Client) AwaitBlock(ctx context.Context, sessionIndex uint64) ([]byte, error) {
	result, err := c.call(ctx, "await_block", map[string]any{"session_index": sessionIndex})
	if err != nil {
		return nil, err
	}
	var encoded struct {
		Data []byte `json:"data"`
	}
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("decode await_block response: %w", err)
	}
	return encoded.Data, nil
}

// Status issues the generic "status" call (spec §4.G "not timed to avoid
// reconnect bias"). The raw result is preserved for storage as-is.
func (c *Client) Status(ctx context.Context) (json.RawMessage, uint64, error) {
	result, err := c.call(ctx, "status", nil)
	if err != nil {
		return nil, 0, err
	}
	var parsed struct {
		Federation struct {
			SessionCount uint64 `json:"session_count"`
		} `json:"federation"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, 0, fmt.Errorf("decode status response: %w", err)
	}
	return result, parsed.Federation.SessionCount, nil
}

// Config requests the federation's signed client config (spec §4.C).
func (c *Client) Config(ctx context.Context) ([]byte, error) {
	result, err := c.call(ctx, "config", nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// BlockCountLocal issues the wallet module's block_count_local call, which
// reports the guardian's own bitcoind view of the chain tip.
func (c *Client) BlockCountLocal(ctx context.Context, walletModuleInstanceID uint16) (uint64, error) {
	result, err := c.call(ctx, "module", map[string]any{
		"module_instance_id": walletModuleInstanceID,
		"method":             "block_count_local",
	})
	if err != nil {
		return 0, err
	}
	var parsed struct {
		Count uint64 `json:"count"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0, fmt.Errorf("decode block_count_local response: %w", err)
	}
	return parsed.Count, nil
}
