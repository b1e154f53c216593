package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rawblock/fedobserver/internal/fedtypes"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SessionProcessed is broadcast over Hub each time the processor commits a
// new session, supplementing spec.md's poll-only façade with a live tail
// (SPEC_FULL §4 "Live WebSocket tail of newly-processed sessions").
type SessionProcessed struct {
	FederationID     fedtypes.FederationID `json:"federation_id"`
	SessionIndex     uint64                `json:"session_index"`
	TransactionCount int                   `json:"transaction_count"`
}

// Hub maintains the set of active websocket clients and fans out
// newly-processed-session notifications. Grounded on the teacher's
// internal/api/websocket.go hub, generalized from CoinJoin alerts to
// session-processed events.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
	}
}

// Run fans broadcast messages out to every connected client until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Subscribe upgrades a GET /stream request to a websocket connection.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// BroadcastSessionProcessed is wired as the processor's post-commit
// callback so every committed session announces itself to live viewers.
func (h *Hub) BroadcastSessionProcessed(ev SessionProcessed) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		// A full buffer means no one is listening closely enough to
		// matter; drop rather than block the processor's commit path.
	}
}
