package websocket

import (
	"bytes"
	"encoding/json"
	"sync"

	"tradecore/pkg/utils"
)

// jsonBufferPool avoids a fresh allocation on every Broadcast call.
var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// Hub is the central fan-out point for live trade-loop state: it tracks
// every connected client and pushes position, pair, notification, and
// balance updates to all of them.
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub creates an unstarted Hub. Call Run in its own goroutine before
// accepting connections.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run is the Hub's event loop: register/unregister/broadcast. Runs until
// the process exits; there is no Stop, matching ServeWS's lifetime.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			utils.Infof("websocket client connected, total=%d", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			utils.Infof("websocket client disconnected, total=%d", n)

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var slow []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				utils.Warnf("dropped %d slow websocket clients, total=%d", len(slow), n)
			}
		}
	}
}

// Broadcast JSON-encodes message and queues it for every connected
// client.
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		utils.Errorf("marshal broadcast message: %v", err)
		jsonBufferPool.Put(buf)
		return
	}

	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	h.broadcast <- msgCopy
}

// BroadcastPositionUpdate pushes a single-leg position's current state.
func (h *Hub) BroadcastPositionUpdate(msg *PositionUpdateMessage) {
	h.Broadcast(msg)
}

// BroadcastPairUpdate pushes a pair position's current spread state.
func (h *Hub) BroadcastPairUpdate(msg *PairUpdateMessage) {
	h.Broadcast(msg)
}

// BroadcastNotification pushes one Notifier event to every client.
func (h *Hub) BroadcastNotification(msg *NotificationMessage) {
	h.Broadcast(msg)
}

// BroadcastBalanceUpdate pushes one exchange's current balance.
func (h *Hub) BroadcastBalanceUpdate(msg *BalanceUpdateMessage) {
	h.Broadcast(msg)
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
