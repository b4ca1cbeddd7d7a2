package wshub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// Client message types.
const (
	MsgStart  = "start"
	MsgHit    = "hit"
	MsgMiss   = "miss"
	MsgResize = "resize"
)

// ClientMessage is the JSON structure received from clients.
type ClientMessage struct {
	Type     string  `json:"t"`
	TargetID int     `json:"id,omitempty"`
	W        float64 `json:"w,omitempty"`
	H        float64 `json:"h,omitempty"`
}

// ErrorMessage is sent back when a client message can't be handled.
type ErrorMessage struct {
	Type  string `json:"t"`
	Error string `json:"error"`
}

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ProfileID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub tracks at most one WebSocket per profile.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds c, replacing any socket the profile already had. The old
// client's Send channel is closed so its write pump exits.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old, ok := h.clients[c.ProfileID]
	h.clients[c.ProfileID] = c
	if ok && old != c {
		close(old.Send)
	}
	h.mu.Unlock()

	if ok && old != c {
		log.Debug().Str("profile_id", c.ProfileID).Msg("websocket replaced")
	}
}

// Unregister removes c if it is still the profile's current client. A client
// that was already replaced is left alone.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.ProfileID]; ok && cur == c {
		close(c.Send)
		delete(h.clients, c.ProfileID)
	}
}

// SendTo queues msg for the profile's socket. Non-blocking: it reports false
// when there is no socket or its channel is full.
func (h *Hub) SendTo(profileID string, msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("encoding websocket message")
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[profileID]
	if !ok {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
