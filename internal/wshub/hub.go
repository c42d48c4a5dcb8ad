// Package wshub fans out the outbound WebSocket message union of §6
// (event, state_sync, brake, trust_update, decision_resolved,
// trust_config_update) to every connected dashboard client. Grounded on
// the pack's register/unregister/broadcast channel hub shape, adapted
// to a per-client buffered send channel plus a dedicated writer
// goroutine so one slow reader can never block a broadcast to others.
package wshub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/conductor/internal/trust"
	"github.com/agentoven/conductor/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message is the outbound envelope, tagged by Type.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// EventMessage is the "event" message's Data payload: the raw envelope
// plus a workspace-visibility classification (§9 design note) so a
// dashboard can filter without re-deriving readability rules.
type EventMessage struct {
	Event      models.EventEnvelope `json:"event"`
	Visibility string               `json:"visibility"`
}

// StateSyncMessage is the "state_sync" message's Data payload.
type StateSyncMessage struct {
	Snapshot      models.KnowledgeSnapshot `json:"snapshot"`
	ActiveAgents  []models.AgentHandle     `json:"activeAgents"`
	TrustScores   map[string]int           `json:"trustScores"`
	ControlMode   string                   `json:"controlMode"`
	ProjectConfig *models.ProjectConfig    `json:"projectConfig,omitempty"`
}

// TrustUpdateMessage is the "trust_update" message's Data payload.
type TrustUpdateMessage struct {
	AgentID string `json:"agentId"`
	Score   int    `json:"score"`
	Delta   int    `json:"delta"`
}

// TrustConfigUpdateMessage is the "trust_config_update" message's Data
// payload, broadcast whenever the trust engine is reconfigured.
type TrustConfigUpdateMessage struct {
	Config trust.Config `json:"config"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected clients in a map guarded by mu; broadcast copies
// the client set under the read lock before fanning out, so writers
// never race on it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// ServeWS upgrades the request to a WebSocket and registers the
// resulting connection until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("wshub: upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	log.Debug().Int("clients", h.count()).Msg("wshub: client connected")

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
	log.Debug().Int("clients", h.count()).Msg("wshub: client disconnected")
}

// readPump drains inbound frames (pings/keepalive only — the protocol
// is server-push) until the connection closes.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.remove(c)
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast marshals msg once and fans it to every client's send
// buffer, dropping (and disconnecting) any client whose buffer is full
// rather than blocking the rest.
func (h *Hub) broadcast(msg Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("wshub: marshal failed")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- body:
		default:
			log.Warn().Msg("wshub: client send buffer full, disconnecting")
			h.remove(c)
		}
	}
}

// BroadcastEvent publishes an "event" message.
func (h *Hub) BroadcastEvent(e models.EventEnvelope, visibility string) {
	h.broadcast(Message{Type: "event", Data: EventMessage{Event: e, Visibility: visibility}})
}

// BroadcastStateSync publishes a "state_sync" message.
func (h *Hub) BroadcastStateSync(snapshot models.KnowledgeSnapshot, activeAgents []models.AgentHandle, trustScores map[string]int, controlMode string, projectConfig *models.ProjectConfig) {
	h.broadcast(Message{Type: "state_sync", Data: StateSyncMessage{
		Snapshot:      snapshot,
		ActiveAgents:  activeAgents,
		TrustScores:   trustScores,
		ControlMode:   controlMode,
		ProjectConfig: projectConfig,
	}})
}

// BroadcastBrake publishes a "brake" message. Implements the
// brake.Broadcaster contract.
func (h *Hub) BroadcastBrake(state models.BrakeState) {
	h.broadcast(Message{Type: "brake", Data: state})
}

// BroadcastTrustUpdate publishes a "trust_update" message. Implements
// the toolgate.Broadcaster contract.
func (h *Hub) BroadcastTrustUpdate(agentID string, score, delta int) {
	h.broadcast(Message{Type: "trust_update", Data: TrustUpdateMessage{AgentID: agentID, Score: score, Delta: delta}})
}

// BroadcastDecisionResolved publishes a "decision_resolved" message.
// Implements the toolgate.Broadcaster contract.
func (h *Hub) BroadcastDecisionResolved(decision models.Decision) {
	h.broadcast(Message{Type: "decision_resolved", Data: decision})
}

// BroadcastTrustConfigUpdate publishes a "trust_config_update" message,
// fired whenever the trust engine's calibration changes.
func (h *Hub) BroadcastTrustConfigUpdate(cfg trust.Config) {
	h.broadcast(Message{Type: "trust_config_update", Data: TrustConfigUpdateMessage{Config: cfg}})
}
