package eventbus

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/npcforge/npcforge/internal/domain"
)

// Timing constants grounded on the pack's fastview websocket client
// (niceyeti-tabular/tabular/server/fastview/client.go): a short write
// deadline, a ping cadence well inside the pong-wait window.
const (
	writeWait      = time.Second
	pingInterval   = 20 * time.Second
	pongWait       = pingInterval * 3
	sendBufferSize = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientMessage is the shape of an inbound push-channel message: spec §6
// defines {type:"subscribe", events:[…]} and {type:"ping"}.
type clientMessage struct {
	Type   string                   `json:"type"`
	Events []domain.CombatEventType `json:"events,omitempty"`
}

// serverMessage is the shape of every outbound push-channel message per
// spec §6: hello/combat_snapshot/combat_events/combat_update/subscribed/pong.
// State carries either a map[string]domain.CombatantState (combat_snapshot)
// or a single domain.CombatantState (combat_update); only one message type
// ever sets it, so a shared `any` field is simpler than two near-duplicates.
// Events carries either []domain.CombatEvent (combat_events) or
// []domain.CombatEventType (subscribed echoing back the subscribed set);
// the two message types never share a payload, so one `any` field avoids
// two near-duplicate "events" keys.
type serverMessage struct {
	Type     string `json:"type"`
	At       int64  `json:"at,omitempty"`
	Events   any    `json:"events,omitempty"`
	EntityID string `json:"entityId,omitempty"`
	State    any    `json:"state,omitempty"`
	Message  string `json:"message,omitempty"`
	ID       string `json:"id,omitempty"`
}

// PushServer upgrades HTTP connections to the WebSocket push channel (spec
// §4.F) and broadcasts bus events to subscribed clients.
type PushServer struct {
	bus *Bus

	mu      sync.Mutex
	clients map[string]*pushClient
	unsub   func()
}

// NewPushServer constructs a PushServer fed by bus; it subscribes to every
// event on bus for its lifetime.
func NewPushServer(bus *Bus) *PushServer {
	ps := &PushServer{bus: bus, clients: make(map[string]*pushClient)}
	ps.unsub = bus.Subscribe(domain.SubscriptionFilter{}, ps.broadcast)
	return ps
}

// Close unsubscribes from the bus and closes every connected client.
func (ps *PushServer) Close() {
	ps.unsub()
	ps.mu.Lock()
	clients := make([]*pushClient, 0, len(ps.clients))
	for _, c := range ps.clients {
		clients = append(clients, c)
	}
	ps.clients = make(map[string]*pushClient)
	ps.mu.Unlock()

	for _, c := range clients {
		c.conn.Close()
	}
}

// ClientCount returns the number of currently connected push clients.
func (ps *PushServer) ClientCount() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return len(ps.clients)
}

// connectedClients returns a snapshot of currently connected clients.
func (ps *PushServer) connectedClients() []*pushClient {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	clients := make([]*pushClient, 0, len(ps.clients))
	for _, c := range ps.clients {
		clients = append(clients, c)
	}
	return clients
}

// BroadcastSnapshot sends a combat_snapshot message to every connected
// client, sourced from the adapter's periodic snapshot emission (spec §4.E,
// §6).
func (ps *PushServer) BroadcastSnapshot(state map[string]domain.CombatantState) {
	msg := serverMessage{Type: "combat_snapshot", At: time.Now().UnixMilli(), State: state}
	for _, c := range ps.connectedClients() {
		_ = c.writeJSON(msg)
	}
}

// BroadcastUpdate sends a combat_update message for a single combatant to
// every client subscribed to its last event type (or to all events).
func (ps *PushServer) BroadcastUpdate(entityID string, state domain.CombatantState) {
	msg := serverMessage{Type: "combat_update", At: time.Now().UnixMilli(), EntityID: entityID, State: state}
	var wantType domain.CombatEventType
	if state.LastEvent != nil {
		wantType = state.LastEvent.Type
	}
	for _, c := range ps.connectedClients() {
		if wantType == "" || c.wants(wantType) {
			_ = c.writeJSON(msg)
		}
	}
}

// ServeHTTP upgrades the request to a WebSocket and runs the client's
// read/ping/publish loop until disconnect.
func (ps *PushServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	c := &pushClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan domain.CombatEvent, sendBufferSize),
	}

	ps.mu.Lock()
	ps.clients[c.id] = c
	ps.mu.Unlock()
	defer func() {
		ps.mu.Lock()
		delete(ps.clients, c.id)
		ps.mu.Unlock()
		conn.Close()
	}()

	if err := c.writeJSON(serverMessage{Type: "hello", ID: c.id, At: time.Now().UnixMilli()}); err != nil {
		return
	}

	group, groupCtx := errgroup.WithContext(r.Context())
	group.Go(func() error { return c.readLoop(groupCtx) })
	group.Go(func() error { return c.pingLoop(groupCtx) })
	group.Go(func() error { return c.publishLoop(groupCtx) })

	if err := group.Wait(); err != nil {
		log.Printf("eventbus: push client %s disconnected: %v", c.id, err)
	}
}

// broadcast fans ev out to every connected client whose subscription set
// is empty (meaning "all") or contains ev.Type. A full send buffer drops
// the event for that client rather than blocking the bus.
func (ps *PushServer) broadcast(ev domain.CombatEvent) {
	for _, c := range ps.connectedClients() {
		if c.wants(ev.Type) {
			select {
			case c.send <- ev:
			default:
			}
		}
	}
}

type pushClient struct {
	id   string
	conn *websocket.Conn
	send chan domain.CombatEvent

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[domain.CombatEventType]bool // empty/nil means "all"
}

func (c *pushClient) wants(t domain.CombatEventType) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if len(c.subs) == 0 {
		return true
	}
	return c.subs[t]
}

func (c *pushClient) setSubs(types []domain.CombatEventType) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subs = make(map[domain.CombatEventType]bool, len(types))
	for _, t := range types {
		c.subs[t] = true
	}
}

func (c *pushClient) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// readLoop handles inbound subscribe/ping messages. Malformed messages get
// an error response but never disconnect the client; only a transport-level
// read error ends the loop.
func (c *pushClient) readLoop(ctx context.Context) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.writeJSON(serverMessage{Type: "error", Message: "invalid message"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.setSubs(msg.Events)
			_ = c.writeJSON(serverMessage{Type: "subscribed", Events: msg.Events})
		case "ping":
			_ = c.writeJSON(serverMessage{Type: "pong", At: time.Now().UnixMilli()})
		default:
			_ = c.writeJSON(serverMessage{Type: "error", Message: "unknown message type"})
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (c *pushClient) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return err
			}
		}
	}
}

func (c *pushClient) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.send:
			if !ok {
				return nil
			}
			if err := c.writeJSON(serverMessage{Type: "combat_events", Events: []domain.CombatEvent{ev}}); err != nil {
				return err
			}
		}
	}
}
