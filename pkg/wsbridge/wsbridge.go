// Package wsbridge implements the monitoring-stream WebSocket bridge
// (spec.md §6's "optional adapter"): outbound STATE_CHANGE/
// TIMEOUT_COUNTDOWN/TREEVIEW_STORE_UPDATE messages, and inbound
// EVENT/SELECT_MACHINE/LOG commands. Grounded on
// pkg/core/eventbus_ws.go's WebSocketEventBusBridge: one upgrader, a
// registry of connected clients, a per-connection read loop dispatching
// on an Op field, generalized from EventBus publish/send/request onto
// this runtime's registry.SendEvent and observerbus.Bus subscription.
package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/fsm"
	"github.com/quadgate/statekeep/pkg/observerbus"
	"github.com/quadgate/statekeep/pkg/registry"
)

// Outbound op names, matching spec.md §6 exactly.
const (
	OpStateChange         = "STATE_CHANGE"
	OpTimeoutCountdown    = "TIMEOUT_COUNTDOWN"
	OpTreeviewStoreUpdate = "TREEVIEW_STORE_UPDATE"
)

// Inbound op names, matching spec.md §6 exactly.
const (
	OpEvent        = "EVENT"
	OpSelectMachine = "SELECT_MACHINE"
	OpLog          = "LOG"
)

// outbound is the wire shape for every message this bridge sends.
type outbound struct {
	Op   string      `json:"op"`
	Data interface{} `json:"data"`
}

type stateChangePayload struct {
	MachineID   string `json:"machineId"`
	StateBefore string `json:"stateBefore"`
	StateAfter  string `json:"stateAfter"`
	EventName   string `json:"eventName"`
	Version     uint64 `json:"version"`
	Timestamp   int64  `json:"timestamp"`
}

type timeoutCountdownPayload struct {
	MachineID   string `json:"machineId"`
	State       string `json:"state"`
	RemainingMs int64  `json:"remainingMs"`
}

type treeviewStoreUpdatePayload struct {
	AvailableMachines []string `json:"availableMachines"`
	SelectedMachineID string   `json:"selectedMachineId"`
	Transitions       []string `json:"transitions"`
}

// inbound is the wire shape every client command is parsed into.
type inbound struct {
	Op        string          `json:"op"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	MachineID string          `json:"machineId"`
	Category  string          `json:"category"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
}

// Resolver maps an incoming machineId to the Registry it belongs to — a
// deployment may run several registries (one per machine type) behind
// one monitoring socket.
type Resolver func(machineID string) (*registry.Registry, bool)

// Bridge upgrades HTTP connections to WebSocket and fans observerbus
// events out to every connected client.
type Bridge struct {
	upgrader websocket.Upgrader
	resolve  Resolver
	bus      *observerbus.Bus
	logger   corelog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// New constructs a Bridge. bus is the observerbus.Bus whose events are
// translated into outbound monitoring messages.
func New(resolve Resolver, bus *observerbus.Bus, logger corelog.Logger) *Bridge {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	return &Bridge{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		resolve: resolve,
		bus:     bus,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

type client struct {
	conn   *websocket.Conn
	bridge *Bridge
	sub    *observerbus.Subscriber
	mu     sync.Mutex

	selectedMu sync.RWMutex
	selected   string
}

// ServeHTTP upgrades the connection and starts its read/fan-out loops.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Errorf("wsbridge: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, bridge: b}
	if b.bus != nil {
		c.sub = b.bus.Subscribe(connSubscriberName(conn))
		go c.fanOut()
	}

	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	c.readLoop()
}

func connSubscriberName(conn *websocket.Conn) string {
	return "wsbridge:" + conn.RemoteAddr().String()
}

func (c *client) readLoop() {
	defer c.cleanup()
	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Op {
		case OpEvent:
			c.handleEvent(&msg)
		case OpSelectMachine:
			c.handleSelectMachine(&msg)
		case OpLog:
			// Client-side log lines are accepted and dropped; this bridge
			// is monitoring-only and has no log sink to forward them to.
		}
	}
}

func (c *client) handleEvent(msg *inbound) {
	c.selectedMu.RLock()
	machineID := c.selected
	c.selectedMu.RUnlock()
	if machineID == "" {
		return
	}
	reg, ok := c.bridge.resolve(machineID)
	if !ok {
		return
	}
	var payload interface{}
	if len(msg.Payload) > 0 {
		json.Unmarshal(msg.Payload, &payload)
	}
	reg.SendEvent(context.Background(), machineID, fsm.Event{Type: fsm.EventType(msg.EventType), Payload: payload})
}

func (c *client) handleSelectMachine(msg *inbound) {
	c.selectedMu.Lock()
	c.selected = msg.MachineID
	c.selectedMu.Unlock()
}

// fanOut drains this client's observerbus subscription and writes every
// event out as the matching outbound monitoring message, until the
// mailbox is closed by cleanup.
func (c *client) fanOut() {
	ctx := context.Background()
	for {
		msg, err := c.sub.Mailbox().Receive(ctx)
		if err != nil {
			return
		}
		evt, ok := msg.(observerbus.Event)
		if !ok {
			continue
		}
		c.send(toOutbound(evt))
	}
}

func toOutbound(evt observerbus.Event) *outbound {
	switch evt.Kind {
	case observerbus.KindStateChange:
		return &outbound{Op: OpStateChange, Data: stateChangePayload{
			MachineID:   evt.MachineID,
			StateBefore: stringExtra(evt.Extra, "stateBefore"),
			StateAfter:  evt.State,
			EventName:   evt.Event,
			Version:     evt.Version,
			Timestamp:   evt.Timestamp.UnixMilli(),
		}}
	case observerbus.KindTimeoutCountdown:
		return &outbound{Op: OpTimeoutCountdown, Data: timeoutCountdownPayload{
			MachineID:   evt.MachineID,
			State:       evt.State,
			RemainingMs: int64(intExtra(evt.Extra, "remainingMs")),
		}}
	case observerbus.KindTreeviewStoreUpdate:
		return &outbound{Op: OpTreeviewStoreUpdate, Data: treeviewStoreUpdatePayload{
			AvailableMachines: stringsExtra(evt.Extra, "availableMachines"),
			SelectedMachineID: evt.MachineID,
			Transitions:       stringsExtra(evt.Extra, "transitions"),
		}}
	default:
		return nil
	}
}

func stringExtra(extra map[string]interface{}, key string) string {
	if extra == nil {
		return ""
	}
	if v, ok := extra[key].(string); ok {
		return v
	}
	return ""
}

func intExtra(extra map[string]interface{}, key string) int64 {
	if extra == nil {
		return 0
	}
	switch v := extra[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func stringsExtra(extra map[string]interface{}, key string) []string {
	if extra == nil {
		return nil
	}
	if v, ok := extra[key].([]string); ok {
		return v
	}
	return nil
}

func (c *client) send(msg *outbound) {
	if msg == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteJSON(msg)
}

func (c *client) cleanup() {
	c.bridge.mu.Lock()
	delete(c.bridge.clients, c)
	c.bridge.mu.Unlock()
	if c.sub != nil {
		c.bridge.bus.Unsubscribe(c.sub.Name)
	}
	c.conn.Close()
}
