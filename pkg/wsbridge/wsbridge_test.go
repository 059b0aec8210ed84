package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quadgate/statekeep/pkg/observerbus"
	"github.com/quadgate/statekeep/pkg/registry"
)

func noResolver(machineID string) (*registry.Registry, bool) { return nil, false }

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStateChangeEventFansOutToClient(t *testing.T) {
	bus := observerbus.New(16, nil)
	b := New(noResolver, bus, nil)

	server := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer server.Close()

	conn := dialWS(t, server)
	time.Sleep(20 * time.Millisecond) // let the server register the subscriber

	bus.Publish(context.Background(), observerbus.Event{
		Kind:      observerbus.KindStateChange,
		MachineID: "order-1",
		State:     "paid",
		Event:     "pay",
		Version:   2,
		Timestamp: time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out outbound
	if err := conn.ReadJSON(&out); err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Op != OpStateChange {
		t.Fatalf("op = %q, want %q", out.Op, OpStateChange)
	}
}

func TestSelectMachineThenUnknownEventIsSilentlyIgnored(t *testing.T) {
	bus := observerbus.New(16, nil)
	b := New(noResolver, bus, nil)

	server := httptest.NewServer(http.HandlerFunc(b.ServeHTTP))
	defer server.Close()

	conn := dialWS(t, server)
	if err := conn.WriteJSON(inbound{Op: OpSelectMachine, MachineID: "order-1"}); err != nil {
		t.Fatalf("write select: %v", err)
	}
	if err := conn.WriteJSON(inbound{Op: OpEvent, EventType: "pay"}); err != nil {
		t.Fatalf("write event: %v", err)
	}
	// noResolver always reports not-found; the bridge must not panic or
	// close the connection over an unresolved machine.
	time.Sleep(20 * time.Millisecond)
	if err := conn.WriteJSON(inbound{Op: OpLog, Category: "debug", Message: "ping"}); err != nil {
		t.Fatalf("write log: %v", err)
	}
}
