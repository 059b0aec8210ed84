package nats

import (
	"encoding/json"
	"testing"
	"time"

	natssrv "github.com/nats-io/nats-server/v2/server"
	natsclient "github.com/nats-io/nats.go"

	"github.com/quadgate/statekeep/pkg/fsm"
	"github.com/quadgate/statekeep/pkg/registry"
)

func runTestNATSServer(t *testing.T) *natssrv.Server {
	t.Helper()
	opts := &natssrv.Options{Port: -1}
	s, err := natssrv.NewServer(opts)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		t.Fatalf("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func buildOrderDefinition(t *testing.T) *fsm.Definition {
	t.Helper()
	b := fsm.NewBuilder("order").InitialState("created")
	b.State("created").On("pay", "paid")
	b.State("paid").FinalState()
	b.OnNewMachineCreate("open", func(evt fsm.Event) interface{} { return nil }, nil)
	def, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return def
}

func TestBridgeDeliversEnvelopeToRegistry(t *testing.T) {
	srv := runTestNATSServer(t)
	reg := registry.New(registry.Config{RegistryID: "order-ingress-test", Definition: buildOrderDefinition(t)})

	bridge, err := Connect(Config{URL: srv.ClientURL(), Prefix: "statekeep.test"},
		func(machineType string) (*registry.Registry, bool) {
			if machineType == "order" {
				return reg, true
			}
			return nil, false
		}, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bridge.Close()

	if err := bridge.Subscribe("order"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	nc, err := natsclient.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer nc.Close()

	env := envelope{MachineID: "order-1", EventType: "open"}
	data, _ := json.Marshal(env)
	if err := nc.Publish("statekeep.test.event.order", data); err != nil {
		t.Fatalf("publish: %v", err)
	}
	nc.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Get("order-1"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected order-1 to be created via the NATS ingress bridge")
}

func TestBridgeIgnoresMalformedEnvelope(t *testing.T) {
	srv := runTestNATSServer(t)
	reg := registry.New(registry.Config{RegistryID: "order-ingress-test-2", Definition: buildOrderDefinition(t)})

	bridge, err := Connect(Config{URL: srv.ClientURL(), Prefix: "statekeep.test2"},
		func(string) (*registry.Registry, bool) { return reg, true }, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer bridge.Close()
	if err := bridge.Subscribe("order"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	nc, err := natsclient.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer nc.Close()

	if err := nc.Publish("statekeep.test2.event.order", []byte("not json")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	nc.Flush()
	time.Sleep(50 * time.Millisecond)

	if reg.Size() != 0 {
		t.Fatalf("registry size = %d, want 0 after a malformed message", reg.Size())
	}
}
