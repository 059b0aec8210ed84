package registry

import (
	"context"
	"testing"
	"time"

	"github.com/quadgate/statekeep/pkg/fsm"
)

type orderEntity struct {
	ID string
}

func buildOrderDefinition(t *testing.T) *fsm.Definition {
	t.Helper()
	b := fsm.NewBuilder("order").InitialState("created")
	b.State("created").On("pay", "paid")
	b.State("paid").FinalState()
	b.OnNewMachineCreate("open", func(evt fsm.Event) interface{} {
		return &orderEntity{ID: "new"}
	}, nil)
	def, err := b.Build()
	if err != nil {
		t.Fatalf("build definition: %v", err)
	}
	return def
}

func newTestRegistry(t *testing.T, cfg Config) *Registry {
	t.Helper()
	if cfg.Definition == nil {
		cfg.Definition = buildOrderDefinition(t)
	}
	if cfg.RegistryID == "" {
		cfg.RegistryID = "order-test"
	}
	if cfg.Loader == nil {
		cfg.Loader = func(ctx context.Context, id string) (*fsm.RestoreState, bool, error) {
			return nil, false, nil
		}
	}
	return New(cfg)
}

func TestSendEventAutoCreatesUnknownMachine(t *testing.T) {
	r := newTestRegistry(t, Config{})
	outcome := r.SendEvent(context.Background(), "order-1", fsm.Event{Type: "open"})
	if outcome.Result != Accepted {
		t.Fatalf("result = %v, want Accepted", outcome.Result)
	}
	if r.Size() != 1 {
		t.Fatalf("registry size = %d, want 1", r.Size())
	}
}

func TestSendEventRejectsUnknownMachineWithoutAutoCreate(t *testing.T) {
	r := newTestRegistry(t, Config{})
	outcome := r.SendEvent(context.Background(), "order-1", fsm.Event{Type: "pay"})
	if outcome.Result != Rejected {
		t.Fatalf("result = %v, want Rejected", outcome.Result)
	}
}

func TestSendEventRehydratesFromLoader(t *testing.T) {
	loaded := false
	r := newTestRegistry(t, Config{
		Loader: func(ctx context.Context, id string) (*fsm.RestoreState, bool, error) {
			loaded = true
			return &fsm.RestoreState{State: "paid", Version: 5, LastStateChange: time.Now()}, true, nil
		},
	})
	outcome := r.SendEvent(context.Background(), "order-9", fsm.Event{Type: "ignored-event"})
	if !loaded {
		t.Fatal("loader was never consulted")
	}
	if outcome.Result != Accepted {
		t.Fatalf("result = %v, want Accepted", outcome.Result)
	}
	m, ok := r.Get("order-9")
	if !ok {
		t.Fatal("expected rehydrated machine to be registered")
	}
	if m.Version() != 5 || m.CurrentState() != "paid" {
		t.Fatalf("rehydrated state = (%q, %d), want (paid, 5)", m.CurrentState(), m.Version())
	}
}

func TestSendEventNotAcceptedAfterMailboxClosed(t *testing.T) {
	r := newTestRegistry(t, Config{MailboxCapacity: 1})
	ctx := context.Background()
	r.SendEvent(ctx, "order-1", fsm.Event{Type: "open"})

	m, _ := r.Get("order-1")
	m.Close() // closes the machine's mailbox, so further sends are refused

	// a closed mailbox answers Rejected; a full one would answer Overloaded
	var last Outcome
	for i := 0; i < 3; i++ {
		last = r.SendEvent(ctx, "order-1", fsm.Event{Type: "pay"})
		if last.Result == Overloaded {
			break
		}
	}
	if last.Result != Overloaded && last.Result != Rejected {
		t.Fatalf("expected Overloaded or Rejected once the mailbox is closed/full, got %v", last.Result)
	}
}

func TestEvictionRemovesMachineOnOffline(t *testing.T) {
	b := fsm.NewBuilder("session").InitialState("active")
	b.State("active").On("disconnect", "gone")
	b.State("gone").Offline()
	def, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	r := newTestRegistry(t, Config{Definition: def})
	ctx := context.Background()
	r.create(ctx, "sess-1", nil)

	r.SendEvent(ctx, "sess-1", fsm.Event{Type: "disconnect"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.Size() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("machine should have been evicted after entering an offline state")
}
