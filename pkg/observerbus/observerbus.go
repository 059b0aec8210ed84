// Package observerbus implements the observer bus (spec.md C10): it
// broadcasts state-change/countdown events to subscribers such as a UI or
// monitoring adapter. Grounded on pkg/statemachine/observer.go's
// ChainObserver (sequential dispatch preserves transition order, unlike
// the teacher's machine.go which fires one unguarded goroutine per
// observer) and pkg/core/eventbus_ws.go's bounded-subscriber fan-out.
package observerbus

import (
	"context"
	"sync"
	"time"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/mailbox"
)

// Kind distinguishes the shapes of event this bus carries.
type Kind string

const (
	KindStateChange        Kind = "STATE_CHANGE"
	KindTimeoutCountdown    Kind = "TIMEOUT_COUNTDOWN"
	KindTreeviewStoreUpdate Kind = "TREEVIEW_STORE_UPDATE"
	KindIgnored             Kind = "IGNORED"
	KindError               Kind = "ERROR"
	KindRegistryEvent       Kind = "REGISTRY_EVENT"
)

// Event is the broadcast shape of spec.md §4.10: "{type, machineId, state,
// event, version, timestamp, extra}".
type Event struct {
	Kind      Kind
	MachineID string
	State     string
	Event     string
	Version   uint64
	Timestamp time.Time
	Extra     map[string]interface{}
}

// Subscriber receives Events on a bounded mailbox. A slow subscriber drops
// messages rather than back-pressuring the engine (spec.md §4.10).
type Subscriber struct {
	Name string
	mbox mailbox.Mailbox
}

// Mailbox returns the receive side of the subscriber's mailbox; callers
// typically loop on TryReceive/Receive.
func (s *Subscriber) Mailbox() mailbox.Mailbox { return s.mbox }

// Bus fans a single producer's events out to many subscribers in the order
// transitions occurred for a given machine (spec.md §5 "Observers for a
// given machine receive notifications in transition order").
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      corelog.Logger
	capacity    int
}

// New creates an observer bus. capacity bounds each subscriber's mailbox.
func New(capacity int, logger corelog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = corelog.NewDefault()
	}
	return &Bus{subscribers: make(map[string]*Subscriber), logger: logger, capacity: capacity}
}

// Subscribe registers name and returns its Subscriber handle.
func (b *Bus) Subscribe(name string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscriber{Name: name, mbox: mailbox.New(b.capacity)}
	b.subscribers[name] = sub
	return sub
}

// Unsubscribe removes and closes name's mailbox.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[name]; ok {
		sub.mbox.Close()
		delete(b.subscribers, name)
	}
}

// Publish dispatches evt to every subscriber sequentially; subscribers are
// visited in no fixed order. Each subscriber's mailbox is FIFO, so a
// subscriber sees successive Publish calls in the order they were made
// (the caller publishes in transition order per machine).
// A full subscriber mailbox simply drops the event — it never blocks the
// publisher.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if err := sub.mbox.Send(evt); err != nil {
			b.logger.Debugf("observerbus: dropped event for subscriber %s: %v", sub.Name, err)
		}
	}
}

// Subscribers returns the current subscriber names, for diagnostics.
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subscribers))
	for name := range b.subscribers {
		names = append(names, name)
	}
	return names
}
