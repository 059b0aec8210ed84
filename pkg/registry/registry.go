// Package registry implements the machine registry (spec.md C8): a
// directory of live machines, auto-create-on-event, rehydrate-on-miss,
// eviction on offline/final, a periodic idle sweep, lifecycle callbacks,
// and fan-out of observer events. Grounded on
// pkg/statemachine/verticle.go's directory-map-plus-lifecycle shape,
// generalized per spec.md §9: sendEvent returns an explicit
// {Accepted|Overloaded|Rejected} Result instead of an error/exception,
// and the registry never blocks waiting on a machine — it only enqueues.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/fsm"
	"github.com/quadgate/statekeep/pkg/mailbox"
	"github.com/quadgate/statekeep/pkg/observerbus"
	"github.com/quadgate/statekeep/pkg/scheduler"
)

// Loader fetches a machine's last persisted state for rehydration. ok is
// false when no active row exists for id.
type Loader func(ctx context.Context, id string) (state *fsm.RestoreState, ok bool, err error)

// Persister durably saves a machine's current entity/context.
type Persister func(ctx context.Context, m *fsm.Machine) error

// RecordSink receives every committed fsm.TransitionRecord, for history
// logging and playback (C4, C6).
type RecordSink func(ctx context.Context, rec fsm.TransitionRecord)

// RegistryEvent is one lifecycle event (create/rehydrate/evict/error) fed
// to both the observer bus and the registry-event batch logger (spec.md
// §3.1 "each RegistryEvent is both published on the bus and logged").
type RegistryEvent struct {
	MachineID string
	EventType string // CREATE, REHYDRATE, EVICT, ERROR
	Reason    string
	Timestamp time.Time
}

// RegistryEventSink receives every RegistryEvent, for the C4 registry
// event batch logger.
type RegistryEventSink func(ctx context.Context, evt RegistryEvent)

// Config wires a Registry's collaborators and tuning knobs.
type Config struct {
	RegistryID       string
	Definition       *fsm.Definition
	Loader           Loader
	Persister        Persister
	LogHistory       RecordSink
	RecordPlayback   RecordSink
	LogRegistryEvent RegistryEventSink
	Bus              *observerbus.Bus
	Scheduler        *scheduler.Scheduler
	MailboxCapacity  int
	AutoEvictTTL     time.Duration
	SweepInterval    time.Duration
	Logger           corelog.Logger
}

// Registry is the directory of live machines for one Definition.
type Registry struct {
	cfg    Config
	logger corelog.Logger

	mu       sync.RWMutex
	machines map[string]*fsm.Machine

	runCounter uint64

	stop chan struct{}
	done chan struct{}
}

// New constructs a Registry. Call Run to start its periodic sweep.
func New(cfg Config) *Registry {
	if cfg.MailboxCapacity <= 0 {
		cfg.MailboxCapacity = 1024
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = corelog.NewDefault()
	}
	return &Registry{
		cfg:      cfg,
		logger:   cfg.Logger,
		machines: make(map[string]*fsm.Machine),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Get returns the live machine for id, if any.
func (r *Registry) Get(id string) (*fsm.Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	return m, ok
}

// CreateOrGet returns the existing machine for id, or constructs a fresh
// one from the registered definition (spec.md C8 "createOrGet").
func (r *Registry) CreateOrGet(ctx context.Context, id string) (*fsm.Machine, error) {
	if m, ok := r.Get(id); ok {
		return m, nil
	}
	if r.cfg.Loader != nil {
		if state, ok, err := r.cfg.Loader(ctx, id); err == nil && ok {
			return r.rehydrate(ctx, id, state), nil
		}
	}
	return r.create(ctx, id, nil), nil
}

// SendEvent resolves id (creating it if evt matches an auto-create rule,
// rehydrating it if an active row exists) and enqueues evt on its mailbox
// (spec.md C8 "sendEvent").
func (r *Registry) SendEvent(ctx context.Context, id string, evt fsm.Event) Outcome {
	if m, ok := r.Get(id); ok {
		return r.enqueue(m, evt)
	}

	if spec, ok := r.cfg.Definition.AutoCreate[evt.Type]; ok {
		var entity interface{}
		if spec.EntityFactory != nil {
			entity = spec.EntityFactory(evt)
		} else if spec.ContextFactory != nil {
			entity = spec.ContextFactory(evt)
		}
		m := r.create(ctx, id, entity)
		return r.enqueue(m, evt)
	}

	if r.cfg.Loader != nil {
		if state, ok, err := r.cfg.Loader(ctx, id); err == nil && ok {
			m := r.rehydrate(ctx, id, state)
			return r.enqueue(m, evt)
		}
	}

	r.publish(ctx, "onMachineCreationFailed", id, map[string]interface{}{"reason": "no such machine"})
	return Outcome{Result: Rejected, Reason: "no such machine"}
}

func (r *Registry) enqueue(m *fsm.Machine, evt fsm.Event) Outcome {
	if degraded, _ := m.Degraded(); degraded {
		return Outcome{Result: Rejected, Reason: "degraded"}
	}
	if err := m.Enqueue(evt); err != nil {
		if err == mailbox.ErrFull {
			return Outcome{Result: Overloaded, Reason: "mailbox full"}
		}
		return Outcome{Result: Rejected, Reason: err.Error()}
	}
	return Outcome{Result: Accepted}
}

func (r *Registry) create(ctx context.Context, id string, entity interface{}) *fsm.Machine {
	r.runCounter++
	runID := uuid.NewString()
	m := fsm.New(r.cfg.Definition, id, r.cfg.RegistryID, runID, r.hooksFor(id), r.logger,
		fsm.WithMailboxCapacity(r.cfg.MailboxCapacity))

	if entity != nil {
		m.SetEntity(entity)
	}

	r.mu.Lock()
	r.machines[id] = m
	r.mu.Unlock()

	go m.Run(context.Background())
	m.Start(ctx, nil)
	if entity != nil && r.cfg.Persister != nil {
		if err := r.cfg.Persister(ctx, m); err != nil {
			r.logger.Errorf("registry %s: persist initial graph for %s failed: %v", r.cfg.RegistryID, id, err)
		}
	}

	r.publish(ctx, "onMachineCreated", id, nil)
	return m
}

func (r *Registry) rehydrate(ctx context.Context, id string, state *fsm.RestoreState) *fsm.Machine {
	runID := uuid.NewString()
	m := fsm.New(r.cfg.Definition, id, r.cfg.RegistryID, runID, r.hooksFor(id), r.logger,
		fsm.WithMailboxCapacity(r.cfg.MailboxCapacity))

	r.mu.Lock()
	r.machines[id] = m
	r.mu.Unlock()

	go m.Run(context.Background())
	m.Start(ctx, state)

	// SchedulerMiss (spec.md §7): if the restored state's timeout already
	// elapsed while the machine was evicted, fire it immediately instead
	// of waiting out a fresh full-length timeout.
	if sd := r.cfg.Definition.State(state.State); sd != nil && sd.Timeout() != nil && r.cfg.Scheduler != nil {
		spec := sd.Timeout()
		overdue := time.Since(state.LastStateChange)
		remaining := spec.Duration - overdue
		if remaining < 0 {
			remaining = 0
		}
		r.cfg.Scheduler.Schedule(id, state.State, state.Version, remaining, spec.Target)
	}

	r.publish(ctx, "onRehydrated", id, nil)
	return m
}

func (r *Registry) hooksFor(id string) fsm.Hooks {
	return fsm.Hooks{
		Persist: r.cfg.Persister,
		LogHistory: func(ctx context.Context, rec fsm.TransitionRecord) {
			if r.cfg.LogHistory != nil {
				r.cfg.LogHistory(ctx, rec)
			}
		},
		RecordPlayback: func(ctx context.Context, rec fsm.TransitionRecord) {
			if r.cfg.RecordPlayback != nil {
				r.cfg.RecordPlayback(ctx, rec)
			}
		},
		Notify: func(ctx context.Context, kind string, m *fsm.Machine, evt fsm.Event, extra map[string]interface{}) {
			if r.cfg.Bus == nil {
				return
			}
			r.cfg.Bus.Publish(ctx, observerbus.Event{
				Kind:      observerbus.KindStateChange,
				MachineID: m.ID(),
				State:     string(m.CurrentState()),
				Event:     string(evt.Type),
				Version:   m.Version(),
				Timestamp: time.Now(),
				Extra:     extra,
			})
		},
		ScheduleTimeout: func(machineID string, state fsm.StateName, version uint64, d time.Duration, target fsm.StateName) {
			if r.cfg.Scheduler != nil {
				r.cfg.Scheduler.Schedule(machineID, state, version, d, target)
			}
		},
		CancelTimeout: func(machineID string) {
			if r.cfg.Scheduler != nil {
				r.cfg.Scheduler.CancelAll(machineID)
			}
		},
		OnOffline: func(ctx context.Context, m *fsm.Machine) {
			r.evict(ctx, m.ID(), "offline")
		},
		OnFinal: func(ctx context.Context, m *fsm.Machine) {
			id := m.ID()
			time.AfterFunc(100*time.Millisecond, func() {
				r.evict(context.Background(), id, "final")
			})
		},
		OnDegraded: func(ctx context.Context, m *fsm.Machine, err error) {
			r.publish(ctx, "onDegraded", m.ID(), map[string]interface{}{"error": err.Error()})
		},
	}
}

func (r *Registry) evict(ctx context.Context, id, reason string) {
	r.mu.Lock()
	m, ok := r.machines[id]
	if ok {
		delete(r.machines, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	m.Close()
	if r.cfg.Scheduler != nil {
		r.cfg.Scheduler.CancelAll(id)
	}
	r.publish(ctx, "onEvicted", id, map[string]interface{}{"reason": reason})
}

func (r *Registry) publish(ctx context.Context, kind, machineID string, extra map[string]interface{}) {
	now := time.Now()
	if r.cfg.Bus != nil {
		r.cfg.Bus.Publish(ctx, observerbus.Event{
			Kind:      observerbus.KindRegistryEvent,
			MachineID: machineID,
			Event:     kind,
			Timestamp: now,
			Extra:     extra,
		})
	}
	if r.cfg.LogRegistryEvent != nil {
		reason, _ := extra["reason"].(string)
		r.cfg.LogRegistryEvent(ctx, RegistryEvent{
			MachineID: machineID,
			EventType: registryEventCode(kind),
			Reason:    reason,
			Timestamp: now,
		})
	}
}

// registryEventCode maps a publish() kind to the registry_event table's
// event_type convention (spec.md §6: "CREATE, REMOVE, REHYDRATE, EVICT,
// ERROR").
func registryEventCode(kind string) string {
	switch kind {
	case "onMachineCreated":
		return "CREATE"
	case "onRehydrated":
		return "REHYDRATE"
	case "onEvicted":
		return "EVICT"
	case "onDegraded", "onMachineCreationFailed":
		return "ERROR"
	default:
		return kind
	}
}

// Run starts the periodic idle sweep (spec.md C8 "periodic sweep"),
// blocking until Stop is called.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.done)
	if r.cfg.AutoEvictTTL <= 0 {
		<-r.stop
		return
	}
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Registry) sweep(ctx context.Context) {
	r.mu.RLock()
	candidates := make([]string, 0)
	for id, m := range r.machines {
		if time.Since(m.LastStateChange()) >= r.cfg.AutoEvictTTL {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range candidates {
		r.evict(ctx, id, "idle-ttl")
	}
}

// Stop halts the periodic sweep.
func (r *Registry) Stop() {
	close(r.stop)
	<-r.done
}

// Size returns the number of live machines (for metrics/tests).
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}
