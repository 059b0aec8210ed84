package fsm

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/mailbox"
)

// EventTypeTimeout is the synthetic event a Machine recognizes as a
// scheduler-fired timeout (spec.md C1/§4.1). Its Payload must be a
// TimeoutPayload.
const EventTypeTimeout EventType = "__timeout__"

// TimeoutPayload guards a delivered timeout against state/version drift:
// if the machine has moved on since the timeout was scheduled, the event
// is dropped silently (spec.md §4.7, last bullet of "Tie-breaks and
// policies").
type TimeoutPayload struct {
	SourceState StateName
	Version     uint64
	Target      StateName
}

var defaultBackoff = []time.Duration{10 * time.Millisecond, 50 * time.Millisecond, 200 * time.Millisecond}

const defaultSoftDeadline = 2 * time.Second

// RestoreState carries a rehydrated snapshot into Start, suppressing the
// restored state's entry action (Invariant 7: "entry actions do not
// re-run on rehydration").
type RestoreState struct {
	State           StateName
	Version         uint64
	Entity          interface{}
	LastStateChange time.Time
}

// Machine is one running instance of a Definition (spec.md C7). All
// mutation happens on the single goroutine draining its mailbox
// (Invariant 1: "at most one transition in flight per machine"); exported
// accessors take a read lock so a registry goroutine can query status
// concurrently.
type Machine struct {
	id          string
	machineType string
	runID       string
	def         *Definition
	hooks       Hooks
	logger      corelog.Logger
	inbox       mailbox.Mailbox
	softDeadline time.Duration
	backoff      []time.Duration

	mu              sync.RWMutex
	currentState    StateName
	version         uint64
	entity          interface{}
	lastStateChange time.Time
	complete        bool
	degraded        bool
	degradedErr     error
}

// Option configures a Machine at construction time.
type Option func(*Machine)

// WithSoftDeadline overrides the default 2s handler warning threshold.
func WithSoftDeadline(d time.Duration) Option {
	return func(m *Machine) { m.softDeadline = d }
}

// WithBackoff overrides the default 3-attempt persistence retry schedule.
func WithBackoff(delays []time.Duration) Option {
	return func(m *Machine) { m.backoff = delays }
}

// WithMailboxCapacity overrides the default 1024-slot mailbox (spec.md §5).
func WithMailboxCapacity(capacity int) Option {
	return func(m *Machine) { m.inbox = mailbox.New(capacity) }
}

// New constructs a Machine for id against def. Call Start before Run.
func New(def *Definition, id, machineType, runID string, hooks Hooks, logger corelog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	m := &Machine{
		id:           id,
		machineType:  machineType,
		runID:        runID,
		def:          def,
		hooks:        hooks,
		logger:       logger,
		inbox:        mailbox.New(0),
		softDeadline: defaultSoftDeadline,
		backoff:      defaultBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) ID() string          { return m.id }
func (m *Machine) MachineType() string { return m.machineType }
func (m *Machine) RunID() string       { return m.runID }
func (m *Machine) Definition() *Definition { return m.def }

func (m *Machine) CurrentState() StateName {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

func (m *Machine) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Machine) Entity() interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entity
}

func (m *Machine) LastStateChange() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastStateChange
}

// SetEntity sets the machine's persisting entity directly, for use before
// Start when a fresh (non-rehydrated) machine is constructed from an
// auto-create entity factory (spec.md §4.9 "onNewMachineCreate").
func (m *Machine) SetEntity(e interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entity = e
}

func (m *Machine) Complete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.complete
}

func (m *Machine) Degraded() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.degraded, m.degradedErr
}

// ClearDegraded resets the degraded flag, letting an operator resume event
// delivery (spec.md §7 propagation policy: degraded is cleared manually).
func (m *Machine) ClearDegraded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = false
	m.degradedErr = nil
}

// Enqueue delivers evt to the machine's mailbox without blocking past its
// capacity; callers (registry C8) translate a full mailbox into an
// Overloaded result rather than retrying here.
func (m *Machine) Enqueue(evt Event) error {
	return m.inbox.Send(evt)
}

// Close shuts the mailbox so Run returns once it drains.
func (m *Machine) Close() { m.inbox.Close() }

// Start places the machine in its initial or rehydrated state. Passing a
// non-nil restore suppresses the state's entry action (Invariant 7).
func (m *Machine) Start(ctx context.Context, restore *RestoreState) {
	m.mu.Lock()
	if restore != nil {
		m.currentState = restore.State
		m.version = restore.Version
		m.entity = restore.Entity
		m.lastStateChange = restore.LastStateChange
	} else {
		m.currentState = m.def.InitialState
		m.version = 0
		m.lastStateChange = time.Now()
	}
	state := m.currentState
	m.mu.Unlock()

	sd := m.def.State(state)
	if sd == nil {
		return
	}
	if restore == nil {
		if sd.entry != nil {
			m.runHandler(ctx, "entry:"+string(state), func() error { return sd.entry(ctx, m, Event{}) })
		}
	}
	if sd.timeout != nil {
		m.hooks.scheduleTimeout(m.id, state, m.Version(), sd.timeout.Duration, sd.timeout.Target)
	}
	m.settle(ctx, sd)
}

// Run drains the mailbox until it is closed or ctx is cancelled, dispatching
// each event through the per-event algorithm (spec.md §4.7).
func (m *Machine) Run(ctx context.Context) {
	for {
		v, err := m.inbox.Receive(ctx)
		if err != nil {
			return
		}
		evt, ok := v.(Event)
		if !ok {
			continue
		}
		m.dispatch(ctx, evt)
	}
}

// dispatch implements spec.md §4.7's per-event algorithm:
//  1. dequeue (done by caller)
//  2. guard a delivered timeout against state/version drift
//  3. a stay-action match runs without changing state
//  4. a transition match runs exit -> commit -> entry
//  5. anything else is ignored, observed and logged
func (m *Machine) dispatch(ctx context.Context, evt Event) {
	degraded, _ := m.Degraded()
	if degraded {
		m.logger.Debugf("machine %s: dropping event %q while degraded", m.id, evt.Type)
		return
	}

	if evt.Type == EventTypeTimeout {
		payload, ok := evt.Payload.(TimeoutPayload)
		if !ok {
			return
		}
		if m.CurrentState() != payload.SourceState || m.Version() != payload.Version {
			return
		}
		m.performTransition(ctx, evt, payload.Target)
		return
	}

	state := m.CurrentState()
	sd := m.def.State(state)
	if sd == nil {
		return
	}

	if action, ok := sd.stayActions[evt.Type]; ok {
		m.performStay(ctx, evt, sd, action)
		return
	}

	if target, ok := sd.transitions[evt.Type]; ok {
		m.performTransition(ctx, evt, target)
		return
	}

	m.emit(ctx, "ignored", state, state, evt, emitDetail{
		eventPayload:    marshalOpaque(evt.Payload),
		eventParameters: marshalOpaque(eventParameters(evt)),
	})
}

func (m *Machine) performStay(ctx context.Context, evt Event, sd *stateDef, action StayAction) {
	start := time.Now()
	contextBefore := marshalOpaque(m.Entity())
	mutated, err := m.runStayAction(ctx, action, evt)
	if err != nil {
		m.logger.Errorf("machine %s: stay-action for %q failed: %v", m.id, evt.Type, err)
	}
	var persistErr error
	if mutated {
		persistErr = m.persistWithBackoff(ctx)
	}
	m.emit(ctx, "stay", sd.name, sd.name, evt, emitDetail{
		version:         m.Version(),
		handlerErr:      err,
		mutated:         mutated,
		persistErr:      errString(persistErr),
		duration:        time.Since(start),
		eventPayload:    marshalOpaque(evt.Payload),
		eventParameters: marshalOpaque(eventParameters(evt)),
		contextBefore:   contextBefore,
		contextAfter:    marshalOpaque(m.Entity()),
	})
}

func (m *Machine) performTransition(ctx context.Context, evt Event, target StateName) {
	targetDef := m.def.State(target)
	if targetDef == nil {
		m.logger.Errorf("machine %s: transition on %q targets undeclared state %q", m.id, evt.Type, target)
		return
	}

	start := time.Now()
	before := m.CurrentState()
	beforeDef := m.def.State(before)
	contextBefore := marshalOpaque(m.Entity())

	var exitErr error
	if beforeDef != nil && beforeDef.exit != nil {
		exitErr = m.runHandler(ctx, "exit:"+string(before), func() error { return beforeDef.exit(ctx, m, evt) })
	}

	m.hooks.cancelTimeout(m.id)

	m.mu.Lock()
	m.currentState = target
	m.version++
	m.lastStateChange = time.Now()
	version := m.version
	m.mu.Unlock()

	var entryErr error
	if targetDef.entry != nil {
		entryErr = m.runHandler(ctx, "entry:"+string(target), func() error { return targetDef.entry(ctx, m, evt) })
	}

	// entry(T) runs before context is persisted (spec.md §4.7 step 4), so
	// any entry-action mutation to the entity is captured in this write.
	persistErr := m.persistWithBackoff(ctx)

	if targetDef.timeout != nil {
		m.hooks.scheduleTimeout(m.id, target, version, targetDef.timeout.Duration, targetDef.timeout.Target)
	}

	// A handler failing never aborts the transition: it has already
	// committed (state, version and persistence above). The handler's
	// error still rides on the record so callers can see it (spec.md S6).
	handlerErr := errors.Join(exitErr, entryErr)
	m.emit(ctx, "transition", before, target, evt, emitDetail{
		version:         version,
		handlerErr:      handlerErr,
		mutated:         true,
		persistErr:      errString(persistErr),
		duration:        time.Since(start),
		eventPayload:    marshalOpaque(evt.Payload),
		eventParameters: marshalOpaque(eventParameters(evt)),
		contextBefore:   contextBefore,
		contextAfter:    marshalOpaque(m.Entity()),
	})
	m.settle(ctx, targetDef)
}

func (m *Machine) settle(ctx context.Context, sd *stateDef) {
	if sd.isFinal {
		m.mu.Lock()
		m.complete = true
		m.mu.Unlock()
		if m.hooks.OnFinal != nil {
			m.hooks.OnFinal(ctx, m)
		}
		return
	}
	if sd.isOffline && m.hooks.OnOffline != nil {
		m.hooks.OnOffline(ctx, m)
	}
}

func (m *Machine) persistWithBackoff(ctx context.Context) error {
	if m.hooks.Persist == nil {
		return nil
	}
	var lastErr error
	attempts := len(m.backoff)
	for i := 0; i <= attempts; i++ {
		if err := m.hooks.Persist(ctx, m); err != nil {
			lastErr = err
			if i < attempts {
				time.Sleep(m.backoff[i])
				continue
			}
			m.mu.Lock()
			m.degraded = true
			m.degradedErr = lastErr
			m.mu.Unlock()
			if m.hooks.OnDegraded != nil {
				m.hooks.OnDegraded(ctx, m, lastErr)
			}
			return lastErr
		}
		return nil
	}
	return lastErr
}

func (m *Machine) runHandler(ctx context.Context, label string, fn func() error) error {
	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	var err error
	select {
	case err = <-done:
		if err != nil {
			m.logger.Errorf("machine %s: handler %s failed: %v", m.id, label, err)
		}
	case <-time.After(m.softDeadline):
		m.logger.Warnf("machine %s: handler %s exceeded soft deadline %s", m.id, label, m.softDeadline)
		if err = <-done; err != nil {
			m.logger.Errorf("machine %s: handler %s failed: %v", m.id, label, err)
		}
	}
	_ = start
	return err
}

func (m *Machine) runStayAction(ctx context.Context, action StayAction, evt Event) (bool, error) {
	type result struct {
		mutated bool
		err     error
	}
	done := make(chan result, 1)
	go func() {
		mutated, err := action(ctx, m, evt)
		done <- result{mutated, err}
	}()
	select {
	case r := <-done:
		return r.mutated, r.err
	case <-time.After(m.softDeadline):
		m.logger.Warnf("machine %s: stay-action for %q exceeded soft deadline %s", m.id, evt.Type, m.softDeadline)
		r := <-done
		return r.mutated, r.err
	}
}

// emitDetail bundles the extra observability fields a caller of emit has
// already computed — duration, opaque blobs, handler/persist outcome —
// rather than passing each as its own positional argument.
type emitDetail struct {
	version         uint64
	handlerErr      error
	mutated         bool
	persistErr      string
	duration        time.Duration
	eventPayload    []byte
	eventParameters []byte
	contextBefore   []byte
	contextAfter    []byte
}

func (m *Machine) emit(ctx context.Context, kind string, before, after StateName, evt Event, d emitDetail) {
	registryStatus := "OK"
	if degraded, _ := m.Degraded(); degraded {
		registryStatus = "DEGRADED"
	}
	corrID := corelog.CorrelationIDFromContext(ctx)
	if corrID == "" {
		corrID = m.runID
	}

	rec := TransitionRecord{
		MachineID:           m.id,
		MachineType:         m.machineType,
		Version:             d.version,
		RunID:               m.runID,
		CorrelationID:       corrID,
		DebugSessionID:      corelog.DebugSessionIDFromContext(ctx),
		StateBefore:         before,
		StateAfter:          after,
		EventType:           evt.Type,
		EventPayloadJSON:    d.eventPayload,
		EventParametersJSON: d.eventParameters,
		ContextBeforeJSON:   d.contextBefore,
		ContextAfterJSON:    d.contextAfter,
		TransitionDuration:  d.duration,
		Timestamp:           time.Now(),
		MachineOnlineStatus: true,
		StateOfflineStatus:  m.def.IsOffline(after),
		RegistryStatus:      registryStatus,
		IdempotencyKey:      idempotencyKey(m.id, d.version),
		Err:                 d.handlerErr,
	}
	m.hooks.logHistory(ctx, rec)
	if kind == "transition" {
		m.hooks.recordPlayback(ctx, rec)
	}
	extra := map[string]interface{}{"mutated": d.mutated}
	if d.persistErr != "" {
		extra["persistError"] = d.persistErr
	}
	m.hooks.notify(ctx, kind, m, evt, extra)
}

// marshalOpaque encodes v as the JSON blob stored in one of
// TransitionRecord's opaque columns. A nil v or a marshal failure both
// yield a NULL column rather than aborting the transition over an
// observability detail.
func marshalOpaque(v interface{}) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// eventParameters extracts the event's non-payload metadata worth
// recording alongside it. Only Description currently qualifies; nil
// (and therefore a NULL event_parameters_json) when there is none.
func eventParameters(evt Event) interface{} {
	if evt.Description == "" {
		return nil
	}
	return map[string]string{"description": evt.Description}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
