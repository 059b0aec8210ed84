// Package fsm implements the per-machine state-machine engine (spec C7)
// and its fluent builder (spec C9). A Machine executes single-threaded
// over its own mailbox; Definition is the immutable, declarative shape a
// Machine is instantiated from, grounded on the teacher's
// pkg/statemachine/machine.go and pkg/statemachine/builder.go, adapted per
// the redesign flags in spec.md §9 (explicit typed registration instead of
// reflection, canonical event-type strings, no guard-by-name lookup).
package fsm

import (
	"context"
	"time"
)

// EventType is the canonical dispatch key for an event — a string, never a
// Go type, per spec.md §9 "class-as-event-type identity" replacement.
type EventType string

// StateName identifies a state within one Definition. State names are
// definition-scoped: there is no canonical cross-definition state set
// (spec.md §9 open question on callmachine vs statemachineexamples).
type StateName string

// Event is a single input to a Machine. Payload and Timestamp mirror the
// producer-facing shape in spec.md §6 ("eventType, payload, timestamp,
// description").
type Event struct {
	Type        EventType
	Payload     interface{}
	Timestamp   time.Time
	Description string
}

// Handler runs on state entry or exit. It must not block indefinitely —
// the engine enforces a soft deadline (spec.md §5) and logs a warning past
// it, but does not cancel the handler's goroutine.
type Handler func(ctx context.Context, m *Machine, evt Event) error

// StayAction runs when an event matches a stay-action entry for the
// current state: it may mutate the machine's persisting entity without
// changing state or bumping version. mutated reports whether persistence
// should be triggered (spec.md §4.7 step 3: "persist context if the
// handler mutated it").
type StayAction func(ctx context.Context, m *Machine, evt Event) (mutated bool, err error)

// TimeoutSpec declares a state's synthetic timeout.
type TimeoutSpec struct {
	Duration time.Duration
	Target   StateName
}

// EntityFactory constructs the persisting entity for a freshly auto-created
// machine; ContextFactory is a synonym kept distinct in the public API so a
// definition can supply one or both independently, matching spec.md §3.1
// ("entity factory, context factory").
type EntityFactory func(evt Event) interface{}

// AutoCreateSpec is what onNewMachineCreate (spec.md §4.9) registers: the
// pair of factories invoked when an auto-create event arrives for an
// unknown machine id.
type AutoCreateSpec struct {
	EntityFactory  EntityFactory
	ContextFactory EntityFactory
}

// stateDef is one state's full configuration.
type stateDef struct {
	name        StateName
	entry       Handler
	exit        Handler
	isFinal     bool
	isOffline   bool
	timeout     *TimeoutSpec
	transitions map[EventType]StateName
	stayActions map[EventType]StayAction
}

// Timeout returns the state's declared timeout, or nil if it has none.
func (s *stateDef) Timeout() *TimeoutSpec { return s.timeout }

// IsFinal reports whether this state is a final state.
func (s *stateDef) IsFinal() bool { return s.isFinal }

// IsOffline reports whether this state is an offline state.
func (s *stateDef) IsOffline() bool { return s.isOffline }

// Definition is the immutable, validated shape a Machine is built from
// (spec.md C9 output, C7 input). Construct one via NewBuilder.
type Definition struct {
	ID           string
	InitialState StateName
	States       map[StateName]*stateDef
	AutoCreate   map[EventType]AutoCreateSpec
}

// State returns the named state's definition, or nil if undeclared.
func (d *Definition) State(name StateName) *stateDef {
	return d.States[name]
}

// IsFinal reports whether name is a final state in this definition.
func (d *Definition) IsFinal(name StateName) bool {
	s := d.States[name]
	return s != nil && s.isFinal
}

// IsOffline reports whether name is an offline state in this definition.
func (d *Definition) IsOffline(name StateName) bool {
	s := d.States[name]
	return s != nil && s.isOffline
}
