package fsm

import "time"

// TransitionRecord is the append-only observability row produced by every
// dequeued event, whether it moved the state (a "live" transition), ran a
// stay-action ("same-state"), or was ignored. Column names mirror spec.md
// §6's transition log table; the payload, parameter and context fields
// are JSON-encoded by the Machine itself when it emits the record.
type TransitionRecord struct {
	MachineID   string
	MachineType string
	Version     uint64
	RunID       string
	CorrelationID string
	DebugSessionID string

	StateBefore StateName
	StateAfter  StateName
	EventType   EventType

	EventPayloadJSON     []byte
	EventParametersJSON  []byte
	ContextBeforeJSON    []byte
	ContextAfterJSON     []byte

	TransitionDuration  time.Duration
	Timestamp           time.Time
	MachineOnlineStatus bool
	StateOfflineStatus  bool
	RegistryStatus      string

	// IdempotencyKey is a content digest of (MachineID, Version), letting a
	// downstream consumer reconcile at-least-once redelivery without a
	// second authoritative source (spec.md §1 Non-goals: "the runtime
	// offers at-least-once with idempotent state transitions keyed by
	// (machineId, version)").
	IdempotencyKey string

	// Err is set when an entry/exit/stay handler failed; the transition
	// still committed (spec.md §4.7 "Failure semantics").
	Err error `json:"-"`
}

// SameState reports whether this record represents a stay-action or an
// ignored event rather than a state change.
func (r TransitionRecord) SameState() bool {
	return r.StateBefore == r.StateAfter
}
