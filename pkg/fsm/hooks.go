package fsm

import (
	"context"
	"time"
)

// Hooks are the only way a Machine reaches outside itself. Persist,
// LogHistory, RecordPlayback, Notify, ScheduleTimeout and CancelTimeout are
// plain function values injected at construction time rather than direct
// references to a Registry or a scheduler object — spec.md §9's redesign
// flag against "cyclic references between instance, registry and
// scheduler": the Machine never holds a pointer back to whatever created
// it, it only calls functions that close over it.
type Hooks struct {
	// Persist durably saves the machine's current entity/context. Called
	// after a live transition or a mutating stay-action (spec.md §4.7
	// step 3). A non-nil error degrades the machine (see OnDegraded).
	Persist func(ctx context.Context, m *Machine) error

	// LogHistory appends rec to the transition log (C4). Best-effort: the
	// engine does not block on its completion.
	LogHistory func(ctx context.Context, rec TransitionRecord)

	// RecordPlayback appends rec to the bounded playback ring (C6).
	RecordPlayback func(ctx context.Context, rec TransitionRecord)

	// Notify publishes an observer-bus event (C10) for UIs/monitoring.
	Notify func(ctx context.Context, kind string, m *Machine, evt Event, extra map[string]interface{})

	// ScheduleTimeout asks the shared scheduler (C1) to fire a synthetic
	// timeout event for (state, version) after d.
	ScheduleTimeout func(machineID string, state StateName, version uint64, d time.Duration, target StateName)

	// CancelTimeout cancels any pending timeout for this machine, called on
	// every live transition before scheduling the next one (spec.md §4.1).
	CancelTimeout func(machineID string)

	// OnOffline is invoked once the machine settles into an offline state,
	// after its entry action completes (spec.md §3.3, §4.8 "Eviction").
	OnOffline func(ctx context.Context, m *Machine)

	// OnFinal is invoked once the machine settles into a final state. The
	// registry's implementation evicts the machine about 100ms later and
	// publishes onEvicted with reason "final"; it does not archive the row.
	OnFinal func(ctx context.Context, m *Machine)

	// OnDegraded is invoked when persistence has failed on the first attempt
	// and on every retry of the backoff schedule (three retries by default;
	// spec.md §4.7 "Failure semantics"). The machine stops accepting
	// further events until cleared by an operator.
	OnDegraded func(ctx context.Context, m *Machine, err error)
}

func (h Hooks) notify(ctx context.Context, kind string, m *Machine, evt Event, extra map[string]interface{}) {
	if h.Notify != nil {
		h.Notify(ctx, kind, m, evt, extra)
	}
}

func (h Hooks) logHistory(ctx context.Context, rec TransitionRecord) {
	if h.LogHistory != nil {
		h.LogHistory(ctx, rec)
	}
}

func (h Hooks) recordPlayback(ctx context.Context, rec TransitionRecord) {
	if h.RecordPlayback != nil {
		h.RecordPlayback(ctx, rec)
	}
}

func (h Hooks) scheduleTimeout(machineID string, state StateName, version uint64, d time.Duration, target StateName) {
	if h.ScheduleTimeout != nil {
		h.ScheduleTimeout(machineID, state, version, d, target)
	}
}

func (h Hooks) cancelTimeout(machineID string) {
	if h.CancelTimeout != nil {
		h.CancelTimeout(machineID)
	}
}
