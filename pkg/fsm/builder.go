package fsm

import (
	"fmt"
	"time"
)

// Builder constructs a Definition declaratively (spec.md C9), the fluent
// DSL successor to this package's earlier Configure/StateConfigBuilder
// chain. It fails fast at Build() time — callers treat a non-nil error as
// a ConfigurationError (spec.md §7), fatal to startup.
type Builder struct {
	id           string
	initialState StateName
	states       map[StateName]*stateDef
	autoCreate   map[EventType]AutoCreateSpec
	err          error
}

// NewBuilder starts building a Definition named id.
func NewBuilder(id string) *Builder {
	return &Builder{
		id:         id,
		states:     make(map[StateName]*stateDef),
		autoCreate: make(map[EventType]AutoCreateSpec),
	}
}

// InitialState declares the state a freshly constructed machine starts in.
func (b *Builder) InitialState(name StateName) *Builder {
	b.initialState = name
	return b
}

// OnNewMachineCreate registers the factory pair invoked when eventType
// arrives for an unknown machine id (spec.md §4.9, §8 scenario S4).
func (b *Builder) OnNewMachineCreate(eventType EventType, entity, context EntityFactory) *Builder {
	b.autoCreate[eventType] = AutoCreateSpec{EntityFactory: entity, ContextFactory: context}
	return b
}

func (b *Builder) state(name StateName) *stateDef {
	s, ok := b.states[name]
	if !ok {
		s = &stateDef{
			name:        name,
			transitions: make(map[EventType]StateName),
			stayActions: make(map[EventType]StayAction),
		}
		b.states[name] = s
	}
	return s
}

// StateBuilder scopes operations to one state within a Builder.
type StateBuilder struct {
	parent *Builder
	state  *stateDef
}

// State opens (or reopens) a state for configuration.
func (b *Builder) State(name StateName) *StateBuilder {
	return &StateBuilder{parent: b, state: b.state(name)}
}

// OnEntry sets the entry handler, run when the machine transitions into
// this state live (not during rehydration replay — Invariant 7).
func (sb *StateBuilder) OnEntry(h Handler) *StateBuilder {
	sb.state.entry = h
	return sb
}

// OnExit sets the exit handler, run when the machine transitions out of
// this state.
func (sb *StateBuilder) OnExit(h Handler) *StateBuilder {
	sb.state.exit = h
	return sb
}

// Offline marks this state as an offline state: after entry actions
// complete, the registry persists and evicts the machine (spec.md §3.3,
// §4.8 "Eviction").
func (sb *StateBuilder) Offline() *StateBuilder {
	sb.state.isOffline = true
	return sb
}

// FinalState marks this state as terminal: the machine is marked complete
// and handed to archival (spec.md §3.3, C5).
func (sb *StateBuilder) FinalState() *StateBuilder {
	sb.state.isFinal = true
	return sb
}

// Timeout declares a synthetic timeout fired by the scheduler (C1) after
// duration unless the machine has since left this state/version.
func (sb *StateBuilder) Timeout(duration time.Duration, target StateName) *StateBuilder {
	sb.state.timeout = &TimeoutSpec{Duration: duration, Target: target}
	return sb
}

// On declares a state-changing transition for eventType. Construction
// fails if eventType already has a transition or a stay-action registered
// for this state (spec.md §4.7 "Tie-breaks and policies").
func (sb *StateBuilder) On(eventType EventType, target StateName) *StateBuilder {
	if _, exists := sb.state.transitions[eventType]; exists {
		sb.parent.fail("state %q: duplicate transition for event %q", sb.state.name, eventType)
		return sb
	}
	if _, exists := sb.state.stayActions[eventType]; exists {
		sb.parent.fail("state %q: event %q already has a stay-action; cannot also have a transition", sb.state.name, eventType)
		return sb
	}
	sb.state.transitions[eventType] = target
	return sb
}

// Stay declares a stay-action for eventType: the handler runs but the
// state does not change and version is not bumped.
func (sb *StateBuilder) Stay(eventType EventType, action StayAction) *StateBuilder {
	if _, exists := sb.state.stayActions[eventType]; exists {
		sb.parent.fail("state %q: duplicate stay-action for event %q", sb.state.name, eventType)
		return sb
	}
	if _, exists := sb.state.transitions[eventType]; exists {
		sb.parent.fail("state %q: event %q already has a transition; cannot also have a stay-action", sb.state.name, eventType)
		return sb
	}
	sb.state.stayActions[eventType] = action
	return sb
}

// Done returns to the parent Builder.
func (sb *StateBuilder) Done() *Builder { return sb.parent }

func (b *Builder) fail(format string, args ...interface{}) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

// Build validates and returns the Definition. Validation failures
// (spec.md §4.7): duplicate event mappings (caught above), a missing or
// undeclared initial state, and transitions targeting undeclared states.
func (b *Builder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.id == "" {
		return nil, fmt.Errorf("definition id must not be empty")
	}
	if b.initialState == "" {
		return nil, fmt.Errorf("initial state must be set")
	}
	if _, ok := b.states[b.initialState]; !ok {
		return nil, fmt.Errorf("initial state %q is not declared", b.initialState)
	}
	for name, s := range b.states {
		for evt, target := range s.transitions {
			if _, ok := b.states[target]; !ok {
				return nil, fmt.Errorf("state %q: transition on %q targets undeclared state %q", name, evt, target)
			}
		}
		if s.timeout != nil {
			if _, ok := b.states[s.timeout.Target]; !ok {
				return nil, fmt.Errorf("state %q: timeout targets undeclared state %q", name, s.timeout.Target)
			}
		}
	}
	return &Definition{
		ID:           b.id,
		InitialState: b.initialState,
		States:       b.states,
		AutoCreate:   b.autoCreate,
	}, nil
}
