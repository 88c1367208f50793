package engine

import "fmt"

// State is one stage of the moderation pipeline.
type State string

// Pipeline states. StateCompleted and StateFailed are terminal.
const (
	StateStarting          State = "STARTING"
	StateValidating        State = "VALIDATING"
	StateCheckingCache     State = "CHECKING_CACHE"
	StateLocalCheck        State = "LOCAL_CHECK"
	StateProviderCheck     State = "PROVIDER_CHECK"
	StateAggregating       State = "AGGREGATING"
	StateComposingResponse State = "COMPOSING_RESPONSE"
	StateCompleted         State = "COMPLETED"
	StateFailed            State = "FAILED"
)

// Event advances the pipeline machine. EventLocalVerdict covers any
// conclusive verdict produced before the provider stage: an unsafe match
// from the rule checker, or a verdict the validator already settled.
type Event string

const (
	EventBegin         Event = "begin"
	EventValidated     Event = "validated"
	EventRejected      Event = "rejected"
	EventCacheHit      Event = "cache_hit"
	EventCacheMiss     Event = "cache_miss"
	EventLocalVerdict  Event = "local_verdict"
	EventLocalClean    Event = "local_clean"
	EventProvidersDone Event = "providers_done"
	EventMerged        Event = "merged"
	EventComposed      Event = "composed"
)

// transitions is the full (state, event) → state table. Every pair has at
// most one target, so a walk of the machine is deterministic. StateFailed
// is reachable only from StateValidating.
var transitions = map[State]map[Event]State{
	StateStarting: {
		EventBegin: StateValidating,
	},
	StateValidating: {
		EventValidated: StateCheckingCache,
		EventRejected:  StateFailed,
	},
	StateCheckingCache: {
		EventCacheHit:  StateCompleted,
		EventCacheMiss: StateLocalCheck,
	},
	StateLocalCheck: {
		EventLocalVerdict: StateComposingResponse,
		EventLocalClean:   StateProviderCheck,
	},
	StateProviderCheck: {
		EventProvidersDone: StateAggregating,
	},
	StateAggregating: {
		EventMerged: StateComposingResponse,
	},
	StateComposingResponse: {
		EventComposed: StateCompleted,
	},
}

// Machine walks one request through the pipeline states.
type Machine struct {
	state State
}

// NewMachine returns a machine in the starting state.
func NewMachine() *Machine {
	return &Machine{state: StateStarting}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Fire applies ev to the current state. It fails when the state has no
// transition for the event, and the machine stays put.
func (m *Machine) Fire(ev Event) error {
	next, ok := transitions[m.state][ev]
	if !ok {
		return fmt.Errorf("engine: no transition from %s on %q", m.state, ev)
	}
	m.state = next
	return nil
}

// Terminal reports whether the machine reached a terminal state.
func (m *Machine) Terminal() bool {
	return m.state == StateCompleted || m.state == StateFailed
}
