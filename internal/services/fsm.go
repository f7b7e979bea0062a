package services

import (
	"fmt"
)

// State is a conversation state. The set is closed; the edges between them
// are policy configured at startup.
type State string

const (
	StateStart      State = "start"
	StateInterested State = "interested"
	StateActionSqft State = "action_sqft"
	StateFollowUp   State = "follow_up"
	StatePause      State = "pause"
	StateStop       State = "stop"
	StateDone       State = "done"
)

// Trigger is an event that may advance a conversation.
type Trigger string

const (
	TriggerInboundReply      Trigger = "inbound_reply"
	TriggerOptOut            Trigger = "opt_out"
	TriggerOptIn             Trigger = "opt_in"
	TriggerManualOverride    Trigger = "manual_override"
	TriggerScheduledFollowUp Trigger = "scheduled_follow_up"
)

var allStates = map[State]bool{
	StateStart:      true,
	StateInterested: true,
	StateActionSqft: true,
	StateFollowUp:   true,
	StatePause:      true,
	StateStop:       true,
	StateDone:       true,
}

var allTriggers = map[Trigger]bool{
	TriggerInboundReply:      true,
	TriggerOptOut:            true,
	TriggerOptIn:             true,
	TriggerManualOverride:    true,
	TriggerScheduledFollowUp: true,
}

// TerminalStates are excluded from all automated sends. Operators may still
// edit contacts in these states.
var TerminalStates = []string{string(StateStop), string(StateDone)}

// IdleStates are states that do not count toward the max-active cap:
// terminal states plus start (not yet engaged).
var IdleStates = []string{string(StateStart), string(StateStop), string(StateDone)}

// ParseState validates a raw state string from storage or an operator request.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !allStates[s] {
		return "", fmt.Errorf("unknown state %q", raw)
	}
	return s, nil
}

// IsTerminal reports whether automation must not send to a contact in s.
func IsTerminal(s State) bool {
	return s == StateStop || s == StateDone
}

// IsIdle reports whether s does not count toward the max-active cap.
func IsIdle(s State) bool {
	return s == StateStart || s == StateStop || s == StateDone
}

// TransitionTable maps (state, trigger) to the next state.
type TransitionTable map[State]map[Trigger]State

// DefaultTransitionTable returns the stock conversation flow: an outreach
// nudge keeps a contact in start until they reply, a reply walks
// interested -> action_sqft -> follow_up -> done, opt-out always lands in
// stop, and re-enrollment from stop requires an explicit opt-in.
func DefaultTransitionTable() TransitionTable {
	return TransitionTable{
		StateStart: {
			TriggerInboundReply:      StateInterested,
			TriggerOptOut:            StateStop,
			TriggerScheduledFollowUp: StateStart,
			TriggerManualOverride:    StatePause,
		},
		StateInterested: {
			TriggerInboundReply:      StateActionSqft,
			TriggerOptOut:            StateStop,
			TriggerScheduledFollowUp: StateFollowUp,
			TriggerManualOverride:    StatePause,
		},
		StateActionSqft: {
			TriggerInboundReply:      StateFollowUp,
			TriggerOptOut:            StateStop,
			TriggerScheduledFollowUp: StateFollowUp,
			TriggerManualOverride:    StatePause,
		},
		StateFollowUp: {
			TriggerInboundReply:   StateDone,
			TriggerOptOut:         StateStop,
			TriggerManualOverride: StatePause,
		},
		StatePause: {
			TriggerInboundReply:      StateInterested,
			TriggerOptOut:            StateStop,
			TriggerScheduledFollowUp: StatePause,
			TriggerManualOverride:    StateStart,
		},
		StateStop: {
			TriggerOptIn:          StateStart,
			TriggerManualOverride: StateStart,
		},
		StateDone: {
			TriggerManualOverride: StateStart,
		},
	}
}

// StateMachine applies a validated transition table. It never mutates
// contacts itself; callers persist the returned state.
type StateMachine struct {
	table TransitionTable
}

// NewStateMachine validates the table once at startup so runtime transitions
// can trust it. Unknown states or triggers are configuration errors.
func NewStateMachine(table TransitionTable) (*StateMachine, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("transition table is empty")
	}
	for from, edges := range table {
		if !allStates[from] {
			return nil, fmt.Errorf("transition table references unknown state %q", from)
		}
		for trigger, to := range edges {
			if !allTriggers[trigger] {
				return nil, fmt.Errorf("transition table references unknown trigger %q", trigger)
			}
			if !allStates[to] {
				return nil, fmt.Errorf("transition %q + %q targets unknown state %q", from, trigger, to)
			}
		}
	}
	return &StateMachine{table: table}, nil
}

// Transition returns the next state for (current, trigger), or an
// InvalidTransitionError leaving the current state authoritative.
func (m *StateMachine) Transition(current State, trigger Trigger) (State, error) {
	edges, ok := m.table[current]
	if !ok {
		return current, &InvalidTransitionError{From: current, Trigger: trigger}
	}
	next, ok := edges[trigger]
	if !ok {
		return current, &InvalidTransitionError{From: current, Trigger: trigger}
	}
	return next, nil
}
