package domain

import (
	"errors"
	"time"
)

// RuleState is the lifecycle position of a rule inside the engine.
type RuleState string

const (
	RuleStateDiscovered RuleState = "discovered"
	RuleStateArmed      RuleState = "armed"
	RuleStateChecking   RuleState = "checking"
	RuleStateSatisfied  RuleState = "satisfied"
	RuleStateExecuting  RuleState = "executing"
	RuleStateExecuted   RuleState = "executed"
	RuleStateFailed     RuleState = "failed"
	RuleStateRetired    RuleState = "retired"
	RuleStateCancelled  RuleState = "cancelled"
)

// ErrInvalidTransition is returned when a watcher attempts an illegal state change.
var ErrInvalidTransition = errors.New("invalid rule state transition")

// ValidTransitions lists the allowed next states for every state.
var ValidTransitions = map[RuleState][]RuleState{
	RuleStateDiscovered: {RuleStateArmed, RuleStateRetired, RuleStateCancelled},
	RuleStateArmed:      {RuleStateChecking, RuleStateRetired, RuleStateCancelled},
	RuleStateChecking: {
		RuleStateArmed,
		RuleStateSatisfied,
		RuleStateRetired,
		RuleStateCancelled,
	},
	RuleStateSatisfied: {RuleStateExecuting, RuleStateRetired, RuleStateCancelled},
	RuleStateExecuting: {RuleStateExecuted, RuleStateFailed, RuleStateCancelled},
	// Recurring rules re-arm after an execution or a failed submission.
	RuleStateExecuted: {RuleStateArmed},
	RuleStateFailed:   {RuleStateArmed},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to RuleState) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state ends the watcher for the given mode.
func (s RuleState) IsTerminal(mode ExecutionMode) bool {
	switch s {
	case RuleStateRetired, RuleStateCancelled:
		return true
	case RuleStateExecuted, RuleStateFailed:
		return mode != ModeRecurring
	default:
		return false
	}
}

// Transition records a state change of one rule.
type Transition struct {
	RuleID    RuleID
	From      RuleState
	To        RuleState
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a transition record stamped with the current time.
func NewTransition(id RuleID, from, to RuleState, reason string) Transition {
	return Transition{
		RuleID:    id,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}
