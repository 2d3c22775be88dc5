package uiharness

import "time"

// State is the lifecycle state of a test session.
type State int

const (
	StateIdle State = iota
	StateProvisioning
	StateReady
	StateRunning
	StatePassed
	StateFailed
	StateInfrastructureError
	StateCollecting
	StateTearingDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProvisioning:
		return "provisioning"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	case StateInfrastructureError:
		return "infrastructure-error"
	case StateCollecting:
		return "collecting"
	case StateTearingDown:
		return "tearing-down"
	default:
		return "unknown"
	}
}

// Outcome is the result of a test session.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomePassed
	OutcomeFailed
	// OutcomeInfrastructureError means the session could not be provisioned or timed out.
	// The test body is not to blame.
	OutcomeInfrastructureError
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomePassed:
		return "passed"
	case OutcomeFailed:
		return "failed"
	case OutcomeInfrastructureError:
		return "infrastructure-error"
	default:
		return "unknown"
	}
}

func (o Outcome) state() State {
	switch o {
	case OutcomePassed:
		return StatePassed
	case OutcomeFailed:
		return StateFailed
	default:
		return StateInfrastructureError
	}
}

// Transition is passed to Options.OnTransition for every state change of a session.
type Transition struct {
	SessionID string
	Name      string
	From      State
	To        State
	At        time.Time
}
