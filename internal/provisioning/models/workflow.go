package models

import (
	"fmt"

	dErrors "provisioner/pkg/domain-errors"
)

// State is a step of the provisioning workflow.
type State string

const (
	StateStart           State = "START"
	StateAuthenticated   State = "AUTHENTICATED"
	StateValidated       State = "VALIDATED"
	StateIdentityCreated State = "IDENTITY_CREATED"
	StateFinalized       State = "FINALIZED"
	StateCompensated     State = "COMPENSATED"
	StateFailed          State = "FAILED"
)

var transitions = map[State][]State{
	StateStart:           {StateAuthenticated, StateFailed},
	StateAuthenticated:   {StateValidated, StateFailed},
	StateValidated:       {StateIdentityCreated, StateFailed},
	StateIdentityCreated: {StateFinalized, StateCompensated, StateFailed},
	StateCompensated:     {StateFailed},
}

// Workflow tracks one request through the forward-only state machine.
type Workflow struct {
	state   State
	history []State
}

// NewWorkflow starts a workflow for an authenticated endpoint.
func NewWorkflow() *Workflow {
	return &Workflow{state: StateStart, history: []State{StateStart}}
}

// NewTrustedWorkflow starts at VALIDATED for inputs that come from
// configuration rather than a caller.
func NewTrustedWorkflow() *Workflow {
	return &Workflow{state: StateValidated, history: []State{StateValidated}}
}

func (w *Workflow) State() State { return w.state }

// History returns every state visited, in order.
func (w *Workflow) History() []State {
	return append([]State(nil), w.history...)
}

// Advance moves to the next state. Any edge not in the table is an
// invariant violation.
func (w *Workflow) Advance(to State) error {
	for _, allowed := range transitions[w.state] {
		if allowed == to {
			w.state = to
			w.history = append(w.history, to)
			return nil
		}
	}
	return dErrors.New(dErrors.CodeInvariantViolation,
		fmt.Sprintf("transition %s -> %s interdite", w.state, to))
}

// Fail moves to FAILED from any non-terminal state.
func (w *Workflow) Fail() {
	if w.state == StateFailed || w.state == StateFinalized {
		return
	}
	w.state = StateFailed
	w.history = append(w.history, StateFailed)
}

// Terminal reports whether no further transition is possible.
func (w *Workflow) Terminal() bool {
	return w.state == StateFinalized || w.state == StateFailed
}
