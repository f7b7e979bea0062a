package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for request-fatal conditions. Everything touching a single
// contact fails in isolation; none of these abort work on other contacts.
var (
	// ErrUnknownContact rejects inbound traffic from phones with no service
	// record. There is no anonymous onboarding.
	ErrUnknownContact = errors.New("unknown contact")

	// ErrDuplicateMessage marks a replayed carrier message id. It is an
	// idempotent no-op, not a failure, so webhook handlers still return 200.
	ErrDuplicateMessage = errors.New("duplicate carrier message id")
)

// InvalidTransitionError reports a (state, trigger) pair not present in the
// configured transition table. The contact state is left unchanged.
type InvalidTransitionError struct {
	From    State
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("no transition from %q on trigger %q", e.From, e.Trigger)
}

// GatewayError wraps a carrier send failure. In campaign runs it is recovered
// per candidate; in the single-reply flow the turn is recorded failed-not-sent.
type GatewayError struct {
	To  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway send to %s failed: %v", e.To, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
