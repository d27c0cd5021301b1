package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("concurrent update")
	ErrLockHeld      = errors.New("lock already held")
	ErrSessionStale  = errors.New("session belongs to a past trading day")
	ErrNoPosition    = errors.New("no active position")

	// Execution taxonomy. The typed errors below match these with errors.Is.
	ErrValidation        = errors.New("validation failed")
	ErrLocked            = errors.New("trading locked")
	ErrMarketClosed      = errors.New("market window closed")
	ErrAlreadyExecuting  = errors.New("execution already in flight")
	ErrBroker            = errors.New("broker error")
	ErrPreflightRejected = errors.New("preflight rejected")
)

// ValidationError reports sizing inputs or session state that make an
// execution impossible until the trader corrects them.
type ValidationError struct {
	Reason DisabledReason
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("validation: %s", e.Reason.Message())
	}
	return fmt.Sprintf("validation: %s", strings.Join(e.Errors, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// LockedError is returned while the circuit breaker holds the session.
type LockedError struct {
	Reason string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("trading locked: %s", e.Reason)
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// MarketClosedError is returned when the clock does not permit execution.
type MarketClosedError struct {
	Status MarketStatus
}

func (e *MarketClosedError) Error() string {
	return fmt.Sprintf("market not open for execution: %s", e.Status)
}

func (e *MarketClosedError) Is(target error) bool { return target == ErrMarketClosed }

// AlreadyExecutingError is returned by the re-entrancy guard.
type AlreadyExecutingError struct {
	SessionID string
}

func (e *AlreadyExecutingError) Error() string {
	return fmt.Sprintf("session %s: execution already in flight", e.SessionID)
}

func (e *AlreadyExecutingError) Is(target error) bool { return target == ErrAlreadyExecuting }

// BrokerError wraps a failure from the broker adapter. When Unknown is set the
// call was cancelled or timed out and the order status must be re-queried.
type BrokerError struct {
	Message string
	Unknown bool
	Err     error
}

func (e *BrokerError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Unknown {
		return fmt.Sprintf("broker: %s (order status unknown, re-query before retrying)", msg)
	}
	return fmt.Sprintf("broker: %s", msg)
}

func (e *BrokerError) Unwrap() error { return e.Err }

func (e *BrokerError) Is(target error) bool { return target == ErrBroker }

// RejectedError is returned by the preflight gate when any answer is missing.
type RejectedError struct {
	Reason  string
	Missing []string
}

func (e *RejectedError) Error() string {
	if len(e.Missing) == 0 {
		return "preflight rejected: " + e.Reason
	}
	return fmt.Sprintf("preflight rejected: %s (missing: %s)", e.Reason, strings.Join(e.Missing, ", "))
}

func (e *RejectedError) Is(target error) bool { return target == ErrPreflightRejected }
