package shares

import (
	"errors"
)

// Error classes. Every *ActionError matches exactly one of these with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrNotFound      = errors.New("not found")
	ErrConnectivity  = errors.New("connectivity error")
	ErrSubmission    = errors.New("submission error")
)

// Kind is the specific reason an action was rejected.
type Kind string

const (
	KindNotConnected      Kind = "not_connected"
	KindNotFound          Kind = "not_found"
	KindNotInitialized    Kind = "not_initialized"
	KindInvalidAmount     Kind = "invalid_amount"
	KindUnauthorized      Kind = "unauthorized"
	KindInsufficientState Kind = "insufficient_state"
	KindNetwork           Kind = "network_failure"
	KindSubmission        Kind = "submission_failed"
)

func (k Kind) class() error {
	switch k {
	case KindUnauthorized:
		return ErrAuthorization
	case KindNotFound:
		return ErrNotFound
	case KindNetwork:
		return ErrConnectivity
	case KindSubmission:
		return ErrSubmission
	default:
		return ErrValidation
	}
}

// ActionError is the rejection value of BuyShares, DepositYield and Claim.
// Error returns a short human-readable reason.
type ActionError struct {
	Action     string
	PropertyID string
	Kind       Kind
	Reason     string
	Err        error
}

func (e *ActionError) Error() string {
	return e.Reason
}

func (e *ActionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind.class()}
	}
	return []error{e.Kind.class(), e.Err}
}

// KindOf returns the Kind of an *ActionError in err's chain, or "".
func KindOf(err error) Kind {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Kind
	}
	return ""
}

func newActionError(action, propertyID string, kind Kind, reason string, err error) *ActionError {
	return &ActionError{
		Action:     action,
		PropertyID: propertyID,
		Kind:       kind,
		Reason:     reason,
		Err:        err,
	}
}
