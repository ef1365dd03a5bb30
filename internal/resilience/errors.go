package resilience

import (
	"context"
	"errors"
)

// Class buckets an error by how the orchestrator must react to it.
type Class int

const (
	// ClassNone is the class of a nil error.
	ClassNone Class = iota
	// ClassTransient covers network faults, throttling and timeouts. Retry with backoff.
	ClassTransient
	// ClassPermanent covers bad configuration and rejected requests. Never retry.
	ClassPermanent
	// ClassPartialDelivery means an alert went out but its dedup state was not saved.
	ClassPartialDelivery
	// ClassDeadline means the run's time budget ran out.
	ClassDeadline
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient_infra"
	case ClassPermanent:
		return "permanent_config"
	case ClassPartialDelivery:
		return "partial_delivery"
	case ClassDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// Classified is implemented by errors that know their own class. Adapters
// (agent, notify) return such errors so callers need not inspect transport
// details.
type Classified interface {
	ErrorClass() Class
}

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// ErrorClass implements Classified.
func (e *TransientError) ErrorClass() Class { return ClassTransient }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentError wraps an error that retrying cannot fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// ErrorClass implements Classified.
func (e *PermanentError) ErrorClass() Class { return ClassPermanent }

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Classify returns the class of err. The outermost Classified error in the
// chain wins. A cancelled context is ClassDeadline. Any other unclassified
// error is transient so that capped retries, not a single attempt, decide
// the outcome.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}

	var c Classified
	if errors.As(err, &c) {
		return c.ErrorClass()
	}

	if errors.Is(err, context.Canceled) {
		return ClassDeadline
	}

	return ClassTransient
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return Classify(err) == ClassPermanent
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		425, // Too Early
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
		529: // Overloaded
		return true
	default:
		return false
	}
}

// ClassifyHTTPStatus maps a non-2xx status to transient or permanent.
func ClassifyHTTPStatus(statusCode int) Class {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return ClassNone
	case IsTransientHTTPStatus(statusCode), statusCode >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}
