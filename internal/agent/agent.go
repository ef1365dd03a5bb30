// Package agent evaluates a farm by running an LLM agent that calls the
// weather, satellite and pest tools and submits a structured assessment.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/agri-ai/farm-monitor/internal/model"
	"github.com/agri-ai/farm-monitor/internal/resilience"
)

// Evaluator produces one assessment per farm. Implementations do not retry;
// they return *Error so the caller can decide.
type Evaluator interface {
	Evaluate(ctx context.Context, farm model.Farm) (*model.Assessment, error)
}

// Sentinels matched by errors.Is against *Error.
var (
	ErrUnavailable = eris.New("agent unavailable")
	ErrInvalid     = eris.New("agent rejected request")
)

// Error is returned by every Evaluator. Transient errors (network, timeout,
// throttling, 5xx, no assessment produced) match ErrUnavailable; the rest
// match ErrInvalid.
type Error struct {
	FarmID     string
	Transient  bool
	StatusCode int
	Err        error
	// Usage is what the failed evaluation consumed before giving up.
	Usage model.TokenUsage
}

func (e *Error) Error() string {
	kind := "invalid"
	if e.Transient {
		kind = "unavailable"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("agent %s for farm %s (status %d): %v", kind, e.FarmID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agent %s for farm %s: %v", kind, e.FarmID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUnavailable) and errors.Is(err, ErrInvalid) work.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Transient
	case ErrInvalid:
		return !e.Transient
	}
	return false
}

// ErrorClass implements resilience.Classified.
func (e *Error) ErrorClass() resilience.Class {
	if e.Transient {
		return resilience.ClassTransient
	}
	return resilience.ClassPermanent
}

func unavailable(farmID string, err error) *Error {
	return &Error{FarmID: farmID, Transient: true, Err: err}
}

func invalid(farmID string, err error) *Error {
	return &Error{FarmID: farmID, Err: err}
}

// classify maps a transport error to an agent Error. HTTP status wins when
// present; otherwise unknown failures are transient so capped retries decide.
func classify(farmID string, status int, err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if status > 0 {
		if resilience.ClassifyHTTPStatus(status) == resilience.ClassTransient {
			return &Error{FarmID: farmID, Transient: true, StatusCode: status, Err: err}
		}
		return &Error{FarmID: farmID, StatusCode: status, Err: err}
	}
	if resilience.Classify(err) == resilience.ClassPermanent {
		return invalid(farmID, err)
	}
	return unavailable(farmID, err)
}

// UsageOf returns the tokens consumed by the evaluation that produced err.
// Errors not raised by an Evaluator report zero usage.
func UsageOf(err error) model.TokenUsage {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Usage
	}
	return model.TokenUsage{}
}

// SessionID names one agent invocation: daily-{farmId}-{YYYYmmddHHMM} in UTC.
func SessionID(farmID string, at time.Time) string {
	return fmt.Sprintf("daily-%s-%s", farmID, at.UTC().Format("200601021504"))
}
