package schemas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// -- Fault Taxonomy --
//
// Every failure surfaced by the resilience layer is classified along one axis:
// transient (worth retrying) or permanent (retrying cannot help). The concrete
// types below add structure for the two failure shapes that carry diagnostics,
// element lookup misses and condition timeouts. External cancellation is not
// part of the taxonomy; it travels as the caller's context error and is never
// retried.

// Sentinel errors for classification via errors.Is.
var (
	// ErrInvalidArgument marks a caller mistake, not an environment fault.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound marks an element lookup that exhausted its candidates.
	ErrNotFound = errors.New("element not found")
	// ErrTimeout marks a condition that did not hold within its budget.
	ErrTimeout = errors.New("timed out")
)

// TransientError wraps a failure that is expected to clear on its own, such
// as a half-rendered page or a momentary network hiccup.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that retrying cannot fix, such as a 404 or a
// selector that can never match.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Transient marks err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transientf builds a retryable error from a format string.
func Transientf(format string, args ...interface{}) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Permanent marks err as not retryable. A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Permanentf builds a non-retryable error from a format string.
func Permanentf(format string, args ...interface{}) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err should be treated as retryable. Explicit
// markers win over the built-in classification: a PermanentError is never
// transient even if it wraps a timeout. Lookup misses and condition timeouts
// count as transient because they are the signature of a flaky UI. Context
// errors and invalid arguments never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if IsCancelled(err) || errors.Is(err, ErrInvalidArgument) {
		return false
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrTimeout)
}

// IsCancelled reports whether err stems from caller-side cancellation or a
// caller-imposed deadline.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// -- Lookup Diagnostics --

// DescriptorAttempt records one candidate tried during element resolution.
type DescriptorAttempt struct {
	Descriptor Descriptor    `json:"descriptor"`
	Elapsed    time.Duration `json:"elapsed"`
	// Outcome is a short note: "timed out", "engine error: ...",
	// or "not attempted: total budget exhausted".
	Outcome string `json:"outcome"`
}

// NotFoundError reports that no candidate descriptor yielded a visible
// element. Attempts preserves the order in which candidates were tried so the
// message reads as a resolution trace.
type NotFoundError struct {
	Attempts []DescriptorAttempt
}

func (e *NotFoundError) Error() string {
	var b strings.Builder
	b.WriteString("no visible element for any of ")
	fmt.Fprintf(&b, "%d candidate(s)", len(e.Attempts))
	for i, a := range e.Attempts {
		if a.Elapsed > 0 {
			fmt.Fprintf(&b, "; [%d] %s (%s after %s)", i+1, a.Descriptor.String(), a.Outcome, a.Elapsed.Round(time.Millisecond))
		} else {
			fmt.Fprintf(&b, "; [%d] %s (%s)", i+1, a.Descriptor.String(), a.Outcome)
		}
	}
	return b.String()
}

// Is lets errors.Is(err, ErrNotFound) match without losing the diagnostics.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// -- Timeout Diagnostics --

// TimeoutError reports a condition that never held within its budget.
type TimeoutError struct {
	// What describes the condition being awaited.
	What string
	// Timeout is the configured budget; Elapsed the wall clock time spent.
	Timeout time.Duration
	Elapsed time.Duration
	// Polls counts how many times the condition was evaluated.
	Polls int
}

func (e *TimeoutError) Error() string {
	what := e.What
	if what == "" {
		what = "condition"
	}
	return fmt.Sprintf("%s not met within %s (waited %s, %d poll(s))",
		what, e.Timeout, e.Elapsed.Round(time.Millisecond), e.Polls)
}

// Is lets errors.Is(err, ErrTimeout) match without losing the diagnostics.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
