package check

import (
	"errors"
	"fmt"
)

// ErrDiscoveryUnavailable indicates the geodata source could not be reached.
// It aborts a run before any batch executes.
var ErrDiscoveryUnavailable = errors.New("subject discovery unavailable")

// ErrorKind classifies a failed lookup attempt.
type ErrorKind string

// Error kinds surfaced by Lookup implementations. Blocked, timeout and
// transport failures are expected to self-resolve and are retried; anything
// else is fatal for the subject.
const (
	KindBlocked   ErrorKind = "blocked"
	KindTimeout   ErrorKind = "timeout"
	KindTransport ErrorKind = "transport"
	KindFatal     ErrorKind = "fatal"
)

// Transient reports whether the kind is worth retrying.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindBlocked, KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}

// LookupError is returned by Lookup implementations to classify a single
// failed attempt.
type LookupError struct {
	Kind ErrorKind
	Err  error
}

func (e *LookupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("lookup failed (%s)", e.Kind)
	}
	return fmt.Sprintf("lookup failed (%s): %v", e.Kind, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// NewLookupError wraps err with a classification.
func NewLookupError(kind ErrorKind, err error) *LookupError {
	return &LookupError{Kind: kind, Err: err}
}

// CheckError is the terminal failure for a subject after the executor gave up.
type CheckError struct {
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check failed after %d attempt(s) (%s): %v", e.Attempts, e.Kind, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification from err, defaulting to KindFatal for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Kind
	}
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}
