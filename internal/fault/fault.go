// Package fault classifies booth failures so the session state machine can
// decide whether a failure ends the current session or the whole process.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the failure category.
type Kind int

const (
	// Configuration errors are reported at startup and are fatal.
	Configuration Kind = iota + 1
	// Hardware errors (camera capture, overlay surface) abort the current
	// session; the booth returns to idle.
	Hardware
	// Resource errors (missing overlay asset) indicate a packaging defect
	// and are fatal.
	Resource
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Hardware:
		return "hardware"
	case Resource:
		return "resource"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error carries a Kind alongside the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Configf builds a Configuration error from a format string.
func Configf(format string, args ...interface{}) error {
	return &Error{Kind: Configuration, Op: "config", Err: fmt.Errorf(format, args...)}
}

// HardwareErr wraps err as a Hardware error for op.
func HardwareErr(op string, err error) error {
	return &Error{Kind: Hardware, Op: op, Err: err}
}

// ResourceErr wraps err as a Resource error for op.
func ResourceErr(op string, err error) error {
	return &Error{Kind: Resource, Op: op, Err: err}
}

// Is reports whether any error in err's chain is a fault of kind k.
func Is(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}

// Fatal reports whether err should terminate the process. Hardware faults
// are session-local; everything else, including unclassified errors, is fatal.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return !Is(err, Hardware)
}
