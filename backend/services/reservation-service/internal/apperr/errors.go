// Package apperr is the error taxonomy shared by the reservation engine and its HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for callers.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindPolicy
	KindNotFound
	KindDependency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindPolicy:
		return "policy_violation"
	case KindNotFound:
		return "not_found"
	case KindDependency:
		return "dependency"
	default:
		return "internal"
	}
}

// ConflictRef names what a request collided with.
type ConflictRef struct {
	ReservationID string `json:"reservationId,omitempty"`
	ConnectorID   string `json:"connectorId"`
	Reason        string `json:"reason"`
}

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind      Kind
	Op        string
	Message   string
	Conflicts []ConflictRef
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Safe reports whether Message may be shown to the caller verbatim.
func (e *Error) Safe() bool {
	switch e.Kind {
	case KindValidation, KindConflict, KindPolicy, KindNotFound:
		return true
	}
	return false
}

// Validation reports malformed input.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Policy reports an operation disallowed by timing or ownership rules.
func Policy(op, format string, args ...any) *Error {
	return &Error{Kind: KindPolicy, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown entity.
func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict reports an unavailable slot with the competing references.
func Conflict(op string, refs ...ConflictRef) *Error {
	msg := "requested slot is not available"
	if len(refs) > 0 {
		r := refs[0]
		if r.ReservationID != "" && r.Reason == "" {
			msg = fmt.Sprintf("connector %s is already reserved by %s", r.ConnectorID, r.ReservationID)
		} else {
			msg = fmt.Sprintf("connector %s is unavailable: %s", r.ConnectorID, r.Reason)
		}
	}
	return &Error{Kind: KindConflict, Op: op, Message: msg, Conflicts: refs}
}

// Dependency wraps a collaborator failure.
func Dependency(op, collaborator string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Message: collaborator + " unavailable", Err: err}
}

// Internal wraps an unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err has the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
