package calendar

import "errors"

type Kind string

const (
	KindValidation    Kind = "VALIDATION"
	KindConsistency   Kind = "CONSISTENCY"
	KindDuplicate     Kind = "DUPLICATE"
	KindReference     Kind = "REFERENCE"
	KindExternalFetch Kind = "EXTERNAL_FETCH"
)

const (
	MsgBlockedAssigned = "A blocked day cannot have a guest or a room assigned."
	MsgDateInPast      = "Date cannot be in the past."
	MsgConcurrentWrite = "Day was modified concurrently."
)

// Error is the single error type of the booking core. Message is what the
// API boundary shows to the caller.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the kind sentinels below, so errors.Is(err, ErrConsistency)
// holds for every consistency error whatever its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrConsistency   = &Error{Kind: KindConsistency}
	ErrDuplicate     = &Error{Kind: KindDuplicate}
	ErrReference     = &Error{Kind: KindReference}
	ErrExternalFetch = &Error{Kind: KindExternalFetch}
)

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func Consistency(message string) *Error {
	return &Error{Kind: KindConsistency, Message: message}
}

func Duplicate(message string) *Error {
	return &Error{Kind: KindDuplicate, Message: message}
}

func Reference(message string) *Error {
	return &Error{Kind: KindReference, Message: message}
}

func ExternalFetch(message string, err error) *Error {
	return &Error{Kind: KindExternalFetch, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
