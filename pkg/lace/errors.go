package lace

import "fmt"

// ErrorKind is the closed taxonomy of error categories. It is carried on
// LaceError so every layer (Agent, RetryPolicy, NonInteractiveRunner)
// can switch on kind without parsing strings.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation_error"
	KindToolNotFound      ErrorKind = "tool_not_found"
	KindApprovalDenied    ErrorKind = "approval_denied"
	KindApprovalPending   ErrorKind = "approval_pending"
	KindProviderTransient ErrorKind = "provider_transient"
	KindProviderFatal     ErrorKind = "provider_fatal"
	KindAuth              ErrorKind = "auth_error"
	KindBudgetExceeded    ErrorKind = "budget_exceeded"
	KindPersistenceDown   ErrorKind = "persistence_unavailable"
	KindCancelled         ErrorKind = "cancelled"
	KindUnknownEventType  ErrorKind = "unknown_event_type"
	KindNotStarted        ErrorKind = "not_started"
	KindDuplicateThread   ErrorKind = "duplicate_thread"
)

// LaceError wraps an underlying error with its taxonomy kind.
type LaceError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *LaceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *LaceError) Unwrap() error { return e.Err }

// NewError builds a LaceError of the given kind.
func NewError(kind ErrorKind, msg string, cause error) *LaceError {
	return &LaceError{Kind: kind, Msg: msg, Err: cause}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is
// a *LaceError; ok is false otherwise.
func KindOf(err error) (ErrorKind, bool) {
	var le *LaceError
	if le2, ok := asLaceError(err); ok {
		le = le2
	}
	if le == nil {
		return "", false
	}
	return le.Kind, true
}

func asLaceError(err error) (*LaceError, bool) {
	for err != nil {
		if le, ok := err.(*LaceError); ok {
			return le, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// ErrApprovalPending is a sentinel control-flow error: ToolExecutor raises
// it rather than blocking when a decision has not yet been recorded.
var ErrApprovalPending = NewError(KindApprovalPending, "awaiting approval decision", nil)

// ErrNotStarted is raised by Agent.SendMessage when called before Start.
var ErrNotStarted = NewError(KindNotStarted, "agent not started", nil)

// ErrDuplicateThread is raised by ThreadStore.CreateThread when the id
// already exists.
var ErrDuplicateThread = NewError(KindDuplicateThread, "thread already exists", nil)
