package topology

import "fmt"

// ErrorKind classifies a TopologyError, matching the taxonomy in §7 of the
// design spec: precondition violations are surfaced to the caller and
// never retried in-process.
type ErrorKind string

const (
	ErrAlreadyCreated    ErrorKind = "already_created"
	ErrNotCreated        ErrorKind = "not_created"
	ErrAlreadyExists     ErrorKind = "already_exists"
	ErrNotFound          ErrorKind = "not_found"
	ErrInvalidArgument   ErrorKind = "invalid_argument"
	ErrInvalidTransition ErrorKind = "invalid_transition"
	ErrDanglingReference ErrorKind = "dangling_reference"
)

// Error reports a Topology precondition violation.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("topology: %s: %s", e.Kind, e.Message)
}

func newErr(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	te, ok := err.(*Error)
	return ok && te.Kind == kind
}
