package xerror

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	FileAccess        Kind = "FileAccessError"
	Service           Kind = "ServiceError"
	Protocol          Kind = "ProtocolError"
	ContractViolation Kind = "ContractViolationError"
	Decode            Kind = "DecodeError"
)

// Sentinels for errors.Is checks against a kind.
var (
	ErrFileAccess        = &Error{Kind: FileAccess}
	ErrService           = &Error{Kind: Service}
	ErrProtocol          = &Error{Kind: Protocol}
	ErrContractViolation = &Error{Kind: ContractViolation}
	ErrDecode            = &Error{Kind: Decode}
)

// Error is a failure that aborts a pipeline run.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err (which may be nil) with a kind and the operation that failed.
// The cause gets a stack trace attached.
func New(k Kind, op string, err error) *Error {
	if err != nil {
		err = errors.WithStack(err)
	}
	return &Error{Kind: k, Op: op, Err: err}
}

// Newf is New with a formatted cause.
func Newf(k Kind, op string, format string, a ...interface{}) *Error {
	return &Error{Kind: k, Op: op, Err: errors.Errorf(format, a...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrProtocol) works
// regardless of operation or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var x *Error
	if errors.As(err, &x) {
		return x.Kind
	}
	return ""
}
