package server

import (
	"github.com/pkg/errors"
)

// Kind classifies an error the way the rest of the core dispatches on it:
// by category, not by message text.
type Kind int

const (
	ErrNone Kind = iota
	ErrInvalidArg
	ErrNoMem
	ErrNotFound
	ErrConnClosed
	ErrIO
	ErrRouteFull
	ErrAlreadyRunning
	ErrNotRunning
	ErrMiddleware
	ErrTimeout
	ErrProtocolError
	ErrParseError
	ErrFrameError
	ErrFrameClose
)

func (k Kind) String() string {
	switch k {
	case ErrInvalidArg:
		return "invalid argument"
	case ErrNoMem:
		return "no memory"
	case ErrNotFound:
		return "not found"
	case ErrConnClosed:
		return "connection closed"
	case ErrIO:
		return "io error"
	case ErrRouteFull:
		return "route table full"
	case ErrAlreadyRunning:
		return "already running"
	case ErrNotRunning:
		return "not running"
	case ErrMiddleware:
		return "middleware error"
	case ErrTimeout:
		return "timeout"
	case ErrProtocolError:
		return "protocol error"
	case ErrParseError:
		return "parse error"
	case ErrFrameError:
		return "frame error"
	case ErrFrameClose:
		return "frame close"
	default:
		return "none"
	}
}

// kindError pairs a Kind with an underlying cause so that errors.Cause
// (github.com/pkg/errors) still unwraps to whatever produced it, while
// Kind(err) lets dispatch code switch on category without string matching.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *kindError) Cause() error { return e.cause }
func (e *kindError) Unwrap() error { return e.cause }

// NewError wraps msg as a kindError of the given Kind, attaching a stack
// trace via pkg/errors so a 500 path can log it in full.
func NewError(kind Kind, msg string) error {
	return &kindError{kind: kind, cause: errors.New(msg)}
}

// WrapError wraps an existing error with a Kind, preserving the original
// error (and its stack, if it has one) as the Cause.
func WrapError(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.WithStack(err)}
}

// KindOf returns the Kind attached to err, or ErrIO if err carries none
// (an unclassified error reaching the dispatch loop is treated as an IO
// failure — the safest default that still closes the connection).
func KindOf(err error) Kind {
	if err == nil {
		return ErrNone
	}
	var ke *kindError
	for e := err; e != nil; {
		if k, ok := e.(*kindError); ok {
			ke = k
			break
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	if ke == nil {
		return ErrIO
	}
	return ke.kind
}

// defaultStatusForKind maps an error Kind to the status code used when
// neither a route handler nor middleware suppresses the error by
// returning nil.
func defaultStatusForKind(k Kind) int {
	switch k {
	case ErrNotFound:
		return 404
	case ErrInvalidArg, ErrParseError, ErrProtocolError:
		return 400
	case ErrNoMem:
		return 503
	case ErrTimeout:
		return 408
	default:
		return 500
	}
}
