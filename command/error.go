// Package command implements the argument parsing, wire-shape composition,
// and error taxonomy: a thin adapter translating the TS.* command surface
// onto metricsdb.Database and engine.Engine.
package command

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind is the typed error taxonomy of 
type ErrorKind uint8

const (
	KindWrongType ErrorKind = iota
	KindParseError
	KindArgsError
	KindConstraintViolation
	KindDuplicateBlocked
	KindNotFound
	KindQueryTimeout
	KindInternal
)

func (k ErrorKind) wirePrefix() string {
	switch k {
	case KindWrongType:
		return "WRONGTYPE"
	case KindParseError:
		return "TSDB: parse error"
	case KindArgsError:
		return "TSDB: invalid arguments"
	case KindConstraintViolation:
		return "TSDB: constraint violation"
	case KindDuplicateBlocked:
		return "TSDB: duplicate sample blocked"
	case KindNotFound:
		return "TSDB: key does not exist"
	case KindQueryTimeout:
		return "TSDB: query timeout"
	default:
		return "TSDB: internal error"
	}
}

// Error is the typed error every command function returns on failure. It
// carries enough to both format a wire-compatible message (prefix + text)
// and let callers branch on Kind programmatically.
type Error struct {
	Kind ErrorKind
	msg  string
	zap  error // wrapped cause, for logging at the Internal boundary
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.wirePrefix(), e.msg)
}

// Cause lets pkg/errors-aware callers unwrap to the original error.
func (e *Error) Cause() error { return e.zap }

func (e *Error) Unwrap() error { return e.zap }

func newErr(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

func wrapErr(kind ErrorKind, cause error, context string) *Error {
	return &Error{Kind: kind, msg: context + ": " + cause.Error(), zap: errors.WithStack(cause)}
}

var (
	ErrNotFound  = newErr(KindNotFound, "key does not exist")
	ErrQueryTimeout = newErr(KindQueryTimeout, "evaluation exceeded its deadline")
)
