package shfllock

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong so callers (and tests) can tell a bug in
// the caller from an exhausted resource or plain contention.
type Kind uint8

const (
	// KindContract is caller misuse: unlocking an unheld lock, nesting
	// deeper than the node pool, using a Proc that was returned.
	KindContract Kind = iota + 1
	// KindResource is exhaustion of a fixed-size collaborator, such as
	// every CPU slot of a Domain being claimed.
	KindResource
	// KindContention is a try-operation that found the lock busy.
	KindContention
)

func (k Kind) String() string {
	switch k {
	case KindContract:
		return "contract violation"
	case KindResource:
		return "resource limit"
	case KindContention:
		return "contended"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

var (
	ErrContract  = errors.New("shfllock: contract violation")
	ErrResource  = errors.New("shfllock: resource limit")
	ErrContended = errors.New("shfllock: lock contended")
)

// Error is returned (or, for contract violations on lock paths, panicked)
// by this package.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	return "shfllock: " + e.Op + ": " + e.Msg
}

// Unwrap maps the error onto its sentinel so errors.Is(err, ErrResource)
// and friends work.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindContract:
		return ErrContract
	case KindResource:
		return ErrResource
	case KindContention:
		return ErrContended
	}
	return nil
}

func newError(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// contractf panics: a lock whose invariants were broken by the caller
// cannot be handed to anyone else safely.
func contractf(op, format string, args ...any) {
	panic(newError(KindContract, op, format, args...))
}

// KindOf reports the Kind of err, or 0 if err did not come from this
// package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
