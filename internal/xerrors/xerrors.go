// Package xerrors attaches call-site positions and stacks to errors so the
// logger can render where a failure originated and how it was wrapped.
//
// New, Newf, WithStack and EnsureTrace record a full stack. Wrap and Wrapf
// record only the caller's PC; a chain of wraps over a stacked root gives
// the logger one position per hop plus the origin stack.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// maxStackDepth bounds captured stacks.
const maxStackDepth = 64

// stacked carries the stack captured where the error was created.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// wrapped adds a message and the position of the Wrap call.
type wrapped struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrapped) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrapped) Unwrap() error     { return w.err }
func (w *wrapped) PC() uintptr       { return w.pc }
func (w *wrapped) IsXerrorsWrapper() {}

// skip counts frames above runtime.Callers: 0 is the caller of stackAt.
func stackAt(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+2, pcs)
	return pcs[:n]
}

func pcAt(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(skip+2, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func stack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: stackAt(skip + 1)}
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return stack(errors.New(msg), 1) }

// Newf is New with fmt.Errorf formatting; %w is honoured.
func Newf(format string, args ...any) error { return stack(fmt.Errorf(format, args...), 1) }

// WithStack records the caller's stack on err. nil stays nil.
func WithStack(err error) error { return stack(err, 1) }

// EnsureTrace is WithStack unless err already carries a stack somewhere in
// its chain.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return stack(err, 1)
}

// Wrap prefixes err with msg and records the caller's position. nil stays
// nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: msg, pc: pcAt(1)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{err: err, msg: fmt.Sprintf(format, args...), pc: pcAt(1)}
}
