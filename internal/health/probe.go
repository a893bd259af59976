package health

import (
	"context"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-cdninv/internal/xerrors"
)

// Probe reports liveness or readiness at request time. A non-nil error is
// the failure reason shown to the caller.
type Probe interface {
	Check(ctx context.Context) error
}

// CheckFunc lets a plain function serve as a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed always passes when ok is true and otherwise always fails with
// reason, or "unhealthy" when reason is empty.
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes when every non-nil probe passes. Evaluation stops at the
// first failure, which is returned.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any passes when at least one non-nil probe passes. With no passing probe
// it returns the last failure seen.
func Any(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		err := xerrors.New("no healthy probes")
		for _, p := range ps {
			if p == nil {
				continue
			}
			perr := p.Check(ctx)
			if perr == nil {
				return nil
			}
			err = perr
		}
		return err
	}
}

// Named prefixes a failure with the component name, as in
// "settings: no snapshot loaded".
func Named(name string, p Probe) CheckFunc {
	return func(ctx context.Context) error {
		if p == nil {
			return nil
		}
		return xerrors.Wrap(p.Check(ctx), name)
	}
}

// ShutdownGate fails readiness once Set is called so load balancers stop
// routing webhooks before the listener closes.
type ShutdownGate struct {
	closed atomic.Bool
	reason atomic.Pointer[string]
}

// Set closes the gate. An empty reason reads as "draining".
func (g *ShutdownGate) Set(reason string) {
	g.reason.Store(&reason)
	g.closed.Store(true)
}

// Clear reopens the gate.
func (g *ShutdownGate) Clear() {
	g.closed.Store(false)
	g.reason.Store(nil)
}

// Probe reflects the gate state at each call.
func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.closed.Load() {
			return nil
		}
		if r := g.reason.Load(); r != nil && *r != "" {
			return xerrors.New(*r)
		}
		return xerrors.New("draining")
	}
}
