package rules

import (
	"fmt"
	"sync/atomic"
)

// ActivationKind selects when a matching access corrupts.
type ActivationKind int

const (
	// Countdown ignores the first n matching accesses and fires on every later one.
	Countdown ActivationKind = iota
	// OneShot fires unconditionally ("C" prefix).
	OneShot
	// GlobalZero fires only while the session's global-corrupt switch is on ("Z" prefix).
	GlobalZero
)

// String returns the activation name.
func (k ActivationKind) String() string {
	switch k {
	case Countdown:
		return "countdown"
	case OneShot:
		return "oneshot"
	case GlobalZero:
		return "globalzero"
	default:
		return fmt.Sprintf("activation(%d)", int(k))
	}
}

// Decision is the result of consulting an activation on one matching access.
type Decision int

const (
	// NoMatch means the rule does not apply to this access.
	NoMatch Decision = iota
	// Armed means the rule matched but is not due yet.
	Armed
	// Fire means the rule corrupts this access.
	Fire
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Armed:
		return "armed"
	case Fire:
		return "fire"
	default:
		return "no-match"
	}
}

// Activation is the per-rule state machine. It is safe for concurrent use.
type Activation struct {
	kind      ActivationKind
	initial   int64
	remaining atomic.Int64
	fired     atomic.Bool
	fires     atomic.Uint64
}

// NewCountdown returns an activation that fires from the (n+1)-th matching access on.
func NewCountdown(n uint64) *Activation {
	a := &Activation{kind: Countdown, initial: int64(n)}
	a.remaining.Store(int64(n))
	return a
}

// NewOneShot returns an activation that always fires.
func NewOneShot() *Activation {
	return &Activation{kind: OneShot}
}

// NewGlobalZero returns an activation gated on the session switch.
func NewGlobalZero() *Activation {
	return &Activation{kind: GlobalZero}
}

// Kind returns the activation kind.
func (a *Activation) Kind() ActivationKind {
	return a.kind
}

// Decide consumes one matching access. Concurrent callers share one
// countdown budget: exactly n of them observe Armed.
func (a *Activation) Decide(globalCorrupt bool) Decision {
	switch a.kind {
	case Countdown:
		for {
			cur := a.remaining.Load()
			if cur <= 0 {
				a.record()
				return Fire
			}
			if a.remaining.CompareAndSwap(cur, cur-1) {
				return Armed
			}
		}
	case OneShot:
		a.record()
		return Fire
	case GlobalZero:
		if !globalCorrupt {
			return NoMatch
		}
		a.record()
		return Fire
	}
	return NoMatch
}

func (a *Activation) record() {
	a.fires.Add(1)
	a.fired.Store(true)
}

// Remaining returns the countdown value still to be consumed.
func (a *Activation) Remaining() uint64 {
	if v := a.remaining.Load(); v > 0 {
		return uint64(v)
	}
	return 0
}

// Fired reports whether the activation has fired at least once.
func (a *Activation) Fired() bool {
	return a.fired.Load()
}

// Fires returns how many accesses this activation corrupted.
func (a *Activation) Fires() uint64 {
	return a.fires.Load()
}

// String renders the activation and its current state.
func (a *Activation) String() string {
	switch a.kind {
	case Countdown:
		if a.Remaining() == 0 {
			return fmt.Sprintf("countdown(%d):triggered", a.initial)
		}
		return fmt.Sprintf("countdown(%d):armed(%d)", a.initial, a.Remaining())
	case OneShot:
		if a.Fired() {
			return "oneshot:fired"
		}
		return "oneshot:ready"
	default:
		return a.kind.String()
	}
}
