package monitor

import "github.com/rcisneros138/shopify-lifetime-value-discounts/internal/domain"

// State is the monitor's position in the evaluation cycle. Exactly one
// evaluation is in flight at a time: triggers arriving outside Idle and
// Debouncing are dropped, not queued.
type State string

const (
	StateIdle            State = "idle"
	StateDebouncing      State = "debouncing"
	StateChecking        State = "checking"
	StateApplying        State = "applying"
	StateRemoving        State = "removing"
	StateShowingProgress State = "showing_progress"
)

type EventKind int

const (
	// EvTrigger is a cart mutation from any observer.
	EvTrigger EventKind = iota
	// EvDebounceElapsed fires when the debounce window closes.
	EvDebounceElapsed
	// EvCheckDone carries a completed evaluation result.
	EvCheckDone
	// EvCheckSkipped means the check aborted early: cart fetch failure or
	// an unchanged fingerprint.
	EvCheckSkipped
	// EvCheckFailed means the evaluation failed and no cached fallback
	// was available.
	EvCheckFailed
	// EvReconcileDone closes an apply, remove, or progress side effect.
	EvReconcileDone
	// EvReconcileFailed closes a side effect that errored.
	EvReconcileFailed
	// EvLogin re-evaluates immediately under the new identity.
	EvLogin
	// EvLogout clears session state, then re-evaluates as anonymous.
	EvLogout
	// EvSessionExpired fires after the inactivity timeout.
	EvSessionExpired
)

// Event drives the state machine. Payload fields are set per kind: Result,
// Cached, Fingerprint, and Generation on EvCheckDone; Code and SetCode on
// EvReconcileDone. Generation identifies which session the check started
// under; completions from a reset session must not advance the fingerprint.
type Event struct {
	Kind        EventKind
	Result      domain.EligibilityResult
	Cached      bool
	Fingerprint string
	Generation  int
	Code        string
	SetCode     bool
}

type EffectKind int

const (
	// FxStartDebounce arms or restarts the debounce timer.
	FxStartDebounce EffectKind = iota
	// FxEvaluate starts an eligibility check against the live cart.
	FxEvaluate
	// FxApply attaches the discount code in Code to the checkout.
	FxApply
	// FxRemove detaches the currently applied discount code.
	FxRemove
	// FxShowProgress surfaces the next-tier hint in Next.
	FxShowProgress
	// FxClearSession wipes the local cache, applied code, and session id.
	FxClearSession
)

// Effect is a side effect requested by a transition. The loop executes
// effects in order and posts completion events back into the machine.
// Force on FxEvaluate bypasses the unchanged-fingerprint short-circuit;
// identity changes must reach the engine even when the cart did not.
type Effect struct {
	Kind    EffectKind
	Force   bool
	Code    string
	Percent int
	Next    *domain.NextTier
}

// Transition is the monitor's state machine: a pure function of the current
// state, the currently applied discount code, and one event. Timers and
// network calls live in the effect executor, so every transition here is
// testable in isolation.
func Transition(state State, currentCode string, ev Event) (State, []Effect) {
	switch ev.Kind {
	case EvTrigger:
		switch state {
		case StateIdle, StateDebouncing:
			// A trigger during Debouncing restarts the window, so a burst
			// of mutations coalesces into one evaluation.
			return StateDebouncing, []Effect{{Kind: FxStartDebounce}}
		default:
			// Mid-evaluation triggers are dropped. The next mutation after
			// the cycle completes starts a fresh one.
			return state, nil
		}

	case EvDebounceElapsed:
		if state == StateDebouncing {
			return StateChecking, []Effect{{Kind: FxEvaluate}}
		}
		// Stale timer fire after a state change.
		return state, nil

	case EvCheckDone:
		if state != StateChecking {
			return state, nil
		}
		desired := ev.Result.DiscountCode
		switch {
		case desired != "" && desired != currentCode:
			return StateApplying, []Effect{{
				Kind:    FxApply,
				Code:    desired,
				Percent: ev.Result.DiscountPercent,
			}}
		case desired == "" && currentCode != "":
			return StateRemoving, []Effect{{Kind: FxRemove}}
		case desired == "" && ev.Result.NextTier != nil:
			// Progress is only surfaced when no code is eligible.
			return StateShowingProgress, []Effect{{
				Kind: FxShowProgress,
				Next: ev.Result.NextTier,
			}}
		default:
			return StateIdle, nil
		}

	case EvCheckSkipped, EvCheckFailed:
		if state == StateChecking {
			return StateIdle, nil
		}
		return state, nil

	case EvReconcileDone, EvReconcileFailed:
		switch state {
		case StateApplying, StateRemoving, StateShowingProgress:
			return StateIdle, nil
		default:
			return state, nil
		}

	case EvLogin:
		switch state {
		case StateIdle, StateDebouncing:
			return StateChecking, []Effect{{Kind: FxEvaluate, Force: true}}
		default:
			return state, nil
		}

	case EvLogout:
		switch state {
		case StateIdle, StateDebouncing:
			return StateChecking, []Effect{
				{Kind: FxClearSession},
				{Kind: FxEvaluate, Force: true},
			}
		default:
			// Mid-evaluation logout still clears local state. The in-flight
			// check completes against the old session and reconciles
			// normally.
			return state, []Effect{{Kind: FxClearSession}}
		}

	case EvSessionExpired:
		switch state {
		case StateIdle, StateDebouncing:
			return StateIdle, []Effect{{Kind: FxClearSession}}
		default:
			// An in-flight evaluation counts as activity.
			return state, nil
		}
	}

	return state, nil
}
