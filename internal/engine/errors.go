package engine

import (
	"context"
	"errors"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
)

// Sentinels for failures that originate in the engine rather than the
// browser capability. They exist so reasonFor can classify them.
var (
	errNoMatch        = errors.New("no element matched")
	errWaitNotMet     = errors.New("wait condition was not satisfied within the timeout")
	errNavigation     = errors.New("navigation failed")
	errUnfillableKind = errors.New("element kind cannot take a form value")
)

// reasonFor folds an error chain into the wire-level failure reason. Policy
// refusals are checked before the generic navigation sentinel because a
// blocked navigate wraps both.
func reasonFor(err error) schemas.FailureReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, browser.ErrNavigationBlocked):
		return schemas.ReasonPolicyViolation
	case errors.Is(err, errNavigation):
		return schemas.ReasonNavigationError
	case errors.Is(err, errNoMatch):
		return schemas.ReasonNoMatch
	case errors.Is(err, errWaitNotMet),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return schemas.ReasonTimedOut
	case errors.Is(err, browser.ErrStaleElement):
		return schemas.ReasonStaleElement
	case errors.Is(err, browser.ErrNotInteractable), errors.Is(err, errUnfillableKind):
		return schemas.ReasonActionRejected
	default:
		return schemas.ReasonActionRejected
	}
}
