package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
)

// evalCondition checks a predicate against the live DOM. The waiter and the
// workflow gates share it, so "visible on #spinner" means the same thing in
// both places: predicates about a specific element consult the first match
// in document order, while the negative forms (disappear, hidden, disabled)
// are satisfied by zero matches outright.
func (e *Engine) evalCondition(ctx context.Context, cond schemas.Condition) (bool, error) {
	refs, err := e.session.Locate(ctx, browser.Criteria{Selector: cond.Selector})
	if err != nil {
		return false, fmt.Errorf("condition selector %q: %w", cond.Selector, err)
	}

	switch cond.Kind {
	case schemas.ConditionAppear:
		return len(refs) > 0, nil
	case schemas.ConditionDisappear:
		return len(refs) == 0, nil
	case schemas.ConditionVisible:
		return len(refs) > 0 && refs[0].Visible, nil
	case schemas.ConditionHidden:
		return len(refs) == 0 || !refs[0].Visible, nil
	case schemas.ConditionEnabled:
		return len(refs) > 0 && refs[0].Enabled, nil
	case schemas.ConditionDisabled:
		return len(refs) == 0 || !refs[0].Enabled, nil
	case schemas.ConditionTextContains:
		if len(refs) == 0 {
			return false, nil
		}
		text, _, err := e.session.Read(ctx, refs[0], schemas.AttributeText)
		if err != nil {
			// The node vanished between locate and read; this poll simply
			// does not satisfy the predicate.
			if errors.Is(err, browser.ErrStaleElement) {
				return false, nil
			}
			return false, err
		}
		return strings.Contains(strings.ToLower(text), strings.ToLower(cond.Text)), nil
	default:
		return false, fmt.Errorf("unknown condition kind %q", cond.Kind)
	}
}
