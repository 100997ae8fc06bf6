package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
)

// RunWorkflow executes steps strictly in order and returns exactly one
// outcome per input step. A gate condition is evaluated once at dispatch
// time; a false gate skips the step without failing it. When a step fails
// under continue_on_error=false the run aborts: every remaining step is
// recorded as skipped with the abort reason, and nothing that already ran is
// rolled back. Malformed steps fail the whole call before anything runs.
func (e *Engine) RunWorkflow(ctx context.Context, req schemas.WorkflowRequest) (*schemas.WorkflowResult, error) {
	if len(req.Steps) == 0 {
		return nil, fmt.Errorf("workflow requires at least one step")
	}
	for i, step := range req.Steps {
		if err := step.Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	result := &schemas.WorkflowResult{
		Steps: make([]schemas.StepOutcome, 0, len(req.Steps)),
	}
	var skipReason schemas.FailureReason

	for i, step := range req.Steps {
		outcome := schemas.StepOutcome{Index: i, Action: step.Action}

		if skipReason == "" && ctx.Err() != nil {
			skipReason = schemas.ReasonTimedOut
			result.Aborted = true
		}
		if skipReason != "" {
			outcome.Skipped = true
			outcome.Reason = skipReason
			result.Steps = append(result.Steps, outcome)
			continue
		}

		if step.Condition != nil {
			met, err := e.evalCondition(ctx, *step.Condition)
			if err != nil {
				outcome.Reason = reasonFor(err)
				outcome.Error = err.Error()
				result.Steps = append(result.Steps, outcome)
				if !req.ContinueOnError {
					skipReason = schemas.ReasonAbortedByPolicy
					result.Aborted = true
				}
				continue
			}
			if !met {
				outcome.Skipped = true
				result.Steps = append(result.Steps, outcome)
				e.logger.Debug("Step gate not met, skipping",
					zap.Int("step", i), zap.String("action", string(step.Action)))
				continue
			}
		}

		output, err := e.dispatchStep(ctx, step)
		outcome.Output = output
		if err != nil {
			outcome.Reason = reasonFor(err)
			outcome.Error = err.Error()
			e.logger.Warn("Workflow step failed",
				zap.Int("step", i),
				zap.String("action", string(step.Action)),
				zap.String("reason", string(outcome.Reason)),
				zap.Error(err))
			if !req.ContinueOnError {
				skipReason = schemas.ReasonAbortedByPolicy
				result.Aborted = true
			}
		} else {
			outcome.Succeeded = true
		}
		result.Steps = append(result.Steps, outcome)
	}

	e.logger.Info("Workflow finished",
		zap.Int("steps", len(req.Steps)),
		zap.Bool("aborted", result.Aborted))
	return result, nil
}

// dispatchStep runs one step under its optional time budget and returns the
// step's output payload. Composite steps delegate to the corresponding
// top-level operations so their semantics cannot drift.
func (e *Engine) dispatchStep(ctx context.Context, step schemas.WorkflowStep) (any, error) {
	if step.Timeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout.Duration())
		defer cancel()
	}

	switch step.Action {
	case schemas.ActionNavigate:
		if err := e.session.Navigate(ctx, step.URL, step.WaitForLoadOrDefault()); err != nil {
			if errors.Is(err, browser.ErrNavigationBlocked) {
				return nil, err
			}
			return nil, fmt.Errorf("navigate to %s: %w", step.URL, errors.Join(errNavigation, err))
		}
		return map[string]any{"url": e.session.CurrentURL()}, nil

	case schemas.ActionClick:
		return nil, e.actOnSelector(ctx, step.Selector, browser.Action{Kind: browser.Click})
	case schemas.ActionType:
		return nil, e.actOnSelector(ctx, step.Selector, browser.Action{Kind: browser.TypeText, Value: step.Value})
	case schemas.ActionClear:
		return nil, e.actOnSelector(ctx, step.Selector, browser.Action{Kind: browser.Clear})
	case schemas.ActionHover:
		return nil, e.actOnSelector(ctx, step.Selector, browser.Action{Kind: browser.Hover})
	case schemas.ActionScroll:
		return nil, e.actOnSelector(ctx, step.Selector, browser.Action{Kind: browser.ScrollIntoView})
	case schemas.ActionSelect:
		return nil, e.actOnSelector(ctx, step.Selector, browser.Action{Kind: browser.SelectOption, Value: step.Value})
	case schemas.ActionFocus:
		return nil, e.actOnSelector(ctx, step.Selector, browser.Action{Kind: browser.Focus})
	case schemas.ActionBlur:
		return nil, e.actOnSelector(ctx, step.Selector, browser.Action{Kind: browser.Blur})

	case schemas.ActionFillForm:
		return e.FillForm(ctx, *step.Form)

	case schemas.ActionWait:
		res, err := e.WaitForElement(ctx, *step.Wait)
		if err != nil {
			return nil, err
		}
		// A wait step exists so later steps can rely on the condition;
		// reaching the budget without it therefore fails the step, with the
		// wait result attached for diagnosis.
		if res.Status == schemas.WaitTimedOut {
			return res, errWaitNotMet
		}
		return res, nil

	case schemas.ActionExtract:
		return e.ExtractData(ctx, schemas.ExtractRequest{Rules: step.Rules})

	default:
		return nil, fmt.Errorf("unknown action kind %q", step.Action)
	}
}

// actOnSelector resolves the first match of a plain CSS selector and applies
// one primitive action, retrying once through a fresh resolution when the
// ref has gone stale.
func (e *Engine) actOnSelector(ctx context.Context, selector string, action browser.Action) error {
	resolve := func() (browser.ElementRef, error) {
		refs, err := e.session.Locate(ctx, browser.Criteria{Selector: selector})
		if err != nil {
			return browser.ElementRef{}, err
		}
		if len(refs) == 0 {
			return browser.ElementRef{}, fmt.Errorf("selector %q: %w", selector, errNoMatch)
		}
		return refs[0], nil
	}

	ref, err := resolve()
	if err != nil {
		return err
	}
	err = e.session.Act(ctx, ref, action)
	if errors.Is(err, browser.ErrStaleElement) {
		ref, rerr := resolve()
		if rerr != nil {
			return rerr
		}
		return e.session.Act(ctx, ref, action)
	}
	return err
}
