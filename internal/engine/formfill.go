package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
)

// checkboxTruthy are the values that tick a checkbox; anything else unticks.
var checkboxTruthy = map[string]bool{
	"true": true, "1": true, "yes": true, "on": true, "checked": true,
}

// submitTextFallbacks are tried in order when no typed submit control exists.
var submitTextFallbacks = []string{"submit", "send", "save"}

// FillForm fills fields in the order the caller wrote them, resolving each
// field descriptor through the matching strategies. A field that cannot be
// resolved or refuses its value is recorded and never aborts the rest; the
// result always carries one outcome per requested field. Submission runs
// after the fields and its absence is likewise reported, not thrown.
func (e *Engine) FillForm(ctx context.Context, req schemas.FillFormRequest) (*schemas.FillFormResult, error) {
	if req.FormData.Len() == 0 {
		return nil, fmt.Errorf("form fill requires at least one field")
	}

	if timeout := req.TimeoutOrDefault().Duration(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	clearFirst := req.ClearFirstOrDefault()
	result := &schemas.FillFormResult{
		Fields: make([]schemas.FieldOutcome, 0, req.FormData.Len()),
	}
	for _, field := range req.FormData.Fields() {
		if err := ctx.Err(); err != nil {
			result.Fields = append(result.Fields, schemas.FieldOutcome{
				Field:  field.Name,
				Status: schemas.FieldFailed,
				Reason: schemas.ReasonTimedOut,
				Detail: "time budget exhausted before this field",
			})
			continue
		}
		result.Fields = append(result.Fields, e.fillField(ctx, field, req.Scope, clearFirst))
	}

	if req.Submit {
		e.submitForm(ctx, req.Scope, result)
	}

	e.logger.Info("Form fill finished",
		zap.Int("fields", req.FormData.Len()),
		zap.Int("filled", result.FilledCount()),
		zap.Bool("submitted", result.Submitted))
	return result, nil
}

func (e *Engine) fillField(ctx context.Context, field schemas.FormField, scope string, clearFirst bool) schemas.FieldOutcome {
	match, err := e.resolveField(ctx, field.Name, scope)
	if err != nil {
		return schemas.FieldOutcome{
			Field:  field.Name,
			Status: schemas.FieldFailed,
			Reason: reasonFor(err),
			Detail: err.Error(),
		}
	}
	if len(match.refs) == 0 {
		return schemas.FieldOutcome{
			Field:  field.Name,
			Status: schemas.FieldFailed,
			Reason: schemas.ReasonNoMatch,
			Detail: "no matching strategy found an element",
		}
	}

	target := e.radioGroupMember(ctx, field, scope, match.refs[0])
	err = e.applyFieldValue(ctx, target, field.Value, clearFirst)
	if errors.Is(err, browser.ErrStaleElement) {
		// The page mutated under us. Resolve once more and retry; a second
		// staleness is reported as the field's failure.
		if again, rerr := e.resolveField(ctx, field.Name, scope); rerr == nil && len(again.refs) > 0 {
			target = e.radioGroupMember(ctx, field, scope, again.refs[0])
			err = e.applyFieldValue(ctx, target, field.Value, clearFirst)
		}
	}
	if err != nil {
		return schemas.FieldOutcome{
			Field:  field.Name,
			Status: schemas.FieldFailed,
			Reason: reasonFor(err),
			Detail: err.Error(),
		}
	}
	return schemas.FieldOutcome{Field: field.Name, Status: schemas.FieldFilled}
}

// radioGroupMember narrows a radio match to the group member whose value
// attribute equals the fill value, so {"channel": "sms"} selects the sms
// radio rather than the group's first. Without such a member the original
// match stands.
func (e *Engine) radioGroupMember(ctx context.Context, field schemas.FormField, scope string, matched browser.ElementRef) browser.ElementRef {
	if matched.Kind != schemas.KindRadio || field.Value == "" {
		return matched
	}
	sel := scopeSelector(scope, `input[type="radio"][name=`+cssAttrValue(field.Name)+`][value=`+cssAttrValue(field.Value)+`]`)
	refs, err := e.session.Locate(ctx, browser.Criteria{Selector: sel})
	if err == nil && len(refs) > 0 {
		return refs[0]
	}
	return matched
}

// applyFieldValue dispatches on the element's semantic kind: text-like
// controls are cleared then typed into, selects choose by value or label,
// checkboxes are clicked only when their state disagrees with the requested
// boolean, radios are clicked outright.
func (e *Engine) applyFieldValue(ctx context.Context, ref browser.ElementRef, value string, clearFirst bool) error {
	switch {
	case browser.TextLike(ref.Kind):
		if clearFirst {
			if err := e.session.Act(ctx, ref, browser.Action{Kind: browser.Clear}); err != nil {
				return err
			}
		}
		return e.session.Act(ctx, ref, browser.Action{Kind: browser.TypeText, Value: value})
	case ref.Kind == schemas.KindSelect:
		return e.session.Act(ctx, ref, browser.Action{Kind: browser.SelectOption, Value: value})
	case ref.Kind == schemas.KindCheckbox:
		want := checkboxTruthy[strings.ToLower(strings.TrimSpace(value))]
		_, checked, err := e.session.Read(ctx, ref, "checked")
		if err != nil {
			return err
		}
		if checked == want {
			return nil
		}
		return e.session.Act(ctx, ref, browser.Action{Kind: browser.Click})
	case ref.Kind == schemas.KindRadio:
		return e.session.Act(ctx, ref, browser.Action{Kind: browser.Click})
	default:
		return fmt.Errorf("%w: %s", errUnfillableKind, ref.Kind)
	}
}

// submitForm walks the fallback chain for a submit control: a typed submit
// input, then a typed submit button, then any button or input whose
// accessible text reads like a submit action.
func (e *Engine) submitForm(ctx context.Context, scope string, result *schemas.FillFormResult) {
	ref, ok := e.findSubmitControl(ctx, scope)
	if !ok {
		result.SubmitReason = schemas.ReasonNoMatch
		e.logger.Warn("No submit control found", zap.String("scope", scope))
		return
	}
	if err := e.session.Act(ctx, ref, browser.Action{Kind: browser.Click}); err != nil {
		result.SubmitReason = reasonFor(err)
		e.logger.Warn("Submit click failed", zap.Error(err))
		return
	}
	result.Submitted = true
}

func (e *Engine) findSubmitControl(ctx context.Context, scope string) (browser.ElementRef, bool) {
	typed := []string{`input[type="submit"]`, `button[type="submit"]`}
	for _, sel := range typed {
		refs, err := e.session.Locate(ctx, browser.Criteria{Selector: scopeSelector(scope, sel)})
		if err == nil && len(refs) > 0 {
			return refs[0], true
		}
	}
	for _, word := range submitTextFallbacks {
		refs, err := e.session.Locate(ctx, browser.Criteria{
			Selector: scopeSelector(scope, "button, input"),
			Text:     word,
		})
		if err == nil && len(refs) > 0 {
			return refs[0], true
		}
	}
	return browser.ElementRef{}, false
}
