package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/internal/browser"
)

// Matching strategy names, in priority order. The first strategy that yields
// at least one element wins; later strategies are not consulted.
const (
	strategyExactName   = "exact_name"
	strategyExactID     = "exact_id"
	strategyLabelText   = "label_text"
	strategyPlaceholder = "placeholder"
	strategyAriaLabel   = "aria_label"
	strategyFuzzyText   = "fuzzy_text"
)

// fieldMatch is the outcome of resolving one semantic field descriptor.
type fieldMatch struct {
	strategy string
	refs     []browser.ElementRef
}

// fillableControls is the selector the text-driven strategies search over.
const fillableControls = "input, select, textarea"

// resolveField maps a field descriptor to candidate elements. Strategies run
// in a fixed order from exact attribute equality down to fuzzy accessible
// text, and the first non-empty result decides; document order breaks ties
// within a strategy. An empty result is not an error.
func (e *Engine) resolveField(ctx context.Context, field, scope string) (fieldMatch, error) {
	strategies := []struct {
		name string
		run  func(context.Context, string, string) ([]browser.ElementRef, error)
	}{
		{strategyExactName, e.matchExactName},
		{strategyExactID, e.matchExactID},
		{strategyLabelText, e.matchLabelText},
		{strategyPlaceholder, e.matchPlaceholder},
		{strategyAriaLabel, e.matchAriaLabel},
		{strategyFuzzyText, e.matchFuzzyText},
	}
	for _, s := range strategies {
		refs, err := s.run(ctx, field, scope)
		if err != nil {
			return fieldMatch{}, fmt.Errorf("strategy %s for %q: %w", s.name, field, err)
		}
		if len(refs) > 0 {
			e.logger.Debug("Resolved field descriptor",
				zap.String("field", field),
				zap.String("strategy", s.name),
				zap.Int("candidates", len(refs)))
			return fieldMatch{strategy: s.name, refs: refs}, nil
		}
	}
	return fieldMatch{}, nil
}

func (e *Engine) matchExactName(ctx context.Context, field, scope string) ([]browser.ElementRef, error) {
	sel := scopeSelector(scope, "[name="+cssAttrValue(field)+"]")
	return e.session.Locate(ctx, browser.Criteria{Selector: sel})
}

func (e *Engine) matchExactID(ctx context.Context, field, scope string) ([]browser.ElementRef, error) {
	sel := scopeSelector(scope, "[id="+cssAttrValue(field)+"]")
	return e.session.Locate(ctx, browser.Criteria{Selector: sel})
}

// matchLabelText finds labels whose text mentions the field and follows them
// to their controls: through the for attribute when present, otherwise into
// the label's own subtree when the label carries an id.
func (e *Engine) matchLabelText(ctx context.Context, field, scope string) ([]browser.ElementRef, error) {
	labels, err := e.session.Locate(ctx, browser.Criteria{
		Selector: scopeSelector(scope, "label"),
		Text:     field,
	})
	if err != nil {
		return nil, err
	}

	var refs []browser.ElementRef
	seen := make(map[string]bool)
	for _, label := range labels {
		targets, err := e.labelTargets(ctx, label, scope)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if !seen[t.ID] {
				seen[t.ID] = true
				refs = append(refs, t)
			}
		}
	}
	return refs, nil
}

func (e *Engine) labelTargets(ctx context.Context, label browser.ElementRef, scope string) ([]browser.ElementRef, error) {
	if forID, ok, err := e.session.Read(ctx, label, "for"); err == nil && ok && forID != "" {
		return e.session.Locate(ctx, browser.Criteria{
			Selector: scopeSelector(scope, "[id="+cssAttrValue(forID)+"]"),
		})
	}
	// A wrapping label associates by containment. Addressing that label's
	// subtree through a global selector needs an anchor attribute on it.
	labelID, ok, err := e.session.Read(ctx, label, "id")
	if err != nil || !ok || labelID == "" {
		return nil, nil
	}
	anchor := "label[id=" + cssAttrValue(labelID) + "]"
	return e.session.Locate(ctx, browser.Criteria{
		Selector: scopeSelector(scope, anchor+" input, "+anchor+" select, "+anchor+" textarea"),
	})
}

func (e *Engine) matchPlaceholder(ctx context.Context, field, scope string) ([]browser.ElementRef, error) {
	return e.matchAttrContains(ctx, "placeholder", field, scope)
}

func (e *Engine) matchAriaLabel(ctx context.Context, field, scope string) ([]browser.ElementRef, error) {
	return e.matchAttrContains(ctx, "aria-label", field, scope)
}

// matchAttrContains filters attribute carriers by case-insensitive substring
// on the engine side, which keeps the selector dialect identical across
// backends.
func (e *Engine) matchAttrContains(ctx context.Context, attr, field, scope string) ([]browser.ElementRef, error) {
	candidates, err := e.session.Locate(ctx, browser.Criteria{
		Selector: scopeSelector(scope, "["+attr+"]"),
	})
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(field)
	var refs []browser.ElementRef
	for _, c := range candidates {
		v, ok, err := e.session.Read(ctx, c, attr)
		if err != nil {
			continue
		}
		if ok && strings.Contains(strings.ToLower(v), needle) {
			refs = append(refs, c)
		}
	}
	return refs, nil
}

func (e *Engine) matchFuzzyText(ctx context.Context, field, scope string) ([]browser.ElementRef, error) {
	return e.session.Locate(ctx, browser.Criteria{
		Selector: scopeSelector(scope, fillableControls),
		Text:     field,
	})
}
