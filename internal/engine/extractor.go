package engine

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
)

// numberPattern grabs the first decimal numeral in a string, commas allowed
// as grouping separators. "$1,299.00" yields 1299.00 and "1.299,00" yields
// 1.299 because the comma is always treated as grouping and the dot as the
// decimal point.
var numberPattern = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

type compiledRule struct {
	schemas.ExtractionRule
	matcher cascadia.Selector
}

// ExtractData pulls named fields out of one DOM snapshot. All rules read the
// same snapshot, so the result is internally consistent even while the page
// keeps mutating, and re-running against an unchanged page yields an equal
// result. Malformed rules are hard errors; a rule that merely matches
// nothing or fails its transform produces a null value plus a per-field
// error entry while the rest of the batch proceeds.
func (e *Engine) ExtractData(ctx context.Context, req schemas.ExtractRequest) (*schemas.ExtractResult, error) {
	compiled, err := compileRules(req.Rules)
	if err != nil {
		return nil, err
	}

	snap, err := e.session.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot page: %w", err)
	}

	result := extractFrom(snap, compiled)
	e.logger.Debug("Extraction finished",
		zap.Int("rules", len(req.Rules)),
		zap.Int("failed_fields", len(result.Errors)))
	return result, nil
}

func compileRules(rules map[string]schemas.ExtractionRule) (map[string]compiledRule, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("extraction requires at least one rule")
	}
	compiled := make(map[string]compiledRule, len(rules))
	for name, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %q: %w", name, err)
		}
		m, err := cascadia.Compile(rule.Selector)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid selector %q: %v", name, rule.Selector, err)
		}
		compiled[name] = compiledRule{ExtractionRule: rule, matcher: m}
	}
	return compiled, nil
}

func extractFrom(snap *browser.Snapshot, rules map[string]compiledRule) *schemas.ExtractResult {
	result := &schemas.ExtractResult{Data: make(map[string]any, len(rules))}
	for name, rule := range rules {
		value, fieldErr := extractField(snap, rule)
		result.Data[name] = value
		if fieldErr != nil {
			if result.Errors == nil {
				result.Errors = make(map[string]schemas.FieldError)
			}
			result.Errors[name] = *fieldErr
		}
	}
	return result
}

func extractField(snap *browser.Snapshot, rule compiledRule) (any, *schemas.FieldError) {
	matches := snap.Doc.FindMatcher(rule.matcher)

	if !rule.Multiple {
		first := matches.First()
		if first.Length() == 0 {
			return nil, &schemas.FieldError{
				Reason:  schemas.ReasonNoMatch,
				Message: fmt.Sprintf("selector %q matched nothing", rule.Selector),
			}
		}
		raw, ok := attributeOf(first, rule.Attribute)
		if !ok {
			return nil, &schemas.FieldError{
				Reason:  schemas.ReasonNoMatch,
				Message: fmt.Sprintf("attribute %q absent on first match", rule.Attribute),
			}
		}
		value, err := applyTransform(raw, rule.Transform, snap.BaseURL)
		if err != nil {
			return nil, &schemas.FieldError{Reason: schemas.ReasonTransformError, Message: err.Error()}
		}
		return value, nil
	}

	values := make([]any, 0, matches.Length())
	var fieldErr *schemas.FieldError
	matches.Each(func(_ int, s *goquery.Selection) {
		raw, ok := attributeOf(s, rule.Attribute)
		if !ok {
			return
		}
		value, err := applyTransform(raw, rule.Transform, snap.BaseURL)
		if err != nil {
			if fieldErr == nil {
				fieldErr = &schemas.FieldError{Reason: schemas.ReasonTransformError, Message: err.Error()}
			}
			return
		}
		values = append(values, value)
	})
	return values, fieldErr
}

// attributeOf reads the requested attribute from a selection. Text is the
// whitespace-collapsed rendered text; value follows form-control semantics
// so selects report their chosen option. Anything else is a literal markup
// attribute.
func attributeOf(s *goquery.Selection, attribute string) (string, bool) {
	switch attribute {
	case "", schemas.AttributeText:
		return strings.Join(strings.Fields(s.Text()), " "), true
	case schemas.AttributeValue:
		return selectionValue(s)
	default:
		return s.Attr(attribute)
	}
}

func selectionValue(s *goquery.Selection) (string, bool) {
	switch goquery.NodeName(s) {
	case "textarea":
		return s.Text(), true
	case "select":
		opt := s.Find("option[selected]").First()
		if opt.Length() == 0 {
			opt = s.Find("option").First()
		}
		if opt.Length() == 0 {
			return "", false
		}
		if v, ok := opt.Attr("value"); ok {
			return v, true
		}
		return strings.TrimSpace(opt.Text()), true
	default:
		return s.Attr("value")
	}
}

func applyTransform(raw string, kind schemas.TransformKind, base *url.URL) (any, error) {
	switch kind {
	case "":
		return raw, nil
	case schemas.TransformTrim:
		return strings.TrimSpace(raw), nil
	case schemas.TransformLower:
		return strings.ToLower(raw), nil
	case schemas.TransformUpper:
		return strings.ToUpper(raw), nil
	case schemas.TransformNumber:
		return parseNumber(raw)
	case schemas.TransformURL:
		return resolveHref(raw, base)
	default:
		return nil, fmt.Errorf("unknown transform %q", kind)
	}
}

// parseNumber extracts the first numeral from free-form text such as a price
// tag. Grouping commas are stripped before parsing.
func parseNumber(raw string) (float64, error) {
	numeral := numberPattern.FindString(raw)
	if numeral == "" {
		return 0, fmt.Errorf("no numeral in %q", truncate(raw, 40))
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(numeral, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("parse numeral %q: %v", numeral, err)
	}
	return n, nil
}

// resolveHref absolutizes a link against the snapshot's base URL. Without a
// base the value is returned as parsed.
func resolveHref(raw string, base *url.URL) (string, error) {
	raw = strings.TrimSpace(raw)
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %v", truncate(raw, 80), err)
	}
	if base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}
