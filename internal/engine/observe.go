package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/api/schemas"
	"github.com/auxprotocol/auxcli/internal/browser"
)

// maxObservedTextLen caps element text in summaries so one verbose node
// cannot flood the output.
const maxObservedTextLen = 120

// Observe summarizes the page's interactive elements for an agent deciding
// what to do next. It is strictly read-only: no action fires and the DOM
// generation is untouched. Total reports the pre-limit match count so a
// truncated list is detectable.
func (e *Engine) Observe(ctx context.Context, req schemas.ObserveRequest) (*schemas.ObserveResult, error) {
	limit, err := observeLimit(req.Limit)
	if err != nil {
		return nil, err
	}

	snap, err := e.session.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	refs, err := e.session.Locate(ctx, browser.Criteria{Selector: browser.InteractiveSelector})
	if err != nil {
		return nil, err
	}

	result := &schemas.ObserveResult{
		URL:   e.session.CurrentURL(),
		Title: snap.Title,
		Total: len(refs),
	}
	if len(refs) > limit {
		refs = refs[:limit]
	}
	result.Elements = e.describeAll(ctx, refs)

	e.logger.Debug("Observed page",
		zap.String("url", result.URL),
		zap.Int("total", result.Total),
		zap.Int("returned", len(result.Elements)))
	return result, nil
}

// Query searches elements by any combination of selector, accessible text
// and semantic kind, in document order. Like Observe it never mutates the
// page.
func (e *Engine) Query(ctx context.Context, req schemas.QueryRequest) (*schemas.QueryResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	selector := req.Selector
	if selector == "" {
		selector = browser.InteractiveSelector
	}
	refs, err := e.session.Locate(ctx, browser.Criteria{
		Selector: selector,
		Kind:     req.Kind,
		Text:     req.Text,
	})
	if err != nil {
		return nil, err
	}

	result := &schemas.QueryResult{Total: len(refs)}
	if limit := req.LimitOrDefault(); len(refs) > limit {
		refs = refs[:limit]
	}
	result.Elements = e.describeAll(ctx, refs)
	return result, nil
}

func observeLimit(limit int) (int, error) {
	if limit < 0 || limit > schemas.MaxQueryLimit {
		return 0, fmt.Errorf("observe limit must be between 0 and %d", schemas.MaxQueryLimit)
	}
	if limit == 0 {
		return schemas.DefaultQueryLimit, nil
	}
	return limit, nil
}

func (e *Engine) describeAll(ctx context.Context, refs []browser.ElementRef) []schemas.ElementInfo {
	infos := make([]schemas.ElementInfo, 0, len(refs))
	for _, ref := range refs {
		infos = append(infos, e.describeRef(ctx, ref))
	}
	return infos
}

// describeRef assembles the observable summary of one element. Reads that
// fail, e.g. because the node vanished mid-walk, leave their field empty
// rather than failing the whole summary.
func (e *Engine) describeRef(ctx context.Context, ref browser.ElementRef) schemas.ElementInfo {
	info := schemas.ElementInfo{
		ID:      ref.ID,
		Kind:    ref.Kind,
		Visible: ref.Visible,
		Enabled: ref.Enabled,
	}
	read := func(attr string) string {
		v, ok, err := e.session.Read(ctx, ref, attr)
		if err != nil || !ok {
			return ""
		}
		return v
	}
	info.Tag = read(browser.AttributeTag)
	info.Text = truncate(read(schemas.AttributeText), maxObservedTextLen)
	info.Value = read(schemas.AttributeValue)
	info.Placeholder = read("placeholder")
	info.AriaLabel = read("aria-label")
	info.Role = read("role")
	return info
}
