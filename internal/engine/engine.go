// Package engine implements the semantic automation layer: field matching,
// condition waiting, data extraction, form filling and workflow execution.
// It is written entirely against the browser.Capability boundary, so every
// operation behaves identically over the chrome and static backends.
package engine

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/auxprotocol/auxcli/internal/browser"
)

// Engine executes automation operations against one browser session. It
// holds no DOM state of its own; element refs are resolved per operation and
// re-resolved once when they go stale mid-action.
type Engine struct {
	session browser.Capability
	logger  *zap.Logger
}

// New wires an engine to a browser session. The session's lifecycle stays
// with the caller; closing it is not the engine's job.
func New(session browser.Capability, logger *zap.Logger) (*Engine, error) {
	if session == nil {
		return nil, errors.New("engine requires a browser session")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		session: session,
		logger:  logger.With(zap.String("component", "engine")),
	}, nil
}

// scopeSelector restricts sel to descendants of scope. Comma groups are
// distributed so "input, select" under "#checkout" still matches both.
func scopeSelector(scope, sel string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return sel
	}
	parts := strings.Split(sel, ",")
	for i, p := range parts {
		parts[i] = scope + " " + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// cssAttrValue quotes v for use inside an attribute selector.
func cssAttrValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// truncate shortens s to at most n runes for element summaries.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
