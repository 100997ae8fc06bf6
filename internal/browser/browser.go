// Package browser defines the capability boundary the automation engine
// drives: locating elements, reading attributes, performing primitive
// actions, navigating and snapshotting. Two implementations exist, a
// chromedp-backed live browser (chrome) and a pure-Go HTTP/DOM session
// (static).
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/auxprotocol/auxcli/api/schemas"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrStaleElement reports a ref whose node no longer exists in the
	// live DOM, typically after a mutation or navigation.
	ErrStaleElement = errors.New("element is stale or detached from the document")
	// ErrNotInteractable reports a primitive action refused by the page,
	// e.g. typing into a disabled input.
	ErrNotInteractable = errors.New("element is not interactable")
	// ErrNavigationBlocked reports a navigation refused by the domain
	// policy before any request was issued.
	ErrNavigationBlocked = errors.New("navigation blocked by domain policy")
)

// ActionKind enumerates the primitive actions a capability must support.
type ActionKind string

const (
	Click          ActionKind = "click"
	TypeText       ActionKind = "type"
	Clear          ActionKind = "clear"
	Hover          ActionKind = "hover"
	ScrollIntoView ActionKind = "scroll_into_view"
	SelectOption   ActionKind = "select_option"
	Focus          ActionKind = "focus"
	Blur           ActionKind = "blur"
)

// Action is one primitive operation. Value carries the text for TypeText and
// the option value or label for SelectOption; it is ignored otherwise.
type Action struct {
	Kind  ActionKind
	Value string
}

// ElementRef is an opaque handle to a located element. It is valid only
// within the DOM generation that produced it and must never be reused across
// a navigation. The cached flags reflect the element's state at resolution
// time and may be stale by the time an action is attempted.
type ElementRef struct {
	ID         string
	Generation uint64
	Kind       schemas.ElementKind
	Visible    bool
	Enabled    bool
}

// Criteria selects elements. All present parts must match: Selector is a
// standard CSS selector, Kind a semantic classification, Text a
// case-insensitive substring over the element's accessible text (own text,
// aria-label, placeholder, name, id, value).
type Criteria struct {
	Selector string
	Kind     schemas.ElementKind
	Text     string
}

// Empty reports a criteria with nothing to match on.
func (c Criteria) Empty() bool {
	return c.Selector == "" && c.Kind == "" && c.Text == ""
}

// Snapshot is a consistent read of the page at one generation, shared by the
// extractor and condition evaluation. Doc is never nil.
type Snapshot struct {
	Doc        *goquery.Document
	BaseURL    *url.URL
	Title      string
	Generation uint64
}

// AttributeTag is a pseudo-attribute understood by Read: it resolves to the
// element's lowercase tag name rather than a markup attribute.
const AttributeTag = "tag"

// Capability is the browser control surface the engine is written against.
//
// Locate returns matches in DOM document order. A criteria that matches
// nothing yields an empty slice and a nil error. Read returns ok=false when
// the attribute is absent; the names "text", "value" and "tag" are
// interpreted as the element's text content, live value and tag name.
// Implementations must bump the generation on every navigation so refs from
// before it are detectable as stale.
type Capability interface {
	Locate(ctx context.Context, criteria Criteria) ([]ElementRef, error)
	Read(ctx context.Context, ref ElementRef, attribute string) (value string, ok bool, err error)
	Act(ctx context.Context, ref ElementRef, action Action) error
	Navigate(ctx context.Context, rawURL string, waitForLoad bool) error
	Snapshot(ctx context.Context) (*Snapshot, error)
	CurrentURL() string
	Generation() uint64
	Close(ctx context.Context) error
}

// InteractiveSelector matches the elements surfaced by observe: native
// controls plus role-annotated and click-wired nodes.
const InteractiveSelector = "a[href], button, input, select, textarea, form, " +
	"[role=button], [role=link], [role=textbox], [role=checkbox], [role=radio], " +
	"[role=combobox], [role=listbox], [role=menuitem], [onclick], [onsubmit]"

// Classify derives the semantic kind from an element's tag, type attribute
// and role attribute. The role wins for non-form tags so ARIA widgets built
// from divs classify like their native counterparts.
func Classify(tag, inputType, role string) schemas.ElementKind {
	tag = strings.ToLower(tag)
	inputType = strings.ToLower(inputType)

	switch tag {
	case "a":
		return schemas.KindLink
	case "button":
		return schemas.KindButton
	case "select":
		return schemas.KindSelect
	case "textarea":
		return schemas.KindTextarea
	case "form":
		return schemas.KindForm
	case "input":
		switch inputType {
		case "checkbox":
			return schemas.KindCheckbox
		case "radio":
			return schemas.KindRadio
		case "button", "submit", "reset", "image":
			return schemas.KindButton
		default:
			return schemas.KindTextInput
		}
	}

	switch strings.ToLower(role) {
	case "button":
		return schemas.KindButton
	case "link":
		return schemas.KindLink
	case "checkbox":
		return schemas.KindCheckbox
	case "radio":
		return schemas.KindRadio
	case "textbox", "searchbox":
		return schemas.KindTextInput
	case "combobox", "listbox":
		return schemas.KindSelect
	}
	return schemas.KindGeneric
}

// TextLike reports kinds that accept clear/type semantics.
func TextLike(kind schemas.ElementKind) bool {
	return kind == schemas.KindTextInput || kind == schemas.KindTextarea
}

// CheckHost enforces the domain policy for a host. Block entries win over
// allow entries; an empty allow list admits everything not blocked. A domain
// entry matches the host itself and any subdomain of it.
func CheckHost(host string, allowed, blocked []string) error {
	host = strings.ToLower(host)
	for _, d := range blocked {
		if hostMatches(host, d) {
			return fmt.Errorf("host %q is blocked: %w", host, ErrNavigationBlocked)
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, d := range allowed {
		if hostMatches(host, d) {
			return nil
		}
	}
	return fmt.Errorf("host %q is not in the allowed domains: %w", host, ErrNavigationBlocked)
}

func hostMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
