package schemas

import "fmt"

// -- Element observation schemas --

// ElementKind is the semantic classification of an interactive element.
type ElementKind string

const (
	KindButton    ElementKind = "button"
	KindTextInput ElementKind = "text_input"
	KindTextarea  ElementKind = "textarea"
	KindSelect    ElementKind = "select"
	KindCheckbox  ElementKind = "checkbox"
	KindRadio     ElementKind = "radio"
	KindLink      ElementKind = "link"
	KindForm      ElementKind = "form"
	KindGeneric   ElementKind = "generic"
)

// ElementInfo is the observable summary of one located element.
type ElementInfo struct {
	ID          string      `json:"id"`
	Kind        ElementKind `json:"kind"`
	Tag         string      `json:"tag"`
	Text        string      `json:"text,omitempty"`
	Value       string      `json:"value,omitempty"`
	Placeholder string      `json:"placeholder,omitempty"`
	AriaLabel   string      `json:"aria_label,omitempty"`
	Role        string      `json:"role,omitempty"`
	Visible     bool        `json:"visible"`
	Enabled     bool        `json:"enabled"`
}

// ObserveRequest asks for the page's interactive elements.
type ObserveRequest struct {
	// Limit caps the returned elements; zero means DefaultQueryLimit.
	Limit int `json:"limit,omitempty"`
}

// ObserveResult summarizes the page and its interactive elements. Total is
// the pre-limit count so callers can tell when the list was truncated.
type ObserveResult struct {
	URL      string        `json:"url"`
	Title    string        `json:"title,omitempty"`
	Total    int           `json:"total"`
	Elements []ElementInfo `json:"elements"`
}

// QueryRequest searches elements by any combination of criteria. At least
// one of Selector, Text or Kind must be set.
type QueryRequest struct {
	Selector string      `json:"selector,omitempty"`
	Text     string      `json:"text,omitempty"`
	Kind     ElementKind `json:"kind,omitempty"`
	Limit    int         `json:"limit,omitempty"`
}

// Validate reports empty or oversized queries as hard input errors.
func (q QueryRequest) Validate() error {
	if q.Selector == "" && q.Text == "" && q.Kind == "" {
		return fmt.Errorf("query requires at least one of selector, text or kind")
	}
	if q.Limit < 0 || q.Limit > MaxQueryLimit {
		return fmt.Errorf("query limit must be between 0 and %d", MaxQueryLimit)
	}
	return nil
}

// LimitOrDefault resolves the result cap.
func (q QueryRequest) LimitOrDefault() int {
	if q.Limit == 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

// QueryResult lists the matches in DOM document order.
type QueryResult struct {
	Total    int           `json:"total"`
	Elements []ElementInfo `json:"elements"`
}
