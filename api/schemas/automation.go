// Package schemas defines the wire-level structures accepted and returned by
// the automation engine: requests and results for the fill_form,
// wait_for_element, extract_data and run_workflow operations, plus the shared
// condition, rule and step vocabulary they are built from.
package schemas

import (
	"fmt"
	"io"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Seconds is a duration expressed as floating-point seconds on the wire.
type Seconds float64

// Duration converts the wire value to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// SecondsOf converts a time.Duration to its wire representation.
func SecondsOf(d time.Duration) Seconds {
	return Seconds(d.Seconds())
}

// Defaults applied when a request leaves the corresponding field unset.
const (
	DefaultTimeout      Seconds = 5.0
	DefaultPollInterval Seconds = 0.5
	DefaultQueryLimit   int     = 10
	MaxQueryLimit       int     = 50
)

// FailureReason is a stable machine-readable code attached to failed fields,
// steps and submissions.
type FailureReason string

const (
	ReasonNoMatch         FailureReason = "no_match"
	ReasonStaleElement    FailureReason = "stale_element"
	ReasonTimedOut        FailureReason = "timed_out"
	ReasonTransformError  FailureReason = "transform_error"
	ReasonActionRejected  FailureReason = "action_rejected"
	ReasonAbortedByPolicy FailureReason = "aborted_by_policy"
	ReasonPolicyViolation FailureReason = "policy_violation"
	ReasonNavigationError FailureReason = "navigation_error"
)

// -- Conditions --

// ConditionKind enumerates the predicates a condition can express.
type ConditionKind string

const (
	ConditionAppear       ConditionKind = "appear"
	ConditionDisappear    ConditionKind = "disappear"
	ConditionVisible      ConditionKind = "visible"
	ConditionHidden       ConditionKind = "hidden"
	ConditionEnabled      ConditionKind = "enabled"
	ConditionDisabled     ConditionKind = "disabled"
	ConditionTextContains ConditionKind = "text_contains"
)

// Condition is a pure predicate over the current DOM, bound to a selector.
// The same structure gates workflow steps (evaluated once) and drives the
// waiter (evaluated repeatedly).
type Condition struct {
	Kind     ConditionKind `json:"kind"`
	Selector string        `json:"selector"`
	// Text is the needle for text_contains and ignored otherwise.
	Text string `json:"text,omitempty"`
}

// Validate reports malformed conditions as hard input errors.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionAppear, ConditionDisappear, ConditionVisible, ConditionHidden,
		ConditionEnabled, ConditionDisabled:
	case ConditionTextContains:
		if c.Text == "" {
			return fmt.Errorf("condition %q requires a text value", c.Kind)
		}
	case "":
		return fmt.Errorf("condition kind is required")
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	if c.Selector == "" {
		return fmt.Errorf("condition %q requires a selector", c.Kind)
	}
	return nil
}

// -- Extraction --

// TransformKind enumerates the post-extraction value transforms.
type TransformKind string

const (
	TransformTrim   TransformKind = "trim"
	TransformLower  TransformKind = "lower"
	TransformUpper  TransformKind = "upper"
	TransformNumber TransformKind = "number"
	TransformURL    TransformKind = "url"
)

// Well-known attribute names. Any other value is read as a literal HTML
// attribute of the matched element.
const (
	AttributeText  = "text"
	AttributeValue = "value"
	AttributeHref  = "href"
	AttributeSrc   = "src"
)

// ExtractionRule describes how one named field is pulled out of a snapshot.
type ExtractionRule struct {
	Selector string `json:"selector"`
	// Attribute defaults to "text" when empty.
	Attribute string        `json:"attribute,omitempty"`
	Multiple  bool          `json:"multiple,omitempty"`
	Transform TransformKind `json:"transform,omitempty"`
}

// Validate reports malformed rules as hard input errors.
func (r ExtractionRule) Validate() error {
	if r.Selector == "" {
		return fmt.Errorf("extraction rule requires a selector")
	}
	switch r.Transform {
	case "", TransformTrim, TransformLower, TransformUpper, TransformNumber, TransformURL:
		return nil
	default:
		return fmt.Errorf("unknown transform %q", r.Transform)
	}
}

// ExtractRequest is the extract_data operation input.
type ExtractRequest struct {
	Rules map[string]ExtractionRule `json:"rules"`
}

// FieldError records why a single extraction field produced null.
type FieldError struct {
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message,omitempty"`
}

// ExtractResult carries one entry per rule. Fields whose selector matched
// nothing or whose transform failed are present with a null value and an
// entry in Errors; a partial batch is never an operation error.
type ExtractResult struct {
	Data   map[string]any        `json:"data"`
	Errors map[string]FieldError `json:"errors,omitempty"`
}

// -- Form filling --

// FormField is one name/value pair of a form fill, in submission order.
type FormField struct {
	Name  string
	Value string
}

// FormData is a field→value mapping that preserves the insertion order of
// the JSON object it was decoded from, so fields are filled in the order the
// caller wrote them.
type FormData struct {
	fields []FormField
}

// NewFormData builds ordered form data from pre-built fields.
func NewFormData(fields ...FormField) FormData {
	return FormData{fields: fields}
}

// Fields returns the pairs in insertion order.
func (d FormData) Fields() []FormField { return d.fields }

// Len reports the number of fields.
func (d FormData) Len() int { return len(d.fields) }

// Set appends a field, replacing an existing value for the same name in
// place without disturbing its position.
func (d *FormData) Set(name, value string) {
	for i := range d.fields {
		if d.fields[i].Name == name {
			d.fields[i].Value = value
			return
		}
	}
	d.fields = append(d.fields, FormField{Name: name, Value: value})
}

// UnmarshalJSON decodes a JSON object keeping document key order. Scalar
// values are coerced to strings; nested objects and arrays are rejected.
func (d *FormData) UnmarshalJSON(data []byte) error {
	iter := jsoniter.ParseBytes(jsonAPI, data)
	if iter.WhatIsNext() == jsoniter.NilValue {
		iter.ReadNil()
		d.fields = nil
		return nil
	}
	d.fields = d.fields[:0]
	iter.ReadObjectCB(func(it *jsoniter.Iterator, key string) bool {
		var value string
		switch it.WhatIsNext() {
		case jsoniter.StringValue:
			value = it.ReadString()
		case jsoniter.NumberValue:
			value = string(it.ReadNumber())
		case jsoniter.BoolValue:
			value = strconv.FormatBool(it.ReadBool())
		case jsoniter.NilValue:
			it.ReadNil()
		default:
			it.ReportError("form_data", "field values must be scalar")
			return false
		}
		d.fields = append(d.fields, FormField{Name: key, Value: value})
		return true
	})
	if iter.Error != nil && iter.Error != io.EOF {
		return fmt.Errorf("decode form_data: %w", iter.Error)
	}
	return nil
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (d FormData) MarshalJSON() ([]byte, error) {
	stream := jsonAPI.BorrowStream(nil)
	defer jsonAPI.ReturnStream(stream)
	stream.WriteObjectStart()
	for i, f := range d.fields {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(f.Name)
		stream.WriteString(f.Value)
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// FillFormRequest is the fill_form operation input.
type FillFormRequest struct {
	FormData FormData `json:"form_data"`
	// Scope restricts field resolution to a container selector,
	// typically a form. Empty means the whole document.
	Scope  string `json:"scope,omitempty"`
	Submit bool   `json:"submit,omitempty"`
	// ClearFirst defaults to true and applies to text-like fields only.
	ClearFirst *bool    `json:"clear_first,omitempty"`
	Timeout    *Seconds `json:"timeout,omitempty"`
}

// ClearFirstOrDefault resolves the tri-state flag.
func (r FillFormRequest) ClearFirstOrDefault() bool {
	if r.ClearFirst == nil {
		return true
	}
	return *r.ClearFirst
}

// TimeoutOrDefault resolves the per-call budget.
func (r FillFormRequest) TimeoutOrDefault() Seconds {
	if r.Timeout == nil {
		return DefaultTimeout
	}
	return *r.Timeout
}

// FieldStatus is the outcome class of a single form field.
type FieldStatus string

const (
	FieldFilled FieldStatus = "filled"
	FieldFailed FieldStatus = "failed"
)

// FieldOutcome reports one form field attempt. Order matches the request's
// form_data insertion order.
type FieldOutcome struct {
	Field  string        `json:"field"`
	Status FieldStatus   `json:"status"`
	Reason FailureReason `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// FillFormResult reports every field plus the submission attempt.
// SubmitReason is set only when submission was requested and did not happen
// or did not succeed; a missing submit control is reported as no_match, not
// an error.
type FillFormResult struct {
	Fields       []FieldOutcome `json:"fields"`
	Submitted    bool           `json:"submitted"`
	SubmitReason FailureReason  `json:"submit_reason,omitempty"`
}

// FilledCount is a convenience over Fields.
func (r FillFormResult) FilledCount() int {
	n := 0
	for _, f := range r.Fields {
		if f.Status == FieldFilled {
			n++
		}
	}
	return n
}

// -- Waiting --

// WaitRequest is the wait_for_element operation input. Timeout and
// PollInterval are pointers so an explicit zero survives decoding: a zero
// timeout means evaluate exactly once.
type WaitRequest struct {
	Condition    Condition `json:"condition"`
	Timeout      *Seconds  `json:"timeout,omitempty"`
	PollInterval *Seconds  `json:"poll_interval,omitempty"`
}

// TimeoutOrDefault resolves the wait budget.
func (r WaitRequest) TimeoutOrDefault() Seconds {
	if r.Timeout == nil {
		return DefaultTimeout
	}
	return *r.Timeout
}

// PollIntervalOrDefault resolves the poll floor.
func (r WaitRequest) PollIntervalOrDefault() Seconds {
	if r.PollInterval == nil {
		return DefaultPollInterval
	}
	return *r.PollInterval
}

// WaitStatus is the terminal state of a wait.
type WaitStatus string

const (
	WaitSatisfied WaitStatus = "satisfied"
	WaitTimedOut  WaitStatus = "timed_out"
)

// WaitResult reports how a wait ended. TimedOut is a normal outcome the
// caller branches on, not an error.
type WaitResult struct {
	Status  WaitStatus `json:"status"`
	Elapsed Seconds    `json:"elapsed"`
	Polls   int        `json:"polls"`
}

// -- Workflows --

// ActionKind enumerates workflow step kinds: the primitive browser actions
// plus the three composite operations.
type ActionKind string

const (
	ActionNavigate ActionKind = "navigate"
	ActionClick    ActionKind = "click"
	ActionType     ActionKind = "type"
	ActionClear    ActionKind = "clear"
	ActionHover    ActionKind = "hover"
	ActionScroll   ActionKind = "scroll"
	ActionSelect   ActionKind = "select"
	ActionFocus    ActionKind = "focus"
	ActionBlur     ActionKind = "blur"
	ActionFillForm ActionKind = "fill_form"
	ActionWait     ActionKind = "wait"
	ActionExtract  ActionKind = "extract"
)

// WorkflowStep is one entry of a run_workflow request. Params are flattened
// into the step; which ones are required depends on Action.
type WorkflowStep struct {
	Action   ActionKind `json:"action"`
	Selector string     `json:"selector,omitempty"`
	Value    string     `json:"value,omitempty"`
	URL      string     `json:"url,omitempty"`
	// WaitForLoad applies to navigate and defaults to true.
	WaitForLoad *bool `json:"wait_for_load,omitempty"`
	// Form carries the fill_form params for fill_form steps.
	Form *FillFormRequest `json:"form,omitempty"`
	// Wait carries the wait params for wait steps.
	Wait *WaitRequest `json:"wait,omitempty"`
	// Rules carries the extraction rules for extract steps.
	Rules map[string]ExtractionRule `json:"rules,omitempty"`
	// Condition, when present, gates the step: evaluated once at dispatch
	// time, and a false result skips the step without counting as a failure.
	Condition *Condition `json:"condition,omitempty"`
	Timeout   *Seconds   `json:"timeout,omitempty"`
}

// WaitForLoadOrDefault resolves the navigate flag.
func (s WorkflowStep) WaitForLoadOrDefault() bool {
	if s.WaitForLoad == nil {
		return true
	}
	return *s.WaitForLoad
}

// TimeoutOrDefault resolves the per-step budget.
func (s WorkflowStep) TimeoutOrDefault() Seconds {
	if s.Timeout == nil {
		return DefaultTimeout
	}
	return *s.Timeout
}

// Validate rejects structurally unusable steps before any dispatch happens.
func (s WorkflowStep) Validate() error {
	switch s.Action {
	case ActionNavigate:
		if s.URL == "" {
			return fmt.Errorf("navigate step requires a url")
		}
	case ActionClick, ActionClear, ActionHover, ActionScroll, ActionFocus, ActionBlur:
		if s.Selector == "" {
			return fmt.Errorf("%s step requires a selector", s.Action)
		}
	case ActionType, ActionSelect:
		if s.Selector == "" {
			return fmt.Errorf("%s step requires a selector", s.Action)
		}
		if s.Value == "" {
			return fmt.Errorf("%s step requires a value", s.Action)
		}
	case ActionFillForm:
		if s.Form == nil || s.Form.FormData.Len() == 0 {
			return fmt.Errorf("fill_form step requires form data")
		}
	case ActionWait:
		if s.Wait == nil {
			return fmt.Errorf("wait step requires wait params")
		}
		if err := s.Wait.Condition.Validate(); err != nil {
			return err
		}
	case ActionExtract:
		if len(s.Rules) == 0 {
			return fmt.Errorf("extract step requires rules")
		}
		for name, rule := range s.Rules {
			if err := rule.Validate(); err != nil {
				return fmt.Errorf("rule %q: %w", name, err)
			}
		}
	case "":
		return fmt.Errorf("step action is required")
	default:
		return fmt.Errorf("unknown action kind %q", s.Action)
	}
	if s.Condition != nil {
		if err := s.Condition.Validate(); err != nil {
			return fmt.Errorf("step condition: %w", err)
		}
	}
	return nil
}

// WorkflowRequest is the run_workflow operation input.
type WorkflowRequest struct {
	Steps           []WorkflowStep `json:"steps"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
}

// StepOutcome is the per-step record of a workflow run. Exactly one outcome
// exists per input step, in input order, including steps never dispatched
// because of an earlier abort.
type StepOutcome struct {
	Index     int           `json:"index"`
	Action    ActionKind    `json:"action"`
	Succeeded bool          `json:"succeeded"`
	Skipped   bool          `json:"skipped,omitempty"`
	Reason    FailureReason `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Output    any           `json:"output,omitempty"`
}

// WorkflowResult is the complete record of a run. Aborted is true when
// continue_on_error=false stopped dispatch early; the remaining steps are
// present with Skipped set.
type WorkflowResult struct {
	Steps   []StepOutcome `json:"steps"`
	Aborted bool          `json:"aborted,omitempty"`
}
