package schemas

import (
	"encoding/json"
	"fmt"
	"time"
)

// -- Recorded Step Schemas --

// StepKind identifies the action a recorded step performs.
type StepKind string

const (
	StepClick  StepKind = "click"
	StepInput  StepKind = "input"
	StepSelect StepKind = "select"
)

// ValueRedacted is the sentinel stored in place of a sensitive input value.
// A recording carrying it cannot be replayed until the operator supplies the
// real value through the recording editor; playback treats it as a
// recording-integrity failure.
const ValueRedacted = "redacted"

// Step is one recorded action. The concrete variants make the per-kind field
// requirements explicit: a click never carries a value, input and select
// always do.
type Step interface {
	// Kind returns the step's action kind.
	Kind() StepKind
	// Target returns the identification fingerprint recorded for the step.
	Target() Fingerprint
}

// ClickStep clicks the element resolved from its fingerprint.
type ClickStep struct {
	Fingerprint Fingerprint `json:"fingerprint"`
}

func (s ClickStep) Kind() StepKind      { return StepClick }
func (s ClickStep) Target() Fingerprint { return s.Fingerprint }

// InputStep types a value into the input or textarea resolved from its
// fingerprint.
type InputStep struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Value       string      `json:"value"`
}

func (s InputStep) Kind() StepKind      { return StepInput }
func (s InputStep) Target() Fingerprint { return s.Fingerprint }

// SelectStep assigns a value to the select element resolved from its
// fingerprint.
type SelectStep struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Value       string      `json:"value"`
}

func (s SelectStep) Kind() StepKind      { return StepSelect }
func (s SelectStep) Target() Fingerprint { return s.Fingerprint }

// UnknownStep preserves a step whose kind this build does not understand.
// Decoding keeps it instead of failing so a recording loads intact and the
// integrity error surfaces at execution time, attributed to the right step.
type UnknownStep struct {
	RawKind     string      `json:"type"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

func (s UnknownStep) Kind() StepKind      { return StepKind(s.RawKind) }
func (s UnknownStep) Target() Fingerprint { return s.Fingerprint }

// StepEnvelope wraps the Step union for JSON (de)serialization. The wire form
// is flat: {"type": "...", "fingerprint": {...}, "value": "..."}.
type StepEnvelope struct {
	Step Step
}

type stepWire struct {
	Type        string      `json:"type"`
	Fingerprint Fingerprint `json:"fingerprint"`
	Value       *string     `json:"value,omitempty"`
}

// MarshalJSON implements json.Marshaler for the step union.
func (e StepEnvelope) MarshalJSON() ([]byte, error) {
	if e.Step == nil {
		return nil, fmt.Errorf("cannot marshal empty step envelope")
	}
	w := stepWire{Type: string(e.Step.Kind()), Fingerprint: e.Step.Target()}
	switch s := e.Step.(type) {
	case InputStep:
		w.Value = &s.Value
	case SelectStep:
		w.Value = &s.Value
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler for the step union. Unknown step
// kinds decode into UnknownStep rather than erroring.
func (e *StepEnvelope) UnmarshalJSON(data []byte) error {
	var w stepWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("malformed step: %w", err)
	}
	value := ""
	if w.Value != nil {
		value = *w.Value
	}
	switch StepKind(w.Type) {
	case StepClick:
		e.Step = ClickStep{Fingerprint: w.Fingerprint}
	case StepInput:
		e.Step = InputStep{Fingerprint: w.Fingerprint, Value: value}
	case StepSelect:
		e.Step = SelectStep{Fingerprint: w.Fingerprint, Value: value}
	default:
		e.Step = UnknownStep{RawKind: w.Type, Fingerprint: w.Fingerprint}
	}
	return nil
}

// -- Recording Schemas --

// Recording is an ordered sequence of steps replayed against a starting URL.
// Playback treats a recording as read-only input; the store owns its
// lifecycle.
type Recording struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	StartURL  string         `json:"start_url"`
	AccountID string         `json:"account_id,omitempty"`
	Steps     []StepEnvelope `json:"steps"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
