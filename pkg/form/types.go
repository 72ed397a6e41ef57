package form

import (
	"context"
	"time"
)

// Level grades validation outcomes. Only LevelError blocks submission;
// warnings and infos are surfaced to widgets but never gate anything.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelInfo    Level = "info"
)

// Predicate is a pure condition over a value snapshot. Predicates must not
// close over mutable form state; everything they need arrives in the snapshot.
type Predicate func(values Values) bool

// Rule is a synchronous field validator. Check returns an empty string when
// the value passes, otherwise the message to surface at the rule's level.
type Rule struct {
	ID    string
	Level Level
	When  Predicate
	Check func(value any, values Values) string
}

// AsyncRule is an asynchronous field validator. Check returns the message to
// surface ("" for pass) or an error when the check itself could not run.
// Repeated triggers within Debounce restart the timer; only the last trigger
// in a quiet period executes.
type AsyncRule struct {
	ID       string
	Level    Level
	When     Predicate
	Debounce time.Duration
	Check    func(ctx context.Context, value any, values Values) (string, error)
}

// FormResult carries the outcome of a form-level rule: per-field messages for
// the fields the rule declared, plus an optional message not tied to any field.
type FormResult struct {
	FieldMessages map[string]string
	Message       string
}

// FormRule validates across fields. Fields lists the field names the rule
// concerns; messages for fields outside that set are ignored.
type FormRule struct {
	ID     string
	Fields []string
	Level  Level
	When   Predicate
	Check  func(values Values) FormResult
}

// AsyncFormRule is the asynchronous counterpart of FormRule.
type AsyncFormRule struct {
	ID     string
	Fields []string
	Level  Level
	When   Predicate
	Check  func(ctx context.Context, values Values) (FormResult, error)
}

// Derive computes a field's value from the rest of the value tree. Exactly one
// of Func or AsyncFunc should be set. CacheKey, when present, keys the async
// resolution so two fields deriving from the same inputs share one fetch.
type Derive struct {
	Func      func(values Values) (any, error)
	AsyncFunc func(ctx context.Context, values Values) (any, error)
	CacheKey  func(values Values) string
}

// PropsSource produces extra widget properties. Fallback is handed to the
// widget while an async resolution is pending; the widget never observes the
// pending state itself. Without CacheKey the resolution is keyed by the field
// name alone and recomputes on every dependency change.
type PropsSource struct {
	Func      func(values Values) (map[string]any, error)
	AsyncFunc func(ctx context.Context, values Values) (map[string]any, error)
	CacheKey  func(values Values) string
	Fallback  map[string]any
}

// Field declares a single named unit of form state.
type Field struct {
	Name   string
	Widget string
	Props  map[string]any

	// DependsOn names the fields whose value change re-evaluates this field's
	// conditions, derived value, and async props. Every entry must reference a
	// declared field; dangling names fail Definition.Validate.
	DependsOn []string

	Required     bool
	VisibleWhen  Predicate // nil means always visible
	DisabledWhen Predicate // nil means never disabled
	RequiredWhen Predicate // nil means Required alone decides

	Rules      []Rule
	AsyncRules []AsyncRule

	Derive *Derive
	Source *PropsSource

	// OnChange runs after this field's committed value changes through direct
	// interaction, subject to its own debounce.
	OnChange *ChangeEffect
}

// DefaultsSource supplies initial values. Exactly one of Static, Func, or
// AsyncFunc should be set; the initial context is whatever the caller passed
// when mounting the runtime.
type DefaultsSource struct {
	Static    Values
	Func      func(initial any) (Values, error)
	AsyncFunc func(ctx context.Context, initial any) (Values, error)

	// CacheKey namespaces async default resolution. When nil the form id and
	// a stable rendering of the initial context are used.
	CacheKey func(initial any) string
}

// ChangeEffect reacts to committed value changes on its Watch list. Silent
// writes through the effect API do not re-trigger change effects.
type ChangeEffect struct {
	ID       string
	Watch    []string
	Debounce time.Duration
	Run      EffectFunc
}

// EffectFunc is an effect body. All reads and writes go through the supplied
// API; an effect whose execution was superseded sees its API calls ignored.
type EffectFunc func(ctx context.Context, api EffectAPI) error

// Effects groups the lifecycle hooks of a definition.
type Effects struct {
	OnInit          []EffectFunc
	OnFieldChange   []ChangeEffect
	OnSubmitSuccess []EffectFunc
	OnSubmitError   []EffectFunc
}

// EffectAPI is the controlled surface effects mutate form state through.
type EffectAPI interface {
	// Values returns a snapshot of the current value tree.
	Values() Values
	// Value reads a single field value.
	Value(name string) any
	// SetValue writes a field value. Silent writes skip change effects but
	// still propagate conditions and derived values.
	SetValue(name string, value any, opts ...SetOption)
	// ResetField restores a field to its resolved default value.
	ResetField(name string)
	// SetError records an arbitrary error-level entry against a field, e.g.
	// one derived from a server response.
	SetError(name, message string)
	// ClearError removes entries previously recorded through SetError.
	ClearError(name string)
}

// SetOption modifies an effect-initiated write.
type SetOption func(*SetConfig)

// SetConfig carries the resolved write options.
type SetConfig struct {
	Silent bool
}

// Silent marks a write so it does not re-trigger OnFieldChange effects,
// breaking feedback cycles between cooperating effects.
func Silent() SetOption {
	return func(c *SetConfig) {
		c.Silent = true
	}
}

// Options tunes runtime behaviour per definition.
type Options struct {
	// WaitForAsyncValidation, when nil or true, makes Submit wait for every
	// in-flight async validator before deciding validity. When false, only
	// settled results are considered and still-pending fields pass.
	WaitForAsyncValidation *bool
}

// WaitForAsyncValidation resolves the option with its default of true.
func (o Options) waitForAsyncValidation() bool {
	return o.WaitForAsyncValidation == nil || *o.WaitForAsyncValidation
}

// SubmitWaits reports whether submission should block on pending validators.
func (o Options) SubmitWaits() bool {
	return o.waitForAsyncValidation()
}

// Definition is the immutable declarative description of a form. It is
// supplied once per runtime instance and never mutated afterwards.
type Definition struct {
	// ID is the stable key used to namespace async resolution caches and
	// draft storage.
	ID string

	Defaults DefaultsSource
	Fields   []Field

	FormRules      []FormRule
	AsyncFormRules []AsyncFormRule

	Effects Effects

	// Transform runs on the full value tree after validation passes and
	// before the submit handler; its result is the submission payload. When
	// nil the value snapshot itself is the payload.
	Transform func(values Values) (any, error)

	Options Options
}

// Field returns the declaration for name.
func (d *Definition) Field(name string) (*Field, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// FieldNames returns the declared field names in declaration order.
func (d *Definition) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for i := range d.Fields {
		names = append(names, d.Fields[i].Name)
	}
	return names
}
