package runtime

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/zoobzio/clockz"

	"github.com/goliatone/go-formstate/internal/graph"
	"github.com/goliatone/go-formstate/internal/resolver"
	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/validation"
	"github.com/goliatone/go-formstate/pkg/widget"
)

// ChangeSource tags a values-changed notification so callers can tell user
// edits from programmatic ones, e.g. when deciding whether to persist a draft.
type ChangeSource string

const (
	SourceUser    ChangeSource = "user"
	SourceEffect  ChangeSource = "effect"
	SourceReset   ChangeSource = "reset"
	SourceInitial ChangeSource = "initial"
	SourceDerived ChangeSource = "derived"
)

// ChangeListener observes committed value changes. Listeners run after the
// runtime releases its lock; the snapshot is a clone and safe to retain.
type ChangeListener func(values form.Values, source ChangeSource)

var (
	// ErrNotInteractive is returned for mutations before Mount completes.
	ErrNotInteractive = errors.New("runtime: form is not interactive yet")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("runtime: form instance is closed")
)

type purpose uint8

const (
	purposeDerive purpose = iota
	purposeProps
	purposeValidation
)

type genKey struct {
	field   string
	purpose purpose
}

type fieldMeta struct {
	touched bool
	dirty   bool

	visible  bool
	disabled bool
	required bool

	loadingProps  bool
	loadingDerive bool

	// props holds the last settled props resolution; nil means the widget
	// sees the declared fallback.
	props map[string]any

	// fieldEntries holds the required + sync rule tiers, formEntries the
	// form-level tiers targeting this field, asyncEntries the settled async
	// rule tier, manual the entries injected through the effect API or a
	// submit handler response.
	fieldEntries []validation.Entry
	formEntries  []validation.Entry
	asyncEntries []validation.Entry
	manual       []validation.Entry

	result validation.FieldResult

	// resolveErr records a failed derive/props resolution. It is distinct
	// from validation state and never blocks submission by itself.
	resolveErr error
}

// Option customises a runtime instance.
type Option func(*Runtime)

// WithClock injects the clock used for debounce timers. Tests pair this with
// clockz.NewFakeClock for deterministic debounce behaviour.
func WithClock(clock clockz.Clock) Option {
	return func(r *Runtime) {
		r.clock = clock
	}
}

// Runtime is the live evaluation engine for one mounted form instance. All
// mutations are serialized through a single mutex: concurrent external calls
// are processed one at a time in call order. Asynchronous completions never
// touch state directly; each one re-enters the lock and is reconciled against
// the generation counters before being applied.
type Runtime struct {
	def      *form.Definition
	graph    *graph.Graph
	cache    *resolver.Cache
	clock    clockz.Clock
	sanitize *bluemonday.Policy

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	values      form.Values
	defaults    form.Values
	meta        map[string]*fieldMeta
	gens        map[genKey]uint64
	effectGens  map[string]uint64
	formMsgs    []validation.Entry // sync + settled async form-wide messages
	submitMsgs  []validation.Entry // form-level messages from the last submission
	listeners   []ChangeListener
	timers      map[timerKey]*armedTimer
	change      []form.ChangeEffect
	notes       []note
	interactive bool
	closed      bool

	subState SubmissionState

	wg sync.WaitGroup
}

// New validates the definition and constructs an unmounted runtime. The
// definition is treated as immutable for the instance's lifetime.
func New(def *form.Definition, opts ...Option) (*Runtime, error) {
	if def == nil {
		return nil, errors.New("runtime: definition is required")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	g, err := def.Graph()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		def:        def,
		graph:      g,
		cache:      resolver.New(def.ID),
		clock:      clockz.RealClock,
		sanitize:   bluemonday.StrictPolicy(),
		baseCtx:    ctx,
		cancel:     cancel,
		values:     form.Values{},
		meta:       make(map[string]*fieldMeta, len(def.Fields)),
		gens:       make(map[genKey]uint64),
		effectGens: make(map[string]uint64),
		timers:     make(map[timerKey]*armedTimer),
		subState:   StateIdle,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	for i := range def.Fields {
		f := &def.Fields[i]
		r.meta[f.Name] = &fieldMeta{visible: true}
	}
	r.change, err = changeEffects(def)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// changeEffects folds the per-field OnChange declarations into the form-level
// change effect list, watching the declaring field.
func changeEffects(def *form.Definition) ([]form.ChangeEffect, error) {
	effects := append([]form.ChangeEffect(nil), def.Effects.OnFieldChange...)
	for i := range def.Fields {
		f := &def.Fields[i]
		if f.OnChange == nil {
			continue
		}
		eff := *f.OnChange
		if eff.ID == "" {
			eff.ID = "change:" + f.Name
		}
		if len(eff.Watch) == 0 {
			eff.Watch = []string{f.Name}
		}
		effects = append(effects, eff)
	}
	seen := make(map[string]struct{}, len(effects))
	for _, eff := range effects {
		if eff.Run == nil {
			return nil, fmt.Errorf("runtime: change effect %q has no body", eff.ID)
		}
		if eff.ID == "" {
			return nil, errors.New("runtime: change effects require an id")
		}
		if _, dup := seen[eff.ID]; dup {
			return nil, fmt.Errorf("runtime: duplicate change effect id %q", eff.ID)
		}
		seen[eff.ID] = struct{}{}
	}
	return effects, nil
}

// Mount resolves default values (awaiting an async source through the
// resolution cache), seeds metadata, runs the OnInit effects in declaration
// order, and makes the form interactive. initial is the opaque context handed
// to the defaults source.
func (r *Runtime) Mount(ctx context.Context, initial any) error {
	defaults, err := r.resolveDefaults(ctx, initial)
	if err != nil {
		return fmt.Errorf("runtime: resolve defaults: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.defaults = defaults.Clone()
	r.values = defaults.Clone()
	for i := range r.def.Fields {
		f := &r.def.Fields[i]
		r.recomputeConditionsLocked(f)
		r.refreshSyncValidationLocked(f)
		if f.Derive != nil {
			r.scheduleDeriveLocked(f, 0)
		}
		if f.Source != nil {
			r.schedulePropsLocked(f)
		}
	}
	r.refreshFormSyncLocked()
	// The initial snapshot is reported before any derived commits from the
	// seeding pass.
	r.notes = append([]note{{values: r.values.Clone(), source: SourceInitial}}, r.notes...)
	notes := r.drainNotesLocked()
	r.mu.Unlock()
	r.dispatch(notes)

	for _, eff := range r.def.Effects.OnInit {
		if eff == nil {
			continue
		}
		if err := eff(ctx, r.api("", 0)); err != nil {
			return fmt.Errorf("runtime: init effect: %w", err)
		}
	}

	r.mu.Lock()
	r.interactive = true
	r.mu.Unlock()
	return nil
}

func (r *Runtime) resolveDefaults(ctx context.Context, initial any) (form.Values, error) {
	src := r.def.Defaults
	switch {
	case src.AsyncFunc != nil:
		key := "defaults:" + r.def.ID
		if src.CacheKey != nil {
			key = "defaults:" + src.CacheKey(initial)
		} else if initial != nil {
			key = fmt.Sprintf("defaults:%s:%v", r.def.ID, initial)
		}
		type outcome struct {
			value any
			err   error
		}
		ch := make(chan outcome, 1)
		value, hit := r.cache.Resolve(ctx, key, func(ctx context.Context) (any, error) {
			return src.AsyncFunc(ctx, initial)
		}, nil, func(value any, err error) {
			ch <- outcome{value: value, err: err}
		})
		if !hit {
			select {
			case out := <-ch:
				if out.err != nil {
					return nil, out.err
				}
				value = out.value
				r.cache.Commit(key, value)
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		values, _ := value.(form.Values)
		return values.Clone(), nil
	case src.Func != nil:
		values, err := src.Func(initial)
		if err != nil {
			return nil, err
		}
		return values.Clone(), nil
	default:
		return src.Static.Clone(), nil
	}
}

// Close tears the instance down: in-flight producers are cancelled at the
// context level and any late completion is discarded by the generation check.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.interactive = false
	for key, t := range r.timers {
		t.stop()
		delete(r.timers, key)
	}
	r.mu.Unlock()
	r.cancel()
}

// Subscribe registers a change listener. The caller typically persists drafts
// from here, filtering on the change source.
func (r *Runtime) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// SetValue commits a user-originated value change and runs the full
// propagation pass: conditions synchronously, derived values and async props
// through the resolution cache, validators and change effects debounced.
func (r *Runtime) SetValue(name string, value any) error {
	r.mu.Lock()
	if err := r.mutableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if _, ok := r.def.Field(name); !ok {
		r.mu.Unlock()
		return fmt.Errorf("runtime: unknown field %q", name)
	}
	r.setValueLocked(name, value, SourceUser, false, 0)
	notes := r.drainNotesLocked()
	r.mu.Unlock()
	r.dispatch(notes)
	return nil
}

// Blur marks a field as touched.
func (r *Runtime) Blur(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.mutableLocked(); err != nil {
		return err
	}
	meta, ok := r.meta[name]
	if !ok {
		return fmt.Errorf("runtime: unknown field %q", name)
	}
	meta.touched = true
	return nil
}

// Reset restores a field to its resolved default value.
func (r *Runtime) Reset(name string) error {
	r.mu.Lock()
	if err := r.mutableLocked(); err != nil {
		r.mu.Unlock()
		return err
	}
	if _, ok := r.def.Field(name); !ok {
		r.mu.Unlock()
		return fmt.Errorf("runtime: unknown field %q", name)
	}
	r.setValueLocked(name, r.defaults[name], SourceReset, false, 0)
	meta := r.meta[name]
	meta.touched = false
	meta.dirty = false
	notes := r.drainNotesLocked()
	r.mu.Unlock()
	r.dispatch(notes)
	return nil
}

// Values returns a snapshot of the current value tree.
func (r *Runtime) Values() form.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values.Clone()
}

// Value reads a single field value.
func (r *Runtime) Value(name string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[name]
}

// Field materializes the widget contract for a field: value, callbacks,
// resolved flags, the blocking error, and fallback-or-resolved props. The
// widget never observes resolution mechanics.
func (r *Runtime) Field(name string) (widget.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.def.Field(name)
	if !ok {
		return widget.State{}, fmt.Errorf("runtime: unknown field %q", name)
	}
	meta := r.meta[name]

	state := widget.State{
		Name:     name,
		Widget:   f.Widget,
		Value:    r.values[name],
		Required: meta.required,
		Disabled: meta.disabled,
		Visible:  meta.visible,
		Touched:  meta.touched,
		Dirty:    meta.dirty,
		Props:    r.widgetPropsLocked(f, meta),
		OnChange: func(v any) error { return r.SetValue(name, v) },
		OnBlur:   func() { _ = r.Blur(name) },
	}
	if meta.result.Blocking != nil {
		state.Error = meta.result.Blocking.Message
	}
	for _, e := range meta.result.Notices() {
		state.Notices = append(state.Notices, widget.Notice{
			Level:   string(e.Level),
			Message: e.Message,
		})
	}
	return state, nil
}

func (r *Runtime) widgetPropsLocked(f *form.Field, meta *fieldMeta) map[string]any {
	var resolved map[string]any
	if f.Source != nil {
		resolved = r.resolvedPropsLocked(f, meta)
	}
	if len(f.Props) == 0 {
		return resolved
	}
	merged := make(map[string]any, len(f.Props)+len(resolved))
	for k, v := range f.Props {
		merged[k] = v
	}
	for k, v := range resolved {
		merged[k] = v
	}
	return merged
}

// FieldErrors returns the merged validation result for a field.
func (r *Runtime) FieldErrors(name string) validation.FieldResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.meta[name]
	if !ok {
		return validation.FieldResult{}
	}
	return meta.result
}

// FormMessages returns form-wide validation messages, including any recorded
// by the last submission attempt.
func (r *Runtime) FormMessages() []validation.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]validation.Entry, 0, len(r.formMsgs)+len(r.submitMsgs))
	out = append(out, r.formMsgs...)
	out = append(out, r.submitMsgs...)
	return out
}

// ResolveError reports the last derive/props resolution failure for a field,
// if any. This is diagnostic state, separate from validation.
func (r *Runtime) ResolveError(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.meta[name]
	if !ok {
		return nil
	}
	return meta.resolveErr
}

// Loading reports whether the field has an async derive or props resolution
// in flight.
func (r *Runtime) Loading(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta, ok := r.meta[name]
	if !ok {
		return false
	}
	return meta.loadingDerive || meta.loadingProps
}

// Quiesce blocks until all in-flight asynchronous work (producers, debounced
// validators and effects) has settled or the context is done. Pending
// debounce timers count as in-flight; advance the clock first.
func (r *Runtime) Quiesce(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) mutableLocked() error {
	if r.closed {
		return ErrClosed
	}
	if !r.interactive {
		return ErrNotInteractive
	}
	return nil
}

type note struct {
	values form.Values
	source ChangeSource
}

func (r *Runtime) drainNotesLocked() []note {
	notes := r.notes
	r.notes = nil
	return notes
}

func (r *Runtime) dispatch(notes []note) {
	if len(notes) == 0 {
		return
	}
	r.mu.Lock()
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.Unlock()
	for _, n := range notes {
		for _, fn := range listeners {
			fn(n.values, n.source)
		}
	}
}

func (r *Runtime) bumpLocked(field string, p purpose) uint64 {
	key := genKey{field: field, purpose: p}
	r.gens[key]++
	return r.gens[key]
}

func (r *Runtime) genLocked(field string, p purpose) uint64 {
	return r.gens[genKey{field: field, purpose: p}]
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
