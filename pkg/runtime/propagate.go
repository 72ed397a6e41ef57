package runtime

import (
	"context"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/validation"
)

// maxDerivePasses bounds propagation: a value change recomputes its
// dependents once, and a derived result that itself changes a value triggers
// at most one further pass for its own dependents. Genuine cycles were
// rejected at load time, so this bound is a guard, not a correctness crutch.
const maxDerivePasses = 1

// setValueLocked commits a value and runs the bounded propagation pass.
// silent suppresses change-effect triggering only; conditions, derived
// values, props, and validation always see the new value. Notifications are
// accumulated on r.notes and drained by the public entry point.
func (r *Runtime) setValueLocked(name string, value any, source ChangeSource, silent bool, depth int) {
	if valuesEqual(r.values[name], value) {
		return
	}
	r.values[name] = value
	meta := r.meta[name]
	meta.dirty = !valuesEqual(value, r.defaults[name])

	// A newer value supersedes every pending async validator for the field.
	r.bumpLocked(name, purposeValidation)

	f, _ := r.def.Field(name)
	r.refreshSyncValidationLocked(f)
	r.refreshFormSyncLocked()
	r.scheduleAsyncValidationLocked(f)

	r.propagateLocked(name, depth)

	if !silent && triggersEffects(source) {
		r.scheduleChangeEffectsLocked(name)
	}

	r.notes = append(r.notes, note{values: r.values.Clone(), source: source})
}

func triggersEffects(source ChangeSource) bool {
	switch source {
	case SourceUser, SourceEffect, SourceReset:
		return true
	}
	return false
}

// propagateLocked recomputes every dependent of origin: conditions
// synchronously, derived values and props through the resolution cache.
func (r *Runtime) propagateLocked(origin string, depth int) {
	for _, name := range r.graph.Dependents(origin) {
		f, ok := r.def.Field(name)
		if !ok {
			continue
		}
		r.recomputeConditionsLocked(f)
		r.refreshSyncValidationLocked(f)
		if f.Derive != nil {
			r.scheduleDeriveLocked(f, depth)
		}
		if f.Source != nil {
			r.schedulePropsLocked(f)
		}
	}
}

func (r *Runtime) recomputeConditionsLocked(f *form.Field) {
	meta := r.meta[f.Name]
	// User callbacks always see clones, never the live tree.
	snapshot := r.values.Clone()
	meta.visible = f.VisibleWhen == nil || f.VisibleWhen(snapshot)
	meta.disabled = f.DisabledWhen != nil && f.DisabledWhen(snapshot)
	meta.required = f.Required || (f.RequiredWhen != nil && f.RequiredWhen(snapshot))
}

func (r *Runtime) refreshSyncValidationLocked(f *form.Field) {
	meta := r.meta[f.Name]
	meta.fieldEntries = validation.EvaluateField(f, r.values.Clone())
	r.mergeFieldLocked(f.Name)
}

// refreshFormSyncLocked re-evaluates the synchronous form-level rules and
// redistributes their entries to the named fields.
func (r *Runtime) refreshFormSyncLocked() {
	res := validation.Evaluate(r.def, r.values.Clone())
	touched := make(map[string]struct{})
	for name, fr := range res.Fields {
		meta, ok := r.meta[name]
		if !ok {
			continue
		}
		var formEntries []validation.Entry
		for _, e := range fr.Entries {
			if e.Tier == validation.TierFormSync {
				formEntries = append(formEntries, e)
			}
		}
		if len(formEntries) > 0 || len(meta.formEntries) > 0 {
			meta.formEntries = formEntries
			touched[name] = struct{}{}
		}
	}
	// Fields whose form-rule entries just cleared are not in res.Fields.
	for name, meta := range r.meta {
		if _, ok := touched[name]; ok {
			continue
		}
		if len(meta.formEntries) > 0 {
			if _, present := res.Fields[name]; !present {
				meta.formEntries = nil
				touched[name] = struct{}{}
			}
		}
	}
	for name := range touched {
		r.mergeFieldLocked(name)
	}
	r.formMsgs = res.Form
}

func (r *Runtime) mergeFieldLocked(name string) {
	meta := r.meta[name]
	entries := make([]validation.Entry, 0,
		len(meta.fieldEntries)+len(meta.formEntries)+len(meta.asyncEntries)+len(meta.manual))
	entries = append(entries, meta.fieldEntries...)
	entries = append(entries, meta.asyncEntries...)
	entries = append(entries, meta.formEntries...)
	entries = append(entries, meta.manual...)
	meta.result = validation.Merge(entries)
}

// --- derived values ---

func (r *Runtime) scheduleDeriveLocked(f *form.Field, depth int) {
	d := f.Derive
	meta := r.meta[f.Name]
	if d.Func != nil {
		value, err := d.Func(r.values.Clone())
		if err != nil {
			// Prior value stays intact; the failure is field-scoped.
			meta.resolveErr = err
			return
		}
		meta.resolveErr = nil
		r.applyDerivedLocked(f.Name, value, depth)
		return
	}

	snapshot := r.values.Clone()
	key := "derive:" + f.Name
	if d.CacheKey != nil {
		key = "derive:" + d.CacheKey(snapshot)
	} else {
		// No cache key means no deduplication: recompute on every change.
		r.cache.Forget(key)
	}
	gen := r.bumpLocked(f.Name, purposeDerive)
	name := f.Name

	r.wg.Add(1)
	value, hit := r.cache.Resolve(r.baseCtx, key, func(ctx context.Context) (any, error) {
		return d.AsyncFunc(ctx, snapshot)
	}, nil, func(value any, err error) {
		defer r.wg.Done()
		r.applyAsyncDerive(name, key, gen, depth, value, err)
	})
	if hit {
		r.wg.Done()
		meta.loadingDerive = false
		r.applyDerivedLocked(name, value, depth)
		return
	}
	meta.loadingDerive = true
}

func (r *Runtime) applyAsyncDerive(name, key string, gen uint64, depth int, value any, err error) {
	r.mu.Lock()
	if r.closed || r.genLocked(name, purposeDerive) != gen {
		// A newer resolution started meanwhile; discard silently.
		r.mu.Unlock()
		return
	}
	meta := r.meta[name]
	meta.loadingDerive = false
	if err != nil {
		meta.resolveErr = err
		r.mu.Unlock()
		return
	}
	meta.resolveErr = nil
	r.cache.Commit(key, value)
	r.applyDerivedLocked(name, value, depth)
	notes := r.drainNotesLocked()
	r.mu.Unlock()
	r.dispatch(notes)
}

func (r *Runtime) applyDerivedLocked(name string, value any, depth int) {
	if depth >= maxDerivePasses {
		// Bounded propagation: commit the value but do not cascade further.
		if valuesEqual(r.values[name], value) {
			return
		}
		r.values[name] = value
		f, _ := r.def.Field(name)
		r.refreshSyncValidationLocked(f)
		r.refreshFormSyncLocked()
		r.notes = append(r.notes, note{values: r.values.Clone(), source: SourceDerived})
		return
	}
	r.setValueLocked(name, value, SourceDerived, true, depth+1)
}

// --- widget props ---

func (r *Runtime) schedulePropsLocked(f *form.Field) {
	src := f.Source
	meta := r.meta[f.Name]
	if src.Func != nil {
		props, err := src.Func(r.values.Clone())
		if err != nil {
			meta.resolveErr = err
			return
		}
		meta.resolveErr = nil
		meta.props = props
		return
	}

	snapshot := r.values.Clone()
	key := "props:" + f.Name
	if src.CacheKey != nil {
		key = "props:" + f.Name + ":" + src.CacheKey(snapshot)
	} else {
		r.cache.Forget(key)
	}
	gen := r.bumpLocked(f.Name, purposeProps)
	name := f.Name

	r.wg.Add(1)
	value, hit := r.cache.Resolve(r.baseCtx, key, func(ctx context.Context) (any, error) {
		return src.AsyncFunc(ctx, snapshot)
	}, nil, func(value any, err error) {
		defer r.wg.Done()
		r.applyAsyncProps(name, key, gen, value, err)
	})
	if hit {
		r.wg.Done()
		meta.loadingProps = false
		if props, ok := value.(map[string]any); ok {
			meta.props = props
		}
		return
	}
	meta.loadingProps = true
}

func (r *Runtime) applyAsyncProps(name, key string, gen uint64, value any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.genLocked(name, purposeProps) != gen {
		return
	}
	meta := r.meta[name]
	meta.loadingProps = false
	if err != nil {
		// Prior props stay intact; the failure is surfaced separately.
		meta.resolveErr = err
		return
	}
	meta.resolveErr = nil
	props, _ := value.(map[string]any)
	r.cache.Commit(key, props)
	meta.props = props
}

// resolvedPropsLocked is what the widget sees: the resolved props when
// settled, the declared fallback otherwise.
func (r *Runtime) resolvedPropsLocked(f *form.Field, meta *fieldMeta) map[string]any {
	if meta.props != nil {
		return meta.props
	}
	return f.Source.Fallback
}

// --- async validation ---

func (r *Runtime) scheduleAsyncValidationLocked(f *form.Field) {
	rules := validation.ActiveAsyncRules(f, r.values.Clone())
	if len(rules) == 0 {
		return
	}
	gen := r.genLocked(f.Name, purposeValidation)
	for seq, rule := range rules {
		r.armLocked(timerKey{kind: timerRule, field: f.Name, id: rule.ID}, rule.Debounce,
			r.asyncRuleRunner(f.Name, rule, seq, gen))
	}
}

func (r *Runtime) asyncRuleRunner(field string, rule form.AsyncRule, seq int, gen uint64) func() {
	return func() {
		r.mu.Lock()
		if r.closed || r.genLocked(field, purposeValidation) != gen {
			r.mu.Unlock()
			return
		}
		snapshot := r.values.Clone()
		r.mu.Unlock()

		msg, err := rule.Check(r.baseCtx, snapshot[field], snapshot)

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed || r.genLocked(field, purposeValidation) != gen {
			// The field changed while the check ran; discard the result.
			return
		}
		meta := r.meta[field]
		kept := meta.asyncEntries[:0]
		for _, e := range meta.asyncEntries {
			if e.RuleID != rule.ID {
				kept = append(kept, e)
			}
		}
		meta.asyncEntries = kept
		if err == nil && msg != "" {
			meta.asyncEntries = append(meta.asyncEntries, validation.Entry{
				Field:   field,
				RuleID:  rule.ID,
				Level:   ruleLevel(rule.Level),
				Message: msg,
				Tier:    validation.TierFieldAsync,
				Seq:     seq,
			})
		}
		r.mergeFieldLocked(field)
	}
}

func ruleLevel(level form.Level) form.Level {
	if level == "" {
		return form.LevelError
	}
	return level
}

// --- debounce timers ---

type timerKind uint8

const (
	timerRule timerKind = iota
	timerEffect
)

type timerKey struct {
	kind  timerKind
	field string
	id    string
}

type armedTimer struct {
	timer  clockz.Timer
	cancel chan struct{}
}

func (t *armedTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
	close(t.cancel)
}

// armLocked starts or restarts the debounce window for key. Re-arming cancels
// the pending fire so only the last trigger in a quiet period executes. A
// zero duration fires on its own goroutine without a timer.
func (r *Runtime) armLocked(key timerKey, d time.Duration, fire func()) {
	if existing, ok := r.timers[key]; ok {
		// The superseded goroutine observes cancel and releases its own slot.
		existing.stop()
		delete(r.timers, key)
	}
	r.wg.Add(1)
	if d <= 0 {
		go func() {
			defer r.wg.Done()
			fire()
		}()
		return
	}
	armed := &armedTimer{
		timer:  r.clock.NewTimer(d),
		cancel: make(chan struct{}),
	}
	r.timers[key] = armed
	go func() {
		defer r.wg.Done()
		select {
		case <-armed.timer.C():
			// The timer may expire while a re-arm holds the lock. Losing the
			// slot means the trigger was superseded; do not fire twice.
			r.mu.Lock()
			owned := r.timers[key] == armed
			if owned {
				delete(r.timers, key)
			}
			r.mu.Unlock()
			if owned {
				fire()
			}
		case <-armed.cancel:
		}
	}()
}
