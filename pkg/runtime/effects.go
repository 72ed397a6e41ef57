package runtime

import (
	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/validation"
)

// scheduleChangeEffectsLocked arms the debounce window of every change effect
// watching the committed field. Re-triggering within the window restarts the
// timer; a trigger while a previous execution is still in flight supersedes
// it, and the superseded execution's API calls become no-ops.
func (r *Runtime) scheduleChangeEffectsLocked(name string) {
	for _, eff := range r.change {
		if !watches(eff.Watch, name) {
			continue
		}
		eff := eff
		r.armLocked(timerKey{kind: timerEffect, id: eff.ID}, eff.Debounce, func() {
			r.runChangeEffect(eff)
		})
	}
}

func watches(watch []string, name string) bool {
	for _, w := range watch {
		if w == name {
			return true
		}
	}
	return false
}

func (r *Runtime) runChangeEffect(eff form.ChangeEffect) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.effectGens[eff.ID]++
	gen := r.effectGens[eff.ID]
	r.mu.Unlock()

	// Effect errors are intentionally swallowed here: a change effect has no
	// caller to report to. Fallible work belongs in validators.
	_ = eff.Run(r.baseCtx, r.api(eff.ID, gen))
}

// api builds the controlled surface handed to an effect body. id/gen identify
// the execution; a later execution of the same effect invalidates this one.
// Lifecycle effects (init, submit outcome) pass an empty id and are never
// superseded.
func (r *Runtime) api(id string, gen uint64) form.EffectAPI {
	return &effectAPI{r: r, id: id, gen: gen}
}

type effectAPI struct {
	r   *Runtime
	id  string
	gen uint64
}

func (a *effectAPI) staleLocked() bool {
	if a.r.closed {
		return true
	}
	if a.id == "" {
		return false
	}
	return a.r.effectGens[a.id] != a.gen
}

func (a *effectAPI) Values() form.Values {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.r.values.Clone()
}

func (a *effectAPI) Value(name string) any {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	return a.r.values[name]
}

func (a *effectAPI) SetValue(name string, value any, opts ...form.SetOption) {
	var cfg form.SetConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	r := a.r
	r.mu.Lock()
	if a.staleLocked() {
		r.mu.Unlock()
		return
	}
	if _, ok := r.def.Field(name); !ok {
		r.mu.Unlock()
		return
	}
	r.setValueLocked(name, value, SourceEffect, cfg.Silent, 0)
	notes := r.drainNotesLocked()
	r.mu.Unlock()
	r.dispatch(notes)
}

func (a *effectAPI) ResetField(name string) {
	r := a.r
	r.mu.Lock()
	if a.staleLocked() {
		r.mu.Unlock()
		return
	}
	if _, ok := r.def.Field(name); !ok {
		r.mu.Unlock()
		return
	}
	r.setValueLocked(name, r.defaults[name], SourceReset, false, 0)
	if meta, ok := r.meta[name]; ok {
		meta.touched = false
		meta.dirty = false
	}
	notes := r.drainNotesLocked()
	r.mu.Unlock()
	r.dispatch(notes)
}

func (a *effectAPI) SetError(name, message string) {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.staleLocked() {
		return
	}
	meta, ok := r.meta[name]
	if !ok {
		return
	}
	meta.manual = []validation.Entry{{
		Field:   name,
		RuleID:  "manual",
		Level:   form.LevelError,
		Message: r.sanitize.Sanitize(message),
		Tier:    validation.TierExternal,
	}}
	r.mergeFieldLocked(name)
}

func (a *effectAPI) ClearError(name string) {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.staleLocked() {
		return
	}
	meta, ok := r.meta[name]
	if !ok {
		return
	}
	meta.manual = nil
	r.mergeFieldLocked(name)
}
