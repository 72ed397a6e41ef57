package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/validation"
)

// SubmissionState is the coarse machine state: idle, validating, submitting.
// It returns to idle after every attempt; outcomes live in SubmitOutcome.
type SubmissionState string

const (
	StateIdle       SubmissionState = "idle"
	StateValidating SubmissionState = "validating"
	StateSubmitting SubmissionState = "submitting"
)

// SubmitStatus classifies a finished submission attempt.
type SubmitStatus string

const (
	// SubmitSuccess means the handler resolved without errors.
	SubmitSuccess SubmitStatus = "success"
	// SubmitInvalid means validation blocked the attempt; the handler was
	// never invoked.
	SubmitInvalid SubmitStatus = "invalid"
	// SubmitFailed means the transform or handler rejected, or the handler
	// returned field errors.
	SubmitFailed SubmitStatus = "failed"
)

// SubmitResult is what a submit handler may resolve with: field-specific
// and/or form-level error messages, merged into the runtime exactly as if a
// validator produced them.
type SubmitResult struct {
	FieldErrors map[string]string
	FormError   string
}

// SubmitHandler receives the transformed value tree. It is invoked exactly
// once per successful validation pass.
type SubmitHandler func(ctx context.Context, payload any) (*SubmitResult, error)

// SubmitOutcome reports a finished attempt to the caller.
type SubmitOutcome struct {
	Status     SubmitStatus
	Validation validation.Result
	// FormError carries the message recorded for a transform/handler
	// rejection or a handler-returned form error.
	FormError string
}

// ErrSubmitInProgress is returned when Submit is called while a previous
// attempt is still validating or submitting. Retries are caller-initiated by
// resubmitting once the machine is idle again.
var ErrSubmitInProgress = errors.New("runtime: submission already in progress")

// Submit drives the submission machine: validate, transform, invoke the
// handler, reintegrate its errors, and run the outcome effects sequentially
// before reporting back.
func (r *Runtime) Submit(ctx context.Context, handler SubmitHandler) (SubmitOutcome, error) {
	if handler == nil {
		return SubmitOutcome{}, errors.New("runtime: submit handler is required")
	}

	r.mu.Lock()
	if err := r.mutableLocked(); err != nil {
		r.mu.Unlock()
		return SubmitOutcome{}, err
	}
	if r.subState != StateIdle {
		r.mu.Unlock()
		return SubmitOutcome{}, ErrSubmitInProgress
	}
	r.subState = StateValidating
	r.submitMsgs = nil
	wait := r.def.Options.SubmitWaits()
	snapshot := r.values.Clone()
	if wait {
		// Anything still in flight is superseded; the fresh full run below
		// is the verdict.
		for i := range r.def.Fields {
			r.bumpLocked(r.def.Fields[i].Name, purposeValidation)
		}
	}
	r.mu.Unlock()

	var res validation.Result
	var err error
	if wait {
		res, err = validation.EvaluateAll(ctx, r.def, snapshot)
		if err != nil {
			return r.finish(ctx, SubmitOutcome{
				Status:    SubmitFailed,
				FormError: fmt.Sprintf("validation could not complete: %v", err),
			}, true)
		}
		// The full run re-executes declared rules only. Externally injected
		// entries (effects, a prior handler's field errors) persist until
		// cleared and must block here just as they do on the settled path.
		res = r.withManual(res)
	} else {
		res = r.settledResult(snapshot)
	}

	r.applyResult(res, wait)

	if !res.Valid() {
		r.mu.Lock()
		r.subState = StateIdle
		r.mu.Unlock()
		return SubmitOutcome{Status: SubmitInvalid, Validation: res}, nil
	}

	r.mu.Lock()
	r.subState = StateSubmitting
	r.mu.Unlock()

	payload := any(snapshot)
	if r.def.Transform != nil {
		payload, err = r.def.Transform(snapshot)
		if err != nil {
			return r.finish(ctx, SubmitOutcome{
				Status:     SubmitFailed,
				Validation: res,
				FormError:  fmt.Sprintf("transform failed: %v", err),
			}, true)
		}
	}

	handlerRes, err := handler(ctx, payload)
	if err != nil {
		return r.finish(ctx, SubmitOutcome{
			Status:     SubmitFailed,
			Validation: res,
			FormError:  fmt.Sprintf("submit failed: %v", err),
		}, true)
	}

	if handlerRes != nil {
		r.mergeSubmitResult(handlerRes)
		// The machine moves to failed only when field errors are present; a
		// form-level message alone is merged but does not fail the attempt.
		if len(handlerRes.FieldErrors) > 0 {
			return r.finish(ctx, SubmitOutcome{
				Status:     SubmitFailed,
				Validation: res,
				FormError:  handlerRes.FormError,
			}, true)
		}
	}

	return r.finish(ctx, SubmitOutcome{Status: SubmitSuccess, Validation: res}, false)
}

// SubmissionState returns the machine's current coarse state.
func (r *Runtime) SubmissionState() SubmissionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subState
}

// settledResult decides validity from settled results only: the sync tiers
// are evaluated fresh, async tiers reuse their last settled outcome, and a
// field with a pending check and no settled outcome passes for this attempt.
func (r *Runtime) settledResult(snapshot form.Values) validation.Result {
	res := validation.Evaluate(r.def, snapshot)
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, meta := range r.meta {
		if len(meta.asyncEntries) == 0 && len(meta.manual) == 0 {
			continue
		}
		fr := res.Fields[name]
		entries := append(fr.Entries, meta.asyncEntries...)
		entries = append(entries, meta.manual...)
		res.Fields[name] = validation.Merge(entries)
	}
	return res
}

// withManual folds externally injected entries into a pipeline verdict.
func (r *Runtime) withManual(res validation.Result) validation.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, meta := range r.meta {
		if len(meta.manual) == 0 {
			continue
		}
		fr := res.Fields[name]
		res.Fields[name] = validation.Merge(append(fr.Entries, meta.manual...))
	}
	return res
}

// applyResult writes a pipeline verdict back into field metadata. A full run
// replaces the async tier; a settled-only run leaves it as is.
func (r *Runtime) applyResult(res validation.Result, full bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, meta := range r.meta {
		fr, ok := res.Fields[name]
		var fieldEntries, asyncEntries, formEntries []validation.Entry
		if ok {
			for _, e := range fr.Entries {
				switch e.Tier {
				case validation.TierRequired, validation.TierFieldSync:
					fieldEntries = append(fieldEntries, e)
				case validation.TierFieldAsync:
					asyncEntries = append(asyncEntries, e)
				case validation.TierFormSync, validation.TierFormAsync:
					formEntries = append(formEntries, e)
				}
			}
		}
		meta.fieldEntries = fieldEntries
		meta.formEntries = formEntries
		if full {
			meta.asyncEntries = asyncEntries
		}
		r.mergeFieldLocked(name)
	}
	r.formMsgs = res.Form
}

// mergeSubmitResult folds handler-returned errors into the store exactly as
// validator output, without re-running field validators. Messages cross a
// trust boundary and are sanitized.
func (r *Runtime) mergeSubmitResult(sr *SubmitResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, msg := range sr.FieldErrors {
		meta, ok := r.meta[name]
		if !ok || msg == "" {
			continue
		}
		meta.manual = []validation.Entry{{
			Field:   name,
			RuleID:  "submit",
			Level:   form.LevelError,
			Message: r.sanitize.Sanitize(msg),
			Tier:    validation.TierExternal,
		}}
		r.mergeFieldLocked(name)
	}
	if sr.FormError != "" {
		r.submitMsgs = append(r.submitMsgs, validation.Entry{
			RuleID:  "submit",
			Level:   form.LevelError,
			Message: r.sanitize.Sanitize(sr.FormError),
			Tier:    validation.TierExternal,
		})
	}
}

// finish records a form-level error when present, runs the matching outcome
// effects sequentially, and returns the machine to idle. The outcome is
// reported only after the last effect settles.
func (r *Runtime) finish(ctx context.Context, outcome SubmitOutcome, failed bool) (SubmitOutcome, error) {
	if failed && outcome.FormError != "" {
		r.mu.Lock()
		already := false
		for _, e := range r.submitMsgs {
			if e.Message == outcome.FormError {
				already = true
				break
			}
		}
		if !already {
			r.submitMsgs = append(r.submitMsgs, validation.Entry{
				RuleID:  "submit",
				Level:   form.LevelError,
				Message: r.sanitize.Sanitize(outcome.FormError),
				Tier:    validation.TierExternal,
			})
		}
		r.mu.Unlock()
	}

	effects := r.def.Effects.OnSubmitSuccess
	if failed {
		effects = r.def.Effects.OnSubmitError
	}
	var effectErr error
	for _, eff := range effects {
		if eff == nil {
			continue
		}
		if err := eff(ctx, r.api("", 0)); err != nil {
			effectErr = fmt.Errorf("runtime: submit effect: %w", err)
			break
		}
	}

	r.mu.Lock()
	r.subState = StateIdle
	r.mu.Unlock()
	return outcome, effectErr
}
