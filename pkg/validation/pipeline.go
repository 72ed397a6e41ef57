// Package validation evaluates field and form level rules against a value
// snapshot and merges their outcomes by priority tier. The pipeline is pure:
// it never mutates runtime state, so the engine can run it synchronously on
// every change and in full (async tiers included) on submission.
package validation

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-formstate/pkg/form"
)

// Tier orders candidate entries. Lower tiers win when picking the blocking
// entry for a field.
type Tier int

const (
	// TierRequired is the emptiness check derived from the required flags.
	TierRequired Tier = iota + 1
	// TierFieldSync covers the field's own synchronous rules.
	TierFieldSync
	// TierFieldAsync covers the field's asynchronous rules.
	TierFieldAsync
	// TierFormSync covers form-level synchronous rules naming the field.
	TierFormSync
	// TierFormAsync covers form-level asynchronous rules naming the field.
	TierFormAsync
	// TierExternal covers entries injected from outside the pipeline: effect
	// API errors and submit handler results. They rank below declared rules.
	TierExternal
)

// Entry is a single validation outcome as data; outcomes are never raised as
// Go errors.
type Entry struct {
	Field   string
	RuleID  string
	Level   form.Level
	Message string
	Tier    Tier
	// Seq preserves declaration order inside a tier.
	Seq int
}

// FieldResult aggregates a field's entries and the blocking entry, if any.
type FieldResult struct {
	Entries  []Entry
	Blocking *Entry
}

// Notices returns the non-blocking entries (warnings, infos, and any
// error-level entries shadowed by the blocking one).
func (r FieldResult) Notices() []Entry {
	if r.Blocking == nil {
		return r.Entries
	}
	out := make([]Entry, 0, len(r.Entries))
	for _, e := range r.Entries {
		if e == *r.Blocking {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Result is the outcome of a pipeline run.
type Result struct {
	Fields map[string]FieldResult
	// Form carries form-wide messages not tied to any field.
	Form []Entry
}

// Valid reports whether the result blocks submission: no field has a blocking
// entry and no form-wide message is error-level.
func (r Result) Valid() bool {
	for _, fr := range r.Fields {
		if fr.Blocking != nil {
			return false
		}
	}
	for _, e := range r.Form {
		if e.Level == form.LevelError {
			return false
		}
	}
	return true
}

// Evaluate runs the synchronous tiers (required, field sync rules, form sync
// rules) against the snapshot.
func Evaluate(def *form.Definition, values form.Values) Result {
	entries := collectSync(def, values)
	fieldEntries, formWide := formSync(def, values)
	return build(append(entries, fieldEntries...), formWide)
}

// EvaluateAll runs every tier including async rules, evaluating async rules
// in parallel and merging their settled results in declaration order. Used by
// submission when it must wait for a complete verdict. Rule errors (a check
// that could not run) are returned as-is; validation outcomes are data.
func EvaluateAll(ctx context.Context, def *form.Definition, values form.Values) (Result, error) {
	entries := collectSync(def, values)
	fieldEntries, formEntries := formSync(def, values)
	entries = append(entries, fieldEntries...)

	type slot struct {
		entry Entry
		ok    bool
	}

	grp, gctx := errgroup.WithContext(ctx)
	var slots []*slot
	addAsync := func(fieldName string, seq int, rule form.AsyncRule, value any) {
		s := &slot{}
		slots = append(slots, s)
		grp.Go(func() error {
			msg, err := rule.Check(gctx, value, values)
			if err != nil {
				return err
			}
			if msg == "" {
				return nil
			}
			s.entry = Entry{
				Field:   fieldName,
				RuleID:  rule.ID,
				Level:   levelOrDefault(rule.Level),
				Message: msg,
				Tier:    TierFieldAsync,
				Seq:     seq,
			}
			s.ok = true
			return nil
		})
	}

	for i := range def.Fields {
		f := &def.Fields[i]
		value := values[f.Name]
		for seq, rule := range ActiveAsyncRules(f, values) {
			addAsync(f.Name, seq, rule, value)
		}
	}

	type formSlot struct {
		entries []Entry
		form    []Entry
	}
	var formSlots []*formSlot
	for seq, rule := range activeAsyncFormRules(def, values) {
		rule := rule
		seq := seq
		s := &formSlot{}
		formSlots = append(formSlots, s)
		grp.Go(func() error {
			res, err := rule.Check(gctx, values)
			if err != nil {
				return err
			}
			s.entries, s.form = formRuleEntries(rule.ID, rule.Fields, levelOrDefault(rule.Level), res, TierFormAsync, seq)
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return Result{}, err
	}

	for _, s := range slots {
		if s.ok {
			entries = append(entries, s.entry)
		}
	}
	for _, s := range formSlots {
		entries = append(entries, s.entries...)
		formEntries = append(formEntries, s.form...)
	}
	return build(entries, formEntries), nil
}

// EvaluateField runs the synchronous field tiers (required + sync rules) for
// a single field. The runtime uses it during propagation.
func EvaluateField(f *form.Field, values form.Values) []Entry {
	var entries []Entry
	if required(f, values) && form.IsEmpty(values[f.Name]) {
		entries = append(entries, Entry{
			Field:   f.Name,
			RuleID:  "required",
			Level:   form.LevelError,
			Message: requiredMessage,
			Tier:    TierRequired,
		})
	}
	value := values[f.Name]
	for seq, rule := range f.Rules {
		if !gateOpen(rule.When, values) {
			continue
		}
		if msg := rule.Check(value, values); msg != "" {
			entries = append(entries, Entry{
				Field:   f.Name,
				RuleID:  rule.ID,
				Level:   levelOrDefault(rule.Level),
				Message: msg,
				Tier:    TierFieldSync,
				Seq:     seq,
			})
		}
	}
	return entries
}

// ActiveAsyncRules returns the field's async rules whose gates hold for the
// snapshot, in declaration order.
func ActiveAsyncRules(f *form.Field, values form.Values) []form.AsyncRule {
	var active []form.AsyncRule
	for _, rule := range f.AsyncRules {
		if gateOpen(rule.When, values) {
			active = append(active, rule)
		}
	}
	return active
}

// Merge recomputes a field's result from entries gathered across runs. The
// blocking entry is the first error-level entry scanning tiers in order and
// declaration order within a tier.
func Merge(entries []Entry) FieldResult {
	if len(entries) == 0 {
		return FieldResult{}
	}
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Tier != ordered[j].Tier {
			return ordered[i].Tier < ordered[j].Tier
		}
		return ordered[i].Seq < ordered[j].Seq
	})
	res := FieldResult{Entries: ordered}
	for i := range ordered {
		if ordered[i].Level == form.LevelError {
			res.Blocking = &ordered[i]
			break
		}
	}
	return res
}

const requiredMessage = "this field is required"

func collectSync(def *form.Definition, values form.Values) []Entry {
	var entries []Entry
	for i := range def.Fields {
		entries = append(entries, EvaluateField(&def.Fields[i], values)...)
	}
	return entries
}

func formSync(def *form.Definition, values form.Values) (fieldEntries, formWide []Entry) {
	for seq, rule := range def.FormRules {
		if !gateOpen(rule.When, values) {
			continue
		}
		res := rule.Check(values)
		e, fw := formRuleEntries(rule.ID, rule.Fields, levelOrDefault(rule.Level), res, TierFormSync, seq)
		fieldEntries = append(fieldEntries, e...)
		formWide = append(formWide, fw...)
	}
	return fieldEntries, formWide
}

func build(entries, formEntries []Entry) Result {
	res := Result{Fields: make(map[string]FieldResult)}
	byField := make(map[string][]Entry)
	for _, e := range entries {
		byField[e.Field] = append(byField[e.Field], e)
	}
	for name, list := range byField {
		res.Fields[name] = Merge(list)
	}
	res.Form = formEntries
	return res
}

func required(f *form.Field, values form.Values) bool {
	if f.RequiredWhen != nil {
		return f.Required || f.RequiredWhen(values)
	}
	return f.Required
}

func gateOpen(when form.Predicate, values form.Values) bool {
	return when == nil || when(values)
}

func levelOrDefault(level form.Level) form.Level {
	if level == "" {
		return form.LevelError
	}
	return level
}

func formRuleEntries(id string, fields []string, level form.Level, res form.FormResult, tier Tier, seq int) (entries []Entry, formWide []Entry) {
	named := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		named[f] = struct{}{}
	}
	for fieldName, msg := range res.FieldMessages {
		if msg == "" {
			continue
		}
		if _, ok := named[fieldName]; !ok {
			continue
		}
		entries = append(entries, Entry{
			Field:   fieldName,
			RuleID:  id,
			Level:   level,
			Message: msg,
			Tier:    tier,
			Seq:     seq,
		})
	}
	if res.Message != "" {
		formWide = append(formWide, Entry{
			RuleID:  id,
			Level:   level,
			Message: res.Message,
			Tier:    tier,
			Seq:     seq,
		})
	}
	return entries, formWide
}

func activeAsyncFormRules(def *form.Definition, values form.Values) []form.AsyncFormRule {
	var active []form.AsyncFormRule
	for _, rule := range def.AsyncFormRules {
		if gateOpen(rule.When, values) {
			active = append(active, rule)
		}
	}
	return active
}
