package widget

import (
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-formstate/pkg/form"
)

// Built-in widget identifiers exposed by the registry.
const (
	WidgetText   = "text"
	WidgetToggle = "toggle"
	WidgetSelect = "select"
	WidgetNumber = "number"
)

// Matcher decides whether a widget should handle the supplied field.
type Matcher func(field form.Field) bool

type rule struct {
	name     string
	priority int
	match    Matcher
	order    int
}

// Registry selects a widget for fields that did not pin one explicitly.
// Higher priority wins; ties fall back to registration order. An empty
// registry never resolves a widget.
type Registry struct {
	mu    sync.RWMutex
	rules []rule
}

// NewRegistry constructs a registry with the built-in matchers registered.
func NewRegistry() *Registry {
	reg := &Registry{}
	reg.registerBuiltins()
	return reg
}

// Register adds a matcher with the provided name and priority. Higher
// priority values take precedence.
func (r *Registry) Register(name string, priority int, matcher Matcher) {
	if r == nil || matcher == nil {
		return
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{
		name:     trimmed,
		priority: priority,
		match:    matcher,
		order:    len(r.rules),
	})
}

// Resolve returns the widget name for a field. An explicit declaration on
// the field is honoured before matcher evaluation.
func (r *Registry) Resolve(field form.Field) (string, bool) {
	if explicit := strings.TrimSpace(field.Widget); explicit != "" {
		return explicit, true
	}
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	rules := append([]rule(nil), r.rules...)
	r.mu.RUnlock()
	if len(rules) == 0 {
		return "", false
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].priority == rules[j].priority {
			return rules[i].order < rules[j].order
		}
		return rules[i].priority > rules[j].priority
	})
	for _, entry := range rules {
		if entry.match(field) {
			return entry.name, true
		}
	}
	return "", false
}

// Decorate fills the Widget reference of every field that lacks one.
func (r *Registry) Decorate(def *form.Definition) {
	if r == nil || def == nil {
		return
	}
	for i := range def.Fields {
		if def.Fields[i].Widget != "" {
			continue
		}
		if name, ok := r.Resolve(def.Fields[i]); ok {
			def.Fields[i].Widget = name
		}
	}
}

func (r *Registry) registerBuiltins() {
	r.Register(WidgetToggle, 90, func(field form.Field) bool {
		_, ok := field.Props["toggle"]
		return ok
	})
	r.Register(WidgetSelect, 70, func(field form.Field) bool {
		if _, ok := field.Props["options"]; ok {
			return true
		}
		// A props source conventionally feeds option lists.
		return field.Source != nil
	})
	r.Register(WidgetNumber, 50, func(field form.Field) bool {
		_, ok := field.Props["step"]
		return ok
	})
	r.Register(WidgetText, 0, func(form.Field) bool {
		return true
	})
}
