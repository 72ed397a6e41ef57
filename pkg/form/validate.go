package form

import (
	"errors"
	"fmt"

	"github.com/goliatone/go-formstate/internal/graph"
)

var (
	errDefinitionIDMissing = errors.New("form: definition id is required")
	errNoFields            = errors.New("form: at least one field is required")
)

// Validate checks the definition for configuration errors: missing or
// duplicate field names, dangling DependsOn references, and dependency
// cycles. These are fatal at load time; a runtime is never constructed from
// an invalid definition.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errDefinitionIDMissing
	}
	if len(d.Fields) == 0 {
		return errNoFields
	}

	seen := make(map[string]struct{}, len(d.Fields))
	for i := range d.Fields {
		name := d.Fields[i].Name
		if name == "" {
			return fmt.Errorf("form: field %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("form: duplicate field %q", name)
		}
		seen[name] = struct{}{}
	}

	for i := range d.Fields {
		f := &d.Fields[i]
		for _, dep := range f.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("form: field %q depends on undeclared field %q", f.Name, dep)
			}
		}
		if err := validateField(f); err != nil {
			return err
		}
	}

	if _, err := d.Graph(); err != nil {
		return err
	}
	return nil
}

// Graph builds the dependency graph for the definition, failing on cycles.
func (d *Definition) Graph() (*graph.Graph, error) {
	order := d.FieldNames()
	edges := make(map[string][]string, len(d.Fields))
	for i := range d.Fields {
		f := &d.Fields[i]
		edges[f.Name] = f.DependsOn
	}
	g, err := graph.New(order, edges)
	if err != nil {
		return nil, fmt.Errorf("form: %w", err)
	}
	return g, nil
}

func validateField(f *Field) error {
	if f.Derive != nil && f.Derive.Func == nil && f.Derive.AsyncFunc == nil {
		return fmt.Errorf("form: field %q declares a derive with no function", f.Name)
	}
	if f.Derive != nil && f.Derive.Func != nil && f.Derive.AsyncFunc != nil {
		return fmt.Errorf("form: field %q declares both sync and async derive", f.Name)
	}
	if f.Source != nil && f.Source.Func == nil && f.Source.AsyncFunc == nil {
		return fmt.Errorf("form: field %q declares a props source with no function", f.Name)
	}
	ruleIDs := make(map[string]struct{}, len(f.Rules)+len(f.AsyncRules))
	for _, r := range f.Rules {
		if r.Check == nil {
			return fmt.Errorf("form: field %q rule %q has no check", f.Name, r.ID)
		}
		if r.ID != "" {
			if _, dup := ruleIDs[r.ID]; dup {
				return fmt.Errorf("form: field %q has duplicate rule id %q", f.Name, r.ID)
			}
			ruleIDs[r.ID] = struct{}{}
		}
	}
	for _, r := range f.AsyncRules {
		if r.Check == nil {
			return fmt.Errorf("form: field %q async rule %q has no check", f.Name, r.ID)
		}
		if r.ID == "" {
			return fmt.Errorf("form: field %q has an async rule without an id", f.Name)
		}
		if _, dup := ruleIDs[r.ID]; dup {
			return fmt.Errorf("form: field %q has duplicate rule id %q", f.Name, r.ID)
		}
		ruleIDs[r.ID] = struct{}{}
	}
	return nil
}
