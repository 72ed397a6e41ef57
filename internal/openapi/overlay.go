package openapi

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/schema"
)

// Overlay carries presentation tweaks that do not belong in the OpenAPI
// document: widget overrides, labels, help texts, and extra widget props.
// Overlay files are YAML (JSON parses as a subset).
type Overlay struct {
	Fields map[string]FieldOverlay `yaml:"fields"`
}

// FieldOverlay adjusts a single field built from the document.
type FieldOverlay struct {
	Widget string         `yaml:"widget"`
	Label  string         `yaml:"label"`
	Help   string         `yaml:"help"`
	Props  map[string]any `yaml:"props"`
}

// ParseOverlay decodes an overlay document.
func ParseOverlay(doc schema.Document) (Overlay, error) {
	var overlay Overlay
	if err := yaml.Unmarshal(doc.Raw, &overlay); err != nil {
		return Overlay{}, fmt.Errorf("openapi: parse overlay %s: %w", doc.Location, err)
	}
	return overlay, nil
}

// Apply folds the overlay into the definition. Referencing a field the
// definition does not declare is an error; a stale overlay should fail a
// build, not silently stop applying.
func (o Overlay) Apply(def *form.Definition) error {
	if len(o.Fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(o.Fields))
	for name := range o.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field, ok := fieldRef(def, name)
		if !ok {
			return fmt.Errorf("openapi: overlay references unknown field %q", name)
		}
		entry := o.Fields[name]

		if entry.Widget != "" {
			field.Widget = entry.Widget
		}
		if field.Props == nil && (entry.Label != "" || entry.Help != "" || len(entry.Props) > 0) {
			field.Props = map[string]any{}
		}
		if entry.Label != "" {
			field.Props["label"] = entry.Label
		}
		if entry.Help != "" {
			field.Props["help"] = entry.Help
		}
		for key, value := range entry.Props {
			field.Props[key] = value
		}
	}
	return nil
}

func fieldRef(def *form.Definition, name string) (*form.Field, bool) {
	for i := range def.Fields {
		if def.Fields[i].Name == name {
			return &def.Fields[i], true
		}
	}
	return nil, false
}
