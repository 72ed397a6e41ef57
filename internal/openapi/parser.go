// Package openapi builds form definitions from OpenAPI 3 documents. The
// request body schema of a write operation becomes the field list; schema
// constraints become synchronous validation rules. Reactive behaviour (derive
// functions, async rules, effects) cannot be expressed in a document and is
// attached in code afterwards.
package openapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/rules"
	"github.com/goliatone/go-formstate/pkg/schema"
	"github.com/goliatone/go-formstate/pkg/widget"
)

// extensionNamespace holds the vendor extension object recognised on property
// schemas: {"widget": "...", "dependsOn": [...]}.
const extensionNamespace = "x-formstate"

// Options configures document parsing.
type Options struct {
	// OperationID pins parsing to a specific operation. Required when the
	// document contains more than one operation with a request body.
	OperationID string

	// FormID overrides the derived definition id (operationId by default).
	FormID string
}

// Option mutates Options prior to parsing.
type Option func(*Options)

// WithOperationID selects the operation whose request body defines the form.
func WithOperationID(id string) Option {
	return func(opts *Options) {
		opts.OperationID = id
	}
}

// WithFormID overrides the definition id derived from the operation.
func WithFormID(id string) Option {
	return func(opts *Options) {
		opts.FormID = id
	}
}

// Definition parses an OpenAPI document and builds a form definition from the
// request body schema of the selected operation. Field order is alphabetical
// by property name so repeated parses of the same document agree.
func Definition(ctx context.Context, doc schema.Document, options ...Option) (form.Definition, error) {
	var opts Options
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}

	if err := ctx.Err(); err != nil {
		return form.Definition{}, err
	}
	if len(doc.Raw) == 0 {
		return form.Definition{}, errors.New("openapi: document payload is empty")
	}

	loader := &openapi3.Loader{Context: ctx}
	spec, err := loader.LoadFromData(doc.Raw)
	if err != nil {
		return form.Definition{}, fmt.Errorf("openapi: load document: %w", err)
	}

	opID, body, err := selectOperation(spec, opts.OperationID)
	if err != nil {
		return form.Definition{}, err
	}

	obj, err := requestSchema(body)
	if err != nil {
		return form.Definition{}, fmt.Errorf("openapi: operation %s: %w", opID, err)
	}

	required := make(map[string]bool, len(obj.Required))
	for _, name := range obj.Required {
		required[name] = true
	}

	names := make([]string, 0, len(obj.Properties))
	for name := range obj.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	def := form.Definition{ID: opts.FormID}
	if def.ID == "" {
		def.ID = opID
	}

	defaults := form.Values{}
	for _, name := range names {
		ref := obj.Properties[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		prop := ref.Value
		if prop.ReadOnly {
			continue
		}

		field, err := buildField(name, prop, required[name])
		if err != nil {
			return form.Definition{}, fmt.Errorf("openapi: field %s: %w", name, err)
		}
		def.Fields = append(def.Fields, field)

		if prop.Default != nil {
			defaults[name] = prop.Default
		}
	}
	if len(def.Fields) == 0 {
		return form.Definition{}, fmt.Errorf("openapi: operation %s: request schema has no writable properties", opID)
	}
	if len(defaults) > 0 {
		def.Defaults = form.DefaultsSource{Static: defaults}
	}

	if err := def.Validate(); err != nil {
		return form.Definition{}, err
	}
	return def, nil
}

// selectOperation finds the operation whose request body defines the form.
// Paths and methods are walked in a fixed order so ambiguity errors repeat.
func selectOperation(spec *openapi3.T, wanted string) (string, *openapi3.RequestBodyRef, error) {
	if spec.Paths == nil || spec.Paths.Len() == 0 {
		return "", nil, errors.New("openapi: document does not contain any paths")
	}

	byPath := spec.Paths.Map()
	paths := make([]string, 0, len(byPath))
	for path := range byPath {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	type candidate struct {
		id   string
		body *openapi3.RequestBodyRef
	}
	var found []candidate
	for _, path := range paths {
		item := byPath[path]
		if item == nil {
			continue
		}
		for _, entry := range []struct {
			method string
			op     *openapi3.Operation
		}{
			{"POST", item.Post},
			{"PUT", item.Put},
			{"PATCH", item.Patch},
		} {
			if entry.op == nil || entry.op.RequestBody == nil {
				continue
			}
			id := entry.op.OperationID
			if id == "" {
				id = strings.ToLower(entry.method) + ":" + path
			}
			if wanted != "" {
				if id == wanted {
					return id, entry.op.RequestBody, nil
				}
				continue
			}
			found = append(found, candidate{id: id, body: entry.op.RequestBody})
		}
	}

	switch {
	case wanted != "":
		return "", nil, fmt.Errorf("openapi: operation %q not found", wanted)
	case len(found) == 0:
		return "", nil, errors.New("openapi: no operation with a request body")
	case len(found) > 1:
		ids := make([]string, len(found))
		for i, c := range found {
			ids[i] = c.id
		}
		return "", nil, fmt.Errorf("openapi: multiple candidate operations (%s); select one explicitly", strings.Join(ids, ", "))
	}
	return found[0].id, found[0].body, nil
}

func requestSchema(body *openapi3.RequestBodyRef) (*openapi3.Schema, error) {
	if body.Value == nil {
		return nil, errors.New("request body reference is unresolved")
	}
	content := body.Value.Content
	var ref *openapi3.SchemaRef
	for _, mediaType := range []string{"application/json", "application/x-www-form-urlencoded", "multipart/form-data"} {
		if mt, ok := content[mediaType]; ok {
			ref = mt.Schema
			break
		}
	}
	if ref == nil {
		for _, mt := range content {
			ref = mt.Schema
			break
		}
	}
	if ref == nil || ref.Value == nil {
		return nil, errors.New("request body has no schema")
	}
	if typ := schemaType(ref.Value); typ != "" && typ != "object" {
		return nil, fmt.Errorf("request schema must be an object, got %s", typ)
	}
	if len(ref.Value.Properties) == 0 {
		return nil, errors.New("request schema has no properties")
	}
	return ref.Value, nil
}

func buildField(name string, prop *openapi3.Schema, required bool) (form.Field, error) {
	field := form.Field{
		Name:     name,
		Widget:   widgetFor(prop),
		Required: required,
		Rules:    constraintRules(prop),
	}

	props := map[string]any{}
	if prop.Title != "" {
		props["label"] = prop.Title
	}
	if prop.Description != "" {
		props["help"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		props["options"] = append([]any(nil), prop.Enum...)
	}
	if len(props) > 0 {
		field.Props = props
	}

	if err := applyExtensions(&field, prop.Extensions); err != nil {
		return form.Field{}, err
	}
	return field, nil
}

func widgetFor(prop *openapi3.Schema) string {
	if len(prop.Enum) > 0 {
		return widget.WidgetSelect
	}
	switch schemaType(prop) {
	case "boolean":
		return widget.WidgetToggle
	case "integer", "number":
		return widget.WidgetNumber
	default:
		return widget.WidgetText
	}
}

func constraintRules(prop *openapi3.Schema) []form.Rule {
	var out []form.Rule
	if prop.Min != nil {
		out = append(out, rules.Min(*prop.Min))
	}
	if prop.Max != nil {
		out = append(out, rules.Max(*prop.Max))
	}
	if prop.MinLength != 0 {
		out = append(out, rules.MinLength(int(prop.MinLength)))
	}
	if prop.MaxLength != nil {
		out = append(out, rules.MaxLength(int(*prop.MaxLength)))
	}
	if prop.Pattern != "" {
		out = append(out, rules.Pattern(prop.Pattern))
	}
	if len(prop.Enum) > 0 {
		out = append(out, rules.OneOf(append([]any(nil), prop.Enum...)...))
	}
	switch prop.Format {
	case "email":
		out = append(out, rules.Tag("email"))
	case "uri", "url":
		out = append(out, rules.Tag("url"))
	case "uuid":
		out = append(out, rules.Tag("uuid4"))
	}
	return out
}

// applyExtensions folds the x-formstate vendor object into the field. Only
// the widget override and the dependency list are recognised; anything else
// in the object is a configuration mistake worth failing loudly on.
func applyExtensions(field *form.Field, extensions map[string]any) error {
	raw, ok := extensions[extensionNamespace]
	if !ok {
		return nil
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%s must be an object, found %T", extensionNamespace, raw)
	}

	keys := make([]string, 0, len(obj))
	for key := range obj {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := obj[key]
		switch key {
		case "widget":
			name, ok := value.(string)
			if !ok || name == "" {
				return fmt.Errorf("%s.widget must be a non-empty string", extensionNamespace)
			}
			field.Widget = name
		case "dependsOn":
			list, ok := value.([]any)
			if !ok {
				return fmt.Errorf("%s.dependsOn must be an array of field names", extensionNamespace)
			}
			for _, entry := range list {
				name, ok := entry.(string)
				if !ok || name == "" {
					return fmt.Errorf("%s.dependsOn entries must be non-empty strings", extensionNamespace)
				}
				field.DependsOn = append(field.DependsOn, name)
			}
		default:
			return fmt.Errorf("unsupported %s key %q", extensionNamespace, key)
		}
	}
	return nil
}

func schemaType(prop *openapi3.Schema) string {
	if prop.Type == nil {
		return ""
	}
	values := prop.Type.Slice()
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
