// Package formstate is the top-level entry point for the reactive form
// engine. Definitions describe fields, dependencies, validation, and effects;
// the runtime owns the live state of one mounted form. This package re-exports
// the common types and wires the OpenAPI import path together.
package formstate

import (
	"context"

	"github.com/goliatone/go-formstate/internal/openapi"
	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/runtime"
	"github.com/goliatone/go-formstate/pkg/schema"
)

// Definition describes a form: its fields, rules, effects, and defaults.
type Definition = form.Definition

// Field declares one form field.
type Field = form.Field

// Values is an immutable snapshot of field values.
type Values = form.Values

// Runtime owns the live state of a mounted form.
type Runtime = runtime.Runtime

// SubmitHandler receives the transformed payload on submission.
type SubmitHandler = runtime.SubmitHandler

// New constructs an unmounted runtime for the definition.
func New(def *form.Definition, options ...runtime.Option) (*runtime.Runtime, error) {
	return runtime.New(def, options...)
}

// Open constructs a runtime and mounts it with the supplied initial context.
// The runtime is closed again when mounting fails.
func Open(ctx context.Context, def *form.Definition, initial any, options ...runtime.Option) (*runtime.Runtime, error) {
	rt, err := runtime.New(def, options...)
	if err != nil {
		return nil, err
	}
	if err := rt.Mount(ctx, initial); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

// LoadDefinition loads an OpenAPI document from source and builds a form
// definition from it. operationID selects the operation whose request body
// defines the form; it may be empty when the document has exactly one
// operation with a request body. The structural definition that comes back
// carries fields, required flags, and constraint rules; reactive behaviour
// (derive functions, async rules, effects) is attached in code afterwards.
func LoadDefinition(ctx context.Context, source schema.Source, operationID string, loaderOptions ...schema.LoaderOption) (form.Definition, error) {
	loader := schema.NewLoader(loaderOptions...)
	doc, err := loader.Load(ctx, source)
	if err != nil {
		return form.Definition{}, err
	}

	var opts []openapi.Option
	if operationID != "" {
		opts = append(opts, openapi.WithOperationID(operationID))
	}
	return openapi.Definition(ctx, doc, opts...)
}

// LoadOverlay loads a YAML overlay document and applies it to the definition.
func LoadOverlay(ctx context.Context, def *form.Definition, source schema.Source, loaderOptions ...schema.LoaderOption) error {
	loader := schema.NewLoader(loaderOptions...)
	doc, err := loader.Load(ctx, source)
	if err != nil {
		return err
	}
	overlay, err := openapi.ParseOverlay(doc)
	if err != nil {
		return err
	}
	return overlay.Apply(def)
}
