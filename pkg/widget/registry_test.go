package widget

import (
	"testing"

	"github.com/goliatone/go-formstate/pkg/form"
)

func TestResolveHonoursExplicitWidget(t *testing.T) {
	reg := NewRegistry()
	name, ok := reg.Resolve(form.Field{Name: "bio", Widget: "markdown"})
	if !ok || name != "markdown" {
		t.Fatalf("unexpected resolution %q %v", name, ok)
	}
}

func TestResolveBuiltins(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		name  string
		field form.Field
		want  string
	}{
		{"toggle by props", form.Field{Name: "active", Props: map[string]any{"toggle": true}}, WidgetToggle},
		{"select by options", form.Field{Name: "plan", Props: map[string]any{"options": []string{"a"}}}, WidgetSelect},
		{"select by props source", form.Field{Name: "state", Source: &form.PropsSource{}}, WidgetSelect},
		{"number by step", form.Field{Name: "qty", Props: map[string]any{"step": 1}}, WidgetNumber},
		{"text fallback", form.Field{Name: "bio"}, WidgetText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := reg.Resolve(tc.field)
			if !ok || got != tc.want {
				t.Fatalf("resolved %q %v, want %q", got, ok, tc.want)
			}
		})
	}
}

func TestRegisterPriorityWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register("currency", 100, func(field form.Field) bool {
		_, ok := field.Props["currency"]
		return ok
	})

	got, ok := reg.Resolve(form.Field{Name: "price", Props: map[string]any{"currency": "EUR", "step": 0.01}})
	if !ok || got != "currency" {
		t.Fatalf("resolved %q %v, want currency", got, ok)
	}
}

func TestDecorateFillsMissingWidgets(t *testing.T) {
	reg := NewRegistry()
	def := &form.Definition{
		ID: "checkout",
		Fields: []form.Field{
			{Name: "note", Widget: "textarea"},
			{Name: "qty", Props: map[string]any{"step": 1}},
		},
	}
	reg.Decorate(def)

	if def.Fields[0].Widget != "textarea" {
		t.Fatalf("explicit widget overwritten: %q", def.Fields[0].Widget)
	}
	if def.Fields[1].Widget != WidgetNumber {
		t.Fatalf("unexpected widget %q", def.Fields[1].Widget)
	}
}

func TestEmptyRegistryResolvesNothing(t *testing.T) {
	var reg Registry
	if _, ok := reg.Resolve(form.Field{Name: "bio"}); ok {
		t.Fatal("empty registry should not resolve")
	}
}
