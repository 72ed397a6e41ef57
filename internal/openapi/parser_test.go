package openapi

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/schema"
)

const orderDocument = `
openapi: 3.0.0
info:
  title: Orders
  version: 1.0.0
paths:
  /orders:
    post:
      operationId: orders.create
      requestBody:
        content:
          application/json:
            schema:
              type: object
              required: [email, qty]
              properties:
                id:
                  type: string
                  readOnly: true
                email:
                  type: string
                  format: email
                  title: Email address
                qty:
                  type: integer
                  minimum: 1
                  maximum: 10
                  default: 1
                plan:
                  type: string
                  enum: [basic, pro]
                active:
                  type: boolean
                  default: true
                country:
                  type: string
                state:
                  type: string
                  x-formstate:
                    widget: select
                    dependsOn: [country]
      responses:
        "201":
          description: created
`

type fieldShape struct {
	Name      string
	Widget    string
	Required  bool
	DependsOn []string
	RuleIDs   []string
	Props     map[string]any
}

func shapes(def form.Definition) []fieldShape {
	out := make([]fieldShape, 0, len(def.Fields))
	for _, f := range def.Fields {
		shape := fieldShape{
			Name:      f.Name,
			Widget:    f.Widget,
			Required:  f.Required,
			DependsOn: f.DependsOn,
			Props:     f.Props,
		}
		for _, r := range f.Rules {
			shape.RuleIDs = append(shape.RuleIDs, r.ID)
		}
		out = append(out, shape)
	}
	return out
}

func document(payload string) schema.Document {
	return schema.Document{Raw: []byte(payload), Location: "orders.yaml"}
}

func TestDefinitionFromDocument(t *testing.T) {
	def, err := Definition(context.Background(), document(orderDocument))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}

	if def.ID != "orders.create" {
		t.Fatalf("unexpected definition id %q", def.ID)
	}

	want := []fieldShape{
		{Name: "active", Widget: "toggle"},
		{Name: "country", Widget: "text"},
		{
			Name:     "email",
			Widget:   "text",
			Required: true,
			RuleIDs:  []string{"tag:email"},
			Props:    map[string]any{"label": "Email address"},
		},
		{Name: "plan", Widget: "select", RuleIDs: []string{"enum"}, Props: map[string]any{"options": []any{"basic", "pro"}}},
		{Name: "qty", Widget: "number", Required: true, RuleIDs: []string{"min:1", "max:10"}},
		{Name: "state", Widget: "select", DependsOn: []string{"country"}},
	}
	if diff := cmp.Diff(want, shapes(def)); diff != "" {
		t.Fatalf("field mismatch (-want +got):\n%s", diff)
	}

	wantDefaults := form.Values{"qty": float64(1), "active": true}
	if diff := cmp.Diff(wantDefaults, def.Defaults.Static); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestDefinitionSkipsReadOnlyProperties(t *testing.T) {
	def, err := Definition(context.Background(), document(orderDocument))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	if _, ok := def.Field("id"); ok {
		t.Fatal("read-only property should not become a field")
	}
}

func TestDefinitionFormIDOverride(t *testing.T) {
	def, err := Definition(context.Background(), document(orderDocument), WithFormID("checkout"))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	if def.ID != "checkout" {
		t.Fatalf("unexpected definition id %q", def.ID)
	}
}

const multiOperationDocument = `
openapi: 3.0.0
info:
  title: Accounts
  version: 1.0.0
paths:
  /accounts:
    post:
      operationId: accounts.create
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                name:
                  type: string
      responses:
        "201":
          description: created
  /accounts/{id}:
    put:
      operationId: accounts.update
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                name:
                  type: string
      responses:
        "200":
          description: updated
`

func TestDefinitionRequiresOperationSelection(t *testing.T) {
	doc := document(multiOperationDocument)

	_, err := Definition(context.Background(), doc)
	if err == nil || !strings.Contains(err.Error(), "multiple candidate operations") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}

	def, err := Definition(context.Background(), doc, WithOperationID("accounts.update"))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}
	if def.ID != "accounts.update" {
		t.Fatalf("unexpected definition id %q", def.ID)
	}
}

func TestDefinitionRejectsUnknownExtensionKey(t *testing.T) {
	payload := strings.Replace(orderDocument, "widget: select", "sparkle: true", 1)
	_, err := Definition(context.Background(), document(payload))
	if err == nil || !strings.Contains(err.Error(), "unsupported x-formstate key") {
		t.Fatalf("expected extension error, got %v", err)
	}
}

func TestOverlayApply(t *testing.T) {
	def, err := Definition(context.Background(), document(orderDocument))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}

	overlayDoc := document(`
fields:
  country:
    widget: select
    label: Country
    props:
      searchable: true
  qty:
    help: How many seats to provision.
`)
	overlay, err := ParseOverlay(overlayDoc)
	if err != nil {
		t.Fatalf("parse overlay: %v", err)
	}
	if err := overlay.Apply(&def); err != nil {
		t.Fatalf("apply overlay: %v", err)
	}

	country, _ := def.Field("country")
	if country.Widget != "select" {
		t.Fatalf("unexpected widget %q", country.Widget)
	}
	wantProps := map[string]any{"label": "Country", "searchable": true}
	if diff := cmp.Diff(wantProps, country.Props); diff != "" {
		t.Fatalf("props mismatch (-want +got):\n%s", diff)
	}

	qty, _ := def.Field("qty")
	if qty.Props["help"] != "How many seats to provision." {
		t.Fatalf("unexpected qty props %v", qty.Props)
	}
}

func TestOverlayRejectsUnknownField(t *testing.T) {
	def, err := Definition(context.Background(), document(orderDocument))
	if err != nil {
		t.Fatalf("parse definition: %v", err)
	}

	overlay := Overlay{Fields: map[string]FieldOverlay{"ghost": {Label: "Boo"}}}
	if err := overlay.Apply(&def); err == nil {
		t.Fatal("expected error for unknown field")
	}
}
