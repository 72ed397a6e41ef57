package form

import (
	"context"
	"strings"
	"testing"
)

func validDefinition() *Definition {
	return &Definition{
		ID: "signup",
		Fields: []Field{
			{Name: "email"},
			{Name: "country"},
			{Name: "state", DependsOn: []string{"country"}},
		},
	}
}

func TestValidateAcceptsWellFormedDefinition(t *testing.T) {
	if err := validDefinition().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(d *Definition)
		wantErr string
	}{
		{
			name:    "missing id",
			mutate:  func(d *Definition) { d.ID = "" },
			wantErr: "definition id",
		},
		{
			name:    "no fields",
			mutate:  func(d *Definition) { d.Fields = nil },
			wantErr: "at least one field",
		},
		{
			name:    "unnamed field",
			mutate:  func(d *Definition) { d.Fields[0].Name = "" },
			wantErr: "has no name",
		},
		{
			name:    "duplicate field",
			mutate:  func(d *Definition) { d.Fields[1].Name = "email" },
			wantErr: "duplicate field",
		},
		{
			name:    "dangling dependency",
			mutate:  func(d *Definition) { d.Fields[2].DependsOn = []string{"ghost"} },
			wantErr: "undeclared field",
		},
		{
			name: "dependency cycle",
			mutate: func(d *Definition) {
				d.Fields[1].DependsOn = []string{"state"}
			},
			wantErr: "cycle",
		},
		{
			name: "derive without function",
			mutate: func(d *Definition) {
				d.Fields[0].Derive = &Derive{}
			},
			wantErr: "derive with no function",
		},
		{
			name: "derive with both functions",
			mutate: func(d *Definition) {
				d.Fields[0].Derive = &Derive{
					Func:      func(values Values) (any, error) { return nil, nil },
					AsyncFunc: func(ctx context.Context, values Values) (any, error) { return nil, nil },
				}
			},
			wantErr: "both sync and async",
		},
		{
			name: "props source without function",
			mutate: func(d *Definition) {
				d.Fields[0].Source = &PropsSource{}
			},
			wantErr: "props source with no function",
		},
		{
			name: "rule without check",
			mutate: func(d *Definition) {
				d.Fields[0].Rules = []Rule{{ID: "broken"}}
			},
			wantErr: "has no check",
		},
		{
			name: "duplicate rule id",
			mutate: func(d *Definition) {
				check := func(value any, values Values) string { return "" }
				d.Fields[0].Rules = []Rule{
					{ID: "same", Check: check},
					{ID: "same", Check: check},
				}
			},
			wantErr: "duplicate rule id",
		},
		{
			name: "async rule without id",
			mutate: func(d *Definition) {
				d.Fields[0].AsyncRules = []AsyncRule{{
					Check: func(ctx context.Context, value any, values Values) (string, error) {
						return "", nil
					},
				}}
			},
			wantErr: "async rule without an id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDefinition()
			tc.mutate(def)
			err := def.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidateAllowsSelfReference(t *testing.T) {
	def := validDefinition()
	def.Fields[0].DependsOn = []string{"email"}
	if err := def.Validate(); err != nil {
		t.Fatalf("self-referential field should be allowed: %v", err)
	}
}

func TestFieldLookup(t *testing.T) {
	def := validDefinition()
	f, ok := def.Field("state")
	if !ok || f.Name != "state" {
		t.Fatalf("unexpected lookup result %v %v", f, ok)
	}
	if _, ok := def.Field("ghost"); ok {
		t.Fatal("lookup of undeclared field should fail")
	}
}

func TestSubmitWaitsDefaultsToTrue(t *testing.T) {
	var o Options
	if !o.SubmitWaits() {
		t.Fatal("waiting should be the default")
	}
	off := false
	o.WaitForAsyncValidation = &off
	if o.SubmitWaits() {
		t.Fatal("explicit false should disable waiting")
	}
}
