package form

import "testing"

func TestCloneIsolatesSnapshot(t *testing.T) {
	original := Values{"a": 1}
	clone := original.Clone()
	clone["a"] = 2
	if original["a"] != 1 {
		t.Fatalf("clone mutated the original: %v", original)
	}

	var nilValues Values
	if got := nilValues.Clone(); got == nil {
		t.Fatal("clone of nil should be an empty map")
	}
}

func TestValueAs(t *testing.T) {
	values := Values{"qty": 3, "name": "Ada"}

	if got, ok := ValueAs[int](values, "qty"); !ok || got != 3 {
		t.Fatalf("unexpected result %v %v", got, ok)
	}
	if _, ok := ValueAs[string](values, "qty"); ok {
		t.Fatal("type mismatch should fail")
	}
	if _, ok := ValueAs[int](values, "missing"); ok {
		t.Fatal("absent field should fail")
	}
}

func TestIsEmpty(t *testing.T) {
	empty := []any{
		nil,
		"",
		[]string{},
		[]any(nil),
		map[string]any{},
		(*int)(nil),
	}
	for _, v := range empty {
		if !IsEmpty(v) {
			t.Fatalf("expected %#v to be empty", v)
		}
	}

	nonEmpty := []any{
		0,
		0.0,
		false,
		" ",
		[]string{"a"},
		map[string]any{"k": 1},
	}
	for _, v := range nonEmpty {
		if IsEmpty(v) {
			t.Fatalf("expected %#v to be non-empty", v)
		}
	}
}
