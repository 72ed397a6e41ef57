// Package widget defines the fixed contract the runtime hands to each
// field's rendering unit, and a registry that picks a widget for fields that
// did not declare one. The engine has no opinion on pixels; a widget receives
// a value, callbacks, resolved flags, and props, and nothing about the
// resolution mechanics behind them.
package widget

// Notice is a non-blocking validation entry surfaced for display.
type Notice struct {
	Level   string
	Message string
}

// State is everything a widget needs to render a field at one instant. Props
// holds either the resolved extra properties or the declared fallback while a
// resolution is pending; loading state itself is never exposed here.
type State struct {
	Name   string
	Widget string
	Value  any

	Required bool
	Disabled bool
	Visible  bool
	Touched  bool
	Dirty    bool

	// Error is the highest-priority blocking entry's message, empty when the
	// field currently passes.
	Error   string
	Notices []Notice

	Props map[string]any

	OnChange func(value any) error
	OnBlur   func()
}
