// Package form defines the declarative data model consumed by the formstate
// runtime: field declarations with conditions, validators, derived values and
// props sources, plus the form-level defaults, rules, effects, and submission
// options. Definitions are plain data with pure functions; they carry no
// mutable state and are validated once at load time.
package form
