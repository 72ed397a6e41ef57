// Package runtime hosts the live evaluation engine behind a mounted form: the
// value store with per-field metadata, dependency propagation, memoized async
// resolution for defaults, derived values and widget props, multi-tier
// validation with debounced async rules, the effects engine, and the
// submission state machine.
//
// One runtime owns one form instance. External mutations are serialized in
// call order; asynchronous completions are reconciled through per-(field,
// purpose) generation counters, so a stale result is discarded silently
// rather than cancelled explicitly. A producer that never settles leaves its
// field loading until a newer generation supersedes it; timeouts belong to
// the producers, not the engine.
package runtime
