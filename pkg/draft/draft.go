// Package draft provides the persistence boundary for form value snapshots.
// The engine itself never writes drafts: a Recorder observes value-change
// notifications and persists the sources the caller cares about, and a Source
// feeds a stored draft back through the async default-values path on mount.
package draft

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/runtime"
)

// ErrNotFound is returned when no draft exists for the requested key.
var ErrNotFound = errors.New("draft: not found")

// Store is the opaque key/value boundary drafts go through. Keys combine the
// form id with a caller-chosen context key (e.g. the record being edited).
type Store interface {
	Load(ctx context.Context, formID, contextKey string) (form.Values, error)
	Save(ctx context.Context, formID, contextKey string, values form.Values) error
	Delete(ctx context.Context, formID, contextKey string) error
}

// Source adapts a store into an async default-values source. When no draft
// exists the fallback source resolves instead. key maps the mount-time
// initial context to the draft's context key.
func Source(store Store, formID string, key func(initial any) string, fallback form.DefaultsSource) form.DefaultsSource {
	return form.DefaultsSource{
		AsyncFunc: func(ctx context.Context, initial any) (form.Values, error) {
			contextKey := ""
			if key != nil {
				contextKey = key(initial)
			}
			values, err := store.Load(ctx, formID, contextKey)
			if err == nil {
				return values, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("draft: load: %w", err)
			}
			return resolveFallback(ctx, fallback, initial)
		},
		CacheKey: func(initial any) string {
			contextKey := ""
			if key != nil {
				contextKey = key(initial)
			}
			return "draft:" + formID + ":" + contextKey
		},
	}
}

func resolveFallback(ctx context.Context, src form.DefaultsSource, initial any) (form.Values, error) {
	switch {
	case src.AsyncFunc != nil:
		return src.AsyncFunc(ctx, initial)
	case src.Func != nil:
		return src.Func(initial)
	default:
		return src.Static.Clone(), nil
	}
}

// Recorder returns a change listener persisting snapshots whose source
// matches one of the given tags. With no tags, only user edits persist.
func Recorder(store Store, formID, contextKey string, sources ...runtime.ChangeSource) runtime.ChangeListener {
	if len(sources) == 0 {
		sources = []runtime.ChangeSource{runtime.SourceUser}
	}
	match := make(map[runtime.ChangeSource]struct{}, len(sources))
	for _, s := range sources {
		match[s] = struct{}{}
	}
	return func(values form.Values, source runtime.ChangeSource) {
		if _, ok := match[source]; !ok {
			return
		}
		// Persistence failures are the caller's concern at read time; a
		// notification callback has nowhere to report them.
		_ = store.Save(context.Background(), formID, contextKey, values)
	}
}
