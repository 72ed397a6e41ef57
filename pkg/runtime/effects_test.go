package runtime_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/goliatone/go-formstate/pkg/form"
	"github.com/goliatone/go-formstate/pkg/runtime"
)

func TestInitEffectsRunBeforeInteractive(t *testing.T) {
	var order []string
	def := &form.Definition{
		ID:     "wizard",
		Fields: []form.Field{{Name: "step"}},
		Effects: form.Effects{
			OnInit: []form.EffectFunc{
				func(ctx context.Context, api form.EffectAPI) error {
					order = append(order, "first")
					api.SetValue("step", 1)
					return nil
				},
				func(ctx context.Context, api form.EffectAPI) error {
					order = append(order, "second")
					return nil
				},
			},
		},
	}
	rt := mount(t, def)

	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 1, rt.Value("step"))
}

func TestChangeEffectRunsAfterDebounce(t *testing.T) {
	clock := clockz.NewFakeClock()
	var runs int32
	def := &form.Definition{
		ID: "search",
		Fields: []form.Field{
			{Name: "query"},
			{Name: "results"},
		},
		Effects: form.Effects{
			OnFieldChange: []form.ChangeEffect{{
				ID:       "search",
				Watch:    []string{"query"},
				Debounce: 200 * time.Millisecond,
				Run: func(ctx context.Context, api form.EffectAPI) error {
					atomic.AddInt32(&runs, 1)
					api.SetValue("results", "for:"+api.Value("query").(string), form.Silent())
					return nil
				},
			}},
		},
	}
	rt := mount(t, def, runtime.WithClock(clock))

	require.NoError(t, rt.SetValue("query", "go"))
	clock.Advance(100 * time.Millisecond)
	clock.BlockUntilReady()
	require.NoError(t, rt.SetValue("query", "gopher"))

	// Only the last trigger inside the quiet window executes.
	clock.Advance(200 * time.Millisecond)
	clock.BlockUntilReady()
	quiesce(t, rt)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
	assert.Equal(t, "for:gopher", rt.Value("results"))
}

func TestExpiredDebounceDoesNotFireAfterRearm(t *testing.T) {
	clock := clockz.NewFakeClock()
	gate := make(chan struct{})
	entered := make(chan struct{})
	var enterOnce sync.Once
	var runs int32
	def := &form.Definition{
		ID: "search",
		Fields: []form.Field{
			{
				Name: "query",
				Rules: []form.Rule{{
					ID: "slow",
					Check: func(value any, values form.Values) string {
						if value == "b" {
							enterOnce.Do(func() {
								close(entered)
								<-gate
							})
						}
						return ""
					},
				}},
			},
		},
		Effects: form.Effects{
			OnFieldChange: []form.ChangeEffect{{
				ID:       "lookup",
				Watch:    []string{"query"},
				Debounce: 50 * time.Millisecond,
				Run: func(ctx context.Context, api form.EffectAPI) error {
					atomic.AddInt32(&runs, 1)
					return nil
				},
			}},
		},
	}
	rt := mount(t, def, runtime.WithClock(clock))

	require.NoError(t, rt.SetValue("query", "a"))

	// Expire the first window while the second write holds the runtime lock
	// inside its sync rule. The fired goroutine loses the timer slot to the
	// re-arm and must not execute on top of the new trigger.
	done := make(chan error, 1)
	go func() { done <- rt.SetValue("query", "b") }()
	<-entered
	clock.Advance(50 * time.Millisecond)
	clock.BlockUntilReady()
	close(gate)
	require.NoError(t, <-done)

	clock.Advance(50 * time.Millisecond)
	clock.BlockUntilReady()
	quiesce(t, rt)

	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}

func TestFieldOnChangeEffect(t *testing.T) {
	def := &form.Definition{
		ID: "address",
		Fields: []form.Field{
			{
				Name: "country",
				OnChange: &form.ChangeEffect{
					Run: func(ctx context.Context, api form.EffectAPI) error {
						api.SetValue("state", nil, form.Silent())
						return nil
					},
				},
			},
			{Name: "state"},
		},
	}
	rt := mount(t, def)

	require.NoError(t, rt.SetValue("state", "CA"))
	require.NoError(t, rt.SetValue("country", "DE"))
	quiesce(t, rt)

	assert.Nil(t, rt.Value("state"))
}

func TestSilentWriteSkipsChangeEffects(t *testing.T) {
	var echoRuns int32
	def := &form.Definition{
		ID: "loop",
		Fields: []form.Field{
			{Name: "a"},
			{Name: "b"},
		},
		Effects: form.Effects{
			OnFieldChange: []form.ChangeEffect{
				{
					ID:    "echo-a",
					Watch: []string{"a"},
					Run: func(ctx context.Context, api form.EffectAPI) error {
						atomic.AddInt32(&echoRuns, 1)
						api.SetValue("b", api.Value("a"), form.Silent())
						return nil
					},
				},
				{
					ID:    "echo-b",
					Watch: []string{"b"},
					Run: func(ctx context.Context, api form.EffectAPI) error {
						api.SetValue("a", api.Value("b"))
						return nil
					},
				},
			},
		},
	}
	rt := mount(t, def)

	require.NoError(t, rt.SetValue("a", 1))
	quiesce(t, rt)

	// The silent write to b must not wake echo-b, so echo-a runs exactly once.
	assert.Equal(t, int32(1), atomic.LoadInt32(&echoRuns))
	assert.Equal(t, 1, rt.Value("b"))
}

func TestNonSilentEffectWriteTriggersPropagation(t *testing.T) {
	def := &form.Definition{
		ID: "chain",
		Fields: []form.Field{
			{Name: "a"},
			{Name: "b"},
			{
				Name:      "c",
				DependsOn: []string{"b"},
				Derive: &form.Derive{Func: func(values form.Values) (any, error) {
					if v, ok := values["b"].(int); ok {
						return v * 2, nil
					}
					return nil, nil
				}},
			},
		},
		Effects: form.Effects{
			OnFieldChange: []form.ChangeEffect{{
				ID:    "fill-b",
				Watch: []string{"a"},
				Run: func(ctx context.Context, api form.EffectAPI) error {
					api.SetValue("b", 21, form.Silent())
					return nil
				},
			}},
		},
	}
	rt := mount(t, def)

	require.NoError(t, rt.SetValue("a", 1))
	quiesce(t, rt)

	// Silent only suppresses change effects; derived values still follow.
	assert.Equal(t, 21, rt.Value("b"))
	assert.Equal(t, 42, rt.Value("c"))
}

func TestEffectSetErrorSurfacesOnField(t *testing.T) {
	def := &form.Definition{
		ID: "signup",
		Fields: []form.Field{
			{Name: "email"},
		},
		Effects: form.Effects{
			OnFieldChange: []form.ChangeEffect{{
				ID:    "remote-check",
				Watch: []string{"email"},
				Run: func(ctx context.Context, api form.EffectAPI) error {
					if api.Value("email") == "taken@example.com" {
						api.SetError("email", "address already registered")
					} else {
						api.ClearError("email")
					}
					return nil
				},
			}},
		},
	}
	rt := mount(t, def)

	require.NoError(t, rt.SetValue("email", "taken@example.com"))
	quiesce(t, rt)
	res := rt.FieldErrors("email")
	require.NotNil(t, res.Blocking)
	assert.Equal(t, "address already registered", res.Blocking.Message)

	require.NoError(t, rt.SetValue("email", "free@example.com"))
	quiesce(t, rt)
	assert.Nil(t, rt.FieldErrors("email").Blocking)
}

func TestSupersededEffectWritesAreIgnored(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	def := &form.Definition{
		ID: "slow",
		Fields: []form.Field{
			{Name: "query"},
			{Name: "results"},
		},
		Effects: form.Effects{
			OnFieldChange: []form.ChangeEffect{{
				ID:    "lookup",
				Watch: []string{"query"},
				Run: func(ctx context.Context, api form.EffectAPI) error {
					q := api.Value("query")
					started <- struct{}{}
					if q == "old" {
						<-release
					}
					api.SetValue("results", q)
					return nil
				},
			}},
		},
	}
	rt := mount(t, def)

	require.NoError(t, rt.SetValue("query", "old"))
	<-started
	require.NoError(t, rt.SetValue("query", "new"))
	<-started
	quiesceAfter(t, rt, func() { close(release) })

	// The first execution finished last, but its write was superseded.
	assert.Equal(t, "new", rt.Value("results"))
}

func quiesceAfter(t *testing.T, rt *runtime.Runtime, fn func()) {
	t.Helper()
	fn()
	quiesce(t, rt)
}

func TestDuplicateChangeEffectIDRejected(t *testing.T) {
	run := func(ctx context.Context, api form.EffectAPI) error { return nil }
	def := &form.Definition{
		ID:     "dup",
		Fields: []form.Field{{Name: "a"}},
		Effects: form.Effects{
			OnFieldChange: []form.ChangeEffect{
				{ID: "same", Watch: []string{"a"}, Run: run},
				{ID: "same", Watch: []string{"a"}, Run: run},
			},
		},
	}
	_, err := runtime.New(def)
	require.Error(t, err)
}
