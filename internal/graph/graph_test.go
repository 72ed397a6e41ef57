package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-formstate/internal/graph"
)

func TestDependentsLevelOrder(t *testing.T) {
	// b and c depend on a; d depends on b and c.
	g, err := graph.New(
		[]string{"a", "b", "c", "d"},
		map[string][]string{
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c", "d"}, g.Dependents("a"))
	assert.Equal(t, []string{"d"}, g.Dependents("b"))
	assert.Empty(t, g.Dependents("d"))
}

func TestDependentsScheduledOnce(t *testing.T) {
	// Diamond: d is reachable from a through both b and c but must appear once.
	g, err := graph.New(
		[]string{"a", "b", "c", "d"},
		map[string][]string{
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		},
	)
	require.NoError(t, err)

	seen := map[string]int{}
	for _, n := range g.Dependents("a") {
		seen[n]++
	}
	assert.Equal(t, 1, seen["d"])
}

func TestDependentsUnknownNode(t *testing.T) {
	g, err := graph.New([]string{"a"}, nil)
	require.NoError(t, err)
	assert.Nil(t, g.Dependents("missing"))
}

func TestCycleDetection(t *testing.T) {
	_, err := graph.New(
		[]string{"a", "b", "c"},
		map[string][]string{
			"a": {"c"},
			"b": {"a"},
			"c": {"b"},
		},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestSelfEdgeSchedulesTheFieldItself(t *testing.T) {
	g, err := graph.New([]string{"a", "b"}, map[string][]string{"a": {"a"}, "b": {"a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, g.Dependents("a"))
}

func TestUnknownEdgeTarget(t *testing.T) {
	_, err := graph.New([]string{"a"}, map[string][]string{"a": {"ghost"}})
	require.Error(t, err)
}
