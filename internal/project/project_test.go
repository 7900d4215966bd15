package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_AcceptsDiamond(t *testing.T) {
	t.Parallel()

	g := Graph{
		"app":   {"left", "right"},
		"left":  {"base"},
		"right": {"base"},
		"base":  nil,
	}

	require.NoError(t, g.Validate())
}

func TestValidate_ReportsCyclePath(t *testing.T) {
	t.Parallel()

	g := Graph{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
	}

	err := g.Validate()
	require.ErrorIs(t, err, ErrCycle)
	assert.Contains(t, err.Error(), "a -> b -> c -> a")
}

func TestValidate_SelfDependencyIsCycle(t *testing.T) {
	t.Parallel()

	err := Graph{"a": {"a"}}.Validate()
	require.ErrorIs(t, err, ErrCycle)
}

func TestValidate_UnknownDependency(t *testing.T) {
	t.Parallel()

	err := Graph{"a": {"missing"}}.Validate()
	require.ErrorIs(t, err, ErrUnknownDependency)
	assert.Contains(t, err.Error(), `"missing"`)
}

func TestDependents_InvertsEdges(t *testing.T) {
	t.Parallel()

	g := Graph{
		"app":  {"lib", "lib"},
		"tool": {"lib"},
		"lib":  nil,
	}

	assert.Equal(t, map[ID][]ID{"lib": {"app", "tool"}}, g.Dependents())
}
