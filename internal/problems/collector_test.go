package problems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cindex-mcp/pkg/types"
)

func problem(line int, msg string) types.Problem {
	return types.Problem{
		Category: types.CategorySyntax,
		ID:       types.ProblemSyntaxError,
		Severity: types.SeverityError,
		Message:  msg,
		Line:     line,
	}
}

func TestRemoveSupersedesEarlierOps(t *testing.T) {
	c := NewCollector()
	markers := NewMarkerStore()

	c.RemoveProblems("f.c", "indexer")
	c.AddProblem("f.c", "indexer", problem(1, "d1"))
	c.RemoveProblems("f.c", "indexer")
	c.AddProblem("f.c", "indexer", problem(2, "d2"))

	added := c.Commit(markers)

	assert.Equal(t, 1, added)
	got := markers.Markers("f.c")
	require.Len(t, got, 1)
	assert.Equal(t, "d2", got[0].Message)
	assert.Equal(t, "f.c", got[0].File)
	assert.False(t, c.Pending())
}

func TestAddProblemPrependsRemove(t *testing.T) {
	c := NewCollector()
	c.AddProblem("f.c", "indexer", problem(3, "x"))

	ops := c.Drain()
	require.Len(t, ops, 2)
	assert.Equal(t, OpRemove, ops[0].Kind)
	assert.Equal(t, "indexer", ops[0].Originator)
	assert.Equal(t, OpAdd, ops[1].Kind)
}

func TestCommitClearsStaleMarkers(t *testing.T) {
	c := NewCollector()
	markers := NewMarkerStore()
	markers.AddMarker("f.c", types.Problem{Line: 9, Message: "old", Originator: "indexer"})

	c.RemoveProblems("f.c", "indexer")
	c.Commit(markers)

	assert.Empty(t, markers.Markers("f.c"))
}

func TestCommitIsIdempotent(t *testing.T) {
	markers := NewMarkerStore()
	for i := 0; i < 2; i++ {
		c := NewCollector()
		c.AddProblem("f.c", "indexer", problem(4, "same"))
		// Apply the add twice without an intervening remove
		for _, op := range c.Drain() {
			if op.Kind == OpAdd {
				markers.AddMarker(op.File, op.Problem)
				markers.AddMarker(op.File, op.Problem)
			}
		}
	}
	assert.Equal(t, 1, markers.Count())
}

func TestDrainKeepsFileOrder(t *testing.T) {
	c := NewCollector()
	c.AddProblem("b.c", "x", problem(1, "b"))
	c.AddProblem("a.c", "x", problem(1, "a"))
	c.RemoveProblems("b.c", "x")

	ops := c.Drain()
	require.Len(t, ops, 3)
	assert.Equal(t, "b.c", ops[0].File)
	assert.Equal(t, OpRemove, ops[0].Kind)
	assert.Equal(t, "a.c", ops[1].File)
	assert.Equal(t, "a.c", ops[2].File)
}

func TestHasAdds(t *testing.T) {
	c := NewCollector()
	c.RemoveProblems("a.c", "x")
	assert.True(t, c.Pending())
	assert.False(t, c.HasAdds())

	c.AddProblem("a.c", "x", problem(1, "a"))
	assert.True(t, c.HasAdds())
}

func TestRemoveMarkersByOriginator(t *testing.T) {
	markers := NewMarkerStore()
	markers.AddMarker("f.c", types.Problem{Line: 1, Message: "a", Originator: "indexer"})
	markers.AddMarker("f.c", types.Problem{Line: 2, Message: "b", Originator: "build"})

	markers.RemoveMarkers("f.c", "indexer")
	got := markers.Markers("f.c")
	require.Len(t, got, 1)
	assert.Equal(t, "build", got[0].Originator)

	markers.RemoveMarkers("f.c", "")
	assert.Empty(t, markers.Files())
}
