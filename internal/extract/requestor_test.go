package extract

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cindex-mcp/internal/deps"
	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/problems"
	"github.com/dshills/cindex-mcp/pkg/types"
)

const project = "/work/proj"

func abs(rel string) string {
	return filepath.Join(project, rel)
}

func newRequestor(t *testing.T, idx *index.Index, tu string, mutate func(*RequestorConfig)) *Requestor {
	t.Helper()
	cfg := RequestorConfig{
		Index:          idx,
		Project:        project,
		TU:             abs(tu),
		Tracker:        deps.NewTracker(),
		Problems:       problems.NewCollector(),
		ProblemMask:    types.MaskAll,
		HeaderPatterns: []string{"*.h"},
		MemoHeaders:    true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRequestor(cfg)
	require.NoError(t, err)
	return r
}

func include(rel string) types.Inclusion {
	return types.Inclusion{Path: filepath.Base(rel), Resolved: abs(rel)}
}

func declarationsIn(t *testing.T, idx *index.Index, key string) []string {
	t.Helper()
	n, ok := idx.FileNumber(key)
	require.True(t, ok, "file %s missing", key)
	var names []string
	for _, e := range idx.EntriesForFile(n) {
		if e.Role == types.RoleDeclaration {
			names = append(names, e.Name.String())
		}
	}
	return names
}

// a.c includes b.h which includes c.h
func parseChain(r *Requestor) {
	r.OnDeclaration(types.KindFunction, types.QualifiedName{"main"}, types.Span{Offset: 40, Length: 4})
	r.OnEnterInclude(include("b.h"))
	r.OnDeclaration(types.KindStruct, types.QualifiedName{"Foo"}, types.Span{Offset: 7, Length: 3})
	r.OnEnterInclude(include("c.h"))
	r.OnDeclaration(types.KindFunction, types.QualifiedName{"bar"}, types.Span{Offset: 5, Length: 3})
	r.OnExitInclude()
	r.OnDeclaration(types.KindVariable, types.QualifiedName{"after"}, types.Span{Offset: 60, Length: 5})
	r.OnExitInclude()
	r.OnReference(types.KindFunction, types.QualifiedName{"bar"}, types.Span{Offset: 50, Length: 3})
}

func TestAttributionThroughIncludeChain(t *testing.T) {
	idx := index.New(project)
	r := newRequestor(t, idx, "a.c", nil)
	parseChain(r)

	stats, err := r.Finish()
	require.NoError(t, err)

	assert.Equal(t, []string{"main"}, declarationsIn(t, idx, "a.c"))
	assert.Equal(t, []string{"Foo", "after"}, declarationsIn(t, idx, "b.h"))
	assert.Equal(t, []string{"bar"}, declarationsIn(t, idx, "c.h"))

	assert.Equal(t, 4, stats.Declarations)
	assert.Equal(t, 3, stats.References) // two includes and one call
	assert.Equal(t, 2, stats.Includes)
	assert.Equal(t, 0, stats.Dropped)

	tu := r.FileNumber()
	b, _ := idx.FileNumber("b.h")
	c, _ := idx.FileNumber("c.h")
	assert.Equal(t, []int{b}, idx.Includes(tu))
	assert.Equal(t, []int{c}, idx.Includes(b))
	assert.Equal(t, []int{tu, b}, idx.Includers(c))

	// include references belong to the including file
	var incs []string
	for _, e := range idx.EntriesForFile(b) {
		if e.Kind == types.KindInclude {
			incs = append(incs, e.Name.String())
		}
	}
	assert.Equal(t, []string{"c.h"}, incs)
}

func TestReindexSupersedesOldEntries(t *testing.T) {
	idx := index.New(project)

	first := newRequestor(t, idx, "a.c", nil)
	parseChain(first)
	_, err := first.Finish()
	require.NoError(t, err)
	count := idx.EntryCount()
	files := idx.FileCount()

	second := newRequestor(t, idx, "a.c", nil)
	parseChain(second)
	_, err = second.Finish()
	require.NoError(t, err)

	assert.Equal(t, count, idx.EntryCount())
	assert.Equal(t, files, idx.FileCount())
	assert.Equal(t, []string{"Foo", "after"}, declarationsIn(t, idx, "b.h"))
}

func TestRepeatedIncludeKeepsEarlierContent(t *testing.T) {
	idx := index.New(project)
	r := newRequestor(t, idx, "a.c", nil)

	r.OnEnterInclude(include("b.h"))
	r.OnDeclaration(types.KindStruct, types.QualifiedName{"Foo"}, types.Span{Offset: 7, Length: 3})
	r.OnExitInclude()
	// guarded second inclusion has no content
	r.OnEnterInclude(include("b.h"))
	r.OnExitInclude()

	_, err := r.Finish()
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo"}, declarationsIn(t, idx, "b.h"))
}

func TestUnmappableIncludeDropsEntries(t *testing.T) {
	idx := index.New(project)
	r := newRequestor(t, idx, "a.c", nil)

	r.OnEnterInclude(types.Inclusion{})
	r.OnDeclaration(types.KindFunction, types.QualifiedName{"lost"}, types.Span{})
	r.OnEnterInclude(include("b.h"))
	r.OnDeclaration(types.KindFunction, types.QualifiedName{"alsoLost"}, types.Span{})
	r.OnExitInclude()
	r.OnExitInclude()
	r.OnDeclaration(types.KindFunction, types.QualifiedName{"kept"}, types.Span{})

	stats, err := r.Finish()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, []string{"kept"}, declarationsIn(t, idx, "a.c"))
	_, ok := idx.FileNumber("b.h")
	assert.False(t, ok)
}

func TestExternalAndUnresolvedIncludes(t *testing.T) {
	idx := index.New(project)
	r := newRequestor(t, idx, "a.c", nil)

	r.OnEnterInclude(types.Inclusion{Path: "stdio.h", System: true, Resolved: "/usr/include/stdio.h"})
	r.OnDeclaration(types.KindFunction, types.QualifiedName{"printf"}, types.Span{})
	r.OnExitInclude()
	r.OnEnterInclude(types.Inclusion{Path: "gone.h"})
	r.OnExitInclude()

	_, err := r.Finish()
	require.NoError(t, err)
	assert.Equal(t, []string{"printf"}, declarationsIn(t, idx, "file:///usr/include/stdio.h"))
	_, ok := idx.FileNumber("unresolved:gone.h")
	assert.True(t, ok)
}

func TestHeaderMemo(t *testing.T) {
	tracker := deps.NewTracker()
	idx := index.New(project)

	withTracker := func(cfg *RequestorConfig) { cfg.Tracker = tracker }

	first := newRequestor(t, idx, "a.c", withTracker)
	parseChain(first)
	stats, _ := first.Finish()
	assert.Equal(t, 2, stats.NewHeaders)
	assert.Equal(t, []string{abs("b.h"), abs("c.h")}, first.EncounteredHeaders())

	second := newRequestor(t, idx, "d.c", withTracker)
	parseChain(second)
	stats, _ = second.Finish()
	assert.Equal(t, 0, stats.NewHeaders)
	// memo never suppresses entries
	assert.Equal(t, []string{"bar"}, declarationsIn(t, idx, "c.h"))

	off := newRequestor(t, idx, "e.c", func(cfg *RequestorConfig) {
		cfg.Tracker = deps.NewTracker()
		cfg.MemoHeaders = false
	})
	parseChain(off)
	assert.Empty(t, off.EncounteredHeaders())
}

func TestProblemsAttributionAndMask(t *testing.T) {
	collector := problems.NewCollector()
	idx := index.New(project)
	r := newRequestor(t, idx, "a.c", func(cfg *RequestorConfig) {
		cfg.Problems = collector
		cfg.ProblemMask = types.MaskSyntax | types.MaskPreprocessor
	})

	r.OnEnterInclude(include("b.h"))
	r.OnProblem(types.Problem{Category: types.CategorySyntax, ID: types.ProblemSyntaxError, Message: "expected ;", Line: 3})
	r.OnProblem(types.Problem{Category: types.CategorySemantic, ID: types.ProblemUnresolvedName, Message: "filtered", Line: 4})
	r.OnProblem(types.Problem{Category: types.CategoryPreprocessor, ID: types.ProblemCircularInclusion, Message: "cycle", Line: 1})
	r.OnExitInclude()
	r.OnProblem(types.Problem{Category: types.CategoryPreprocessor, ID: types.ProblemInclusionNotFound, Message: "x.h not found", Line: 2})

	stats, _ := r.Finish()
	assert.Equal(t, 2, stats.Problems)

	markers := problems.NewMarkerStore()
	assert.Equal(t, 2, collector.Commit(markers))

	bh := markers.Markers(abs("b.h"))
	require.Len(t, bh, 1)
	assert.Equal(t, "expected ;", bh[0].Message)
	assert.Equal(t, DefaultOriginator, bh[0].Originator)

	ac := markers.Markers(abs("a.c"))
	require.Len(t, ac, 1)
	assert.Equal(t, types.ProblemInclusionNotFound, ac[0].ID)
}

func TestNewRequestorValidation(t *testing.T) {
	_, err := NewRequestor(RequestorConfig{Project: project, TU: abs("a.c")})
	assert.ErrorIs(t, err, types.ErrIndexMissing)

	_, err = NewRequestor(RequestorConfig{Index: index.New(project), Project: project})
	assert.ErrorIs(t, err, types.ErrInvalidEntry)
}

func TestInvalidEntriesAreCounted(t *testing.T) {
	idx := index.New(project)
	r := newRequestor(t, idx, "a.c", nil)
	r.OnDeclaration(types.KindFunction, nil, types.Span{})
	r.OnDeclaration("bogus", types.QualifiedName{"x"}, types.Span{})

	stats, err := r.Finish()
	assert.ErrorIs(t, err, types.ErrInvalidEntry)
	assert.Equal(t, 2, stats.Invalid)
	assert.Equal(t, 0, idx.EntryCount())
}
