package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/jobs"
	"github.com/dshills/cindex-mcp/internal/parser"
	"github.com/dshills/cindex-mcp/internal/storage"
	"github.com/dshills/cindex-mcp/pkg/types"
)

var chain = map[string]string{
	"a.c": "#include \"b.h\"\nint main(void) { return bar(); }\n",
	"b.h": "#include \"c.h\"\nstruct Foo { int x; };\n",
	"c.h": "int bar(void);\n",
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

type harness struct {
	ix      *Indexer
	store   *index.Store
	backend *storage.SQLiteStorage
	project string
}

func setup(t *testing.T, files map[string]string, mutate func(*config.Config)) *harness {
	t.Helper()
	return setupWithBackend(t, files, mutate, nil)
}

// setupWithBackend lets wrap replace the storage backend seen by the store
func setupWithBackend(t *testing.T, files map[string]string, mutate func(*config.Config), wrap func(*storage.SQLiteStorage) storage.Storage) *harness {
	t.Helper()
	project := t.TempDir()
	writeFiles(t, project, files)

	backend, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	cfg := config.Default()
	cfg.Indexer.IdleThreshold = time.Hour
	if mutate != nil {
		mutate(cfg)
	}

	var seen storage.Storage = backend
	if wrap != nil {
		seen = wrap(backend)
	}
	store := index.NewStore(seen)
	ix, err := New(Options{Store: store, Parser: parser.New(), Config: cfg})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = ix.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{ix: ix, store: store, backend: backend, project: project}
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.project, rel)
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.ix.WaitIdle(ctx))
}

func (h *harness) open(t *testing.T, force bool) *jobs.Job {
	t.Helper()
	job, err := h.ix.ProjectOpened(h.project, force)
	require.NoError(t, err)
	h.wait(t)
	return job
}

// find returns name -> owning file for every match
func (h *harness) find(t *testing.T, q index.Query) map[string]string {
	t.Helper()
	resp, err := h.ix.Find(context.Background(), h.project, q)
	require.NoError(t, err)
	out := make(map[string]string, len(resp.Results))
	for _, r := range resp.Results {
		out[r.Name] = r.File
	}
	return out
}

func (h *harness) index(t *testing.T) *index.Index {
	t.Helper()
	idx := h.store.Resident(h.project)
	require.NotNil(t, idx)
	return idx
}

func TestNew_RequiresStoreAndParser(t *testing.T) {
	_, err := New(Options{Parser: parser.New()})
	assert.Error(t, err)
	_, err = New(Options{Store: index.NewStore(nil)})
	assert.Error(t, err)
}

func TestProjectSweep_AttributesThroughIncludeChain(t *testing.T) {
	h := setup(t, chain, nil)
	job := h.open(t, false)
	assert.Equal(t, jobs.StateCompleted, job.State())

	decl := index.Query{Role: types.RoleDeclaration}
	decl.Name = "main"
	assert.Equal(t, map[string]string{"main": h.path("a.c")}, h.find(t, decl))
	decl.Name = "Foo"
	assert.Equal(t, map[string]string{"Foo": h.path("b.h")}, h.find(t, decl))
	decl.Name = "bar"
	assert.Equal(t, map[string]string{"bar": h.path("c.h")}, h.find(t, decl))
	decl.Name = "x"
	assert.Equal(t, map[string]string{"Foo::x": h.path("b.h")}, h.find(t, decl))

	idx := h.index(t)
	monitor := h.store.GetMonitorFor(idx)
	monitor.EnterRead()
	a, _ := idx.FileNumber("a.c")
	b, _ := idx.FileNumber("b.h")
	c, _ := idx.FileNumber("c.h")
	assert.Equal(t, []int{b}, idx.Includes(a))
	assert.Equal(t, []int{c}, idx.Includes(b))
	assert.Equal(t, 3, idx.FileCount())
	monitor.ExitRead()

	st, err := h.ix.Status(context.Background(), h.project)
	require.NoError(t, err)
	assert.True(t, st.Resident)
	assert.True(t, st.Dirty)
	assert.False(t, st.InFlight)
	assert.Equal(t, "unknown", st.State)
	assert.Equal(t, 2, st.Headers)
}

func TestProjectSweep_IncludeOnlySourceOwnsNoDeclarations(t *testing.T) {
	h := setup(t, map[string]string{
		"a.c": "#include \"b.h\"\n",
		"b.h": chain["b.h"],
		"c.h": chain["c.h"],
	}, nil)
	job := h.open(t, false)
	assert.Equal(t, jobs.StateCompleted, job.State())

	decl := index.Query{Role: types.RoleDeclaration}
	decl.Name = "Foo"
	assert.Equal(t, map[string]string{"Foo": h.path("b.h")}, h.find(t, decl))
	decl.Name = "bar"
	assert.Equal(t, map[string]string{"bar": h.path("c.h")}, h.find(t, decl))

	idx := h.index(t)
	monitor := h.store.GetMonitorFor(idx)
	monitor.EnterRead()
	defer monitor.ExitRead()
	a, ok := idx.FileNumber("a.c")
	require.True(t, ok)
	for _, e := range idx.EntriesForFile(a) {
		assert.NotEqual(t, types.RoleDeclaration, e.Role, "a.c owns declaration %s", e.Name)
	}
}

func TestProjectSweep_ReindexIsIdempotent(t *testing.T) {
	h := setup(t, chain, nil)
	h.open(t, false)

	idx := h.index(t)
	files, entries := idx.FileCount(), idx.EntryCount()
	generation := idx.Generation()

	// unchanged sources are skipped
	h.open(t, false)
	assert.Equal(t, generation, idx.Generation())
	assert.Equal(t, entries, idx.EntryCount())

	// a forced rebuild arrives at the same content
	h.open(t, true)
	assert.Equal(t, files, idx.FileCount())
	assert.Equal(t, entries, idx.EntryCount())
}

func TestFileChanged_HeaderReindexesIncluders(t *testing.T) {
	h := setup(t, chain, nil)
	h.open(t, false)

	writeFiles(t, h.project, map[string]string{"c.h": "int bar(void);\nint baz(int);\n"})
	queued, err := h.ix.FileChanged(h.project, h.path("c.h"))
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, h.path("a.c"), queued[0].Path)
	assert.True(t, queued[0].Force)
	h.wait(t)

	assert.Equal(t, map[string]string{"baz": h.path("c.h")}, h.find(t, index.Query{Name: "baz"}))
}

func TestProjectSweep_DetectsChangedHeaders(t *testing.T) {
	h := setup(t, chain, nil)
	h.open(t, false)

	writeFiles(t, h.project, map[string]string{"b.h": "#include \"c.h\"\nstruct Foo { int x; };\nstruct Bar { int y; };\n"})
	h.open(t, false)

	assert.Equal(t, map[string]string{"Bar": h.path("b.h")}, h.find(t, index.Query{Name: "Bar"}))
}

func TestProjectSweep_IndexesOrphanHeaders(t *testing.T) {
	files := map[string]string{
		"a.c":            chain["a.c"],
		"b.h":            chain["b.h"],
		"c.h":            chain["c.h"],
		"include/lone.h": "typedef int lone_t;\n",
	}
	h := setup(t, files, nil)
	h.open(t, false)

	assert.Equal(t, map[string]string{"lone_t": h.path("include/lone.h")}, h.find(t, index.Query{Name: "lone_t"}))
}

func TestProjectSweep_HonorsExcludesAndHiddenDirs(t *testing.T) {
	files := map[string]string{
		"a.c":              "int kept;\n",
		"build/gen.c":      "int generated;\n",
		".cache/hidden.c":  "int hidden;\n",
		"third_party/x.cc": "int vendored;\n",
	}
	h := setup(t, files, func(cfg *config.Config) {
		cfg.Indexer.ExcludePatterns = append(cfg.Indexer.ExcludePatterns, "third_party/**")
	})
	h.open(t, false)

	found := h.find(t, index.Query{Name: "*", Mode: index.MatchPattern, Kinds: []types.EntryKind{types.KindVariable}})
	assert.Equal(t, map[string]string{"kept": h.path("a.c")}, found)
}

func TestProblems_CommittedAfterSweep(t *testing.T) {
	files := map[string]string{
		"a.c": "#include \"missing.h\"\nint main(void) { return 0; }\n",
	}
	h := setup(t, files, nil)
	h.open(t, false)

	problems := h.ix.Problems(h.project)
	require.Len(t, problems, 1)
	assert.Equal(t, types.ProblemInclusionNotFound, problems[0].ID)
	assert.Equal(t, h.path("a.c"), problems[0].File)

	// fixing the file clears its problems
	writeFiles(t, h.project, map[string]string{"a.c": "int main(void) { return 0; }\n"})
	_, err := h.ix.FileChanged(h.project, h.path("a.c"))
	require.NoError(t, err)
	h.wait(t)
	assert.Empty(t, h.ix.Problems(h.project))
}

func TestFileRemoved_DropsEntries(t *testing.T) {
	h := setup(t, chain, nil)
	h.open(t, false)

	require.NoError(t, os.Remove(h.path("a.c")))
	_, err := h.ix.FileRemoved(h.project, h.path("a.c"))
	require.NoError(t, err)
	h.wait(t)

	assert.Empty(t, h.find(t, index.Query{Name: "main"}))
	// headers keep what they declared
	assert.NotEmpty(t, h.find(t, index.Query{Name: "Foo"}))
}

func TestFolderRemovedAndAdded(t *testing.T) {
	files := map[string]string{
		"a.c":       "int top;\n",
		"sub/one.c": "int one;\n",
		"sub/two.c": "int two;\n",
	}
	h := setup(t, files, nil)
	h.open(t, false)
	require.Len(t, h.find(t, index.Query{Name: "t", Mode: index.MatchPrefix}), 2)

	_, err := h.ix.FolderRemoved(h.project, h.path("sub"))
	require.NoError(t, err)
	h.wait(t)
	assert.Empty(t, h.find(t, index.Query{Name: "one"}))
	assert.NotEmpty(t, h.find(t, index.Query{Name: "top"}))

	writeFiles(t, h.project, map[string]string{"sub/three.c": "int three;\n"})
	_, err = h.ix.FolderAdded(h.project, h.path("sub"))
	require.NoError(t, err)
	h.wait(t)
	assert.NotEmpty(t, h.find(t, index.Query{Name: "three"}))
	assert.NotEmpty(t, h.find(t, index.Query{Name: "one"}))
}

func TestCancelledSweepForcesRebuild(t *testing.T) {
	h := setup(t, chain, nil)
	h.open(t, false)
	idx := h.index(t)

	h.ix.JobCancelled(jobs.NewJob(jobs.IndexProjectTree, h.project, ""))
	assert.True(t, idx.WasCancelled())

	generation := idx.Generation()
	h.open(t, false)
	assert.False(t, idx.WasCancelled())
	assert.NotEqual(t, generation, idx.Generation())
	assert.NotEmpty(t, h.find(t, index.Query{Name: "Foo"}))
}

func TestDisabledProjectIsNotIndexed(t *testing.T) {
	files := map[string]string{
		"a.c":          "int main(void) { return 0; }\n",
		".cindex.yaml": "disabled: true\n",
	}
	h := setup(t, files, nil)
	job := h.open(t, false)

	assert.Equal(t, jobs.StateCancelled, job.State())
	assert.Nil(t, h.store.Resident(h.project))
	_, err := h.ix.Find(context.Background(), h.project, index.Query{Name: "main"})
	assert.ErrorIs(t, err, types.ErrIndexMissing)
}

func TestFlushAndProjectLifecycle(t *testing.T) {
	h := setup(t, chain, nil)
	ctx := context.Background()
	h.open(t, false)

	require.NoError(t, h.ix.Flush(ctx))
	st, err := h.ix.Status(ctx, h.project)
	require.NoError(t, err)
	assert.False(t, st.Dirty)
	require.NotNil(t, st.Durable)
	assert.Equal(t, 3, st.Durable.FileCount)

	require.NoError(t, h.ix.ProjectClosed(ctx, h.project))
	assert.Nil(t, h.store.Resident(h.project))

	// closed projects are still searchable from their durable copy
	assert.Equal(t, map[string]string{"Foo": h.path("b.h")}, h.find(t, index.Query{Name: "Foo"}))

	require.NoError(t, h.ix.ProjectDeleted(ctx, h.project))
	st, err = h.ix.Status(ctx, h.project)
	require.NoError(t, err)
	assert.False(t, st.Resident)
	assert.Nil(t, st.Durable)
}

func TestIdleSavesDirtyIndexes(t *testing.T) {
	h := setup(t, chain, func(cfg *config.Config) {
		cfg.Indexer.IdleThreshold = 20 * time.Millisecond
	})
	h.open(t, false)

	require.Eventually(t, func() bool {
		infos, err := h.backend.ListIndexes(context.Background())
		return err == nil && len(infos) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return !h.index(t).HasChanged() }, 5*time.Second, 10*time.Millisecond)
}

func TestProjectOpened_ReturnsInFlightSweep(t *testing.T) {
	h := setup(t, chain, nil)

	// hold the write lock so the first sweep cannot finish
	idx, err := h.store.GetIndex(context.Background(), h.project, false, true)
	require.NoError(t, err)
	monitor := h.store.GetMonitorFor(idx)
	monitor.EnterWrite()

	first, err := h.ix.ProjectOpened(h.project, false)
	require.NoError(t, err)
	second, err := h.ix.ProjectOpened(h.project, false)
	require.NoError(t, err)
	assert.Same(t, first, second)

	monitor.ExitWrite()
	h.wait(t)
	assert.Equal(t, jobs.StateCompleted, first.State())

	st, err := h.ix.Status(context.Background(), h.project)
	require.NoError(t, err)
	assert.False(t, st.InFlight)
}

func TestCloseFlushes(t *testing.T) {
	h := setup(t, chain, nil)
	h.open(t, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.ix.Close(ctx))

	infos, err := h.backend.ListIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, h.project, infos[0].ProjectPath)

	_, err = h.ix.ProjectOpened(h.project, false)
	assert.ErrorIs(t, err, types.ErrRejected)
}

// panickingBackend fails every save by panicking
type panickingBackend struct {
	*storage.SQLiteStorage
}

func (panickingBackend) SaveIndex(context.Context, *storage.Snapshot) error {
	panic("driver blew up")
}

func TestSaveIndex_PanicReleasesLock(t *testing.T) {
	h := setupWithBackend(t, chain, nil, func(b *storage.SQLiteStorage) storage.Storage {
		return panickingBackend{b}
	})
	h.open(t, false)

	job, err := h.ix.Scheduler().Enqueue(jobs.NewJob(jobs.SaveIndex, h.project, ""))
	require.NoError(t, err)
	h.wait(t)
	assert.Equal(t, jobs.StateFailed, job.State())
	require.Error(t, job.Err())
	assert.Contains(t, job.Err().Error(), "driver blew up")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := h.ix.Find(ctx, h.project, index.Query{Name: "Foo", Role: types.RoleDeclaration})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, h.path("b.h"), resp.Results[0].File)

	// the index is still writable
	require.NoError(t, os.WriteFile(h.path("c.h"), []byte("int bar(void);\nint baz(void);\n"), 0o644))
	h.open(t, false)
	assert.Equal(t, map[string]string{"baz": h.path("c.h")}, h.find(t, index.Query{Name: "baz", Role: types.RoleDeclaration}))
}
