package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/jobs"
)

// recordingSink logs every notification as "kind rel-path"
type recordingSink struct {
	mu      sync.Mutex
	project string
	calls   []string
}

func (s *recordingSink) record(kind, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, _ := filepath.Rel(s.project, path)
	s.calls = append(s.calls, fmt.Sprintf("%s %s", kind, filepath.ToSlash(rel)))
}

func (s *recordingSink) has(call string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (s *recordingSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.calls...)
	sort.Strings(out)
	return out
}

func (s *recordingSink) FileAdded(project, path string) ([]*jobs.Job, error) {
	s.record("added", path)
	return nil, nil
}

func (s *recordingSink) FileChanged(project, path string) ([]*jobs.Job, error) {
	s.record("changed", path)
	return nil, nil
}

func (s *recordingSink) FileRemoved(project, path string) (*jobs.Job, error) {
	s.record("removed", path)
	return nil, nil
}

func (s *recordingSink) FolderAdded(project, folder string) (*jobs.Job, error) {
	s.record("folder_added", folder)
	return nil, nil
}

func (s *recordingSink) FolderRemoved(project, folder string) (*jobs.Job, error) {
	s.record("folder_removed", folder)
	return nil, nil
}

func (s *recordingSink) SettingsChanged(project string) (*jobs.Job, error) {
	s.record("settings", project)
	return nil, nil
}

func startWatcher(t *testing.T) (*Watcher, *recordingSink, string) {
	t.Helper()
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(project, "build"), 0755))

	cfg := config.Default().Watch
	cfg.DebounceWindow = 20 * time.Millisecond

	sink := &recordingSink{project: project}
	w, err := New(cfg, sink)
	require.NoError(t, err)
	require.NoError(t, w.AddRoot(project))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Stop() })
	return w, sink, project
}

func eventually(t *testing.T, sink *recordingSink, call string) {
	t.Helper()
	require.Eventually(t, func() bool { return sink.has(call) }, 5*time.Second, 10*time.Millisecond,
		"missing %q, got %v", call, sink.all())
}

func TestWatcher_FileLifecycle(t *testing.T) {
	_, sink, project := startWatcher(t)
	path := filepath.Join(project, "src", "a.c")

	require.NoError(t, os.WriteFile(path, []byte("int a;\n"), 0644))
	eventually(t, sink, "added src/a.c")

	require.NoError(t, os.WriteFile(path, []byte("int a, b;\n"), 0644))
	eventually(t, sink, "changed src/a.c")

	require.NoError(t, os.Remove(path))
	eventually(t, sink, "removed src/a.c")
}

func TestWatcher_FolderLifecycle(t *testing.T) {
	w, sink, project := startWatcher(t)
	dir := filepath.Join(project, "lib")

	require.NoError(t, os.Mkdir(dir, 0755))
	eventually(t, sink, "folder_added lib")
	require.Eventually(t, func() bool { return w.watched(dir) }, 5*time.Second, 10*time.Millisecond)

	// files in the new folder are seen
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.c"), []byte("int x;\n"), 0644))
	eventually(t, sink, "added lib/x.c")

	require.NoError(t, os.RemoveAll(dir))
	eventually(t, sink, "folder_removed lib")
	assert.False(t, w.watched(dir))
}

func TestWatcher_IgnoresHiddenAndIgnoredPaths(t *testing.T) {
	_, sink, project := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(project, "build", "gen.c"), []byte("int g;\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(project, ".hidden.c"), []byte("int h;\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "src", "a.o"), []byte("obj"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "src", "kept.c"), []byte("int k;\n"), 0644))
	eventually(t, sink, "added src/kept.c")

	for _, call := range sink.all() {
		assert.Contains(t, []string{"added src/kept.c", "changed src/kept.c"}, call)
	}
}

func TestWatcher_SettingsFile(t *testing.T) {
	_, sink, project := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(project, config.ProjectFileName), []byte("disabled: true\n"), 0644))
	eventually(t, sink, "settings .")
}

func TestWatcher_Roots(t *testing.T) {
	w, _, project := startWatcher(t)
	assert.Equal(t, []string{project}, w.Roots())
	assert.Equal(t, project, w.projectFor(filepath.Join(project, "src", "a.c")))
	assert.Equal(t, "", w.projectFor("/elsewhere/a.c"))

	w.RemoveRoot(project)
	assert.Empty(t, w.Roots())
	assert.False(t, w.watched(filepath.Join(project, "src")))

	err := w.AddRoot(filepath.Join(project, "missing"))
	assert.Error(t, err)
	assert.Empty(t, w.Roots())
}
