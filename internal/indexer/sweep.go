package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/extract"
	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/jobs"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// ErrFileTooLarge is returned for files above the configured size limit
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Statistics contains statistics about one sweep
type Statistics struct {
	FilesIndexed int
	FilesSkipped int
	FilesFailed  int
	FilesRemoved int
	Headers      int // headers indexed on their own
	Declarations int
	References   int
	Problems     int
	Duration     time.Duration
}

func (s *Statistics) add(st extract.Stats) {
	s.Declarations += st.Declarations
	s.References += st.References
	s.Problems += st.Problems
}

// readSource returns a file's bytes and their hash
func (i *Indexer) readSource(path string) ([]byte, uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	if limit := i.cfg.Indexer.MaxFileSize; limit > 0 && info.Size() > limit {
		return nil, 0, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, path, info.Size())
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return content, xxhash.Sum64(content), nil
}

// parseUnit reindexes one translation unit. The caller holds the write
// lock. An unchanged unit is skipped unless forced; its headers still count
// as encountered. A parser failure keeps what was extracted before it.
func (i *Indexer) parseUnit(ctx context.Context, idx *index.Index, project, path string, content []byte, hash uint64, force bool) (extract.Stats, bool, error) {
	res := i.resolver.Resolve(project, path)
	if !res.Valid() {
		return extract.Stats{}, false, fmt.Errorf("%w: %s", types.ErrInvalidEntry, path)
	}
	if n, ok := idx.FileNumber(res.Path); ok && !force && hash != 0 && idx.ContentHash(n) == hash {
		i.markIncludedHeaders(idx, project, n)
		return extract.Stats{}, true, nil
	}

	req, err := extract.NewRequestor(extract.RequestorConfig{
		Index:          idx,
		Project:        project,
		TU:             path,
		Resolver:       i.resolver,
		Tracker:        i.tracker,
		Problems:       i.problems,
		ProblemMask:    i.projects.ProblemMask(project),
		HeaderPatterns: i.cfg.Indexer.HeaderPatterns,
		MemoHeaders:    i.cfg.Indexer.MemoHeaders,
	})
	if err != nil {
		return extract.Stats{}, false, err
	}

	perr := i.parser.Parse(ctx, types.ParseRequest{
		File:        path,
		IncludeDirs: i.projects.IncludeDirs(project),
		Content:     content,
	}, req)
	stats, ierr := req.Finish()
	if ierr != nil {
		i.log.Debug("entries rejected", "file", path, "invalid", stats.Invalid, "error", ierr)
	}

	switch {
	case perr == nil:
		idx.SetContentHash(req.FileNumber(), hash)
	case errors.Is(perr, types.ErrParseFailure):
		i.log.Warn("parse failed, keeping partial entries", "file", path, "error", perr)
	default:
		return stats, false, perr
	}

	if i.cfg.Verbose {
		i.log.Debug("unit indexed", "file", path,
			"declarations", stats.Declarations, "references", stats.References,
			"includes", stats.Includes, "dropped", stats.Dropped, "problems", stats.Problems)
	}
	return stats, false, nil
}

// markIncludedHeaders feeds the headers reached from an unchanged unit into
// the memo so the header pass does not index them on their own
func (i *Indexer) markIncludedHeaders(idx *index.Index, project string, unit int) {
	if !i.cfg.Indexer.MemoHeaders {
		return
	}
	seen := map[int]bool{unit: true}
	queue := []int{unit}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range idx.Includes(cur) {
			if seen[n] {
				continue
			}
			seen[n] = true
			queue = append(queue, n)
			key, _ := idx.Path(n)
			if abs := extract.Abs(project, key); abs != "" && i.isHeader(abs) {
				i.tracker.HaveEncounteredHeader(project, abs)
			}
		}
	}
}

// indexFile reindexes one translation unit under the write lock
func (i *Indexer) indexFile(ctx context.Context, job *jobs.Job) error {
	idx, err := i.store.GetIndex(ctx, job.Project, true, true)
	if err != nil {
		return err
	}
	monitor := i.store.GetMonitorFor(idx)
	if monitor == nil {
		return nil
	}

	content, hash, err := i.readSource(job.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return i.removeFiles(ctx, job, func(abs string) bool { return abs == job.Path })
	}
	if err != nil {
		i.log.Warn("skipping file", "file", job.Path, "error", err)
		return nil
	}

	if err := monitor.EnterWriteContext(ctx); err != nil {
		return err
	}
	defer monitor.ExitWrite()

	_, skipped, err := i.parseUnit(ctx, idx, job.Project, job.Path, content, hash, job.Force)
	if skipped {
		i.log.Debug("unit unchanged", "file", job.Path)
	}
	return err
}

// discoverFiles walks root and returns the sources and headers to index,
// sorted, leaving out hidden directories and excluded paths
func (i *Indexer) discoverFiles(project, root string) (sources, headers []string, err error) {
	excludes := i.projects.ExcludePatterns(project)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			i.log.Debug("walk error", "path", path, "error", err)
			return nil
		}

		rel, relErr := filepath.Rel(project, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if path != root && config.MatchAny(excludes, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if config.MatchAny(excludes, rel) {
			return nil
		}

		switch {
		case i.isSource(path):
			sources = append(sources, path)
		case i.isHeader(path):
			headers = append(headers, path)
		}
		return nil
	})

	sort.Strings(sources)
	sort.Strings(headers)
	return sources, headers, err
}

// indexTree sweeps the project, or one folder of it. Sources are parsed
// first; headers the memo has not seen are then parsed on their own. The job
// is cancelled cooperatively between files.
func (i *Indexer) indexTree(ctx context.Context, job *jobs.Job) error {
	start := time.Now()
	idx, err := i.store.GetIndex(ctx, job.Project, true, true)
	if err != nil {
		return err
	}
	monitor := i.store.GetMonitorFor(idx)
	if monitor == nil {
		return nil
	}

	root := job.Project
	whole := job.Path == "" || job.Path == job.Project
	if !whole {
		root = job.Path
	}

	sources, headers, err := i.discoverFiles(job.Project, root)
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}

	if whole {
		err := withWriteLock(ctx, monitor, func() {
			if job.Force || idx.WasCancelled() {
				i.log.Info("rebuilding index", "project", job.Project, "forced", job.Force)
				idx.Reset()
				idx.ClearCancelled()
			}
			// the memo is rebuilt by this sweep
			i.tracker.ResetProject(job.Project)
		})
		if err != nil {
			return err
		}
	}

	headerHashes, forced := i.changedHeaders(idx, monitor, job.Project, headers)

	stats := &Statistics{}
	indexOne := func(path string, content []byte, hash uint64, force bool) error {
		if job.Cancelled() {
			return types.ErrCancelled
		}
		if err := monitor.EnterWriteContext(ctx); err != nil {
			return err
		}
		defer monitor.ExitWrite()
		if i.store.GetMonitorFor(idx) == nil {
			return types.ErrIndexMissing
		}
		st, skipped, err := i.parseUnit(ctx, idx, job.Project, path, content, hash, force)
		switch {
		case err != nil:
			return err
		case skipped:
			stats.FilesSkipped++
		default:
			stats.FilesIndexed++
			stats.add(st)
		}
		return nil
	}

	for _, path := range sources {
		content, hash, err := i.readSource(path)
		if err != nil {
			i.log.Warn("skipping file", "file", path, "error", err)
			stats.FilesFailed++
			continue
		}
		if err := indexOne(path, content, hash, job.Force || forced[path]); err != nil {
			return i.sweepStopped(job, err)
		}
	}

	for _, path := range headers {
		if i.cfg.Indexer.MemoHeaders && i.tracker.Encountered(job.Project, path) {
			continue
		}
		content, hash, err := i.readSource(path)
		if err != nil {
			stats.FilesFailed++
			continue
		}
		if err := indexOne(path, content, hash, job.Force); err != nil {
			return i.sweepStopped(job, err)
		}
		stats.Headers++
	}

	err = withWriteLock(ctx, monitor, func() {
		i.recordHeaderHashes(idx, job.Project, headerHashes)
		stats.FilesRemoved = i.removeVanished(idx, job.Project, root)
	})
	if err != nil {
		return err
	}

	stats.Duration = time.Since(start)
	attrs := []any{
		"project", job.Project, "root", root,
		"indexed", stats.FilesIndexed, "skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed, "removed", stats.FilesRemoved,
		"headers", stats.Headers, "declarations", stats.Declarations,
		"problems", stats.Problems,
	}
	if i.cfg.Timing {
		attrs = append(attrs, "elapsed", stats.Duration)
	}
	i.log.Info("sweep complete", attrs...)
	return nil
}

func (i *Indexer) sweepStopped(job *jobs.Job, err error) error {
	if errors.Is(err, types.ErrIndexMissing) {
		i.log.Debug("index evicted during sweep", "project", job.Project)
		return nil
	}
	return err
}

// changedHeaders hashes every header and returns the hashes along with the
// translation units that include a header whose content changed
func (i *Indexer) changedHeaders(idx *index.Index, monitor *index.RWCoordinator, project string, headers []string) (map[string]uint64, map[string]bool) {
	hashes := make(map[string]uint64, len(headers))
	for _, path := range headers {
		if _, hash, err := i.readSource(path); err == nil {
			hashes[path] = hash
		}
	}

	forced := make(map[string]bool)
	monitor.EnterRead()
	defer monitor.ExitRead()
	for path, hash := range hashes {
		n, ok := idx.FileNumber(i.resolver.Resolve(project, path).Path)
		if !ok {
			continue
		}
		if old := idx.ContentHash(n); old == 0 || old == hash {
			continue
		}
		for _, m := range idx.Includers(n) {
			key, _ := idx.Path(m)
			if abs := extract.Abs(project, key); abs != "" {
				forced[abs] = true
			}
		}
	}
	return hashes, forced
}

// recordHeaderHashes stores header hashes so the next sweep can tell which
// headers changed. The caller holds the write lock.
func (i *Indexer) recordHeaderHashes(idx *index.Index, project string, hashes map[string]uint64) {
	for path, hash := range hashes {
		if n, ok := idx.FileNumber(i.resolver.Resolve(project, path).Path); ok {
			idx.SetContentHash(n, hash)
		}
	}
}

// removeVanished drops tracked files below root that no longer exist. The
// caller holds the write lock.
func (i *Indexer) removeVanished(idx *index.Index, project, root string) int {
	removed := 0
	for _, f := range idx.Files() {
		if extract.IsExternal(f.Path) {
			continue
		}
		abs := extract.Abs(project, f.Path)
		if abs == "" || !isUnder(abs, root) {
			continue
		}
		if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
			if idx.RemoveFile(f.Path) {
				i.problems.RemoveProblems(abs, extract.DefaultOriginator)
				removed++
			}
		}
	}
	return removed
}

// removeFiles drops the entries of every tracked file matching match
func (i *Indexer) removeFiles(ctx context.Context, job *jobs.Job, match func(abs string) bool) error {
	idx, err := i.store.GetIndex(ctx, job.Project, true, false)
	if err != nil {
		return err
	}
	monitor := i.store.GetMonitorFor(idx)
	if monitor == nil {
		return nil
	}
	if err := monitor.EnterWriteContext(ctx); err != nil {
		return err
	}
	defer monitor.ExitWrite()

	removed := 0
	for _, f := range idx.Files() {
		abs := extract.Abs(job.Project, f.Path)
		if abs == "" || !match(abs) {
			continue
		}
		if idx.RemoveFile(f.Path) {
			i.problems.RemoveProblems(abs, extract.DefaultOriginator)
			removed++
		}
	}
	i.log.Debug("files removed", "project", job.Project, "path", job.Path, "count", removed)
	return nil
}

// saveIndex writes idx if it is dirty: the dirty check runs under the read
// lock, the write under the write lock, downgraded to report what was saved
func (i *Indexer) saveIndex(ctx context.Context, idx *index.Index) error {
	monitor := i.store.GetMonitorFor(idx)
	if monitor == nil {
		return nil
	}

	var dirty bool
	if err := withReadLock(ctx, monitor, func() { dirty = idx.HasChanged() }); err != nil {
		return err
	}
	if !dirty {
		return nil
	}

	if err := monitor.EnterWriteContext(ctx); err != nil {
		return err
	}
	downgraded := false
	defer func() {
		// a panicking backend leaves us still holding the write lock
		if downgraded {
			monitor.ExitRead()
		} else {
			monitor.ExitWrite()
		}
	}()
	err := i.store.SaveIndex(ctx, idx)
	monitor.ExitWriteEnterRead()
	downgraded = true

	if errors.Is(err, types.ErrIndexMissing) {
		return nil
	}
	if err != nil {
		return err
	}
	i.log.Info("index saved", "project", idx.Project(), "files", idx.FileCount(), "entries", idx.EntryCount())
	return nil
}

// withWriteLock runs fn holding the index write lock. The lock is released
// even when fn panics.
func withWriteLock(ctx context.Context, monitor *index.RWCoordinator, fn func()) error {
	if err := monitor.EnterWriteContext(ctx); err != nil {
		return err
	}
	defer monitor.ExitWrite()
	fn()
	return nil
}

// withReadLock runs fn holding the index read lock
func withReadLock(ctx context.Context, monitor *index.RWCoordinator, fn func()) error {
	if err := monitor.EnterReadContext(ctx); err != nil {
		return err
	}
	defer monitor.ExitRead()
	fn()
	return nil
}
