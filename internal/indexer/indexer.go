package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/deps"
	"github.com/dshills/cindex-mcp/internal/extract"
	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/jobs"
	"github.com/dshills/cindex-mcp/internal/logger"
	"github.com/dshills/cindex-mcp/internal/problems"
	"github.com/dshills/cindex-mcp/internal/searcher"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// ProjectConfigProvider answers per-project configuration questions
type ProjectConfigProvider interface {
	IndexingEnabled(project string) bool
	ProblemMask(project string) types.ProblemMask
	IncludeDirs(project string) []string
	ExcludePatterns(project string) []string
}

// Options wires an Indexer. Store and Parser are required; the rest
// default to fresh instances built from Config.
type Options struct {
	Store    *index.Store
	Parser   types.ParseEventSource
	Tracker  *deps.Tracker
	Problems *problems.Collector
	Markers  *problems.MarkerStore
	Projects ProjectConfigProvider
	Resolver extract.ResourceResolver
	Searcher *searcher.Searcher
	Config   *config.Config
}

// Indexer turns change notifications into jobs and executes them against
// the resident indexes. It implements jobs.Executor.
type Indexer struct {
	store    *index.Store
	parser   types.ParseEventSource
	tracker  *deps.Tracker
	problems *problems.Collector
	markers  *problems.MarkerStore
	projects ProjectConfigProvider
	resolver extract.ResourceResolver
	searcher *searcher.Searcher
	cfg      *config.Config

	sched    *jobs.Scheduler
	inFlight inFlight
	log      *slog.Logger
}

// New creates an Indexer and its scheduler. Call Run to start processing.
func New(opts Options) (*Indexer, error) {
	if opts.Store == nil {
		return nil, errors.New("indexer: store is required")
	}
	if opts.Parser == nil {
		return nil, errors.New("indexer: parser is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	i := &Indexer{
		store:    opts.Store,
		parser:   opts.Parser,
		tracker:  opts.Tracker,
		problems: opts.Problems,
		markers:  opts.Markers,
		projects: opts.Projects,
		resolver: opts.Resolver,
		searcher: opts.Searcher,
		cfg:      cfg,
		log:      logger.ForComponent("indexer"),
	}
	if i.tracker == nil {
		i.tracker = deps.NewTracker()
	}
	if i.problems == nil {
		i.problems = problems.NewCollector()
	}
	if i.markers == nil {
		i.markers = problems.NewMarkerStore()
	}
	if i.projects == nil {
		i.projects = config.NewProjectProvider(cfg)
	}
	if i.resolver == nil {
		i.resolver = extract.NewFSResolver()
	}
	if i.searcher == nil {
		i.searcher = searcher.New(i.store, cfg.Search.CacheSize, cfg.Search.DefaultLimit)
	}

	i.sched = jobs.NewScheduler(i, jobs.Config{
		IdleThreshold:   cfg.Indexer.IdleThreshold,
		StarvationLimit: cfg.Indexer.StarvationLimit,
		OnIdle:          i.onIdle,
		Timing:          cfg.Timing,
	})
	return i, nil
}

// Run processes jobs until ctx is done or Close is called
func (i *Indexer) Run(ctx context.Context) error {
	err := i.sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Scheduler exposes the job queue
func (i *Indexer) Scheduler() *jobs.Scheduler {
	return i.sched
}

// Change notifications

// ProjectOpened requests a sweep of the whole project. While a sweep is in
// flight the existing job is returned, unless force asks for a rebuild.
func (i *Indexer) ProjectOpened(project string, force bool) (*jobs.Job, error) {
	project = filepath.Clean(project)
	if holder := i.inFlight.holder(project); holder != nil && !force {
		return holder, nil
	}

	job := jobs.NewJob(jobs.IndexProjectTree, project, "")
	job.Force = force
	queued, err := i.sched.Enqueue(job)
	if err != nil {
		return nil, err
	}
	lock := i.inFlight.lock(project)
	if lock.TryAcquire(queued) && queued.State().Terminal() {
		// finished before the marker was taken
		lock.Release(queued)
	}
	return queued, nil
}

// ProjectClosed cancels the project's jobs, saves its index if dirty and
// evicts it together with nested project indexes. Durable copies stay.
func (i *Indexer) ProjectClosed(ctx context.Context, project string) error {
	project = filepath.Clean(project)
	i.sched.CancelProject(project)

	if idx := i.store.Resident(project); idx != nil {
		if err := i.saveIndex(ctx, idx); err != nil {
			i.log.Error("failed to save index on close", "project", project, "error", err)
		}
	}
	removed, err := i.store.RemoveIndexFamily(ctx, project, false)
	for _, p := range removed {
		i.tracker.ResetProject(p)
	}
	i.log.Info("project closed", "project", project, "evicted", len(removed))
	return err
}

// ProjectDeleted cancels the project's jobs and deletes its resident and
// durable indexes along with its problem markers
func (i *Indexer) ProjectDeleted(ctx context.Context, project string) error {
	project = filepath.Clean(project)
	i.sched.CancelProject(project)

	removed, err := i.store.RemoveIndexFamily(ctx, project, true)
	for _, p := range removed {
		i.tracker.ResetProject(p)
	}
	i.searcher.InvalidateCache()

	cleared := 0
	for _, file := range i.markers.Files() {
		if isUnder(file, project) {
			i.problems.RemoveProblems(file, extract.DefaultOriginator)
			cleared++
		}
	}
	if cleared > 0 {
		i.enqueueCommit()
	}
	i.log.Info("project deleted", "project", project, "indexes", len(removed))
	return err
}

// FileAdded indexes a new file
func (i *Indexer) FileAdded(project, path string) ([]*jobs.Job, error) {
	return i.fileChanged(filepath.Clean(project), filepath.Clean(path))
}

// FileChanged reindexes a file. A header is reindexed through every
// translation unit that includes it, or on its own if nothing does.
func (i *Indexer) FileChanged(project, path string) ([]*jobs.Job, error) {
	return i.fileChanged(filepath.Clean(project), filepath.Clean(path))
}

func (i *Indexer) fileChanged(project, path string) ([]*jobs.Job, error) {
	if !i.isHeader(path) {
		if !i.isSource(path) {
			return nil, nil
		}
		job, err := i.sched.Enqueue(jobs.NewJob(jobs.IndexFile, project, path))
		if err != nil {
			return nil, err
		}
		return []*jobs.Job{job}, nil
	}

	units := i.includingUnits(project, path)
	if len(units) == 0 {
		units = []string{path}
	}
	var queued []*jobs.Job
	for _, unit := range units {
		job := jobs.NewJob(jobs.IndexFile, project, unit)
		job.Force = true
		q, err := i.sched.Enqueue(job)
		if err != nil {
			return queued, err
		}
		queued = append(queued, q)
	}
	return queued, nil
}

// includingUnits lists translation units that include header directly or
// transitively, read from the resident index
func (i *Indexer) includingUnits(project, header string) []string {
	idx := i.store.Resident(project)
	monitor := i.store.GetMonitorFor(idx)
	if monitor == nil {
		return nil
	}
	monitor.EnterRead()
	defer monitor.ExitRead()

	res := i.resolver.Resolve(project, header)
	n, ok := idx.FileNumber(res.Path)
	if !ok {
		return nil
	}
	var units []string
	for _, m := range idx.Includers(n) {
		key, _ := idx.Path(m)
		if abs := extract.Abs(project, key); abs != "" && i.isSource(abs) {
			units = append(units, abs)
		}
	}
	return units
}

// FileRemoved drops a deleted file's entries
func (i *Indexer) FileRemoved(project, path string) (*jobs.Job, error) {
	return i.sched.Enqueue(jobs.NewJob(jobs.RemoveFile, filepath.Clean(project), filepath.Clean(path)))
}

// FolderAdded sweeps a new directory inside the project
func (i *Indexer) FolderAdded(project, folder string) (*jobs.Job, error) {
	return i.sched.Enqueue(jobs.NewJob(jobs.IndexProjectTree, filepath.Clean(project), filepath.Clean(folder)))
}

// FolderRemoved drops the entries of every file below folder
func (i *Indexer) FolderRemoved(project, folder string) (*jobs.Job, error) {
	return i.sched.Enqueue(jobs.NewJob(jobs.RemoveFolder, filepath.Clean(project), filepath.Clean(folder)))
}

// SettingsChanged rereads the project's settings file and rebuilds its
// index, since include paths and exclusions may differ
func (i *Indexer) SettingsChanged(project string) (*jobs.Job, error) {
	project = filepath.Clean(project)
	if p, ok := i.projects.(interface{ Invalidate(string) }); ok {
		p.Invalidate(project)
	}
	return i.ProjectOpened(project, true)
}

// Executor

// IsReadyToRun tags the resident index with the kind of work coming and
// refuses jobs for projects that are gone or have indexing disabled
func (i *Indexer) IsReadyToRun(job *jobs.Job) bool {
	switch job.Kind {
	case jobs.SaveIndex, jobs.CommitProblems:
		return true
	}

	if idx := i.store.Resident(job.Project); idx != nil {
		if job.Kind == jobs.IndexProjectTree {
			idx.SetState(index.StateRebuilding)
		} else {
			idx.SetState(index.StateUpdating)
		}
	}

	info, err := os.Stat(job.Project)
	if err != nil || !info.IsDir() {
		i.log.Debug("project not accessible", "project", job.Project)
		return false
	}
	return i.projects.IndexingEnabled(job.Project)
}

// Execute runs one job
func (i *Indexer) Execute(ctx context.Context, job *jobs.Job) error {
	switch job.Kind {
	case jobs.IndexFile:
		return i.indexFile(ctx, job)
	case jobs.IndexProjectTree:
		return i.indexTree(ctx, job)
	case jobs.RemoveFile:
		return i.removeFiles(ctx, job, func(abs string) bool { return abs == job.Path })
	case jobs.RemoveFolder:
		return i.removeFiles(ctx, job, func(abs string) bool { return isUnder(abs, job.Path) })
	case jobs.SaveIndex:
		idx := i.store.Resident(job.Project)
		if idx == nil {
			return nil
		}
		return i.saveIndex(ctx, idx)
	case jobs.CommitProblems:
		n := i.problems.Commit(i.markers)
		i.log.Debug("problems committed", "ops", n)
		return nil
	default:
		return fmt.Errorf("unknown job kind %s", job.Kind)
	}
}

// JobFinished clears the index state tag and the in-flight marker and
// queues a problem commit when markers are waiting
func (i *Indexer) JobFinished(job *jobs.Job) {
	switch job.Kind {
	case jobs.IndexFile, jobs.IndexProjectTree, jobs.RemoveFile, jobs.RemoveFolder:
		if idx := i.store.Resident(job.Project); idx != nil {
			idx.SetState(index.StateUnknown)
		}
	}
	if job.Kind == jobs.IndexProjectTree {
		i.inFlight.release(job)
	}
	if job.Kind != jobs.CommitProblems && i.problems.Pending() {
		i.enqueueCommit()
	}
}

// JobCancelled remembers an interrupted whole-project sweep so the next one
// rebuilds from scratch
func (i *Indexer) JobCancelled(job *jobs.Job) {
	if job.Kind != jobs.IndexProjectTree {
		return
	}
	if job.Path == "" {
		if idx := i.store.Resident(job.Project); idx != nil {
			idx.MarkCancelled()
		}
	}
	i.inFlight.release(job)
}

func (i *Indexer) enqueueCommit() {
	if _, err := i.sched.Enqueue(jobs.NewJob(jobs.CommitProblems, "", "")); err != nil && !errors.Is(err, types.ErrRejected) {
		i.log.Warn("failed to queue problem commit", "error", err)
	}
}

// onIdle queues a save for every dirty index
func (i *Indexer) onIdle() {
	for _, idx := range i.store.DirtyIndexes() {
		if _, err := i.sched.Enqueue(jobs.NewJob(jobs.SaveIndex, idx.Project(), "")); err != nil {
			return
		}
	}
}

func (i *Indexer) isSource(path string) bool {
	return config.MatchAny(i.cfg.Indexer.SourcePatterns, path)
}

func (i *Indexer) isHeader(path string) bool {
	return config.MatchAny(i.cfg.Indexer.HeaderPatterns, path)
}

func isUnder(path, root string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
