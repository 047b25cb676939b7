package indexer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/jobs"
	"github.com/dshills/cindex-mcp/internal/searcher"
	"github.com/dshills/cindex-mcp/internal/storage"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// Status describes one project's index
type Status struct {
	Project  string
	Resident bool
	State    string
	Dirty    bool
	InFlight bool // a tree sweep is queued or running
	Files    int
	Entries  int
	Headers  int // headers in the memo
	Problems int
	Jobs     jobs.Stats
	Durable  *storage.IndexInfo
}

// Find runs a symbol query against the project's index
func (i *Indexer) Find(ctx context.Context, project string, q index.Query) (*searcher.SearchResponse, error) {
	return i.searcher.Search(ctx, searcher.SearchRequest{
		Project:  filepath.Clean(project),
		Query:    q,
		UseCache: true,
		Suggest:  5,
	})
}

// Status reports the state of a project's index, resident or durable
func (i *Indexer) Status(ctx context.Context, project string) (*Status, error) {
	project = filepath.Clean(project)
	st := &Status{
		Project:  project,
		State:    index.StateUnknown.String(),
		InFlight: i.inFlight.holder(project) != nil,
		Headers:  i.tracker.Count(project),
		Problems: len(i.Problems(project)),
		Jobs:     i.sched.Stats(),
	}

	if idx := i.store.Resident(project); idx != nil {
		if monitor := i.store.GetMonitorFor(idx); monitor != nil {
			err := withReadLock(ctx, monitor, func() {
				st.Resident = true
				st.State = idx.State().String()
				st.Dirty = idx.HasChanged()
				st.Files = idx.FileCount()
				st.Entries = idx.EntryCount()
			})
			if err != nil {
				return nil, err
			}
		}
	}

	infos, err := i.store.Durable(ctx)
	if err != nil {
		return st, fmt.Errorf("failed to list durable indexes: %w", err)
	}
	for k := range infos {
		if infos[k].ProjectPath == project {
			st.Durable = &infos[k]
			break
		}
	}
	return st, nil
}

// Health reports the durable storage health
func (i *Indexer) Health(ctx context.Context) (*storage.HealthStatus, error) {
	return i.store.CheckHealth(ctx)
}

// Problems returns the committed problems of every file below project,
// ordered by file and line
func (i *Indexer) Problems(project string) []types.Problem {
	project = filepath.Clean(project)
	var out []types.Problem
	for _, file := range i.markers.Files() {
		if !isUnder(file, project) {
			continue
		}
		for _, p := range i.markers.Markers(file) {
			p.File = file
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].File != out[b].File {
			return out[a].File < out[b].File
		}
		return out[a].Line < out[b].Line
	})
	return out
}

// Flush saves every dirty index concurrently and commits buffered problems
func (i *Indexer) Flush(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range i.store.DirtyIndexes() {
		g.Go(func() error {
			if err := i.saveIndex(gctx, idx); err != nil {
				return fmt.Errorf("failed to save %s: %w", idx.Project(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	i.problems.Commit(i.markers)
	return err
}

// WaitIdle blocks until no job is pending or running
func (i *Indexer) WaitIdle(ctx context.Context) error {
	return i.sched.WaitIdle(ctx)
}

// Close stops accepting jobs, waits for the running one and flushes
func (i *Indexer) Close(ctx context.Context) error {
	i.sched.Shutdown()
	if err := i.sched.WaitIdle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return i.Flush(ctx)
}
