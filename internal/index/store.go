package index

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dshills/cindex-mcp/internal/logger"
	"github.com/dshills/cindex-mcp/internal/storage"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// Store is the registry of resident indexes, keyed by project path.
//
// The registry mutex only guards the map. Loading, saving and deleting run
// outside it.
type Store struct {
	backend storage.Storage
	log     *slog.Logger

	mu      sync.Mutex
	indexes map[string]*Index
	epoch   uint64 // bumped by every eviction

	loads singleflight.Group
}

// NewStore creates a registry persisting through backend
func NewStore(backend storage.Storage) *Store {
	return &Store{
		backend: backend,
		log:     logger.ForComponent("index"),
		indexes: make(map[string]*Index),
	}
}

func normalize(path string) string {
	return filepath.Clean(path)
}

// GetIndex returns the index of path. If it is not resident and
// reuseExisting is set, the durable copy is loaded. Otherwise, or if there
// is none, an empty index is created when createIfMissing is set. A nil
// index with a nil error means there is nothing to work on.
func (s *Store) GetIndex(ctx context.Context, path string, reuseExisting, createIfMissing bool) (*Index, error) {
	path = normalize(path)

	s.mu.Lock()
	if idx, ok := s.indexes[path]; ok {
		s.mu.Unlock()
		return idx, nil
	}
	epoch := s.epoch
	s.mu.Unlock()

	if reuseExisting {
		idx, err := s.load(ctx, path, epoch)
		switch {
		case err == nil && idx != nil:
			return idx, nil
		case err == nil || errors.Is(err, storage.ErrNotFound):
			// no durable copy
		case !createIfMissing:
			s.log.Warn("failed to load index", "project", path, "error", err)
			return nil, nil
		default:
			s.log.Warn("failed to load index, starting empty", "project", path, "error", err)
		}
	}

	if !createIfMissing {
		return nil, nil
	}
	return s.register(New(path), epoch), nil
}

// load reads the durable copy once, however many callers ask at the same time
func (s *Store) load(ctx context.Context, path string, epoch uint64) (*Index, error) {
	v, err, _ := s.loads.Do(path, func() (interface{}, error) {
		snap, err := s.backend.LoadIndex(ctx, path)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			return nil, &types.IOError{Op: "load", Path: path, Err: err}
		}
		idx, err := fromSnapshot(snap)
		if err != nil {
			return nil, &types.IOError{Op: "load", Path: path, Err: err}
		}
		return s.register(idx, epoch), nil
	})
	if err != nil {
		return nil, err
	}
	idx, _ := v.(*Index)
	return idx, nil
}

// register adds idx unless another index won the race or an eviction ran
// since the caller looked. Returns the resident index, or nil after an
// eviction.
func (s *Store) register(idx *Index, epoch uint64) *Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.indexes[idx.project]; ok {
		return existing
	}
	if s.epoch != epoch {
		return nil
	}
	s.indexes[idx.project] = idx
	return idx
}

// RemoveIndex evicts the index of path. Its durable copy is kept.
func (s *Store) RemoveIndex(path string) bool {
	path = normalize(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[path]; !ok {
		return false
	}
	delete(s.indexes, path)
	s.epoch++
	return true
}

// RemoveIndexFamily evicts every index rooted at root. With purge the
// durable copies are deleted as well. Returns the evicted paths.
func (s *Store) RemoveIndexFamily(ctx context.Context, root string, purge bool) ([]string, error) {
	root = normalize(root)

	s.mu.Lock()
	var removed []string
	for path := range s.indexes {
		if isUnder(path, root) {
			delete(s.indexes, path)
			removed = append(removed, path)
		}
	}
	s.epoch++
	s.mu.Unlock()
	sort.Strings(removed)

	if !purge {
		return removed, nil
	}

	infos, err := s.backend.ListIndexes(ctx)
	if err != nil {
		return removed, &types.IOError{Op: "list", Path: root, Err: err}
	}
	var errs []error
	for _, info := range infos {
		if !isUnder(normalize(info.ProjectPath), root) {
			continue
		}
		if err := s.backend.DeleteIndex(ctx, info.ProjectPath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			errs = append(errs, &types.IOError{Op: "delete", Path: info.ProjectPath, Err: err})
		}
	}
	return removed, errors.Join(errs...)
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

// SaveIndex writes idx to durable storage. The caller holds idx's read or
// write lock. The dirty flag is cleared only when the write succeeds.
func (s *Store) SaveIndex(ctx context.Context, idx *Index) error {
	if s.GetMonitorFor(idx) == nil {
		return types.ErrIndexMissing
	}
	snap := idx.snapshot()
	if err := s.backend.SaveIndex(ctx, snap); err != nil {
		return &types.IOError{Op: "save", Path: idx.project, Err: err}
	}
	idx.clearChanged()
	return nil
}

// GetMonitorFor returns the coordinator of idx, or nil if idx is no longer
// resident. Callers treat nil as "stop, nothing to do".
func (s *Store) GetMonitorFor(idx *Index) *RWCoordinator {
	if idx == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexes[idx.project] != idx {
		return nil
	}
	return idx.lock
}

// Resident returns the resident index of path without loading
func (s *Store) Resident(path string) *Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexes[normalize(path)]
}

// DirtyIndexes returns resident indexes with unsaved changes
func (s *Store) DirtyIndexes() []*Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Index
	for _, idx := range s.indexes {
		if idx.HasChanged() {
			out = append(out, idx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].project < out[j].project })
	return out
}

// Projects lists resident project paths
func (s *Store) Projects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.indexes))
	for path := range s.indexes {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// CheckHealth reports the durable storage health
func (s *Store) CheckHealth(ctx context.Context) (*storage.HealthStatus, error) {
	return s.backend.CheckHealth(ctx)
}

// Durable lists every saved index
func (s *Store) Durable(ctx context.Context) ([]storage.IndexInfo, error) {
	return s.backend.ListIndexes(ctx)
}
