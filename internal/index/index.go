package index

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dshills/cindex-mcp/internal/storage"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// State describes an index's consistency relative to the file system
type State int32

const (
	StateUnknown State = iota
	StateUpdating
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateUpdating:
		return "updating"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Index is the in-memory index of one project.
//
// Content methods require the caller to hold the index's RWCoordinator:
// the read lock for accessors, the write lock for mutators. The dirty flag,
// the state tag, and the cancelled bit are safe without it.
type Index struct {
	project string
	lock    *RWCoordinator

	files      []string // files[n-1] is the path of file number n
	numbers    map[string]int
	hashes     map[int]uint64
	entries    map[int][]types.IndexEntry
	entryCount int
	includes   map[int]map[int]struct{}

	changed    atomic.Bool
	state      atomic.Int32
	cancelled  atomic.Bool
	generation atomic.Uint64
}

// New creates an empty index for a project
func New(project string) *Index {
	idx := &Index{
		project: project,
		lock:    NewRWCoordinator(),
	}
	idx.init()
	return idx
}

func (idx *Index) init() {
	idx.files = nil
	idx.numbers = make(map[string]int)
	idx.hashes = make(map[int]uint64)
	idx.entries = make(map[int][]types.IndexEntry)
	idx.entryCount = 0
	idx.includes = make(map[int]map[int]struct{})
}

// Project returns the project root path the index belongs to
func (idx *Index) Project() string {
	return idx.project
}

// File table

// AddFile returns the number of path, allocating the next one if needed.
// Numbers start at 1 and are never reused.
func (idx *Index) AddFile(path string) int {
	if n, ok := idx.numbers[path]; ok {
		return n
	}
	idx.files = append(idx.files, path)
	n := len(idx.files)
	idx.numbers[path] = n
	idx.touch()
	return n
}

// FileNumber looks up the number of path
func (idx *Index) FileNumber(path string) (int, bool) {
	n, ok := idx.numbers[path]
	return n, ok
}

// Path returns the path of file number n
func (idx *Index) Path(n int) (string, bool) {
	if n < 1 || n > len(idx.files) {
		return "", false
	}
	return idx.files[n-1], true
}

// Files lists the file table in number order
func (idx *Index) Files() []types.IndexedFile {
	out := make([]types.IndexedFile, len(idx.files))
	for i, p := range idx.files {
		out[i] = types.IndexedFile{Number: i + 1, Path: p}
	}
	return out
}

// FileCount returns the size of the file table
func (idx *Index) FileCount() int {
	return len(idx.files)
}

// Content hashes

// SetContentHash records the hash of the file's bytes at its last indexing
func (idx *Index) SetContentHash(n int, hash uint64) {
	if idx.hashes[n] != hash {
		idx.hashes[n] = hash
		idx.changed.Store(true)
	}
}

// ContentHash returns the recorded hash, zero if none
func (idx *Index) ContentHash(n int) uint64 {
	return idx.hashes[n]
}

// Entries

// AddEntry appends an entry. Its file number must already be in the table.
func (idx *Index) AddEntry(e types.IndexEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.FileNumber > len(idx.files) {
		return fmt.Errorf("%w: file number %d not in file table", types.ErrInvalidEntry, e.FileNumber)
	}
	idx.entries[e.FileNumber] = append(idx.entries[e.FileNumber], e)
	idx.entryCount++
	idx.touch()
	return nil
}

// EntriesForFile returns a copy of the entries owned by file number n
func (idx *Index) EntriesForFile(n int) []types.IndexEntry {
	src := idx.entries[n]
	out := make([]types.IndexEntry, len(src))
	copy(out, src)
	return out
}

// EntryCount returns the total number of entries
func (idx *Index) EntryCount() int {
	return idx.entryCount
}

// ClearFile drops the entries owned by n and the include edges leaving it.
// The file keeps its number.
func (idx *Index) ClearFile(n int) {
	if removed := len(idx.entries[n]); removed > 0 {
		idx.entryCount -= removed
		delete(idx.entries, n)
		idx.touch()
	}
	if _, ok := idx.includes[n]; ok {
		delete(idx.includes, n)
		idx.touch()
	}
}

// RemoveFile clears a file's content and hash; false if it was never indexed
func (idx *Index) RemoveFile(path string) bool {
	n, ok := idx.numbers[path]
	if !ok {
		return false
	}
	idx.ClearFile(n)
	delete(idx.hashes, n)
	return true
}

// Include graph

// AddInclude records that from includes to
func (idx *Index) AddInclude(from, to int) error {
	if from < 1 || from > len(idx.files) || to < 1 || to > len(idx.files) {
		return fmt.Errorf("%w: include %d->%d outside file table", types.ErrInvalidEntry, from, to)
	}
	set, ok := idx.includes[from]
	if !ok {
		set = make(map[int]struct{})
		idx.includes[from] = set
	}
	if _, dup := set[to]; !dup {
		set[to] = struct{}{}
		idx.touch()
	}
	return nil
}

// Includes returns the files directly included by from, sorted
func (idx *Index) Includes(from int) []int {
	out := make([]int, 0, len(idx.includes[from]))
	for to := range idx.includes[from] {
		out = append(out, to)
	}
	sort.Ints(out)
	return out
}

// Includers returns every file that includes n directly or transitively, sorted
func (idx *Index) Includers(n int) []int {
	reverse := make(map[int][]int)
	for from, set := range idx.includes {
		for to := range set {
			reverse[to] = append(reverse[to], from)
		}
	}

	seen := map[int]bool{n: true}
	queue := []int{n}
	var out []int
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, from := range reverse[cur] {
			if !seen[from] {
				seen[from] = true
				out = append(out, from)
				queue = append(queue, from)
			}
		}
	}
	sort.Ints(out)
	return out
}

// Dirty flag and state

// HasChanged reports whether the index differs from its durable copy
func (idx *Index) HasChanged() bool {
	return idx.changed.Load()
}

// MarkChanged flags the index dirty
func (idx *Index) MarkChanged() {
	idx.changed.Store(true)
}

func (idx *Index) clearChanged() {
	idx.changed.Store(false)
}

// State returns the consistency tag
func (idx *Index) State() State {
	return State(idx.state.Load())
}

// SetState sets the consistency tag
func (idx *Index) SetState(s State) {
	idx.state.Store(int32(s))
}

// MarkCancelled records that a job on this index was cancelled mid-way
func (idx *Index) MarkCancelled() {
	idx.cancelled.Store(true)
}

// WasCancelled reports whether the index may hold a half-finished update
func (idx *Index) WasCancelled() bool {
	return idx.cancelled.Load()
}

// ClearCancelled resets the cancelled bit after a full rebuild
func (idx *Index) ClearCancelled() {
	idx.cancelled.Store(false)
}

// Generation changes whenever the content changes
func (idx *Index) Generation() uint64 {
	return idx.generation.Load()
}

func (idx *Index) touch() {
	idx.generation.Add(1)
	idx.changed.Store(true)
}

// Reset empties the index for a full rebuild. This is the only operation
// that frees file numbers.
func (idx *Index) Reset() {
	idx.init()
	idx.touch()
}

// Serialization

// snapshot copies the content into its durable form
func (idx *Index) snapshot() *storage.Snapshot {
	snap := &storage.Snapshot{
		ProjectPath: idx.project,
		Files:       make([]storage.FileRecord, len(idx.files)),
		Entries:     make([]types.IndexEntry, 0, idx.entryCount),
	}
	for i, p := range idx.files {
		snap.Files[i] = storage.FileRecord{Number: i + 1, Path: p, ContentHash: idx.hashes[i+1]}
	}
	for n := 1; n <= len(idx.files); n++ {
		snap.Entries = append(snap.Entries, idx.entries[n]...)
		for _, to := range idx.Includes(n) {
			snap.Includes = append(snap.Includes, storage.IncludeEdge{From: n, To: to})
		}
	}
	return snap
}

// fromSnapshot rebuilds an index from its durable form
func fromSnapshot(snap *storage.Snapshot) (*Index, error) {
	idx := New(snap.ProjectPath)
	for i, f := range snap.Files {
		if f.Number != i+1 {
			return nil, fmt.Errorf("file table of %s is not dense at %d", snap.ProjectPath, f.Number)
		}
		idx.AddFile(f.Path)
		if f.ContentHash != 0 {
			idx.SetContentHash(f.Number, f.ContentHash)
		}
	}
	for _, e := range snap.Entries {
		if err := idx.AddEntry(e); err != nil {
			return nil, err
		}
	}
	for _, edge := range snap.Includes {
		if err := idx.AddInclude(edge.From, edge.To); err != nil {
			return nil, err
		}
	}
	idx.clearChanged()
	return idx, nil
}
