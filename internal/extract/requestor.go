package extract

import (
	"fmt"
	"log/slog"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/deps"
	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/logger"
	"github.com/dshills/cindex-mcp/internal/problems"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// DefaultOriginator tags problems produced by indexing
const DefaultOriginator = "cindex.indexer"

// RequestorConfig wires a Requestor to one index and one translation unit
type RequestorConfig struct {
	Index          *index.Index
	Project        string // absolute project root
	TU             string // absolute path of the translation unit
	Resolver       ResourceResolver
	Tracker        *deps.Tracker
	Problems       *problems.Collector
	ProblemMask    types.ProblemMask
	HeaderPatterns []string
	MemoHeaders    bool
	Originator     string
	Log            *slog.Logger
}

// Stats counts what one parse produced
type Stats struct {
	Declarations int
	References   int
	Includes     int
	Dropped      int // entries inside unmappable includes
	Invalid      int // entries the index rejected
	Problems     int
	NewHeaders   int // headers reached for the first time in this sweep
}

type frame struct {
	file int
	void bool
}

// Requestor receives parse events for one translation unit and writes them
// into the index, attributing each entry to the file it textually comes from.
// The caller holds the index's write lock for the whole parse.
type Requestor struct {
	cfg     RequestorConfig
	idx     *index.Index
	log     *slog.Logger
	tu      int
	stack   []frame
	cleared map[int]bool
	keys    map[int]string
	headers []string
	stats   Stats
	err     error
}

// NewRequestor assigns the translation unit its file number and clears what
// it owned before
func NewRequestor(cfg RequestorConfig) (*Requestor, error) {
	if cfg.Index == nil {
		return nil, types.ErrIndexMissing
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewFSResolver()
	}
	if cfg.Originator == "" {
		cfg.Originator = DefaultOriginator
	}
	log := cfg.Log
	if log == nil {
		log = logger.ForComponent("extract")
	}

	res := cfg.Resolver.Resolve(cfg.Project, cfg.TU)
	if !res.Valid() {
		return nil, fmt.Errorf("%w: cannot map %q into project %s", types.ErrInvalidEntry, cfg.TU, cfg.Project)
	}

	r := &Requestor{
		cfg:     cfg,
		idx:     cfg.Index,
		log:     log,
		cleared: make(map[int]bool),
		keys:    make(map[int]string),
	}
	r.tu = r.claim(res.Path)
	return r, nil
}

// claim looks up or creates the file and, the first time in this parse,
// drops what it owned and queues removal of its problems
func (r *Requestor) claim(key string) int {
	n := r.idx.AddFile(key)
	if !r.cleared[n] {
		r.cleared[n] = true
		r.keys[n] = ProblemKey(r.cfg.Project, key)
		r.idx.ClearFile(n)
		if r.cfg.Problems != nil {
			r.cfg.Problems.RemoveProblems(r.keys[n], r.cfg.Originator)
		}
	}
	return n
}

// ProblemKey names a file for problem markers: its absolute path when it has
// one, the file table key otherwise
func ProblemKey(project, key string) string {
	if abs := Abs(project, key); abs != "" {
		return abs
	}
	return key
}

// FileNumber returns the translation unit's number
func (r *Requestor) FileNumber() int {
	return r.tu
}

// owner returns the file that owns text at the current position
func (r *Requestor) owner() (int, bool) {
	if len(r.stack) == 0 {
		return r.tu, true
	}
	top := r.stack[len(r.stack)-1]
	return top.file, !top.void
}

func (r *Requestor) add(role types.Role, kind types.EntryKind, name types.QualifiedName, span types.Span) bool {
	owner, ok := r.owner()
	if !ok {
		r.stats.Dropped++
		return false
	}
	e := types.IndexEntry{
		Kind:       kind,
		Role:       role,
		Name:       name,
		FileNumber: owner,
		NameOffset: span.Offset,
		NameLength: span.Length,
	}
	if err := r.idx.AddEntry(e); err != nil {
		r.stats.Invalid++
		if r.err == nil {
			r.err = err
		}
		r.log.Debug("entry rejected", "name", name.String(), "kind", kind, "error", err)
		return false
	}
	return true
}

// OnDeclaration records a declaration
func (r *Requestor) OnDeclaration(kind types.EntryKind, name types.QualifiedName, span types.Span) {
	if r.add(types.RoleDeclaration, kind, name, span) {
		r.stats.Declarations++
	}
}

// OnReference records a reference
func (r *Requestor) OnReference(kind types.EntryKind, name types.QualifiedName, span types.Span) {
	if r.add(types.RoleReference, kind, name, span) {
		r.stats.References++
	}
}

// OnEnterInclude records the include against the including file and makes
// the included file the owner of what follows
func (r *Requestor) OnEnterInclude(inc types.Inclusion) {
	parent, parentOK := r.owner()
	res := r.cfg.Resolver.Resolve(r.cfg.Project, inc.FullPath())
	if !res.Valid() || !parentOK {
		r.log.Debug("dropping unmappable include", "path", inc.Path, "tu", r.cfg.TU)
		r.stack = append(r.stack, frame{void: true})
		return
	}

	n := r.claim(res.Path)
	r.stats.Includes++
	if r.add(types.RoleReference, types.KindInclude, types.QualifiedName{inc.Path}, inc.Span) {
		r.stats.References++
	}
	if err := r.idx.AddInclude(parent, n); err != nil && r.err == nil {
		r.err = err
	}

	if r.cfg.MemoHeaders && r.cfg.Tracker != nil && inc.Resolved != "" && config.MatchAny(r.cfg.HeaderPatterns, inc.Resolved) {
		if !r.cfg.Tracker.HaveEncounteredHeader(r.cfg.Project, inc.Resolved) {
			r.headers = append(r.headers, inc.Resolved)
			r.stats.NewHeaders++
		}
	}

	r.stack = append(r.stack, frame{file: n})
}

// OnExitInclude returns ownership to the including file
func (r *Requestor) OnExitInclude() {
	if len(r.stack) == 0 {
		r.log.Warn("unbalanced include exit", "tu", r.cfg.TU)
		return
	}
	r.stack = r.stack[:len(r.stack)-1]
}

// OnProblem buffers a diagnostic against the file it occurred in
func (r *Requestor) OnProblem(p types.Problem) {
	if p.ID == types.ProblemCircularInclusion {
		return
	}
	if !r.cfg.ProblemMask.Allows(p.Category) || r.cfg.Problems == nil {
		return
	}
	owner, ok := r.owner()
	if !ok {
		return
	}
	key, ok := r.keys[owner]
	if !ok {
		path, _ := r.idx.Path(owner)
		key = ProblemKey(r.cfg.Project, path)
	}
	r.cfg.Problems.AddProblem(key, r.cfg.Originator, p)
	r.stats.Problems++
}

// EncounteredHeaders lists absolute header paths reached for the first
// time during this sweep
func (r *Requestor) EncounteredHeaders() []string {
	return r.headers
}

// Finish returns the counts and the first index error. An include stack
// left open by a failed parse is discarded.
func (r *Requestor) Finish() (Stats, error) {
	if len(r.stack) > 0 {
		r.log.Debug("include stack left open", "depth", len(r.stack), "tu", r.cfg.TU)
		r.stack = nil
	}
	return r.stats, r.err
}
