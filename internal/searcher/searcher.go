package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2"
	"github.com/hbollon/go-edlib"

	"github.com/dshills/cindex-mcp/internal/extract"
	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/pkg/types"
)

const (
	// DefaultCacheSize bounds the number of cached query results
	DefaultCacheSize = 1000
	// DefaultLimit applies when a request sets no limit
	DefaultLimit = 50
	// MaxLimit caps any request
	MaxLimit = 1000

	suggestionThreshold = 0.8
)

// ErrEmptyQuery is returned for a request without a name
var ErrEmptyQuery = errors.New("query name cannot be empty")

// ErrBadPattern is returned for a malformed wildcard pattern
var ErrBadPattern = errors.New("malformed name pattern")

// Searcher answers symbol queries against resident indexes
type Searcher struct {
	store        *index.Store
	defaultLimit int
	cache        *lru.Cache[[32]byte, *cacheEntry]
	cacheMu      sync.RWMutex // Protects cache operations to prevent race conditions
}

// cacheEntry represents a cached query result with expiration
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// SearchRequest contains the parameters of a symbol query
type SearchRequest struct {
	Project  string
	Query    index.Query
	UseCache bool
	CacheTTL time.Duration
	// Suggest is the number of similar names to offer when nothing matches
	Suggest int
}

// Result is one matching entry with its file resolved to an absolute path
type Result struct {
	Rank   int
	Name   string
	Kind   types.EntryKind
	Role   types.Role
	File   string
	Offset int
	Length int
}

// SearchResponse contains query results and metadata
type SearchResponse struct {
	Results     []Result
	Total       int // matches before the limit was applied
	Generation  uint64
	Duration    time.Duration
	CacheHit    bool
	Suggestions []string
}

// New creates a searcher over store with a cache of cacheSize entries
func New(store *index.Store, cacheSize, defaultLimit int) *Searcher {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// Only fails for a non-positive size, excluded above
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		store:        store,
		defaultLimit: defaultLimit,
		cache:        cache,
	}
}

// Search runs req against the resident or durable index of req.Project.
// A project that was never indexed yields types.ErrIndexMissing.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()

	if err := s.validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	idx, err := s.store.GetIndex(ctx, req.Project, true, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get index: %w", err)
	}
	monitor := s.store.GetMonitorFor(idx)
	if monitor == nil {
		return nil, fmt.Errorf("%s: %w", req.Project, types.ErrIndexMissing)
	}

	if err := monitor.EnterReadContext(ctx); err != nil {
		return nil, err
	}
	defer monitor.ExitRead()

	generation := idx.Generation()
	if req.UseCache {
		if cached, err := s.checkCache(req, generation); err == nil {
			cached.CacheHit = true
			cached.Duration = time.Since(start)
			return cached, nil
		}
	}

	// Total counts every match, so the limit is applied here
	unbounded := req.Query
	unbounded.Limit = 0
	entries := idx.Query(unbounded)
	total := len(entries)
	if len(entries) > req.Query.Limit {
		entries = entries[:req.Query.Limit]
	}
	response := &SearchResponse{
		Results:    make([]Result, 0, len(entries)),
		Total:      total,
		Generation: generation,
	}
	for i, e := range entries {
		key, _ := idx.Path(e.FileNumber)
		response.Results = append(response.Results, Result{
			Rank:   i + 1,
			Name:   e.Name.String(),
			Kind:   e.Kind,
			Role:   e.Role,
			File:   extract.ProblemKey(idx.Project(), key),
			Offset: e.NameOffset,
			Length: e.NameLength,
		})
	}
	if len(entries) == 0 && req.Suggest > 0 {
		response.Suggestions = suggest(idx.Names(), req.Query, req.Suggest)
	}
	response.Duration = time.Since(start)

	if req.UseCache {
		s.storeInCache(req, generation, response)
	}
	return response, nil
}

// Suggest returns up to n declared names similar to name
func (s *Searcher) Suggest(ctx context.Context, project, name string, n int) ([]string, error) {
	idx, err := s.store.GetIndex(ctx, project, true, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get index: %w", err)
	}
	monitor := s.store.GetMonitorFor(idx)
	if monitor == nil {
		return nil, fmt.Errorf("%s: %w", project, types.ErrIndexMissing)
	}
	if err := monitor.EnterReadContext(ctx); err != nil {
		return nil, err
	}
	defer monitor.ExitRead()

	return suggest(idx.Names(), index.Query{Name: name}, n), nil
}

// suggest ranks names by Jaro-Winkler similarity to the query's innermost
// segment
func suggest(names []string, q index.Query, n int) []string {
	target := types.ParseQualifiedName(q.Name).Last()
	if target == "" || n <= 0 {
		return nil
	}
	target = strings.ToLower(strings.Trim(target, "*?"))

	type scored struct {
		name  string
		score float32
	}
	var candidates []scored
	for _, name := range names {
		score, err := edlib.StringsSimilarity(target, strings.ToLower(name), edlib.JaroWinkler)
		if err != nil || score < suggestionThreshold {
			continue
		}
		candidates = append(candidates, scored{name, score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}

// validateRequest ensures search request is valid
func (s *Searcher) validateRequest(req *SearchRequest) error {
	if req.Project == "" {
		return fmt.Errorf("project cannot be empty")
	}
	if strings.TrimPrefix(req.Query.Name, types.ScopeSeparator) == "" {
		return ErrEmptyQuery
	}
	if req.Query.Mode == index.MatchPattern && !index.ValidatePattern(req.Query.Name) {
		return fmt.Errorf("%w: %q", ErrBadPattern, req.Query.Name)
	}

	if req.Query.Limit <= 0 {
		req.Query.Limit = s.defaultLimit
	}
	if req.Query.Limit > MaxLimit {
		req.Query.Limit = MaxLimit
	}

	if req.CacheTTL == 0 {
		req.CacheTTL = 1 * time.Hour
	}
	return nil
}

// checkCache looks up cached search results
func (s *Searcher) checkCache(req SearchRequest, generation uint64) (*SearchResponse, error) {
	hash := computeQueryHash(req, generation)
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)

	if !found {
		s.cacheMu.RUnlock()
		return nil, fmt.Errorf("cache miss")
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil, fmt.Errorf("cache expired")
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response, nil
}

// storeInCache saves search results to cache
func (s *Searcher) storeInCache(req SearchRequest, generation uint64, response *SearchResponse) {
	hash := computeQueryHash(req, generation)

	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(req.CacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(hash, entry)
	s.cacheMu.Unlock()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = append([]Result(nil), src.Results...)
	dst.Suggestions = append([]string(nil), src.Suggestions...)
	return &dst
}

// computeQueryHash computes a unique hash for a request against one index
// generation. Any mutation of the index changes the generation, so stale
// entries are never hit and age out of the LRU.
func computeQueryHash(req SearchRequest, generation uint64) [32]byte {
	q := req.Query
	kinds := make([]string, len(q.Kinds))
	for i, k := range q.Kinds {
		kinds[i] = string(k)
	}
	sort.Strings(kinds)

	var data strings.Builder
	data.WriteString(req.Project)
	fmt.Fprintf(&data, "|%d|%s|%d|%s|%s|%d|%t|%d|%d",
		generation, q.Name, q.Mode, strings.Join(kinds, ","), q.Role,
		q.FileNumber, q.CaseInsensitive, q.Limit, req.Suggest)

	return sha256.Sum256([]byte(data.String()))
}

// InvalidateCache drops every cached result. LRU cache doesn't support
// filtering by project, so the whole cache is purged.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen reports the number of cached results
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}
