package index

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// MatchMode selects how the innermost name segment is compared
type MatchMode int

const (
	MatchExact   MatchMode = iota
	MatchPrefix            // segment starts with the query
	MatchPattern           // glob with *, ? and {a,b}
)

var matchModeNames = map[MatchMode]string{
	MatchExact:   "exact",
	MatchPrefix:  "prefix",
	MatchPattern: "pattern",
}

func (m MatchMode) String() string {
	if name, ok := matchModeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ParseMatchMode maps "exact", "prefix" or "pattern" to a MatchMode.
// The empty string is MatchExact.
func ParseMatchMode(s string) (MatchMode, bool) {
	if s == "" {
		return MatchExact, true
	}
	for mode, name := range matchModeNames {
		if strings.EqualFold(name, s) {
			return mode, true
		}
	}
	return MatchExact, false
}

// Query selects entries from an index
type Query struct {
	// Name is matched against the innermost segment. Leading qualifiers
	// ("ns::Foo") must match the entry's enclosing scopes; a leading "::"
	// anchors the name at global scope.
	Name            string
	Mode            MatchMode
	Kinds           []types.EntryKind // empty means any kind
	Role            types.Role        // empty means any role
	FileNumber      int               // zero means any file
	CaseInsensitive bool
	Limit           int // zero means no limit
}

// compiledQuery is a Query with its name pre-split and normalized
type compiledQuery struct {
	Query
	last       string
	qualifiers []string
	anchored   bool
	kinds      map[types.EntryKind]bool
}

func compile(q Query) compiledQuery {
	cq := compiledQuery{Query: q}
	cq.anchored = strings.HasPrefix(q.Name, types.ScopeSeparator)
	name := types.ParseQualifiedName(q.Name)
	cq.last = cq.fold(name.Last())
	for _, s := range name.Qualifier() {
		cq.qualifiers = append(cq.qualifiers, cq.fold(s))
	}
	if len(q.Kinds) > 0 {
		cq.kinds = make(map[types.EntryKind]bool, len(q.Kinds))
		for _, k := range q.Kinds {
			cq.kinds[k] = true
		}
	}
	return cq
}

func (cq *compiledQuery) fold(s string) string {
	if cq.CaseInsensitive {
		return strings.ToLower(s)
	}
	return s
}

func (cq *compiledQuery) matches(e *types.IndexEntry) bool {
	if cq.kinds != nil && !cq.kinds[e.Kind] {
		return false
	}
	if cq.Role != "" && e.Role != cq.Role {
		return false
	}
	if cq.FileNumber != 0 && e.FileNumber != cq.FileNumber {
		return false
	}
	if !cq.matchSegment(cq.fold(e.Name.Last())) {
		return false
	}

	scopes := e.Name.Qualifier()
	if cq.anchored && len(scopes) != len(cq.qualifiers) {
		return false
	}
	if len(cq.qualifiers) > len(scopes) {
		return false
	}
	offset := len(scopes) - len(cq.qualifiers)
	for i, want := range cq.qualifiers {
		if cq.fold(scopes[offset+i]) != want {
			return false
		}
	}
	return true
}

func (cq *compiledQuery) matchSegment(segment string) bool {
	switch cq.Mode {
	case MatchPrefix:
		return strings.HasPrefix(segment, cq.last)
	case MatchPattern:
		ok, err := doublestar.Match(cq.last, segment)
		return err == nil && ok
	default:
		return segment == cq.last
	}
}

// Query returns matching entries ordered by qualified name, file and offset.
// Callers hold the read lock.
func (idx *Index) Query(q Query) []types.IndexEntry {
	cq := compile(q)

	var out []types.IndexEntry
	visit := func(list []types.IndexEntry) {
		for i := range list {
			if cq.matches(&list[i]) {
				out = append(out, list[i])
			}
		}
	}
	if q.FileNumber != 0 {
		visit(idx.entries[q.FileNumber])
	} else {
		for n := 1; n <= len(idx.files); n++ {
			visit(idx.entries[n])
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Name.String(), out[j].Name.String()
		if a != b {
			return a < b
		}
		if out[i].FileNumber != out[j].FileNumber {
			return out[i].FileNumber < out[j].FileNumber
		}
		return out[i].NameOffset < out[j].NameOffset
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// ValidatePattern reports whether a MatchPattern query name is well formed
func ValidatePattern(name string) bool {
	return doublestar.ValidatePattern(types.ParseQualifiedName(name).Last())
}

// Names returns every distinct innermost declaration name, used for
// suggestions when a query finds nothing. Callers hold the read lock.
func (idx *Index) Names() []string {
	seen := make(map[string]struct{})
	for _, list := range idx.entries {
		for i := range list {
			if list[i].Role == types.RoleDeclaration && !list[i].Name.IsAnonymous() {
				seen[list[i].Name.Last()] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
