package index

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cindex-mcp/pkg/types"
)

func queryFixture(t *testing.T) *Index {
	idx := New("/proj")
	a := idx.AddFile("a.cpp")
	b := idx.AddFile("b.h")
	for _, e := range []types.IndexEntry{
		decl(types.KindClass, "net::Socket", b, 10),
		decl(types.KindMethod, "net::Socket::connect", b, 40),
		decl(types.KindFunction, "connect", a, 5),
		decl(types.KindFunction, "net::detail::connect", b, 90),
		decl(types.KindStruct, "SocketOptions", b, 120),
		{Kind: types.KindFunction, Role: types.RoleReference, Name: types.QualifiedName{"connect"}, FileNumber: a, NameOffset: 60},
	} {
		require.NoError(t, idx.AddEntry(e))
	}
	return idx
}

func names(entries []types.IndexEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name.String()
	}
	return out
}

func TestQueryModes(t *testing.T) {
	idx := queryFixture(t)

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"exact", Query{Name: "Socket"}, []string{"net::Socket"}},
		{"prefix", Query{Name: "Sock", Mode: MatchPrefix}, []string{"SocketOptions", "net::Socket"}},
		{"pattern", Query{Name: "*Opt*", Mode: MatchPattern}, []string{"SocketOptions"}},
		{"alternation", Query{Name: "{Socket,SocketOptions}", Mode: MatchPattern}, []string{"SocketOptions", "net::Socket"}},
		{"case insensitive", Query{Name: "socket", CaseInsensitive: true}, []string{"net::Socket"}},
		{"case sensitive miss", Query{Name: "socket"}, nil},
		{"qualified suffix", Query{Name: "Socket::connect"}, []string{"net::Socket::connect"}},
		{"anchored global", Query{Name: "::connect", Role: types.RoleDeclaration}, []string{"connect"}},
		{"kind filter", Query{Name: "connect", Kinds: []types.EntryKind{types.KindMethod}}, []string{"net::Socket::connect"}},
		{"role filter", Query{Name: "connect", Role: types.RoleReference}, []string{"connect"}},
		{"file filter", Query{Name: "connect", FileNumber: 1}, []string{"connect", "connect"}},
		{"limit", Query{Name: "connect", Limit: 2}, []string{"connect", "connect"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := idx.Query(tt.query)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestQueryOrdering(t *testing.T) {
	idx := queryFixture(t)
	got := idx.Query(Query{Name: "connect"})
	require.Len(t, got, 4)

	// Sorted by qualified name, then file, then offset
	assert.Equal(t, "connect", got[0].Name.String())
	assert.Equal(t, 5, got[0].NameOffset)
	assert.Equal(t, 60, got[1].NameOffset)
	assert.Equal(t, "net::Socket::connect", got[2].Name.String())
	assert.Equal(t, "net::detail::connect", got[3].Name.String())
}

func TestValidatePattern(t *testing.T) {
	assert.True(t, ValidatePattern("Sock*"))
	assert.False(t, ValidatePattern("Sock["))
}

func TestNames(t *testing.T) {
	idx := queryFixture(t)
	assert.Equal(t, []string{"Socket", "SocketOptions", "connect"}, idx.Names())
}

func TestParseMatchMode(t *testing.T) {
	for _, s := range []string{"", "exact", "Prefix", "pattern"} {
		mode, ok := ParseMatchMode(s)
		assert.True(t, ok, s)
		if s != "" {
			assert.Equal(t, strings.ToLower(s), mode.String())
		}
	}
	_, ok := ParseMatchMode("fuzzy")
	assert.False(t, ok)
}
