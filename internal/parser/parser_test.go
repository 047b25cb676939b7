package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// recorder captures the event stream as readable lines
type recorder struct {
	events   []string
	problems []types.Problem
	depth    int
}

func (r *recorder) OnDeclaration(kind types.EntryKind, name types.QualifiedName, _ types.Span) {
	r.events = append(r.events, fmt.Sprintf("%d decl %s %s", r.depth, kind, name))
}

func (r *recorder) OnReference(kind types.EntryKind, name types.QualifiedName, _ types.Span) {
	r.events = append(r.events, fmt.Sprintf("%d ref %s %s", r.depth, kind, name))
}

func (r *recorder) OnEnterInclude(inc types.Inclusion) {
	r.events = append(r.events, fmt.Sprintf("%d enter %s", r.depth, inc.Path))
	r.depth++
}

func (r *recorder) OnExitInclude() {
	r.depth--
	r.events = append(r.events, fmt.Sprintf("%d exit", r.depth))
}

func (r *recorder) OnProblem(p types.Problem) {
	r.problems = append(r.problems, p)
}

func (r *recorder) problemIDs() []types.ProblemID {
	var ids []types.ProblemID
	for _, p := range r.problems {
		ids = append(ids, p.ID)
	}
	return ids
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func parse(t *testing.T, dir, file string, includeDirs ...string) *recorder {
	t.Helper()
	rec := &recorder{}
	err := New().Parse(context.Background(), types.ParseRequest{
		File:        filepath.Join(dir, file),
		IncludeDirs: includeDirs,
	}, rec)
	require.NoError(t, err)
	return rec
}

func TestParse_IncludeChain(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.c": "#include \"b.h\"\n",
		"b.h": "#include \"c.h\"\nstruct Foo { int x; };\n",
		"c.h": "void bar();\n",
	})

	rec := parse(t, dir, "a.c")

	assert.Equal(t, []string{
		"0 enter b.h",
		"1 enter c.h",
		"2 decl function bar",
		"1 exit",
		"1 decl struct Foo",
		"1 decl field Foo::x",
		"0 exit",
	}, rec.events)
	assert.Empty(t, rec.problems)
}

func TestParse_Declarations(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"shapes.cpp": `#define PI 3.14
namespace geo {
class Shape {
public:
    virtual double area() const;
    int sides;
};
class Circle : public Shape {
    friend class Canvas;
    double r;
};
enum Color { RED, GREEN };
typedef int Length;
using Width = int;
struct Point;
double Shape::area() const { return 0; }
int counter = 0;
}
`,
	})

	rec := parse(t, dir, "shapes.cpp")

	for _, want := range []string{
		"0 decl macro PI",
		"0 decl namespace geo",
		"0 decl class geo::Shape",
		"0 decl method geo::Shape::area",
		"0 decl field geo::Shape::sides",
		"0 decl class geo::Circle",
		"0 decl derived Shape",
		"0 decl friend Canvas",
		"0 decl field geo::Circle::r",
		"0 decl enum geo::Color",
		"0 decl enum_constant geo::RED",
		"0 decl enum_constant geo::GREEN",
		"0 decl typedef geo::Length",
		"0 decl typedef geo::Width",
		"0 decl fwd_struct geo::Point",
		"0 decl variable geo::counter",
	} {
		assert.Contains(t, rec.events, want)
	}
	assert.Empty(t, rec.problems)
}

func TestParse_References(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"main.c": `struct Node { int value; };
int helper(int v);
int main(void) {
    struct Node n;
    n.value = helper(1);
    return n.value;
}
`,
	})

	rec := parse(t, dir, "main.c")

	assert.Contains(t, rec.events, "0 decl function helper")
	assert.Contains(t, rec.events, "0 decl function main")
	assert.Contains(t, rec.events, "0 ref function helper")
	assert.Contains(t, rec.events, "0 ref field value")
	assert.Contains(t, rec.events, "0 ref struct Node")
	// locals are not declarations
	assert.NotContains(t, rec.events, "0 decl variable n")
}

func TestParse_MissingInclude(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.c": "#include \"nowhere.h\"\nint x;\n",
	})

	rec := parse(t, dir, "a.c")

	assert.Equal(t, []types.ProblemID{types.ProblemInclusionNotFound}, rec.problemIDs())
	assert.Equal(t, 1, rec.problems[0].Line)
	assert.Equal(t, []string{"0 decl variable x"}, rec.events)
}

func TestParse_CircularInclusion(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.c": "#include \"x.h\"\n",
		"x.h": "#include \"y.h\"\nint fromX;\n",
		"y.h": "#include \"x.h\"\nint fromY;\n",
	})

	rec := parse(t, dir, "a.c")

	assert.Equal(t, []types.ProblemID{types.ProblemCircularInclusion}, rec.problemIDs())
	assert.Equal(t, []string{
		"0 enter x.h",
		"1 enter y.h",
		"2 decl variable fromY",
		"1 exit",
		"1 decl variable fromX",
		"0 exit",
	}, rec.events)
}

func TestParse_RepeatedIncludeHasNoContent(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.c": "#include \"b.h\"\n#include \"b.h\"\n",
		"b.h": "int once;\n",
	})

	rec := parse(t, dir, "a.c")

	assert.Equal(t, []string{
		"0 enter b.h",
		"1 decl variable once",
		"0 exit",
		"0 enter b.h",
		"0 exit",
	}, rec.events)
}

func TestParse_SystemIncludeUsesIncludeDirs(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"src/a.c":       "#include <lib.h>\n",
		"src/lib.h":     "int wrong;\n",
		"include/lib.h": "int right;\n",
	})

	rec := parse(t, dir, "src/a.c", filepath.Join(dir, "include"))

	assert.Equal(t, []string{
		"0 enter lib.h",
		"1 decl variable right",
		"0 exit",
	}, rec.events)
}

func TestParse_SyntaxErrorsKeepPartialResults(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"bad.c": "int good;\nint broken( {\nint alsoGood;\n",
	})

	rec := parse(t, dir, "bad.c")

	assert.Contains(t, rec.events, "0 decl variable good")
	require.NotEmpty(t, rec.problems)
	for _, p := range rec.problems {
		assert.Equal(t, types.CategorySyntax, p.Category)
	}
}

func TestParse_ContentOverridesFile(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.c": "int onDisk;\n"})

	rec := &recorder{}
	err := New().Parse(context.Background(), types.ParseRequest{
		File:    filepath.Join(dir, "a.c"),
		Content: []byte("int inBuffer;\n"),
	}, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"0 decl variable inBuffer"}, rec.events)
}

func TestParse_UnreadableFile(t *testing.T) {
	err := New().Parse(context.Background(), types.ParseRequest{File: "/does/not/exist.c"}, &recorder{})
	assert.ErrorIs(t, err, types.ErrParseFailure)
}

func TestParse_Cancelled(t *testing.T) {
	dir := writeFiles(t, map[string]string{"a.c": "int x;\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().Parse(ctx, types.ParseRequest{File: filepath.Join(dir, "a.c")}, &recorder{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirectivePath(t *testing.T) {
	path, system := directivePath(`"net/socket.h"`)
	assert.Equal(t, "net/socket.h", path)
	assert.False(t, system)

	path, system = directivePath("<stdio.h>")
	assert.Equal(t, "stdio.h", path)
	assert.True(t, system)
}
