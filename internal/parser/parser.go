package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"

	"github.com/dshills/cindex-mcp/internal/logger"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// maxIncludeDepth bounds include expansion for pathological header graphs
const maxIncludeDepth = 64

// Parser is a tree-sitter backed event source for C and C++ translation
// units. It expands #include directives itself so that callbacks see the
// included content in place.
type Parser struct {
	lang     *tree_sitter.Language
	readFile func(string) ([]byte, error)
	log      *slog.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithReadFile replaces os.ReadFile, used for tests and editor buffers
func WithReadFile(fn func(string) ([]byte, error)) Option {
	return func(p *Parser) { p.readFile = fn }
}

// New creates a new Parser instance
func New(opts ...Option) *Parser {
	p := &Parser{
		lang:     tree_sitter.NewLanguage(tree_sitter_cpp.Language()),
		readFile: os.ReadFile,
		log:      logger.ForComponent("parser"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse walks the translation unit and everything it includes, reporting
// events in textual order. Entries reported before a failure stand.
func (p *Parser) Parse(ctx context.Context, req types.ParseRequest, cb types.ParseCallbacks) error {
	content := req.Content
	if content == nil {
		var err error
		content, err = p.readFile(req.File)
		if err != nil {
			return fmt.Errorf("%w: failed to read file: %v", types.ErrParseFailure, err)
		}
	}

	ts := tree_sitter.NewParser()
	defer ts.Close()
	if err := ts.SetLanguage(p.lang); err != nil {
		return fmt.Errorf("%w: %v", types.ErrParseFailure, err)
	}

	u := &unit{
		ctx:         ctx,
		parser:      p,
		ts:          ts,
		cb:          cb,
		includeDirs: req.IncludeDirs,
		active:      map[string]bool{filepath.Clean(req.File): true},
		expanded:    make(map[string]bool),
	}
	return u.parseFile(filepath.Clean(req.File), content)
}

// unit is the state of one translation unit parse
type unit struct {
	ctx         context.Context
	parser      *Parser
	ts          *tree_sitter.Parser
	cb          types.ParseCallbacks
	includeDirs []string
	active      map[string]bool // files on the include stack
	expanded    map[string]bool // headers already expanded once
	depth       int
}

func (u *unit) parseFile(path string, content []byte) error {
	if err := u.ctx.Err(); err != nil {
		return err
	}

	// tree-sitter may write into the buffer
	buf := make([]byte, len(content))
	copy(buf, content)

	tree := u.ts.Parse(buf, nil)
	if tree == nil {
		return fmt.Errorf("%w: %s", types.ErrParseFailure, path)
	}
	defer tree.Close()

	x := &symbolExtractor{
		unit: u,
		file: path,
		src:  buf,
	}
	x.visit(tree.RootNode(), nil)
	return x.err
}

// include handles one #include directive found in file
func (u *unit) include(file string, directive string, system bool, span types.Span, line int) error {
	if err := u.ctx.Err(); err != nil {
		return err
	}

	resolved := u.resolve(file, directive, system)
	if resolved == "" {
		u.cb.OnProblem(types.Problem{
			Category: types.CategoryPreprocessor,
			ID:       types.ProblemInclusionNotFound,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("include file not found: %s", directive),
			Offset:   span.Offset,
			Line:     line,
		})
		return nil
	}

	inc := types.Inclusion{Path: directive, Span: span, System: system, Resolved: resolved}

	if u.active[resolved] || u.depth >= maxIncludeDepth {
		u.cb.OnProblem(types.Problem{
			Category: types.CategoryPreprocessor,
			ID:       types.ProblemCircularInclusion,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("circular inclusion of %s", directive),
			Offset:   span.Offset,
			Line:     line,
		})
		return nil
	}

	// An include guard would hide the second expansion
	if u.expanded[resolved] {
		u.cb.OnEnterInclude(inc)
		u.cb.OnExitInclude()
		return nil
	}

	content, err := u.parser.readFile(resolved)
	if err != nil {
		u.parser.log.Debug("failed to read include", "path", resolved, "error", err)
		u.cb.OnProblem(types.Problem{
			Category: types.CategoryPreprocessor,
			ID:       types.ProblemInclusionNotFound,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("include file not readable: %s", directive),
			Offset:   span.Offset,
			Line:     line,
		})
		return nil
	}

	u.expanded[resolved] = true
	u.active[resolved] = true
	u.depth++
	u.cb.OnEnterInclude(inc)

	err = u.parseFile(resolved, content)

	u.cb.OnExitInclude()
	u.depth--
	delete(u.active, resolved)

	// A broken header does not stop its includer
	if errors.Is(err, types.ErrParseFailure) {
		u.parser.log.Debug("failed to parse include", "path", resolved, "error", err)
		return nil
	}
	return err
}

// resolve finds the file a directive names. Quoted includes are looked up
// next to the including file first.
func (u *unit) resolve(file, directive string, system bool) string {
	if filepath.IsAbs(directive) {
		if exists(directive) {
			return filepath.Clean(directive)
		}
		return ""
	}
	var dirs []string
	if !system {
		dirs = append(dirs, filepath.Dir(file))
	}
	dirs = append(dirs, u.includeDirs...)
	for _, dir := range dirs {
		candidate := filepath.Join(dir, filepath.FromSlash(directive))
		if exists(candidate) {
			return candidate
		}
	}
	return ""
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// directivePath strips quotes or angle brackets from an include path
func directivePath(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<") && strings.HasSuffix(text, ">") {
		return strings.TrimSpace(text[1 : len(text)-1]), true
	}
	return strings.Trim(text, `"`), false
}
