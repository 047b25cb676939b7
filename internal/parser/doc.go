// Package parser reports declarations, references, includes and syntax
// problems of C and C++ translation units.
//
// Parsing uses tree-sitter's C++ grammar, which also accepts C. There is no
// preprocessor: every branch of a conditional is walked and macros are not
// expanded. #include directives are resolved against the including file's
// directory (quoted form only) and the configured include directories, and
// the resolved file is parsed in place between OnEnterInclude and
// OnExitInclude:
//
//	p := parser.New()
//	err := p.Parse(ctx, types.ParseRequest{File: "/src/a.c"}, callbacks)
//
// A header already expanded in the same translation unit is entered and left
// with no content, the way an include guard behaves. A header already on the
// include stack is reported as circular inclusion and not expanded.
package parser
