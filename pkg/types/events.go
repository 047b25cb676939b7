package types

import "context"

// Span is a byte range inside one file
type Span struct {
	Offset int
	Length int
}

// Inclusion describes an #include directive reported by a parser
type Inclusion struct {
	Path     string // text between the quotes or angle brackets
	Span     Span   // location of the directive in the including file
	System   bool   // <...> form
	Resolved string // absolute path the parser opened, empty if none
}

// FullPath returns the best available path for the inclusion
func (i Inclusion) FullPath() string {
	if i.Resolved != "" {
		return i.Resolved
	}
	return i.Path
}

// ParseCallbacks receives the sequential event stream for one translation unit.
// Events inside included content arrive between OnEnterInclude and OnExitInclude.
type ParseCallbacks interface {
	OnDeclaration(kind EntryKind, name QualifiedName, span Span)
	OnReference(kind EntryKind, name QualifiedName, span Span)
	OnEnterInclude(inc Inclusion)
	OnExitInclude()
	OnProblem(p Problem)
}

// ParseRequest names the translation unit to parse
type ParseRequest struct {
	File        string   // absolute path of the translation unit
	IncludeDirs []string // searched for <...> and unresolved "..." includes
	Content     []byte   // optional; read from File when nil
}

// ParseEventSource drives ParseCallbacks over one translation unit.
// Implementations return ErrParseFailure (wrapped) when the parser gives up;
// events emitted before the failure stand.
type ParseEventSource interface {
	Parse(ctx context.Context, req ParseRequest, cb ParseCallbacks) error
}
