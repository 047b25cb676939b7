package types

import (
	"errors"
	"strings"
)

// EntryKind identifies what kind of C/C++ entity an index entry records
type EntryKind string

const (
	KindClass        EntryKind = "class"
	KindStruct       EntryKind = "struct"
	KindUnion        EntryKind = "union"
	KindEnum         EntryKind = "enum"
	KindEnumConstant EntryKind = "enum_constant"
	KindTypedef      EntryKind = "typedef"
	KindVariable     EntryKind = "variable"
	KindField        EntryKind = "field"
	KindFunction     EntryKind = "function"
	KindMethod       EntryKind = "method"
	KindNamespace    EntryKind = "namespace"
	KindMacro        EntryKind = "macro"
	KindFwdClass     EntryKind = "fwd_class"
	KindFwdStruct    EntryKind = "fwd_struct"
	KindFwdUnion     EntryKind = "fwd_union"
	KindDerived      EntryKind = "derived"
	KindFriend       EntryKind = "friend"
	KindInclude      EntryKind = "include"
)

// AllKinds lists every entry kind in a stable order
var AllKinds = []EntryKind{
	KindClass, KindStruct, KindUnion, KindEnum, KindEnumConstant, KindTypedef,
	KindVariable, KindField, KindFunction, KindMethod, KindNamespace, KindMacro,
	KindFwdClass, KindFwdStruct, KindFwdUnion, KindDerived, KindFriend, KindInclude,
}

// Valid reports whether k is one of the known entry kinds
func (k EntryKind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// IsForward reports whether k is a forward declaration kind
func (k EntryKind) IsForward() bool {
	return k == KindFwdClass || k == KindFwdStruct || k == KindFwdUnion
}

// Role distinguishes declarations from references
type Role string

const (
	RoleDeclaration Role = "declaration"
	RoleReference   Role = "reference"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleDeclaration || r == RoleReference
}

// Modifier is a reserved bitset carried on entries
type Modifier uint32

const (
	ModPublic Modifier = 1 << iota
	ModProtected
	ModPrivate
	ModStatic
	ModConst
	ModVirtual
)

// Has reports whether all bits of m2 are set in m
func (m Modifier) Has(m2 Modifier) bool {
	return m&m2 == m2
}

// ScopeSeparator joins qualified name segments
const ScopeSeparator = "::"

// QualifiedName is an outer-to-inner sequence of name segments.
// Anonymous entities carry a single empty segment.
type QualifiedName []string

// Anonymous returns the synthetic name used for unnamed entities
func Anonymous() QualifiedName {
	return QualifiedName{""}
}

// ParseQualifiedName splits "a::b::c" into segments. A leading "::" is dropped.
func ParseQualifiedName(s string) QualifiedName {
	s = strings.TrimPrefix(s, ScopeSeparator)
	if s == "" {
		return Anonymous()
	}
	return QualifiedName(strings.Split(s, ScopeSeparator))
}

// String joins the segments with "::"
func (q QualifiedName) String() string {
	return strings.Join(q, ScopeSeparator)
}

// Last returns the innermost segment
func (q QualifiedName) Last() string {
	if len(q) == 0 {
		return ""
	}
	return q[len(q)-1]
}

// Qualifier returns every segment but the last
func (q QualifiedName) Qualifier() QualifiedName {
	if len(q) <= 1 {
		return nil
	}
	return q[:len(q)-1]
}

// IsAnonymous reports whether the innermost segment is empty
func (q QualifiedName) IsAnonymous() bool {
	return q.Last() == ""
}

// Child appends a segment, never aliasing the receiver's backing array
func (q QualifiedName) Child(segment string) QualifiedName {
	out := make(QualifiedName, len(q)+1)
	copy(out, q)
	out[len(q)] = segment
	return out
}

// Equal compares two names segment by segment
func (q QualifiedName) Equal(other QualifiedName) bool {
	if len(q) != len(other) {
		return false
	}
	for i := range q {
		if q[i] != other[i] {
			return false
		}
	}
	return true
}

// IndexEntry is one recorded fact about the source
type IndexEntry struct {
	Kind       EntryKind
	Role       Role
	Name       QualifiedName
	FileNumber int // owning file, not necessarily the translation unit
	NameOffset int
	NameLength int
	Modifiers  Modifier
}

// Validate checks the entry is well formed
func (e *IndexEntry) Validate() error {
	if !e.Kind.Valid() {
		return errors.Join(ErrInvalidEntry, errors.New("unknown entry kind "+string(e.Kind)))
	}
	if !e.Role.Valid() {
		return errors.Join(ErrInvalidEntry, errors.New("unknown role "+string(e.Role)))
	}
	if len(e.Name) == 0 {
		return errors.Join(ErrInvalidEntry, errors.New("qualified name is empty"))
	}
	if e.FileNumber < 1 {
		return errors.Join(ErrInvalidEntry, errors.New("file number must be >= 1"))
	}
	if e.NameOffset < 0 || e.NameLength < 0 {
		return errors.Join(ErrInvalidEntry, errors.New("name span must not be negative"))
	}
	return nil
}

// Key encodes role, kind and name so that entries sort by name within a
// kind. Inner segment first, qualifiers reversed after it.
func (e *IndexEntry) Key() string {
	var b strings.Builder
	b.WriteString(string(e.Role))
	b.WriteByte('/')
	b.WriteString(string(e.Kind))
	b.WriteByte('/')
	b.WriteString(e.Name.Last())
	for i := len(e.Name) - 2; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(e.Name[i])
	}
	return b.String()
}

// IndexedFile maps a path to its file number inside one index
type IndexedFile struct {
	Number int
	Path   string
}
