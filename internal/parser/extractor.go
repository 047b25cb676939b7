package parser

import (
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// symbolExtractor walks one file's syntax tree
type symbolExtractor struct {
	unit       *unit
	file       string
	src        []byte
	inFunction int
	err        error
}

func (x *symbolExtractor) text(n *tree_sitter.Node) string {
	return n.Utf8Text(x.src)
}

func (x *symbolExtractor) span(n *tree_sitter.Node) types.Span {
	return types.Span{Offset: int(n.StartByte()), Length: int(n.EndByte() - n.StartByte())}
}

func line(n *tree_sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

func (x *symbolExtractor) declare(kind types.EntryKind, name types.QualifiedName, n *tree_sitter.Node) {
	x.unit.cb.OnDeclaration(kind, name, x.span(n))
}

func (x *symbolExtractor) reference(kind types.EntryKind, name types.QualifiedName, n *tree_sitter.Node) {
	x.unit.cb.OnReference(kind, name, x.span(n))
}

func (x *symbolExtractor) children(n *tree_sitter.Node, scope types.QualifiedName) {
	for i := uint(0); i < n.ChildCount(); i++ {
		if x.err != nil {
			return
		}
		x.visit(n.Child(i), scope)
	}
}

// visit dispatches on node kind. scope is the enclosing namespace or class.
func (x *symbolExtractor) visit(n *tree_sitter.Node, scope types.QualifiedName) {
	if n == nil || x.err != nil {
		return
	}

	if n.IsMissing() {
		x.unit.cb.OnProblem(types.Problem{
			Category: types.CategorySyntax,
			ID:       types.ProblemMissingToken,
			Severity: types.SeverityError,
			Message:  fmt.Sprintf("missing %s", n.Kind()),
			Offset:   int(n.StartByte()),
			Line:     line(n),
		})
		return
	}

	switch n.Kind() {
	case "ERROR":
		x.unit.cb.OnProblem(types.Problem{
			Category: types.CategorySyntax,
			ID:       types.ProblemSyntaxError,
			Severity: types.SeverityError,
			Message:  "syntax error",
			Offset:   int(n.StartByte()),
			Line:     line(n),
		})
		x.children(n, scope)

	case "preproc_include":
		x.extractInclude(n)

	case "preproc_def", "preproc_function_def":
		if name := n.ChildByFieldName("name"); name != nil {
			x.declare(types.KindMacro, types.QualifiedName{x.text(name)}, name)
		}

	case "namespace_definition":
		x.extractNamespace(n, scope)

	case "class_specifier", "struct_specifier", "union_specifier":
		x.extractRecord(n, scope)

	case "enum_specifier":
		x.extractEnum(n, scope)

	case "function_definition":
		x.extractFunction(n, scope)

	case "declaration", "field_declaration":
		x.extractDeclaration(n, scope)

	case "friend_declaration":
		x.extractFriend(n, scope)

	case "type_definition":
		x.visitType(n.ChildByFieldName("type"), scope)
		x.eachDeclarator(n, func(d *tree_sitter.Node) {
			if name := innermostName(d); name != nil {
				x.declare(types.KindTypedef, scope.Child(x.text(name)), name)
			}
		})

	case "alias_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			x.declare(types.KindTypedef, scope.Child(x.text(name)), name)
		}
		x.visit(n.ChildByFieldName("type"), scope)

	case "using_declaration":
		// using namespace foo;
		for i := uint(0); i < n.ChildCount(); i++ {
			c := n.Child(i)
			if c.Kind() == "identifier" || c.Kind() == "qualified_identifier" {
				x.reference(types.KindNamespace, x.qualified(c), c)
			}
		}

	case "call_expression":
		x.extractCall(n, scope)

	case "field_expression":
		x.visit(n.ChildByFieldName("argument"), scope)
		if field := n.ChildByFieldName("field"); field != nil {
			x.reference(types.KindField, types.QualifiedName{x.text(field)}, field)
		}

	case "type_identifier":
		x.reference(types.KindClass, types.QualifiedName{x.text(n)}, n)

	case "qualified_identifier":
		if x.isTypePosition(n) {
			x.reference(types.KindClass, x.qualified(n), n)
			return
		}
		x.children(n, scope)

	case "template_parameter_list", "comment", "string_literal", "raw_string_literal",
		"char_literal", "number_literal", "preproc_arg", "system_lib_string":
		// nothing to index

	default:
		x.children(n, scope)
	}
}

func (x *symbolExtractor) extractInclude(n *tree_sitter.Node) {
	pathNode := n.ChildByFieldName("path")
	if pathNode == nil {
		return
	}
	directive, system := directivePath(x.text(pathNode))
	if directive == "" {
		return
	}
	if err := x.unit.include(x.file, directive, system, x.span(pathNode), line(n)); err != nil {
		x.err = err
	}
}

func (x *symbolExtractor) extractNamespace(n *tree_sitter.Node, scope types.QualifiedName) {
	inner := scope
	if name := n.ChildByFieldName("name"); name != nil {
		for _, seg := range x.qualified(name) {
			inner = inner.Child(seg)
		}
		x.declare(types.KindNamespace, inner, name)
	} else {
		inner = inner.Child("")
		x.declare(types.KindNamespace, inner, n)
	}
	x.visit(n.ChildByFieldName("body"), inner)
}

func recordKinds(kind string) (decl, fwd types.EntryKind) {
	switch kind {
	case "struct_specifier":
		return types.KindStruct, types.KindFwdStruct
	case "union_specifier":
		return types.KindUnion, types.KindFwdUnion
	default:
		return types.KindClass, types.KindFwdClass
	}
}

func (x *symbolExtractor) extractRecord(n *tree_sitter.Node, scope types.QualifiedName) {
	declKind, fwdKind := recordKinds(n.Kind())
	nameNode := n.ChildByFieldName("name")
	body := n.ChildByFieldName("body")

	var name types.QualifiedName
	if nameNode != nil {
		name = append(append(types.QualifiedName{}, scope...), x.qualified(nameNode)...)
	}

	if body == nil {
		if nameNode == nil {
			return
		}
		if isForwardDeclaration(n) {
			x.declare(fwdKind, name, nameNode)
		} else {
			x.reference(declKind, x.qualified(nameNode), nameNode)
		}
		return
	}

	if nameNode == nil {
		name = scope.Child("")
		x.declare(declKind, name, n)
	} else {
		x.declare(declKind, name, nameNode)
	}

	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c.Kind() == "base_class_clause" {
			x.extractBases(c)
		}
	}
	x.visit(body, name)
}

// isForwardDeclaration reports whether a bodiless record stands alone, as in
// "struct Foo;"
func isForwardDeclaration(n *tree_sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return false
	}
	switch parent.Kind() {
	case "translation_unit", "declaration_list", "field_declaration_list",
		"preproc_if", "preproc_ifdef", "preproc_else", "preproc_elif", "template_declaration":
		return true
	case "declaration", "field_declaration":
		return parent.ChildByFieldName("declarator") == nil
	}
	return false
}

func (x *symbolExtractor) extractBases(clause *tree_sitter.Node) {
	for i := uint(0); i < clause.ChildCount(); i++ {
		c := clause.Child(i)
		switch c.Kind() {
		case "type_identifier", "qualified_identifier", "template_type":
			x.declare(types.KindDerived, x.qualified(c), c)
		}
	}
}

func (x *symbolExtractor) extractEnum(n *tree_sitter.Node, scope types.QualifiedName) {
	nameNode := n.ChildByFieldName("name")
	body := n.ChildByFieldName("body")
	if body == nil {
		if nameNode != nil {
			x.reference(types.KindEnum, x.qualified(nameNode), nameNode)
		}
		return
	}

	if nameNode != nil {
		x.declare(types.KindEnum, scope.Child(x.text(nameNode)), nameNode)
	} else {
		x.declare(types.KindEnum, scope.Child(""), n)
	}

	// Enumerators live in the scope enclosing the enum
	for i := uint(0); i < body.ChildCount(); i++ {
		c := body.Child(i)
		if c.Kind() != "enumerator" {
			continue
		}
		if name := c.ChildByFieldName("name"); name != nil {
			x.declare(types.KindEnumConstant, scope.Child(x.text(name)), name)
		}
		x.visit(c.ChildByFieldName("value"), scope)
	}
}

func (x *symbolExtractor) extractFunction(n *tree_sitter.Node, scope types.QualifiedName) {
	x.visitType(n.ChildByFieldName("type"), scope)

	if fn := functionDeclarator(n.ChildByFieldName("declarator")); fn != nil {
		x.declareFunction(fn, scope)
		x.visit(fn.ChildByFieldName("parameters"), scope)
	}

	x.inFunction++
	x.visit(n.ChildByFieldName("body"), scope)
	x.inFunction--
}

// declareFunction records a function or method from its function_declarator
func (x *symbolExtractor) declareFunction(fn *tree_sitter.Node, scope types.QualifiedName) {
	nameNode := fn.ChildByFieldName("declarator")
	if nameNode == nil {
		return
	}
	kind := types.KindFunction
	if x.inRecord(fn) {
		kind = types.KindMethod
	}

	name := append(types.QualifiedName{}, scope...)
	if nameNode.Kind() == "qualified_identifier" {
		kind = types.KindMethod
		name = append(name, x.qualified(nameNode)...)
	} else {
		name = append(name, x.text(nameNode))
	}
	x.declare(kind, name, nameNode)
}

func (x *symbolExtractor) extractDeclaration(n *tree_sitter.Node, scope types.QualifiedName) {
	x.visitType(n.ChildByFieldName("type"), scope)

	field := n.Kind() == "field_declaration"
	x.eachDeclarator(n, func(d *tree_sitter.Node) {
		if fn := functionDeclarator(d); fn != nil {
			if x.inFunction == 0 {
				x.declareFunction(fn, scope)
			}
			x.visit(fn.ChildByFieldName("parameters"), scope)
			return
		}

		if name := innermostName(d); name != nil && x.inFunction == 0 {
			kind := types.KindVariable
			if field {
				kind = types.KindField
			}
			x.declare(kind, scope.Child(x.text(name)), name)
		}
		if d.Kind() == "init_declarator" {
			x.visit(d.ChildByFieldName("value"), scope)
		}
	})
	if field {
		x.visit(n.ChildByFieldName("default_value"), scope)
	}
}

func (x *symbolExtractor) extractFriend(n *tree_sitter.Node, scope types.QualifiedName) {
	for i := uint(0); i < n.ChildCount(); i++ {
		c := n.Child(i)
		switch c.Kind() {
		case "declaration":
			x.eachDeclarator(c, func(d *tree_sitter.Node) {
				if fn := functionDeclarator(d); fn != nil {
					if name := fn.ChildByFieldName("declarator"); name != nil {
						x.declare(types.KindFriend, x.qualified(name), name)
					}
				}
			})
		case "type_identifier", "qualified_identifier":
			x.declare(types.KindFriend, x.qualified(c), c)
		case "class_specifier", "struct_specifier", "union_specifier":
			if name := c.ChildByFieldName("name"); name != nil {
				x.declare(types.KindFriend, x.qualified(name), name)
			}
		}
	}
}

func (x *symbolExtractor) extractCall(n *tree_sitter.Node, scope types.QualifiedName) {
	fn := n.ChildByFieldName("function")
	if fn != nil {
		switch fn.Kind() {
		case "identifier":
			x.reference(types.KindFunction, types.QualifiedName{x.text(fn)}, fn)
		case "qualified_identifier":
			x.reference(types.KindFunction, x.qualified(fn), fn)
		case "field_expression":
			x.visit(fn.ChildByFieldName("argument"), scope)
			if field := fn.ChildByFieldName("field"); field != nil {
				x.reference(types.KindMethod, types.QualifiedName{x.text(field)}, field)
			}
		default:
			x.visit(fn, scope)
		}
	}
	x.visit(n.ChildByFieldName("arguments"), scope)
}

// visitType records references made by a declaration's type specifier,
// including nested record definitions
func (x *symbolExtractor) visitType(t *tree_sitter.Node, scope types.QualifiedName) {
	if t == nil {
		return
	}
	x.visit(t, scope)
}

func (x *symbolExtractor) eachDeclarator(n *tree_sitter.Node, fn func(*tree_sitter.Node)) {
	for i := uint(0); i < n.ChildCount(); i++ {
		if n.FieldNameForChild(uint32(i)) == "declarator" {
			fn(n.Child(i))
		}
	}
}

// inRecord reports whether a declarator sits directly in a class body
func (x *symbolExtractor) inRecord(n *tree_sitter.Node) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Kind() {
		case "field_declaration_list":
			return true
		case "compound_statement", "translation_unit", "declaration_list":
			return false
		}
	}
	return false
}

// isTypePosition reports whether a qualified identifier names a type
func (x *symbolExtractor) isTypePosition(n *tree_sitter.Node) bool {
	name := n.ChildByFieldName("name")
	for name != nil && name.Kind() == "qualified_identifier" {
		name = name.ChildByFieldName("name")
	}
	return name != nil && (name.Kind() == "type_identifier" || name.Kind() == "template_type")
}

// qualified splits a possibly qualified name node into segments, dropping
// template arguments
func (x *symbolExtractor) qualified(n *tree_sitter.Node) types.QualifiedName {
	text := x.text(n)
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch {
		case r == '<':
			depth++
		case r == '>':
			if depth > 0 {
				depth--
			}
		case depth > 0:
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
		default:
			b.WriteRune(r)
		}
	}
	return types.ParseQualifiedName(b.String())
}

// functionDeclarator finds the function_declarator under pointer, reference
// and parenthesized declarators
func functionDeclarator(d *tree_sitter.Node) *tree_sitter.Node {
	for d != nil {
		switch d.Kind() {
		case "function_declarator":
			return d
		case "pointer_declarator", "reference_declarator", "parenthesized_declarator", "attributed_declarator":
			d = d.ChildByFieldName("declarator")
			if d == nil {
				return nil
			}
		default:
			return nil
		}
	}
	return nil
}

// innermostName returns the identifier a declarator introduces
func innermostName(d *tree_sitter.Node) *tree_sitter.Node {
	for d != nil {
		switch d.Kind() {
		case "identifier", "field_identifier", "type_identifier":
			return d
		case "init_declarator", "pointer_declarator", "reference_declarator", "array_declarator",
			"parenthesized_declarator", "attributed_declarator", "function_declarator":
			d = d.ChildByFieldName("declarator")
		default:
			return nil
		}
	}
	return nil
}
