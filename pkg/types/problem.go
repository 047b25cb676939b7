package types

import "strings"

// ProblemCategory groups diagnostics for filtering
type ProblemCategory string

const (
	CategoryPreprocessor ProblemCategory = "preprocessor"
	CategorySemantic     ProblemCategory = "semantic"
	CategorySyntax       ProblemCategory = "syntax"
)

// ProblemID identifies a specific diagnostic kind
type ProblemID string

const (
	ProblemCircularInclusion ProblemID = "circular_inclusion"
	ProblemInclusionNotFound ProblemID = "inclusion_not_found"
	ProblemSyntaxError       ProblemID = "syntax_error"
	ProblemMissingToken      ProblemID = "missing_token"
	ProblemUnresolvedName    ProblemID = "unresolved_name"
)

// Severity of a diagnostic
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Problem is one diagnostic reported while parsing
type Problem struct {
	Category   ProblemCategory
	ID         ProblemID
	Severity   Severity
	Message    string
	File       string // owning file, filled in by the requestor
	Offset     int
	Line       int // 1-based
	Originator string
}

// ProblemMask selects which categories are recorded
type ProblemMask uint8

const (
	MaskPreprocessor ProblemMask = 1 << iota
	MaskSemantic
	MaskSyntax

	MaskNone ProblemMask = 0
	MaskAll              = MaskPreprocessor | MaskSemantic | MaskSyntax
)

// Allows reports whether the mask records problems of category c
func (m ProblemMask) Allows(c ProblemCategory) bool {
	switch c {
	case CategoryPreprocessor:
		return m&MaskPreprocessor != 0
	case CategorySemantic:
		return m&MaskSemantic != 0
	case CategorySyntax:
		return m&MaskSyntax != 0
	default:
		return false
	}
}

// ParseProblemMask reads a comma separated list such as "syntax,preprocessor".
// "all" and "none" are accepted.
func ParseProblemMask(s string) ProblemMask {
	var m ProblemMask
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "all":
			m |= MaskAll
		case "preprocessor":
			m |= MaskPreprocessor
		case "semantic":
			m |= MaskSemantic
		case "syntax":
			m |= MaskSyntax
		}
	}
	return m
}
