package extract

import (
	"path/filepath"
	"strings"

	"go.lsp.dev/uri"
)

// unresolvedPrefix marks include paths the parser could not open
const unresolvedPrefix = "unresolved:"

// Resource is where an include path lands in an index's file table
type Resource struct {
	Path    string // file table key
	Tracked bool   // inside the project
}

// Valid reports whether the resource can own entries
func (r Resource) Valid() bool {
	return r.Path != ""
}

// ResourceResolver maps an include path to a file table key
type ResourceResolver interface {
	Resolve(project, path string) Resource
}

// FSResolver keys files inside the project by their slash separated
// project-relative path and files outside it by a file:// URI
type FSResolver struct{}

// NewFSResolver creates a file system resolver
func NewFSResolver() *FSResolver {
	return &FSResolver{}
}

// Resolve maps path, absolute or as written in the directive, to a key.
// An empty path cannot be mapped.
func (FSResolver) Resolve(project, path string) Resource {
	if path == "" {
		return Resource{}
	}
	if !filepath.IsAbs(path) {
		// the parser never found it; keep the text as an opaque key
		return Resource{Path: unresolvedPrefix + filepath.ToSlash(path)}
	}

	path = filepath.Clean(path)
	if rel, err := filepath.Rel(project, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Resource{Path: filepath.ToSlash(rel), Tracked: true}
	}
	return Resource{Path: string(uri.File(path))}
}

// Abs maps a file table key back to an absolute path, empty for keys that
// never named a readable file
func Abs(project, key string) string {
	switch {
	case key == "" || strings.HasPrefix(key, unresolvedPrefix):
		return ""
	case strings.HasPrefix(key, uri.FileScheme+"://"):
		return uri.URI(key).Filename()
	default:
		return filepath.Join(project, filepath.FromSlash(key))
	}
}

// IsExternal reports whether key names a file outside the project
func IsExternal(key string) bool {
	return strings.HasPrefix(key, uri.FileScheme+"://") || strings.HasPrefix(key, unresolvedPrefix)
}
