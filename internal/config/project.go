package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// ProjectFileName is the per-project settings file at the project root
const ProjectFileName = ".cindex.yaml"

// ProjectSettings are per-project overrides of the global configuration
type ProjectSettings struct {
	Disabled    bool     `yaml:"disabled"`
	Problems    *string  `yaml:"problems"`
	IncludeDirs []string `yaml:"include_dirs"`
	Exclude     []string `yaml:"exclude"`
}

// ProjectProvider answers per-project configuration questions, reading
// <root>/.cindex.yaml on first use
type ProjectProvider struct {
	global *Config

	mu    sync.Mutex
	cache map[string]*ProjectSettings
}

// NewProjectProvider creates a provider falling back to global settings
func NewProjectProvider(global *Config) *ProjectProvider {
	return &ProjectProvider{
		global: global,
		cache:  make(map[string]*ProjectSettings),
	}
}

// Settings returns the project's settings, empty if it has no settings file
func (p *ProjectProvider) Settings(project string) *ProjectSettings {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.cache[project]; ok {
		return s
	}
	s, err := LoadProjectSettings(project)
	if err != nil {
		// A broken settings file must not stop indexing
		s = &ProjectSettings{}
	}
	p.cache[project] = s
	return s
}

// LoadProjectSettings reads <project>/.cindex.yaml
func LoadProjectSettings(project string) (*ProjectSettings, error) {
	data, err := os.ReadFile(filepath.Join(project, ProjectFileName))
	if errors.Is(err, os.ErrNotExist) {
		return &ProjectSettings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project settings: %w", err)
	}
	var s ProjectSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse project settings: %w", err)
	}
	return &s, nil
}

// Invalidate forgets cached settings so the file is read again
func (p *ProjectProvider) Invalidate(project string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, project)
}

// IndexingEnabled reports whether the project should be indexed
func (p *ProjectProvider) IndexingEnabled(project string) bool {
	return !p.Settings(project).Disabled
}

// ProblemMask returns which diagnostic categories are recorded
func (p *ProjectProvider) ProblemMask(project string) types.ProblemMask {
	if s := p.Settings(project); s.Problems != nil {
		return types.ParseProblemMask(*s.Problems)
	}
	return p.global.ProblemMask()
}

// IncludeDirs returns the include search path: project directories first,
// relative entries resolved against the project root, then global ones
func (p *ProjectProvider) IncludeDirs(project string) []string {
	var dirs []string
	for _, d := range p.Settings(project).IncludeDirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(project, d)
		}
		dirs = append(dirs, d)
	}
	return append(dirs, p.global.Indexer.IncludeDirs...)
}

// ExcludePatterns returns global and project exclusions
func (p *ProjectProvider) ExcludePatterns(project string) []string {
	out := append([]string{}, p.global.Indexer.ExcludePatterns...)
	return append(out, p.Settings(project).Exclude...)
}
