package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// Environment overrides
const (
	EnvDBPath   = "CINDEX_DB_PATH"
	EnvLogLevel = "CINDEX_LOG_LEVEL"
	EnvVerbose  = "CINDEX_VERBOSE"
	EnvConfig   = "CINDEX_CONFIG"
)

// Config is the global cindex configuration
type Config struct {
	DBPath  string        `yaml:"db_path"`
	Log     LogConfig     `yaml:"log"`
	Verbose bool          `yaml:"verbose"` // debug logging of every job
	Timing  bool          `yaml:"timing"`  // elapsed time on job logs
	Indexer IndexerConfig `yaml:"indexer"`
	Watch   WatchConfig   `yaml:"watch"`
	Search  SearchConfig  `yaml:"search"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// IndexerConfig controls scheduling and extraction
type IndexerConfig struct {
	IdleThreshold   time.Duration `yaml:"idle_threshold"`
	StarvationLimit int           `yaml:"starvation_limit"`
	MemoHeaders     bool          `yaml:"memo_headers"`
	SourcePatterns  []string      `yaml:"source_patterns"`
	HeaderPatterns  []string      `yaml:"header_patterns"`
	ExcludePatterns []string      `yaml:"exclude_patterns"`
	IncludeDirs     []string      `yaml:"include_dirs"`
	Problems        string        `yaml:"problems"` // e.g. "syntax,preprocessor"
	MaxFileSize     int64         `yaml:"max_file_size"`
}

// WatchConfig controls the file system watcher
type WatchConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DebounceWindow time.Duration `yaml:"debounce_window"`
	MaxBatchSize   int           `yaml:"max_batch_size"`
	IgnorePatterns []string      `yaml:"ignore_patterns"`
}

// SearchConfig controls the query surface
type SearchConfig struct {
	CacheSize    int `yaml:"cache_size"`
	DefaultLimit int `yaml:"default_limit"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DBPath: DefaultDBPath(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Indexer: IndexerConfig{
			IdleThreshold:   2 * time.Second,
			StarvationLimit: 16,
			MemoHeaders:     true,
			SourcePatterns:  []string{"*.c", "*.cc", "*.cpp", "*.cxx", "*.c++", "*.m", "*.mm"},
			HeaderPatterns:  []string{"*.h", "*.hh", "*.hpp", "*.hxx", "*.h++", "*.inl", "*.ipp"},
			ExcludePatterns: []string{"**/.git/**", "**/build/**", "**/cmake-build-*/**", "**/node_modules/**"},
			Problems:        "preprocessor,syntax",
			MaxFileSize:     4 << 20,
		},
		Watch: WatchConfig{
			Enabled:        true,
			DebounceWindow: 300 * time.Millisecond,
			MaxBatchSize:   100,
			IgnorePatterns: []string{"**/.git/**", "**/build/**", "**/*.o", "**/*.obj", "**/*.tmp"},
		},
		Search: SearchConfig{
			CacheSize:    1000,
			DefaultLimit: 50,
		},
	}
}

// DefaultDBPath returns ~/.cindex/cindex.db
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cindex", "cindex.db")
	}
	return filepath.Join(home, ".cindex", "cindex.db")
}

// DefaultPath returns the default configuration file path
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cindex", "config.yaml")
}

// Load reads a YAML configuration over the defaults. A missing file at the
// default location is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.ApplyEnv()
	cfg.DBPath = ExpandHome(cfg.DBPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Verbose = b
		}
	}
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	if c.Indexer.IdleThreshold <= 0 {
		return errors.New("indexer.idle_threshold must be positive")
	}
	if c.Indexer.StarvationLimit < 1 {
		return errors.New("indexer.starvation_limit must be at least 1")
	}
	if len(c.Indexer.SourcePatterns) == 0 {
		return errors.New("indexer.source_patterns must not be empty")
	}
	for _, p := range c.allPatterns() {
		if !ValidPattern(p) {
			return fmt.Errorf("invalid pattern %q", p)
		}
	}
	if c.Watch.Enabled && c.Watch.DebounceWindow <= 0 {
		return errors.New("watch.debounce_window must be positive")
	}
	if c.Watch.MaxBatchSize < 1 {
		c.Watch.MaxBatchSize = 1
	}
	if c.Search.CacheSize < 1 {
		return errors.New("search.cache_size must be at least 1")
	}
	return nil
}

func (c *Config) allPatterns() []string {
	var all []string
	all = append(all, c.Indexer.SourcePatterns...)
	all = append(all, c.Indexer.HeaderPatterns...)
	all = append(all, c.Indexer.ExcludePatterns...)
	all = append(all, c.Watch.IgnorePatterns...)
	return all
}

// ProblemMask returns the configured diagnostic categories
func (c *Config) ProblemMask() types.ProblemMask {
	return types.ParseProblemMask(c.Indexer.Problems)
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
