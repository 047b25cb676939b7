// Package config loads cindex configuration.
//
// The global configuration is YAML at ~/.cindex/config.yaml (or --config),
// layered over built-in defaults and overridden by CINDEX_* environment
// variables:
//
//	db_path: ~/.cindex/cindex.db
//	verbose: false
//	indexer:
//	  idle_threshold: 2s
//	  problems: preprocessor,syntax
//	  include_dirs: [/usr/local/include]
//	watch:
//	  debounce_window: 300ms
//
// A project may carry .cindex.yaml at its root to disable indexing, pick the
// recorded problem categories, or add include directories and exclusions.
// ProjectProvider serves those answers to the indexer.
package config
