package storage

import (
	"context"
	"time"

	"github.com/dshills/cindex-mcp/pkg/types"
)

// Storage defines durable persistence for per-project indexes.
// Every index is keyed by its project root path.
type Storage interface {
	// LoadIndex returns the last saved snapshot, or ErrNotFound
	LoadIndex(ctx context.Context, projectPath string) (*Snapshot, error)
	// SaveIndex atomically replaces the durable copy of a project's index
	SaveIndex(ctx context.Context, snap *Snapshot) error
	// DeleteIndex removes the durable copy; ErrNotFound if there is none
	DeleteIndex(ctx context.Context, projectPath string) error
	// ListIndexes describes every durable index
	ListIndexes(ctx context.Context) ([]IndexInfo, error)

	// Database operations
	CheckHealth(ctx context.Context) (*HealthStatus, error)
	Close() error
}

// Snapshot is the serialized form of one index
type Snapshot struct {
	ProjectPath string
	Files       []FileRecord
	Entries     []types.IndexEntry
	Includes    []IncludeEdge
	SavedAt     time.Time
}

// FileRecord is one row of an index's file table
type FileRecord struct {
	Number      int
	Path        string // project-relative slash path or file:// URI
	ContentHash uint64 // zero if the file was never read directly
}

// IncludeEdge records that file From textually includes file To
type IncludeEdge struct {
	From int
	To   int
}

// IndexInfo summarizes one durable index
type IndexInfo struct {
	ProjectPath string
	FileCount   int
	EntryCount  int
	SavedAt     time.Time
}

// HealthStatus describes the state of the database
type HealthStatus struct {
	DatabaseAccessible bool
	IntegrityOK        bool
	Message            string
	SchemaVersion      string
	SizeMB             float64
}
