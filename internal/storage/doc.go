// Package storage provides SQLite-based persistence for project indexes.
//
// Each project index is stored as a snapshot: its file table, its entries,
// and its include graph. Saving a snapshot replaces the previous one inside a
// single transaction, so a reader never observes a half-written index.
//
// # Database Schema
//
// Tables:
//   - projects: one row per durable index, keyed by root path
//   - files: the index's file table (number, path, content hash)
//   - entries: declarations and references, owned by a file number
//   - includes: include edges between file numbers
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.cindex/cindex.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.SaveIndex(ctx, &storage.Snapshot{
//	    ProjectPath: "/src/project",
//	    Files:       []storage.FileRecord{{Number: 1, Path: "main.c"}},
//	})
//
//	snap, err := db.LoadIndex(ctx, "/src/project")
//	if errors.Is(err, storage.ErrNotFound) {
//	    // nothing saved yet
//	}
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (pure Go). Building with the
// sqlite_cgo tag switches to github.com/mattn/go-sqlite3.
//
// # Migrations
//
// Schema changes are applied on open by ApplyMigrations, ordered by semantic
// version.
package storage
