// Package indexer keeps per-project C/C++ indexes in step with the file
// system.
//
// The Indexer receives change notifications (project opened, closed or
// deleted; file or folder added, changed or removed), turns each into a job
// for its scheduler, and executes those jobs one at a time against the
// resident indexes.
//
// # Basic Usage
//
//	ix, err := indexer.New(indexer.Options{
//	    Store:  index.NewStore(backend),
//	    Parser: parser.New(),
//	    Config: cfg,
//	})
//	go ix.Run(ctx)
//
//	ix.ProjectOpened("/path/to/project", false)
//	ix.WaitIdle(ctx)
//
//	resp, err := ix.Find(ctx, "/path/to/project", index.Query{Name: "Widget"})
//
// # Sweeps
//
// A project sweep walks the tree, skipping hidden directories and excluded
// paths. Source files are parsed first, each under the index write lock,
// with a cancellation check between files. Every header a source reaches is
// recorded in the header memo; headers the memo has not seen are parsed on
// their own afterwards.
//
// Content hashes (xxhash) let unchanged sources be skipped. A header whose
// hash changed forces a reparse of every source that includes it. A forced
// sweep, or the first sweep after a cancelled one, resets the index and
// rebuilds it from scratch.
//
// # Persistence
//
// When the queue stays idle for the configured threshold, a save job is
// queued for every dirty index. Flush and Close save synchronously.
//
// # Problems
//
// Diagnostics are buffered while parsing and committed to the marker store
// by a background job once the producing job finishes.
package indexer
