// Package index holds the in-memory, per-project index and its registry.
//
// An Index owns a file table (path to dense file number, append-only), the
// declarations and references owned by each file, the include graph between
// files, and a dirty flag. Every Index is guarded by an RWCoordinator:
//
//	lock := store.GetMonitorFor(idx)
//	if lock == nil {
//	    return nil // removed concurrently, nothing to do
//	}
//	lock.EnterRead()
//	defer lock.ExitRead()
//	entries := idx.Query(index.Query{Name: "Foo"})
//
// # Saving a dirty index
//
// A holder of the read lock that finds the index dirty upgrades, saves, and
// downgrades, so it ends in the mode it started in:
//
//	lock.ExitRead()
//	lock.EnterWrite()
//	err := store.SaveIndex(ctx, idx)
//	lock.ExitWriteEnterRead()
//
// ExitWriteEnterRead is atomic with respect to other writers.
//
// # Registry
//
// Store maps project paths to resident indexes. GetIndex loads from durable
// storage or creates on demand, and returns nil when neither is allowed.
// RemoveIndex evicts but keeps durable bytes; RemoveIndexFamily with purge
// deletes them.
package index
