// Package problems buffers parse diagnostics and commits them as markers.
//
// Indexing records problems into a Collector while it parses. The buffer is
// committed later, out of band, by a dedicated job:
//
//	c.RemoveProblems("a.c", "indexer") // clears anything queued for a.c
//	c.AddProblem("a.c", "indexer", p)
//	c.Commit(markers)
//
// A remove always comes first for a file, and a later remove supersedes
// everything queued before it. MarkerStore ignores a marker whose line and
// message are already present, so committing twice is harmless.
package problems
