// Package searcher answers symbol queries against the resident indexes.
//
// A query matches the innermost segment of each entry's qualified name
// exactly, by prefix, or by wildcard pattern, optionally narrowed by leading
// qualifiers, kind, role and file. Results carry absolute file paths and
// byte spans in the owning file.
//
// # Basic Usage
//
//	s := searcher.New(store, 1000, 50)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Project: "/path/to/project",
//	    Query:   index.Query{Name: "geo::Shape", Role: types.RoleDeclaration},
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s %s:%d\n", r.Rank, r.Name, r.File, r.Offset)
//	}
//
// # Caching
//
// Responses are cached in an LRU keyed by the request and the index
// generation. Any write to the index bumps its generation, so a cached
// response is never served for a changed index.
//
// # Suggestions
//
// When a query finds nothing and SearchRequest.Suggest is set, declared
// names within a Jaro-Winkler similarity of 0.8 are offered instead.
//
// # Concurrency
//
// Searches hold the index read lock for their duration and may run
// concurrently with each other.
package searcher
