// Package types provides shared type definitions for the cindex indexer.
//
// This package defines the domain types exchanged between the parser, the
// extraction requestor, the index, and the query surfaces.
//
// # Core Types
//
// IndexEntry is one recorded fact about C/C++ source: a declaration or a
// reference of some kind, with a qualified name and the file that owns it:
//
//	entry := types.IndexEntry{
//	    Kind:       types.KindStruct,
//	    Role:       types.RoleDeclaration,
//	    Name:       types.ParseQualifiedName("net::Socket"),
//	    FileNumber: 3,
//	    NameOffset: 120,
//	    NameLength: 6,
//	}
//
// The file number is a handle into the owning index's file table. Entries
// found inside #include'd content belong to the header, not to the
// translation unit being indexed.
//
// # Parse Events
//
// A ParseEventSource drives ParseCallbacks over one translation unit:
//
//	OnDeclaration / OnReference  entity observed at a span
//	OnEnterInclude / OnExitInclude  bracket included content
//	OnProblem  diagnostic at the current location
//
// # Errors
//
// ErrIndexMissing, ErrParseFailure and ErrRejected are routine outcomes, not
// failures to escalate. IOError wraps durable storage failures.
package types
