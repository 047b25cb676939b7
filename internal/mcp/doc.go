// Package mcp implements the Model Context Protocol (MCP) server for cindex.
//
// The MCP server exposes four tools to AI coding assistants:
//   - index_project: Queue a sweep of a C/C++ project and optionally wait for it
//   - find_symbols: Look up declarations and references by name
//   - get_status: Report index state, statistics and problems
//   - remove_project: Unload a project, optionally deleting the saved index
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr; stdout carries protocol messages only.
//
// # Basic Usage
//
// The MCP server is typically started via the serve command:
//
//	cindex serve
//
// # Tool: index_project
//
//	Request:
//	{
//	  "name": "index_project",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "force": false,
//	    "wait": true
//	  }
//	}
//
//	Response:
//	{
//	  "path": "/path/to/project",
//	  "job_id": "6f0c...",
//	  "state": "completed",
//	  "files": 412,
//	  "entries": 38211,
//	  "headers": 170,
//	  "problems": 3,
//	  "duration_ms": 5120
//	}
//
// Indexing a project also adds it to the file watcher when one is running,
// so later edits are picked up without another call.
//
// # Tool: find_symbols
//
//	Request:
//	{
//	  "name": "find_symbols",
//	  "arguments": {
//	    "path": "/path/to/project",
//	    "name": "gfx::Widget",
//	    "mode": "exact",
//	    "kinds": ["class", "struct"],
//	    "role": "declaration"
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "name": "Widget",
//	      "kind": "class",
//	      "role": "declaration",
//	      "file": "/path/to/project/include/gfx/widget.h",
//	      "offset": 214,
//	      "length": 6
//	    }
//	  ],
//	  "total": 1
//	}
//
// A query without results carries "did_you_mean" with close index names.
//
// # Error Handling
//
// Handlers return *MCPError with one of the ErrorCode constants. Parameter
// problems use ErrorCodeInvalidParams, querying a project that has never
// been indexed gives ErrorCodeNotIndexed.
package mcp
