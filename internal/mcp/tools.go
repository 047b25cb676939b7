package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/searcher"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeProjectNotFound = -32001 // Path holds no C/C++ sources
	ErrorCodeTimeout         = -32002 // Sweep did not finish within the wait
	ErrorCodeNotIndexed      = -32003 // Project not indexed
	ErrorCodeEmptyQuery      = -32004 // Name parameter is empty
	ErrorCodeShuttingDown    = -32005 // Indexer no longer accepts work
)

// maxProblemsListed caps the problems returned by get_status
const maxProblemsListed = 50

// handleIndexProject handles the index_project tool invocation
func (s *Server) handleIndexProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	if err := s.validateProject(path); err != nil {
		code := ErrorCodeInvalidParams
		if errors.Is(err, ErrNoSources) {
			code = ErrorCodeProjectNotFound
		}
		return nil, newMCPError(code, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	force := getBoolDefault(args, "force", false)
	wait := getBoolDefault(args, "wait", true)
	timeout := getIntDefault(args, "timeout_seconds", 300)
	if timeout < 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "timeout_seconds must be positive", map[string]interface{}{
			"param": "timeout_seconds",
			"value": timeout,
		})
	}

	start := time.Now()
	job, err := s.indexer.ProjectOpened(path, force)
	if err != nil {
		return nil, s.indexerError("failed to queue project", err)
	}
	if s.watcher != nil {
		if err := s.watcher.AddRoot(path); err != nil {
			s.log.Warn("failed to watch project", "project", path, "error", err)
		}
	}

	response := map[string]interface{}{
		"path":   path,
		"job_id": job.ID.String(),
	}
	if !wait {
		response["queued"] = true
		response["state"] = job.State().String()
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()
	if err := s.indexer.WaitIdle(waitCtx); err != nil {
		return nil, newMCPError(ErrorCodeTimeout, "indexing did not finish in time", map[string]interface{}{
			"job_id": job.ID.String(),
			"state":  job.State().String(),
			"error":  err.Error(),
		})
	}

	status, err := s.indexer.Status(ctx, path)
	if err != nil {
		return nil, s.indexerError("failed to get status", err)
	}
	response["state"] = job.State().String()
	response["files"] = status.Files
	response["entries"] = status.Entries
	response["headers"] = status.Headers
	response["problems"] = status.Problems
	response["duration_ms"] = time.Since(start).Milliseconds()
	if jobErr := job.Err(); jobErr != nil {
		response["error"] = jobErr.Error()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleFindSymbols handles the find_symbols tool invocation
func (s *Server) handleFindSymbols(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(getStringDefault(args, "name", ""))
	if name == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "name parameter is required and cannot be empty", map[string]interface{}{
			"param":  "name",
			"reason": "missing or empty",
		})
	}

	q, err := parseQuery(args, name)
	if err != nil {
		return nil, err
	}

	resp, err := s.indexer.Find(ctx, path, q)
	switch {
	case errors.Is(err, types.ErrIndexMissing):
		return nil, newMCPError(ErrorCodeNotIndexed, "project not indexed", map[string]interface{}{
			"path": path,
			"hint": "use index_project first",
		})
	case errors.Is(err, searcher.ErrBadPattern):
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid name pattern", map[string]interface{}{
			"param":  "name",
			"reason": err.Error(),
		})
	case err != nil:
		return nil, s.indexerError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":   r.Rank,
			"name":   r.Name,
			"kind":   string(r.Kind),
			"role":   string(r.Role),
			"file":   r.File,
			"offset": r.Offset,
			"length": r.Length,
		})
	}

	response := map[string]interface{}{
		"results":     results,
		"total":       resp.Total,
		"cache_hit":   resp.CacheHit,
		"duration_ms": resp.Duration.Milliseconds(),
	}
	if len(resp.Suggestions) > 0 {
		response["did_you_mean"] = resp.Suggestions
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// parseQuery builds an index query from the find_symbols arguments
func parseQuery(args map[string]interface{}, name string) (index.Query, error) {
	q := index.Query{
		Name:            name,
		CaseInsensitive: getBoolDefault(args, "case_insensitive", false),
		Limit:           getIntDefault(args, "limit", 0),
	}

	mode, ok := index.ParseMatchMode(getStringDefault(args, "mode", ""))
	if !ok {
		return q, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   args["mode"],
			"allowed": []string{"exact", "prefix", "pattern"},
		})
	}
	q.Mode = mode

	if q.Limit < 0 || q.Limit > searcher.MaxLimit {
		return q, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d", searcher.MaxLimit), map[string]interface{}{
			"param": "limit",
			"value": q.Limit,
		})
	}

	if raw, ok := args["kinds"].([]interface{}); ok {
		for _, v := range raw {
			kind := types.EntryKind(fmt.Sprint(v))
			if !kind.Valid() {
				return q, newMCPError(ErrorCodeInvalidParams, "invalid kind", map[string]interface{}{
					"param": "kinds",
					"value": v,
				})
			}
			q.Kinds = append(q.Kinds, kind)
		}
	}

	role := types.Role(getStringDefault(args, "role", ""))
	if role != "" && !role.Valid() {
		return q, newMCPError(ErrorCodeInvalidParams, "invalid role", map[string]interface{}{
			"param":   "role",
			"value":   string(role),
			"allowed": []string{string(types.RoleDeclaration), string(types.RoleReference)},
		})
	}
	q.Role = role
	return q, nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}

	status, err := s.indexer.Status(ctx, path)
	if err != nil {
		return nil, s.indexerError("failed to get project status", err)
	}

	response := map[string]interface{}{
		"path":      status.Project,
		"indexed":   status.Resident || status.Durable != nil,
		"resident":  status.Resident,
		"state":     status.State,
		"dirty":     status.Dirty,
		"in_flight": status.InFlight,
		"statistics": map[string]interface{}{
			"files":    status.Files,
			"entries":  status.Entries,
			"headers":  status.Headers,
			"problems": status.Problems,
		},
		"jobs": map[string]interface{}{
			"pending":   status.Jobs.Pending,
			"running":   status.Jobs.Running,
			"completed": status.Jobs.Completed,
			"cancelled": status.Jobs.Cancelled,
			"failed":    status.Jobs.Failed,
		},
	}
	if status.Durable != nil {
		response["saved"] = map[string]interface{}{
			"files":    status.Durable.FileCount,
			"entries":  status.Durable.EntryCount,
			"saved_at": status.Durable.SavedAt.Format(time.RFC3339),
		}
	}

	if health, err := s.indexer.Health(ctx); err == nil {
		response["health"] = map[string]interface{}{
			"database_accessible": health.DatabaseAccessible,
			"integrity_ok":        health.IntegrityOK,
			"schema_version":      health.SchemaVersion,
			"size_mb":             fmt.Sprintf("%.2f", health.SizeMB),
		}
	}

	if getBoolDefault(args, "include_problems", false) {
		problems := s.indexer.Problems(path)
		listed := make([]map[string]interface{}, 0, min(len(problems), maxProblemsListed))
		for _, p := range problems {
			if len(listed) == maxProblemsListed {
				break
			}
			listed = append(listed, map[string]interface{}{
				"file":     p.File,
				"line":     p.Line,
				"severity": string(p.Severity),
				"category": string(p.Category),
				"id":       string(p.ID),
				"message":  p.Message,
			})
		}
		response["problems"] = listed
		if len(problems) > maxProblemsListed {
			response["problem_count"] = len(problems)
		}
	}

	if !status.Resident && status.Durable == nil {
		response["message"] = "Project not indexed. Use index_project tool to index this project."
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRemoveProject handles the remove_project tool invocation
func (s *Server) handleRemoveProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, err := requirePath(args)
	if err != nil {
		return nil, err
	}
	purge := getBoolDefault(args, "purge", false)

	if s.watcher != nil {
		s.watcher.RemoveRoot(path)
	}
	if purge {
		err = s.indexer.ProjectDeleted(ctx, path)
	} else {
		err = s.indexer.ProjectClosed(ctx, path)
	}
	if err != nil {
		return nil, s.indexerError("failed to remove project", err)
	}

	response := map[string]interface{}{
		"path":    path,
		"removed": true,
		"purged":  purge,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// indexerError maps an indexer failure onto an MCP error
func (s *Server) indexerError(message string, err error) error {
	if errors.Is(err, types.ErrRejected) {
		return newMCPError(ErrorCodeShuttingDown, "indexer is shutting down", nil)
	}
	s.log.Warn(message, "error", err)
	return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// requirePath extracts the absolute, cleaned path argument
func requirePath(args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok || path == "" {
		return "", newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}
	if !filepath.IsAbs(path) {
		return "", newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": ErrPathNotAbsolute.Error(),
		})
	}
	return filepath.Clean(path), nil
}

// validateProject checks that path is a readable directory holding at least
// one C/C++ source or header outside the excluded trees
func (s *Server) validateProject(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()

	patterns := append(append([]string(nil), s.cfg.Indexer.SourcePatterns...), s.cfg.Indexer.HeaderPatterns...)
	found := false
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(path, p)
		if relErr != nil {
			return nil
		}
		if d.IsDir() {
			if p != path && (strings.HasPrefix(d.Name(), ".") || config.MatchAny(s.cfg.Indexer.ExcludePatterns, rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if config.MatchAny(patterns, rel) {
			found = true
			return fs.SkipAll
		}
		return nil
	})

	if !found {
		return ErrNoSources
	}
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
	ErrNoSources       = errors.New("directory does not contain C/C++ sources or headers")
)
