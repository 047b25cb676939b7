package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/indexer"
	"github.com/dshills/cindex-mcp/internal/logger"
)

const (
	// ServerName is the MCP server name
	ServerName = "cindex-mcp"
)

// ServerVersion is the reported server version, set by the binary
var ServerVersion = "dev"

// RootWatcher follows project directories for changes. index_project adds
// roots and remove_project drops them.
type RootWatcher interface {
	AddRoot(project string) error
	RemoveRoot(project string)
}

// Server exposes an Indexer as MCP tools
type Server struct {
	mcp     *server.MCPServer
	indexer *indexer.Indexer
	watcher RootWatcher
	cfg     *config.Config
	log     *slog.Logger
}

// NewServer creates an MCP server over ix. watcher may be nil.
func NewServer(ix *indexer.Indexer, cfg *config.Config, watcher RootWatcher) (*Server, error) {
	if ix == nil {
		return nil, errors.New("mcp: indexer is required")
	}
	if cfg == nil {
		cfg = config.Default()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:     mcpServer,
		indexer: ix,
		watcher: watcher,
		cfg:     cfg,
		log:     logger.ForComponent("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Serve speaks MCP on stdio until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	s.log.Info("serving MCP on stdio", "version", ServerVersion)
	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexProjectTool(), s.handleIndexProject)
	s.mcp.AddTool(findSymbolsTool(), s.handleFindSymbols)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(removeProjectTool(), s.handleRemoveProject)
}
