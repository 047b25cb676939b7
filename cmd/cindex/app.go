package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/indexer"
	"github.com/dshills/cindex-mcp/internal/parser"
	"github.com/dshills/cindex-mcp/internal/storage"
)

// app is the assembled indexing stack
type app struct {
	cfg     *config.Config
	backend *storage.SQLiteStorage
	store   *index.Store
	indexer *indexer.Indexer
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	backend, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	store := index.NewStore(backend)
	ix, err := indexer.New(indexer.Options{
		Store:  store,
		Parser: parser.New(),
		Config: cfg,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return &app{cfg: cfg, backend: backend, store: store, indexer: ix}, nil
}

// close flushes the indexer and closes the database
func (a *app) close(ctx context.Context) error {
	err := a.indexer.Close(ctx)
	if cerr := a.backend.Close(); err == nil {
		err = cerr
	}
	return err
}

// projectArg resolves a command line project path
func projectArg(arg string) (string, error) {
	path, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", path)
	}
	return path, nil
}
