package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/cindex-mcp/internal/index"
	"github.com/dshills/cindex-mcp/internal/logger"
	"github.com/dshills/cindex-mcp/internal/mcp"
	"github.com/dshills/cindex-mcp/internal/storage"
	"github.com/dshills/cindex-mcp/internal/watcher"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// shutdownTimeout bounds the final flush
const shutdownTimeout = 30 * time.Second

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Long: `Start the Model Context Protocol server on stdio. Projects indexed through
the index_project tool are watched for changes while the server runs.
Dirty indexes are saved when the queue goes idle and on shutdown.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	indexCmd = &cobra.Command{
		Use:   "index <path>",
		Short: "Index a project once and save it",
		Args:  cobra.ExactArgs(1),
		RunE:  runIndex,
	}

	findCmd = &cobra.Command{
		Use:   "find <path> <name>",
		Short: "Query a project's saved index",
		Args:  cobra.ExactArgs(2),
		RunE:  runFind,
	}

	statusCmd = &cobra.Command{
		Use:   "status <path>",
		Short: "Show index state and problems for a project",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cindex %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", storage.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		},
	}
)

// Flags for individual commands
var (
	forceRebuild bool
	findMode     string
	findKinds    []string
	findRole     string
	findLimit    int
	ignoreCase   bool
)

func init() {
	indexCmd.Flags().BoolVarP(&forceRebuild, "force", "f", false, "discard the saved index and rebuild")

	findCmd.Flags().StringVarP(&findMode, "mode", "m", "exact", "name matching: exact, prefix or pattern")
	findCmd.Flags().StringSliceVarP(&findKinds, "kind", "k", nil, "restrict to entry kinds (class, function, ...)")
	findCmd.Flags().StringVarP(&findRole, "role", "r", "", "restrict to declaration or reference")
	findCmd.Flags().IntVarP(&findLimit, "limit", "n", 0, "maximum number of results")
	findCmd.Flags().BoolVarP(&ignoreCase, "ignore-case", "i", false, "case insensitive match")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.ForComponent("serve")
	mcp.ServerVersion = version
	log.Info("cindex starting", "version", version, "build_mode", storage.BuildMode, "db", cfg.DBPath)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var w *watcher.Watcher
	var roots mcp.RootWatcher
	if cfg.Watch.Enabled {
		if w, err = watcher.New(cfg.Watch, a.indexer); err != nil {
			_ = a.close(context.Background())
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		roots = w
	}

	srv, err := mcp.NewServer(a.indexer, cfg, roots)
	if err != nil {
		_ = a.close(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.indexer.Run(gctx)
	})
	if w != nil {
		if err := w.Start(gctx); err != nil {
			log.Warn("file watcher not started", "error", err)
		}
	}
	g.Go(func() error {
		// stdin closing ends the session
		defer cancel()
		return srv.Serve(gctx)
	})

	err = g.Wait()
	log.Info("shutting down")

	if w != nil {
		if werr := w.Stop(); werr != nil {
			log.Warn("failed to stop watcher", "error", werr)
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer flushCancel()
	if cerr := a.close(flushCtx); cerr != nil {
		log.Error("failed to flush indexes", "error", cerr)
		if err == nil {
			err = cerr
		}
	}
	return err
}

func runIndex(cmd *cobra.Command, args []string) error {
	project, err := projectArg(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- a.indexer.Run(ctx) }()

	start := time.Now()
	job, err := a.indexer.ProjectOpened(project, forceRebuild)
	if err == nil {
		err = a.indexer.WaitIdle(ctx)
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := a.indexer.Close(closeCtx); err == nil {
		err = cerr
	}
	if rerr := <-done; err == nil {
		err = rerr
	}
	if err != nil {
		_ = a.backend.Close()
		return err
	}
	if jobErr := job.Err(); jobErr != nil {
		_ = a.backend.Close()
		return fmt.Errorf("indexing %s failed: %w", project, jobErr)
	}

	st, err := a.indexer.Status(context.Background(), project)
	_ = a.backend.Close()
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{
			"path":        project,
			"state":       job.State().String(),
			"files":       st.Files,
			"entries":     st.Entries,
			"headers":     st.Headers,
			"problems":    st.Problems,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	fmt.Printf("Indexed %s: %d files, %d entries, %d headers, %d problems in %s\n",
		project, st.Files, st.Entries, st.Headers, st.Problems, time.Since(start).Round(time.Millisecond))
	return nil
}

func runFind(cmd *cobra.Command, args []string) error {
	project, err := projectArg(args[0])
	if err != nil {
		return err
	}

	mode, ok := index.ParseMatchMode(findMode)
	if !ok {
		return fmt.Errorf("unknown match mode %q", findMode)
	}
	q := index.Query{
		Name:            args[1],
		Mode:            mode,
		Role:            types.Role(findRole),
		CaseInsensitive: ignoreCase,
		Limit:           findLimit,
	}
	if q.Role != "" && !q.Role.Valid() {
		return fmt.Errorf("unknown role %q", findRole)
	}
	for _, k := range findKinds {
		kind := types.EntryKind(k)
		if !kind.Valid() {
			return fmt.Errorf("unknown kind %q", k)
		}
		q.Kinds = append(q.Kinds, kind)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.backend.Close() }()

	resp, err := a.indexer.Find(cmd.Context(), project, q)
	if errors.Is(err, types.ErrIndexMissing) {
		return fmt.Errorf("%s is not indexed, run 'cindex index %s' first", project, args[0])
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(resp)
	}
	if len(resp.Results) == 0 {
		fmt.Println("No results")
		if len(resp.Suggestions) > 0 {
			fmt.Printf("Did you mean: %v\n", resp.Suggestions)
		}
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s:%d\n", r.Name, r.Kind, r.Role, r.File, r.Offset)
	}
	return tw.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	project, err := projectArg(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.backend.Close() }()

	st, err := a.indexer.Status(cmd.Context(), project)
	if err != nil {
		return err
	}
	health, err := a.indexer.Health(cmd.Context())
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]interface{}{
			"status": st,
			"health": health,
		})
	}

	fmt.Printf("Project:  %s\n", st.Project)
	if st.Durable == nil {
		fmt.Println("Indexed:  no")
	} else {
		fmt.Printf("Indexed:  %d files, %d entries, saved %s\n",
			st.Durable.FileCount, st.Durable.EntryCount, st.Durable.SavedAt.Format(time.RFC3339))
	}
	fmt.Printf("Database: %s (schema %s, %.2f MB, integrity ok: %v)\n",
		cfg.DBPath, health.SchemaVersion, health.SizeMB, health.IntegrityOK)
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
