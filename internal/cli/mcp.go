package cli

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/mcp"
	"github.com/nickcecere/framegrep/internal/vecindex"
	"github.com/nickcecere/framegrep/internal/watcher"
)

var (
	mcpWatch   bool
	mcpNoWatch bool
)

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server.

The server communicates via stdin/stdout using JSON-RPC 2.0 and provides tools:
  - framegrep_search_text:   search by description
  - framegrep_search_id:     search by an indexed frame
  - framegrep_search_region: search by a rectangle of an indexed frame
  - framegrep_export:        search and return CSV

With the flat backend the server can watch the snapshot file and swap in a
rebuilt index without restarting (index.watch, or --watch).`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpWatch, "watch", false, "reload the index snapshot when it changes")
	mcpCmd.Flags().BoolVar(&mcpNoWatch, "no-watch", false, "do not watch the index snapshot")
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// stdout carries protocol traffic
	log.SetOutput(os.Stderr)

	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	watch := (cfg.Index.Watch || mcpWatch) && !mcpNoWatch
	if watch && cfg.Index.Backend != "sqlite-vec" {
		go startSnapshotWatcher(ctx, cfg, a.live)
	}

	server := mcp.NewServer(a.engine, mcp.Options{
		DefaultK: cfg.Query.DefaultK,
		IDs:      a.ids,
	})
	return server.Run(ctx)
}

// startSnapshotWatcher reloads the served index when its snapshot changes.
func startSnapshotWatcher(ctx context.Context, cfg *config.Config, live *vecindex.Live) {
	w, err := watcher.New(
		cfg.Index.Path,
		live,
		watcher.WithDebounceTime(cfg.Index.ReloadDebounce),
		watcher.WithShardSize(cfg.Index.ShardSize),
		watcher.WithEventCallback(func(event, path string) {
			log.Debug("Snapshot watcher event", "event", event, "path", path)
		}),
	)
	if err != nil {
		log.Error("Failed to create watcher", "error", err)
		return
	}

	// Blocks until the context is cancelled
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("Watcher error", "error", err)
	}
}
