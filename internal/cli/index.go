package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/indexer"
	"github.com/nickcecere/framegrep/internal/store"
	"github.com/nickcecere/framegrep/internal/ui"
	"github.com/nickcecere/framegrep/internal/vecindex"
)

var (
	indexOut      string
	indexShowIDs  int
	indexFailFast bool
)

// indexCmd groups the index maintenance commands
var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build, inspect and verify the vector index",
	Long: `Maintain the vector index.

Ingestion writes vectors into the asset_vectors table of the SQLite metadata
database. The flat backend serves a snapshot file built from that table.

Examples:
  # Rebuild the snapshot from the database
  framegrep index build

  # Show what the configured index holds
  framegrep index info

  # Check that every vector has metadata and every row has a vector
  framegrep index verify`,
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build a flat snapshot from the sqlite-vec table",
	Args:  cobra.NoArgs,
	RunE:  runIndexBuild,
}

var indexInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show index size, dimension and metric",
	Args:  cobra.NoArgs,
	RunE:  runIndexInfo,
}

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare index IDs with metadata IDs",
	Args:  cobra.NoArgs,
	RunE:  runIndexVerify,
}

func init() {
	indexBuildCmd.Flags().StringVarP(&indexOut, "output", "o", "", "snapshot path (default index.path)")
	indexVerifyCmd.Flags().IntVar(&indexShowIDs, "show", 20, "number of mismatched IDs to list")
	indexVerifyCmd.Flags().BoolVar(&indexFailFast, "strict", false, "exit with an error when the index and metadata disagree")

	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexInfoCmd)
	indexCmd.AddCommand(indexVerifyCmd)
}

func runIndexBuild(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if cfg.Database.Driver != "sqlite3" {
		return fmt.Errorf("index build reads the sqlite-vec table and requires database.driver sqlite3")
	}

	out := indexOut
	if out == "" {
		out = cfg.Index.Path
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer st.Close()

	metric, err := vecindex.ParseMetric(cfg.Index.Metric)
	if err != nil {
		return err
	}
	src, err := vecindex.OpenSQLiteVec(st.DB().DB, cfg.Index.Dimension, metric)
	if err != nil {
		return fmt.Errorf("failed to open vector table: %w", err)
	}

	opts := indexer.DefaultBuildOptions()
	opts.OnProgress = func(p indexer.Progress) {
		log.Info("Copying vectors", "done", p.Processed, "total", p.Total)
	}

	stats, err := indexer.Build(ctx, src, out, opts)
	if err != nil {
		return err
	}

	fmt.Printf("%s %d vectors (%d dims, %s) written to %s in %s\n",
		ui.Success.Render("✓"),
		stats.Vectors, stats.Dimension, stats.Metric, stats.Path,
		stats.Duration.Round(time.Millisecond))
	return nil
}

func runIndexInfo(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer st.Close()

	idx, err := openIndex(cfg, st)
	if err != nil {
		return err
	}

	fmt.Println(ui.Header.Render("Index"))
	fmt.Println()
	fmt.Println(ui.KeyValue("Backend", cfg.Index.Backend))
	if cfg.Index.Backend != "sqlite-vec" {
		fmt.Println(ui.KeyValue("Snapshot", cfg.Index.Path))
		if info, err := os.Stat(cfg.Index.Path); err == nil {
			fmt.Println(ui.KeyValue("Size", formatBytes(info.Size())))
			fmt.Println(ui.KeyValue("Modified", info.ModTime().Format(time.RFC3339)))
		}
	}
	fmt.Println(ui.KeyValue("Vectors", idx.Len()))
	fmt.Println(ui.KeyValue("Dimension", idx.Dimension()))
	fmt.Println(ui.KeyValue("Metric", idx.Metric()))
	return nil
}

func runIndexVerify(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer st.Close()

	idx, err := openIndex(cfg, st)
	if err != nil {
		return err
	}
	scanner, ok := idx.(vecindex.Scanner)
	if !ok {
		return fmt.Errorf("index backend %s cannot enumerate its vectors", cfg.Index.Backend)
	}

	report, err := indexer.Verify(ctx, scanner, st)
	if err != nil {
		return err
	}

	fmt.Println(ui.Header.Render("Index / metadata consistency"))
	fmt.Println()
	fmt.Println(ui.KeyValue("Vectors", report.Vectors))
	fmt.Println(ui.KeyValue("Metadata rows", report.Records))
	fmt.Println(ui.KeyValue("Matched", report.Matched))
	fmt.Println(ui.KeyValue("No metadata", len(report.Orphans)))
	fmt.Println(ui.KeyValue("No vector", len(report.Unindexed)))

	if report.Consistent() {
		fmt.Println()
		fmt.Println(ui.Success.Render("Index and metadata agree."))
		return nil
	}

	if len(report.Orphans) > 0 {
		fmt.Println()
		fmt.Println(ui.Warning.Render("Vectors without metadata (dropped from results):"))
		fmt.Println("  " + formatIDs(report.Orphans, indexShowIDs))
	}
	if len(report.Unindexed) > 0 {
		fmt.Println()
		fmt.Println(ui.Warning.Render("Metadata rows without vectors (never returned):"))
		fmt.Println("  " + formatIDs(report.Unindexed, indexShowIDs))
	}

	if indexFailFast {
		return fmt.Errorf("index and metadata disagree on %d IDs", len(report.Orphans)+len(report.Unindexed))
	}
	return nil
}

// formatIDs lists at most limit IDs.
func formatIDs(ids []int64, limit int) string {
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	parts := make([]string, 0, limit+1)
	for _, id := range ids[:limit] {
		parts = append(parts, fmt.Sprint(id))
	}
	if rest := len(ids) - limit; rest > 0 {
		parts = append(parts, fmt.Sprintf("... and %d more", rest))
	}
	return strings.Join(parts, ", ")
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
