package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/store"
	"github.com/nickcecere/framegrep/internal/ui"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show metadata store and index status",
	Long: `Display information about the metadata store and the vector index:
- Number of metadata rows and their ID range
- Number of indexed vectors, dimension and metric
- Embedding provider and translator in use

Examples:
  framegrep status`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer st.Close()

	stats, err := st.Stats(ctx)
	if err != nil {
		return err
	}

	fmt.Println(ui.Header.Render("Metadata"))
	fmt.Println()
	fmt.Println(ui.KeyValue("Driver", stats.Driver))
	if stats.Driver == "sqlite3" {
		fmt.Println(ui.KeyValue("Path", cfg.Database.Path))
	}
	fmt.Println(ui.KeyValue("Rows", stats.Count))
	if stats.Count > 0 {
		fmt.Println(ui.KeyValue("IDs", fmt.Sprintf("%d - %d", stats.MinID, stats.MaxID)))
	}
	fmt.Println()

	fmt.Println(ui.Header.Render("Index"))
	fmt.Println()
	fmt.Println(ui.KeyValue("Backend", cfg.Index.Backend))
	if cfg.Index.Backend != "sqlite-vec" {
		fmt.Println(ui.KeyValue("Snapshot", cfg.Index.Path))
		if info, err := os.Stat(cfg.Index.Path); err == nil {
			fmt.Println(ui.KeyValue("Updated", formatTime(info.ModTime())))
		}
	}

	vectors := -1
	idx, err := openIndex(cfg, st)
	if err != nil {
		log.Debug("Index unavailable", "error", err)
		fmt.Println(ui.KeyValue("State", ui.Error.Render(err.Error())))
	} else {
		vectors = idx.Len()
		fmt.Println(ui.KeyValue("Vectors", vectors))
		fmt.Println(ui.KeyValue("Dimension", idx.Dimension()))
		fmt.Println(ui.KeyValue("Metric", idx.Metric()))
	}
	fmt.Println(ui.KeyValue("Health", getHealthStatus(stats, vectors)))
	fmt.Println()

	fmt.Println(ui.Dim.Render("Configuration:"))
	fmt.Printf("  Embeddings: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  Translation: %s (%s -> %s)\n",
		cfg.Translation.Provider, cfg.Translation.SourceLanguage, cfg.Translation.TargetLanguage)
	fmt.Printf("  Normalization: %s\n", cfg.Normalize.Pipeline)

	return nil
}

// formatTime formats a time for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}

	// If today, show time only
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return "today at " + t.Format("15:04")
	}

	// If this year, omit year
	if t.Year() == now.Year() {
		return t.Format("Jan 2 at 15:04")
	}

	return t.Format("Jan 2, 2006 at 15:04")
}

// getHealthStatus compares row and vector counts. vectors is -1 when the
// index could not be opened.
func getHealthStatus(stats *store.Stats, vectors int) string {
	switch {
	case vectors < 0:
		return ui.Error.Render("index unavailable")
	case vectors == 0:
		return ui.Warning.Render("empty (no vectors indexed)")
	case int64(vectors) != stats.Count:
		return ui.Warning.Render(fmt.Sprintf("%d vectors vs %d rows (run 'framegrep index verify')", vectors, stats.Count))
	default:
		return ui.Success.Render("healthy")
	}
}
