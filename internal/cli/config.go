package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  framegrep config

  # Show config file paths
  framegrep config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.Get()

	if configShowPath {
		fmt.Println(ui.SectionTitle.Render("Configuration Paths"))
		fmt.Println()
		fmt.Printf("Global config: %s\n", config.GlobalConfigPath())
		fmt.Printf("Local config:  .framegreprc.yaml (searched from cwd upward)\n")
		fmt.Printf("Active config: %s\n", config.ConfigFilePath())
		fmt.Printf("Database:      %s\n", cfg.Database.Path)
		fmt.Printf("Index:         %s\n", cfg.Index.Path)
		return nil
	}

	fmt.Println(ui.SectionTitle.Render("Current Configuration"))
	fmt.Println()

	fmt.Println(ui.Bold.Render("Embeddings:"))
	fmt.Printf("  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Printf("  CLIP URL: %s\n", cfg.Embeddings.Clip.URL)
	fmt.Printf("  CLIP Model: %s\n", cfg.Embeddings.Clip.Model)
	fmt.Printf("  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Printf("  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Translation:"))
	fmt.Printf("  Provider: %s\n", cfg.Translation.Provider)
	fmt.Printf("  Languages: %s -> %s\n", cfg.Translation.SourceLanguage, cfg.Translation.TargetLanguage)
	if cfg.Translation.Provider == "google" {
		fmt.Printf("  Rate Limit: %.1f/s (burst %d)\n", cfg.Translation.Google.RequestsPerSecond, cfg.Translation.Google.Burst)
	}
	if cfg.Translation.Provider == "llm" {
		fmt.Printf("  LLM: %s\n", cfg.LLM.Provider)
	}
	fmt.Println()

	fmt.Println(ui.Bold.Render("Database:"))
	fmt.Printf("  Driver: %s\n", cfg.Database.Driver)
	if cfg.Database.Driver == "sqlite3" {
		fmt.Printf("  Path: %s\n", cfg.Database.Path)
	} else {
		fmt.Printf("  DSN: %s\n", redactDSN(cfg.Database.DSN))
	}
	fmt.Printf("  Pool: %d open, %d idle, %s lifetime\n",
		cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Index:"))
	fmt.Printf("  Backend: %s\n", cfg.Index.Backend)
	fmt.Printf("  Path: %s\n", cfg.Index.Path)
	fmt.Printf("  Dimension: %d\n", cfg.Index.Dimension)
	fmt.Printf("  Metric: %s\n", cfg.Index.Metric)
	fmt.Printf("  Watch: %t\n", cfg.Index.Watch)
	fmt.Println()

	fmt.Println(ui.Bold.Render("Query:"))
	fmt.Printf("  Normalization: %s\n", cfg.Normalize.Pipeline)
	fmt.Printf("  Default k: %d (max %d)\n", cfg.Query.DefaultK, cfg.Query.MaxK)
	fmt.Printf("  Display ID offset: %d\n", cfg.Query.DisplayIDOffset)

	return nil
}

// redactDSN hides the password of a user:password@... DSN.
func redactDSN(dsn string) string {
	at := -1
	for i := len(dsn) - 1; i >= 0; i-- {
		if dsn[i] == '@' {
			at = i
			break
		}
	}
	if at < 0 {
		return dsn
	}
	for i := 0; i < at; i++ {
		if dsn[i] == ':' {
			return dsn[:i+1] + "****" + dsn[at:]
		}
	}
	return dsn
}
