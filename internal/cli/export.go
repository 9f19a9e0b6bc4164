package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/export"
	"github.com/nickcecere/framegrep/internal/search"
	"github.com/nickcecere/framegrep/internal/ui"
)

var (
	exportText   string
	exportLang   string
	exportID     string
	exportRect   string
	exportFrom   string
	exportLimit  int
	exportFormat string
	exportLayout string
	exportOutput string
)

// exportCmd writes a result list to a CSV or XLSX file
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write search results to CSV or XLSX",
	Long: `Write a result list to a file.

The results either come from a saved "framegrep search --json" output
(--from), exported exactly as they were returned, or from a new search
(--text or --id).

The full layout writes a header and every metadata column. The submission
layout writes one "video,frame_mapping_index" row per result with no header.

Examples:
  # Export results exactly as a previous search returned them
  framegrep search text "pháo hoa" --json > results.json
  framegrep export --from results.json --layout submission -o query-1.csv

  # Pipe a search straight into a spreadsheet
  framegrep search id 1042 --json | framegrep export --from - -o results.xlsx

  # CSV of a new text search on stdout
  framegrep export --text "pháo hoa"

  # Submission file for frames similar to a region of frame 1042
  framegrep export --id 1042 --rect 0,0,320,180 -k 100 --layout submission -o query-2.csv`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", `search --json output to export ("-" for stdin)`)
	exportCmd.Flags().StringVar(&exportText, "text", "", "text query")
	exportCmd.Flags().StringVar(&exportLang, "lang", "", "language of the text query (detected if empty)")
	exportCmd.Flags().StringVar(&exportID, "id", "", "asset ID to search by")
	exportCmd.Flags().StringVar(&exportRect, "rect", "", "with --id, search by the region x1,y1,x2,y2")
	exportCmd.Flags().IntVarP(&exportLimit, "limit", "k", 0, "number of results (default query.default_k)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "csv or xlsx (default from the output extension, else csv)")
	exportCmd.Flags().StringVar(&exportLayout, "layout", string(export.LayoutFull), "full or submission")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.MarkFlagsMutuallyExclusive("text", "id", "from")
}

// exportQuery builds the query selected by the export flags.
func exportQuery() (search.Query, error) {
	switch {
	case exportText != "":
		if exportRect != "" {
			return nil, fmt.Errorf("%w: --rect needs --id", errdefs.ErrInvalidArgument)
		}
		return search.ByText{Text: exportText, Language: exportLang}, nil
	case exportID != "":
		id, err := parseAssetID(exportID)
		if err != nil {
			return nil, err
		}
		if exportRect == "" {
			return search.ByID{AssetID: id}, nil
		}
		rect, err := parseRect(exportRect)
		if err != nil {
			return nil, err
		}
		return search.ByRegion{AssetID: id, Rect: rect}, nil
	default:
		return nil, fmt.Errorf("%w: one of --from, --text or --id is required", errdefs.ErrInvalidArgument)
	}
}

// exportFormatFor picks the format from the flag or the output extension.
func exportFormatFor(flag, output string) (export.Format, error) {
	if flag == "" && strings.EqualFold(filepath.Ext(output), ".xlsx") {
		return export.FormatXLSX, nil
	}
	return export.ParseFormat(flag)
}

// loadResults reads a saved result list from path, or stdin for "-".
func loadResults(path string, stdin io.Reader, ids search.IDMapper) ([]search.Item, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open results: %w", err)
		}
		defer f.Close()
		r = f
	}

	entries, err := export.ReadEntries(r)
	if err != nil {
		return nil, err
	}
	return export.Items(entries, ids)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := exportFormatFor(exportFormat, exportOutput)
	if err != nil {
		return err
	}
	layout, err := export.ParseLayout(exportLayout)
	if err != nil {
		return err
	}
	if format == export.FormatXLSX && exportOutput == "" && isTerminal(os.Stdout) {
		return fmt.Errorf("%w: refusing to write xlsx to a terminal, use --output", errdefs.ErrInvalidArgument)
	}

	cfg := config.Get()
	ids := search.IDMapper{Offset: cfg.Query.DisplayIDOffset}

	var items []search.Item
	if exportFrom != "" {
		items, err = loadResults(exportFrom, os.Stdin, ids)
		if err != nil {
			return err
		}
		log.Debug("Exporting saved results", "from", exportFrom, "results", len(items))
	} else {
		q, err := exportQuery()
		if err != nil {
			return err
		}
		items, err = searchForExport(q, cfg)
		if err != nil {
			return err
		}
	}

	return writeExport(items, export.Options{Format: format, Layout: layout, IDs: ids}, exportOutput)
}

// searchForExport runs q and returns its items.
func searchForExport(q search.Query, cfg *config.Config) ([]search.Item, error) {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	res, err := a.engine.Run(ctx, withDisplayID(q, a.ids), resultLimit(cfg, exportLimit))
	if err != nil {
		return nil, queryError(ctx, err)
	}
	return res.Items, nil
}

// writeExport writes items to output, or stdout when output is empty.
func writeExport(items []search.Item, opts export.Options, output string) error {
	var w io.Writer = os.Stdout
	var file *os.File
	if output != "" {
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		var err error
		file, err = os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		w = file
	}

	bw := bufio.NewWriter(w)
	if err := export.Write(bw, items, opts); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	if file != nil {
		if err := file.Close(); err != nil {
			return fmt.Errorf("failed to close output file: %w", err)
		}
		log.Debug("Export written", "path", output, "format", opts.Format, "layout", opts.Layout)
		fmt.Fprintf(os.Stderr, "%s %d results written to %s\n",
			ui.Success.Render("✓"), len(items), output)
	}
	return nil
}
