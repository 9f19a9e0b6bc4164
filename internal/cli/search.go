package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/framegrep/internal/config"
	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/export"
	"github.com/nickcecere/framegrep/internal/region"
	"github.com/nickcecere/framegrep/internal/search"
	"github.com/nickcecere/framegrep/internal/ui"
)

var (
	searchLimit   int
	searchJSON    bool
	searchLang    string
	searchRect    string
	searchCompact bool
)

// searchCmd groups the query commands
var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search keyframes by text, frame or region",
	Long: `Search the keyframe index.

Examples:
  # Text query, language detected
  framegrep search text "xe máy màu đỏ"

  # Text query, language given
  framegrep search text --lang en "red motorbike"

  # Frames similar to frame 1042
  framegrep search id 1042 -k 50

  # Frames similar to a region of frame 1042
  framegrep search region 1042 --rect 120,40,360,200

  # JSON output
  framegrep search text "fireworks" --json`,
}

var searchTextCmd = &cobra.Command{
	Use:   "text <query>",
	Short: "Search by free-text description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(search.ByText{Text: strings.Join(args, " "), Language: searchLang})
	},
}

var searchIDCmd = &cobra.Command{
	Use:   "id <asset-id>",
	Short: "Search by an indexed frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAssetID(args[0])
		if err != nil {
			return err
		}
		return runQuery(search.ByID{AssetID: id})
	},
}

var searchRegionCmd = &cobra.Command{
	Use:   "region <asset-id> --rect x1,y1,x2,y2",
	Short: "Search by a rectangle of an indexed frame",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAssetID(args[0])
		if err != nil {
			return err
		}
		rect, err := parseRect(searchRect)
		if err != nil {
			return err
		}
		return runQuery(search.ByRegion{AssetID: id, Rect: rect})
	},
}

func init() {
	searchCmd.PersistentFlags().IntVarP(&searchLimit, "limit", "k", 0, "number of results (default query.default_k)")
	searchCmd.PersistentFlags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	searchCmd.PersistentFlags().BoolVarP(&searchCompact, "compact", "c", false, "one line per result instead of a table")
	searchTextCmd.Flags().StringVar(&searchLang, "lang", "", "language of the query (detected if empty)")
	searchRegionCmd.Flags().StringVar(&searchRect, "rect", "", "crop rectangle as x1,y1,x2,y2 in pixels")
	_ = searchRegionCmd.MarkFlagRequired("rect")

	searchCmd.AddCommand(searchTextCmd)
	searchCmd.AddCommand(searchIDCmd)
	searchCmd.AddCommand(searchRegionCmd)
}

// parseAssetID parses a display ID.
func parseAssetID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: asset id must be an integer, got %q", errdefs.ErrInvalidArgument, s)
	}
	return id, nil
}

// parseRect parses "x1,y1,x2,y2".
func parseRect(s string) (region.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return region.Rect{}, fmt.Errorf("%w: rectangle must be x1,y1,x2,y2, got %q", errdefs.ErrInvalidRegion, s)
	}

	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return region.Rect{}, fmt.Errorf("%w: bad coordinate %q", errdefs.ErrInvalidRegion, p)
		}
		v[i] = n
	}
	rect := region.Rect{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	return rect, rect.Validate()
}

// resultLimit returns the k to search with.
func resultLimit(cfg *config.Config, flag int) int {
	if flag > 0 {
		return flag
	}
	return cfg.Query.DefaultK
}

// withDisplayID converts a query's asset ID from display to stored form.
func withDisplayID(q search.Query, ids search.IDMapper) search.Query {
	switch q := q.(type) {
	case search.ByID:
		q.AssetID = ids.ToStored(q.AssetID)
		return q
	case search.ByRegion:
		q.AssetID = ids.ToStored(q.AssetID)
		return q
	default:
		return q
	}
}

func runQuery(q search.Query) error {
	cfg := config.Get()

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	k := resultLimit(cfg, searchLimit)
	log.Debug("Starting search", "query", fmt.Sprintf("%T", q), "k", k)

	res, err := a.engine.Run(ctx, withDisplayID(q, a.ids), k)
	if err != nil {
		return queryError(ctx, err)
	}

	if searchJSON {
		return outputJSON(res, a.ids)
	}
	if searchCompact {
		displayCompact(res, a.ids)
		return nil
	}
	displayResults(res, a.ids)
	return nil
}

// queryError reports a failed query. An interrupted query reports the
// cancellation rather than whatever the cancelled call returned.
func queryError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("search interrupted: %w", ctx.Err())
	}
	return fmt.Errorf("search failed [%s]: %w", errdefs.Kind(err), err)
}

// resultView is the JSON shape of a result list.
type resultView struct {
	Query   *queryView     `json:"query,omitempty"`
	Results []export.Entry `json:"results"`
	TookMS  int64          `json:"took_ms"`
}

type queryView struct {
	Original   string `json:"original"`
	Searched   string `json:"searched"`
	Language   string `json:"language"`
	Translated bool   `json:"translated"`
	Pipeline   string `json:"pipeline"`
}

func newResultView(res *search.Result, ids search.IDMapper) resultView {
	v := resultView{Results: make([]export.Entry, 0, len(res.Items)), TookMS: res.Took.Milliseconds()}
	if t := res.Text; t != nil {
		v.Query = &queryView{
			Original:   t.Original,
			Searched:   t.Text,
			Language:   t.Language,
			Translated: t.Translated,
			Pipeline:   t.Pipeline,
		}
	}
	for _, it := range res.Items {
		v.Results = append(v.Results, export.NewEntry(it, ids))
	}
	return v
}

// outputJSON prints results as JSON, highlighted on a terminal.
func outputJSON(res *search.Result, ids search.IDMapper) error {
	data, err := json.MarshalIndent(newResultView(res, ids), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	if !isTerminal(os.Stdout) {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(highlightJSON(string(data)))
	return nil
}

// highlightJSON colors JSON for the terminal, falling back to plain text.
func highlightJSON(content string) string {
	lexer := lexers.Get("json")
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("dracula")
	if style == nil {
		style = styles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return content
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return content
	}
	return buf.String()
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// resultsMarkdown renders a result list as a markdown table.
func resultsMarkdown(res *search.Result, ids search.IDMapper) string {
	var sb strings.Builder

	if t := res.Text; t != nil {
		if t.Translated {
			fmt.Fprintf(&sb, "Searched for **%s** (translated from %s: *%s*)\n\n", t.Text, t.Language, t.Original)
		} else {
			fmt.Fprintf(&sb, "Searched for **%s**\n\n", t.Text)
		}
	}

	sb.WriteString("| # | Video | Frame | Mapping | ID | Distance | Image |\n")
	sb.WriteString("|---|-------|-------|---------|----|----------|-------|\n")
	for _, it := range res.Items {
		r := it.Record
		fmt.Fprintf(&sb, "| %d | %s | %d | %d | %d | %.4f | %s |\n",
			it.Rank,
			export.VideoName(r.FolderID, r.ChildFolderID),
			r.FrameID,
			r.FrameMappingIndex,
			ids.ToDisplay(r.ID),
			it.Distance,
			strings.ReplaceAll(r.ImagePath, "|", `\|`),
		)
	}
	return sb.String()
}

// displayResults prints results as a table.
func displayResults(res *search.Result, ids search.IDMapper) {
	if len(res.Items) == 0 {
		if t := res.Text; t != nil {
			fmt.Printf("Searched for %q\n", t.Text)
		}
		fmt.Println("No results found.")
		return
	}

	md := resultsMarkdown(res, ids)
	rendered, err := renderMarkdown(md)
	if err != nil {
		fmt.Print(md)
	} else {
		fmt.Print(rendered)
	}

	fmt.Println(ui.Dim.Render(fmt.Sprintf("%d results in %s", len(res.Items), res.Took.Round(time.Millisecond))))
}

// displayCompact prints one line per result followed by its image path.
func displayCompact(res *search.Result, ids search.IDMapper) {
	if t := res.Text; t != nil && t.Translated {
		fmt.Printf("%s %s\n", ui.Dim.Render(t.Original+" ->"), ui.Highlight.Render(t.Text))
	}
	if len(res.Items) == 0 {
		fmt.Println("No results found.")
		return
	}

	for _, it := range res.Items {
		r := it.Record
		fmt.Printf("%3d  %s %s  %s  %s\n",
			it.Rank,
			ui.Video.Render(export.VideoName(r.FolderID, r.ChildFolderID)),
			ui.Frame.Render(fmt.Sprintf("#%d", r.FrameMappingIndex)),
			ui.FormatDistance(it.Distance),
			ui.Dim.Render(fmt.Sprintf("id %d", ids.ToDisplay(r.ID))),
		)
		if r.ImagePath != "" {
			fmt.Println(ui.ImagePath.Render(r.ImagePath))
		}
	}
	fmt.Println(ui.HorizontalRule(40))
	fmt.Println(ui.Dim.Render(fmt.Sprintf("%d results in %s", len(res.Items), res.Took.Round(time.Millisecond))))
}

// renderMarkdown renders markdown content using glamour.
func renderMarkdown(content string) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(140),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(content)
}
