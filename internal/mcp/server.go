package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/framegrep/internal/errdefs"
	"github.com/nickcecere/framegrep/internal/export"
	"github.com/nickcecere/framegrep/internal/region"
	"github.com/nickcecere/framegrep/internal/search"
)

const (
	// MCPVersion is the protocol version we support.
	MCPVersion = "2024-11-05"

	// ServerName is the name of this MCP server.
	ServerName = "framegrep"
)

// ServerVersion is reported during initialization.
var ServerVersion = "dev"

// Tool names.
const (
	ToolSearchText   = "framegrep_search_text"
	ToolSearchID     = "framegrep_search_id"
	ToolSearchRegion = "framegrep_search_region"
	ToolExport       = "framegrep_export"
)

// Engine runs queries.
type Engine interface {
	Run(ctx context.Context, q search.Query, k int) (*search.Result, error)
}

// Options configures the server.
type Options struct {
	// DefaultK is used when a call does not pass k.
	DefaultK int
	// IDs converts between the asset IDs clients see and stored IDs.
	IDs search.IDMapper
}

// Server is the MCP server for framegrep.
type Server struct {
	engine Engine
	opts   Options

	// Stdin/stdout for communication
	reader *bufio.Reader
	writer io.Writer

	// State
	initialized bool
}

// NewServer creates a server speaking on stdin and stdout.
func NewServer(engine Engine, opts Options) *Server {
	return NewServerWithIO(engine, opts, os.Stdin, os.Stdout)
}

// NewServerWithIO creates a server speaking on r and w.
func NewServerWithIO(engine Engine, opts Options, r io.Reader, w io.Writer) *Server {
	if opts.DefaultK <= 0 {
		opts.DefaultK = 10
	}
	return &Server{
		engine: engine,
		opts:   opts,
		reader: bufio.NewReader(r),
		writer: w,
	}
}

// Run processes requests until EOF or until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info("MCP server starting")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read request: %w", err)
		}
		eof := err == io.EOF

		if line = strings.TrimSpace(line); line != "" {
			var req Request
			if err := json.Unmarshal([]byte(line), &req); err != nil {
				s.sendError(nil, ErrorCodeParse, "Parse error", err.Error())
			} else {
				s.handleRequest(ctx, req)
			}
		}

		if eof {
			log.Info("MCP server received EOF, shutting down")
			return nil
		}
	}
}

// handleRequest processes a single MCP request.
func (s *Server) handleRequest(ctx context.Context, req Request) {
	log.Debug("Received request", "method", req.Method, "id", req.ID)

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		s.initialized = true
		log.Info("MCP server initialized")
		return
	case "tools/list":
		result = &ListToolsResult{Tools: tools()}
	case "tools/call":
		result, err = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		if req.ID == nil {
			// Unknown notifications get no response.
			return
		}
		s.sendError(req.ID, ErrorCodeMethodNotFound, "Method not found", req.Method)
		return
	}

	if err != nil {
		s.sendError(req.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
		return
	}

	s.sendResult(req.ID, result)
}

// handleInitialize handles the initialize request.
func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	log.Info("Initializing MCP server",
		"clientName", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocolVersion", p.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: ServerInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
	}, nil
}

var one = 1

func tools() []Tool {
	k := Property{Type: "integer", Description: "Number of results to return", Minimum: &one}
	assetID := Property{Type: "integer", Description: "ID of an indexed frame"}
	coord := func(desc string) Property {
		return Property{Type: "integer", Description: desc}
	}

	return []Tool{
		{
			Name:        ToolSearchText,
			Description: "Find video frames matching a text description. Vietnamese queries are translated to English.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"results": {
						Type:        "array",
						Description: "Results to export, each with id, video, frame_id, frame_mapping_index, distance and image_path",
						Items:       &Property{Type: "object"},
					},
					"text":     {Type: "string", Description: "Description of the scene"},
					"language": {Type: "string", Description: "Language code of the text; detected when omitted"},
					"k":        k,
				},
				Required: []string{"text"},
			},
		},
		{
			Name:        ToolSearchID,
			Description: "Find video frames that look like an indexed frame.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"id": assetID,
					"k":  k,
				},
				Required: []string{"id"},
			},
		},
		{
			Name:        ToolSearchRegion,
			Description: "Find video frames that look like a rectangle cut from an indexed frame.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"id": assetID,
					"x1": coord("Left edge in pixels"),
					"y1": coord("Top edge in pixels"),
					"x2": coord("Right edge in pixels, exclusive"),
					"y2": coord("Bottom edge in pixels, exclusive"),
					"k":  k,
				},
				Required: []string{"id", "x1", "y1", "x2", "y2"},
			},
		},
		{
			Name:        ToolExport,
			Description: "Return results as CSV. Pass results returned earlier to export them unchanged, or text or id to run a new search.",
			InputSchema: JSONSchema{
				Type: "object",
				Properties: map[string]Property{
					"text":     {Type: "string", Description: "Description of the scene"},
					"language": {Type: "string", Description: "Language code of the text"},
					"id":       {Type: "integer", Description: "ID of an indexed frame, used when text is omitted"},
					"k":        k,
					"layout": {
						Type:        "string",
						Description: "Columns to write",
						Default:     string(export.LayoutFull),
						Enum:        []string{string(export.LayoutFull), string(export.LayoutSubmission)},
					},
				},
			},
		},
	}
}

// handleCallTool executes a tool and returns the result.
func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	log.Debug("Calling tool", "name", p.Name, "arguments", p.Arguments)

	switch p.Name {
	case ToolSearchText, ToolSearchID, ToolSearchRegion:
		res, err := s.search(ctx, p.Name, p.Arguments)
		if err != nil {
			return toolError(err), nil
		}
		return textResult(s.formatResult(res)), nil

	case ToolExport:
		text, err := s.export(ctx, p.Arguments)
		if err != nil {
			return toolError(err), nil
		}
		r := textResult(text)
		r.Content[0].MimeType = "text/csv"
		return r, nil

	default:
		return errorResult(fmt.Sprintf("Unknown tool: %s", p.Name)), nil
	}
}

// search parses the arguments of a search tool and runs it.
func (s *Server) search(ctx context.Context, tool string, args map[string]any) (*search.Result, error) {
	k, err := s.kArg(args)
	if err != nil {
		return nil, err
	}

	var q search.Query
	switch tool {
	case ToolSearchText:
		text, _ := args["text"].(string)
		lang, _ := args["language"].(string)
		q = search.ByText{Text: text, Language: lang}

	case ToolSearchID:
		id, err := s.idArg(args)
		if err != nil {
			return nil, err
		}
		q = search.ByID{AssetID: id}

	case ToolSearchRegion:
		id, err := s.idArg(args)
		if err != nil {
			return nil, err
		}
		var coords [4]int64
		for i, name := range []string{"x1", "y1", "x2", "y2"} {
			v, ok, err := intArg(args, name)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s is required", errdefs.ErrInvalidArgument, name)
			}
			coords[i] = v
		}
		rect := region.Rect{X1: int(coords[0]), Y1: int(coords[1]), X2: int(coords[2]), Y2: int(coords[3])}
		q = search.ByRegion{AssetID: id, Rect: rect}
	}

	return s.engine.Run(ctx, q, k)
}

// export runs a text or ID search and renders it as CSV.
func (s *Server) export(ctx context.Context, args map[string]any) (string, error) {
	layout, _ := args["layout"].(string)
	parsed, err := export.ParseLayout(layout)
	if err != nil {
		return "", err
	}

	items, err := s.exportItems(ctx, args)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	err = export.Write(&sb, items, export.Options{
		Format: export.FormatCSV,
		Layout: parsed,
		IDs:    s.opts.IDs,
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// exportItems returns the results passed in args, or runs the search args
// describe.
func (s *Server) exportItems(ctx context.Context, args map[string]any) ([]search.Item, error) {
	if raw, ok := args["results"]; ok {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: results: %v", errdefs.ErrInvalidArgument, err)
		}
		entries, err := export.ParseEntries(data)
		if err != nil {
			return nil, err
		}
		return export.Items(entries, s.opts.IDs)
	}

	tool := ToolSearchText
	if text, _ := args["text"].(string); text == "" {
		if _, ok := args["id"]; !ok {
			return nil, fmt.Errorf("%w: results, text or id is required", errdefs.ErrInvalidArgument)
		}
		tool = ToolSearchID
	}

	res, err := s.search(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	return res.Items, nil
}

func (s *Server) kArg(args map[string]any) (int, error) {
	k, ok, err := intArg(args, "k")
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.opts.DefaultK, nil
	}
	return int(k), nil
}

func (s *Server) idArg(args map[string]any) (int64, error) {
	id, ok, err := intArg(args, "id")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: id is required", errdefs.ErrInvalidArgument)
	}
	return s.opts.IDs.ToStored(id), nil
}

// intArg reads an integer argument sent as a JSON number or a string.
func intArg(args map[string]any, name string) (int64, bool, error) {
	switch v := args[name].(type) {
	case nil:
		return 0, false, nil
	case float64:
		if v != float64(int64(v)) {
			return 0, false, fmt.Errorf("%w: %s must be an integer", errdefs.ErrInvalidArgument, name)
		}
		return int64(v), true, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s must be an integer", errdefs.ErrInvalidArgument, name)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("%w: %s must be an integer", errdefs.ErrInvalidArgument, name)
	}
}

// formatResult renders a result list for the client.
func (s *Server) formatResult(res *search.Result) string {
	var sb strings.Builder

	if t := res.Text; t != nil && t.Translated {
		fmt.Fprintf(&sb, "Query %q searched as %q\n", t.Original, t.Text)
	}

	if len(res.Items) == 0 {
		sb.WriteString("No results found.")
		return sb.String()
	}

	fmt.Fprintf(&sb, "Found %d results:\n\n", len(res.Items))
	for _, it := range res.Items {
		r := it.Record
		fmt.Fprintf(&sb, "[%d] %s frame %d (id %d, mapping %d) - distance %.4f\n",
			it.Rank,
			export.VideoName(r.FolderID, r.ChildFolderID),
			r.FrameID,
			s.opts.IDs.ToDisplay(r.ID),
			r.FrameMappingIndex,
			it.Distance,
		)
		if r.ImagePath != "" {
			fmt.Fprintf(&sb, "    %s\n", r.ImagePath)
		}
	}
	return sb.String()
}

// toolError reports a failed query with its error category.
func toolError(err error) *CallToolResult {
	log.Debug("Tool failed", "kind", errdefs.Kind(err), "error", err)
	return errorResult(fmt.Sprintf("Error [%s]: %v", errdefs.Kind(err), err))
}

// sendResult sends a successful response.
func (s *Server) sendResult(id any, result any) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	s.send(resp)
}

// sendError sends an error response.
func (s *Server) sendError(id any, code int, message, data string) {
	resp := Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	s.send(resp)
}

// send writes a response line.
func (s *Server) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to marshal response", "error", err)
		return
	}
	fmt.Fprintln(s.writer, string(data))
}
