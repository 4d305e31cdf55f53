package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/amanrag/internal/embed"
	"github.com/Aman-CERP/amanrag/internal/search"
	"github.com/Aman-CERP/amanrag/pkg/version"
)

// DefaultTopK is the number of results when a search does not say.
const DefaultTopK = 10

// DefaultContextSize is the neighbors on each side of a citation when the
// request does not say.
const DefaultContextSize = 1

// Engine is the part of the search engine the tools call.
type Engine interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	Citation(ctx context.Context, chunkID, ownerID string, includeContext bool, contextSize int) (*search.CitationDetail, error)
	Stats(ctx context.Context, ownerID string) (*search.Stats, error)
}

// Server bridges MCP clients with the search engine.
type Server struct {
	mcp         *mcp.Server
	engine      Engine
	embedder    embed.Embedder
	owner       string
	contextSize int
	logger      *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// Option configures a Server.
type Option func(*Server)

// WithDefaultOwner sets the owner used when a tool call names none.
func WithDefaultOwner(owner string) Option {
	return func(s *Server) {
		s.owner = owner
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

var tools = []ToolInfo{
	{
		Name: "search",
		Description: "Hybrid search over the indexed documents. Fuses keyword (BM25) and semantic rankings, " +
			"optionally reranks, and returns chunks with citations. Use mode to restrict to one side.",
	},
	{
		Name:        "get_citation",
		Description: "Resolve a chunk id from a search result to its full text, location and neighboring chunks.",
	},
	{
		Name:        "index_stats",
		Description: "Report document, chunk and vector counts and which embedder and reranker are active.",
	},
}

// NewServer creates an MCP server. embedder may be nil, in which case
// index_stats reports embeddings as unavailable.
func NewServer(engine Engine, embedder embed.Embedder, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}

	s := &Server{
		engine:      engine,
		embedder:    embedder,
		contextSize: DefaultContextSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "amanrag",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "amanrag", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with JSON-shaped arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.handleSearch(ctx, in)
	case "get_citation":
		var in CitationInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.handleCitation(ctx, in)
	case "index_stats":
		var in IndexStatsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.handleIndexStats(ctx, in)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) ownerOr(owner string) string {
	if owner != "" {
		return owner
	}
	return s.owner
}

func (s *Server) handleSearch(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	if in.Query == "" {
		return nil, NewInvalidParamsError("query parameter is required")
	}
	owner := s.ownerOr(in.OwnerID)
	if owner == "" {
		return nil, NewInvalidParamsError("owner_id parameter is required")
	}
	mode, err := search.ParseMode(in.Mode)
	if err != nil {
		return nil, NewInvalidParamsError(err.Error())
	}

	req := search.Request{
		Query:       in.Query,
		OwnerID:     owner,
		DocumentIDs: in.DocumentIDs,
		TopK:        in.TopK,
		Alpha:       in.Alpha,
		Rerank:      in.Rerank == nil || *in.Rerank,
		Mode:        mode,
	}
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}

	start := time.Now()
	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		s.logger.Warn("mcp_search_failed",
			slog.String("owner_id", owner),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	s.logger.Debug("mcp_search",
		slog.String("owner_id", owner),
		slog.Int("results", len(resp.Results)),
		slog.Duration("elapsed", time.Since(start)))

	out := &SearchOutput{
		Query:     resp.Query,
		Total:     resp.Total,
		Reranked:  resp.Reranked,
		ElapsedMS: resp.ElapsedMS,
		Results:   make([]SearchResultOutput, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, ToSearchResultOutput(r))
	}
	return out, nil
}

func (s *Server) handleCitation(ctx context.Context, in CitationInput) (*CitationOutput, error) {
	if in.ChunkID == "" {
		return nil, NewInvalidParamsError("chunk_id parameter is required")
	}
	include := in.IncludeContext == nil || *in.IncludeContext
	size := s.contextSize
	if in.ContextSize != nil {
		size = *in.ContextSize
	}
	if size < 0 || size > search.MaxContextSize {
		return nil, NewInvalidParamsError(fmt.Sprintf("context_size must be between 0 and %d", search.MaxContextSize))
	}

	d, err := s.engine.Citation(ctx, in.ChunkID, s.ownerOr(in.OwnerID), include, size)
	if err != nil {
		return nil, MapError(err)
	}
	return &CitationOutput{
		ChunkID:      d.ChunkID,
		DocumentID:   d.DocumentID,
		DocumentName: d.DocumentName,
		Page:         d.Page,
		Section:      d.Section,
		ChunkIndex:   d.Sequence,
		TotalChunks:  d.TotalChunks,
		Content:      d.Content,
		Before:       d.Before,
		After:        d.After,
		Metadata:     d.Metadata,
		Markdown:     FormatCitation(d),
	}, nil
}

func (s *Server) handleIndexStats(ctx context.Context, in IndexStatsInput) (*IndexStatsOutput, error) {
	owner := s.ownerOr(in.OwnerID)
	stats, err := s.engine.Stats(ctx, owner)
	if err != nil {
		return nil, MapError(err)
	}

	out := &IndexStatsOutput{
		OwnerID:   owner,
		Documents: stats.Documents,
		Ready:     stats.Ready,
		Chunks:    stats.Chunks,
		Vector: VectorInfo{
			Backend:    stats.Vector.Backend,
			Vectors:    stats.Vector.EntityCount,
			Dimensions: stats.Vector.Dimensions,
			Orphans:    stats.Vector.Orphans,
		},
		Reranker:   stats.Reranker,
		Embeddings: EmbeddingInfo{Status: "unavailable"},
	}
	if stats.Lexical != nil {
		out.Lexical = &LexicalInfo{
			Documents:    stats.Lexical.DocumentCount,
			Terms:        stats.Lexical.TermCount,
			AvgDocLength: stats.Lexical.AvgDocLength,
		}
	}
	if q := stats.Queries; q != nil {
		out.Queries = &QueryInfo{
			Total:      q.TotalQueries,
			Failed:     q.FailedQueries,
			ZeroResult: q.ZeroResultCount,
			Reranked:   q.RerankedQueries,
		}
		for _, tc := range q.TopTerms {
			out.Queries.TopTerms = append(out.Queries.TopTerms, tc.Term)
		}
	}
	if s.embedder != nil {
		out.Embeddings.Model = s.embedder.ModelName()
		out.Embeddings.Dimensions = s.embedder.Dimensions()
		if s.embedder.Available(ctx) {
			out.Embeddings.Status = "ready"
		}
	}
	return out, nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, *SearchOutput, error) {
			out, err := s.handleSearch(ctx, in)
			return nil, out, err
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in CitationInput) (*mcp.CallToolResult, *CitationOutput, error) {
			out, err := s.handleCitation(ctx, in)
			return nil, out, err
		})
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in IndexStatsInput) (*mcp.CallToolResult, *IndexStatsOutput, error) {
			out, err := s.handleIndexStats(ctx, in)
			return nil, out, err
		})
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// Serve runs the server on the named transport until ctx is done.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}
