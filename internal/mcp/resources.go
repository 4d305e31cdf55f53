package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ChunkURIPrefix prefixes chunk resource URIs.
const ChunkURIPrefix = "amanrag://chunks/"

// registerResources exposes every chunk of the default owner as a
// templated resource rendered as markdown.
func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: ChunkURIPrefix + "{chunkId}",
		Name:        "chunk",
		Description: "A document chunk with its neighboring chunks",
		MIMEType:    "text/markdown",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		content, err := s.ReadResource(ctx, req.Params.URI)
		if err != nil {
			if MapError(err).Code == ErrCodeNotFound {
				return nil, mcp.ResourceNotFoundError(req.Params.URI)
			}
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      content.URI,
				MIMEType: content.MIMEType,
				Text:     content.Content,
			}},
		}, nil
	})
}

// ReadResource resolves a chunk URI for the default owner.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	chunkID, ok := strings.CutPrefix(uri, ChunkURIPrefix)
	if !ok || chunkID == "" {
		return nil, NewResourceNotFoundError(uri)
	}

	detail, err := s.engine.Citation(ctx, chunkID, s.owner, true, s.contextSize)
	if err != nil {
		return nil, MapError(err)
	}
	return &ResourceContent{
		URI:      uri,
		Content:  FormatCitation(detail),
		MIMEType: "text/markdown",
	}, nil
}
