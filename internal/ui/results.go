package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/search"
)

// ResultRenderer prints search results, citations and index stats.
type ResultRenderer struct {
	out    io.Writer
	styles Styles
}

// NewResultRenderer creates a ResultRenderer.
func NewResultRenderer(out io.Writer, noColor bool) *ResultRenderer {
	return &ResultRenderer{out: out, styles: GetStyles(noColor || DetectNoColor())}
}

// RenderSearch prints every result with its scores and highlighted preview.
func (r *ResultRenderer) RenderSearch(resp *search.Response) {
	if len(resp.Results) == 0 {
		_, _ = fmt.Fprintf(r.out, "No results for %q\n", resp.Query)
		return
	}

	header := fmt.Sprintf("%d results for %q", len(resp.Results), resp.Query)
	if resp.Reranked {
		header += " (reranked)"
	}
	_, _ = fmt.Fprintf(r.out, "%s %s\n\n", r.styles.Header.Render(header),
		r.styles.Dim.Render(fmt.Sprintf("%.1fms", resp.ElapsedMS)))

	for i, res := range resp.Results {
		_, _ = fmt.Fprintf(r.out, "%s %s  %s\n",
			r.styles.Active.Render(fmt.Sprintf("%d.", i+1)),
			r.styles.Title.Render(res.DocumentName),
			r.styles.Score.Render(scoreLine(res)))

		meta := []string{res.ChunkID}
		if res.Page != nil {
			meta = append(meta, fmt.Sprintf("page %d", *res.Page))
		}
		if res.Section != "" {
			meta = append(meta, res.Section)
		}
		_, _ = fmt.Fprintf(r.out, "   %s\n", r.styles.Label.Render(strings.Join(meta, " · ")))

		preview := res.Content
		if res.Citation != nil {
			preview = r.highlight(res.Citation.Preview, res.Citation.Highlights)
		}
		_, _ = fmt.Fprintf(r.out, "   %s\n\n", indent(preview, "   "))
	}
}

func scoreLine(res *search.Result) string {
	parts := []string{fmt.Sprintf("score %.4f", res.Score)}
	if res.LexicalScore != nil {
		parts = append(parts, fmt.Sprintf("bm25 %.3f", *res.LexicalScore))
	}
	if res.VectorScore != nil {
		parts = append(parts, fmt.Sprintf("vector %.3f", *res.VectorScore))
	}
	if res.RerankScore != nil {
		parts = append(parts, fmt.Sprintf("rerank %.3f", *res.RerankScore))
	}
	return strings.Join(parts, " | ")
}

// highlight styles the ranges that fall inside text. Ranges are rune
// offsets into the full chunk, and text is a prefix of it.
func (r *ResultRenderer) highlight(text string, ranges []search.Range) string {
	runes := []rune(text)
	var sb strings.Builder
	pos := 0
	for _, h := range ranges {
		if h.Start < pos || h.Start >= len(runes) {
			continue
		}
		end := min(h.End, len(runes))
		sb.WriteString(string(runes[pos:h.Start]))
		sb.WriteString(r.styles.Highlight.Render(string(runes[h.Start:end])))
		pos = end
	}
	sb.WriteString(string(runes[pos:]))
	return sb.String()
}

// RenderCitation prints a chunk between its neighbors.
func (r *ResultRenderer) RenderCitation(d *search.CitationDetail) {
	_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Header.Render(d.DocumentName))

	meta := []string{d.ChunkID, fmt.Sprintf("chunk %d of %d", d.Sequence+1, d.TotalChunks)}
	if d.Page != nil {
		meta = append(meta, fmt.Sprintf("page %d", *d.Page))
	}
	if d.Section != "" {
		meta = append(meta, d.Section)
	}
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Label.Render(strings.Join(meta, " · ")))

	for _, c := range d.Before {
		_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Dim.Render(c))
	}
	_, _ = fmt.Fprintf(r.out, "%s\n", r.styles.Panel.Render(d.Content))
	for _, c := range d.After {
		_, _ = fmt.Fprintf(r.out, "\n%s\n", r.styles.Dim.Render(c))
	}
}

// RenderStats prints index statistics.
func (r *ResultRenderer) RenderStats(ownerID string, s *search.Stats, emb EmbedderInfo) {
	title := "Index"
	if ownerID != "" {
		title = "Index: " + ownerID
	}
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render(title))

	if ownerID != "" {
		_, _ = fmt.Fprintf(r.out, "  Documents:  %d (%d ready)\n", s.Documents, s.Ready)
		_, _ = fmt.Fprintf(r.out, "  Chunks:     %d\n", s.Chunks)
	}
	if s.Lexical != nil {
		_, _ = fmt.Fprintf(r.out, "  BM25:       %d docs, %d terms, avg length %.1f\n",
			s.Lexical.DocumentCount, s.Lexical.TermCount, s.Lexical.AvgDocLength)
	}
	_, _ = fmt.Fprintf(r.out, "  Vectors:    %d in %s (%d dims)\n",
		s.Vector.EntityCount, s.Vector.Backend, s.Vector.Dimensions)
	if s.Vector.Orphans > 0 {
		_, _ = fmt.Fprintf(r.out, "  Orphans:    %s\n", r.styles.Warning.Render(fmt.Sprintf("%d", s.Vector.Orphans)))
	}
	_, _ = fmt.Fprintf(r.out, "  Reranker:   %s\n", s.Reranker)
	if emb.Model != "" {
		_, _ = fmt.Fprintf(r.out, "  Embedder:   %s (%d dims)\n", emb.Model, emb.Dimensions)
	}
	if q := s.Queries; q != nil && q.TotalQueries > 0 {
		_, _ = fmt.Fprintf(r.out, "  Queries:    %d (%d failed, %.1f%% zero-result)\n",
			q.TotalQueries, q.FailedQueries, q.ZeroResultPercentage())
	}
}

// RenderJSON prints v as indented JSON.
func (r *ResultRenderer) RenderJSON(v any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func indent(s, prefix string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n"+prefix)
}
