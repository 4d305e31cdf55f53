package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/amanrag/internal/search"
)

// FormatSearchResults formats a search response as markdown.
func FormatSearchResults(resp *search.Response) string {
	if resp == nil || len(resp.Results) == 0 {
		query := ""
		if resp != nil {
			query = resp.Query
		}
		return fmt.Sprintf("No results found for \"%s\"", query)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Search Results for \"%s\"\n\n", resp.Query)
	fmt.Fprintf(&sb, "Found %d result", len(resp.Results))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	if resp.Reranked {
		sb.WriteString(" (reranked)")
	}
	sb.WriteString("\n\n")

	for i, r := range resp.Results {
		formatResult(&sb, i+1, r)
	}
	return sb.String()
}

func formatResult(sb *strings.Builder, num int, r *search.Result) {
	fmt.Fprintf(sb, "### %d. %s (score: %.3f)\n", num, r.DocumentName, r.Score)
	if loc := location(r.Page, r.Section); loc != "" {
		fmt.Fprintf(sb, "%s\n", loc)
	}
	fmt.Fprintf(sb, "`%s`\n\n", r.ChunkID)
	fmt.Fprintf(sb, "%s\n\n", quote(r.Content))
}

// FormatCitation formats a citation with its neighbors as markdown.
func FormatCitation(d *search.CitationDetail) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n\n", d.DocumentName)
	fmt.Fprintf(&sb, "Chunk %d of %d", d.Sequence+1, d.TotalChunks)
	if loc := location(d.Page, d.Section); loc != "" {
		fmt.Fprintf(&sb, " | %s", loc)
	}
	sb.WriteString("\n\n")

	for _, c := range d.Before {
		fmt.Fprintf(&sb, "%s\n\n", c)
	}
	fmt.Fprintf(&sb, "%s\n\n", quote(d.Content))
	for _, c := range d.After {
		fmt.Fprintf(&sb, "%s\n\n", c)
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func location(page *int, section string) string {
	var parts []string
	if page != nil {
		parts = append(parts, fmt.Sprintf("**Page:** %d", *page))
	}
	if section != "" {
		parts = append(parts, fmt.Sprintf("**Section:** %s", section))
	}
	return strings.Join(parts, " | ")
}

func quote(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

// ToSearchResultOutput converts a result to the tool output, explaining
// which retrieval sides found it.
func ToSearchResultOutput(r *search.Result) SearchResultOutput {
	out := SearchResultOutput{
		ChunkID:      r.ChunkID,
		DocumentID:   r.DocumentID,
		DocumentName: r.DocumentName,
		Page:         r.Page,
		Section:      r.Section,
		Content:      r.Content,
		Score:        r.Score,
		LexicalScore: r.LexicalScore,
		VectorScore:  r.VectorScore,
		RerankScore:  r.RerankScore,
		MatchReason:  matchReason(r),
	}
	if r.Citation != nil {
		runes := []rune(r.Citation.Content)
		seen := make(map[string]bool)
		for _, h := range r.Citation.Highlights {
			if h.Start < 0 || h.End > len(runes) || h.Start >= h.End {
				continue
			}
			term := strings.ToLower(string(runes[h.Start:h.End]))
			if !seen[term] {
				seen[term] = true
				out.Highlights = append(out.Highlights, term)
			}
		}
	}
	return out
}

func matchReason(r *search.Result) string {
	var reason string
	switch {
	case r.LexicalScore != nil && r.VectorScore != nil:
		reason = "Keyword and semantic match"
	case r.LexicalScore != nil:
		reason = "Keyword match"
	case r.VectorScore != nil:
		reason = "Semantic match"
	}
	if r.RerankScore != nil {
		if reason == "" {
			return "Reranked"
		}
		reason += ", reranked"
	}
	return reason
}
