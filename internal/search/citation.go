package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
	"github.com/Aman-CERP/amanrag/internal/store"
)

const (
	// PreviewLength is the number of runes kept in a citation preview.
	PreviewLength = 100

	// MaxContextSize bounds how many neighbors a citation detail resolves per side.
	MaxContextSize = 3

	// sectionScanLines is how many leading lines are scanned for a title.
	sectionScanLines = 3

	// maxSectionRunes is the longest line accepted as a title.
	maxSectionRunes = 50
)

var (
	defaultTokenizerOnce sync.Once
	defaultTokenizerInst store.Tokenizer
)

// defaultTokenizer returns the BM25 tokenizer with default settings.
func defaultTokenizer() store.Tokenizer {
	defaultTokenizerOnce.Do(func() {
		t, err := store.NewTokenizer(store.DefaultMinTokenLength)
		if err != nil {
			panic(fmt.Sprintf("search: default tokenizer: %v", err))
		}
		defaultTokenizerInst = t
	})
	return defaultTokenizerInst
}

// CitationBuilder attaches provenance to results and resolves citation details.
type CitationBuilder struct {
	corpus    store.CorpusStore
	tokenizer store.Tokenizer
}

// NewCitationBuilder creates a builder. A nil tokenizer selects the default BM25 tokenizer.
func NewCitationBuilder(corpus store.CorpusStore, tokenizer store.Tokenizer) *CitationBuilder {
	if tokenizer == nil {
		tokenizer = defaultTokenizer()
	}
	return &CitationBuilder{corpus: corpus, tokenizer: tokenizer}
}

// Build creates the citation of a hydrated result. Highlights mark every
// occurrence of a query term; an empty query yields no highlights.
func (b *CitationBuilder) Build(r *Result, query string) *Citation {
	section := r.Section
	if section == "" {
		section = r.Metadata["section"]
	}
	if section == "" {
		section = extractSection(r.Content)
	}

	return &Citation{
		ChunkID:      r.ChunkID,
		DocumentID:   r.DocumentID,
		DocumentName: r.DocumentName,
		Page:         r.Page,
		Section:      section,
		Content:      r.Content,
		Preview:      Preview(r.Content),
		Score:        r.Score,
		Highlights:   Highlights(r.Content, queryTerms(b.tokenizer, query)),
		Metadata:     r.Metadata,
	}
}

// Detail resolves a chunk with up to contextSize neighbors on each side,
// ordered by sequence. ownerID, when set, must own the chunk.
func (b *CitationBuilder) Detail(ctx context.Context, chunkID, ownerID string, includeContext bool, contextSize int) (*CitationDetail, error) {
	if strings.TrimSpace(chunkID) == "" {
		return nil, amanerrors.InvalidInput("chunk_id", "chunk id is required")
	}
	if contextSize < 0 || contextSize > MaxContextSize {
		return nil, amanerrors.OutOfRange("context_size", contextSize, 0, MaxContextSize)
	}

	chunk, err := b.corpus.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && chunk.OwnerID != ownerID {
		return nil, amanerrors.NotFound("chunk", chunkID)
	}
	doc, err := b.corpus.GetDocument(ctx, chunk.DocumentID)
	if err != nil {
		return nil, err
	}
	// Siblings share the document, so this also hides them.
	if doc.Status != store.StatusReady {
		return nil, amanerrors.NotFound("chunk", chunkID)
	}

	siblings, err := b.corpus.ChunksByDocument(ctx, chunk.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document chunks: %w", err)
	}

	detail := &CitationDetail{
		ChunkID:      chunk.ID,
		DocumentID:   chunk.DocumentID,
		DocumentName: documentName(doc),
		OwnerID:      chunk.OwnerID,
		Page:         chunk.Page,
		Section:      chunk.Section,
		Sequence:     chunk.Sequence,
		Content:      chunk.Content,
		TotalChunks:  len(siblings),
		Metadata:     chunk.Metadata,
	}
	if detail.Section == "" {
		detail.Section = extractSection(chunk.Content)
	}

	if includeContext && contextSize > 0 {
		pos := -1
		for i, s := range siblings {
			if s.ID == chunk.ID {
				pos = i
				break
			}
		}
		if pos >= 0 {
			for i := max(0, pos-contextSize); i < pos; i++ {
				detail.Before = append(detail.Before, siblings[i].Content)
			}
			for i := pos + 1; i < len(siblings) && i <= pos+contextSize; i++ {
				detail.After = append(detail.After, siblings[i].Content)
			}
		}
	}
	return detail, nil
}

// Details resolves several citations without context. Missing chunks are skipped.
func (b *CitationBuilder) Details(ctx context.Context, chunkIDs []string, ownerID string) ([]*CitationDetail, error) {
	details := make([]*CitationDetail, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		d, err := b.Detail(ctx, id, ownerID, false, 0)
		if err != nil {
			if amanerrors.GetCode(err) == amanerrors.ErrCodeNotFound {
				continue
			}
			return nil, err
		}
		details = append(details, d)
	}
	return details, nil
}

// Preview returns the first PreviewLength runes of content, with an
// ellipsis when truncated.
func Preview(content string) string {
	if utf8.RuneCountInString(content) <= PreviewLength {
		return content
	}
	return string([]rune(content)[:PreviewLength]) + "..."
}

// Highlights returns the merged rune ranges of every occurrence of any term
// in content, case-insensitively, sorted by start. Overlapping and adjacent
// ranges are merged.
func Highlights(content string, terms [][]rune) []Range {
	ranges := []Range{}
	if content == "" || len(terms) == 0 {
		return ranges
	}

	lowered := lowerRunes(content)
	for _, term := range terms {
		for pos := indexRunes(lowered, term, 0); pos >= 0; pos = indexRunes(lowered, term, pos+1) {
			ranges = append(ranges, Range{Start: pos, End: pos + len(term)})
		}
	}
	if len(ranges) < 2 {
		return ranges
	}

	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Start != ranges[j].Start {
			return ranges[i].Start < ranges[j].Start
		}
		return ranges[i].End < ranges[j].End
	})
	merged := ranges[:1]
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// extractSection guesses a title from the first lines of content: a short
// line that does not end in sentence punctuation. Page markers are skipped.
func extractSection(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) > sectionScanLines {
		lines = lines[:sectionScanLines]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "[Page") {
			continue
		}
		if utf8.RuneCountInString(line) >= maxSectionRunes {
			continue
		}
		last, _ := utf8.DecodeLastRuneInString(line)
		if strings.ContainsRune("。.，,；;", last) {
			continue
		}
		return line
	}
	return ""
}

// lowerRunes lower-cases rune by rune so offsets match the original text.
func lowerRunes(s string) []rune {
	runes := []rune(s)
	for i, r := range runes {
		runes[i] = unicode.ToLower(r)
	}
	return runes
}

func documentName(doc *store.Document) string {
	if doc.Name != "" {
		return doc.Name
	}
	if name := doc.Metadata["filename"]; name != "" {
		return name
	}
	return doc.ID
}
