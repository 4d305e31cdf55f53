// Package chunk splits plain document text into ordered chunk drafts.
package chunk

import (
	"fmt"
	"strings"
)

// Chunk size defaults, measured in characters (runes).
const (
	DefaultSize    = 500
	DefaultOverlap = 50

	// lookBack bounds how far the fixed strategy searches backward for a sentence end.
	lookBack = 100

	// maxSectionRunes caps a section title taken from a heading line.
	maxSectionRunes = 50
)

// Metadata keys set on every draft.
const (
	MetaStrategy   = "strategy"
	MetaChunkType  = "chunk_type"
	MetaTokenCount = "token_count"

	ChunkTypeText = "text"
	ChunkTypeTOC  = "toc"
)

// Strategy selects how text is split.
type Strategy string

const (
	StrategyFixed     Strategy = "fixed"
	StrategySemantic  Strategy = "semantic"
	StrategyRecursive Strategy = "recursive"
	StrategyPageAware Strategy = "page_aware"
)

// ParseStrategy parses a strategy name. Empty selects semantic.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyFixed:
		return StrategyFixed, nil
	case StrategySemantic, "":
		return StrategySemantic, nil
	case StrategyRecursive:
		return StrategyRecursive, nil
	case StrategyPageAware:
		return StrategyPageAware, nil
	default:
		return "", fmt.Errorf("unknown chunking strategy %q", s)
	}
}

// Draft is a chunk before ids and embeddings are assigned.
type Draft struct {
	Content  string
	Sequence int
	Page     *int   // nil when the source has no page markers
	Section  string // nearest preceding heading, if any
	Metadata map[string]string
}

// TokenCounter counts model tokens in a string.
type TokenCounter interface {
	Count(text string) int
}

// Options configures a Chunker.
type Options struct {
	Strategy   Strategy
	Size       int
	Overlap    int
	ExtractTOC bool

	// Counter, when set, adds a token_count metadata entry to every draft.
	Counter TokenCounter
}

func (o *Options) normalize() error {
	if o.Strategy == "" {
		o.Strategy = StrategySemantic
	}
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}
	if o.Size == 0 {
		o.Size = DefaultSize
	}
	if o.Size < 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", o.Size, o.Overlap)
	}
	return nil
}
