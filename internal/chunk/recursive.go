package chunk

import (
	"strings"
	"unicode/utf8"
)

// recursiveSeparators are tried in order, coarsest first.
var recursiveSeparators = []string{"\n\n\n", "\n\n", "\n", "。", ".", "；", ";", " "}

func (c *Chunker) recursive(text string) []Draft {
	var drafts []Draft
	for _, piece := range c.recursiveSplit(text, 0) {
		if s := strings.TrimSpace(piece); s != "" {
			drafts = append(drafts, Draft{Content: s})
		}
	}
	return drafts
}

// recursiveSplit merges parts split on the separator at level up to Size,
// descending to finer separators only for parts that are still too large.
func (c *Chunker) recursiveSplit(text string, level int) []string {
	if level >= len(recursiveSeparators) {
		return c.hardSplit(text)
	}

	var (
		pieces  []string
		current string
	)
	for _, part := range strings.SplitAfter(text, recursiveSeparators[level]) {
		if utf8.RuneCountInString(current)+utf8.RuneCountInString(part) <= c.opts.Size {
			current += part
			continue
		}

		if current != "" {
			pieces = append(pieces, current)
			current = ""
		}
		if utf8.RuneCountInString(part) > c.opts.Size {
			pieces = append(pieces, c.recursiveSplit(part, level+1)...)
			continue
		}
		current = part
	}
	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}
