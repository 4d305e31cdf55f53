package chunk

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	// pagePattern matches page markers inserted by text extraction: [Page 3]
	pagePattern = regexp.MustCompile(`\[Page (\d+)\]`)

	// numberedHeading matches "2. Setup" and "3、方法" but not "3.14 is pi".
	numberedHeading = regexp.MustCompile(`^\d+[.、]\s*[^\d\s]`)

	// headingPatterns match lines that open a new section.
	headingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^第[一二三四五六七八九十百千0-9]+[章节篇部]`),
		regexp.MustCompile(`^[一二三四五六七八九十]+[、．.]`),
		numberedHeading,
		regexp.MustCompile(`^#{1,6}\s+`),
		regexp.MustCompile(`^\[Page \d+\]`),
	}

	paragraphBreak = regexp.MustCompile(`\n\s*\n`)

	// sentencePattern keeps the terminator with its sentence.
	sentencePattern = regexp.MustCompile(`[^。！？.!?；;…]*[。！？.!?；;…]+|[^。！？.!?；;…]+`)
)

// sentenceEnds are the terminators the fixed strategy snaps to.
var sentenceEnds = map[rune]bool{
	'。': true, '！': true, '？': true, '；': true, '…': true,
	'.': true, '!': true, '?': true,
}

// Chunker splits text using one configured strategy.
type Chunker struct {
	opts Options
}

// New creates a Chunker. Zero Size selects DefaultSize.
func New(opts Options) (*Chunker, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts}, nil
}

// Split chunks text with the given strategy, without TOC extraction.
func Split(text string, strategy Strategy, size, overlap int) ([]Draft, error) {
	c, err := New(Options{Strategy: strategy, Size: size, Overlap: overlap})
	if err != nil {
		return nil, err
	}
	return c.Chunk(text)
}

// Options returns the effective options.
func (c *Chunker) Options() Options {
	return c.opts
}

// Chunk splits text into drafts ordered by Sequence.
// Empty or whitespace-only text yields no drafts.
// When TOC extraction is enabled and headings are found, the TOC draft is last.
func (c *Chunker) Chunk(text string) ([]Draft, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	strategy := c.opts.Strategy
	if strategy == StrategySemantic && pagePattern.MatchString(text) {
		strategy = StrategyPageAware
	}

	var drafts []Draft
	switch strategy {
	case StrategyFixed:
		drafts = c.fixed(text)
	case StrategyRecursive:
		drafts = c.recursive(text)
	case StrategyPageAware:
		drafts = c.pageAware(text)
	default:
		drafts = c.semantic(text)
	}

	for i := range drafts {
		drafts[i].Metadata = map[string]string{
			MetaStrategy:  string(strategy),
			MetaChunkType: ChunkTypeText,
		}
	}

	if c.opts.ExtractTOC {
		if toc, ok := ExtractTOC(text); ok {
			toc.Metadata[MetaStrategy] = string(strategy)
			drafts = append(drafts, toc)
		}
	}

	for i := range drafts {
		drafts[i].Sequence = i
		if c.opts.Counter != nil {
			drafts[i].Metadata[MetaTokenCount] = strconv.Itoa(c.opts.Counter.Count(drafts[i].Content))
		}
	}
	return drafts, nil
}

// fixed slides a window of Size runes, snapping the end back to a sentence terminator.
func (c *Chunker) fixed(text string) []Draft {
	runes := []rune(text)
	n := len(runes)
	var drafts []Draft

	for start := 0; start < n; {
		end := start + c.opts.Size
		if end > n {
			end = n
		}
		if end < n {
			if b := sentenceBoundary(runes, start, end); b > start {
				end = b
			}
		}

		if content := strings.TrimSpace(string(runes[start:end])); content != "" {
			drafts = append(drafts, Draft{Content: content})
		}
		if end >= n {
			break
		}

		next := end - c.opts.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return drafts
}

// sentenceBoundary returns the index just past the last terminator in the
// look-back window before end, or end if there is none.
func sentenceBoundary(runes []rune, start, end int) int {
	floor := end - lookBack
	if floor < start {
		floor = start
	}
	for i := end - 1; i > floor; i-- {
		if sentenceEnds[runes[i]] {
			return i + 1
		}
	}
	return end
}

// semantic accumulates paragraphs up to Size, starting a new chunk at headings.
func (c *Chunker) semantic(text string) []Draft {
	var (
		drafts  []Draft
		current []string
		length  int
		section string
	)

	flush := func() {
		if len(current) == 0 {
			return
		}
		drafts = append(drafts, Draft{Content: strings.Join(current, "\n"), Section: section})
		current = current[:0]
		length = 0
	}

	for _, para := range c.paragraphs(text) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if heading, ok := sectionTitle(para); ok {
			flush()
			section = heading
		}

		paraLen := utf8.RuneCountInString(para)
		switch {
		case paraLen > c.opts.Size:
			flush()
			for _, piece := range c.splitSentences(para) {
				drafts = append(drafts, Draft{Content: piece, Section: section})
			}
		case length > 0 && length+paraLen+1 > c.opts.Size:
			flush()
			current = append(current, para)
			length = paraLen
		default:
			if length > 0 {
				length++
			}
			current = append(current, para)
			length += paraLen
		}
	}
	flush()
	return drafts
}

// paragraphs splits on blank lines, then breaks paragraphs at heading lines.
// Oversized paragraphs are also split into lines.
func (c *Chunker) paragraphs(text string) []string {
	var out []string
	for _, para := range paragraphBreak.Split(text, -1) {
		lines := strings.Split(para, "\n")
		if len(lines) > 1 && utf8.RuneCountInString(para) > c.opts.Size {
			out = append(out, lines...)
			continue
		}

		start := 0
		for i := 1; i < len(lines); i++ {
			if isHeading(strings.TrimSpace(lines[i])) {
				out = append(out, strings.Join(lines[start:i], "\n"))
				start = i
			}
		}
		out = append(out, strings.Join(lines[start:], "\n"))
	}
	return out
}

// splitSentences groups sentences of an oversized paragraph into pieces of at most Size.
func (c *Chunker) splitSentences(para string) []string {
	var (
		pieces  []string
		current strings.Builder
		length  int
	)

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			pieces = append(pieces, s)
		}
		current.Reset()
		length = 0
	}

	for _, sentence := range sentencePattern.FindAllString(para, -1) {
		n := utf8.RuneCountInString(sentence)
		if length+n <= c.opts.Size {
			current.WriteString(sentence)
			length += n
			continue
		}

		flush()
		if n > c.opts.Size {
			pieces = append(pieces, c.hardSplit(sentence)...)
			continue
		}
		current.WriteString(sentence)
		length = n
	}
	flush()

	if len(pieces) == 0 {
		return []string{para}
	}
	return pieces
}

// hardSplit cuts text into windows of Size runes stepping by Size-Overlap.
func (c *Chunker) hardSplit(text string) []string {
	runes := []rune(text)
	step := c.opts.Size - c.opts.Overlap
	var pieces []string
	for i := 0; i < len(runes); i += step {
		end := i + c.opts.Size
		if end > len(runes) {
			end = len(runes)
		}
		if s := strings.TrimSpace(string(runes[i:end])); s != "" {
			pieces = append(pieces, s)
		}
		if end == len(runes) {
			break
		}
	}
	return pieces
}

// pageAware chunks each [Page N] section on its own and tags it with N.
// Text before the first marker is chunked without a page.
func (c *Chunker) pageAware(text string) []Draft {
	matches := pagePattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return c.semantic(text)
	}

	var drafts []Draft
	if preface := strings.TrimSpace(text[:matches[0][0]]); preface != "" {
		drafts = append(drafts, c.semantic(preface)...)
	}

	for i, m := range matches {
		page, err := strconv.Atoi(text[m[2]:m[3]])
		if err != nil {
			continue
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		content := strings.TrimSpace(text[m[1]:end])
		if content == "" {
			continue
		}

		if utf8.RuneCountInString(content) <= c.opts.Size {
			section, _ := sectionTitle(content)
			p := page
			drafts = append(drafts, Draft{Content: content, Page: &p, Section: section})
			continue
		}
		for _, d := range c.semantic(content) {
			p := page
			d.Page = &p
			drafts = append(drafts, d)
		}
	}
	return drafts
}

// isHeading reports whether a trimmed line opens a section.
func isHeading(line string) bool {
	for _, p := range headingPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// sectionTitle returns the heading line that opens block, if any.
func sectionTitle(block string) (string, bool) {
	if !isHeading(block) {
		return "", false
	}
	line := block
	if i := strings.IndexByte(block, '\n'); i > 0 {
		line = block[:i]
	}
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > maxSectionRunes {
		line = string([]rune(line)[:maxSectionRunes])
	}
	return line, true
}
