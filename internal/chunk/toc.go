package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// TOCSection is the section name given to table-of-contents drafts.
const TOCSection = "Table of Contents"

// maxHeadingRunes excludes long lines that merely start like a heading.
const maxHeadingRunes = 80

var (
	tocChapter     = regexp.MustCompile(`^第[一二三四五六七八九十百千0-9]+[章节篇部]`)
	tocEnumeration = regexp.MustCompile(`^[一二三四五六七八九十]+[、．.]`)
	tocMarkdown    = regexp.MustCompile(`^(#{1,3})\s+(\S.*)$`)

	// sectionWording marks numeric lines that are headings rather than list items.
	sectionWording = regexp.MustCompile(`(?i)\b(chapter|section|part|appendix)\b|章|节|篇|部分`)
)

// ExtractTOC builds a synthetic draft listing the document's top-level headings.
// It reports false when no heading is found.
func ExtractTOC(text string) (Draft, bool) {
	var entries []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || utf8.RuneCountInString(line) > maxHeadingRunes {
			continue
		}
		if entry, ok := tocEntry(line); ok {
			entries = append(entries, entry)
		}
	}
	if len(entries) == 0 {
		return Draft{}, false
	}

	var b strings.Builder
	b.WriteString(TOCSection)
	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(e)
	}
	return Draft{
		Content: b.String(),
		Section: TOCSection,
		Metadata: map[string]string{
			MetaChunkType: ChunkTypeTOC,
		},
	}, true
}

func tocEntry(line string) (string, bool) {
	switch {
	case tocChapter.MatchString(line), tocEnumeration.MatchString(line):
		return "- " + line, true
	case numberedHeading.MatchString(line):
		if !sectionWording.MatchString(line) {
			return "", false
		}
		return "- " + line, true
	}
	if m := tocMarkdown.FindStringSubmatch(line); m != nil {
		indent := strings.Repeat("  ", len(m[1])-1)
		return indent + "- " + strings.TrimSpace(m[2]), true
	}
	return "", false
}
