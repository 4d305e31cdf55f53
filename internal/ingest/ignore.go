package ingest

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// IgnoreFile is the per-directory file of patterns excluded from IngestDir and watching.
const IgnoreFile = ".amanragignore"

// defaultIgnores are always excluded.
var defaultIgnores = []string{".git/", ".amanrag/", "node_modules/", ".*.swp", "*~"}

// IgnoreMatcher matches slash-separated relative paths against gitignore-style
// patterns: `*`, `?`, `**`, a trailing `/` for directories, a leading `/` to
// anchor at the root and `!` to re-include. The last matching pattern wins.
type IgnoreMatcher struct {
	rules []ignoreRule
}

type ignoreRule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// NewIgnoreMatcher compiles patterns on top of the default exclusions.
func NewIgnoreMatcher(patterns ...string) *IgnoreMatcher {
	m := &IgnoreMatcher{}
	for _, p := range defaultIgnores {
		m.Add(p)
	}
	for _, p := range patterns {
		m.Add(p)
	}
	return m
}

// LoadIgnoreMatcher reads IgnoreFile from root when present.
func LoadIgnoreMatcher(root string) (*IgnoreMatcher, error) {
	m := NewIgnoreMatcher()
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", IgnoreFile, err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", IgnoreFile, err)
	}
	return m, nil
}

// Add compiles one pattern. Blank lines and # comments are skipped.
func (m *IgnoreMatcher) Add(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	var r ignoreRule
	if strings.HasPrefix(pattern, "!") {
		r.negate = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = pattern[1:]
	} else if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		r.anchored = true
	}
	if pattern == "" {
		return
	}
	r.re = regexp.MustCompile("^" + globToRegexp(pattern) + "$")
	m.rules = append(m.rules, r)
}

// Match reports whether rel, relative to the ingest root, is excluded.
func (m *IgnoreMatcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	parts := strings.Split(rel, "/")

	ignored := false
	for _, r := range m.rules {
		if r.matches(rel, parts, isDir) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(rel string, parts []string, isDir bool) bool {
	// A directory rule also matches everything below the directory.
	for i := range parts {
		last := i == len(parts)-1
		if last && r.dirOnly && !isDir {
			return false
		}
		var candidate string
		if r.anchored {
			candidate = strings.Join(parts[:i+1], "/")
		} else {
			candidate = parts[i]
		}
		if r.re.MatchString(candidate) {
			return true
		}
	}
	return !r.anchored && r.re.MatchString(rel)
}

func globToRegexp(pattern string) string {
	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '*' && strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString("(?:.*/)?")
			i += 2
		case c == '*' && strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		case c == '[':
			if j := strings.IndexByte(pattern[i:], ']'); j > 0 {
				b.WriteString(pattern[i : i+j+1])
				i += j
			} else {
				b.WriteString(`\[`)
			}
		case c == '\\' && i+1 < len(pattern):
			i++
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
