// Package ignore implements the glob matcher used by the mirror planner
// (internal/mirror) and passed through to rsync's --exclude flag
// (internal/uploader). Grounded in the teacher's shouldIgnore
// (internal/sync/diff.go, internal/watch/watcher.go), generalized from
// substring/basename matching to the full pattern grammar: trailing-slash
// directory patterns, ** globstar, and full path-segment matching.
package ignore

import (
	"path"
	"regexp"
	"strings"
)

// pattern is one compiled ignore rule.
type pattern struct {
	raw       string
	isDir     bool
	anchored  bool // pattern contains "/": match against the full path only
	literal   string // set when the pattern has no glob metacharacters
	re        *regexp.Regexp
}

// Matcher holds a compiled set of ignore patterns. First matching pattern
// wins; order does not otherwise affect the result since matching is
// independent per pattern.
type Matcher struct {
	patterns []pattern
}

// Compile builds a Matcher from raw glob patterns, as written in a
// target's ignore list.
func Compile(patterns []string) (*Matcher, error) {
	m := &Matcher{}
	for _, raw := range patterns {
		p, err := compileOne(raw)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, p)
	}
	return m, nil
}

func compileOne(raw string) (pattern, error) {
	p := pattern{raw: raw}

	body := raw
	if strings.HasSuffix(body, "/") {
		p.isDir = true
		body = strings.TrimSuffix(body, "/")
	}
	// A pattern naming a path (containing "/") anchors against the full
	// path; a bare pattern matches at any directory depth, same as the
	// literal basename/segment rule.
	p.anchored = strings.Contains(strings.TrimSuffix(body, "/"), "/")

	if !strings.ContainsAny(body, "*?") {
		p.literal = body
		return p, nil
	}

	re, err := globToRegexp(body)
	if err != nil {
		return pattern{}, err
	}
	p.re = re
	return p, nil
}

// globToRegexp translates a glob pattern (with ** globstar support) into
// a regexp fragment matched against either the full path or a single
// path segment, depending on the pattern's anchored-ness.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")

	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				sb.WriteString(".*")
				i++
				// consume an immediately following slash so "**/x" matches
				// "x" at the root too.
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				sb.WriteString("[^/]*")
			}
		case '?':
			sb.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '[', ']', '\\':
			sb.WriteString(regexp.QuoteMeta(string(r)))
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// Matches reports whether path is ignored by any compiled pattern.
// path is normalized to "/" separators with any leading "/" stripped
// before testing, per spec.
func (m *Matcher) Matches(p string) bool {
	if m == nil {
		return false
	}
	clean := strings.TrimPrefix(filepathToSlash(p), "/")
	segments := strings.Split(clean, "/")

	for _, pat := range m.patterns {
		if matchesOne(pat, clean, segments) {
			return true
		}
	}
	return false
}

func matchesOne(pat pattern, clean string, segments []string) bool {
	if pat.literal != "" && pat.anchored {
		return clean == pat.literal || (pat.isDir && strings.HasPrefix(clean, pat.literal+"/"))
	}
	if pat.literal != "" {
		base := path.Base(clean)
		if base == pat.literal {
			return true
		}
		for _, seg := range segments {
			if seg == pat.literal {
				return true
			}
		}
		return false
	}

	if pat.re == nil {
		return false
	}

	if !pat.anchored {
		// Unanchored glob: match at any directory depth, same as the
		// literal basename/segment rule.
		for _, seg := range segments {
			if pat.re.MatchString(seg) {
				return true
			}
		}
		return false
	}

	if pat.re.MatchString(clean) {
		return true
	}
	// a directory pattern additionally matches anything underneath a
	// directory whose own path matched.
	if pat.isDir {
		for i := range segments {
			prefix := strings.Join(segments[:i+1], "/")
			if pat.re.MatchString(prefix) {
				return true
			}
		}
	}
	return false
}

// Filter returns items whose relPath (extracted by key) is not ignored.
func Filter[T any](m *Matcher, items []T, key func(T) string) []T {
	if m == nil || len(m.patterns) == 0 {
		return items
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		if !m.Matches(key(item)) {
			out = append(out, item)
		}
	}
	return out
}

// Patterns returns the raw pattern strings, used to pass through to
// rsync's --exclude flag verbatim.
func (m *Matcher) Patterns() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.raw
	}
	return out
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
