package gate

import (
	"fmt"
	"regexp"
	"strings"
)

// PathMatcher matches request paths against configured allow-list
// patterns. A * wildcard matches any run of characters; patterns are
// anchored at both ends. An empty pattern list allows every path.
type PathMatcher struct {
	patterns []*regexp.Regexp
}

// NewPathMatcher compiles the given patterns.
func NewPathMatcher(patterns []string) (*PathMatcher, error) {
	m := &PathMatcher{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := compilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("path pattern %q: %w", p, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.Compile("^" + strings.Join(parts, ".*") + "$")
}

// Matches reports whether the path is allowed.
func (m *PathMatcher) Matches(path string) bool {
	if len(m.patterns) == 0 {
		return true
	}
	for _, re := range m.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
