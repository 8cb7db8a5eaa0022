// Package pattern provides the URL pattern syntax used by allow-lists.
//
// Pattern Matching Behavior:
//
//   - Substring (no prefix, no *): case-insensitive substring match
//     Example: "example.com" matches "https://cdn.EXAMPLE.com/app.js"
//
//   - Wildcard (*): case-insensitive full match, * matches any characters
//     Example: "https://*.example.com/*" matches "https://static.example.com/a.css"
//
//   - Regexp (~): case-sensitive regular expression, unanchored
//     Example: "~^https://example\.com/" matches "https://example.com/page"
//
//   - Regexp (~*): case-insensitive regular expression, unanchored
//     Example: "~*(example|cdn)\.com" matches "https://CDN.com/x"
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternType defines the type of pattern matching
type PatternType int

const (
	PatternTypeSubstring PatternType = iota
	PatternTypeWildcard
	PatternTypeRegexp
)

func (t PatternType) String() string {
	switch t {
	case PatternTypeSubstring:
		return "substring"
	case PatternTypeWildcard:
		return "wildcard"
	case PatternTypeRegexp:
		return "regexp"
	default:
		return "unknown"
	}
}

// Pattern is a compiled pattern ready for matching
type Pattern struct {
	Original string
	Type     PatternType

	lowered  string         // lowercased body for substring and wildcard matching
	compiled *regexp.Regexp // nil unless Type is PatternTypeRegexp
}

// DetectPatternType returns the pattern type, the pattern body without its prefix,
// and whether a regexp body should be matched case-insensitively.
func DetectPatternType(pattern string) (PatternType, string, bool) {
	if strings.HasPrefix(pattern, "~*") {
		return PatternTypeRegexp, pattern[2:], true
	}
	if strings.HasPrefix(pattern, "~") {
		return PatternTypeRegexp, pattern[1:], false
	}
	if strings.Contains(pattern, "*") {
		return PatternTypeWildcard, pattern, false
	}
	return PatternTypeSubstring, pattern, false
}

// Compile pre-compiles a pattern. Call once while loading configuration.
func Compile(pattern string) (*Pattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	patternType, body, caseInsensitive := DetectPatternType(pattern)
	p := &Pattern{
		Original: pattern,
		Type:     patternType,
		lowered:  strings.ToLower(body),
	}

	if patternType == PatternTypeRegexp {
		if body == "" {
			return nil, fmt.Errorf("invalid regexp pattern '%s': empty expression", pattern)
		}
		if caseInsensitive {
			body = "(?i)" + body
		}
		re, err := regexp.Compile(body)
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern '%s': %w", pattern, err)
		}
		p.compiled = re
	}

	return p, nil
}

// CompileAll compiles every pattern, failing on the first invalid one.
func CompileAll(patterns []string) ([]*Pattern, error) {
	compiled := make([]*Pattern, 0, len(patterns))
	for _, raw := range patterns {
		p, err := Compile(raw)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, p)
	}
	return compiled, nil
}

// Match tests input against the pattern
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}

	switch p.Type {
	case PatternTypeRegexp:
		return p.compiled != nil && p.compiled.MatchString(input)
	case PatternTypeWildcard:
		return MatchWildcard(strings.ToLower(input), p.lowered)
	default:
		return strings.Contains(strings.ToLower(input), p.lowered)
	}
}

// MatchAny reports whether any of the patterns matches input.
func MatchAny(patterns []*Pattern, input string) bool {
	for _, p := range patterns {
		if p.Match(input) {
			return true
		}
	}
	return false
}

// MatchWildcard matches text against pattern where * stands for any run of characters.
// The whole text must be covered by the pattern. Comparison is byte-exact; callers lowercase.
func MatchWildcard(text, pattern string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return text == pattern
	}

	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(text, part)
		if idx == -1 {
			return false
		}
		text = text[idx+len(part):]
	}

	return strings.HasSuffix(text, last)
}
