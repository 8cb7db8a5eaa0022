package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectPatternType(t *testing.T) {
	tests := []struct {
		name            string
		pattern         string
		expectedType    PatternType
		expectedBody    string
		expectedCaseIns bool
	}{
		{"plain host", "example.com", PatternTypeSubstring, "example.com", false},
		{"plain path", "/static/", PatternTypeSubstring, "/static/", false},
		{"wildcard host", "https://*.example.com/*", PatternTypeWildcard, "https://*.example.com/*", false},
		{"wildcard catch-all", "*", PatternTypeWildcard, "*", false},
		{"regexp", `~^https://example\.com/`, PatternTypeRegexp, `^https://example\.com/`, false},
		{"regexp case-insensitive", `~*example\.(com|net)`, PatternTypeRegexp, `example\.(com|net)`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pType, body, caseIns := DetectPatternType(tt.pattern)
			assert.Equal(t, tt.expectedType, pType)
			assert.Equal(t, tt.expectedBody, body)
			assert.Equal(t, tt.expectedCaseIns, caseIns)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile("")
	assert.Error(t, err)

	_, err = Compile("   ")
	assert.Error(t, err)

	_, err = Compile("~[unclosed")
	assert.Error(t, err)

	_, err = Compile("~*")
	assert.Error(t, err)

	_, err = CompileAll([]string{"example.com", "~("})
	assert.Error(t, err)
}

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		match   bool
	}{
		{"substring matches host", "example.com", "https://example.com/page", true},
		{"substring ignores case", "Example.COM", "https://cdn.example.com/a.js", true},
		{"substring misses other host", "example.com", "https://evil.org/page", false},
		{"wildcard full match", "https://*.example.com/*", "https://static.example.com/app.css", true},
		{"wildcard requires prefix", "https://*.example.com/*", "http://static.example.com/app.css", false},
		{"wildcard ignores case", "*EXAMPLE.com*", "https://www.example.com/", true},
		{"regexp case-sensitive", `~^https://Example\.com`, "https://example.com/", false},
		{"regexp case-insensitive", `~*^https://Example\.com`, "https://example.com/", true},
		{"regexp unanchored", `~example\.(com|net)`, "https://cdn.example.net/x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.match, p.Match(tt.input))
		})
	}
}

func TestMatchAny(t *testing.T) {
	patterns, err := CompileAll([]string{"example.com", `~*\.cdn\.net/`})
	require.NoError(t, err)

	assert.True(t, MatchAny(patterns, "https://example.com/"))
	assert.True(t, MatchAny(patterns, "https://img.CDN.net/logo.png"))
	assert.False(t, MatchAny(patterns, "https://tracker.io/pixel"))
	assert.False(t, MatchAny(nil, "https://example.com/"))

	var nilPattern *Pattern
	assert.False(t, nilPattern.Match("anything"))
}

func TestMatchWildcard(t *testing.T) {
	tests := []struct {
		text    string
		pattern string
		match   bool
	}{
		{"/blog/post", "/blog/*", true},
		{"/blog/2024/post", "/blog/*", true},
		{"document.pdf", "*.pdf", true},
		{"anything", "*", true},
		{"/api/v1/data", "/api/*/data", true},
		{"/api/v1/other", "/api/*/data", false},
		{"exact", "exact", true},
		{"exactly", "exact", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.match, MatchWildcard(tt.text, tt.pattern), "%q vs %q", tt.text, tt.pattern)
	}
}
