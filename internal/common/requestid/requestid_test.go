package requestid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abc-123", "abc-123"},
		{"my request 123", "my-request-123"},
		{"my@request#123!", "myrequest123"},
		{"--a---b--", "a-b"},
		{"@@@", ""},
		{"", ""},
		{strings.Repeat("a", 50), strings.Repeat("a", MaxRequestIDLength)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.input), "input=%q", tt.input)
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "crawler-42", Resolve("crawler-42"))

	generated := Resolve("!!!")
	_, err := uuid.Parse(generated)
	require.NoError(t, err)

	assert.NotEqual(t, Resolve(""), Resolve(""))
}

func TestFromRequest(t *testing.T) {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.Set(HeaderName, "upstream-id")

	id := FromRequest(ctx)
	assert.Equal(t, "upstream-id", id)
	assert.Equal(t, "upstream-id", string(ctx.Response.Header.Peek(HeaderName)))

	fresh := &fasthttp.RequestCtx{}
	id = FromRequest(fresh)
	assert.Len(t, id, MaxRequestIDLength)
	assert.Equal(t, id, string(fresh.Response.Header.Peek(HeaderName)))
}
