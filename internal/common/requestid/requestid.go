package requestid

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

const (
	// HeaderName carries the request id in both directions
	HeaderName = "X-Request-ID"

	// MaxRequestIDLength matches the length of a UUID
	MaxRequestIDLength = 36
)

var (
	invalidCharsRegex       = regexp.MustCompile(`[^a-zA-Z0-9-]+`)
	consecutiveHyphensRegex = regexp.MustCompile(`-+`)
)

// Sanitize keeps [a-zA-Z0-9-], collapses hyphen runs and truncates to MaxRequestIDLength.
// Returns "" when nothing usable is left.
func Sanitize(id string) string {
	id = strings.ReplaceAll(id, " ", "-")
	id = invalidCharsRegex.ReplaceAllString(id, "")
	id = consecutiveHyphensRegex.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")

	if len(id) > MaxRequestIDLength {
		id = strings.TrimRight(id[:MaxRequestIDLength], "-")
	}
	return id
}

// Resolve reuses a caller-supplied id when it survives sanitization, otherwise generates a UUID
func Resolve(incoming string) string {
	if id := Sanitize(incoming); id != "" {
		return id
	}
	return uuid.NewString()
}

// FromRequest resolves the id for an incoming request and echoes it on the response
func FromRequest(ctx *fasthttp.RequestCtx) string {
	id := Resolve(string(ctx.Request.Header.Peek(HeaderName)))
	ctx.Response.Header.Set(HeaderName, id)
	return id
}
