package httputil

import (
	"fmt"

	"github.com/valyala/fasthttp"
)

const (
	ContentTypeHTML      = "text/html; charset=UTF-8"
	ContentTypeRootHTML  = "text/html; charset=utf-8"
	ContentTypePlainText = "text/plain"
)

// CacheControl formats the public cache-control value for maxAgeSeconds
func CacheControl(maxAgeSeconds int64) string {
	return fmt.Sprintf("public,max-age=%d", maxAgeSeconds)
}

// Empty writes a bodiless response
func Empty(ctx *fasthttp.RequestCtx, statusCode int) {
	ctx.SetStatusCode(statusCode)
	ctx.ResetBody()
}

// Text writes a plain-text response
func Text(ctx *fasthttp.RequestCtx, statusCode int, body string) {
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType(ContentTypePlainText)
	ctx.SetBodyString(body)
}

// HTML writes a rendered page. Extra headers are applied last so pages can override defaults.
func HTML(ctx *fasthttp.RequestCtx, statusCode int, body string, cacheControl string, headers map[string]string) {
	ctx.SetStatusCode(statusCode)
	ctx.SetContentType(ContentTypeHTML)
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, cacheControl)
	for name, value := range headers {
		ctx.Response.Header.Set(name, value)
	}
	ctx.SetBodyString(body)
}
