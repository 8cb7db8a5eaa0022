package types

// DefaultStatusCode is used when a rendered page carries no status override.
const DefaultStatusCode = 200

// RenderResult is the immutable outcome of rendering one page.
type RenderResult struct {
	HTML       string            `json:"content"`
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// EffectiveStatus returns StatusCode, falling back to 200 when no status was captured.
func (r *RenderResult) EffectiveStatus() int {
	if r == nil || r.StatusCode == 0 {
		return DefaultStatusCode
	}
	return r.StatusCode
}

// IsCacheable reports whether the result may be stored in any cache tier.
// Only 2xx results qualify; a missing status counts as 200.
func (r *RenderResult) IsCacheable() bool {
	status := r.EffectiveStatus()
	return status >= 200 && status < 300
}
