package htmlprocessor

// Document is a parsed page that can be cleaned up for crawlers.
type Document interface {
	// CleanScripts removes every <script> except JSON-LD and every <link rel="import">.
	// Returns true if anything was removed.
	CleanScripts() bool

	// StripComments removes all comment nodes. Returns the number removed.
	StripComments() int

	// EnsureBase appends <base href> to <head> unless the document already has one.
	// Returns true if a base element was injected.
	EnsureBase(href string) bool

	// RebaseRootRelative prefixes origin to link[href], script[src] and img[src]
	// values that start with a single slash. Returns the number of rewritten attributes.
	RebaseRootRelative(origin string) int

	// PrerenderMeta reads the prerender-status-code and prerender-header meta tags.
	// statusCode is 0 when the page carries no usable override.
	PrerenderMeta() (statusCode int, headers map[string]string)

	// HTML returns the document re-serialized from the DOM.
	HTML() []byte
}
