package htmlprocessor

import (
	"fmt"
	"net/url"

	"github.com/edgecomet/rendeer/internal/common/urlutil"
	"github.com/edgecomet/rendeer/pkg/types"
)

// Process applies the crawler cleanup rules to a serialized page.
// pageURL is the final location of the page; it drives <base> and root-relative rebasing.
// A missing or unusable status override yields types.DefaultStatusCode.
func Process(htmlBytes []byte, pageURL string) (*types.RenderResult, error) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid page location %q", pageURL)
	}

	doc, err := ParseWithDOM(htmlBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered HTML: %w", err)
	}

	origin := urlutil.Origin(u)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	doc.CleanScripts()
	doc.EnsureBase(origin + path)
	doc.RebaseRootRelative(origin)
	statusCode, headers := doc.PrerenderMeta()
	doc.StripComments()

	if statusCode == 0 {
		statusCode = types.DefaultStatusCode
	}
	if len(headers) == 0 {
		headers = nil
	}

	return &types.RenderResult{
		HTML:       string(doc.HTML()),
		StatusCode: statusCode,
		Headers:    headers,
	}, nil
}
