package htmlprocessor

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	jsonLDType = "application/ld+json"

	metaStatusCode = "prerender-status-code"
	metaHeader     = "prerender-header"

	// status overrides outside this range cannot be written as a status line
	minStatusCode = 100
	maxStatusCode = 999
)

var (
	singleSlashPath = regexp.MustCompile(`^/[^/]`)
	leadingInteger  = regexp.MustCompile(`^\s*(\d+)`)
)

// domDocument implements Document on top of golang.org/x/net/html,
// with goquery selections for attribute-based lookups.
type domDocument struct {
	root  *html.Node
	query *goquery.Document
}

// ParseWithDOM parses HTML bytes into a Document using DOM parsing.
func ParseWithDOM(htmlBytes []byte) (Document, error) {
	root, err := html.Parse(bytes.NewReader(htmlBytes))
	if err != nil {
		return nil, err
	}
	return &domDocument{root: root, query: goquery.NewDocumentFromNode(root)}, nil
}

// findElement returns the first element with the given tag (case-insensitive), depth first.
func findElement(node *html.Node, tag string) *html.Node {
	if node == nil {
		return nil
	}
	tag = strings.ToLower(tag)

	var found *html.Node
	walk(node, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && strings.ToLower(n.Data) == tag {
			found = n
			return false
		}
		return true
	})
	return found
}

// walk visits node and its descendants. Returning false skips the children of n.
func walk(node *html.Node, visit func(n *html.Node) bool) {
	if !visit(node) {
		return
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

// removeNodes detaches nodes collected during a walk
func removeNodes(nodes []*html.Node) {
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

// getAttr returns attribute value for given name (case-insensitive comparison).
func getAttr(node *html.Node, name string) string {
	if node == nil {
		return ""
	}
	name = strings.ToLower(name)
	for _, attr := range node.Attr {
		if strings.ToLower(attr.Key) == name {
			return attr.Val
		}
	}
	return ""
}

// isStrippedScript matches every script except structured data
func isStrippedScript(node *html.Node) bool {
	if node.Type != html.ElementNode || strings.ToLower(node.Data) != "script" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(getAttr(node, "type"))) != jsonLDType
}

func isImportLink(node *html.Node) bool {
	if node.Type != html.ElementNode || strings.ToLower(node.Data) != "link" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(getAttr(node, "rel")), "import")
}

func (d *domDocument) CleanScripts() bool {
	var toRemove []*html.Node
	walk(d.root, func(n *html.Node) bool {
		if isStrippedScript(n) || isImportLink(n) {
			toRemove = append(toRemove, n)
			return false
		}
		return true
	})

	removeNodes(toRemove)
	return len(toRemove) > 0
}

func (d *domDocument) StripComments() int {
	var toRemove []*html.Node
	walk(d.root, func(n *html.Node) bool {
		if n.Type == html.CommentNode {
			toRemove = append(toRemove, n)
		}
		return true
	})

	removeNodes(toRemove)
	return len(toRemove)
}

func (d *domDocument) EnsureBase(href string) bool {
	if d.query.Find("base").Length() > 0 {
		return false
	}

	head := findElement(d.root, "head")
	if head == nil {
		return false
	}

	head.AppendChild(&html.Node{
		Type:     html.ElementNode,
		Data:     "base",
		DataAtom: atom.Base,
		Attr:     []html.Attribute{{Key: "href", Val: href}},
	})
	return true
}

func (d *domDocument) RebaseRootRelative(origin string) int {
	rewritten := 0
	d.query.Find(`link[href^="/"], script[src^="/"], img[src^="/"]`).Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && singleSlashPath.MatchString(src) {
			s.SetAttr("src", origin+src)
			rewritten++
			return
		}
		if href, ok := s.Attr("href"); ok && singleSlashPath.MatchString(href) {
			s.SetAttr("href", origin+href)
			rewritten++
		}
	})
	return rewritten
}

func (d *domDocument) PrerenderMeta() (int, map[string]string) {
	statusCode := 0
	if content, ok := d.query.Find(`meta[name="` + metaStatusCode + `"]`).First().Attr("content"); ok {
		if m := leadingInteger.FindStringSubmatch(content); m != nil {
			if code, err := strconv.Atoi(m[1]); err == nil && code >= minStatusCode && code <= maxStatusCode {
				statusCode = code
			}
		}
	}

	headers := make(map[string]string)
	d.query.Find(`meta[name="` + metaHeader + `"]`).Each(func(_ int, s *goquery.Selection) {
		name, value, ok := strings.Cut(s.AttrOr("content", ""), ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return
		}
		headers[name] = strings.TrimSpace(value)
	})

	return statusCode, headers
}

func (d *domDocument) HTML() []byte {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return nil
	}
	return buf.Bytes()
}
