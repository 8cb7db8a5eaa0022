// Package filter decides what the browser may load while a page renders.
package filter

import (
	"strings"

	"github.com/edgecomet/rendeer/pkg/pattern"
)

// PlaceholderImage replaces every allowed image with a 1x1 transparent GIF
const PlaceholderImage = "data:image/gif;base64,R0lGODlhAQABAID/AP///wAAACwAAAAAAQABAAACAkQBADs="

// Action is the verdict for one outgoing request
type Action int

const (
	ActionAllow Action = iota
	ActionBlock
	ActionSubstitute
)

func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionBlock:
		return "block"
	case ActionSubstitute:
		return "substitute"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Decide. Payload is set only for ActionSubstitute.
type Decision struct {
	Action  Action
	Payload string
}

var (
	allow = Decision{Action: ActionAllow}
	block = Decision{Action: ActionBlock}
)

// Request describes an outgoing browser request
type Request struct {
	URL          string
	Method       string
	ResourceType string
}

// blockedResourceTypes never reach the network, allow-listed or not
var blockedResourceTypes = map[string]bool{
	"font":      true,
	"media":     true,
	"websocket": true,
	"manifest":  true,
}

// Policy holds the compiled allow-list. Safe for concurrent use.
type Policy struct {
	whitelist []*pattern.Pattern
}

// NewPolicy compiles the allow-list patterns
func NewPolicy(whitelist []string) (*Policy, error) {
	compiled, err := pattern.CompileAll(whitelist)
	if err != nil {
		return nil, err
	}
	return &Policy{whitelist: compiled}, nil
}

// Allowed reports whether url matches the allow-list
func (p *Policy) Allowed(url string) bool {
	return pattern.MatchAny(p.whitelist, url)
}

// Decide classifies a request. Pure and synchronous.
func (p *Policy) Decide(req Request) Decision {
	if hasPrefixFold(req.URL, "data:") {
		return allow
	}

	resourceType := strings.ToLower(req.ResourceType)
	if !p.Allowed(req.URL) || !strings.EqualFold(req.Method, "GET") || blockedResourceTypes[resourceType] {
		return block
	}

	if resourceType == "image" {
		return Decision{Action: ActionSubstitute, Payload: PlaceholderImage}
	}

	return allow
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
