package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedURL is returned when a render target cannot be turned into an absolute http(s) URL
var ErrMalformedURL = errors.New("invalid URL")

// NormalizeTarget converts a raw, possibly percent-encoded target into the identity
// key used by both cache tiers: origin + decoded path. Query and fragment are dropped,
// scheme and host are lowercased and default ports removed.
func NormalizeTarget(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedURL, raw)
	}
	decoded = strings.TrimSpace(decoded)

	u, err := url.Parse(decoded)
	if err != nil || u.Host == "" || strings.ContainsAny(u.Host, " \t") {
		return "", fmt.Errorf("%w: %s", ErrMalformedURL, raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %s", ErrMalformedURL, raw)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return Origin(u) + path, nil
}

// Origin returns scheme://host[:port] without default ports
func Origin(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}

	return scheme + "://" + host
}

// CheckTarget rejects targets whose host is a literal private or reserved IP
func CheckTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedURL, target)
	}
	return ValidateHostNotPrivateIP(u.Hostname())
}
