// Package discord implements the thin transport glue to the upstream
// platform: the interaction sender the dispatcher emits commands
// through, and the CDN URL rewriter applied to result images.
package discord

import "net/url"

const discordCDNHost = "cdn.discordapp.com"

// CDNRewriter maps upstream CDN URLs onto a configured public mirror.
// It is a pure function with no failure path: anything that does not
// parse, or does not point at the upstream CDN, comes back unchanged.
type CDNRewriter struct {
	scheme string
	host   string
}

// NewCDNRewriter builds a rewriter for the given mirror base URL
// (e.g. "https://img.example.com"). An empty base disables rewriting.
func NewCDNRewriter(base string) *CDNRewriter {
	if base == "" {
		return &CDNRewriter{}
	}
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return &CDNRewriter{}
	}
	return &CDNRewriter{scheme: u.Scheme, host: u.Host}
}

// Rewrite swaps the CDN host for the mirror, keeping path and query.
func (r *CDNRewriter) Rewrite(rawURL string) string {
	if r.host == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host != discordCDNHost {
		return rawURL
	}
	u.Scheme = r.scheme
	u.Host = r.host
	return u.String()
}
