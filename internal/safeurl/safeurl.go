// Package safeurl validates client-supplied upstream URLs before the relay
// fetches them.
package safeurl

import "net/url"

// IsHTTPOrHTTPS reports whether u parses as an http or https URL with a
// host. The relay's u= and url= parameters come straight from clients, so
// file://, ftp://, and host-less forms are rejected before any fetch.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}
