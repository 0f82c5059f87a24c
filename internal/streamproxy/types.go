// Package streamproxy implements the local HTTP server that interposes
// between the player and remote audio sources: it accepts
// GET/HEAD, translates URLs via a caller-supplied UrlTrans callback,
// honors a single open-ended Range request, and proxies upstream bytes
// through a bounded producer/consumer queue with transparent retry.
package streamproxy

import "github.com/upmpd-go/upmpd-go/internal/netfetch"

// Outcome is what a UrlTrans callback decided to do with one request.
type Outcome int

const (
	// OutcomeError refuses the connection outright.
	OutcomeError Outcome = iota
	// OutcomeRedirect responds 302 with Location set to Redirect.
	OutcomeRedirect
	// OutcomeProxy proxies the request through Fetcher.
	OutcomeProxy
)

// TransResult is the result of a UrlTrans invocation.
type TransResult struct {
	Outcome  Outcome
	Redirect string
	Fetcher  netfetch.Fetcher
}

// UrlTrans decides how to handle one incoming request, given the
// requesting user agent, the request path, and its query string as a
// flat map.
type UrlTrans func(userAgent, url string, query map[string]string) TransResult
