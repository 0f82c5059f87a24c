// Package urlmorph implements the URL
// translation every track/container URI passes through before it reaches
// the player, so that URLs naming a streaming-service track end up
// pointing at the local stream proxy instead.
package urlmorph

import (
	"fmt"
	"regexp"
	"strings"
)

// protoescapePrefix is rewritten to a bare "PROTO://REST" URL.
const protoescapePrefix = "http://upmpdprotoescape/"

// serviceTrackPattern matches "tidal://track?version=N&trackId=ID" or the
// qobuz equivalent.
var serviceTrackPattern = regexp.MustCompile(`^(tidal|qobuz)://track\?version=(\d+)&trackId=(.+)$`)

// Result is the outcome of morphing one URI.
type Result struct {
	URL                 string
	ForceNoContentCheck bool
}

// Config carries the values the service-track rewrite needs to build
// a local proxy URL.
type Config struct {
	ProxyHost string
	ProxyPort int
	// PluginPath returns the proxy path prefix for the given service name
	// ("tidal" or "qobuz"), e.g. "/tidal".
	PluginPath func(service string) string
}

// Morph translates uri, applying rules in order:
// protoescape prefix rewrite, then tidal/qobuz track rewrite, then
// http(s) passthrough. Exactly one rule (or none) applies to a given
// input.
func Morph(cfg Config, uri string) Result {
	if rest, ok := strings.CutPrefix(uri, protoescapePrefix); ok {
		// rest is "PROTO/REST..."; the first path element is the scheme.
		scheme, tail, found := strings.Cut(rest, "/")
		if !found {
			return Result{URL: uri}
		}
		return Result{
			URL:                 scheme + "://" + tail,
			ForceNoContentCheck: true,
		}
	}

	if m := serviceTrackPattern.FindStringSubmatch(uri); m != nil {
		service, trackID := m[1], m[3]
		pathPrefix := ""
		if cfg.PluginPath != nil {
			pathPrefix = cfg.PluginPath(service)
		}
		url := fmt.Sprintf("http://%s:%d%s/track?version=1&trackId=%s", cfg.ProxyHost, cfg.ProxyPort, pathPrefix, trackID)
		return Result{URL: url, ForceNoContentCheck: true}
	}

	// http(s) pass through unchanged; anything else is returned as-is
	// too, leaving scheme validation to the insert path.
	return Result{URL: uri}
}
