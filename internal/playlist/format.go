package playlist

import (
	"fmt"
	"strings"

	"github.com/upmpd-go/upmpd-go/internal/didl"
)

// checkContentFormat verifies that insert metadata declares a content
// format the player can play: the metadata must parse to an item carrying
// a <res> protocolInfo whose content-format field matches one of the
// entries the player advertises. Streaming-service URLs bypass this check
// entirely (their rewritten form carries no meaningful protocolInfo), via
// the ForceNoContentCheck flag the URL morph sets.
func checkContentFormat(uri, metadata, accepted string) error {
	parsed, _ := didl.Parse(metadata)
	if len(parsed.Items) == 0 {
		return fmt.Errorf("metadata has no item for %s", uri)
	}

	// Prefer the resource matching the inserted uri; fall back to the
	// first one carrying a protocolInfo.
	var protoInfo string
	for _, res := range parsed.Items[0].Resources {
		pi, ok := res.Properties["protocolInfo"]
		if !ok || pi == "" {
			continue
		}
		if protoInfo == "" {
			protoInfo = pi
		}
		if res.URI == uri {
			protoInfo = pi
			break
		}
	}
	if protoInfo == "" {
		return fmt.Errorf("metadata declares no protocolInfo for %s", uri)
	}

	fields := strings.Split(protoInfo, ":")
	if len(fields) != 4 {
		return fmt.Errorf("malformed protocolInfo %q", protoInfo)
	}
	format := fields[2]

	for _, entry := range strings.Split(accepted, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 4 {
			continue
		}
		if parts[2] == "*" || strings.EqualFold(parts[2], format) {
			return nil
		}
	}
	return fmt.Errorf("unsupported content format %q", format)
}
