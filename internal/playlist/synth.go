package playlist

import (
	"fmt"
	"html"
	"path"
	"strings"

	"github.com/upmpd-go/upmpd-go/internal/didl"
)

// synthesizeDidl builds a minimal DIDL-Lite document for a song the
// player knows about but that has no cache entry yet. The <orig>player</orig>
// tag marks the entry as synthesized from player-side song info rather
// than supplied by a control point.
func synthesizeDidl(id int32, uri string) string {
	title := titleFromURI(uri)
	item := fmt.Sprintf(
		`<item id="%d" parentID="0" restricted="1">`+
			`<dc:title>%s</dc:title>`+
			`<upnp:class>object.item.audioItem.musicTrack</upnp:class>`+
			`<res protocolInfo="http-get:*:*:*">%s</res>`+
			`<orig>player</orig>`+
			`</item>`,
		id, html.EscapeString(title), html.EscapeString(uri),
	)
	return didl.WrapFragment(item)
}

func titleFromURI(uri string) string {
	base := path.Base(uri)
	if idx := strings.IndexByte(base, '?'); idx >= 0 {
		base = base[:idx]
	}
	if base == "" || base == "." || base == "/" {
		return uri
	}
	return base
}
