package didl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleResult = `<?xml version="1.0" encoding="UTF-8"?>
<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">
<container id="1" parentID="0" restricted="1">
<dc:title>My Library</dc:title>
<upnp:class>object.container</upnp:class>
</container>
<item id="1$2" parentID="1" restricted="1">
<dc:title>Song One</dc:title>
<upnp:class>object.item.audioItem.musicTrack</upnp:class>
<upnp:artist>Artist A</upnp:artist>
<res protocolInfo="http-get:*:audio/mpeg:*" duration="0:03:45">http://example.invalid/song1.mp3</res>
</item>
<item id="1$3" parentID="1" restricted="1">
<dc:title>Song Two</dc:title>
<upnp:class>object.item.audioItem.musicTrack</upnp:class>
<res protocolInfo="http-get:*:audio/mpeg:*">http://example.invalid/song2.mp3</res>
</item>
</DIDL-Lite>`

func TestParseExtractsContainersAndItems(t *testing.T) {
	result, err := Parse(sampleResult)
	require.NoError(t, err)
	require.Len(t, result.Containers, 1)
	require.Len(t, result.Items, 2)

	container := result.Containers[0]
	require.Equal(t, "1", container.ID)
	require.Equal(t, "0", container.ParentID)
	require.Equal(t, "My Library", container.Title)
	require.Equal(t, "object.container", container.Properties["class"])

	first := result.Items[0]
	require.Equal(t, "1$2", first.ID)
	require.Equal(t, "Song One", first.Title)
	require.Equal(t, "Artist A", first.Properties["artist"])
	require.Len(t, first.Resources, 1)
	require.Equal(t, "http://example.invalid/song1.mp3", first.Resources[0].URI)
	require.Equal(t, "0:03:45", first.Resources[0].Properties["duration"])
}

func TestParsePopulatesVerbatimItemFragment(t *testing.T) {
	result, err := Parse(sampleResult)
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	fragment := result.Items[0].DidlFragment
	require.Contains(t, fragment, `<item id="1$2" parentID="1" restricted="1">`)
	require.Contains(t, fragment, "Song One")
	require.True(t, len(fragment) > 0)
	require.Equal(t, byte('<'), fragment[0])
	require.Equal(t, "</item>", fragment[len(fragment)-len("</item>"):])
}

func TestWrapFragmentProducesSelfContainedDocument(t *testing.T) {
	result, err := Parse(sampleResult)
	require.NoError(t, err)

	wrapped := WrapFragment(result.Items[1].DidlFragment)
	require.Contains(t, wrapped, "<DIDL-Lite")
	require.Contains(t, wrapped, "</DIDL-Lite>")
	require.Contains(t, wrapped, "Song Two")

	reparsed, err := Parse(wrapped)
	require.NoError(t, err)
	require.Len(t, reparsed.Items, 1)
	require.Equal(t, "Song Two", reparsed.Items[0].Title)
	require.Equal(t, "http://example.invalid/song2.mp3", reparsed.Items[0].Resources[0].URI)
}

func TestParseIgnoresMalformedTrailingContent(t *testing.T) {
	result, err := Parse(`<DIDL-Lite><item id="5"><dc:title>Partial</dc:title></item><unterminated>`)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	require.Equal(t, "Partial", result.Items[0].Title)
}

func TestParseEmptyDocumentReturnsEmptyResult(t *testing.T) {
	result, err := Parse(`<DIDL-Lite></DIDL-Lite>`)
	require.NoError(t, err)
	require.Empty(t, result.Containers)
	require.Empty(t, result.Items)
}
