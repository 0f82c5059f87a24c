package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/upmpd-go/upmpd-go/internal/config"
	"github.com/upmpd-go/upmpd-go/internal/player"
)

func newTestBridge(t *testing.T) (*Bridge, *httptest.Server) {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.MetaCachePath = filepath.Join(t.TempDir(), "metacache.tsv")
	cfg.ProxyListenPort = 0 // never started in these tests

	bridge, err := New(zerolog.Nop(), cfg, Options{
		Player:           player.NewFake(),
		DisableDiscovery: true,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(bridge.Handler)
	t.Cleanup(ts.Close)
	return bridge, ts
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestBridge(t)

	resp, err := ts.Client().Get(ts.URL + "/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPlaylistInsertAndReadOverHTTP(t *testing.T) {
	_, ts := newTestBridge(t)

	body := strings.NewReader(`{"after_id":0,"uri":"http://a/x.flac","metadata":"<item id=\"0\"><dc:title>x</dc:title><res protocolInfo=\"http-get:*:audio/flac:*\">http://a/x.flac</res></item>"}`)
	resp, err := ts.Client().Post(ts.URL+"/v1/playlist/tracks", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = ts.Client().Get(ts.URL + "/v1/playlist/id-array")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestInactiveServiceReturns409(t *testing.T) {
	bridge, ts := newTestBridge(t)

	require.NoError(t, bridge.playlist.Deactivate(context.Background()))

	resp, err := ts.Client().Post(ts.URL+"/v1/playlist/play", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDevicesEndpointEmptyWithoutDiscovery(t *testing.T) {
	_, ts := newTestBridge(t)

	resp, err := ts.Client().Get(ts.URL + "/v1/devices")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestBridge(t)

	resp, err := ts.Client().Get(ts.URL + "/debug/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestURLTranslatorRefusesUnknownSources(t *testing.T) {
	trans := urlTranslator(zerolog.Nop(), nil)

	result := trans("ua", "/tidal/track", map[string]string{"trackId": "1"})
	require.Equal(t, 0, int(result.Outcome)) // OutcomeError

	result = trans("ua", "/s", map[string]string{"url": "ftp://nope"})
	require.Equal(t, 0, int(result.Outcome))
}

func TestURLTranslatorUsesResolver(t *testing.T) {
	trans := urlTranslator(zerolog.Nop(), func(pluginPath string, query map[string]string) (string, bool) {
		if pluginPath == "/tidal" && query["trackId"] == "42" {
			return "http://cdn.example/42.flac", true
		}
		return "", false
	})

	result := trans("ua", "/tidal/track", map[string]string{"version": "1", "trackId": "42"})
	require.NotNil(t, result.Fetcher)
}

func TestBridgeShutdownIsClean(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.MetaCachePath = filepath.Join(t.TempDir(), "metacache.tsv")
	cfg.ProxyListenPort = 1 // bind failure is logged, not fatal, in Start's goroutine

	bridge, err := New(zerolog.Nop(), cfg, Options{
		Player:           player.NewFake(),
		DisableDiscovery: true,
	})
	require.NoError(t, err)
	require.NoError(t, bridge.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bridge.Shutdown(ctx))
}
