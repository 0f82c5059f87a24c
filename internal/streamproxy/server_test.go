package streamproxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/upmpd-go/upmpd-go/internal/netfetch"
)

func newTestProxy(trans UrlTrans) *httptest.Server {
	srv := New(zerolog.Nop(), nil, trans, -1, 50*time.Millisecond)
	return httptest.NewServer(srv)
}

// TestProxyRangedRequest: a ranged GET whose
// upstream answers with Content-Length/Content-Range yields a 206 with
// those headers forwarded and the ranged body.
func TestProxyRangedRequest(t *testing.T) {
	data := testData(1000)
	var gotUA string
	var gotQuery map[string]string

	ts := newTestProxy(func(userAgent, url string, query map[string]string) TransResult {
		gotUA = userAgent
		gotQuery = query
		fetcher := newFakeFetcher(data, map[string]string{
			"Content-Length": "900",
			"Content-Range":  "bytes 100-999/1000",
			"Content-Type":   "audio/flac",
		}, -1)
		return TransResult{Outcome: OutcomeProxy, Fetcher: fetcher}
	})
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/t?trackId=1", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=100-")
	req.Header.Set("User-Agent", "upmpd-test")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	require.Equal(t, "900", resp.Header.Get("Content-Length"))
	require.Equal(t, "bytes 100-999/1000", resp.Header.Get("Content-Range"))
	require.Equal(t, "audio/flac", resp.Header.Get("Content-Type"))
	require.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data[100:], body))

	require.Equal(t, "upmpd-test", gotUA)
	require.Equal(t, map[string]string{"trackId": "1"}, gotQuery)
}

func TestProxyFullRequest(t *testing.T) {
	data := testData(300)
	ts := newTestProxy(func(_, _ string, _ map[string]string) TransResult {
		return TransResult{Outcome: OutcomeProxy, Fetcher: newFakeFetcher(data, map[string]string{
			"Content-Length": "300",
			"Content-Type":   "audio/mpeg",
		}, -1)}
	})
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, body))
}

// Suffix and multi-range requests yield 416 and no upstream fetch is
// initiated.
func TestProxyRejectsUnsupportedRanges(t *testing.T) {
	var transCalls int32
	ts := newTestProxy(func(_, _ string, _ map[string]string) TransResult {
		atomic.AddInt32(&transCalls, 1)
		return TransResult{Outcome: OutcomeError}
	})
	defer ts.Close()

	for _, header := range []string{"bytes=-500", "bytes=0-99,200-299", "bytes=10-20", "lines=0-"} {
		t.Run(header, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/t", nil)
			require.NoError(t, err)
			req.Header.Set("Range", header)

			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			resp.Body.Close()
			require.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
		})
	}
	require.Zero(t, atomic.LoadInt32(&transCalls))
}

func TestProxyRedirect(t *testing.T) {
	ts := newTestProxy(func(_, _ string, _ map[string]string) TransResult {
		return TransResult{Outcome: OutcomeRedirect, Redirect: "http://elsewhere.example/x.mp3"}
	})
	defer ts.Close()

	client := &http.Client{CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(ts.URL + "/t")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "http://elsewhere.example/x.mp3", resp.Header.Get("Location"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestProxyRefusesNonGetHead(t *testing.T) {
	var transCalls int32
	ts := newTestProxy(func(_, _ string, _ map[string]string) TransResult {
		atomic.AddInt32(&transCalls, 1)
		return TransResult{Outcome: OutcomeError}
	})
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/t", "text/plain", nil)
	if err == nil {
		// The handler hijacks and closes without writing a response; some
		// client paths surface that as an error, others as a bare close.
		resp.Body.Close()
	}
	require.Zero(t, atomic.LoadInt32(&transCalls))
}

// A fetch that fails before headers becomes the HTTP status of the
// response: the upstream code when one was observed, 500 otherwise.
func TestProxyPreHeaderFailureUsesUpstreamCode(t *testing.T) {
	ts := newTestProxy(func(_, _ string, _ map[string]string) TransResult {
		fetcher := newFakeFetcher(nil, nil, -1)
		fetcher.failBeforeHeaders(404)
		return TransResult{Outcome: OutcomeProxy, Fetcher: fetcher}
	})
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/t")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProxyPreHeaderFailureWithoutCodeYields500(t *testing.T) {
	ts := newTestProxy(func(_, _ string, _ map[string]string) TransResult {
		fetcher := newFakeFetcher(nil, nil, -1)
		fetcher.failBeforeHeaders(0)
		return TransResult{Outcome: OutcomeProxy, Fetcher: fetcher}
	})
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/t")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

// A fetch already reporting failure by the time headers are written uses
// the upstream code instead of 200/206.
func TestProxyFailedFetchWithHeadersUsesUpstreamCode(t *testing.T) {
	ts := newTestProxy(func(_, _ string, _ map[string]string) TransResult {
		fetcher := newFakeFetcher(nil, map[string]string{"Content-Type": "text/html"}, -1)
		fetcher.failWithStatus(503)
		return TransResult{Outcome: OutcomeProxy, Fetcher: fetcher}
	})
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/t")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProxyMissingLocalFileYields404(t *testing.T) {
	ts := newTestProxy(func(_, _ string, query map[string]string) TransResult {
		return TransResult{Outcome: OutcomeProxy, Fetcher: netfetch.NewFileFetch(query["path"])}
	})
	defer ts.Close()

	missing := filepath.Join(t.TempDir(), "missing.flac")
	resp, err := ts.Client().Get(ts.URL + "/file?path=" + url.QueryEscape(missing))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProxyHeadRequestOmitsBody(t *testing.T) {
	data := testData(300)
	ts := newTestProxy(func(_, _ string, _ map[string]string) TransResult {
		return TransResult{Outcome: OutcomeProxy, Fetcher: newFakeFetcher(data, map[string]string{
			"Content-Length": "300",
		}, -1)}
	})
	defer ts.Close()

	resp, err := ts.Client().Head(ts.URL + "/t")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "300", resp.Header.Get("Content-Length"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}
