package streamproxy

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/upmpd-go/upmpd-go/internal/bufxchange"
	"github.com/upmpd-go/upmpd-go/internal/metrics"
	"github.com/upmpd-go/upmpd-go/internal/netfetch"
)

// queueCapacity and queueFreeCapacity size each request's private
// producer/consumer queue. One queue per in-flight proxied request.
const (
	queueCapacity     = 4
	queueFreeCapacity = 4
	bufferSize        = 64 * 1024
)

var rangeBytesFrom = regexp.MustCompile(`^bytes=(\d+)-$`)

// Server is the local HTTP listener the player is pointed at for proxied
// streams. It never serves more than what UrlTrans decides: refuse,
// redirect, or proxy through a Fetcher.
type Server struct {
	log         zerolog.Logger
	metrics     *metrics.Metrics
	trans       UrlTrans
	killAfterMs int // negative disables the debug fault-injection timer
	takeTimeout time.Duration
}

// New builds a Server. killAfterMs mirrors the proxy_kill_after_ms debug
// knob: when >= 0, every proxied connection is closed that many
// milliseconds after the response starts (the timer is armed just before
// the headers are written), to exercise player/ContentReader retry
// behavior under test. A negative value disables it. takeTimeout
// bounds each queue wait in the response loop; zero falls back to
// DefaultTakeTimeout.
func New(log zerolog.Logger, m *metrics.Metrics, trans UrlTrans, killAfterMs int, takeTimeout time.Duration) *Server {
	return &Server{log: log, metrics: m, trans: trans, killAfterMs: killAfterMs, takeTimeout: takeTimeout}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.refuse(w)
		return
	}

	rangeStart, hasRange, rangeErr := parseRange(r.Header.Get("Range"))
	if rangeErr != nil {
		s.recordStatus(http.StatusRequestedRangeNotSatisfiable)
		http.Error(w, "only open-ended byte ranges are supported", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	values := r.URL.Query()
	query := map[string]string{}
	for k := range values {
		query[k] = values.Get(k)
	}

	result := s.trans(r.UserAgent(), r.URL.Path, query)

	switch result.Outcome {
	case OutcomeError:
		s.refuse(w)
	case OutcomeRedirect:
		s.recordStatus(http.StatusFound)
		w.Header().Set("Location", result.Redirect)
		w.WriteHeader(http.StatusFound)
	case OutcomeProxy:
		s.serveProxy(w, r, result.Fetcher, rangeStart, hasRange)
	default:
		s.refuse(w)
	}
}

// refuse drops the connection with no response for methods or sources
// the proxy will not serve.
func (s *Server) refuse(w http.ResponseWriter) {
	s.recordStatus(0)
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
			return
		}
	}
	w.WriteHeader(http.StatusForbidden)
}

func (s *Server) serveProxy(w http.ResponseWriter, r *http.Request, fetcher netfetch.Fetcher, rangeStart int64, hasRange bool) {
	queue := bufxchange.New[*netfetch.ABuffer](queueCapacity, queueFreeCapacity)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := fetcher.Start(ctx, queue, rangeStart); err != nil {
		status := upstreamStatus(fetcher)
		s.recordStatus(status)
		http.Error(w, "upstream fetch failed to start", status)
		return
	}

	if !fetcher.WaitForHeaders(ctx) {
		_ = fetcher.Close()
		queue.SetTerminateAndWait()
		status := upstreamStatus(fetcher)
		s.recordStatus(status)
		http.Error(w, "upstream fetch failed before headers", status)
		return
	}

	reader := NewContentReader(ctx, s.log, s.metrics, fetcher, queue, rangeStart, s.takeTimeout)
	defer reader.Close()

	headers := http.Header{}
	for _, name := range []string{"Content-Length", "Content-Range", "Content-Type"} {
		if v, ok := fetcher.HeaderValue(name); ok {
			headers.Set(name, v)
		}
	}
	headers.Set("Accept-Ranges", "bytes")
	headers.Set("Connection", "close")

	status := http.StatusOK
	if hasRange || headers.Get("Content-Range") != "" {
		status = http.StatusPartialContent
	}
	if done, _ := fetcher.FetchDone(); done == netfetch.Fatal {
		status = upstreamStatus(fetcher)
	}

	headOnly := r.Method == http.MethodHead
	s.recordStatus(status)

	if err := s.writeResponse(w, status, headers, reader, headOnly); err != nil {
		s.log.Warn().Err(err).Msg("streamproxy: response write failed")
	}
}

// writeResponse sends status/headers/body to the client. When the debug
// kill-after timer is enabled it hijacks the raw connection so the timer
// can close it out from under an in-progress write, simulating the player
// side of the connection dropping mid-stream.
func (s *Server) writeResponse(w http.ResponseWriter, status int, headers http.Header, body io.Reader, headOnly bool) error {
	if s.killAfterMs < 0 {
		for k, v := range headers {
			w.Header()[k] = v
		}
		w.WriteHeader(status)
		if headOnly {
			return nil
		}
		return s.streamBody(w, body)
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		for k, v := range headers {
			w.Header()[k] = v
		}
		w.WriteHeader(status)
		if headOnly {
			return nil
		}
		return s.streamBody(w, body)
	}

	conn, buf, err := hj.Hijack()
	if err != nil {
		return fmt.Errorf("streamproxy: hijack failed: %w", err)
	}
	defer conn.Close()

	timer := time.AfterFunc(time.Duration(s.killAfterMs)*time.Millisecond, func() {
		_ = conn.Close()
	})
	defer timer.Stop()

	if err := writeRawStatusAndHeaders(buf.Writer, status, headers); err != nil {
		return err
	}
	if headOnly {
		return buf.Flush()
	}
	if err := s.streamBody(buf.Writer, body); err != nil {
		return err
	}
	return buf.Flush()
}

func (s *Server) streamBody(w io.Writer, body io.Reader) error {
	fw := flushWriter{w: w}
	n, err := io.Copy(fw, body)
	if s.metrics != nil && n > 0 {
		s.metrics.ProxyBytesStreamed.Add(float64(n))
	}
	return err
}

// upstreamStatus maps a failed fetch to the response status: the
// upstream HTTP code when one was observed, 500 otherwise.
func upstreamStatus(fetcher netfetch.Fetcher) int {
	if _, code := fetcher.FetchDone(); code >= 400 {
		return code
	}
	return http.StatusInternalServerError
}

func (s *Server) recordStatus(status int) {
	if s.metrics == nil {
		return
	}
	s.metrics.ProxyRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

func writeRawStatusAndHeaders(w *bufio.Writer, status int, headers http.Header) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return err
	}
	for k, vs := range headers {
		for _, v := range vs {
			if _, err := fmt.Fprintf(w, "%s: %s\r\n", k, v); err != nil {
				return err
			}
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

// flushWriter flushes after every write when the underlying writer
// supports it, so a slow upstream still delivers bytes to the client
// promptly instead of waiting on Go's default buffering.
type flushWriter struct {
	w io.Writer
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	} else if bw, ok := f.w.(*bufio.Writer); ok {
		_ = bw.Flush()
	}
	return n, err
}

// parseRange accepts only the single open-ended form "bytes=N-";
// anything else, including closed or multi-range requests, is rejected.
func parseRange(header string) (start int64, has bool, err error) {
	if header == "" {
		return 0, false, nil
	}
	m := rangeBytesFrom.FindStringSubmatch(header)
	if m == nil {
		return 0, false, fmt.Errorf("streamproxy: unsupported range %q", header)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}
