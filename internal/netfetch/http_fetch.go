package netfetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/upmpd-go/upmpd-go/internal/bufxchange"
)

// sharedClient mirrors the discovery package's timeout-bounded client:
// conservative dial/TLS timeouts so a dead upstream doesn't hang a fetch
// goroutine forever. Streaming bodies are read with no overall response
// timeout (Timeout is left at zero); per-dial timeouts still apply.
var sharedClient = &http.Client{
	Transport: &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		IdleConnTimeout:     30 * time.Second,
	},
}

// HTTPFetch fetches a URL over HTTP(S), honoring Range on resume.
type HTTPFetch struct {
	log       zerolog.Logger
	url       string
	userAgent string
	bufSize   int

	mu          sync.Mutex
	headersDone bool
	headersOK   bool
	respHeader  http.Header
	status      Status
	httpCode    int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHTTPFetch builds a fetcher for url. userAgent is forwarded to the
// upstream request if non-empty.
func NewHTTPFetch(log zerolog.Logger, url, userAgent string) *HTTPFetch {
	return &HTTPFetch{
		log:       log,
		url:       url,
		userAgent: userAgent,
		bufSize:   64 * 1024,
	}
}

func (f *HTTPFetch) Start(ctx context.Context, queue *bufxchange.Queue[*ABuffer], byteOffset int64) error {
	ctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	f.cancel = cancel
	f.headersDone = false
	f.headersOK = false
	f.status = InProgress
	f.httpCode = 0
	f.done = make(chan struct{})
	f.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		f.finish(Fatal, 0)
		close(f.done)
		queue.MarkProducerDone()
		return err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if byteOffset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(byteOffset, 10)+"-")
	}

	go f.run(req, queue)
	return nil
}

func (f *HTTPFetch) run(req *http.Request, queue *bufxchange.Queue[*ABuffer]) {
	defer close(f.done)
	defer queue.MarkProducerDone()

	resp, err := sharedClient.Do(req)
	if err != nil {
		f.log.Debug().Err(err).Str("url", f.url).Msg("netfetch: request failed before headers")
		f.finish(Fatal, 0)
		return
	}
	defer resp.Body.Close()

	f.mu.Lock()
	f.headersDone = true
	// An upstream error status is a failed fetch, not usable headers: the
	// proxy must answer with the upstream code, never stream an empty
	// success body.
	f.headersOK = resp.StatusCode < 400
	f.respHeader = resp.Header
	f.httpCode = resp.StatusCode
	f.mu.Unlock()

	if resp.StatusCode >= 400 {
		f.finish(Fatal, resp.StatusCode)
		_ = queue.Put(&ABuffer{})
		return
	}

	acceptsRanges := resp.Header.Get("Accept-Ranges") == "bytes"

	for {
		buf, ok := queue.GetFree()
		if !ok {
			buf = NewABuffer(f.bufSize)
		}
		buf.Bytes = 0
		buf.ConsumeOffset = 0
		buf.Reserve(f.bufSize)

		n, readErr := resp.Body.Read(buf.Data[:cap(buf.Data)])
		if n > 0 {
			buf.Data = buf.Data[:cap(buf.Data)]
			buf.Bytes = n
			if putErr := queue.Put(buf); putErr != nil {
				f.finish(Fatal, resp.StatusCode)
				return
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				f.finish(InProgress, resp.StatusCode)
				_ = queue.Put(&ABuffer{})
				return
			}
			retryable := acceptsRanges
			if retryable {
				f.finish(Retryable, resp.StatusCode)
			} else {
				f.finish(Fatal, resp.StatusCode)
				_ = queue.Put(&ABuffer{})
			}
			return
		}
	}
}

func (f *HTTPFetch) finish(status Status, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	if code != 0 {
		f.httpCode = code
	}
}

func (f *HTTPFetch) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = InProgress
	f.headersDone = false
	f.headersOK = false
	return nil
}

func (f *HTTPFetch) WaitForHeaders(ctx context.Context) bool {
	for {
		f.mu.Lock()
		done := f.headersDone
		ok := f.headersOK
		fin := f.status != InProgress
		f.mu.Unlock()
		if done {
			return ok
		}
		if fin {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (f *HTTPFetch) HeaderValue(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.respHeader == nil {
		return "", false
	}
	v := f.respHeader.Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

func (f *HTTPFetch) FetchDone() (Status, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.httpCode
}

func (f *HTTPFetch) Close() error {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}
