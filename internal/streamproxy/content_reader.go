package streamproxy

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/upmpd-go/upmpd-go/internal/apperrors"
	"github.com/upmpd-go/upmpd-go/internal/bufxchange"
	"github.com/upmpd-go/upmpd-go/internal/chrono"
	"github.com/upmpd-go/upmpd-go/internal/metrics"
	"github.com/upmpd-go/upmpd-go/internal/netfetch"
)

// DefaultTakeTimeout bounds how long one Read waits on the queue before
// consulting FetchDone. A slow client that stops reading eventually trips
// this on the producer side and tears the transfer down.
const DefaultTakeTimeout = 10 * time.Second

// ContentReader drives one upstream Fetcher through its queue and exposes
// the result as an io.Reader, so the proxy handler can stream it with a
// plain io.Copy. On a retryable fetch failure it resets and restarts the
// fetcher at the last confirmed offset, transparently to the reader's
// caller.
type ContentReader struct {
	log         zerolog.Logger
	metrics     *metrics.Metrics
	ctx         context.Context
	fetcher     netfetch.Fetcher
	queue       *bufxchange.Queue[*netfetch.ABuffer]
	pos         int64
	takeTimeout time.Duration
	clock       *chrono.Chrono

	eosPending bool
	eosDone    bool
}

// NewContentReader wraps a fetcher that has already been Start-ed against
// queue at startOffset. takeTimeout bounds each queue wait; zero or
// negative falls back to DefaultTakeTimeout.
func NewContentReader(ctx context.Context, log zerolog.Logger, m *metrics.Metrics, fetcher netfetch.Fetcher, queue *bufxchange.Queue[*netfetch.ABuffer], startOffset int64, takeTimeout time.Duration) *ContentReader {
	if takeTimeout <= 0 {
		takeTimeout = DefaultTakeTimeout
	}
	return &ContentReader{
		log:         log,
		metrics:     m,
		ctx:         ctx,
		fetcher:     fetcher,
		queue:       queue,
		pos:         startOffset,
		takeTimeout: takeTimeout,
		clock:       chrono.New(),
	}
}

// Read implements io.Reader. A single call may return fewer bytes than
// len(p) even before EOF, as with any io.Reader.
func (r *ContentReader) Read(p []byte) (int, error) {
	if r.eosDone {
		return 0, io.EOF
	}
	if r.eosPending {
		r.eosDone = true
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	copied := 0
	for copied < len(p) {
		buf, err := r.queue.Take(r.takeTimeout)
		if err != nil {
			status, code := r.fetcher.FetchDone()
			if status == netfetch.Retryable {
				if r.metrics != nil {
					r.metrics.ProxyRetriesTotal.Inc()
				}
				r.log.Warn().
					Int64("offset", r.pos+int64(copied)).
					Int64("transfer_ms", r.clock.Millis(nil)).
					Msg("streamproxy: retrying upstream fetch")
				_ = r.fetcher.Reset()
				if startErr := r.fetcher.Start(r.ctx, r.queue, r.pos+int64(copied)); startErr != nil {
					return copied, fmt.Errorf("streamproxy: retry start failed: %w", startErr)
				}
				r.pos += int64(copied)
				return copied, nil
			}
			return copied, apperrors.NewUpstreamFetchError(code, "streamproxy: upstream fetch failed mid-stream")
		}

		if buf.EOS() {
			if copied == 0 {
				r.eosDone = true
				return 0, io.EOF
			}
			r.eosPending = true
			r.pos += int64(copied)
			return copied, nil
		}

		n := copy(p[copied:], buf.Data[buf.ConsumeOffset:buf.Bytes])
		buf.ConsumeOffset += n
		copied += n

		if buf.Remaining() == 0 {
			r.queue.Recycle(buf)
		} else {
			r.queue.Untake(buf)
		}
	}
	r.pos += int64(copied)
	return copied, nil
}

// Close tears down the fetcher before the queue, matching the shutdown
// ordering required by netfetch.Fetcher.Close's contract: canceling the
// producer first avoids a Put call blocking forever against a queue that
// SetTerminateAndWait has already woken but that the producer has not yet
// noticed.
func (r *ContentReader) Close() {
	_ = r.fetcher.Close()
	r.queue.SetTerminateAndWait()
}
