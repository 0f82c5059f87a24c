// Package netfetch defines the upstream byte-stream fetcher capability
// used by the streaming proxy, plus HTTP- and file-backed implementations.
//
// A Fetcher runs its transfer on its own goroutine. It must post filled
// ABuffers onto the queue passed to Start, post a final zero-byte ABuffer
// on normal end-of-stream, and then stop posting. Closing a Fetcher must
// cancel any in-flight I/O before returning (cooperative cancel-on-drop),
// matching the "polymorphic NetFetch" design note: model as an interface
// with variants, each owning its background task.
package netfetch

import (
	"context"

	"github.com/upmpd-go/upmpd-go/internal/bufxchange"
)

// Status is the outcome of a fetch as reported by FetchDone.
type Status int

const (
	// InProgress means the transfer is still running, or ended at a
	// normal end-of-stream; there is no separate success state.
	InProgress Status = iota
	// Retryable means the transfer failed mid-stream in a way that
	// permits resuming at the last confirmed offset (e.g. a TCP reset
	// observed after the upstream advertised Accept-Ranges: bytes).
	Retryable
	// Fatal means the transfer failed in a way that cannot be resumed.
	Fatal
)

// Fetcher is the capability implemented by every upstream transport.
type Fetcher interface {
	// Start begins the transfer at byteOffset, posting ABuffers onto
	// queue from a dedicated goroutine until EOS or cancellation.
	Start(ctx context.Context, queue *bufxchange.Queue[*ABuffer], byteOffset int64) error

	// Reset prepares the fetcher to be Start-ed again after a retryable
	// failure, at a new offset.
	Reset() error

	// WaitForHeaders blocks until response headers have arrived, or the
	// fetch failed before any were received. Returns true iff headers
	// are usable.
	WaitForHeaders(ctx context.Context) bool

	// HeaderValue returns an upstream response header, if WaitForHeaders
	// returned true.
	HeaderValue(name string) (string, bool)

	// FetchDone is non-blocking and reports the current state (InProgress
	// while running or after a normal end-of-stream) plus the upstream
	// HTTP status code observed, if any (0 before one is observed).
	FetchDone() (Status, int)

	// Close cancels any in-flight I/O. Must be called, and must return
	// only once cancellation has taken effect, before the queue that
	// this fetcher feeds is itself terminated (see streamproxy's
	// ContentReader.Close for the required ordering).
	Close() error
}
