package streamproxy

import (
	"context"
	"sync"

	"github.com/upmpd-go/upmpd-go/internal/bufxchange"
	"github.com/upmpd-go/upmpd-go/internal/netfetch"
)

// fakeFetcher is a netfetch.Fetcher over an in-memory byte slice, with an
// optional single injected retryable failure at failAfter bytes from the
// start of the whole resource (not from the current Start offset), used to
// exercise ContentReader's retry path deterministically.
type fakeFetcher struct {
	mu sync.Mutex

	data          []byte
	headers       map[string]string
	failAfter     int64 // -1 disables
	failFatal     bool  // injected failure is fatal instead of retryable
	failed        bool  // whether the injected failure has already fired
	preHeaderFail bool  // WaitForHeaders reports failure

	status  netfetch.Status
	code    int
	started int
	offsets []int64
}

func newFakeFetcher(data []byte, headers map[string]string, failAfter int64) *fakeFetcher {
	return &fakeFetcher{data: data, headers: headers, failAfter: failAfter, code: 200}
}

func (f *fakeFetcher) Start(ctx context.Context, queue *bufxchange.Queue[*netfetch.ABuffer], byteOffset int64) error {
	// Status is not reset here: Reset owns the Retryable->InProgress
	// transition, and injected terminal states must survive Start.
	f.mu.Lock()
	f.started++
	f.offsets = append(f.offsets, byteOffset)
	mustFail := f.failAfter >= 0 && !f.failed
	f.mu.Unlock()

	go func() {
		defer queue.MarkProducerDone()
		const chunk = 16
		pos := byteOffset
		for pos < int64(len(f.data)) {
			if mustFail && pos >= f.failAfter {
				f.mu.Lock()
				f.failed = true
				if f.failFatal {
					f.status = netfetch.Fatal
					f.code = 502
				} else {
					f.status = netfetch.Retryable
					f.code = 200
				}
				f.mu.Unlock()
				return
			}
			end := pos + chunk
			if end > int64(len(f.data)) {
				end = int64(len(f.data))
			}
			if mustFail && pos < f.failAfter && end > f.failAfter {
				end = f.failAfter
			}
			buf := netfetch.NewABuffer(chunk)
			buf.Bytes = copy(buf.Data, f.data[pos:end])
			if err := queue.Put(buf); err != nil {
				return
			}
			pos = end
		}
		_ = queue.Put(netfetch.NewABuffer(0))
	}()
	return nil
}

func (f *fakeFetcher) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = netfetch.InProgress
	return nil
}

func (f *fakeFetcher) WaitForHeaders(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.preHeaderFail
}

// failBeforeHeaders makes the fetcher report an upstream failure with the
// given HTTP code before any headers become usable.
func (f *fakeFetcher) failBeforeHeaders(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preHeaderFail = true
	f.status = netfetch.Fatal
	f.code = code
}

// failWithStatus marks the fetch terminally failed with the given code
// while leaving headers usable.
func (f *fakeFetcher) failWithStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = netfetch.Fatal
	f.code = code
}

func (f *fakeFetcher) HeaderValue(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.headers[name]
	return v, ok
}

func (f *fakeFetcher) FetchDone() (netfetch.Status, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.code
}

func (f *fakeFetcher) Close() error {
	return nil
}

func (f *fakeFetcher) startHistory() (int, []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, append([]int64(nil), f.offsets...)
}
