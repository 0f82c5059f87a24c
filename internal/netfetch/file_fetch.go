package netfetch

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/upmpd-go/upmpd-go/internal/bufxchange"
)

// FileFetch serves a local file through the same Fetcher capability as
// HTTPFetch, so StreamProxy can proxy file:// sources without a special
// case in the response loop.
type FileFetch struct {
	path    string
	bufSize int

	mu       sync.Mutex
	file     *os.File
	size     int64
	status   Status
	httpCode int
	done     chan struct{}
}

// NewFileFetch builds a fetcher that reads path.
func NewFileFetch(path string) *FileFetch {
	return &FileFetch{path: path, bufSize: 64 * 1024}
}

func (f *FileFetch) Start(ctx context.Context, queue *bufxchange.Queue[*ABuffer], byteOffset int64) error {
	file, err := os.Open(f.path)
	if err != nil {
		f.mu.Lock()
		f.status = Fatal
		f.httpCode = 404
		f.done = make(chan struct{})
		f.mu.Unlock()
		close(f.done)
		queue.MarkProducerDone()
		return err
	}

	info, statErr := file.Stat()
	if statErr == nil {
		f.size = info.Size()
	}
	if byteOffset > 0 {
		if _, err := file.Seek(byteOffset, io.SeekStart); err != nil {
			_ = file.Close()
			f.mu.Lock()
			f.status = Fatal
			f.httpCode = 416
			f.done = make(chan struct{})
			f.mu.Unlock()
			close(f.done)
			queue.MarkProducerDone()
			return err
		}
	}

	f.mu.Lock()
	f.file = file
	f.status = InProgress
	f.httpCode = 200
	f.done = make(chan struct{})
	f.mu.Unlock()

	go f.run(ctx, queue, byteOffset)
	return nil
}

func (f *FileFetch) run(ctx context.Context, queue *bufxchange.Queue[*ABuffer], byteOffset int64) {
	defer close(f.done)
	defer queue.MarkProducerDone()

	f.mu.Lock()
	file := f.file
	f.mu.Unlock()
	defer file.Close()

	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.status = Fatal
			f.mu.Unlock()
			return
		default:
		}

		buf, ok := queue.GetFree()
		if !ok {
			buf = NewABuffer(f.bufSize)
		}
		buf.Bytes = 0
		buf.ConsumeOffset = 0
		buf.Reserve(f.bufSize)

		n, err := file.Read(buf.Data[:cap(buf.Data)])
		if n > 0 {
			buf.Data = buf.Data[:cap(buf.Data)]
			buf.Bytes = n
			if putErr := queue.Put(buf); putErr != nil {
				f.mu.Lock()
				f.status = Fatal
				f.mu.Unlock()
				return
			}
		}
		if err != nil {
			f.mu.Lock()
			f.status = InProgress
			f.mu.Unlock()
			_ = queue.Put(&ABuffer{})
			return
		}
	}
}

func (f *FileFetch) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = InProgress
	return nil
}

func (f *FileFetch) WaitForHeaders(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file != nil
}

func (f *FileFetch) HeaderValue(name string) (string, bool) {
	if name == "Content-Length" {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.size > 0 {
			return strconv.FormatInt(f.size, 10), true
		}
	}
	return "", false
}

func (f *FileFetch) FetchDone() (Status, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.httpCode
}

func (f *FileFetch) Close() error {
	f.mu.Lock()
	file := f.file
	done := f.done
	f.mu.Unlock()
	if file != nil {
		_ = file.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}
