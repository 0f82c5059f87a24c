package streamproxy

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/upmpd-go/upmpd-go/internal/apperrors"
	"github.com/upmpd-go/upmpd-go/internal/bufxchange"
	"github.com/upmpd-go/upmpd-go/internal/netfetch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newTestReader(t *testing.T, fetcher netfetch.Fetcher, offset int64) (*ContentReader, *bufxchange.Queue[*netfetch.ABuffer]) {
	t.Helper()
	queue := bufxchange.New[*netfetch.ABuffer](queueCapacity, queueFreeCapacity)
	require.NoError(t, fetcher.Start(context.Background(), queue, offset))
	reader := NewContentReader(context.Background(), zerolog.Nop(), nil, fetcher, queue, offset, 50*time.Millisecond)
	t.Cleanup(reader.Close)
	return reader, queue
}

func TestContentReaderStreamsToEOS(t *testing.T) {
	data := testData(200)
	fetcher := newFakeFetcher(data, nil, -1)
	reader, _ := newTestReader(t, fetcher, 0)

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))

	// EOS is sticky across further reads.
	n, err := reader.Read(make([]byte, 8))
	require.Zero(t, n)
	require.ErrorIs(t, err, io.EOF)
}

func TestContentReaderSmallReadsUntakePartialBuffers(t *testing.T) {
	// Read sizes smaller than the producer's chunk size force the reader
	// through the untake path on every call.
	data := testData(100)
	fetcher := newFakeFetcher(data, nil, -1)
	reader, _ := newTestReader(t, fetcher, 0)

	var got []byte
	p := make([]byte, 7)
	for {
		n, err := reader.Read(p)
		got = append(got, p[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	require.True(t, bytes.Equal(data, got))
}

// TestContentReaderRetryIsTransparent: an upstream that fails mid-stream
// with a retryable status and then
// serves the remainder on a ranged re-request yields the full byte stream
// with no gaps or duplicates.
func TestContentReaderRetryIsTransparent(t *testing.T) {
	data := testData(1000)
	fetcher := newFakeFetcher(data, nil, 512)
	reader, _ := newTestReader(t, fetcher, 0)

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))

	starts, offsets := fetcher.startHistory()
	require.Equal(t, 2, starts)
	require.Equal(t, []int64{0, 512}, offsets)
}

func TestContentReaderRetryPreservesRangeOffset(t *testing.T) {
	// A client-requested range offset composes with the retry offset: the
	// restart must happen at range start + bytes already delivered.
	data := testData(1000)
	fetcher := newFakeFetcher(data, nil, 512)
	reader, _ := newTestReader(t, fetcher, 100)

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data[100:], got))

	_, offsets := fetcher.startHistory()
	require.Equal(t, []int64{100, 512}, offsets)
}

func TestContentReaderFatalFailureSurfacesError(t *testing.T) {
	data := testData(1000)
	fetcher := newFakeFetcher(data, nil, 512)
	fetcher.failFatal = true
	reader, _ := newTestReader(t, fetcher, 0)

	got, err := io.ReadAll(reader)
	require.Error(t, err)
	require.True(t, bytes.Equal(data[:512], got))

	appErr := apperrors.EnsureAppError(err)
	require.Equal(t, apperrors.ErrorCodeUpstreamFetch, appErr.Code)
	require.Equal(t, 502, appErr.StatusCode)

	starts, _ := fetcher.startHistory()
	require.Equal(t, 1, starts)
}
