package netfetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/upmpd-go/upmpd-go/internal/bufxchange"
)

func TestFileFetchStreamsWholeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.flac")
	content := make([]byte, 200*1024)
	for i := range content {
		content[i] = byte(i)
	}
	require.NoError(t, os.WriteFile(path, content, 0o644))

	queue := bufxchange.New[*ABuffer](4, 4)
	fetcher := NewFileFetch(path)
	require.NoError(t, fetcher.Start(context.Background(), queue, 0))
	require.True(t, fetcher.WaitForHeaders(context.Background()))

	var collected []byte
	for {
		buf, err := queue.Take(time.Second)
		require.NoError(t, err)
		if buf.EOS() {
			break
		}
		collected = append(collected, buf.Data[buf.ConsumeOffset:buf.Bytes]...)
		queue.Recycle(buf)
	}

	require.Equal(t, content, collected)
	status, _ := fetcher.FetchDone()
	require.Equal(t, InProgress, status)
	require.NoError(t, fetcher.Close())
}

func TestFileFetchResumesAtOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "track.flac")
	content := []byte("0123456789")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	queue := bufxchange.New[*ABuffer](4, 4)
	fetcher := NewFileFetch(path)
	require.NoError(t, fetcher.Start(context.Background(), queue, 5))
	require.True(t, fetcher.WaitForHeaders(context.Background()))

	buf, err := queue.Take(time.Second)
	require.NoError(t, err)
	require.Equal(t, "56789", string(buf.Data[buf.ConsumeOffset:buf.Bytes]))
	require.NoError(t, fetcher.Close())
}
