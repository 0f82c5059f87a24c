package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

// fakeListener lets a test drive SSDP messages directly instead of
// binding a real multicast socket.
type fakeListener struct {
	mu       sync.Mutex
	callback func(SSDPMessage)
	searches int32
}

func (f *fakeListener) Search(ctx context.Context, target string) error {
	atomic.AddInt32(&f.searches, 1)
	return nil
}

func (f *fakeListener) Run(ctx context.Context, callback func(SSDPMessage)) error {
	f.mu.Lock()
	f.callback = callback
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

// emit waits until Run has registered the callback (Start launches Run on
// its own goroutine), then delivers msg.
func (f *fakeListener) emit(msg SSDPMessage) {
	for {
		f.mu.Lock()
		cb := f.callback
		f.mu.Unlock()
		if cb != nil {
			cb(msg)
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestDirectory(t *testing.T, listener Listener) (*Directory, context.CancelFunc) {
	t.Helper()
	dir := New(zerolog.Nop(), listener, nil, Options{
		SearchWindow:       50 * time.Millisecond,
		SearchRateLimit:    time.Millisecond,
		DescriptionTimeout: time.Second,
		// Zero would select the 20s default; one nanosecond adds no whole
		// seconds to a device's lifetime.
		ExpiryGrace: time.Nanosecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, dir.Start(ctx))
	t.Cleanup(func() {
		cancel()
		dir.Terminate()
	})
	return dir, cancel
}

func deviceDescXML(udn, friendlyName string) string {
	return `<?xml version="1.0"?>
<root><device>
  <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
  <friendlyName>` + friendlyName + `</friendlyName>
  <UDN>uuid:` + udn + `</UDN>
</device></root>`
}

func TestAliveEventAddsDeviceToPool(t *testing.T) {
	descServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(deviceDescXML("dev-1", "Living Room")))
	}))
	defer descServer.Close()

	listener := &fakeListener{}
	dir, _ := newTestDirectory(t, listener)

	listener.emit(SSDPMessage{Kind: EventAdvertisementAlive, Location: descServer.URL, DeviceID: "dev-1", MaxAgeSec: 1800})

	require.Eventually(t, func() bool {
		return len(dir.Traverse(context.Background())) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSubDeviceAdvertisementsAreIgnored(t *testing.T) {
	listener := &fakeListener{}
	dir, _ := newTestDirectory(t, listener)

	listener.emit(SSDPMessage{
		Kind:        EventAdvertisementAlive,
		Location:    "http://example.invalid/desc.xml",
		DeviceID:    "dev-1",
		DeviceType:  "urn:schemas-upnp-org:device:MediaServer:1",
		ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
	})

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, dir.Traverse(context.Background()))
}

func TestByeByeRemovesDevice(t *testing.T) {
	descServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(deviceDescXML("dev-2", "Kitchen")))
	}))
	defer descServer.Close()

	listener := &fakeListener{}
	dir, _ := newTestDirectory(t, listener)

	listener.emit(SSDPMessage{Kind: EventAdvertisementAlive, Location: descServer.URL, DeviceID: "dev-2", MaxAgeSec: 1800})
	require.Eventually(t, func() bool {
		return len(dir.Traverse(context.Background())) == 1
	}, time.Second, 5*time.Millisecond)

	listener.emit(SSDPMessage{Kind: EventByeBye, DeviceID: "dev-2"})
	require.Eventually(t, func() bool {
		return len(dir.Traverse(context.Background())) == 0
	}, time.Second, 5*time.Millisecond)
}

// TestConcurrentAliveEventsDedupDownload: N concurrent Alive events for
// the same URL download the description exactly once.
func TestConcurrentAliveEventsDedupDownload(t *testing.T) {
	var downloads int32
	descServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downloads, 1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(deviceDescXML("dev-3", "Office")))
	}))
	defer descServer.Close()

	listener := &fakeListener{}
	dir, _ := newTestDirectory(t, listener)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			listener.emit(SSDPMessage{Kind: EventAdvertisementAlive, Location: descServer.URL, DeviceID: "dev-3", MaxAgeSec: 1800})
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(dir.Traverse(context.Background())) == 1
	}, time.Second, 5*time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&downloads))
}

func TestExpiryRemovesStaleDevice(t *testing.T) {
	descServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(deviceDescXML("dev-4", "Bedroom")))
	}))
	defer descServer.Close()

	listener := &fakeListener{}
	dir, _ := newTestDirectory(t, listener)

	listener.emit(SSDPMessage{Kind: EventAdvertisementAlive, Location: descServer.URL, DeviceID: "dev-4", MaxAgeSec: 1})
	require.Eventually(t, func() bool {
		return len(dir.Traverse(context.Background())) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(1100 * time.Millisecond)
	require.Empty(t, dir.Traverse(context.Background()))
}

func TestGetDevByUDNBlocksUntilMatch(t *testing.T) {
	descServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(deviceDescXML("dev-5", "Garage")))
	}))
	defer descServer.Close()

	listener := &fakeListener{}
	dir, _ := newTestDirectory(t, listener)

	go func() {
		time.Sleep(10 * time.Millisecond)
		listener.emit(SSDPMessage{Kind: EventAdvertisementAlive, Location: descServer.URL, DeviceID: "dev-5", MaxAgeSec: 1800})
	}()

	desc, ok := dir.GetDevByUDN("dev-5")
	require.True(t, ok)
	require.Equal(t, "Garage", desc.FriendlyName)
}

func TestGetDevByUDNTimesOutWithNoMatch(t *testing.T) {
	listener := &fakeListener{}
	dir, _ := newTestDirectory(t, listener)

	_, ok := dir.GetDevByUDN("never-appears")
	require.False(t, ok)
}

func TestCallbackHandlesAreStableAfterRemoval(t *testing.T) {
	listener := &fakeListener{}
	dir, _ := newTestDirectory(t, listener)

	var calls int32
	h1 := dir.AddCallback(func(DeviceDesc) { atomic.AddInt32(&calls, 1) })
	h2 := dir.AddCallback(func(DeviceDesc) { atomic.AddInt32(&calls, 10) })
	dir.DelCallback(h1)

	descServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(deviceDescXML("dev-6", "Den")))
	}))
	defer descServer.Close()

	listener.emit(SSDPMessage{Kind: EventAdvertisementAlive, Location: descServer.URL, DeviceID: "dev-6", MaxAgeSec: 1800})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 10
	}, time.Second, 5*time.Millisecond)

	dir.DelCallback(h2)
}
