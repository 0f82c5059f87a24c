package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/upmpd-go/upmpd-go/internal/metrics"
)

// Options configures a Directory. Zero values fall back to the
// defaults below.
type Options struct {
	// SearchWindow is how long a search response window stays open
	// (default 3s): GetRemainingDelay reports time left in it.
	SearchWindow time.Duration
	// SearchRateLimit bounds how often a new search may be initiated
	// (default once per 10s).
	SearchRateLimit time.Duration
	// DescriptionTimeout bounds the synchronous description download
	// (default 5s).
	DescriptionTimeout time.Duration
	// ExpiryGrace is added to a device's advertised lifetime (default
	// 20s).
	ExpiryGrace time.Duration
	// SearchTarget is the SSDP search type (default "upnp:rootdevice").
	SearchTarget string
}

func (o Options) withDefaults() Options {
	if o.SearchWindow <= 0 {
		o.SearchWindow = 3 * time.Second
	}
	if o.SearchRateLimit <= 0 {
		o.SearchRateLimit = 10 * time.Second
	}
	if o.DescriptionTimeout <= 0 {
		o.DescriptionTimeout = 5 * time.Second
	}
	if o.ExpiryGrace <= 0 {
		o.ExpiryGrace = 20 * time.Second
	}
	if o.SearchTarget == "" {
		o.SearchTarget = "upnp:rootdevice"
	}
	return o
}

// Directory is the device directory core: it owns the
// device pool, the in-flight-download dedup set, the callback (visitor)
// list, and the single worker goroutine that serializes pool mutation.
//
// Directory is meant to be constructed once per process, but it is a
// plain value passed around by the caller rather than hidden
// package-global state — tests construct a fresh instance per case.
type Directory struct {
	log      zerolog.Logger
	listener Listener
	metrics  *metrics.Metrics
	opts     Options

	poolMu   sync.Mutex
	poolCond *sync.Cond
	pool     map[string]DeviceDescriptor

	callbacksMu sync.Mutex
	callbacks   map[int]Visitor
	nextHandle  int

	inflight singleflight.Group

	searchMu     sync.Mutex
	lastSearched time.Time
	searchLimit  *rate.Limiter

	events chan DiscoveredEvent

	ctx        context.Context
	cancel     context.CancelFunc
	workerDone chan struct{}
}

// New constructs a Directory. listener is the SSDP stack collaborator;
// m may be nil in tests that don't care about metrics.
func New(log zerolog.Logger, listener Listener, m *metrics.Metrics, opts Options) *Directory {
	opts = opts.withDefaults()
	d := &Directory{
		log:         log,
		listener:    listener,
		metrics:     m,
		opts:        opts,
		pool:        make(map[string]DeviceDescriptor),
		callbacks:   make(map[int]Visitor),
		searchLimit: rate.NewLimiter(rate.Every(opts.SearchRateLimit), 1),
		events:      make(chan DiscoveredEvent, 64),
		workerDone:  make(chan struct{}),
	}
	d.poolCond = sync.NewCond(&d.poolMu)
	return d
}

// Start launches the worker goroutine and the SSDP listener, then issues
// an initial search.
func (d *Directory) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.ctx = ctx
	d.cancel = cancel

	go d.runWorker()

	go func() {
		if err := d.listener.Run(ctx, d.onSSDPMessage); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("discovery: listener exited")
		}
	}()

	return d.search(ctx)
}

// Terminate stops the worker and listener, waiting for the worker to
// acknowledge exit. Must run before the SSDP listener is torn down.
func (d *Directory) Terminate() {
	if d.cancel != nil {
		d.cancel()
	}
	<-d.workerDone
}

// AddCallback registers a Visitor, returning a stable handle for DelCallback.
func (d *Directory) AddCallback(v Visitor) int {
	d.callbacksMu.Lock()
	defer d.callbacksMu.Unlock()
	handle := d.nextHandle
	d.nextHandle++
	d.callbacks[handle] = v
	return handle
}

// DelCallback removes a previously registered Visitor by handle.
func (d *Directory) DelCallback(handle int) {
	d.callbacksMu.Lock()
	defer d.callbacksMu.Unlock()
	delete(d.callbacks, handle)
}

// onSSDPMessage is the discovery callback, invoked on the
// SSDP stack's own goroutine(s), possibly concurrently.
func (d *Directory) onSSDPMessage(msg SSDPMessage) {
	switch msg.Kind {
	case EventSearchResult, EventAdvertisementAlive:
		if msg.DeviceType != "" && msg.ServiceType != "" {
			return // sub-device/service advertisement; root carries the description
		}
		if msg.Location == "" {
			return
		}
		d.downloadAndEnqueue(msg)
	case EventByeBye:
		d.emit(DiscoveredEvent{Kind: EventByeBye, DeviceID: msg.DeviceID})
	default:
		// ignored
	}
}

func (d *Directory) downloadAndEnqueue(msg SSDPMessage) {
	// singleflight collapses concurrent Alive events for the same
	// description URL into exactly one download; it holds no lock
	// across the download itself.
	_, _, _ = d.inflight.Do(msg.Location, func() (any, error) {
		if d.metrics != nil {
			d.metrics.InFlightDownloads.Inc()
			defer d.metrics.InFlightDownloads.Dec()
		}
		body, err := fetchDescription(context.Background(), msg.Location, d.opts.DescriptionTimeout)
		if err != nil {
			d.log.Debug().Err(err).Str("url", msg.Location).Msg("discovery: description download failed")
			if d.metrics != nil {
				d.metrics.DescriptionErrors.Inc()
			}
			return nil, err
		}
		d.emit(DiscoveredEvent{
			Kind:           EventAdvertisementAlive,
			URL:            msg.Location,
			DeviceID:       msg.DeviceID,
			DescriptionXML: body,
			ExpiresSeconds: msg.MaxAgeSec,
		})
		return nil, nil
	})
}

// emit posts evt to the worker, dropping it silently if the Directory has
// already been told to shut down rather than blocking or panicking on a
// closed channel.
func (d *Directory) emit(evt DiscoveredEvent) {
	select {
	case d.events <- evt:
	case <-d.ctx.Done():
	}
}

// runWorker pops events in arrival order and mutates the pool; this is
// the only goroutine that writes to d.pool, so callback invocation
// observes a total order consistent with event arrival.
func (d *Directory) runWorker() {
	defer close(d.workerDone)
	for {
		select {
		case evt := <-d.events:
			switch evt.Kind {
			case EventByeBye:
				d.removeDevice(evt.DeviceID)
			case EventAdvertisementAlive:
				d.handleAlive(evt)
			}
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Directory) handleAlive(evt DiscoveredEvent) {
	desc, err := parseDeviceDesc(evt.DescriptionXML)
	if err != nil {
		d.log.Warn().Err(err).Str("url", evt.URL).Msg("discovery: malformed device description, discarding")
		if d.metrics != nil {
			d.metrics.DescriptionErrors.Inc()
		}
		return
	}
	udn := desc.UDN
	if udn == "" {
		udn = evt.DeviceID
	}

	d.poolMu.Lock()
	d.pool[udn] = DeviceDescriptor{
		Device:         desc,
		LastSeen:       time.Now(),
		ExpiresSeconds: evt.ExpiresSeconds + uint32(d.opts.ExpiryGrace/time.Second),
	}
	if d.metrics != nil {
		d.metrics.PoolSize.Set(float64(len(d.pool)))
	}
	d.poolCond.Broadcast()
	d.poolMu.Unlock()

	d.invokeCallbacks(desc)
}

func (d *Directory) invokeCallbacks(desc DeviceDesc) {
	d.callbacksMu.Lock()
	defer d.callbacksMu.Unlock()
	for handle := 0; handle < d.nextHandle; handle++ {
		if v, ok := d.callbacks[handle]; ok {
			v(desc)
		}
	}
}

func (d *Directory) removeDevice(udn string) {
	d.poolMu.Lock()
	delete(d.pool, udn)
	if d.metrics != nil {
		d.metrics.PoolSize.Set(float64(len(d.pool)))
	}
	d.poolMu.Unlock()
}

// Traverse runs the expiry sweep and returns a snapshot of the pool.
// Dropping any entry initiates a new search, rate-limited to once per
// SearchRateLimit.
func (d *Directory) Traverse(ctx context.Context) []DeviceDescriptor {
	d.expireDevices()

	d.poolMu.Lock()
	defer d.poolMu.Unlock()
	out := make([]DeviceDescriptor, 0, len(d.pool))
	for _, desc := range d.pool {
		out = append(out, desc)
	}
	return out
}

// expireDevices drops pool entries unseen for longer than their
// ExpiresSeconds and, if anything was dropped, initiates a rate-limited
// re-search.
func (d *Directory) expireDevices() {
	now := time.Now()

	d.poolMu.Lock()
	dropped := false
	for udn, desc := range d.pool {
		if desc.expired(now) {
			delete(d.pool, udn)
			dropped = true
			if d.metrics != nil {
				d.metrics.DevicesExpired.Inc()
			}
		}
	}
	if dropped && d.metrics != nil {
		d.metrics.PoolSize.Set(float64(len(d.pool)))
	}
	d.poolMu.Unlock()

	if dropped {
		_ = d.search(context.Background())
	}
}

// search calls into the SSDP listener with the configured search target,
// recording LastSearched. Rate-limited: returns nil without searching if
// called more often than SearchRateLimit.
func (d *Directory) search(ctx context.Context) error {
	if !d.searchLimit.Allow() {
		return nil
	}
	d.searchMu.Lock()
	d.lastSearched = time.Now()
	d.searchMu.Unlock()
	return d.listener.Search(ctx, d.opts.SearchTarget)
}

// GetRemainingDelay reports the time left in the current search response
// window (SearchWindow seconds after the last Search).
func (d *Directory) GetRemainingDelay() time.Duration {
	d.searchMu.Lock()
	last := d.lastSearched
	d.searchMu.Unlock()
	remaining := d.opts.SearchWindow - time.Since(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetDevBy blocks until match returns true for some pool entry, or the
// search window (GetRemainingDelay) elapses with no match. Returns false
// on timeout.
func (d *Directory) GetDevBy(match func(DeviceDesc) bool) (DeviceDesc, bool) {
	deadline := time.Now().Add(d.GetRemainingDelay())

	d.poolMu.Lock()
	defer d.poolMu.Unlock()
	for {
		for _, desc := range d.pool {
			if match(desc.Device) {
				return desc.Device, true
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return DeviceDesc{}, false
		}
		waitOnCond(d.poolCond, remaining)
	}
}

// GetDevByUDN blocks until a device with the given UDN appears.
func (d *Directory) GetDevByUDN(udn string) (DeviceDesc, bool) {
	return d.GetDevBy(func(desc DeviceDesc) bool { return desc.UDN == udn })
}

// GetDevByFriendlyName blocks until a device whose friendly name equals
// name appears.
func (d *Directory) GetDevByFriendlyName(name string) (DeviceDesc, bool) {
	return d.GetDevBy(func(desc DeviceDesc) bool { return desc.FriendlyName == name })
}

// waitOnCond waits on cond for at most timeout, waking the condvar via a
// timer so a caller with a deadline doesn't block forever.
func waitOnCond(cond *sync.Cond, timeout time.Duration) {
	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
		close(done)
	})
	cond.Wait()
	timer.Stop()
	select {
	case <-done:
	default:
	}
}
