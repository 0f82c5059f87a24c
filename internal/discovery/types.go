// Package discovery implements the UPnP discovery and device-directory
// core: the Directory aggregates SSDP events into a device
// pool, dedups in-flight description downloads, expires stale entries,
// and lets caller goroutines block on "device appears" events.
//
// Concurrency model: three goroutine kinds coexist — the SSDP source's
// own callback goroutine(s), the
// Directory's single worker goroutine, and arbitrary caller goroutines
// calling Traverse or blocked in GetDevByUDN/GetDevByFriendlyName. No lock is held
// across a blocking I/O call except the in-flight-downloads dedup window,
// which protects only set membership, never the download itself.
package discovery

import "time"

// EventKind tags a DiscoveredEvent.
type EventKind int

const (
	// EventSearchResult and EventAdvertisementAlive both announce a live
	// device; the callback treats them identically once filtered.
	EventSearchResult EventKind = iota
	EventAdvertisementAlive
	EventByeBye
	// EventOther covers every SSDP message kind the directory ignores
	// (sub-device/service advertisements, unknown NTS values).
	EventOther
)

// SSDPMessage is what the SSDP stack hands to the discovery
// callback. DeviceType/ServiceType are both populated only for sub-device
// or sub-service advertisements, which the callback must ignore: the
// root device advertisement carries both empty and is the one that
// carries the full description.
type SSDPMessage struct {
	Kind        EventKind
	Location    string
	DeviceID    string // UDN, without the "uuid:" prefix
	DeviceType  string
	ServiceType string
	MaxAgeSec   uint32
}

// DiscoveredEvent is produced by the discovery callback and consumed
// exactly once by the Directory worker goroutine.
type DiscoveredEvent struct {
	Kind           EventKind
	URL            string
	DeviceID       string
	DescriptionXML []byte
	ExpiresSeconds uint32
}

// ServiceDesc is one <service> entry from a device description document.
type ServiceDesc struct {
	ServiceType string
	ServiceID   string
	ControlURL  string
	EventSubURL string
}

// DeviceDesc is the parsed device description.
type DeviceDesc struct {
	OK           bool
	DeviceType   string
	FriendlyName string
	UDN          string
	URLBase      string
	Manufacturer string
	ModelName    string
	Services     []ServiceDesc
}

// DeviceDescriptor is one pool entry. ExpiresSeconds is the
// device-advertised lifetime plus the configured grace period.
type DeviceDescriptor struct {
	Device         DeviceDesc
	LastSeen       time.Time
	ExpiresSeconds uint32
}

func (d DeviceDescriptor) expired(now time.Time) bool {
	return now.Sub(d.LastSeen) > time.Duration(d.ExpiresSeconds)*time.Second
}

// Visitor is invoked by the worker goroutine for every Alive event, with
// the lock on the callbacks list held — visitors must not block.
type Visitor func(device DeviceDesc)
