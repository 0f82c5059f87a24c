package discovery

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
)

// Listener is the SSDP stack's interface as seen by the Directory. It
// runs the multicast M-SEARCH/NOTIFY traffic on its own goroutines and
// invokes callback for every message it sees, including sub-device/service
// advertisements the callback itself must filter.
type Listener interface {
	// Search sends an M-SEARCH for target and returns once it has been
	// sent (responses arrive asynchronously through callback).
	Search(ctx context.Context, target string) error
	// Run listens for NOTIFY/M-SEARCH-response traffic until ctx is done,
	// invoking callback for each message.
	Run(ctx context.Context, callback func(SSDPMessage)) error
}

const (
	ssdpAddr        = "239.255.255.250:1900"
	defaultSearchMX = 2
)

// MulticastListener is a minimal real SSDP listener: it multicasts
// M-SEARCH requests and receives the unicast responses to them on its own
// socket, parsing each into an SSDPMessage. It does not join the SSDP
// multicast group, so NOTIFY announcements are not received.
type MulticastListener struct {
	conn net.PacketConn
}

// NewMulticastListener binds the UDP socket used for both searching and
// listening. The caller must call Run to start receiving.
func NewMulticastListener() (*MulticastListener, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	return &MulticastListener{conn: conn}, nil
}

func (l *MulticastListener) Search(ctx context.Context, target string) error {
	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return err
	}
	msg := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		`MAN: "ssdp:discover"`,
		"MX: " + strconv.Itoa(defaultSearchMX),
		"ST: " + target,
		"", "",
	}, "\r\n")
	_, err = l.conn.WriteTo([]byte(msg), addr)
	return err
}

func (l *MulticastListener) Run(ctx context.Context, callback func(SSDPMessage)) error {
	go func() {
		<-ctx.Done()
		_ = l.conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msg, ok := parseSSDPMessage(buf[:n]); ok {
			callback(msg)
		}
	}
}

func parseSSDPMessage(raw []byte) (SSDPMessage, bool) {
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	headers := make(map[string]string)

	if !scanner.Scan() {
		return SSDPMessage{}, false
	}
	statusLine := scanner.Text()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers[strings.ToUpper(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	kind := classify(statusLine, headers)
	if kind == EventOther && headers["NTS"] == "" && headers["ST"] == "" {
		return SSDPMessage{}, false
	}

	deviceID := strings.TrimPrefix(headers["USN"], "uuid:")
	if idx := strings.Index(deviceID, ":"); idx >= 0 {
		deviceID = deviceID[:idx]
	}

	return SSDPMessage{
		Kind:        kind,
		Location:    headers["LOCATION"],
		DeviceID:    deviceID,
		DeviceType:  deviceTypeOf(headers),
		ServiceType: serviceTypeOf(headers),
		MaxAgeSec:   maxAgeOf(headers["CACHE-CONTROL"]),
	}, true
}

func classify(statusLine string, headers map[string]string) EventKind {
	switch {
	case strings.HasPrefix(statusLine, "HTTP/1.1 200"):
		return EventSearchResult
	case strings.EqualFold(headers["NTS"], "ssdp:alive"):
		return EventAdvertisementAlive
	case strings.EqualFold(headers["NTS"], "ssdp:byebye"):
		return EventByeBye
	default:
		return EventOther
	}
}

// deviceTypeOf/serviceTypeOf report non-empty only for sub-device/service
// advertisements (NT/ST naming "service:" rather than "device:rootdevice"
// or a bare UUID); the root advertisement leaves both empty. Both read the
// same NT/ST value, so at most one of them is non-empty and the
// Directory's filter, which drops only messages with both set, does not
// drop any message parsed here.
func deviceTypeOf(headers map[string]string) string {
	nt := firstNonEmpty(headers["NT"], headers["ST"])
	if strings.Contains(nt, ":device:") && !strings.Contains(nt, "rootdevice") {
		return nt
	}
	return ""
}

func serviceTypeOf(headers map[string]string) string {
	nt := firstNonEmpty(headers["NT"], headers["ST"])
	if strings.Contains(nt, ":service:") {
		return nt
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func maxAgeOf(cacheControl string) uint32 {
	const prefix = "max-age="
	idx := strings.Index(strings.ToLower(cacheControl), prefix)
	if idx < 0 {
		return 1800
	}
	rest := cacheControl[idx+len(prefix):]
	end := strings.IndexAny(rest, ", ")
	if end >= 0 {
		rest = rest[:end]
	}
	v, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || v <= 0 {
		return 1800
	}
	return uint32(v)
}
