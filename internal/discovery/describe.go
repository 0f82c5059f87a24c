package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// descriptionClient is a bounded probe client: short dial/TLS timeouts
// so an unreachable device never hangs a download goroutine.
var descriptionClient = &http.Client{
	Transport: &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
		TLSHandshakeTimeout: 3 * time.Second,
		IdleConnTimeout:     30 * time.Second,
	},
}

// fetchDescription downloads the device description document advertised
// in an SSDP Location header, bounded by timeout.
func fetchDescription(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := descriptionClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, &httpStatusError{url: url, code: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

type httpStatusError struct {
	url  string
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("discovery: description fetch %s returned status %d", e.url, e.code)
}
