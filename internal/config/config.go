// Package config reads the renderer bridge's environment-variable
// configuration. There is no config-file format here: every knob is a
// flat scalar with an env-var override and a default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every runtime knob, including the discovery and proxy
// timeouts that drive the SSDP and description-fetch collaborators.
type Config struct {
	Host string
	Port string

	// NodeEnv selects the logging output format: "development" gets a
	// human console writer, anything else gets JSON lines.
	NodeEnv string

	// KeepConsume, if true, means Play/SeekId/SeekIndex must not touch the
	// player's "consume" flag.
	KeepConsume bool

	// SearchWindowSec is the SSDP search response window.
	SearchWindowSec int

	// MetaCacheSaveDebounceMs coalesces MetadataCache disk writes.
	MetaCacheSaveDebounceMs int

	// ProxyListenPort is the StreamProxy's local HTTP listen port.
	ProxyListenPort int

	// ProxyKillAfterMs is a debug fault-injection knob:
	// -1 disables it; a positive value closes a proxied connection
	// that many milliseconds after it starts, to exercise the retry path.
	ProxyKillAfterMs int

	// PluginPaths is consulted by urlmorph.Config.PluginPath: the
	// proxy path each streaming service's rewritten track URL is mounted
	// under (e.g. "tidal" -> "/tidal").
	PluginPaths map[string]string

	// DescriptionFetchTimeoutMs bounds the synchronous device-description
	// download DiscoveryDirectory performs on an Alive event.
	DescriptionFetchTimeoutMs int

	// SearchRateLimitSec is the minimum spacing between DiscoveryDirectory
	// re-searches.
	SearchRateLimitSec int

	// ExpiryGraceSec is added to a device's advertised lifetime before it
	// is considered stale.
	ExpiryGraceSec int

	// MetaCachePath is the persisted uri->didl flat file.
	MetaCachePath string

	// ProxyTakeTimeoutMs bounds how long the proxy's response loop waits
	// on the per-connection BufXChange before treating the producer as
	// stalled.
	ProxyTakeTimeoutMs int
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	host := envString("HOST", "0.0.0.0")
	port := envString("PORT", "4729")
	nodeEnv := envString("NODE_ENV", "development")

	keepConsume := envBool("UPMPD_KEEPCONSUME", false)
	searchWindow := envInt("UPMPD_SEARCH_WINDOW_SEC", 3)
	metaCacheDebounce := envInt("UPMPD_METACACHE_SAVE_DEBOUNCE_MS", 2000)
	proxyPort := envInt("UPMPD_PROXY_LISTEN_PORT", 49149)
	proxyKillAfter := envInt("UPMPD_PROXY_KILL_AFTER_MS", -1)
	descTimeout := envInt("UPMPD_DESCRIPTION_FETCH_TIMEOUT_MS", 5000)
	searchRateLimit := envInt("UPMPD_SEARCH_RATE_LIMIT_SEC", 10)
	expiryGrace := envInt("UPMPD_EXPIRY_GRACE_SEC", 20)
	metaCachePath := envString("UPMPD_METACACHE_PATH", "./data/metacache.tsv")
	proxyTakeTimeout := envInt("UPMPD_PROXY_TAKE_TIMEOUT_MS", 10000)

	pluginPaths := map[string]string{
		"tidal": envString("UPMPD_TIDAL_PLUGIN_PATH", "/tidal"),
		"qobuz": envString("UPMPD_QOBUZ_PLUGIN_PATH", "/qobuz"),
	}

	if proxyPort <= 0 || proxyPort > 65535 {
		return Config{}, fmt.Errorf("UPMPD_PROXY_LISTEN_PORT must be a valid TCP port, got %d", proxyPort)
	}

	return Config{
		Host:                      host,
		Port:                      port,
		NodeEnv:                   nodeEnv,
		KeepConsume:               keepConsume,
		SearchWindowSec:           searchWindow,
		MetaCacheSaveDebounceMs:   metaCacheDebounce,
		ProxyListenPort:           proxyPort,
		ProxyKillAfterMs:          proxyKillAfter,
		PluginPaths:               pluginPaths,
		DescriptionFetchTimeoutMs: descTimeout,
		SearchRateLimitSec:        searchRateLimit,
		ExpiryGraceSec:            expiryGrace,
		MetaCachePath:             metaCachePath,
		ProxyTakeTimeoutMs:        proxyTakeTimeout,
	}, nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
