// Package server wires the renderer bridge together: the main HTTP
// listener (playlist actions, device directory, debug surfaces), the
// stream proxy on its own port, the discovery directory, and the
// housekeeping cron jobs.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/upmpd-go/upmpd-go/internal/api"
	"github.com/upmpd-go/upmpd-go/internal/config"
	"github.com/upmpd-go/upmpd-go/internal/discovery"
	"github.com/upmpd-go/upmpd-go/internal/liveevents"
	"github.com/upmpd-go/upmpd-go/internal/metrics"
	"github.com/upmpd-go/upmpd-go/internal/netfetch"
	"github.com/upmpd-go/upmpd-go/internal/player"
	"github.com/upmpd-go/upmpd-go/internal/playlist"
	"github.com/upmpd-go/upmpd-go/internal/streamproxy"
	"github.com/upmpd-go/upmpd-go/internal/urlmorph"
)

// Options controls server wiring.
type Options struct {
	// Player is the control connection to the underlying audio player
	// daemon. Required.
	Player player.Player

	// Listener overrides the SSDP listener; nil binds a real multicast
	// socket. Tests inject a fake here.
	Listener discovery.Listener

	// ResolveTrack maps a proxied streaming-service request (the plugin
	// path, e.g. "/tidal", plus its query parameters) to the upstream
	// content URL. Nil means streaming-service paths are refused; the
	// "url" query escape hatch still works.
	ResolveTrack func(pluginPath string, query map[string]string) (string, bool)

	// DisableDiscovery skips binding the SSDP socket (for tests).
	DisableDiscovery bool
}

// Bridge holds every running subsystem plus the main HTTP handler.
type Bridge struct {
	Handler http.Handler

	log       zerolog.Logger
	directory *discovery.Directory
	playlist  *playlist.Service
	cache     *playlist.MetadataCache
	hub       *liveevents.Hub
	proxy     *http.Server
	cron      *cron.Cron
	cancel    context.CancelFunc
}

// New wires every subsystem and returns the assembled bridge. Call Start
// to begin serving, Shutdown to tear it down in dependency order.
func New(log zerolog.Logger, cfg config.Config, options Options) (*Bridge, error) {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	hub := liveevents.NewHub(log)

	cache := playlist.NewMetadataCache(log, m, cfg.MetaCachePath,
		time.Duration(cfg.MetaCacheSaveDebounceMs)*time.Millisecond)
	if err := cache.Load(); err != nil {
		log.Warn().Err(err).Msg("metadata cache load failed, starting empty")
	}

	morphCfg := urlMorphConfig(cfg)
	playlistService := playlist.NewService(log, m, options.Player, cache, morphCfg, cfg.KeepConsume)

	listener := options.Listener
	if listener == nil && !options.DisableDiscovery {
		real, err := discovery.NewMulticastListener()
		if err != nil {
			return nil, err
		}
		listener = real
	}

	var directory *discovery.Directory
	if listener != nil {
		directory = discovery.New(log, listener, m, discovery.Options{
			SearchWindow:       time.Duration(cfg.SearchWindowSec) * time.Second,
			SearchRateLimit:    time.Duration(cfg.SearchRateLimitSec) * time.Second,
			DescriptionTimeout: time.Duration(cfg.DescriptionFetchTimeoutMs) * time.Millisecond,
			ExpiryGrace:        time.Duration(cfg.ExpiryGraceSec) * time.Second,
		})
		directory.AddCallback(func(device discovery.DeviceDesc) {
			hub.Broadcast(liveevents.Event{Kind: "device_alive", Payload: map[string]string{
				"udn":           device.UDN,
				"friendly_name": device.FriendlyName,
				"model_name":    device.ModelName,
			}})
		})
	}

	proxyHandler := streamproxy.New(log, m, urlTranslator(log, options.ResolveTrack),
		cfg.ProxyKillAfterMs, time.Duration(cfg.ProxyTakeTimeoutMs)*time.Millisecond)
	proxy := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.ProxyListenPort),
		Handler:           proxyHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RequestLoggerMiddleware(log))
	router.Use(api.RecovererMiddleware(log))

	registerHealthRoutes(router)
	registerDeviceRoutes(router, directory)
	playlist.RegisterRoutes(router, playlistService)
	liveevents.RegisterRoutes(router, hub)
	router.Method(http.MethodGet, "/debug/metrics",
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	jobs := cron.New()
	// The housekeeping sweep re-checks device expiry even when no caller
	// is blocked in Traverse, and flushes a dirty metadata cache that the
	// debounce timer alone would leave unsaved across a crash window.
	if directory != nil {
		dir := directory
		if _, err := jobs.AddFunc("@every 30s", func() {
			dir.Traverse(context.Background())
		}); err != nil {
			return nil, err
		}
	}
	if _, err := jobs.AddFunc("@every 1m", cache.Save); err != nil {
		return nil, err
	}

	return &Bridge{
		Handler:   router,
		log:       log,
		directory: directory,
		playlist:  playlistService,
		cache:     cache,
		hub:       hub,
		proxy:     proxy,
		cron:      jobs,
	}, nil
}

// Start launches the discovery worker, the playlist event loop, the
// stream proxy listener, and the cron jobs.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	if b.directory != nil {
		if err := b.directory.Start(ctx); err != nil {
			cancel()
			return err
		}
	}

	b.playlist.Start(ctx)
	go b.forwardPlaylistEvents(ctx)

	b.cron.Start()

	go func() {
		b.log.Info().Str("addr", b.proxy.Addr).Msg("stream proxy listening")
		if err := b.proxy.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.log.Error().Err(err).Msg("stream proxy listen failed")
		}
	}()

	return nil
}

func (b *Bridge) forwardPlaylistEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-b.playlist.Changes():
			b.hub.Broadcast(liveevents.Event{Kind: "playlist_state", Payload: map[string]any{
				"transport_state": evt.State.TransportState,
				"current_id":      evt.State.CurrentID,
				"id_array":        evt.State.IdArrayBase64,
				"repeat":          evt.State.Repeat,
				"shuffle":         evt.State.Shuffle,
			}})
		}
	}
}

// Shutdown tears subsystems down in dependency order: stop accepting
// proxy connections, stop the cron jobs, terminate discovery before its
// listener goes away, flush the metadata cache, then drop the websocket
// subscribers.
func (b *Bridge) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := b.proxy.Shutdown(ctx); err != nil {
		firstErr = err
	}
	<-b.cron.Stop().Done()
	if b.cancel != nil {
		b.cancel()
	}
	if b.directory != nil {
		b.directory.Terminate()
	}
	b.cache.Save()
	b.hub.Close()
	return firstErr
}

// urlMorphConfig derives the URL-morph settings from the process config:
// rewritten streaming-service tracks point at this bridge's own proxy
// listener.
func urlMorphConfig(cfg config.Config) urlmorph.Config {
	return urlmorph.Config{
		ProxyHost: cfg.Host,
		ProxyPort: cfg.ProxyListenPort,
		PluginPath: func(service string) string {
			return cfg.PluginPaths[service]
		},
	}
}

// urlTranslator builds the stream proxy's UrlTrans callback: a "url"
// query parameter naming an http(s) source is proxied directly, a "path"
// parameter is served from the local filesystem, and anything else is
// handed to the streaming-service resolver.
func urlTranslator(log zerolog.Logger, resolve func(string, map[string]string) (string, bool)) streamproxy.UrlTrans {
	return func(userAgent, url string, query map[string]string) streamproxy.TransResult {
		if upstream, ok := query["url"]; ok {
			if !strings.HasPrefix(upstream, "http://") && !strings.HasPrefix(upstream, "https://") {
				return streamproxy.TransResult{Outcome: streamproxy.OutcomeError}
			}
			return streamproxy.TransResult{
				Outcome: streamproxy.OutcomeProxy,
				Fetcher: netfetch.NewHTTPFetch(log, upstream, userAgent),
			}
		}
		if path, ok := query["path"]; ok {
			return streamproxy.TransResult{
				Outcome: streamproxy.OutcomeProxy,
				Fetcher: netfetch.NewFileFetch(path),
			}
		}
		if resolve != nil {
			pluginPath := strings.TrimSuffix(url, "/track")
			if upstream, ok := resolve(pluginPath, query); ok {
				return streamproxy.TransResult{
					Outcome: streamproxy.OutcomeProxy,
					Fetcher: netfetch.NewHTTPFetch(log, upstream, userAgent),
				}
			}
		}
		return streamproxy.TransResult{Outcome: streamproxy.OutcomeError}
	}
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"service":   "upmpd-go",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
}

// registerDeviceRoutes exposes the discovery pool read-only, mirroring
// what a control point sees.
func registerDeviceRoutes(router chi.Router, directory *discovery.Directory) {
	router.Method(http.MethodGet, "/v1/devices", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if directory == nil {
			return api.WriteJSON(w, http.StatusOK, map[string]any{"devices": []any{}})
		}
		entries := directory.Traverse(r.Context())
		formatted := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			formatted = append(formatted, map[string]any{
				"udn":           entry.Device.UDN,
				"friendly_name": entry.Device.FriendlyName,
				"device_type":   entry.Device.DeviceType,
				"manufacturer":  entry.Device.Manufacturer,
				"model_name":    entry.Device.ModelName,
				"last_seen":     entry.LastSeen.UTC().Format(time.RFC3339),
			})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"devices": formatted})
	}))
}
