package playlist

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/upmpd-go/upmpd-go/internal/apperrors"
	"github.com/upmpd-go/upmpd-go/internal/metrics"
)

// MetadataCache is the persisted uri->DIDL mapping: a dirty-flag,
// debounce-on-write key/value store backed by a flat file.
type MetadataCache struct {
	log      zerolog.Logger
	metrics  *metrics.Metrics
	path     string
	debounce time.Duration

	mu      sync.Mutex
	entries map[string]string
	dirty   bool
	timer   *time.Timer

	saveMu sync.Mutex // serializes Save so a returned Save has its write on disk
}

// NewMetadataCache constructs a cache backed by path, with writes
// coalesced by debounce. Call Load once at startup to populate it from
// disk.
func NewMetadataCache(log zerolog.Logger, m *metrics.Metrics, path string, debounce time.Duration) *MetadataCache {
	return &MetadataCache{
		log:      log.With().Str("subsystem", "metacache").Logger(),
		metrics:  m,
		path:     path,
		debounce: debounce,
		entries:  make(map[string]string),
	}
}

// Load reads the flat uri\tdidl file into memory. A missing file is not
// an error; lines without a tab are skipped; an open or scan failure is
// an IoError, logged and non-fatal.
func (c *MetadataCache) Load() error {
	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("metacache load failed")
		return apperrors.NewIoErrorRenderer(fmt.Sprintf("metacache: open %s: %v", c.path, err))
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		uri, didl, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		c.entries[uri] = unescapeLine(didl)
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn().Err(err).Msg("metacache scan failed")
		return apperrors.NewIoErrorRenderer(fmt.Sprintf("metacache: scan %s: %v", c.path, err))
	}
	return nil
}

// Get returns the cached DIDL metadata for uri, if present.
func (c *MetadataCache) Get(uri string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	didl, ok := c.entries[uri]
	if c.metrics != nil {
		if ok {
			c.metrics.MetaCacheHits.Inc()
		} else {
			c.metrics.MetaCacheMisses.Inc()
		}
	}
	return didl, ok
}

// Put sets the cached DIDL metadata for uri and marks the cache dirty,
// scheduling a debounced save.
func (c *MetadataCache) Put(uri, didl string) {
	c.mu.Lock()
	c.entries[uri] = didl
	c.markDirtyLocked()
	c.mu.Unlock()
}

// Reconcile drops any entry whose uri is not in keepURIs, so the cache's
// key set tracks the uri set of the live queue. Returns true if anything
// changed.
func (c *MetadataCache) Reconcile(keepURIs map[string]struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	for uri := range c.entries {
		if _, ok := keepURIs[uri]; !ok {
			delete(c.entries, uri)
			changed = true
		}
	}
	if changed {
		c.markDirtyLocked()
	}
	return changed
}

func (c *MetadataCache) markDirtyLocked() {
	c.dirty = true
	if c.debounce <= 0 {
		go c.Save()
		return
	}
	if c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		c.timer = nil
		c.mu.Unlock()
		c.Save()
	})
}

// Save writes the cache to disk if dirty. Best-effort: failures are
// logged and do not affect in-memory state.
func (c *MetadataCache) Save() {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if !c.dirty {
		c.mu.Unlock()
		return
	}
	snapshot := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		snapshot[k] = v
	}
	c.dirty = false
	c.mu.Unlock()

	tmp := c.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("metacache save failed")
		return
	}
	w := bufio.NewWriter(f)
	for uri, didl := range snapshot {
		fmt.Fprintf(w, "%s\t%s\n", uri, escapeLine(didl))
	}
	if err := w.Flush(); err != nil {
		c.log.Warn().Err(err).Msg("metacache flush failed")
		f.Close()
		return
	}
	if err := f.Close(); err != nil {
		c.log.Warn().Err(err).Msg("metacache close failed")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		c.log.Warn().Err(err).Msg("metacache rename failed")
		return
	}
	if c.metrics != nil {
		c.metrics.MetaCacheSaves.Inc()
	}
}

// escapeLine/unescapeLine keep a DIDL blob on one line so the file stays
// one uri\tdidl pair per line.
func escapeLine(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}

func unescapeLine(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
