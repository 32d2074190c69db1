package geodata

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/catalog"
)

// Fetcher reads raw GeoJSON from a URL or local path.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// HTTPFetcher fetches http(s) locations and reads anything else from disk.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		data, err := os.ReadFile(strings.TrimPrefix(location, "file://"))
		if err != nil {
			return nil, eris.Wrapf(err, "geodata: read %s", location)
		}
		return data, nil
	}

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geodata: build request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "geodata: fetch %s", location)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geodata: fetch %s: status %d", location, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "geodata: read body %s", location)
	}
	return data, nil
}

type entry struct {
	once  sync.Once
	coll  *Collection
	err   error
	ready bool // guarded by Store.mu
}

// Store lazily loads and caches outline and choropleth collections for
// the layers of a catalog. Safe for concurrent use.
type Store struct {
	cat     *catalog.Catalog
	fetcher Fetcher

	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore creates a store over cat.
func NewStore(cat *catalog.Catalog, fetcher Fetcher) *Store {
	if fetcher == nil {
		fetcher = HTTPFetcher{}
	}
	return &Store{cat: cat, fetcher: fetcher, entries: make(map[string]*entry)}
}

// Put seeds a collection under its source id.
func (s *Store) Put(c *Collection) {
	e := &entry{coll: c, ready: true}
	e.once.Do(func() {})
	s.mu.Lock()
	s.entries[c.SourceID] = e
	s.mu.Unlock()
}

// choroplethKey caches each device variant of a source separately.
func choroplethKey(sourceID string, v catalog.Variant) string {
	return sourceID + "@" + string(v)
}

func (s *Store) load(ctx context.Context, key, sourceID, location string) (*Collection, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	s.mu.Unlock()

	e.once.Do(func() {
		start := time.Now()
		data, err := s.fetcher.Fetch(ctx, location)
		if err != nil {
			e.err = err
			return
		}
		e.coll, e.err = Parse(sourceID, data)
		if e.err == nil {
			zap.L().Info("geometry loaded",
				zap.String("source", sourceID),
				zap.Int("features", e.coll.Len()),
				zap.Duration("took", time.Since(start)),
			)
		}
	})
	s.mu.Lock()
	if e.err != nil {
		// Allow a later call to retry.
		if s.entries[key] == e {
			delete(s.entries, key)
		}
	} else {
		e.ready = true
	}
	s.mu.Unlock()
	return e.coll, e.err
}

// Outline returns the outline collection of layer id.
func (s *Store) Outline(ctx context.Context, layerID string) (*Collection, error) {
	l, ok := s.cat.Layer(layerID)
	if !ok {
		return nil, eris.Errorf("geodata: unknown layer %q", layerID)
	}
	return s.load(ctx, l.OutlineSourceID(), l.OutlineSourceID(), l.Paths.Outline)
}

// Choropleth returns the time-series collection of layer id.
func (s *Store) Choropleth(ctx context.Context, layerID string, v catalog.Variant) (*Collection, error) {
	l, ok := s.cat.Layer(layerID)
	if !ok {
		return nil, eris.Errorf("geodata: unknown layer %q", layerID)
	}
	return s.load(ctx, choroplethKey(l.ChoroplethSourceID(), v), l.ChoroplethSourceID(), l.GeometryURL(v))
}

// Cached returns an already loaded outline collection without fetching.
func (s *Store) Cached(sourceID string) (*Collection, bool) {
	return s.cached(sourceID)
}

// CachedChoropleth returns an already loaded choropleth collection of one
// device variant without fetching.
func (s *Store) CachedChoropleth(sourceID string, v catalog.Variant) (*Collection, bool) {
	return s.cached(choroplethKey(sourceID, v))
}

func (s *Store) cached(key string) (*Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.ready {
		return nil, false
	}
	return e.coll, true
}

// Preload fetches every outline so hit testing is warm. Failures are
// logged and left for a lazy retry.
func (s *Store) Preload(ctx context.Context) {
	for _, l := range s.cat.Layers() {
		if _, err := s.Outline(ctx, l.ID); err != nil {
			zap.L().Warn("outline preload failed", zap.String("layer", l.ID), zap.Error(err))
		}
	}
}
