package mapctl

import "github.com/joeblew999/casemap/internal/catalog"

// ZoomLevelResolver maps zoom to a catalog band index and reports band
// changes only.
type ZoomLevelResolver struct {
	cat      *catalog.Catalog
	index    int
	observed bool
}

// NewZoomLevelResolver creates a resolver over cat.
func NewZoomLevelResolver(cat *catalog.Catalog) *ZoomLevelResolver {
	return &ZoomLevelResolver{cat: cat}
}

// Observe records zoom and reports whether the band changed. The first
// observation always reports a change.
func (z *ZoomLevelResolver) Observe(zoom float64) (int, bool) {
	i := z.cat.IndexFor(zoom)
	if z.observed && i == z.index {
		return i, false
	}
	z.index, z.observed = i, true
	return i, true
}

// Index returns the last observed band, 0 before any observation.
func (z *ZoomLevelResolver) Index() int { return z.index }
