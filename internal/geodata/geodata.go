// Package geodata indexes published layer geometry for server-side hit
// testing, bounds lookups and raster export.
//
// Feature ids follow the engine's generated-id convention: the position of
// the feature in its collection. Outline sources carry one feature per
// area; choropleth sources carry one feature per area per reporting date.
package geodata

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rotisserie/eris"
)

// Property names shared by outline and choropleth sources.
const (
	PropCode  = "code"
	PropValue = "value"
	PropDate  = "date"
)

// Feature is one indexed feature.
type Feature struct {
	ID         int
	Code       string
	Date       string
	Value      *float64
	Properties map[string]any
	Geometry   orb.Geometry
	Bound      orb.Bound
}

// Contains reports whether p lies inside the feature's polygonal geometry.
func (f Feature) Contains(p orb.Point) bool {
	if !f.Bound.Contains(p) {
		return false
	}
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	case orb.Bound:
		return true
	}
	return false
}

// Intersects reports whether the feature's bound overlaps b.
func (f Feature) Intersects(b orb.Bound) bool {
	return f.Bound.Intersects(b)
}

// Collection is an indexed feature collection for one source.
type Collection struct {
	SourceID string
	features []Feature
	byCode   map[string][]int
}

// FromGeoJSON builds a collection from a decoded GeoJSON feature collection.
func FromGeoJSON(sourceID string, fc *geojson.FeatureCollection) *Collection {
	c := &Collection{
		SourceID: sourceID,
		features: make([]Feature, 0, len(fc.Features)),
		byCode:   make(map[string][]int),
	}
	for i, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		feat := Feature{
			ID:         i,
			Code:       stringProp(f.Properties, PropCode),
			Date:       DayOf(stringProp(f.Properties, PropDate)),
			Value:      numberProp(f.Properties, PropValue),
			Properties: map[string]any(f.Properties),
			Geometry:   f.Geometry,
			Bound:      f.Geometry.Bound(),
		}
		c.byCode[feat.Code] = append(c.byCode[feat.Code], len(c.features))
		c.features = append(c.features, feat)
	}
	return c
}

// Parse decodes GeoJSON bytes into a collection.
func Parse(sourceID string, data []byte) (*Collection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(err, "geodata: parse %s", sourceID)
	}
	return FromGeoJSON(sourceID, fc), nil
}

// Len returns the number of indexed features.
func (c *Collection) Len() int { return len(c.features) }

// Features returns all features in source order.
func (c *Collection) Features() []Feature { return c.features }

// ByCode returns the first feature carrying code.
func (c *Collection) ByCode(code string) (Feature, bool) {
	idx := c.byCode[code]
	if len(idx) == 0 {
		return Feature{}, false
	}
	return c.features[idx[0]], true
}

// ByID returns the feature with engine id id.
func (c *Collection) ByID(id int) (Feature, bool) {
	for _, f := range c.features {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// At returns features containing p, in source order.
func (c *Collection) At(p orb.Point) []Feature {
	var out []Feature
	for _, f := range c.features {
		if f.Contains(p) {
			out = append(out, f)
		}
	}
	return out
}

// Within returns features whose bounds intersect b.
func (c *Collection) Within(b orb.Bound) []Feature {
	var out []Feature
	for _, f := range c.features {
		if f.Intersects(b) {
			out = append(out, f)
		}
	}
	return out
}

// OnDate returns features reported on day (YYYY-MM-DD).
func (c *Collection) OnDate(day string) []Feature {
	var out []Feature
	for _, f := range c.features {
		if f.Date == day {
			out = append(out, f)
		}
	}
	return out
}

// Bound returns the union bound of all features.
func (c *Collection) Bound() orb.Bound {
	if len(c.features) == 0 {
		return orb.Bound{}
	}
	b := c.features[0].Bound
	for _, f := range c.features[1:] {
		b = b.Union(f.Bound)
	}
	return b
}

// DayOf strips the time part from an ISO timestamp.
func DayOf(date string) string {
	if i := strings.IndexByte(date, 'T'); i >= 0 {
		return date[:i]
	}
	return date
}

func stringProp(p geojson.Properties, key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func numberProp(p geojson.Properties, key string) *float64 {
	switch n := p[key].(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	}
	return nil
}
