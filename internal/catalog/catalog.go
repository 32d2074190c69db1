// Package catalog holds the static table of level-of-detail map layers.
//
// A Catalog is built once at startup and never mutated. Each layer covers
// a half-open zoom band [MinZoom, MaxZoom); the bands of a valid catalog
// partition the zoom domain, and Resolve clamps zooms outside the outer
// edges to the nearest edge band.
package catalog

import (
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
)

// Variant selects the geometry payload served to a device class.
type Variant string

const (
	Desktop Variant = "desktop"
	Mobile  Variant = "mobile"
)

// ColorStep is one (threshold, color) pair of a choropleth scale.
// Values at or above Threshold take Color until the next step.
type ColorStep struct {
	Threshold float64 `json:"threshold" yaml:"threshold" doc:"Lower bound of the bucket"`
	Color     string  `json:"color" yaml:"color" doc:"Fill color (CSS)"`
}

// Buckets is a step colour scale: Base applies below the first threshold.
type Buckets struct {
	Base  string      `json:"base" yaml:"base" doc:"Fill color below the first threshold"`
	Steps []ColorStep `json:"steps" yaml:"steps" doc:"Ascending threshold steps"`
}

// Flatten returns the scale as [color, threshold, color, threshold, ...],
// the operand list of a step expression.
func (b Buckets) Flatten() []any {
	out := make([]any, 0, 1+2*len(b.Steps))
	out = append(out, b.Base)
	for _, s := range b.Steps {
		out = append(out, s.Threshold, s.Color)
	}
	return out
}

// ColorFor returns the bucket colour for a value.
func (b Buckets) ColorFor(v float64) string {
	c := b.Base
	for _, s := range b.Steps {
		if v < s.Threshold {
			break
		}
		c = s.Color
	}
	return c
}

// Paths are the published geometry sources of a layer.
type Paths struct {
	TimeSeries       string `json:"timeSeries" yaml:"timeSeries" doc:"Choropleth geometry (desktop)"`
	TimeSeriesMobile string `json:"timeSeriesMobile" yaml:"timeSeriesMobile" doc:"Choropleth geometry (mobile)"`
	Outline          string `json:"outline" yaml:"outline" doc:"Single-snapshot boundary geometry"`
}

// LayerDescriptor describes one level of detail.
type LayerDescriptor struct {
	ID          string  `json:"id" yaml:"id" doc:"Layer identifier, also the area type" example:"ltla"`
	DisplayName string  `json:"displayName" yaml:"displayName" doc:"Display name" example:"LTLA"`
	Paths       Paths   `json:"paths" yaml:"paths"`
	Foreground  string  `json:"foreground" yaml:"foreground" doc:"Layer id the stroke layer is inserted below" example:"utla"`
	Tolerance   float64 `json:"tolerance" yaml:"tolerance" doc:"Geometry simplification tolerance"`
	Buffer      int     `json:"buffer" yaml:"buffer" doc:"Tile buffer in pixels"`
	MinZoom     float64 `json:"minZoom" yaml:"minZoom" doc:"Inclusive lower zoom bound"`
	MaxZoom     float64 `json:"maxZoom" yaml:"maxZoom" doc:"Exclusive upper zoom bound"`
	Buckets     Buckets `json:"buckets" yaml:"buckets"`
}

// GeometryURL returns the choropleth source for a device variant.
func (d LayerDescriptor) GeometryURL(v Variant) string {
	if v == Mobile && d.Paths.TimeSeriesMobile != "" {
		return d.Paths.TimeSeriesMobile
	}
	return d.Paths.TimeSeries
}

// Contains reports whether zoom falls in the layer's band.
func (d LayerDescriptor) Contains(zoom float64) bool {
	return zoom >= d.MinZoom && zoom < d.MaxZoom
}

// Engine object ids derived from the layer id.

func (d LayerDescriptor) ChoroplethSourceID() string { return "timeSeries-" + d.ID }
func (d LayerDescriptor) OutlineSourceID() string    { return "geo-" + d.ID }
func (d LayerDescriptor) OutlineLayerID() string     { return d.ID }
func (d LayerDescriptor) ChoroplethLayerID() string  { return "choropleth-" + d.ID }
func (d LayerDescriptor) ClickLayerID() string       { return d.ID + "-click" }

// Catalog is an immutable, zoom-ordered list of layers.
type Catalog struct {
	layers []LayerDescriptor
	byID   map[string]int
}

// New validates layers and builds a catalog ordered by MinZoom.
func New(layers []LayerDescriptor) (*Catalog, error) {
	sorted := make([]LayerDescriptor, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinZoom < sorted[j].MinZoom })

	if err := Validate(sorted); err != nil {
		return nil, err
	}

	c := &Catalog{layers: sorted, byID: make(map[string]int, len(sorted))}
	for i, l := range sorted {
		c.byID[l.ID] = i
	}
	return c, nil
}

// MustNew is New for static tables known to be valid.
func MustNew(layers []LayerDescriptor) *Catalog {
	c, err := New(layers)
	if err != nil {
		panic(err)
	}
	return c
}

// Validate checks that zoom-ordered layers tile the zoom axis.
func Validate(layers []LayerDescriptor) error {
	if len(layers) == 0 {
		return eris.New("catalog: no layers")
	}
	seen := make(map[string]bool, len(layers))
	for i, l := range layers {
		if l.ID == "" {
			return eris.Errorf("catalog: layer %d has no id", i)
		}
		if seen[l.ID] {
			return eris.Errorf("catalog: duplicate layer id %q", l.ID)
		}
		seen[l.ID] = true

		if l.MinZoom >= l.MaxZoom {
			return eris.Errorf("catalog: layer %q has empty band [%g, %g)", l.ID, l.MinZoom, l.MaxZoom)
		}
		if i > 0 {
			prev := layers[i-1]
			switch {
			case l.MinZoom > prev.MaxZoom:
				return eris.Errorf("catalog: gap between %q and %q at [%g, %g)", prev.ID, l.ID, prev.MaxZoom, l.MinZoom)
			case l.MinZoom < prev.MaxZoom:
				return eris.Errorf("catalog: %q overlaps %q below zoom %g", l.ID, prev.ID, prev.MaxZoom)
			}
		}

		if l.Buckets.Base == "" || len(l.Buckets.Steps) == 0 {
			return eris.Errorf("catalog: layer %q has no colour buckets", l.ID)
		}
		for j := 1; j < len(l.Buckets.Steps); j++ {
			if l.Buckets.Steps[j].Threshold <= l.Buckets.Steps[j-1].Threshold {
				return eris.Errorf("catalog: layer %q thresholds not ascending at step %d", l.ID, j)
			}
		}
	}
	return nil
}

// Len returns the number of layers.
func (c *Catalog) Len() int { return len(c.layers) }

// Layers returns a copy of the layer table in zoom order.
func (c *Catalog) Layers() []LayerDescriptor {
	out := make([]LayerDescriptor, len(c.layers))
	copy(out, c.layers)
	return out
}

// At returns the layer at index i.
func (c *Catalog) At(i int) LayerDescriptor { return c.layers[i] }

// Layer looks up a layer by id.
func (c *Catalog) Layer(id string) (LayerDescriptor, bool) {
	i, ok := c.byID[id]
	if !ok {
		return LayerDescriptor{}, false
	}
	return c.layers[i], true
}

// IndexOf returns the band index of a layer id, or -1.
func (c *Catalog) IndexOf(id string) int {
	if i, ok := c.byID[id]; ok {
		return i
	}
	return -1
}

// Coarsest returns the lowest-zoom layer.
func (c *Catalog) Coarsest() LayerDescriptor { return c.layers[0] }

// Finest returns the highest-zoom layer.
func (c *Catalog) Finest() LayerDescriptor { return c.layers[len(c.layers)-1] }

// FinestIndex returns the band index of the finest layer.
func (c *Catalog) FinestIndex() int { return len(c.layers) - 1 }

// IsFinest reports whether id names the finest layer.
func (c *Catalog) IsFinest(id string) bool { return c.Finest().ID == id }

// IndexFor returns the band index containing zoom, clamped to the edges.
func (c *Catalog) IndexFor(zoom float64) int {
	last := len(c.layers) - 1
	if zoom < c.layers[0].MaxZoom {
		return 0
	}
	if zoom >= c.layers[last].MinZoom {
		return last
	}
	for i := 1; i < last; i++ {
		if c.layers[i].Contains(zoom) {
			return i
		}
	}
	// Unreachable for a validated catalog.
	return last
}

// Resolve returns the layer whose band contains zoom.
func (c *Catalog) Resolve(zoom float64) LayerDescriptor {
	return c.layers[c.IndexFor(zoom)]
}

func (c *Catalog) String() string {
	return fmt.Sprintf("catalog(%d layers)", len(c.layers))
}
