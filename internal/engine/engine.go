// Package engine wraps the external map rendering engine behind a small
// command/event adapter.
//
// The engine itself is a capability the server drives, not reimplements:
// a Surface accepts typed commands and the Adapter turns engine callbacks
// (style loaded, zoom, click) into Go callbacks. Every command issued
// before the style has loaded is a no-op, and layer registration is
// idempotent.
package engine

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/geodata"
)

// ErrNotReady is returned by queries made before the style has loaded.
var ErrNotReady = eris.New("engine: style not loaded")

// Surface is the rendering engine capability.
type Surface interface {
	Apply(cmd Command) error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(cmd Command) error

// Apply implements Surface.
func (f SurfaceFunc) Apply(cmd Command) error { return f(cmd) }

// Outlines provides the indexed outline geometry of a layer.
type Outlines interface {
	Outline(ctx context.Context, layerID string) (*geodata.Collection, error)
}

// Query selects features by point or by bound. A zero Bound means point.
type Query struct {
	Point orb.Point
	Bound orb.Bound
}

// AtPoint builds a point query.
func AtPoint(p orb.Point) Query { return Query{Point: p} }

// InBound builds a bbox query.
func InBound(b orb.Bound) Query { return Query{Bound: b} }

func (q Query) isBound() bool { return !q.Bound.IsZero() }

// Hit is a feature returned by a query, tagged with the layer it was found on.
type Hit struct {
	LayerID  string
	SourceID string
	Feature  geodata.Feature
}

// ClickEvent is a click delivered on one layer. Feature is set when the
// engine already hit-tested the click; otherwise the adapter resolves it.
type ClickEvent struct {
	LayerID string
	Point   orb.Point
	Feature *geodata.Feature
}

// Adapter drives a Surface. It is not safe for concurrent use; all calls
// are expected from the owning session's event loop.
type Adapter struct {
	surface  Surface
	outlines Outlines

	styleLoaded bool
	styleLoads  int

	registered  map[string]bool
	byLayerID   map[string]catalog.LayerDescriptor
	choropleths []string

	styleCallbacks []func()
	clickCallbacks map[string][]func(ClickEvent)
	zoomCallbacks  []func(float64)
}

// New initializes an adapter over surface.
func New(surface Surface, outlines Outlines) *Adapter {
	return &Adapter{
		surface:        surface,
		outlines:       outlines,
		registered:     make(map[string]bool),
		byLayerID:      make(map[string]catalog.LayerDescriptor),
		clickCallbacks: make(map[string][]func(ClickEvent)),
	}
}

// Ready reports whether the style has loaded.
func (a *Adapter) Ready() bool { return a.styleLoaded }

// StyleLoads counts style loads seen so far.
func (a *Adapter) StyleLoads() int { return a.styleLoads }

// OnStyleLoaded registers cb to run once per style (re)load.
func (a *Adapter) OnStyleLoaded(cb func()) {
	a.styleCallbacks = append(a.styleCallbacks, cb)
}

// OnClick registers cb for clicks on layerID.
func (a *Adapter) OnClick(layerID string, cb func(ClickEvent)) {
	a.clickCallbacks[layerID] = append(a.clickCallbacks[layerID], cb)
}

// OnZoomChange registers cb for zoom changes.
func (a *Adapter) OnZoomChange(cb func(float64)) {
	a.zoomCallbacks = append(a.zoomCallbacks, cb)
}

// StyleLoaded is the engine's style-loaded signal.
func (a *Adapter) StyleLoaded() {
	a.styleLoaded = true
	a.styleLoads++
	for _, cb := range a.styleCallbacks {
		cb()
	}
}

// Zoom is the engine's zoom signal.
func (a *Adapter) Zoom(z float64) {
	if !a.styleLoaded {
		return
	}
	for _, cb := range a.zoomCallbacks {
		cb(z)
	}
}

// Click is the engine's click signal. Clicks without a hit-tested feature
// are resolved against the outline index; clicks that hit nothing are dropped.
func (a *Adapter) Click(ctx context.Context, ev ClickEvent) {
	if !a.styleLoaded {
		return
	}
	cbs := a.clickCallbacks[ev.LayerID]
	if len(cbs) == 0 {
		return
	}
	if ev.Feature == nil {
		hits, err := a.QueryFeaturesAt(ctx, []string{ev.LayerID}, AtPoint(ev.Point))
		if err != nil || len(hits) == 0 {
			return
		}
		f := hits[0].Feature
		ev.Feature = &f
	}
	for _, cb := range cbs {
		cb(ev)
	}
}

func (a *Adapter) apply(cmd Command) bool {
	if !a.styleLoaded {
		return false
	}
	if err := a.surface.Apply(cmd); err != nil {
		zap.L().Warn("engine command failed", zap.String("op", cmd.Op()), zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) addSource(s SourceSpec) {
	if a.registered["source:"+s.ID] {
		return
	}
	if a.apply(AddSource{Source: s}) {
		a.registered["source:"+s.ID] = true
	}
}

func (a *Adapter) addLayer(l LayerSpec, before string) bool {
	if a.registered["layer:"+l.ID] {
		return false
	}
	if a.apply(AddLayer{Layer: l, Before: before}) {
		a.registered["layer:"+l.ID] = true
		return true
	}
	return false
}

// RegisterLayer adds the geometry source, outline source, outline stroke,
// choropleth fill and invisible hit-test layers of d. Already registered
// ids are skipped.
func (a *Adapter) RegisterLayer(d catalog.LayerDescriptor, v catalog.Variant) bool {
	if !a.styleLoaded {
		return false
	}

	a.addSource(SourceSpec{
		ID: d.ChoroplethSourceID(), Data: d.GeometryURL(v),
		Buffer: d.Buffer, Tolerance: d.Tolerance, MaxZoom: d.MaxZoom,
	})
	a.addSource(SourceSpec{
		ID: d.OutlineSourceID(), Data: d.Paths.Outline,
		Buffer: d.Buffer, Tolerance: d.Tolerance, MaxZoom: d.MaxZoom,
		GenerateID: true,
	})

	a.addLayer(LayerSpec{
		ID: d.OutlineLayerID(), Type: "line", Source: d.OutlineSourceID(),
		MinZoom: d.MinZoom, MaxZoom: d.MaxZoom,
		Layout: map[string]any{"line-join": "round", "line-cap": "round"},
		Paint: map[string]any{
			"line-color": "#000000",
			"line-width": []any{
				"case",
				[]any{"boolean", []any{"feature-state", "hover"}, false},
				3,
				.1,
			},
		},
	}, d.Foreground)

	if a.addLayer(LayerSpec{
		ID: d.ChoroplethLayerID(), Type: "fill", Source: d.ChoroplethSourceID(),
		MinZoom: d.MinZoom, MaxZoom: d.MaxZoom,
		Paint: map[string]any{
			"fill-color":     append([]any{"step", []any{"get", geodata.PropValue}}, d.Buckets.Flatten()...),
			"fill-opacity":   1,
			"fill-antialias": true,
		},
	}, d.OutlineLayerID()) {
		a.choropleths = append(a.choropleths, d.ChoroplethLayerID())
	}

	a.addLayer(LayerSpec{
		ID: d.ClickLayerID(), Type: "fill", Source: d.OutlineSourceID(),
		MinZoom: d.MinZoom, MaxZoom: d.MaxZoom,
		Paint: map[string]any{
			"fill-color":   "#ffffff",
			"fill-opacity": .001,
		},
	}, d.ChoroplethLayerID())

	a.byLayerID[d.OutlineLayerID()] = d
	a.byLayerID[d.ClickLayerID()] = d
	return true
}

// Registered reports whether a layer or source id has been registered.
func (a *Adapter) Registered(id string) bool {
	return a.registered["layer:"+id] || a.registered["source:"+id]
}

// ChoroplethLayers lists registered choropleth layer ids in registration order.
func (a *Adapter) ChoroplethLayers() []string {
	out := make([]string, len(a.choropleths))
	copy(out, a.choropleths)
	return out
}

// SetFilter sets a layer filter.
func (a *Adapter) SetFilter(layerID string, p Predicate) bool {
	return a.apply(SetFilter{LayerID: layerID, Filter: p})
}

// SetFeatureState writes feature state.
func (a *Adapter) SetFeatureState(sourceID string, featureID int, state FeatureState) bool {
	return a.apply(SetFeatureState{Feature: FeatureKey{Source: sourceID, ID: featureID}, State: state})
}

// FitBounds moves the camera to fit b.
func (a *Adapter) FitBounds(b orb.Bound, opts FitOptions) bool {
	return a.apply(FitBounds{Bounds: BoundsOf(b), Options: opts})
}

// FlyTo animates the camera to center at zoom.
func (a *Adapter) FlyTo(center orb.Point, zoom float64) bool {
	return a.apply(FlyTo{Center: LngLat(center), Zoom: zoom})
}

// PlaceMarker drops the location marker at p.
func (a *Adapter) PlaceMarker(p orb.Point) bool {
	return a.apply(PlaceMarker{At: LngLat(p)})
}

func (a *Adapter) outlineFor(ctx context.Context, layerID string) (catalog.LayerDescriptor, *geodata.Collection, error) {
	d, ok := a.byLayerID[layerID]
	if !ok {
		return d, nil, eris.Errorf("engine: layer %q is not queryable", layerID)
	}
	if a.outlines == nil {
		return d, nil, eris.New("engine: no outline index")
	}
	c, err := a.outlines.Outline(ctx, d.ID)
	return d, c, err
}

// QueryFeaturesAt hit-tests registered outline-backed layers.
func (a *Adapter) QueryFeaturesAt(ctx context.Context, layerIDs []string, q Query) ([]Hit, error) {
	if !a.styleLoaded {
		return nil, ErrNotReady
	}
	var hits []Hit
	for _, id := range layerIDs {
		d, c, err := a.outlineFor(ctx, id)
		if err != nil {
			return nil, err
		}
		var found []geodata.Feature
		if q.isBound() {
			found = c.Within(q.Bound)
		} else {
			found = c.At(q.Point)
		}
		for _, f := range found {
			hits = append(hits, Hit{LayerID: id, SourceID: d.OutlineSourceID(), Feature: f})
		}
	}
	return hits, nil
}

// FeatureByCode looks up the outline feature with area code code through
// the collection's code index.
func (a *Adapter) FeatureByCode(ctx context.Context, layerID, code string) (Hit, bool, error) {
	if !a.styleLoaded {
		return Hit{}, false, ErrNotReady
	}
	d, c, err := a.outlineFor(ctx, layerID)
	if err != nil {
		return Hit{}, false, err
	}
	f, ok := c.ByCode(code)
	if !ok {
		return Hit{}, false, nil
	}
	return Hit{LayerID: layerID, SourceID: d.OutlineSourceID(), Feature: f}, true, nil
}

// QueryRendered returns every feature of an outline-backed layer.
func (a *Adapter) QueryRendered(ctx context.Context, layerID string) ([]Hit, error) {
	if !a.styleLoaded {
		return nil, ErrNotReady
	}
	d, c, err := a.outlineFor(ctx, layerID)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, c.Len())
	for _, f := range c.Features() {
		hits = append(hits, Hit{LayerID: layerID, SourceID: d.OutlineSourceID(), Feature: f})
	}
	return hits, nil
}
