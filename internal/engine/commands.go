package engine

import (
	"encoding/json"

	"github.com/paulmach/orb"
)

// Command is one instruction for the rendering engine. Commands serialize
// to the JSON envelope consumed by the browser bridge: {"op": ..., ...}.
type Command interface {
	Op() string
}

// Predicate is a filter expression in the engine's array syntax.
type Predicate []any

// Eq builds ["==", property, value].
func Eq(property string, value any) Predicate {
	return Predicate{"==", property, value}
}

// FeatureKey addresses one feature of one source for feature state.
type FeatureKey struct {
	Source string `json:"source"`
	ID     int    `json:"id"`
}

// FeatureState is the mutable per-feature rendering state.
type FeatureState map[string]any

// FitOptions controls a bounds fit. MinZoomFloor is handed to the engine
// as the fit's zoom cap so a selection never zooms the camera out.
type FitOptions struct {
	PaddingPx    int     `json:"padding"`
	MinZoomFloor float64 `json:"maxZoom"`
}

// SourceSpec describes a GeoJSON source.
type SourceSpec struct {
	ID         string  `json:"id"`
	Data       string  `json:"data"`
	Buffer     int     `json:"buffer"`
	Tolerance  float64 `json:"tolerance"`
	MaxZoom    float64 `json:"maxzoom"`
	GenerateID bool    `json:"generateId"`
}

// LayerSpec describes a style layer.
type LayerSpec struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Source  string         `json:"source"`
	MinZoom float64        `json:"minzoom"`
	MaxZoom float64        `json:"maxzoom"`
	Layout  map[string]any `json:"layout,omitempty"`
	Paint   map[string]any `json:"paint"`
}

type AddSource struct {
	Source SourceSpec `json:"source"`
}

type AddLayer struct {
	Layer  LayerSpec `json:"layer"`
	Before string    `json:"before,omitempty"`
}

type SetFilter struct {
	LayerID string    `json:"layerId"`
	Filter  Predicate `json:"filter"`
}

type SetFeatureState struct {
	Feature FeatureKey   `json:"feature"`
	State   FeatureState `json:"state"`
}

type FitBounds struct {
	Bounds  [2][2]float64 `json:"bounds"`
	Options FitOptions    `json:"options"`
}

type FlyTo struct {
	Center [2]float64 `json:"center"`
	Zoom   float64    `json:"zoom"`
}

type PlaceMarker struct {
	At [2]float64 `json:"at"`
}

func (AddSource) Op() string       { return "addSource" }
func (AddLayer) Op() string        { return "addLayer" }
func (SetFilter) Op() string       { return "setFilter" }
func (SetFeatureState) Op() string { return "setFeatureState" }
func (FitBounds) Op() string       { return "fitBounds" }
func (FlyTo) Op() string           { return "flyTo" }
func (PlaceMarker) Op() string     { return "placeMarker" }

// BoundsOf converts an orb bound to [[west, south], [east, north]].
func BoundsOf(b orb.Bound) [2][2]float64 {
	return [2][2]float64{{b.Min.X(), b.Min.Y()}, {b.Max.X(), b.Max.Y()}}
}

// LngLat converts an orb point to [lon, lat].
func LngLat(p orb.Point) [2]float64 {
	return [2]float64{p.X(), p.Y()}
}

// Marshal encodes a command with its op tag.
func Marshal(c Command) ([]byte, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	op, _ := json.Marshal(c.Op())
	fields["op"] = op
	return json.Marshal(fields)
}
