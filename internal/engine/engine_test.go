package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/geodata"
)

type outlineSet map[string]*geodata.Collection

func (o outlineSet) Outline(_ context.Context, layerID string) (*geodata.Collection, error) {
	c, ok := o[layerID]
	if !ok {
		return nil, eris.Errorf("no outline for %s", layerID)
	}
	return c, nil
}

const squares = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"code":"A"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
 {"type":"Feature","properties":{"code":"B"},"geometry":{"type":"Polygon","coordinates":[[[2,0],[3,0],[3,1],[2,1],[2,0]]]}}
]}`

func newTestAdapter(t *testing.T) (*Adapter, *Recorder, *catalog.Catalog) {
	t.Helper()
	cat := catalog.Default()
	outlines := outlineSet{}
	for _, l := range cat.Layers() {
		c, err := geodata.Parse(l.OutlineSourceID(), []byte(squares))
		require.NoError(t, err)
		outlines[l.ID] = c
	}
	rec := NewRecorder(nil)
	return New(rec, outlines), rec, cat
}

func TestAdapter_CommandsBeforeStyleLoadAreNoops(t *testing.T) {
	a, rec, cat := newTestAdapter(t)

	assert.False(t, a.RegisterLayer(cat.Coarsest(), catalog.Desktop))
	assert.False(t, a.SetFilter("choropleth-utla", Eq("date", "2021-01-01")))
	assert.False(t, a.SetFeatureState("geo-utla", 1, FeatureState{"hover": true}))
	assert.False(t, a.FitBounds(orb.Bound{Max: orb.Point{1, 1}}, FitOptions{}))
	assert.False(t, a.FlyTo(orb.Point{0, 51}, 12.5))
	assert.False(t, a.PlaceMarker(orb.Point{0, 51}))
	_, err := a.QueryRendered(context.Background(), "utla")
	assert.True(t, eris.Is(err, ErrNotReady))

	assert.Empty(t, rec.Commands())

	a.StyleLoaded()
	assert.True(t, a.FlyTo(orb.Point{0, 51}, 12.5))
	assert.Equal(t, []string{"flyTo"}, rec.Ops())
}

func TestAdapter_RegisterLayerIsIdempotent(t *testing.T) {
	a, rec, cat := newTestAdapter(t)
	a.OnStyleLoaded(func() {
		for _, l := range cat.Layers() {
			a.RegisterLayer(l, catalog.Desktop)
		}
	})

	a.StyleLoaded()
	first := len(rec.Commands())
	assert.Equal(t, 3*(2+3), first, "two sources and three layers per LOD")

	a.StyleLoaded()
	assert.Len(t, rec.Commands(), first, "reload must not duplicate")
	assert.Equal(t, 2, a.StyleLoads())

	assert.Equal(t, []string{"choropleth-utla", "choropleth-ltla", "choropleth-msoa"}, a.ChoroplethLayers())
	assert.True(t, a.Registered("geo-msoa"))
	assert.True(t, a.Registered("msoa-click"))
}

func TestAdapter_RegisterLayerAnchoring(t *testing.T) {
	a, rec, cat := newTestAdapter(t)
	a.StyleLoaded()
	ltla, _ := cat.Layer("ltla")
	a.RegisterLayer(ltla, catalog.Mobile)

	sources := Of[AddSource](rec)
	require.Len(t, sources, 2)
	assert.Equal(t, "timeSeries-ltla", sources[0].Source.ID)
	assert.Equal(t, ltla.Paths.TimeSeriesMobile, sources[0].Source.Data)
	assert.Equal(t, "geo-ltla", sources[1].Source.ID)
	assert.True(t, sources[1].Source.GenerateID)

	layers := Of[AddLayer](rec)
	require.Len(t, layers, 3)
	assert.Equal(t, "ltla", layers[0].Layer.ID)
	assert.Equal(t, "utla", layers[0].Before)
	assert.Equal(t, "choropleth-ltla", layers[1].Layer.ID)
	assert.Equal(t, "ltla", layers[1].Before)
	assert.Equal(t, "ltla-click", layers[2].Layer.ID)
	assert.Equal(t, "choropleth-ltla", layers[2].Before)

	fill := layers[1].Layer.Paint["fill-color"].([]any)
	assert.Equal(t, "step", fill[0])
	assert.Len(t, fill, 2+13)
}

func TestAdapter_QueryFeatures(t *testing.T) {
	a, _, cat := newTestAdapter(t)
	a.StyleLoaded()
	a.RegisterLayer(cat.Coarsest(), catalog.Desktop)

	hits, err := a.QueryFeaturesAt(context.Background(), []string{"utla-click"}, AtPoint(orb.Point{2.5, 0.5}))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "B", hits[0].Feature.Code)
	assert.Equal(t, "geo-utla", hits[0].SourceID)

	hits, err = a.QueryFeaturesAt(context.Background(), []string{"utla"}, InBound(orb.Bound{Min: orb.Point{0.5, 0}, Max: orb.Point{2.5, 1}}))
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	_, err = a.QueryFeaturesAt(context.Background(), []string{"msoa-click"}, AtPoint(orb.Point{0, 0}))
	assert.Error(t, err, "unregistered layer")

	rendered, err := a.QueryRendered(context.Background(), "utla")
	require.NoError(t, err)
	assert.Len(t, rendered, 2)
}

func TestAdapter_ClickResolvesFeature(t *testing.T) {
	a, _, cat := newTestAdapter(t)
	var got []ClickEvent
	a.OnClick("utla-click", func(ev ClickEvent) { got = append(got, ev) })

	a.Click(context.Background(), ClickEvent{LayerID: "utla-click", Point: orb.Point{0.5, 0.5}})
	assert.Empty(t, got, "clicks before style load are dropped")

	a.StyleLoaded()
	a.RegisterLayer(cat.Coarsest(), catalog.Desktop)
	a.Click(context.Background(), ClickEvent{LayerID: "utla-click", Point: orb.Point{0.5, 0.5}})
	a.Click(context.Background(), ClickEvent{LayerID: "utla-click", Point: orb.Point{10, 10}})
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Feature)
	assert.Equal(t, "A", got[0].Feature.Code)
}

func TestAdapter_ZoomCallbacks(t *testing.T) {
	a, _, _ := newTestAdapter(t)
	var zooms []float64
	a.OnZoomChange(func(z float64) { zooms = append(zooms, z) })
	a.Zoom(5)
	a.StyleLoaded()
	a.Zoom(6)
	assert.Equal(t, []float64{6}, zooms)
}

func TestMarshal_AddsOp(t *testing.T) {
	out, err := Marshal(SetFilter{LayerID: "choropleth-utla", Filter: Eq("date", "2021-01-01")})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "setFilter", decoded["op"])
	assert.Equal(t, "choropleth-utla", decoded["layerId"])
	assert.Equal(t, []any{"==", "date", "2021-01-01"}, decoded["filter"])
}

func TestRecorder_Replay(t *testing.T) {
	a, rec, cat := newTestAdapter(t)
	a.StyleLoaded()
	a.RegisterLayer(cat.Coarsest(), catalog.Desktop)
	a.SetFilter("choropleth-utla", Eq("date", "2021-01-01"))
	a.SetFeatureState("geo-utla", 0, FeatureState{"hover": true})
	a.SetFilter("choropleth-utla", Eq("date", "2021-01-02"))

	replay := rec.Replay()
	require.Len(t, replay, 6)
	last := replay[5].(SetFilter)
	assert.Equal(t, Eq("date", "2021-01-02"), last.Filter)
}

func TestReplayRecorder_KeepsOnlyReplaySet(t *testing.T) {
	var forwarded int
	rec := NewReplayRecorder(func(Command) { forwarded++ })

	src := AddSource{Source: SourceSpec{ID: "geo-utla"}}
	layer := AddLayer{Layer: LayerSpec{ID: "choropleth-utla", Source: "geo-utla"}}
	require.NoError(t, rec.Apply(src))
	require.NoError(t, rec.Apply(layer))
	for i := 0; i < 500; i++ {
		require.NoError(t, rec.Apply(SetFeatureState{Feature: FeatureKey{Source: "geo-utla", ID: i}, State: FeatureState{"hover": true}}))
		require.NoError(t, rec.Apply(FitBounds{Bounds: [2][2]float64{{0, 0}, {1, 1}}}))
		require.NoError(t, rec.Apply(SetFilter{LayerID: "choropleth-utla", Filter: Eq("date", i)}))
		require.NoError(t, rec.Apply(SetFilter{LayerID: "outline-utla", Filter: Eq("code", i)}))
	}
	// A style reload registers the same source again.
	require.NoError(t, rec.Apply(src))

	assert.Equal(t, 2003, forwarded)
	assert.Empty(t, rec.Commands())

	replay := rec.Replay()
	require.Len(t, replay, 4)
	assert.Equal(t, src, replay[0])
	assert.Equal(t, layer, replay[1])
	assert.Equal(t, Eq("date", 499), replay[2].(SetFilter).Filter)
	assert.Equal(t, "outline-utla", replay[3].(SetFilter).LayerID)
	assert.Equal(t, Eq("code", 499), replay[3].(SetFilter).Filter)

	rec.Reset()
	assert.Empty(t, rec.Replay())
}

func TestAdapter_FeatureByCode(t *testing.T) {
	a, _, cat := newTestAdapter(t)
	_, _, err := a.FeatureByCode(context.Background(), "utla", "B")
	assert.True(t, eris.Is(err, ErrNotReady))

	a.StyleLoaded()
	a.RegisterLayer(cat.Coarsest(), catalog.Desktop)

	hit, ok, err := a.FeatureByCode(context.Background(), "utla", "B")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, hit.Feature.ID)
	assert.Equal(t, "geo-utla", hit.SourceID)

	_, ok, err = a.FeatureByCode(context.Background(), "utla", "Z")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = a.FeatureByCode(context.Background(), "msoa", "A")
	assert.Error(t, err, "unregistered layer")
}
