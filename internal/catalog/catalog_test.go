package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_Bands(t *testing.T) {
	c := Default()

	tests := []struct {
		zoom float64
		want string
	}{
		{0, "utla"},
		{1, "utla"},
		{4.9, "utla"},
		{6.999, "utla"},
		{7, "ltla"},
		{7.5, "ltla"},
		{8.499, "ltla"},
		{8.5, "msoa"},
		{9, "msoa"},
		{15.499, "msoa"},
		{15.5, "msoa"},
		{22, "msoa"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Resolve(tt.zoom).ID, "zoom %g", tt.zoom)
	}
}

func TestResolve_ExactlyOneBandPerZoom(t *testing.T) {
	c := Default()
	layers := c.Layers()

	for z := layers[0].MinZoom; z < layers[len(layers)-1].MaxZoom; z += 0.05 {
		matches := 0
		for _, l := range layers {
			if l.Contains(z) {
				matches++
			}
		}
		require.Equal(t, 1, matches, "zoom %g", z)
		assert.True(t, c.Resolve(z).Contains(z), "zoom %g", z)
	}
}

func TestValidate_RejectsGapsAndOverlaps(t *testing.T) {
	base := DefaultLayers("")

	gap := DefaultLayers("")
	gap[1].MinZoom = 7.5
	_, err := New(gap)
	assert.ErrorContains(t, err, "gap")

	overlap := DefaultLayers("")
	overlap[1].MinZoom = 6
	_, err = New(overlap)
	assert.ErrorContains(t, err, "overlaps")

	empty := DefaultLayers("")
	empty[2].Buckets.Steps = nil
	_, err = New(empty)
	assert.ErrorContains(t, err, "no colour buckets")

	dup := append(base[:2:2], base[1])
	_, err = New(dup)
	assert.Error(t, err)
}

func TestNew_OrdersByZoom(t *testing.T) {
	layers := DefaultLayers("")
	layers[0], layers[2] = layers[2], layers[0]
	c, err := New(layers)
	require.NoError(t, err)
	assert.Equal(t, "utla", c.Coarsest().ID)
	assert.Equal(t, "msoa", c.Finest().ID)
	assert.Equal(t, 1, c.IndexOf("ltla"))
	assert.Equal(t, -1, c.IndexOf("nation"))
	assert.True(t, c.IsFinest("msoa"))
}

func TestBuckets(t *testing.T) {
	b := Default().Finest().Buckets

	flat := b.Flatten()
	require.Len(t, flat, 13)
	assert.Equal(t, ScaleColours[0], flat[0])
	assert.Equal(t, 10.0, flat[1])
	assert.Equal(t, ScaleColours[6], flat[12])

	assert.Equal(t, ScaleColours[0], b.ColorFor(0))
	assert.Equal(t, ScaleColours[0], b.ColorFor(9.9))
	assert.Equal(t, ScaleColours[1], b.ColorFor(10))
	assert.Equal(t, ScaleColours[6], b.ColorFor(5000))
}

func TestDescriptorIDs(t *testing.T) {
	l, ok := Default().Layer("ltla")
	require.True(t, ok)
	assert.Equal(t, "timeSeries-ltla", l.ChoroplethSourceID())
	assert.Equal(t, "geo-ltla", l.OutlineSourceID())
	assert.Equal(t, "ltla", l.OutlineLayerID())
	assert.Equal(t, "choropleth-ltla", l.ChoroplethLayerID())
	assert.Equal(t, "ltla-click", l.ClickLayerID())
	assert.Contains(t, l.GeometryURL(Mobile), "-mobile.geojson")
	assert.NotContains(t, l.GeometryURL(Desktop), "-mobile")
}

func TestLoad_YAMLRoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Layers(), c.Layers())
}

func TestLoad_EmptyPathIsDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())
}
