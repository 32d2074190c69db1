package export

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/geodata"
)

const dated = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"code":"A","date":"2021-01-03","value":60},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
 {"type":"Feature","properties":{"code":"B","date":"2021-01-03","value":null},"geometry":{"type":"Polygon","coordinates":[[[2,0],[3,0],[3,1],[2,1],[2,0]]]}},
 {"type":"Feature","properties":{"code":"A","date":"2021-01-02","value":900},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}}
]}`

const outlines = `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":{"code":"A"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
 {"type":"Feature","properties":{"code":"B"},"geometry":{"type":"Polygon","coordinates":[[[2,0],[3,0],[3,1],[2,1],[2,0]]]}}
]}`

func testFrame(t *testing.T) Frame {
	t.Helper()
	ch, err := geodata.Parse("timeSeries-utla", []byte(dated))
	require.NoError(t, err)
	ol, err := geodata.Parse("geo-utla", []byte(outlines))
	require.NoError(t, err)
	return Frame{
		Date:       "2021-01-03T00:00:00Z",
		Layer:      catalog.Default().Coarsest(),
		Choropleth: ch,
		Outline:    ol,
		Highlight:  "A",
	}
}

func hex(r, g, b uint32) string {
	const digits = "0123456789abcdef"
	out := []byte{'#'}
	for _, c := range []uint32{r >> 8, g >> 8, b >> 8} {
		out = append(out, digits[c>>4], digits[c&0xf])
	}
	return string(out)
}

func TestRender_ColoursByBucketForDate(t *testing.T) {
	img, err := New(300, 100).Render(testFrame(t))
	require.NoError(t, err)

	r, g, b, _ := img.At(50, 50).RGBA()
	assert.Equal(t, catalog.ScaleColours[2], hex(r, g, b), "60 falls in the 50 bucket on the selected date")

	r, g, b, _ = img.At(250, 50).RGBA()
	assert.Equal(t, "#ffffff", hex(r, g, b), "missing value drawn as no data")
}

func TestRender_ViewportClips(t *testing.T) {
	f := testFrame(t)
	f.Viewport = orb.Bound{Min: orb.Point{1.8, -0.2}, Max: orb.Point{3.2, 1.2}}
	img, err := New(100, 100).Render(f)
	require.NoError(t, err)

	r, g, b, _ := img.At(50, 50).RGBA()
	assert.Equal(t, "#ffffff", hex(r, g, b))
}

func TestExport_EncodesPNG(t *testing.T) {
	out, err := New(120, 40).Export(testFrame(t))
	require.NoError(t, err)
	assert.Equal(t, "cases_2021-01-03.png", out.Filename)

	decoded, err := png.Decode(bytes.NewReader(out.PNG))
	require.NoError(t, err)
	assert.Equal(t, 120, decoded.Bounds().Dx())
	assert.True(t, strings.HasPrefix(out.DataURL(), "data:image/png;base64,"))
}

func TestRender_EmptyFrame(t *testing.T) {
	_, err := New(10, 10).Render(Frame{})
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "cases_2021-02-01.png", Filename("2021-02-01"))
}
