// Package export renders the current map frame to a PNG image.
package export

import (
	"bytes"
	"encoding/base64"
	"image"
	"math"

	"github.com/fogleman/gg"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/geodata"
	"github.com/joeblew999/casemap/internal/legend"
)

// ErrEmptyFrame is returned when there is nothing to draw.
var ErrEmptyFrame = eris.New("export: empty frame")

// Frame is everything visible at the moment of export.
type Frame struct {
	Date     string
	Viewport orb.Bound
	Layer    catalog.LayerDescriptor
	// Choropleth holds the dated features of the active layer.
	Choropleth *geodata.Collection
	// Outline is drawn over the fills when set.
	Outline *geodata.Collection
	// Highlight is the code of the highlighted outline feature, if any.
	Highlight string
}

// Image is an encoded export.
type Image struct {
	Filename string
	PNG      []byte
}

// DataURL returns the image as a data: URL.
func (i Image) DataURL() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(i.PNG)
}

// Filename is the download name for date.
func Filename(date string) string {
	return "cases_" + geodata.DayOf(date) + ".png"
}

// Exporter draws frames at a fixed canvas size.
type Exporter struct {
	Width, Height int
	Background    string
	OutlineColor  string
	HighlightLine float64
}

// New returns an exporter with the default style.
func New(width, height int) *Exporter {
	return &Exporter{
		Width:         width,
		Height:        height,
		Background:    "#f3f2f1",
		OutlineColor:  "#0b0c0c",
		HighlightLine: 3,
	}
}

// Export renders and encodes f.
func (e *Exporter) Export(f Frame) (Image, error) {
	img, err := e.Render(f)
	if err != nil {
		return Image{}, err
	}
	var buf bytes.Buffer
	dc := gg.NewContextForImage(img)
	if err := dc.EncodePNG(&buf); err != nil {
		return Image{}, eris.Wrap(err, "export: encode png")
	}
	return Image{Filename: Filename(f.Date), PNG: buf.Bytes()}, nil
}

// Render draws f: choropleth fills for the frame date coloured by bucket,
// then outlines, then the highlight.
func (e *Exporter) Render(f Frame) (image.Image, error) {
	if f.Choropleth == nil || (f.Choropleth.Len() == 0 && (f.Outline == nil || f.Outline.Len() == 0)) {
		return nil, ErrEmptyFrame
	}
	view := f.Viewport
	if view.IsZero() {
		view = f.Choropleth.Bound()
		if f.Outline != nil {
			view = view.Union(f.Outline.Bound())
		}
	}
	proj := newProjection(view, e.Width, e.Height)

	dc := gg.NewContext(e.Width, e.Height)
	dc.SetHexColor(e.Background)
	dc.Clear()
	dc.SetFillRuleEvenOdd()

	day := geodata.DayOf(f.Date)
	for _, feat := range f.Choropleth.OnDate(day) {
		if !feat.Intersects(view) {
			continue
		}
		color := legend.NoDataColor
		if feat.Value != nil {
			color = f.Layer.Buckets.ColorFor(*feat.Value)
		}
		trace(dc, proj, feat.Geometry)
		dc.SetHexColor(color)
		dc.Fill()
	}

	if f.Outline != nil {
		dc.SetHexColor(e.OutlineColor)
		dc.SetLineWidth(0.5)
		for _, feat := range f.Outline.Within(view) {
			trace(dc, proj, feat.Geometry)
			dc.Stroke()
		}
		if f.Highlight != "" {
			if feat, ok := f.Outline.ByCode(f.Highlight); ok {
				dc.SetLineWidth(e.HighlightLine)
				trace(dc, proj, feat.Geometry)
				dc.Stroke()
			}
		}
	}
	return dc.Image(), nil
}

// projection maps lon/lat to canvas pixels through Web Mercator, fitting
// the view bound inside the canvas with its aspect ratio kept.
type projection struct {
	min        orb.Point
	scale      float64
	offX, offY float64
	height     float64
}

func newProjection(view orb.Bound, width, height int) projection {
	lo := project.Point(view.Min, project.WGS84.ToMercator)
	hi := project.Point(view.Max, project.WGS84.ToMercator)
	w, h := hi[0]-lo[0], hi[1]-lo[1]
	scale := 1.0
	if w > 0 && h > 0 {
		scale = math.Min(float64(width)/w, float64(height)/h)
	}
	return projection{
		min:    lo,
		scale:  scale,
		offX:   (float64(width) - w*scale) / 2,
		offY:   (float64(height) - h*scale) / 2,
		height: float64(height),
	}
}

func (p projection) xy(pt orb.Point) (float64, float64) {
	m := project.Point(pt, project.WGS84.ToMercator)
	x := (m[0]-p.min[0])*p.scale + p.offX
	y := p.height - ((m[1]-p.min[1])*p.scale + p.offY)
	return x, y
}

func trace(dc *gg.Context, p projection, g orb.Geometry) {
	switch g := g.(type) {
	case orb.Polygon:
		tracePolygon(dc, p, g)
	case orb.MultiPolygon:
		for _, poly := range g {
			tracePolygon(dc, p, poly)
		}
	case orb.Bound:
		tracePolygon(dc, p, g.ToPolygon())
	}
}

func tracePolygon(dc *gg.Context, p projection, poly orb.Polygon) {
	for _, ring := range poly {
		for i, pt := range ring {
			x, y := p.xy(pt)
			if i == 0 {
				dc.MoveTo(x, y)
				continue
			}
			dc.LineTo(x, y)
		}
		dc.ClosePath()
		dc.NewSubPath()
	}
}
