package catalog

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DefaultCDN hosts the published map layers.
const DefaultCDN = "coronavirus.data.gov.uk"

// ScaleColours is the shared seven-step case-rate palette.
var ScaleColours = []string{
	"#e0e543",
	"#74bb68",
	"#399384",
	"#2067ab",
	"#2c2f83",
	"#6b007a",
	"#3b0040",
}

func caseRateBuckets() Buckets {
	thresholds := []float64{10, 50, 100, 200, 400, 800}
	steps := make([]ColorStep, len(thresholds))
	for i, t := range thresholds {
		steps[i] = ColorStep{Threshold: t, Color: ScaleColours[i+1]}
	}
	return Buckets{Base: ScaleColours[0], Steps: steps}
}

func paths(cdn, id string) Paths {
	base := "https://" + cdn + "/downloads/maps/"
	return Paths{
		TimeSeries:       base + id + "_data_latest.geojson",
		TimeSeriesMobile: base + id + "_data_latest-mobile.geojson",
		Outline:          base + id + "-ref.geojson",
	}
}

// DefaultLayers returns the UTLA / LTLA / MSOA table served from cdn.
func DefaultLayers(cdn string) []LayerDescriptor {
	if cdn == "" {
		cdn = DefaultCDN
	}
	return []LayerDescriptor{
		{
			ID: "utla", DisplayName: "UTLA", Paths: paths(cdn, "utla"),
			Foreground: "building", Tolerance: .25, Buffer: 32,
			MinZoom: 1, MaxZoom: 7, Buckets: caseRateBuckets(),
		},
		{
			ID: "ltla", DisplayName: "LTLA", Paths: paths(cdn, "ltla"),
			Foreground: "utla", Tolerance: .4, Buffer: 32,
			MinZoom: 7, MaxZoom: 8.5, Buckets: caseRateBuckets(),
		},
		{
			ID: "msoa", DisplayName: "MSOA", Paths: paths(cdn, "msoa"),
			Foreground: "ltla", Tolerance: .5, Buffer: 32,
			MinZoom: 8.5, MaxZoom: 15.5, Buckets: caseRateBuckets(),
		},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return MustNew(DefaultLayers(DefaultCDN))
}

// File is the on-disk catalog format.
type File struct {
	Layers []LayerDescriptor `yaml:"layers"`
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "catalog: parse yaml")
	}
	for i := range f.Layers {
		f.Layers[i].ID = strings.TrimSpace(f.Layers[i].ID)
	}
	return New(f.Layers)
}

// Load reads a YAML catalog file. An empty path yields Default().
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}
	return Parse(data)
}

// Marshal encodes a catalog as YAML.
func Marshal(c *Catalog) ([]byte, error) {
	out, err := yaml.Marshal(File{Layers: c.Layers()})
	if err != nil {
		return nil, eris.Wrap(err, "catalog: marshal yaml")
	}
	return out, nil
}
