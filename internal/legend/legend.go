// Package legend builds the colour key for the active map layer.
package legend

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joeblew999/casemap/internal/catalog"
)

// Title heads every legend.
const Title = "Case rate"

// NoDataColor and NoDataLabel form the fixed first row.
const (
	NoDataColor = "#fff"
	NoDataLabel = "Data not shown"
)

// Row is one legend entry.
type Row struct {
	Color string `json:"color" doc:"Swatch colour"`
	Label string `json:"label" doc:"Value range" example:"10 – 49"`
}

// Legend is the colour key of one layer.
type Legend struct {
	LayerID string `json:"layerId"`
	Title   string `json:"title"`
	Rows    []Row  `json:"rows"`
}

var printer = message.NewPrinter(language.English)

// Build returns the legend for d. Each threshold row shows the colour below
// that threshold, labelled from the previous threshold (0 for the first row)
// to threshold-1; the final row is the last threshold and above.
func Build(d catalog.LayerDescriptor) Legend {
	steps := d.Buckets.Steps
	rows := make([]Row, 0, len(steps)+2)
	rows = append(rows, Row{Color: NoDataColor, Label: NoDataLabel})

	prevColor, prevThreshold := d.Buckets.Base, 0.0
	for i, s := range steps {
		from := prevThreshold
		if i == 0 {
			from = 0
		}
		rows = append(rows, Row{Color: prevColor, Label: format(from) + " – " + format(s.Threshold-1)})
		prevColor, prevThreshold = s.Color, s.Threshold
	}

	if len(steps) == 0 {
		rows = append(rows, Row{Color: d.Buckets.Base, Label: "0+"})
	} else {
		last := steps[len(steps)-1]
		rows = append(rows, Row{Color: last.Color, Label: format(last.Threshold) + "+"})
	}
	return Legend{LayerID: d.ID, Title: Title, Rows: rows}
}

func format(v float64) string {
	if v == math.Trunc(v) {
		return printer.Sprintf("%d", int64(v))
	}
	return printer.Sprintf("%.1f", v)
}
