package mapctl

import (
	"github.com/joeblew999/casemap/internal/engine"
	"github.com/joeblew999/casemap/internal/geodata"
)

// DateFilterController filters every registered choropleth layer to one
// reporting day. A date set before the style loads is kept and applied on
// the next style load; only the latest such date survives.
type DateFilterController struct {
	adapter *engine.Adapter
	date    string
	pending bool
}

// NewDateFilterController creates a controller over adapter.
func NewDateFilterController(adapter *engine.Adapter) *DateFilterController {
	return &DateFilterController{adapter: adapter}
}

// Date returns the last requested day.
func (d *DateFilterController) Date() string { return d.date }

// Pending reports whether the last date is waiting for the style to load.
func (d *DateFilterController) Pending() bool { return d.pending }

// Predicate returns the filter for day.
func Predicate(day string) engine.Predicate {
	return engine.Eq(geodata.PropDate, day)
}

// SetDate records date (time part stripped) and applies it when ready.
func (d *DateFilterController) SetDate(date string) {
	d.date = geodata.DayOf(date)
	d.apply()
}

// StyleLoaded re-applies the current date to the layers now registered.
func (d *DateFilterController) StyleLoaded() {
	d.apply()
}

func (d *DateFilterController) apply() {
	if d.date == "" {
		return
	}
	if !d.adapter.Ready() {
		d.pending = true
		return
	}
	p := Predicate(d.date)
	for _, id := range d.adapter.ChoroplethLayers() {
		d.adapter.SetFilter(id, p)
	}
	d.pending = false
}
