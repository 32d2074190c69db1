// Package mapctl holds the state machines behind the interactive case map:
// level-of-detail switching, the date filter, click selection and the
// MapController that composes them with area detail and postcode lookup.
//
// Every method is a state transition invoked from a single event loop;
// nothing here locks. Asynchronous lookups post their completions back
// through a Dispatcher and are applied only while still current.
package mapctl

import (
	"github.com/paulmach/orb"

	"github.com/joeblew999/casemap/internal/catalog"
)

// ViewportState is the camera and readiness state of one mounted map.
// ActiveLayer is derived from Zoom, or pinned to the finest layer by a
// postcode lookup.
type ViewportState struct {
	Zoom        float64         `json:"zoom"`
	Bounds      orb.Bound       `json:"-"`
	ActiveLayer int             `json:"activeLayer"`
	Date        string          `json:"date"`
	MapReady    bool            `json:"mapReady"`
	StyleLoaded bool            `json:"styleLoaded"`
	Variant     catalog.Variant `json:"variant"`
	Pinned      bool            `json:"pinned"`
}

// FeatureRef identifies one feature of one outline source. The source is
// part of the identity: the same area has different ids per level.
type FeatureRef struct {
	SourceID  string `json:"source"`
	FeatureID int    `json:"id"`
}

// SelectionState is the clicked or pinned area.
type SelectionState struct {
	AreaCode    string      `json:"areaCode"`
	AreaType    string      `json:"areaType"`
	Highlight   *FeatureRef `json:"highlight,omitempty"`
	InfoVisible bool        `json:"infoVisible"`
}

// Capabilities reports what the client can render.
type Capabilities struct {
	WebGL  bool `json:"webgl"`
	Mobile bool `json:"mobile"`
}

// Variant picks the geometry payload for the client.
func (c Capabilities) Variant() catalog.Variant {
	if c.Mobile {
		return catalog.Mobile
	}
	return catalog.Desktop
}
