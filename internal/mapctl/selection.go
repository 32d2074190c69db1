package mapctl

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/engine"
	"github.com/joeblew999/casemap/internal/geodata"
)

// Selection fit parameters.
const (
	FitPaddingPx    = 20
	FitZoomAboveMin = 0.5
)

var (
	hoverOn  = engine.FeatureState{"hover": true}
	hoverOff = engine.FeatureState{"hover": false}
)

// SelectionController owns the selected area and the single highlighted
// outline feature.
type SelectionController struct {
	adapter *engine.Adapter
	state   SelectionState
}

// NewSelectionController creates a controller over adapter.
func NewSelectionController(adapter *engine.Adapter) *SelectionController {
	return &SelectionController{adapter: adapter}
}

// State returns a copy of the selection.
func (s *SelectionController) State() SelectionState {
	st := s.state
	if st.Highlight != nil {
		h := *st.Highlight
		st.Highlight = &h
	}
	return st
}

// Click selects the clicked feature of layer: highlight its outline
// feature, show the info panel and fit the camera to it without zooming
// out. It returns false when the click carries no feature.
func (s *SelectionController) Click(ctx context.Context, ev engine.ClickEvent, layer catalog.LayerDescriptor, zoom float64) bool {
	if ev.Feature == nil {
		return false
	}
	outline := s.outlineFeature(ctx, layer, *ev.Feature)

	s.highlight(FeatureRef{SourceID: layer.OutlineSourceID(), FeatureID: outline.ID})
	s.state.AreaCode = ev.Feature.Code
	s.state.AreaType = layer.ID
	s.state.InfoVisible = true

	s.adapter.FitBounds(outline.Bound, engine.FitOptions{
		PaddingPx:    FitPaddingPx,
		MinZoomFloor: math.Max(zoom, layer.MinZoom+FitZoomAboveMin),
	})
	return true
}

// Pin selects code on layer without moving the camera.
func (s *SelectionController) Pin(ctx context.Context, layer catalog.LayerDescriptor, code string) {
	if f, ok := s.findByCode(ctx, layer, code); ok {
		s.highlight(FeatureRef{SourceID: layer.OutlineSourceID(), FeatureID: f.ID})
	} else {
		s.Clear()
	}
	s.state.AreaCode = code
	s.state.AreaType = layer.ID
	s.state.InfoVisible = true
}

// FollowLayer moves the selection to layer after a level change: the area
// type follows, the highlight is cleared and the info panel hidden.
func (s *SelectionController) FollowLayer(layer catalog.LayerDescriptor) {
	s.Clear()
	s.state.AreaType = layer.ID
	s.state.InfoVisible = false
}

// Clear removes the highlight.
func (s *SelectionController) Clear() {
	if s.state.Highlight == nil {
		return
	}
	prev := *s.state.Highlight
	s.adapter.SetFeatureState(prev.SourceID, prev.FeatureID, hoverOff)
	s.state.Highlight = nil
}

// Close hides the info panel; the selection and highlight stay.
func (s *SelectionController) Close() {
	s.state.InfoVisible = false
}

// Restore re-applies the highlight after a style reload dropped feature state.
func (s *SelectionController) Restore() {
	if h := s.state.Highlight; h != nil {
		s.adapter.SetFeatureState(h.SourceID, h.FeatureID, hoverOn)
	}
}

func (s *SelectionController) highlight(ref FeatureRef) {
	if h := s.state.Highlight; h != nil && *h == ref {
		return
	}
	s.Clear()
	s.adapter.SetFeatureState(ref.SourceID, ref.FeatureID, hoverOn)
	s.state.Highlight = &ref
}

// outlineFeature finds the outline feature sharing clicked's code, falling
// back to the clicked feature itself.
func (s *SelectionController) outlineFeature(ctx context.Context, layer catalog.LayerDescriptor, clicked geodata.Feature) geodata.Feature {
	if f, ok := s.findByCode(ctx, layer, clicked.Code); ok {
		return f
	}
	return clicked
}

func (s *SelectionController) findByCode(ctx context.Context, layer catalog.LayerDescriptor, code string) (geodata.Feature, bool) {
	if code == "" {
		return geodata.Feature{}, false
	}
	hit, ok, err := s.adapter.FeatureByCode(ctx, layer.OutlineLayerID(), code)
	if err != nil {
		zap.L().Debug("outline lookup failed", zap.String("layer", layer.ID), zap.Error(err))
		return geodata.Feature{}, false
	}
	return hit.Feature, ok
}
