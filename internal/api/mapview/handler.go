// Package mapview serves the interactive map over Datastar SSE.
//
// The browser runs the rendering engine; every engine event is posted to
// the session's event loop, and every engine command and view change comes
// back on the session stream.
package mapview

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/engine"
	"github.com/joeblew999/casemap/internal/export"
	"github.com/joeblew999/casemap/internal/humastar"
	"github.com/joeblew999/casemap/internal/mapctl"
	"github.com/joeblew999/casemap/internal/metrics"
	"github.com/joeblew999/casemap/internal/postcode"
	"github.com/joeblew999/casemap/internal/session"
	"github.com/joeblew999/casemap/internal/templates"
)

// CommandEvent is the DOM event the browser bridge listens for.
const CommandEvent = "casemap-command"

// Fragment targets on the map page.
const (
	LegendSelector   = "#map-legend"
	InfoSelector     = "#map-info"
	FallbackSelector = "#map-fallback"
	PostcodeSelector = "#postcode-status"
)

// DefaultStyleURL is the base map style used when none is configured.
const DefaultStyleURL = "https://demotiles.maplibre.org/style.json"

// PageConfig is the static part of the map page.
type PageConfig struct {
	StyleURL    string
	MinDate     string
	MaxDate     string
	DownloadURL string
	Center      [2]float64
	Zoom        float64
}

// Handler serves the map page, its stream and its event endpoints.
type Handler struct {
	humastar.Handler
	sessions *session.Manager
	page     PageConfig
}

// NewHandler creates a map handler.
func NewHandler(sessions *session.Manager, renderer *templates.Renderer, page PageConfig) *Handler {
	if page.StyleURL == "" {
		page.StyleURL = DefaultStyleURL
	}
	if page.Zoom == 0 {
		page.Zoom = 5
	}
	if page.Center == [2]float64{} {
		page.Center = [2]float64{-2.5, 53.5}
	}
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		page:     page,
	}
}

// Base is the URL prefix of session id.
func Base(id string) string { return "/api/v1/map/" + id }

func (h *Handler) RegisterRoutes(api huma.API) {
	tags := huma.OperationTags("map")
	huma.Post(api, "/api/v1/map/sessions", h.CreateSession, tags)
	huma.Delete(api, "/api/v1/map/{id}", h.CloseSession, tags)
	huma.Get(api, "/api/v1/map/{id}/stream", h.Events, tags)
	huma.Post(api, "/api/v1/map/{id}/capability", h.Capability, tags)
	huma.Post(api, "/api/v1/map/{id}/style-loaded", h.StyleLoaded, tags)
	huma.Post(api, "/api/v1/map/{id}/zoom", h.Zoom, tags)
	huma.Post(api, "/api/v1/map/{id}/click", h.Click, tags)
	huma.Post(api, "/api/v1/map/{id}/date", h.Date, tags)
	huma.Post(api, "/api/v1/map/{id}/postcode", h.Postcode, tags)
	huma.Post(api, "/api/v1/map/{id}/info/close", h.CloseInfo, tags)
	huma.Get(api, "/api/v1/map/{id}/export", h.Export, tags)
}

// ---------------------------------------------------------------------------
// Inputs and outputs
// ---------------------------------------------------------------------------

type SessionInput struct {
	ID string `path:"id" doc:"Map session ID"`
}

type EventInput struct {
	ID      string `path:"id" doc:"Map session ID"`
	RawBody []byte
}

func (i *EventInput) signals() (humastar.Signals, error) {
	in := humastar.SignalsInput{RawBody: i.RawBody}
	return in.MustParse()
}

type SessionBody struct {
	ID     string `json:"id" doc:"Map session ID"`
	Stream string `json:"stream" doc:"Datastar stream URL"`
}

type ExportOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func (h *Handler) session(id string) (*session.Session, error) {
	s, err := h.sessions.Get(id)
	if err != nil {
		if eris.Is(err, session.ErrNotFound) {
			return nil, huma.Error404NotFound("map session not found")
		}
		return nil, huma.Error500InternalServerError("map session lookup failed", err)
	}
	return s, nil
}

func (h *Handler) do(ctx context.Context, id string, fn func(c *mapctl.MapController)) error {
	s, err := h.session(id)
	if err != nil {
		return err
	}
	if err := s.Do(ctx, fn); err != nil {
		if eris.Is(err, session.ErrClosed) {
			return huma.Error410Gone("map session closed")
		}
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Page
// ---------------------------------------------------------------------------

type pageData struct {
	PageConfig
	Base       string
	Signals    string
	ExportName string
}

// Page creates a session and renders the map page for it.
func (h *Handler) Page(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Create()
	if err != nil {
		zap.L().Error("create map session", zap.Error(err))
		http.Error(w, "map unavailable", http.StatusServiceUnavailable)
		return
	}
	v, err := s.View(r.Context())
	if err != nil {
		http.Error(w, "map unavailable", http.StatusServiceUnavailable)
		return
	}

	date := v.Viewport.Date
	if date == "" {
		date = h.sessions.InitialDate()
	}
	signals := viewportSignals(v)
	signals["date"] = date
	signals["exportName"] = export.Filename(date)
	signals["postcode"] = ""
	signals["error"] = ""
	raw, err := json.Marshal(signals)
	if err != nil {
		http.Error(w, "map unavailable", http.StatusInternalServerError)
		return
	}

	out, err := h.Renderer.Render("map-page", pageData{
		PageConfig: h.page,
		Base:       Base(s.ID),
		Signals:    string(raw),
		ExportName: export.Filename(date),
	})
	if err != nil {
		zap.L().Error("render map page", zap.Error(err))
		http.Error(w, "map unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out)) //nolint:errcheck
}

// ---------------------------------------------------------------------------
// Sessions and stream
// ---------------------------------------------------------------------------

func (h *Handler) CreateSession(ctx context.Context, input *struct{}) (*struct{ Body SessionBody }, error) {
	s, err := h.sessions.Create()
	if err != nil {
		return nil, huma.Error503ServiceUnavailable("could not create map session", err)
	}
	return &struct{ Body SessionBody }{Body: SessionBody{ID: s.ID, Stream: Base(s.ID) + "/stream"}}, nil
}

func (h *Handler) CloseSession(ctx context.Context, input *SessionInput) (*struct{}, error) {
	if !h.sessions.Close(input.ID) {
		return nil, huma.Error404NotFound("map session not found")
	}
	return &struct{}{}, nil
}

// Events streams engine commands and view fragments for one session. A new
// stream first replays the style so a fresh engine can be rebuilt.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		att, err := s.Attach(ctx)
		if err != nil {
			sse.Error("map session closed") //nolint:errcheck
			return
		}
		defer s.Detach(att)

		base := Base(s.ID)
		for _, cmd := range att.Replay {
			if err := h.sendCommand(sse, cmd); err != nil {
				return
			}
		}
		if err := h.sendView(sse, att.View, base); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.Done():
				return
			case ev, ok := <-att.Events:
				if !ok {
					return
				}
				if ev.Command != nil {
					err = h.sendCommand(sse, ev.Command)
				}
				if ev.View != nil {
					err = h.sendView(sse, ev.View, base)
				}
				if err != nil {
					zap.L().Debug("map stream closed", zap.String("session", s.ID), zap.Error(err))
					return
				}
			}
		}
	}), nil
}

func (h *Handler) sendCommand(sse humastar.SSE, cmd engine.Command) error {
	payload, err := engine.Marshal(cmd)
	if err != nil {
		zap.L().Error("encode engine command", zap.String("op", cmd.Op()), zap.Error(err))
		return nil
	}
	return sse.Event(CommandEvent, payload)
}

func (h *Handler) sendView(sse humastar.SSE, v *session.View, base string) error {
	if v.Fallback {
		if v.Has(mapctl.TopicFallback) {
			return sse.Patch(h.Render("fallback", FallbackView{DownloadURL: h.page.DownloadURL}), FallbackSelector)
		}
		return nil
	}
	if v.Has(mapctl.TopicViewport) {
		if err := sse.Signals(viewportSignals(v)); err != nil {
			return err
		}
	}
	if v.Has(mapctl.TopicLegend) {
		if err := sse.Patch(h.Render("legend", v.Legend), LegendSelector); err != nil {
			return err
		}
	}
	if v.Has(mapctl.TopicInfo) || v.Has(mapctl.TopicPostcode) {
		if err := sse.Patch(h.Render("info", infoView(v, base)), InfoSelector); err != nil {
			return err
		}
	}
	if v.Has(mapctl.TopicPostcode) {
		if err := sse.Patch(h.Render("postcode", postcodeView(v)), PostcodeSelector); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Engine events
// ---------------------------------------------------------------------------

func (h *Handler) Capability(ctx context.Context, input *EventInput) (*struct{}, error) {
	sig, err := input.signals()
	if err != nil {
		return nil, err
	}
	caps := mapctl.Capabilities{WebGL: sig.Bool("webgl"), Mobile: sig.Bool("mobile")}
	var mountErr error
	if err := h.do(ctx, input.ID, func(c *mapctl.MapController) { mountErr = c.Mount(caps) }); err != nil {
		return nil, err
	}
	if mountErr != nil && !eris.Is(mountErr, mapctl.ErrCapabilityMissing) {
		return nil, huma.Error500InternalServerError("mount failed", mountErr)
	}
	return &struct{}{}, nil
}

func (h *Handler) StyleLoaded(ctx context.Context, input *SessionInput) (*struct{}, error) {
	if err := h.do(ctx, input.ID, func(c *mapctl.MapController) { c.StyleLoaded() }); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

func (h *Handler) Zoom(ctx context.Context, input *EventInput) (*struct{}, error) {
	sig, err := input.signals()
	if err != nil {
		return nil, err
	}
	if !sig.Has("zoom") {
		return nil, huma.Error400BadRequest("zoom is required")
	}
	zoom := sig.Float("zoom")
	b := sig.Floats("bounds")
	err = h.do(ctx, input.ID, func(c *mapctl.MapController) {
		if len(b) == 4 {
			c.BoundsChanged(orb.Bound{Min: orb.Point{b[0], b[1]}, Max: orb.Point{b[2], b[3]}})
		}
		c.ZoomChanged(zoom)
	})
	if err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

func (h *Handler) Click(ctx context.Context, input *EventInput) (*struct{}, error) {
	sig, err := input.signals()
	if err != nil {
		return nil, err
	}
	ev := engine.ClickEvent{
		LayerID: sig.String("layerId"),
		Point:   orb.Point{sig.Float("lng"), sig.Float("lat")},
	}
	if err := h.do(ctx, input.ID, func(c *mapctl.MapController) { c.Click(ctx, ev) }); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

func (h *Handler) Date(ctx context.Context, input *EventInput) (*struct{}, error) {
	sig, err := input.signals()
	if err != nil {
		return nil, err
	}
	date := sig.String("date")
	if date == "" {
		return nil, huma.Error400BadRequest("date is required")
	}
	if err := h.do(ctx, input.ID, func(c *mapctl.MapController) { c.SetDate(date) }); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

// Postcode starts a lookup. Malformed input is reported back on the
// response; lookup results arrive on the session stream.
func (h *Handler) Postcode(ctx context.Context, input *EventInput) (*huma.StreamResponse, error) {
	sig, err := input.signals()
	if err != nil {
		return nil, err
	}
	s, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	raw := sig.String("postcode")
	var submitErr error
	if err := s.Do(ctx, func(c *mapctl.MapController) { submitErr = c.SubmitPostcode(s.Context(), raw) }); err != nil {
		return nil, huma.Error410Gone("map session closed")
	}

	return h.Stream(func(sse humastar.SSE) {
		msg := ""
		switch {
		case eris.Is(submitErr, postcode.ErrMalformed):
			msg = "Enter a real postcode"
		case eris.Is(submitErr, mapctl.ErrUnavailable):
			msg = "The map is not ready yet"
		case submitErr != nil:
			msg = "Postcode search failed"
		}
		if msg != "" {
			sse.Patch(h.Render("postcode", PostcodeView{Error: msg}), PostcodeSelector) //nolint:errcheck
		}
		sse.Signals(map[string]any{"error": ""}) //nolint:errcheck
	}), nil
}

func (h *Handler) CloseInfo(ctx context.Context, input *SessionInput) (*struct{}, error) {
	if err := h.do(ctx, input.ID, func(c *mapctl.MapController) { c.CloseInfo() }); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

// Export renders the current frame as a PNG download.
func (h *Handler) Export(ctx context.Context, input *SessionInput) (*ExportOutput, error) {
	var (
		job    func(context.Context) (export.Image, error)
		jobErr error
	)
	if err := h.do(ctx, input.ID, func(c *mapctl.MapController) { job, jobErr = c.ExportJob() }); err != nil {
		return nil, err
	}
	if jobErr != nil {
		if eris.Is(jobErr, mapctl.ErrUnavailable) {
			return nil, huma.Error409Conflict("map not ready")
		}
		return nil, huma.Error500InternalServerError("export failed", jobErr)
	}

	img, err := job(ctx)
	if err != nil {
		if eris.Is(err, export.ErrEmptyFrame) {
			return nil, huma.Error409Conflict("nothing to export")
		}
		return nil, huma.Error500InternalServerError("export failed", err)
	}
	metrics.ExportsTotal.Inc()
	return &ExportOutput{
		ContentType:        "image/png",
		ContentDisposition: `attachment; filename="` + img.Filename + `"`,
		Body:               img.PNG,
	}, nil
}
