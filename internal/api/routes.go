// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/casemap/internal/areadetail"
	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/legend"
	"github.com/joeblew999/casemap/internal/mapctl"
	"github.com/joeblew999/casemap/internal/postcode"
)

// Version is reported by health and info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Catalog  *catalog.Catalog
	Stats    areadetail.Source
	Postcode mapctl.PostcodeLocator
}

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"msoa"`
}

type LayerOutput struct {
	Body catalog.LayerDescriptor
}

type LayersOutput struct {
	Body []catalog.LayerDescriptor
}

type LegendOutput struct {
	Body legend.Legend
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

type AreaInput struct {
	AreaType string `path:"areaType" doc:"Area type" example:"ltla"`
	AreaCode string `path:"areaCode" doc:"Area code" example:"E06000001"`
	Date     string `query:"date" doc:"Reporting day (YYYY-MM-DD)" example:"2021-01-03"`
}

type AreaBody struct {
	Status  areadetail.Status   `json:"status" doc:"Availability of the numbers" enum:"ready,suppressed,not-available"`
	Message string              `json:"message,omitempty" doc:"Why the numbers are not shown"`
	Summary *areadetail.Summary `json:"summary,omitempty"`
}

type PostcodeInput struct {
	Postcode string `path:"postcode" doc:"UK postcode, spaces optional" example:"SW1A1AA"`
}

type PostcodeBody struct {
	Postcode    string            `json:"postcode" doc:"Postcode as reported by the resolver"`
	Codes       map[string]string `json:"codes" doc:"Area code per area type"`
	Coordinates [2]float64        `json:"coordinates" doc:"[longitude, latitude]"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc    *Services
	detail *areadetail.Resolver
}

func NewAPIHandler(svc *Services) *APIHandler {
	h := &APIHandler{svc: svc}
	if svc != nil && svc.Stats != nil && svc.Catalog != nil {
		h.detail = areadetail.NewResolver(svc.Stats, svc.Catalog.Finest().ID, nil)
	}
	return h
}

// RegisterRoutes registers every APIHandler route on api.
func RegisterRoutes(api huma.API, svc *Services) *APIHandler {
	h := NewAPIHandler(svc)
	huma.AutoRegister(api, h)
	return h
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterLayers registers the layer catalog routes.
func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}", h.GetLayer, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/{id}/legend", h.GetLegend, huma.OperationTags("layers"))
}

// RegisterAreas registers the area summary route.
func (h *APIHandler) RegisterAreas(api huma.API) {
	huma.Get(api, "/api/v1/areas/{areaType}/{areaCode}", h.GetArea, huma.OperationTags("areas"))
}

// RegisterPostcodes registers the postcode lookup route.
func (h *APIHandler) RegisterPostcodes(api huma.API) {
	huma.Get(api, "/api/v1/postcodes/{postcode}", h.GetPostcode, huma.OperationTags("postcodes"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) layer(id string) (catalog.LayerDescriptor, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return catalog.LayerDescriptor{}, huma.Error404NotFound("catalog not available")
	}
	d, ok := h.svc.Catalog.Layer(id)
	if !ok {
		return catalog.LayerDescriptor{}, huma.Error404NotFound("layer not found")
	}
	return d, nil
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*LayersOutput, error) {
	if h.svc == nil || h.svc.Catalog == nil {
		return &LayersOutput{Body: []catalog.LayerDescriptor{}}, nil
	}
	return &LayersOutput{Body: h.svc.Catalog.Layers()}, nil
}

func (h *APIHandler) GetLayer(ctx context.Context, input *IDInput) (*LayerOutput, error) {
	d, err := h.layer(input.ID)
	if err != nil {
		return nil, err
	}
	return &LayerOutput{Body: d}, nil
}

func (h *APIHandler) GetLegend(ctx context.Context, input *IDInput) (*LegendOutput, error) {
	d, err := h.layer(input.ID)
	if err != nil {
		return nil, err
	}
	return &LegendOutput{Body: legend.Build(d)}, nil
}

func (h *APIHandler) GetArea(ctx context.Context, input *AreaInput) (*struct{ Body AreaBody }, error) {
	if h.detail == nil {
		return nil, huma.Error503ServiceUnavailable("statistics not available")
	}
	if _, err := h.layer(input.AreaType); err != nil {
		return nil, err
	}
	date := input.Date
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, huma.Error400BadRequest("date must be YYYY-MM-DD")
	}

	res := h.detail.Resolve(ctx, areadetail.Key{AreaCode: input.AreaCode, AreaType: input.AreaType, Date: date})
	if res.Status == areadetail.StatusFailed {
		return nil, huma.Error502BadGateway("statistics lookup failed", res.Err)
	}
	body := AreaBody{
		Status:  res.Status,
		Message: res.Message(h.svc.Catalog.IsFinest(input.AreaType)),
		Summary: res.Summary,
	}
	if body.Message != "" && body.Status == areadetail.StatusReady {
		body.Status = areadetail.StatusNotAvailable
		if h.svc.Catalog.IsFinest(input.AreaType) {
			body.Status = areadetail.StatusSuppressed
		}
	}
	return &struct{ Body AreaBody }{Body: body}, nil
}

func (h *APIHandler) GetPostcode(ctx context.Context, input *PostcodeInput) (*struct{ Body PostcodeBody }, error) {
	if h.svc == nil || h.svc.Postcode == nil {
		return nil, huma.Error503ServiceUnavailable("postcode lookup not available")
	}
	res, err := h.svc.Postcode.Locate(ctx, input.Postcode)
	switch {
	case eris.Is(err, postcode.ErrMalformed):
		return nil, huma.Error400BadRequest("invalid postcode")
	case eris.Is(err, postcode.ErrNotFound):
		return nil, huma.Error404NotFound("postcode not found")
	case err != nil:
		return nil, huma.Error502BadGateway("postcode lookup failed", err)
	}
	return &struct{ Body PostcodeBody }{Body: PostcodeBody{
		Postcode:    res.Postcode,
		Codes:       res.Codes,
		Coordinates: [2]float64{res.Coordinates.Lon(), res.Coordinates.Lat()},
	}}, nil
}
