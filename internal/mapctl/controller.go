package mapctl

import (
	"context"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/areadetail"
	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/engine"
	"github.com/joeblew999/casemap/internal/export"
	"github.com/joeblew999/casemap/internal/geodata"
	"github.com/joeblew999/casemap/internal/latest"
	"github.com/joeblew999/casemap/internal/legend"
	"github.com/joeblew999/casemap/internal/postcode"
)

// FlyToZoom is the camera zoom after a postcode lookup.
const FlyToZoom = 12.5

var (
	// ErrCapabilityMissing is returned by Mount when the client cannot render the map.
	ErrCapabilityMissing = eris.New("mapctl: rendering capability missing")
	// ErrUnavailable is returned by operations on a map that is not mounted.
	ErrUnavailable = eris.New("mapctl: map not available")
)

// Topic names a part of the view that changed.
type Topic string

const (
	TopicViewport Topic = "viewport"
	TopicLegend   Topic = "legend"
	TopicInfo     Topic = "info"
	TopicCamera   Topic = "camera"
	TopicPostcode Topic = "postcode"
	TopicFallback Topic = "fallback"
)

// Listener is told which topics changed after each transition.
type Listener func(topics ...Topic)

// Geometry serves the indexed layer collections.
type Geometry interface {
	engine.Outlines
	Choropleth(ctx context.Context, layerID string, v catalog.Variant) (*geodata.Collection, error)
}

// PostcodeLocator resolves raw postcode input.
type PostcodeLocator interface {
	Locate(ctx context.Context, input string) (*postcode.Result, error)
}

// Config wires a MapController.
type Config struct {
	Catalog  *catalog.Catalog
	Surface  engine.Surface
	Geometry Geometry
	Stats    areadetail.Source
	Postcode PostcodeLocator
	// Dispatch posts async completions back onto the owner's event loop.
	Dispatch areadetail.Dispatcher
	Listener Listener
	Exporter *export.Exporter
	// InitialDate is applied on mount.
	InitialDate string
	// Context bounds async lookups; cancel it when the map goes away.
	Context context.Context
}

// InfoPanel is what the info panel renders.
type InfoPanel struct {
	Visible bool              `json:"visible"`
	Detail  areadetail.Result `json:"-"`
	Message string            `json:"message,omitempty"`
	// Postcode is set when the selected area contains the looked-up postcode.
	Postcode string `json:"postcode,omitempty"`
}

// MapController composes the map's controllers and owns its state.
type MapController struct {
	cat      *catalog.Catalog
	adapter  *engine.Adapter
	geometry Geometry
	locator  PostcodeLocator
	dispatch areadetail.Dispatcher
	listener Listener
	exporter *export.Exporter
	initDate string
	ctx      context.Context

	zoom      *ZoomLevelResolver
	dates     *DateFilterController
	selection *SelectionController
	detail    *areadetail.Resolver

	viewport  ViewportState
	mounted   bool
	fallback  bool
	postcodes latest.Guard[string]
	located   *postcode.Result
}

// New builds a controller. Dispatch is required.
func New(cfg Config) (*MapController, error) {
	if cfg.Catalog == nil || cfg.Surface == nil {
		return nil, eris.New("mapctl: catalog and surface are required")
	}
	if cfg.Dispatch == nil {
		return nil, eris.New("mapctl: dispatcher is required")
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	exp := cfg.Exporter
	if exp == nil {
		exp = export.New(1200, 900)
	}

	c := &MapController{
		cat:      cfg.Catalog,
		geometry: cfg.Geometry,
		locator:  cfg.Postcode,
		dispatch: cfg.Dispatch,
		listener: cfg.Listener,
		exporter: exp,
		initDate: cfg.InitialDate,
		ctx:      cfg.Context,
		zoom:     NewZoomLevelResolver(cfg.Catalog),
	}
	var outlines engine.Outlines
	if cfg.Geometry != nil {
		outlines = cfg.Geometry
	}
	c.adapter = engine.New(cfg.Surface, outlines)
	c.dates = NewDateFilterController(c.adapter)
	c.selection = NewSelectionController(c.adapter)
	if cfg.Stats != nil {
		c.detail = areadetail.NewResolver(cfg.Stats, cfg.Catalog.Finest().ID, cfg.Dispatch,
			areadetail.WithResultHandler(func(areadetail.Result) { c.notify(TopicInfo) }))
	}

	c.adapter.OnStyleLoaded(c.onStyleLoaded)
	c.adapter.OnZoomChange(c.onZoom)
	for _, l := range cfg.Catalog.Layers() {
		layer := l
		c.adapter.OnClick(layer.ClickLayerID(), func(ev engine.ClickEvent) { c.onClick(layer, ev) })
	}
	return c, nil
}

func (c *MapController) notify(topics ...Topic) {
	if c.listener != nil && len(topics) > 0 {
		c.listener(topics...)
	}
}

func (c *MapController) live() bool { return c.mounted && !c.fallback }

// Mount attaches the controller to a client. Without WebGL the map falls
// back to a static message and ignores every later event.
func (c *MapController) Mount(caps Capabilities) error {
	c.mounted = true
	if !caps.WebGL {
		c.fallback = true
		zap.L().Info("map capability missing, showing fallback")
		c.notify(TopicFallback)
		return ErrCapabilityMissing
	}
	c.viewport.MapReady = true
	c.viewport.Variant = caps.Variant()
	if c.initDate != "" && c.viewport.Date == "" {
		c.SetDate(c.initDate)
	}
	c.notify(TopicViewport, TopicLegend)
	return nil
}

// Fallback reports whether the map was replaced by the static fallback.
func (c *MapController) Fallback() bool { return c.fallback }

// Unmount drops in-flight lookups and stops reacting to events.
func (c *MapController) Unmount() {
	if c.detail != nil {
		c.detail.Reset()
	}
	c.postcodes.Reset()
	c.mounted = false
	c.listener = nil
}

// StyleLoaded is the engine's style-loaded event.
func (c *MapController) StyleLoaded() {
	if !c.live() {
		return
	}
	c.adapter.StyleLoaded()
}

func (c *MapController) onStyleLoaded() {
	for _, l := range c.cat.Layers() {
		c.adapter.RegisterLayer(l, c.viewport.Variant)
	}
	c.dates.StyleLoaded()
	c.selection.Restore()
	c.viewport.StyleLoaded = true

	idx, _ := c.zoom.Observe(c.viewport.Zoom)
	if !c.viewport.Pinned {
		c.viewport.ActiveLayer = idx
	}
	c.notify(TopicViewport, TopicLegend)
}

// ZoomChanged is the engine's zoom event.
func (c *MapController) ZoomChanged(z float64) {
	if !c.live() {
		return
	}
	c.viewport.Zoom = z
	c.adapter.Zoom(z)
}

// BoundsChanged records the visible bound, used by Export.
func (c *MapController) BoundsChanged(b orb.Bound) {
	if !c.live() {
		return
	}
	c.viewport.Bounds = b
}

func (c *MapController) onZoom(z float64) {
	idx, changed := c.zoom.Observe(z)
	if !changed || c.viewport.Pinned || idx == c.viewport.ActiveLayer {
		return
	}
	c.viewport.ActiveLayer = idx
	c.selection.FollowLayer(c.cat.At(idx))
	if c.detail != nil {
		c.detail.Reset()
	}
	c.notify(TopicViewport, TopicLegend, TopicInfo)
}

// Click is the engine's click event. An empty LayerID targets the hit-test
// layer of the active level.
func (c *MapController) Click(ctx context.Context, ev engine.ClickEvent) {
	if !c.live() {
		return
	}
	if ev.LayerID == "" {
		ev.LayerID = c.ActiveLayer().ClickLayerID()
	}
	c.adapter.Click(ctx, ev)
}

func (c *MapController) onClick(layer catalog.LayerDescriptor, ev engine.ClickEvent) {
	ctx := c.ctx
	if !c.selection.Click(ctx, ev, layer, c.viewport.Zoom) {
		return
	}
	topics := []Topic{TopicInfo, TopicCamera}
	if c.viewport.Pinned {
		c.viewport.Pinned = false
		if idx := c.zoom.Index(); idx != c.viewport.ActiveLayer {
			c.viewport.ActiveLayer = idx
			topics = append(topics, TopicLegend, TopicViewport)
		}
	}
	c.requestDetail(ctx)
	c.notify(topics...)
}

func (c *MapController) requestDetail(ctx context.Context) {
	sel := c.selection.State()
	if c.detail == nil || sel.AreaCode == "" || c.viewport.Date == "" {
		return
	}
	c.detail.Request(ctx, areadetail.Key{AreaCode: sel.AreaCode, AreaType: sel.AreaType, Date: c.viewport.Date})
}

// SetDate changes the reporting day. It never changes the active layer.
func (c *MapController) SetDate(date string) {
	if c.fallback {
		return
	}
	c.viewport.Date = geodata.DayOf(date)
	c.dates.SetDate(date)
	if c.selection.State().InfoVisible {
		c.requestDetail(c.ctx)
	}
	c.notify(TopicViewport, TopicInfo)
}

// SubmitPostcode starts a postcode lookup. Malformed input is rejected
// without a request; lookup failures are logged and leave state untouched.
// Only the latest submission is applied.
func (c *MapController) SubmitPostcode(ctx context.Context, input string) error {
	if !c.live() || c.locator == nil {
		return ErrUnavailable
	}
	normalized := postcode.Normalize(input)
	if err := postcode.Validate(normalized); err != nil {
		return err
	}

	if ctx == nil {
		ctx = c.ctx
	}
	ticket, reqCtx := c.postcodes.Issue(ctx, normalized)
	go func() {
		res, err := c.locator.Locate(reqCtx, normalized)
		c.dispatch(func() {
			if !c.postcodes.Current(ticket) {
				return
			}
			c.postcodes.Done(ticket)
			if err != nil {
				zap.L().Info("postcode lookup failed", zap.String("postcode", normalized), zap.Error(err))
				return
			}
			c.applyPostcode(res)
		})
	}()
	return nil
}

func (c *MapController) applyPostcode(res *postcode.Result) {
	if !c.live() {
		return
	}
	c.located = res
	c.adapter.PlaceMarker(res.Coordinates)
	c.adapter.FlyTo(res.Coordinates, FlyToZoom)
	topics := []Topic{TopicPostcode, TopicCamera, TopicInfo}

	finest := c.cat.Finest()
	code := res.Code(finest.ID)
	sel := c.selection.State()
	if code != "" && (code != sel.AreaCode || sel.AreaType != finest.ID) {
		c.viewport.Pinned = true
		if c.viewport.ActiveLayer != c.cat.FinestIndex() {
			c.viewport.ActiveLayer = c.cat.FinestIndex()
			topics = append(topics, TopicLegend, TopicViewport)
		}
		c.selection.Pin(c.ctx, finest, code)
		c.requestDetail(c.ctx)
	}
	c.notify(topics...)
}

// CloseInfo hides the info panel.
func (c *MapController) CloseInfo() {
	if !c.live() {
		return
	}
	c.selection.Close()
	c.notify(TopicInfo)
}

// ExportJob snapshots the current frame. The returned job renders it and
// may run off the event loop.
func (c *MapController) ExportJob() (func(ctx context.Context) (export.Image, error), error) {
	if !c.live() || !c.viewport.StyleLoaded {
		return nil, ErrUnavailable
	}
	if c.geometry == nil {
		return nil, eris.New("mapctl: no geometry to export")
	}
	var (
		layer     = c.ActiveLayer()
		variant   = c.viewport.Variant
		date      = c.viewport.Date
		bounds    = c.viewport.Bounds
		highlight string
		geometry  = c.geometry
		exporter  = c.exporter
	)
	if sel := c.selection.State(); sel.Highlight != nil && sel.AreaType == layer.ID {
		highlight = sel.AreaCode
	}

	return func(ctx context.Context) (export.Image, error) {
		ch, err := geometry.Choropleth(ctx, layer.ID, variant)
		if err != nil {
			return export.Image{}, eris.Wrap(err, "mapctl: export choropleth")
		}
		ol, err := geometry.Outline(ctx, layer.ID)
		if err != nil {
			zap.L().Warn("export without outlines", zap.String("layer", layer.ID), zap.Error(err))
			ol = nil
		}
		return exporter.Export(export.Frame{
			Date: date, Viewport: bounds, Layer: layer,
			Choropleth: ch, Outline: ol, Highlight: highlight,
		})
	}, nil
}

// Export renders the current frame synchronously.
func (c *MapController) Export(ctx context.Context) (export.Image, error) {
	job, err := c.ExportJob()
	if err != nil {
		return export.Image{}, err
	}
	return job(ctx)
}

// Viewport returns the viewport state.
func (c *MapController) Viewport() ViewportState { return c.viewport }

// Selection returns the selection state.
func (c *MapController) Selection() SelectionState { return c.selection.State() }

// ActiveLayer returns the descriptor of the active level.
func (c *MapController) ActiveLayer() catalog.LayerDescriptor {
	return c.cat.At(c.viewport.ActiveLayer)
}

// Detail returns the current area detail result.
func (c *MapController) Detail() areadetail.Result {
	if c.detail == nil {
		return areadetail.Result{Status: areadetail.StatusIdle}
	}
	return c.detail.Current()
}

// Legend returns the legend of the active level.
func (c *MapController) Legend() legend.Legend { return legend.Build(c.ActiveLayer()) }

// Postcode returns the last applied postcode result.
func (c *MapController) Postcode() *postcode.Result { return c.located }

// Info assembles the info panel view.
func (c *MapController) Info() InfoPanel {
	sel := c.selection.State()
	d := c.Detail()
	p := InfoPanel{Visible: sel.InfoVisible, Detail: d}
	finest := c.cat.IsFinest(d.Key.AreaType)
	if d.Status != areadetail.StatusLoading && d.Status != areadetail.StatusIdle {
		p.Message = d.Message(finest)
	}
	if c.located != nil && sel.AreaType == c.cat.Finest().ID && sel.AreaCode != "" &&
		sel.AreaCode == c.located.Code(sel.AreaType) {
		p.Postcode = c.located.Postcode
	}
	return p
}

// Adapter exposes the engine adapter for replaying registrations.
func (c *MapController) Adapter() *engine.Adapter { return c.adapter }
