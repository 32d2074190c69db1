package mapctl

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/casemap/internal/areadetail"
	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/engine"
	"github.com/joeblew999/casemap/internal/geodata"
	"github.com/joeblew999/casemap/internal/postcode"
)

// Each level has two unit squares side by side; the codes differ per level
// so the same place has distinct identities across levels.
var levelCodes = map[string][2]string{
	"utla": {"E10000001", "E10000002"},
	"ltla": {"E10000001", "E07000001"},
	"msoa": {"E02000977", "E02000978"},
}

func squares(a, b string, dated bool) string {
	props := func(code string, v int) string {
		if !dated {
			return fmt.Sprintf(`{"code":%q}`, code)
		}
		return fmt.Sprintf(`{"code":%q,"date":"2021-01-03","value":%d}`, code, v)
	}
	return `{"type":"FeatureCollection","features":[
 {"type":"Feature","properties":` + props(a, 60) + `,"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
 {"type":"Feature","properties":` + props(b, 900) + `,"geometry":{"type":"Polygon","coordinates":[[[2,0],[3,0],[3,1],[2,1],[2,0]]]}}
]}`
}

type fakeGeometry struct {
	outlines    map[string]*geodata.Collection
	choropleths map[string]*geodata.Collection
}

func newFakeGeometry(t *testing.T, cat *catalog.Catalog) *fakeGeometry {
	t.Helper()
	g := &fakeGeometry{outlines: map[string]*geodata.Collection{}, choropleths: map[string]*geodata.Collection{}}
	for _, l := range cat.Layers() {
		codes := levelCodes[l.ID]
		ol, err := geodata.Parse(l.OutlineSourceID(), []byte(squares(codes[0], codes[1], false)))
		require.NoError(t, err)
		ch, err := geodata.Parse(l.ChoroplethSourceID(), []byte(squares(codes[0], codes[1], true)))
		require.NoError(t, err)
		g.outlines[l.ID], g.choropleths[l.ID] = ol, ch
	}
	return g
}

func (g *fakeGeometry) Outline(_ context.Context, layerID string) (*geodata.Collection, error) {
	c, ok := g.outlines[layerID]
	if !ok {
		return nil, eris.Errorf("no outline %s", layerID)
	}
	return c, nil
}

func (g *fakeGeometry) Choropleth(_ context.Context, layerID string, _ catalog.Variant) (*geodata.Collection, error) {
	c, ok := g.choropleths[layerID]
	if !ok {
		return nil, eris.Errorf("no choropleth %s", layerID)
	}
	return c, nil
}

type fakeStats struct {
	rows map[string][]areadetail.Row
}

func (f fakeStats) RollingAggregate(_ context.Context, _, areaCode, _, _ string) (*areadetail.Row, error) {
	rows := f.rows[areaCode]
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (f fakeStats) AreaName(_ context.Context, _, areaCode string) (string, error) {
	return "Name of " + areaCode, nil
}

func (f fakeStats) AreaOnDate(_ context.Context, areaCode, _, _ string) ([]areadetail.Row, error) {
	return f.rows[areaCode], nil
}

type fakeLocator struct {
	results map[string]*postcode.Result
}

func (f fakeLocator) Locate(_ context.Context, input string) (*postcode.Result, error) {
	if r, ok := f.results[postcode.Normalize(input)]; ok {
		return r, nil
	}
	return nil, eris.Wrap(postcode.ErrNotFound, "test")
}

var westminster = &postcode.Result{
	Postcode:    "SW1A 1AA",
	Codes:       map[string]string{"msoa": "E02000977", "ltla": "E10000001", "utla": "E10000001"},
	Coordinates: orb.Point{0.5, 0.5},
}

type queue struct{ ch chan func() }

func newQueue() *queue { return &queue{ch: make(chan func(), 32)} }

func (q *queue) dispatch(fn func()) { q.ch <- fn }

func (q *queue) runOne(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("nothing dispatched")
	}
}

type harness struct {
	ctl    *MapController
	rec    *engine.Recorder
	q      *queue
	cat    *catalog.Catalog
	topics []Topic
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{rec: engine.NewRecorder(nil), q: newQueue(), cat: catalog.Default()}
	stats := fakeStats{rows: map[string][]areadetail.Row{
		"E10000001": {{AreaName: "Mid area", RollingSum: ptr(120)}},
	}}
	ctl, err := New(Config{
		Catalog:     h.cat,
		Surface:     h.rec,
		Geometry:    newFakeGeometry(t, h.cat),
		Stats:       stats,
		Postcode:    fakeLocator{results: map[string]*postcode.Result{"SW1A1AA": westminster}},
		Dispatch:    h.q.dispatch,
		Listener:    func(topics ...Topic) { h.topics = append(h.topics, topics...) },
		InitialDate: "2021-01-03",
	})
	require.NoError(t, err)
	h.ctl = ctl
	return h
}

func (h *harness) ready(t *testing.T, zoom float64) {
	t.Helper()
	require.NoError(t, h.ctl.Mount(Capabilities{WebGL: true}))
	h.ctl.ZoomChanged(zoom)
	h.ctl.StyleLoaded()
}

func ptr(f float64) *float64 { return &f }
