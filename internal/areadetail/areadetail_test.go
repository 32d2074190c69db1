package areadetail

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

// fakeSource answers from maps; a code listed in gates blocks until its
// channel is closed.
type fakeSource struct {
	mu        sync.Mutex
	aggregate map[string]*Row
	names     map[string]string
	rows      map[string][]Row
	gates     map[string]chan struct{}
	failName  bool
	calls     []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		aggregate: map[string]*Row{},
		names:     map[string]string{},
		rows:      map[string][]Row{},
		gates:     map[string]chan struct{}{},
	}
}

func (f *fakeSource) wait(ctx context.Context, code string) error {
	f.mu.Lock()
	gate := f.gates[code]
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSource) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSource) RollingAggregate(ctx context.Context, areaType, areaCode, metric, date string) (*Row, error) {
	f.record("aggregate:" + areaCode + ":" + metric)
	if err := f.wait(ctx, areaCode); err != nil {
		return nil, err
	}
	return f.aggregate[areaCode], nil
}

func (f *fakeSource) AreaName(ctx context.Context, areaType, areaCode string) (string, error) {
	f.record("name:" + areaCode)
	if f.failName {
		return "", eris.New("lookup down")
	}
	return f.names[areaCode], nil
}

func (f *fakeSource) AreaOnDate(ctx context.Context, areaCode, areaType, date string) ([]Row, error) {
	f.record("combined:" + areaCode + ":" + areaType + ":" + date)
	if err := f.wait(ctx, areaCode); err != nil {
		return nil, err
	}
	return f.rows[areaCode], nil
}

// loop collects dispatched completions so tests control when they run.
type loop struct {
	ch chan func()
}

func newLoop() *loop { return &loop{ch: make(chan func(), 16)} }

func (l *loop) dispatch(fn func()) { l.ch <- fn }

func (l *loop) runOne(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l.ch:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no completion dispatched")
	}
}

func TestResolve_FinestCombinesBothQueries(t *testing.T) {
	src := newFakeSource()
	src.aggregate["E02000001"] = &Row{
		Date: "2021-01-03", RollingSum: ptr(42), RollingRate: ptr(512.3),
		Change: ptr(-5), ChangePercentage: ptr(-10.6), Direction: "DOWN",
	}
	src.names["E02000001"] = "City of London 001"

	r := NewResolver(src, "msoa", nil)
	res := r.Resolve(context.Background(), Key{"E02000001", "msoa", "2021-01-03"})

	require.Equal(t, StatusReady, res.Status)
	require.NotNil(t, res.Summary.RollingSum)
	assert.Equal(t, 42.0, *res.Summary.RollingSum)
	assert.Equal(t, "City of London 001", res.Summary.AreaName)
	assert.Equal(t, Down, res.Summary.Trend)
	assert.Equal(t, -10.6, res.Summary.ChangePercentage)
	assert.Empty(t, res.Message(true))
	assert.ElementsMatch(t, []string{"aggregate:E02000001:" + DefaultMetric, "name:E02000001"}, src.calls)
}

func TestResolve_FinestWithoutRowIsSuppressed(t *testing.T) {
	src := newFakeSource()
	src.names["E02000002"] = "Somewhere 002"
	r := NewResolver(src, "msoa", nil)

	res := r.Resolve(context.Background(), Key{"E02000002", "msoa", "2021-01-03"})
	assert.Equal(t, StatusSuppressed, res.Status)
	require.NotNil(t, res.Summary)
	assert.Nil(t, res.Summary.RollingSum, "suppressed is never zero")
	assert.Equal(t, "Somewhere 002", res.Summary.AreaName)
	assert.Equal(t, SuppressedMessage, res.Message(true))
}

func TestResolve_FinestLookupFailure(t *testing.T) {
	src := newFakeSource()
	src.failName = true
	r := NewResolver(src, "msoa", nil)

	res := r.Resolve(context.Background(), Key{"E02000003", "msoa", "2021-01-03"})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
}

func TestResolve_CoarseSingleQuery(t *testing.T) {
	src := newFakeSource()
	src.rows["E10000001"] = []Row{{AreaName: "Kent", Date: "2021-01-03", RollingSum: ptr(1200), RollingRate: ptr(75.5), Direction: "UP"}}
	r := NewResolver(src, "msoa", nil)

	res := r.Resolve(context.Background(), Key{"E10000001", "utla", "2021-01-03"})
	require.Equal(t, StatusReady, res.Status)
	assert.Equal(t, "Kent", res.Summary.AreaName)
	assert.Equal(t, Up, res.Summary.Trend)
	assert.Equal(t, []string{"combined:E10000001:utla:2021-01-03"}, src.calls)

	missing := r.Resolve(context.Background(), Key{"E10000099", "utla", "2021-01-03"})
	assert.Equal(t, StatusNotAvailable, missing.Status)
	assert.Equal(t, NotAvailableMessage, missing.Message(false))
}

func TestResult_NullRollingSumMessageDependsOnResolution(t *testing.T) {
	res := Result{Status: StatusReady, Summary: &Summary{RollingSum: nil}}
	assert.Equal(t, SuppressedMessage, res.Message(true))
	assert.Equal(t, NotAvailableMessage, res.Message(false))

	zero := Result{Status: StatusReady, Summary: &Summary{RollingSum: ptr(0)}}
	assert.Empty(t, zero.Message(false), "a real zero is shown as a number")
}

func TestRequest_LatestWinsRegardlessOfCompletionOrder(t *testing.T) {
	for _, order := range []string{"AB", "BA"} {
		t.Run(order, func(t *testing.T) {
			src := newFakeSource()
			gateA, gateB := make(chan struct{}), make(chan struct{})
			src.gates["A"], src.gates["B"] = gateA, gateB
			src.rows["A"] = []Row{{AreaName: "Area A", RollingSum: ptr(1)}}
			src.rows["B"] = []Row{{AreaName: "Area B", RollingSum: ptr(2)}}

			l := newLoop()
			var applied []Result
			r := NewResolver(src, "msoa", l.dispatch, WithResultHandler(func(res Result) { applied = append(applied, res) }))

			r.Request(context.Background(), Key{"A", "utla", "2021-01-03"})
			assert.Equal(t, StatusLoading, r.Current().Status)
			r.Request(context.Background(), Key{"B", "utla", "2021-01-03"})

			if order == "AB" {
				close(gateA)
				l.runOne(t)
				close(gateB)
				l.runOne(t)
			} else {
				close(gateB)
				l.runOne(t)
				close(gateA)
				l.runOne(t)
			}

			final := r.Current()
			require.Equal(t, StatusReady, final.Status)
			assert.Equal(t, "Area B", final.Summary.AreaName)
			for _, res := range applied {
				if res.Summary != nil {
					assert.NotEqual(t, "Area A", res.Summary.AreaName, "superseded result applied")
				}
			}
		})
	}
}

func TestRequest_SameKeyIsNotRefetched(t *testing.T) {
	src := newFakeSource()
	src.rows["A"] = []Row{{AreaName: "Area A", RollingSum: ptr(1)}}
	l := newLoop()
	r := NewResolver(src, "msoa", l.dispatch)

	k := Key{"A", "utla", "2021-01-03"}
	r.Request(context.Background(), k)
	l.runOne(t)
	r.Request(context.Background(), k)

	assert.Equal(t, StatusReady, r.Current().Status)
	assert.Len(t, src.calls, 1)
}

func TestReset_DropsInFlight(t *testing.T) {
	src := newFakeSource()
	gate := make(chan struct{})
	src.gates["A"] = gate
	src.rows["A"] = []Row{{AreaName: "Area A", RollingSum: ptr(1)}}
	l := newLoop()
	r := NewResolver(src, "msoa", l.dispatch)

	r.Request(context.Background(), Key{"A", "utla", "2021-01-03"})
	r.Reset()
	l.runOne(t) // context cancelled: completion still dispatched, then discarded
	close(gate)

	assert.Equal(t, StatusIdle, r.Current().Status)
}

func TestParseDirection(t *testing.T) {
	assert.Equal(t, Up, ParseDirection("UP"))
	assert.Equal(t, Down, ParseDirection("DOWN"))
	assert.Equal(t, Same, ParseDirection("SAME"))
	assert.Equal(t, Same, ParseDirection(""))
}
