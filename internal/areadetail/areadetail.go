// Package areadetail resolves the headline statistics shown in the map's
// info panel for the selected area.
//
// The finest resolution is served by two independent lookups (a rolling
// aggregate and the area name); coarser resolutions by one combined query.
// Results are tagged with their request key and only the latest request's
// result is ever applied.
package areadetail

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joeblew999/casemap/internal/latest"
)

// DefaultMetric is the case metric the map reports.
const DefaultMetric = "newCasesBySpecimenDate"

// Panel messages for data that cannot be shown.
const (
	SuppressedMessage   = "Under 3 cases. For smaller areas (MSOAs) with fewer than 3 cases, we do not show data. This is to protect individuals' identities."
	NotAvailableMessage = "Data missing."
)

// Direction is the week-on-week trend.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
	Same Direction = "SAME"
)

// ParseDirection maps an API value to a Direction, defaulting to Same.
func ParseDirection(s string) Direction {
	switch Direction(s) {
	case Up:
		return Up
	case Down:
		return Down
	}
	return Same
}

// Key identifies one detail request.
type Key struct {
	AreaCode string
	AreaType string
	Date     string
}

// Summary is the headline statistics of one area on one date. A nil
// RollingSum means the value is absent, never zero.
type Summary struct {
	AreaCode         string    `json:"areaCode"`
	AreaName         string    `json:"areaName"`
	AreaType         string    `json:"areaType"`
	Date             string    `json:"date"`
	RollingSum       *float64  `json:"rollingSum"`
	RollingRate      float64   `json:"rollingRate"`
	Change           float64   `json:"change"`
	ChangePercentage float64   `json:"changePercentage"`
	Trend            Direction `json:"trendDirection" enum:"UP,DOWN,SAME"`
}

// Status is the display state of a detail result.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusLoading      Status = "loading"
	StatusReady        Status = "ready"
	StatusSuppressed   Status = "suppressed"
	StatusNotAvailable Status = "not-available"
	StatusFailed       Status = "failed"
)

// Result is what the info panel renders.
type Result struct {
	Key     Key
	Status  Status
	Summary *Summary
	Err     error
}

// Message returns the explanatory text for results without a usable
// rolling sum, or "" when the numbers can be shown. finest reports whether
// the result's area type is the finest resolution.
func (r Result) Message(finest bool) string {
	switch r.Status {
	case StatusSuppressed:
		return SuppressedMessage
	case StatusNotAvailable, StatusFailed:
		return NotAvailableMessage
	case StatusReady:
		if r.Summary == nil || r.Summary.RollingSum == nil {
			if finest {
				return SuppressedMessage
			}
			return NotAvailableMessage
		}
	}
	return ""
}

// Row is one statistics row as returned by a source. Nil pointers are
// absent values.
type Row struct {
	AreaName         string
	Date             string
	RollingSum       *float64
	RollingRate      *float64
	Change           *float64
	ChangePercentage *float64
	Direction        string
}

// Source answers the statistics queries.
type Source interface {
	// RollingAggregate returns the rolling statistics of a finest-level
	// area; a nil row means no usable row.
	RollingAggregate(ctx context.Context, areaType, areaCode, metric, date string) (*Row, error)
	// AreaName looks up the display name of an area.
	AreaName(ctx context.Context, areaType, areaCode string) (string, error)
	// AreaOnDate returns rows matching code, type and date exactly.
	AreaOnDate(ctx context.Context, areaCode, areaType, date string) ([]Row, error)
}

// Dispatcher posts a completion onto the owner's event loop.
type Dispatcher func(fn func())

// Resolver issues detail requests and applies only the latest result.
// Request, Current and Reset must be called from the owner's event loop.
type Resolver struct {
	source     Source
	finestType string
	metric     string
	dispatch   Dispatcher
	timeout    time.Duration
	onResult   func(Result)

	guard   latest.Guard[Key]
	current Result
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMetric overrides the case metric.
func WithMetric(m string) Option { return func(r *Resolver) { r.metric = m } }

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option { return func(r *Resolver) { r.timeout = d } }

// WithResultHandler is called on the event loop whenever the current result changes.
func WithResultHandler(fn func(Result)) Option { return func(r *Resolver) { r.onResult = fn } }

// NewResolver creates a resolver. finestType names the area type served by
// the two-query strategy; dispatch posts completions back to the caller's loop.
func NewResolver(source Source, finestType string, dispatch Dispatcher, opts ...Option) *Resolver {
	r := &Resolver{
		source:     source,
		finestType: finestType,
		metric:     DefaultMetric,
		dispatch:   dispatch,
		timeout:    20 * time.Second,
		current:    Result{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Current returns the latest applied result.
func (r *Resolver) Current() Result { return r.current }

// Reset drops any in-flight request and returns to idle.
func (r *Resolver) Reset() {
	r.guard.Reset()
	r.set(Result{Status: StatusIdle})
}

func (r *Resolver) set(res Result) {
	r.current = res
	if r.onResult != nil {
		r.onResult(res)
	}
}

// Request starts resolving k. The current result switches to loading
// immediately; the fetched result is applied only if k is still the
// latest request when it completes. Re-requesting the latest key while it
// is loading or resolved is a no-op.
func (r *Resolver) Request(ctx context.Context, k Key) {
	if lk, ok := r.guard.Latest(); ok && lk == k && r.current.Status != StatusIdle && r.current.Status != StatusFailed {
		return
	}

	ticket, reqCtx := r.guard.Issue(ctx, k)
	r.set(Result{Key: k, Status: StatusLoading})

	go func() {
		fetchCtx, cancel := context.WithTimeout(reqCtx, r.timeout)
		defer cancel()
		res := r.Resolve(fetchCtx, k)

		r.dispatch(func() {
			if !r.guard.Current(ticket) {
				zap.L().Debug("discarding superseded area detail",
					zap.String("areaCode", k.AreaCode), zap.String("areaType", k.AreaType))
				return
			}
			r.guard.Done(ticket)
			r.set(res)
		})
	}()
}

// Resolve runs the strategy for k synchronously. It never returns a
// loading result.
func (r *Resolver) Resolve(ctx context.Context, k Key) Result {
	if k.AreaType == r.finestType {
		return r.resolveFinest(ctx, k)
	}
	return r.resolveCoarse(ctx, k)
}

func (r *Resolver) resolveFinest(ctx context.Context, k Key) Result {
	var (
		row  *Row
		name string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		row, err = r.source.RollingAggregate(gctx, k.AreaType, k.AreaCode, r.metric, k.Date)
		return eris.Wrap(err, "areadetail: rolling aggregate")
	})
	g.Go(func() error {
		var err error
		name, err = r.source.AreaName(gctx, k.AreaType, k.AreaCode)
		return eris.Wrap(err, "areadetail: area name")
	})
	if err := g.Wait(); err != nil {
		return Result{Key: k, Status: StatusFailed, Err: err}
	}

	if row == nil || row.RollingSum == nil {
		s := &Summary{AreaCode: k.AreaCode, AreaName: name, AreaType: k.AreaType, Date: k.Date, Trend: Same}
		return Result{Key: k, Status: StatusSuppressed, Summary: s}
	}
	s := summaryOf(k, *row)
	s.AreaName = name
	return Result{Key: k, Status: StatusReady, Summary: s}
}

func (r *Resolver) resolveCoarse(ctx context.Context, k Key) Result {
	rows, err := r.source.AreaOnDate(ctx, k.AreaCode, k.AreaType, k.Date)
	if err != nil {
		return Result{Key: k, Status: StatusFailed, Err: eris.Wrap(err, "areadetail: area on date")}
	}
	if len(rows) == 0 {
		return Result{Key: k, Status: StatusNotAvailable}
	}
	return Result{Key: k, Status: StatusReady, Summary: summaryOf(k, rows[0])}
}

func summaryOf(k Key, row Row) *Summary {
	date := row.Date
	if date == "" {
		date = k.Date
	}
	return &Summary{
		AreaCode:         k.AreaCode,
		AreaName:         row.AreaName,
		AreaType:         k.AreaType,
		Date:             date,
		RollingSum:       row.RollingSum,
		RollingRate:      deref(row.RollingRate),
		Change:           deref(row.Change),
		ChangePercentage: deref(row.ChangePercentage),
		Trend:            ParseDirection(row.Direction),
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
