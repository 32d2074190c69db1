// Package session runs one map controller per mounted map.
//
// Each session owns a single event loop goroutine. Browser events, engine
// callbacks and the completions of async lookups are all closures executed
// serially on that loop, so controller state never needs a lock. Engine
// commands and view snapshots leave the loop through the session's Bus.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/engine"
	"github.com/joeblew999/casemap/internal/legend"
	"github.com/joeblew999/casemap/internal/mapctl"
	"github.com/joeblew999/casemap/internal/metrics"
	"github.com/joeblew999/casemap/internal/postcode"
)

// ErrClosed is returned for work posted to a closed session.
var ErrClosed = eris.New("session: closed")

// AllTopics is every view topic.
var AllTopics = []mapctl.Topic{
	mapctl.TopicViewport, mapctl.TopicLegend, mapctl.TopicInfo,
	mapctl.TopicCamera, mapctl.TopicPostcode, mapctl.TopicFallback,
}

const loopBuffer = 64

// View is a snapshot of everything the page renders, taken on the loop.
type View struct {
	Topics    []mapctl.Topic
	Viewport  mapctl.ViewportState
	Layer     catalog.LayerDescriptor
	Legend    legend.Legend
	Selection mapctl.SelectionState
	Info      mapctl.InfoPanel
	Postcode  *postcode.Result
	Fallback  bool
}

// Has reports whether t changed in this view.
func (v *View) Has(t mapctl.Topic) bool {
	for _, x := range v.Topics {
		if x == t {
			return true
		}
	}
	return false
}

// Snapshot captures the view of c. It must run on c's loop.
func Snapshot(c *mapctl.MapController, topics ...mapctl.Topic) *View {
	return &View{
		Topics:    topics,
		Viewport:  c.Viewport(),
		Layer:     c.ActiveLayer(),
		Legend:    c.Legend(),
		Selection: c.Selection(),
		Info:      c.Info(),
		Postcode:  c.Postcode(),
		Fallback:  c.Fallback(),
	}
}

// Attachment is what a new stream starts from.
type Attachment struct {
	Events <-chan Event
	Replay []engine.Command
	View   *View

	ch chan Event
}

// Session is one mounted map.
type Session struct {
	ID      string
	Created time.Time

	ctl  *mapctl.MapController
	rec  *engine.Recorder
	bus  *Bus
	loop chan func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	lastActive atomic.Int64
}

func newSession(id string, deps Deps) (*Session, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:      id,
		Created: time.Now(),
		bus:     NewBus(),
		loop:    make(chan func(), loopBuffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.rec = engine.NewReplayRecorder(s.forward)
	s.touch()

	ctl, err := mapctl.New(mapctl.Config{
		Catalog:     deps.Catalog,
		Surface:     s.rec,
		Geometry:    deps.Geometry,
		Stats:       deps.Stats,
		Postcode:    deps.Postcode,
		Dispatch:    s.post,
		Listener:    s.publishView,
		Exporter:    deps.Exporter,
		InitialDate: deps.InitialDate,
		Context:     ctx,
	})
	if err != nil {
		cancel()
		return nil, eris.Wrap(err, "session: build controller")
	}
	s.ctl = ctl

	go s.run()
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.loop:
			s.exec(fn)
		case <-s.ctx.Done():
			s.exec(s.ctl.Unmount)
			s.bus.Close()
			return
		}
	}
}

func (s *Session) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("session loop panic", zap.String("session", s.ID), zap.Any("panic", r))
		}
	}()
	fn()
}

// post queues fn on the loop. Completions arriving after close are dropped.
func (s *Session) post(fn func()) {
	select {
	case s.loop <- fn:
	case <-s.ctx.Done():
	}
}

func (s *Session) forward(cmd engine.Command) {
	metrics.EngineCommandsTotal.WithLabelValues(cmd.Op()).Inc()
	s.bus.Publish(Event{Command: cmd})
}

func (s *Session) publishView(topics ...mapctl.Topic) {
	s.bus.Publish(Event{View: Snapshot(s.ctl, topics...)})
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

// LastActive returns when the session last handled a request.
func (s *Session) LastActive() time.Time { return time.Unix(0, s.lastActive.Load()) }

// Streaming reports whether a stream is attached.
func (s *Session) Streaming() bool { return s.bus.Len() > 0 }

// Context is cancelled when the session closes. Async work started for
// the session should derive from it rather than from a request context.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed once the loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Do runs fn on the loop with the controller and waits for it.
func (s *Session) Do(ctx context.Context, fn func(c *mapctl.MapController)) error {
	s.touch()
	finished := make(chan struct{})
	select {
	case s.loop <- func() { defer close(finished); fn(s.ctl) }:
	case <-s.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View snapshots the whole view.
func (s *Session) View(ctx context.Context) (*View, error) {
	var v *View
	err := s.Do(ctx, func(c *mapctl.MapController) { v = Snapshot(c, AllTopics...) })
	return v, err
}

// Attach subscribes a stream. The replay rebuilds the sources, layers and
// filters on a fresh engine; subscription and replay are taken together on
// the loop so no command falls between them.
func (s *Session) Attach(ctx context.Context) (*Attachment, error) {
	a := &Attachment{}
	err := s.Do(ctx, func(c *mapctl.MapController) {
		a.ch = s.bus.Subscribe()
		a.Events = a.ch
		a.Replay = s.rec.Replay()
		a.View = Snapshot(c, AllTopics...)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Detach unsubscribes a stream returned by Attach.
func (s *Session) Detach(a *Attachment) {
	if a != nil && a.ch != nil {
		s.bus.Unsubscribe(a.ch)
	}
	s.touch()
}

// Close stops the loop and drops every stream.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}
