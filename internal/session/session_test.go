package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/engine"
	"github.com/joeblew999/casemap/internal/mapctl"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(Deps{Catalog: catalog.Default(), InitialDate: "2021-01-03"}, ttl)
}

func mount(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Do(ctx, func(c *mapctl.MapController) {
		assert.NoError(t, c.Mount(mapctl.Capabilities{WebGL: true}))
		c.ZoomChanged(5)
		c.StyleLoaded()
	}))
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestBus_FanOut(t *testing.T) {
	b := NewBus()
	a, c := b.Subscribe(), b.Subscribe()
	b.Publish(Event{Command: engine.FlyTo{Zoom: 3}})

	assert.Equal(t, engine.FlyTo{Zoom: 3}, (<-a).Command)
	assert.Equal(t, engine.FlyTo{Zoom: 3}, (<-c).Command)

	b.Unsubscribe(a)
	b.Unsubscribe(a)
	assert.Equal(t, 1, b.Len())
}

func TestBus_DropsSlowSubscriber(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	for i := 0; i <= subscriberBuffer; i++ {
		b.Publish(Event{})
	}
	assert.Equal(t, 0, b.Len())

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, subscriberBuffer, n)
}

func TestSession_StreamsCommandsAndViews(t *testing.T) {
	m := newTestManager(time.Minute)
	defer m.Shutdown()
	s, err := m.Create()
	require.NoError(t, err)

	att, err := s.Attach(context.Background())
	require.NoError(t, err)
	defer s.Detach(att)
	assert.Empty(t, att.Replay)
	assert.False(t, att.View.Viewport.MapReady)

	mount(t, s)

	var (
		ops  []string
		last *View
	)
	for last == nil || !last.Viewport.StyleLoaded {
		ev := next(t, att.Events)
		if ev.Command != nil {
			ops = append(ops, ev.Command.Op())
		}
		if ev.View != nil {
			last = ev.View
		}
	}
	assert.Contains(t, ops, "addSource")
	assert.Contains(t, ops, "addLayer")
	assert.Contains(t, ops, "setFilter")
	assert.True(t, last.Has(mapctl.TopicLegend))
	assert.Equal(t, "utla", last.Layer.ID)
}

func TestSession_AttachReplaysStyle(t *testing.T) {
	m := newTestManager(time.Minute)
	defer m.Shutdown()
	s, err := m.Create()
	require.NoError(t, err)
	mount(t, s)

	att, err := s.Attach(context.Background())
	require.NoError(t, err)
	defer s.Detach(att)

	var filters int
	for _, c := range att.Replay {
		if _, ok := c.(engine.SetFilter); ok {
			filters++
		}
	}
	assert.Equal(t, catalog.Default().Len(), filters)
	assert.True(t, att.View.Viewport.StyleLoaded)
	assert.Equal(t, "2021-01-03", att.View.Viewport.Date)
}

func TestSession_CloseRejectsWork(t *testing.T) {
	m := newTestManager(time.Minute)
	s, err := m.Create()
	require.NoError(t, err)
	att, err := s.Attach(context.Background())
	require.NoError(t, err)

	require.True(t, m.Close(s.ID))
	assert.False(t, m.Close(s.ID))

	err = s.Do(context.Background(), func(*mapctl.MapController) {})
	assert.ErrorIs(t, err, ErrClosed)
	_, ok := <-att.Events
	assert.False(t, ok)
}

func TestSession_PanicKeepsLoop(t *testing.T) {
	m := newTestManager(time.Minute)
	defer m.Shutdown()
	s, err := m.Create()
	require.NoError(t, err)

	require.NoError(t, s.Do(context.Background(), func(*mapctl.MapController) { panic("boom") }))
	v, err := s.View(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, v)
}

func TestManager_GetUnknown(t *testing.T) {
	m := newTestManager(time.Minute)
	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ReapIdle(t *testing.T) {
	m := newTestManager(time.Minute)
	defer m.Shutdown()

	idle, err := m.Create()
	require.NoError(t, err)
	streaming, err := m.Create()
	require.NoError(t, err)
	att, err := streaming.Attach(context.Background())
	require.NoError(t, err)
	defer streaming.Detach(att)

	assert.Equal(t, 0, m.Reap(time.Now()))
	assert.Equal(t, 1, m.Reap(time.Now().Add(2*time.Minute)))

	_, err = m.Get(idle.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(streaming.ID)
	assert.NoError(t, err)
	<-idle.Done()
}

func TestSession_CloseInfoStreamsView(t *testing.T) {
	m := newTestManager(time.Minute)
	defer m.Shutdown()
	s, err := m.Create()
	require.NoError(t, err)
	mount(t, s)

	att, err := s.Attach(context.Background())
	require.NoError(t, err)
	defer s.Detach(att)

	require.NoError(t, s.Do(context.Background(), func(c *mapctl.MapController) {
		c.CloseInfo()
	}))
	ev := next(t, att.Events)
	require.NotNil(t, ev.View)
	assert.True(t, ev.View.Has(mapctl.TopicInfo))
	assert.False(t, ev.View.Info.Visible)
}
