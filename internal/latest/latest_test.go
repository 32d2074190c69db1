package latest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type key struct{ code, date string }

func TestGuard_LatestWins(t *testing.T) {
	var g Guard[key]

	a, ctxA := g.Issue(context.Background(), key{"A", "2021-01-01"})
	b, ctxB := g.Issue(context.Background(), key{"B", "2021-01-01"})

	assert.False(t, g.Current(a))
	assert.True(t, g.Current(b))
	assert.Error(t, ctxA.Err(), "superseded request is cancelled")
	assert.NoError(t, ctxB.Err())

	k, ok := g.Latest()
	assert.True(t, ok)
	assert.Equal(t, "B", k.code)
}

func TestGuard_ReissuingSameKeyStillSupersedes(t *testing.T) {
	var g Guard[key]
	first, _ := g.Issue(context.Background(), key{"A", "d"})
	second, _ := g.Issue(context.Background(), key{"A", "d"})
	assert.False(t, g.Current(first))
	assert.True(t, g.Current(second))
}

func TestGuard_DoneAndReset(t *testing.T) {
	var g Guard[string]
	tk, ctx := g.Issue(context.Background(), "A")
	g.Done(tk)
	assert.Error(t, ctx.Err())
	assert.True(t, g.Current(tk), "done does not supersede")

	g.Reset()
	assert.False(t, g.Current(tk))
	_, ok := g.Latest()
	assert.False(t, ok)
}
