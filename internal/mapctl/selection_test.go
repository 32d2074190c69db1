package mapctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/casemap/internal/catalog"
	"github.com/joeblew999/casemap/internal/engine"
)

func TestSelection_PinResolvesFeatureByCode(t *testing.T) {
	cat := catalog.Default()
	msoa, ok := cat.Layer("msoa")
	require.True(t, ok)

	rec := engine.NewRecorder(nil)
	adapter := engine.New(rec, newFakeGeometry(t, cat))
	adapter.StyleLoaded()
	require.True(t, adapter.RegisterLayer(msoa, catalog.Desktop))
	sel := NewSelectionController(adapter)

	sel.Pin(context.Background(), msoa, "E02000978")
	st := sel.State()
	require.NotNil(t, st.Highlight)
	assert.Equal(t, FeatureRef{SourceID: msoa.OutlineSourceID(), FeatureID: 1}, *st.Highlight)

	rec.Reset()
	sel.Pin(context.Background(), msoa, "E02009999")
	assert.Nil(t, sel.State().Highlight, "unknown code clears the highlight")
	assert.Equal(t, "E02009999", sel.State().AreaCode)
	states := engine.Of[engine.SetFeatureState](rec)
	require.Len(t, states, 1)
	assert.Equal(t, 1, states[0].Feature.ID)
	assert.Equal(t, false, states[0].State["hover"])
}
