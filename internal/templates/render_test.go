package templates

import (
	"io/fs"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Legend(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	out, err := r.Render("legend", map[string]any{
		"LayerID": "msoa",
		"Title":   "Case rate",
		"Rows":    []map[string]string{{"Color": "#fff", "Label": "Data not shown"}, {"Color": "#e0e543", "Label": "0 – 9"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, `data-layer="msoa"`)
	assert.Contains(t, out, "Data not shown")
	assert.Contains(t, out, "background-color: #e0e543")
}

func TestRender_UnknownTemplate(t *testing.T) {
	r, err := New()
	require.NoError(t, err)
	_, err = r.Render("nope", nil)
	assert.Error(t, err)
}

func TestFuncs(t *testing.T) {
	v := 12345.0
	assert.Equal(t, "12,345", funcMap["integer"].(func(any) string)(&v))
	assert.Equal(t, "0", funcMap["integer"].(func(any) string)((*float64)(nil)))
	assert.Equal(t, "-3.5", funcMap["decimal"].(func(any) string)(-3.46))
	assert.Equal(t, "03 January 2021", longDate("2021-01-03"))
	assert.Equal(t, "soon", longDate("soon"))
}

func TestStatic_ServesBridge(t *testing.T) {
	_, err := fs.Stat(Static(), "casemap.js")
	assert.NoError(t, err)
}

func TestFuncs_EachUsedByATemplate(t *testing.T) {
	var text string
	for _, pattern := range []string{"fragments/*.html", "pages/*.html"} {
		files, err := fs.Glob(embedded, pattern)
		require.NoError(t, err)
		for _, f := range files {
			b, err := fs.ReadFile(embedded, f)
			require.NoError(t, err)
			text += string(b)
		}
	}
	for name := range funcMap {
		used := regexp.MustCompile(`\{\{[^}]*\b` + name + `\b`).MatchString(text)
		assert.True(t, used, "template func %q is never called", name)
	}
}
