package generator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/forge/pkg/forged/assets"
	"github.com/appforge/forge/pkg/forged/generator"
)

func TestBuildPromptCreate(t *testing.T) {
	asset, err := assets.Parse("data.csv", "data:text/csv;base64,aWQsdmFsdWUKMSw0Mgo=")
	require.NoError(t, err)

	prompt, err := generator.BuildPrompt(&generator.Request{
		Task:   "csv-explorer",
		Round:  1,
		Brief:  "Render <uploaded> CSV files as sortable tables.",
		Checks: []string{"table is sortable", "handles & in cell values"},
		Assets: []assets.Asset{*asset},
	})

	require.NoError(t, err)
	assert.Contains(t, prompt, `round 1 of the task "csv-explorer"`)
	assert.Contains(t, prompt, "from scratch")
	assert.NotContains(t, prompt, "already published")

	// brief and checks must survive untouched by HTML escaping
	assert.Contains(t, prompt, "Render <uploaded> CSV files as sortable tables.")
	assert.Contains(t, prompt, "- table is sortable")
	assert.Contains(t, prompt, "- handles & in cell values")

	assert.Contains(t, prompt, "### data.csv")
	assert.Contains(t, prompt, "id,value\n1,42")
}

func TestBuildPromptEnhance(t *testing.T) {
	prompt, err := generator.BuildPrompt(&generator.Request{
		Task:                  "csv-explorer",
		Round:                 2,
		Brief:                 "Add column filtering.",
		Enhance:               true,
		BaselineDocumentation: "# CSV Explorer\n\nRenders CSV files.",
	})

	require.NoError(t, err)
	assert.Contains(t, prompt, "already published")
	assert.Contains(t, prompt, "Enhance that application")
	assert.Contains(t, prompt, "# CSV Explorer")
	assert.NotContains(t, prompt, "from scratch")
}

func TestBuildPromptWithoutOptionalSections(t *testing.T) {
	prompt, err := generator.BuildPrompt(&generator.Request{
		Task:  "hello",
		Round: 1,
		Brief: "Say hello.",
	})

	require.NoError(t, err)
	assert.NotContains(t, prompt, "evaluated against")
	assert.NotContains(t, prompt, "data files")
}

func TestParseBundleUnfenced(t *testing.T) {
	bundle, err := generator.ParseBundle("<!doctype html>\n<p>hi</p>\n---DOCUMENTATION---\nUsage notes.")

	require.NoError(t, err)
	assert.Equal(t, "<!doctype html>\n<p>hi</p>\n", bundle.Files["index.html"])
	assert.Equal(t, "Usage notes.\n", bundle.Files["README.md"])
}

func TestParseBundleWithoutDocumentation(t *testing.T) {
	bundle, err := generator.ParseBundle("<!doctype html>\n<p>hi</p>")

	require.NoError(t, err)
	require.Len(t, bundle.Files, 1)
	assert.Contains(t, bundle.Files, "index.html")
}

func TestParseBundleKeepsInnerFences(t *testing.T) {
	reply := "```html\n<pre>```js\ncode\n```</pre>\n```\n---DOCUMENTATION---\ndocs"
	bundle, err := generator.ParseBundle(reply)

	require.NoError(t, err)
	assert.Contains(t, bundle.Files["index.html"], "```js")
}

func TestParseBundleEmptyReply(t *testing.T) {
	for _, reply := range []string{"", "   \n", "---DOCUMENTATION---\ndocs only"} {
		_, err := generator.ParseBundle(reply)
		assert.Error(t, err, "reply %q", reply)
	}
}
