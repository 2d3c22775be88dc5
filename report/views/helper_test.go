package views

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/networkteam/uiharness/artifact"
)

func renderItem(t *testing.T, item Item) string {
	t.Helper()
	var sb strings.Builder
	require.NoError(t, itemContent(item).Render(context.Background(), &sb))
	return sb.String()
}

func TestItemContent_HighlightsDOM(t *testing.T) {
	out := renderItem(t, Item{Name: artifact.ItemDOM, Content: `<h1 id="header">Other</h1>`})

	assert.Contains(t, out, `class="chroma"`)
	assert.NotContains(t, out, `<h1 id="header">`, "markup is escaped")
}

func TestItemContent_PlainItems(t *testing.T) {
	for _, name := range []string{artifact.ItemConsole, artifact.ItemStackTrace} {
		out := renderItem(t, Item{Name: name, Content: "GET /my-new-page -> 200 <b>"})

		assert.Equal(t, `<pre class="plain">GET /my-new-page -&gt; 200 &lt;b&gt;</pre>`+"\n", out, name)
	}
}
