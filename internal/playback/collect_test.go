package playback

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
)

func TestCollectReturnsElementsAndNonce(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	pg.setElements([]schemas.PageElement{loginButton(), usernameInput()})

	c := newCollector(zap.NewNop())
	elements, nonce, err := c.collect(context.Background(), pg, schemas.Fingerprint{Text: "Log In"})

	require.NoError(t, err)
	assert.Len(t, elements, 2)
	assert.NotEmpty(t, nonce)

	require.Len(t, pg.scripts, 1)
	assert.Contains(t, pg.scripts[0], nonce, "the pass nonce is embedded in the script")
	assert.Contains(t, pg.scripts[0], tagAttr)
}

func TestRoleSelectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role string
		want string
	}{
		{"button", `button, [role="button"], input[type="submit"], input[type="button"]`},
		{"link", `a, [role="link"]`},
		{"a", `a, [role="link"]`},
		{"textbox", `input, textarea, [role="textbox"]`},
		{"input", `input, textarea, [role="textbox"]`},
		{"combobox", `select, [role="combobox"], [role="listbox"]`},
		{"select", `select, [role="combobox"], [role="listbox"]`},
		{"checkbox", `input[type="checkbox"], [role="checkbox"]`},
		{"radio", `input[type="radio"], [role="radio"]`},
		{"  Button ", `button, [role="button"], input[type="submit"], input[type="button"]`},
		{"", interactiveSelectors},
		{"menuitem", interactiveSelectors},
	}
	for _, tc := range tests {
		tc := tc
		t.Run("role "+strings.TrimSpace(tc.role), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, roleSelectors(tc.role))
		})
	}
}

func TestCollectNarrowsScanByRole(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	c := newCollector(zap.NewNop())
	_, _, err := c.collect(context.Background(), pg, schemas.Fingerprint{Role: "checkbox"})

	require.NoError(t, err)
	require.Len(t, pg.scripts, 1)
	assert.Contains(t, pg.scripts[0], "checkbox")
	assert.NotContains(t, pg.scripts[0], "tabindex", "a recorded role narrows the candidate scan")
}

func TestElementSelectorFormat(t *testing.T) {
	t.Parallel()

	sel := elementSelector("f81d4fae-7dec", 4)
	assert.Equal(t, `[data-autoteller-id="f81d4fae-7dec-4"]`, sel)
}

func TestCleanupRemovesTagsAsynchronously(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	c := newCollector(zap.NewNop())
	c.cleanup(pg)

	assert.Eventually(t, func() bool {
		return pg.scriptCount("removeAttribute") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCleanupSkipsClosedPage(t *testing.T) {
	t.Parallel()

	pg := newFakePage()
	pg.closed = true

	c := newCollector(zap.NewNop())
	c.cleanup(pg)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, pg.scriptCount("removeAttribute"))
}

func TestJSStringEscapes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"plain"`, jsString("plain"))
	assert.Equal(t, `"with \"quotes\""`, jsString(`with "quotes"`))

	escaped := jsString("line\nbreak</script>")
	assert.NotContains(t, escaped, "\n", "newlines must not break the script literal")
	assert.True(t, strings.HasPrefix(escaped, `"`))
	assert.True(t, strings.HasSuffix(escaped, `"`))
}
