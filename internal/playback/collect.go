package playback

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tjbishop07/autoteller/api/schemas"
)

// tagAttr is the temporary attribute the collector stamps on every candidate
// so the executor can address the chosen element without re-querying. Values
// are pass-scoped: "<nonce>-<index>".
const tagAttr = "data-autoteller-id"

// interactiveSelectors is the default candidate set scanned when the
// fingerprint does not restrict by role.
const interactiveSelectors = `button, a, input, select, textarea, [role="button"], [role="link"], [tabindex]`

// roleSelectors maps a recorded role to the concrete tag/attribute selectors
// that can fulfill it on a live page.
func roleSelectors(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "button":
		return `button, [role="button"], input[type="submit"], input[type="button"]`
	case "link", "a":
		return `a, [role="link"]`
	case "textbox", "input":
		return `input, textarea, [role="textbox"]`
	case "combobox", "select", "listbox":
		return `select, [role="combobox"], [role="listbox"]`
	case "checkbox":
		return `input[type="checkbox"], [role="checkbox"]`
	case "radio":
		return `input[type="radio"], [role="radio"]`
	default:
		return interactiveSelectors
	}
}

// collectScript gathers every candidate element into structured data and tags
// it for later addressing, in a single evaluation. No scoring happens in the
// page: invisible and disabled elements are reported, not filtered, so the
// host-side scorer can apply the visibility veto itself.
const collectScript = `
(function(selectors, tagAttr, nonce) {
    const results = [];
    const seen = new Set();
    const maxText = 120;
    const maxHTML = 300;

    const isVisible = (el) => {
        const style = window.getComputedStyle(el);
        if (style.visibility === 'hidden' || style.display === 'none') return false;
        const rect = el.getBoundingClientRect();
        return rect.width > 0 && rect.height > 0;
    };

    document.querySelectorAll(selectors).forEach((el) => {
        if (seen.has(el)) return;
        seen.add(el);

        const index = results.length;
        const rect = el.getBoundingClientRect();
        const parent = el.parentElement;

        let text = (el.textContent || '').trim().replace(/\s+/g, ' ');
        if (text.length > maxText) text = text.substring(0, maxText);

        let outer = el.outerHTML || '';
        if (outer.length > maxHTML) outer = outer.substring(0, maxHTML);

        results.push({
            index: index,
            tag: el.tagName.toLowerCase(),
            role: el.getAttribute('role') || '',
            text: text,
            ariaLabel: el.getAttribute('aria-label') || '',
            placeholder: el.getAttribute('placeholder') || '',
            title: el.getAttribute('title') || '',
            href: el.getAttribute('href') || '',
            inputType: el.getAttribute('type') || '',
            parentRole: parent ? (parent.getAttribute('role') || parent.tagName.toLowerCase()) : '',
            parentClass: parent ? (parent.className || '') : '',
            visible: isVisible(el),
            disabled: !!(el.disabled || el.getAttribute('aria-disabled') === 'true'),
            rect: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
            outerHTML: outer
        });

        el.setAttribute(tagAttr, nonce + '-' + index);
    });

    return results;
})(%s, %s, %s)
`

// collector runs the in-page collection pass and owns the temporary tag
// attribute lifecycle.
type collector struct {
	logger *zap.Logger
}

func newCollector(logger *zap.Logger) *collector {
	return &collector{logger: logger.Named("collector")}
}

// collect evaluates the collection script against the page and returns the
// structured candidate list plus the pass nonce used to address elements.
func (c *collector) collect(ctx context.Context, pg schemas.Page, fp schemas.Fingerprint) ([]schemas.PageElement, string, error) {
	selectors := interactiveSelectors
	if fp.Role != "" {
		selectors = roleSelectors(fp.Role)
	}

	nonce := uuid.NewString()
	script := fmt.Sprintf(collectScript, jsString(selectors), jsString(tagAttr), jsString(nonce))

	var elements []schemas.PageElement
	if err := pg.Evaluate(ctx, script, &elements); err != nil {
		return nil, "", fmt.Errorf("candidate collection failed: %w", err)
	}
	return elements, nonce, nil
}

// elementSelector returns the CSS selector addressing one collected element
// for the remainder of its pass.
func elementSelector(nonce string, index int) string {
	return fmt.Sprintf(`[%s="%s-%d"]`, tagAttr, nonce, index)
}

// cleanup strips the pass tags off the page. It runs in the background with
// its own deadline so a slow page cannot stall the step pipeline.
func (c *collector) cleanup(pg schemas.Page) {
	if pg.IsClosed() {
		return
	}
	script := fmt.Sprintf(`
(function() {
    document.querySelectorAll('[%s]').forEach((el) => el.removeAttribute('%s'));
})()`, tagAttr, tagAttr)

	go func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := pg.Evaluate(cleanupCtx, script, nil); err != nil && cleanupCtx.Err() == nil {
			c.logger.Debug("Failed to clean up candidate tags.", zap.Error(err))
		}
	}()
}

// jsString safely encodes a Go string as a JS string literal.
func jsString(v string) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
