package playback

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// condenseAttrs are the attributes worth keeping when summarizing an element
// for the diagnostic log.
var condenseAttrs = map[string]bool{
	"id":          true,
	"class":       true,
	"name":        true,
	"type":        true,
	"role":        true,
	"href":        true,
	"aria-label":  true,
	"placeholder": true,
}

// condenseHTML reduces an outerHTML snippet to a compact single-line summary
// of the element's start tag and collapsed text, capped at maxLen runes. The
// collector already truncates snippets, so fragments may be unterminated; the
// tolerant parser handles that.
func condenseHTML(snippet string, maxLen int) string {
	snippet = strings.TrimSpace(snippet)
	if snippet == "" {
		return ""
	}

	node, err := firstElement(snippet)
	if err != nil || node == nil {
		return truncate(collapseSpace(snippet), maxLen)
	}

	var b strings.Builder
	b.WriteString("<")
	b.WriteString(node.Data)
	for _, attr := range node.Attr {
		if !condenseAttrs[attr.Key] {
			continue
		}
		b.WriteString(" ")
		b.WriteString(attr.Key)
		b.WriteString(`="`)
		b.WriteString(attr.Val)
		b.WriteString(`"`)
	}
	b.WriteString(">")

	if text := collapseSpace(nodeText(node)); text != "" {
		b.WriteString(text)
	}
	return truncate(b.String(), maxLen)
}

// firstElement parses the fragment and returns its first element node.
func firstElement(fragment string) (*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			return n, nil
		}
	}
	return nil, nil
}

// nodeText walks the subtree collecting text content.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "…"
}
