package httpbrowser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// selector is a list of compound selectors joined by the descendant combinator.
type selector []compound

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	key      string
	value    string
	hasValue bool
}

// parseSelector supports tag, #id, .class, [attr] and [attr=value] parts and
// descendant combinators, e.g. `form#new-thing input[name=title]`.
func parseSelector(s string) (selector, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	sel := make(selector, 0, len(fields))
	for _, f := range fields {
		c, err := parseCompound(f)
		if err != nil {
			return nil, fmt.Errorf("invalid selector %q: %w", s, err)
		}
		sel = append(sel, c)
	}
	return sel, nil
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	readName := func() string {
		start := i
		for i < len(s) && s[i] != '#' && s[i] != '.' && s[i] != '[' {
			i++
		}
		return s[start:i]
	}

	c.tag = strings.ToLower(readName())
	for i < len(s) {
		switch s[i] {
		case '#':
			i++
			c.id = readName()
			if c.id == "" {
				return c, fmt.Errorf("empty id")
			}
		case '.':
			i++
			class := readName()
			if class == "" {
				return c, fmt.Errorf("empty class")
			}
			c.classes = append(c.classes, class)
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute")
			}
			body := s[i+1 : i+end]
			i += end + 1
			key, value, hasValue := strings.Cut(body, "=")
			if key == "" {
				return c, fmt.Errorf("empty attribute name")
			}
			c.attrs = append(c.attrs, attrMatch{
				key:      strings.ToLower(key),
				value:    strings.Trim(value, `"'`),
				hasValue: hasValue,
			})
		}
	}
	if c.tag == "*" {
		c.tag = ""
	}
	return c, nil
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range c.classes {
			found := false
			for _, h := range have {
				if h == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		v, ok := lookupAttr(n, a.key)
		if !ok || (a.hasValue && v != a.value) {
			return false
		}
	}
	return true
}

func (sel selector) matches(n *html.Node) bool {
	last := len(sel) - 1
	if !sel[last].matches(n) {
		return false
	}
	i := last - 1
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if sel[i].matches(p) {
			i--
		}
	}
	return i < 0
}

// queryAll returns matching elements in document order.
func (sel selector) queryAll(root *html.Node) []*html.Node {
	var result []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if sel.matches(n) {
			result = append(result, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if root != nil {
		walk(root)
	}
	return result
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

// textContent concatenates all text below n, skipping scripts and styles.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			sb.WriteString(n.Data)
		case n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style):
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func closest(n *html.Node, a atom.Atom) *html.Node {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == a {
			return p
		}
	}
	return nil
}
