// File: internal/engine/static/selector.go
package static

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// The static engine understands a deliberately small CSS subset: tag, #id,
// .class, [attr], [attr=v], [attr*=v], [attr^=v], [attr$=v], and descendant
// chains separated by whitespace. Alternatives belong in the descriptor
// candidate list, so commas are rejected rather than silently mis-parsed.
// Pseudo-selectors like :has-text are rejected too; the text strategy covers
// that ground.

type attrOp int

const (
	attrPresent attrOp = iota
	attrEquals
	attrContains
	attrPrefix
	attrSuffix
)

type attrCond struct {
	key   string
	op    attrOp
	value string
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrCond
}

// parseSelector splits a selector into a descendant chain of compounds.
func parseSelector(s string) ([]compound, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, schemas.Permanentf("empty selector")
	}
	if strings.Contains(s, ",") {
		return nil, schemas.Permanentf("selector %q contains a comma; use ordered descriptor candidates for alternatives", s)
	}
	if strings.Contains(s, ":") {
		return nil, schemas.Permanentf("selector %q uses a pseudo-selector, which the static engine does not support", s)
	}
	if strings.ContainsAny(s, ">+~") {
		return nil, schemas.Permanentf("selector %q uses an unsupported combinator; only descendant chains are supported", s)
	}

	fields := strings.Fields(s)
	chain := make([]compound, 0, len(fields))
	for _, f := range fields {
		c, err := parseCompound(f)
		if err != nil {
			return nil, err
		}
		chain = append(chain, c)
	}
	return chain, nil
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0

	readName := func() string {
		start := i
		for i < len(s) && isNameByte(s[i]) {
			i++
		}
		return s[start:i]
	}

	if i < len(s) && s[i] != '#' && s[i] != '.' && s[i] != '[' {
		if s[i] == '*' {
			i++
		} else {
			tag := readName()
			if tag == "" {
				return c, schemas.Permanentf("selector %q: unexpected %q", s, s[i])
			}
			c.tag = strings.ToLower(tag)
		}
	}

	for i < len(s) {
		switch s[i] {
		case '#':
			i++
			id := readName()
			if id == "" {
				return c, schemas.Permanentf("selector %q: empty id", s)
			}
			c.id = id
		case '.':
			i++
			class := readName()
			if class == "" {
				return c, schemas.Permanentf("selector %q: empty class", s)
			}
			c.classes = append(c.classes, class)
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, schemas.Permanentf("selector %q: unterminated attribute selector", s)
			}
			cond, err := parseAttrCond(s[i+1 : i+end])
			if err != nil {
				return c, schemas.Permanentf("selector %q: %v", s, err)
			}
			c.attrs = append(c.attrs, cond)
			i += end + 1
		default:
			return c, schemas.Permanentf("selector %q: unexpected %q", s, s[i])
		}
	}
	return c, nil
}

func parseAttrCond(expr string) (attrCond, error) {
	ops := []struct {
		token string
		op    attrOp
	}{
		{"*=", attrContains},
		{"^=", attrPrefix},
		{"$=", attrSuffix},
		{"=", attrEquals},
	}
	for _, o := range ops {
		if key, value, found := strings.Cut(expr, o.token); found {
			key = strings.TrimSpace(key)
			if key == "" {
				return attrCond{}, fmt.Errorf("empty attribute name")
			}
			value = strings.Trim(strings.TrimSpace(value), `'"`)
			return attrCond{key: strings.ToLower(key), op: o.op, value: value}, nil
		}
	}
	key := strings.TrimSpace(expr)
	if key == "" {
		return attrCond{}, fmt.Errorf("empty attribute selector")
	}
	return attrCond{key: strings.ToLower(key), op: attrPresent}, nil
}

func isNameByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '-' || b == '_'
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" {
		if id, ok := lookupAttr(n, "id"); !ok || id != c.id {
			return false
		}
	}
	for _, class := range c.classes {
		if !hasClass(n, class) {
			return false
		}
	}
	for _, cond := range c.attrs {
		v, ok := lookupAttr(n, cond.key)
		if !ok {
			return false
		}
		switch cond.op {
		case attrPresent:
		case attrEquals:
			if v != cond.value {
				return false
			}
		case attrContains:
			if !strings.Contains(v, cond.value) {
				return false
			}
		case attrPrefix:
			if !strings.HasPrefix(v, cond.value) {
				return false
			}
		case attrSuffix:
			if !strings.HasSuffix(v, cond.value) {
				return false
			}
		}
	}
	return true
}

// matchesChain reports whether n matches the final compound and has ancestors
// matching the earlier ones in order.
func matchesChain(n *html.Node, chain []compound) bool {
	if len(chain) == 0 {
		return false
	}
	if !chain[len(chain)-1].matches(n) {
		return false
	}
	ancestor := n.Parent
	for i := len(chain) - 2; i >= 0; i-- {
		for {
			if ancestor == nil {
				return false
			}
			if chain[i].matches(ancestor) {
				ancestor = ancestor.Parent
				break
			}
			ancestor = ancestor.Parent
		}
	}
	return true
}

// findFirst walks the tree in document order and returns the first node the
// predicate accepts.
func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	if root == nil {
		return nil
	}
	if pred(root) {
		return root
	}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if found := findFirst(child, pred); found != nil {
			return found
		}
	}
	return nil
}

// findDeepestText returns the first element in document order whose inner text
// contains needle (case-insensitive) and that has no matching descendant. The
// deepest match is the one a user would point at.
func findDeepestText(root *html.Node, needle string) *html.Node {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return nil
	}
	var walk func(n *html.Node) *html.Node
	walk = func(n *html.Node) *html.Node {
		if n == nil {
			return nil
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if found := walk(child); found != nil {
				return found
			}
		}
		if n.Type == html.ElementNode && !isMetadataElement(n) {
			if strings.Contains(strings.ToLower(innerText(n)), needle) {
				return n
			}
		}
		return nil
	}
	return walk(root)
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasClass(n *html.Node, class string) bool {
	raw, ok := lookupAttr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(raw) {
		if c == class {
			return true
		}
	}
	return false
}

func isMetadataElement(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "head", "meta", "link", "title", "noscript", "template":
		return true
	}
	return false
}

// innerText concatenates the visible text nodes under n, skipping metadata
// subtrees, and collapses runs of whitespace the way a renderer would.
func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && isMetadataElement(n) {
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
