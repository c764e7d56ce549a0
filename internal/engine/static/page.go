// File: internal/engine/static/page.go
package static

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/pkg/driver"
)

// Page is one parsed document plus the state a real browser would keep for
// it: current URL and the mutations clicks and fills have applied. All access
// is serialized through one mutex because navigation swaps the whole tree.
type Page struct {
	engine *Engine

	mu   sync.Mutex
	url  *url.URL
	root *html.Node
	gen  int
}

var _ driver.Page = (*Page)(nil)

// URL reports the page's current address.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.String()
}

// Locate finds the first element matching d in document order. A missing
// element returns (nil, nil); an unusable descriptor is a permanent error.
func (p *Page) Locate(ctx context.Context, d schemas.Descriptor) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	node, err := p.locate(d)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, nil
	}
	return &Element{page: p, node: node, gen: p.gen}, nil
}

func (p *Page) locate(d schemas.Descriptor) (*html.Node, error) {
	switch d.Strategy {
	case schemas.StrategyCSS:
		chain, err := parseSelector(d.Value)
		if err != nil {
			return nil, err
		}
		return findFirst(p.root, func(n *html.Node) bool {
			return matchesChain(n, chain)
		}), nil
	case schemas.StrategyID:
		return findFirst(p.root, func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return false
			}
			id, ok := lookupAttr(n, "id")
			return ok && id == d.Value
		}), nil
	case schemas.StrategyName:
		return findFirst(p.root, func(n *html.Node) bool {
			if n.Type != html.ElementNode {
				return false
			}
			name, ok := lookupAttr(n, "name")
			return ok && name == d.Value
		}), nil
	case schemas.StrategyText:
		return findDeepestText(p.root, d.Value), nil
	case schemas.StrategyXPath:
		return nil, schemas.Permanentf("xpath descriptors are not supported by the static engine, rewrite %q as css", d.Value)
	default:
		return nil, d.Validate()
	}
}

// Element is a handle to one node of a Page. It goes stale when the page
// navigates or the node is detached from the tree.
type Element struct {
	page *Page
	node *html.Node
	gen  int
}

var _ driver.Element = (*Element)(nil)

// checkAttached verifies the handle still points into the live tree. Callers
// must hold the page mutex.
func (e *Element) checkAttached() error {
	if e.gen != e.page.gen {
		return schemas.Transientf("element is stale: page navigated since it was located")
	}
	for n := e.node; n != nil; n = n.Parent {
		if n == e.page.root {
			return nil
		}
	}
	return schemas.Transientf("element is detached from the document")
}

// Visible reports whether the element would be rendered: it and every
// ancestor must be free of hidden markers.
func (e *Element) Visible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.checkAttached(); err != nil {
		return false, err
	}
	for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if isMetadataElement(n) {
			return false, nil
		}
		if _, hidden := lookupAttr(n, "hidden"); hidden {
			return false, nil
		}
		if aria, ok := lookupAttr(n, "aria-hidden"); ok && aria == "true" {
			return false, nil
		}
		if style, ok := lookupAttr(n, "style"); ok && styleHides(style) {
			return false, nil
		}
		if n.Data == "input" {
			if typ, ok := lookupAttr(n, "type"); ok && strings.EqualFold(typ, "hidden") {
				return false, nil
			}
		}
	}
	return true, nil
}

func styleHides(style string) bool {
	style = strings.ToLower(strings.ReplaceAll(style, " ", ""))
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// Text returns the element's rendered text with whitespace collapsed.
func (e *Element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.checkAttached(); err != nil {
		return "", err
	}
	return innerText(e.node), nil
}

// Attribute returns the named attribute and whether it is present.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.checkAttached(); err != nil {
		return "", false, err
	}
	v, ok := lookupAttr(e.node, strings.ToLower(name))
	return v, ok, nil
}

// Click follows links and submits forms; that is all a scriptless engine can
// honestly do. Anchors navigate, submit controls post their enclosing form,
// checkboxes and radios toggle. Anything else is a permanent error rather
// than a silent no-op.
func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.checkAttached(); err != nil {
		return err
	}

	n := e.node
	switch {
	case n.Data == "a":
		href, ok := lookupAttr(n, "href")
		if !ok || strings.TrimSpace(href) == "" {
			return schemas.Permanentf("anchor has no href to follow")
		}
		return e.page.navigate(ctx, href)
	case isSubmitControl(n):
		form := enclosingForm(n)
		if form == nil {
			return schemas.Permanentf("submit control is not inside a form")
		}
		return e.page.submitForm(ctx, form, n)
	case n.Data == "input" && isToggleType(n):
		if _, checked := lookupAttr(n, "checked"); checked {
			removeAttr(n, "checked")
		} else {
			setAttr(n, "checked", "checked")
		}
		return nil
	default:
		return schemas.Permanentf("static engine cannot click a <%s> element; it only follows links and submits forms", n.Data)
	}
}

// Fill replaces the control's value.
func (e *Element) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.checkAttached(); err != nil {
		return err
	}

	switch e.node.Data {
	case "input", "textarea", "select":
		setAttr(e.node, "value", value)
		return nil
	default:
		return schemas.Permanentf("cannot fill a <%s> element", e.node.Data)
	}
}

// Dismiss removes the element's subtree, the closest a static DOM comes to
// closing a dialog.
func (e *Element) Dismiss(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	if err := e.checkAttached(); err != nil {
		return err
	}
	if e.node.Parent == nil {
		return schemas.Permanentf("cannot dismiss the document root")
	}
	e.node.Parent.RemoveChild(e.node)
	return nil
}

// navigate fetches target relative to the current URL and swaps in the new
// document. Callers must hold the page mutex.
func (p *Page) navigate(ctx context.Context, target string) error {
	ref, err := url.Parse(target)
	if err != nil {
		return schemas.Permanentf("href %q is not a valid URL: %v", target, err)
	}
	dest := p.url.ResolveReference(ref)

	root, finalURL, err := p.engine.fetch(ctx, "GET", dest, nil, "")
	if err != nil {
		return err
	}
	p.root = root
	p.url = finalURL
	p.gen++
	return nil
}

// submitForm serializes the form's controls and performs the GET or POST.
// Callers must hold the page mutex.
func (p *Page) submitForm(ctx context.Context, form *html.Node, submitter *html.Node) error {
	values := formValues(form, submitter)

	action := p.url
	if raw, ok := lookupAttr(form, "action"); ok && strings.TrimSpace(raw) != "" {
		ref, err := url.Parse(raw)
		if err != nil {
			return schemas.Permanentf("form action %q is not a valid URL: %v", raw, err)
		}
		action = p.url.ResolveReference(ref)
	}

	method := "GET"
	if m, ok := lookupAttr(form, "method"); ok && strings.EqualFold(m, "post") {
		method = "POST"
	}

	var (
		root     *html.Node
		finalURL *url.URL
		err      error
	)
	if method == "GET" {
		// Form data replaces any query the action carried.
		dest := *action
		dest.RawQuery = values.Encode()
		root, finalURL, err = p.engine.fetch(ctx, "GET", &dest, nil, "")
	} else {
		body := strings.NewReader(values.Encode())
		root, finalURL, err = p.engine.fetch(ctx, "POST", action, body, "application/x-www-form-urlencoded")
	}
	if err != nil {
		return err
	}
	p.root = root
	p.url = finalURL
	p.gen++
	return nil
}

// formValues builds the submission data set: named controls that are enabled
// and, for checkboxes and radios, checked. The clicked submit control
// contributes its own name/value pair.
func formValues(form *html.Node, submitter *html.Node) url.Values {
	values := url.Values{}
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name, hasName := lookupAttr(n, "name")
			_, disabled := lookupAttr(n, "disabled")
			if hasName && name != "" && !disabled {
				switch n.Data {
				case "input":
					typ, _ := lookupAttr(n, "type")
					typ = strings.ToLower(typ)
					switch typ {
					case "submit", "button", "reset", "image", "file":
						if n == submitter {
							v, _ := lookupAttr(n, "value")
							values.Add(name, v)
						}
					case "checkbox", "radio":
						if _, checked := lookupAttr(n, "checked"); checked {
							v, ok := lookupAttr(n, "value")
							if !ok {
								v = "on"
							}
							values.Add(name, v)
						}
					default:
						v, _ := lookupAttr(n, "value")
						values.Add(name, v)
					}
				case "textarea":
					if v, ok := lookupAttr(n, "value"); ok {
						values.Add(name, v)
					} else {
						values.Add(name, innerText(n))
					}
				case "select":
					values.Add(name, selectValue(n))
				case "button":
					if n == submitter {
						v, _ := lookupAttr(n, "value")
						values.Add(name, v)
					}
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(form)
	return values
}

// selectValue picks the filled value, the selected option, or the first
// option, in that order.
func selectValue(sel *html.Node) string {
	if v, ok := lookupAttr(sel, "value"); ok {
		return v
	}
	var first, selected *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "option" {
			if first == nil {
				first = n
			}
			if _, ok := lookupAttr(n, "selected"); ok && selected == nil {
				selected = n
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(sel)
	pick := selected
	if pick == nil {
		pick = first
	}
	if pick == nil {
		return ""
	}
	if v, ok := lookupAttr(pick, "value"); ok {
		return v
	}
	return innerText(pick)
}

func isSubmitControl(n *html.Node) bool {
	switch n.Data {
	case "button":
		typ, ok := lookupAttr(n, "type")
		return !ok || strings.EqualFold(typ, "submit")
	case "input":
		typ, _ := lookupAttr(n, "type")
		return strings.EqualFold(typ, "submit")
	}
	return false
}

func isToggleType(n *html.Node) bool {
	typ, _ := lookupAttr(n, "type")
	typ = strings.ToLower(typ)
	return typ == "checkbox" || typ == "radio"
}

func enclosingForm(n *html.Node) *html.Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && cur.Data == "form" {
			return cur
		}
	}
	return nil
}

func setAttr(n *html.Node, key, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: value})
}

func removeAttr(n *html.Node, key string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
