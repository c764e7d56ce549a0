// File: internal/engine/cdp/selector.go
package cdp

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/forceps/api/schemas"
)

// chromedpSelector compiles a descriptor into a selector string and query
// option for native chromedp actions. The text strategy has no protocol-level
// selector and reports ok=false; callers fall back to script evaluation.
func chromedpSelector(d schemas.Descriptor) (sel string, opt chromedp.QueryOption, ok bool) {
	switch d.Strategy {
	case schemas.StrategyCSS:
		return d.Value, chromedp.ByQuery, true
	case schemas.StrategyID:
		return "#" + d.Value, chromedp.ByID, true
	case schemas.StrategyName:
		return fmt.Sprintf("[name=%s]", strconv.Quote(d.Value)), chromedp.ByQuery, true
	case schemas.StrategyXPath:
		return d.Value, chromedp.BySearch, true
	default:
		return "", nil, false
	}
}

// locatorExpr builds a JS expression that resolves the descriptor to a node
// or null. Every probe script embeds this expression, so a handle never holds
// a remote object reference that could dangle across page mutations.
func locatorExpr(d schemas.Descriptor) (string, error) {
	switch d.Strategy {
	case schemas.StrategyCSS:
		return fmt.Sprintf("document.querySelector(%s)", jsonEncode(d.Value)), nil
	case schemas.StrategyID:
		return fmt.Sprintf("document.getElementById(%s)", jsonEncode(d.Value)), nil
	case schemas.StrategyName:
		return fmt.Sprintf("(document.getElementsByName(%s)[0] || null)", jsonEncode(d.Value)), nil
	case schemas.StrategyXPath:
		return fmt.Sprintf(
			"document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue",
			jsonEncode(d.Value)), nil
	case schemas.StrategyText:
		return fmt.Sprintf(deepestTextExpr, jsonEncode(d.Value)), nil
	default:
		return "", d.Validate()
	}
}

// deepestTextExpr finds the deepest, leftmost element whose collapsed text
// contains the needle, ignoring non-rendered containers. Elements come back
// from querySelectorAll in document order, so a containment check is enough
// to prefer a child over the ancestor that merely includes it.
const deepestTextExpr = `(function(needle) {
	const want = needle.toLowerCase();
	let best = null;
	for (const el of document.querySelectorAll('*')) {
		const tag = el.tagName.toLowerCase();
		if (tag === 'script' || tag === 'style' || tag === 'noscript' || tag === 'template' ||
			tag === 'head' || tag === 'meta' || tag === 'link' || tag === 'title') {
			continue;
		}
		const text = (el.innerText !== undefined ? el.innerText : el.textContent) || '';
		if (!text.replace(/\s+/g, ' ').trim().toLowerCase().includes(want)) continue;
		if (best === null || best.contains(el)) best = el;
	}
	return best;
})(%s)`

func existsScript(expr string) string {
	return fmt.Sprintf(`(function() {
	const node = %s;
	return !!node;
})()`, expr)
}

// visibleScript mirrors what a user can see: the node must have dimensions
// and must not be styled away. A vanished node yields null rather than false
// so callers can tell "gone" from "present but hidden".
func visibleScript(expr string) string {
	return fmt.Sprintf(`(function() {
	const node = %s;
	if (!node) return null;
	const rect = node.getBoundingClientRect();
	const style = window.getComputedStyle(node);
	return rect.width > 0 && rect.height > 0 &&
		style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
})()`, expr)
}

func textScript(expr string) string {
	return fmt.Sprintf(`(function() {
	const node = %s;
	if (!node) return null;
	const text = node.innerText !== undefined ? node.innerText : node.textContent;
	return text || '';
})()`, expr)
}

func attributeScript(expr, name string) string {
	return fmt.Sprintf(`(function() {
	const node = %s;
	if (!node) return null;
	const value = node.getAttribute(%s);
	return value === null ? { found: false, value: '' } : { found: true, value: value };
})()`, expr, jsonEncode(name))
}

func clickScript(expr string) string {
	return fmt.Sprintf(`(function() {
	const node = %s;
	if (!node) return null;
	node.scrollIntoView({ block: 'center', inline: 'center' });
	node.click();
	return true;
})()`, expr)
}

func fillScript(expr, value string) string {
	return fmt.Sprintf(`(function() {
	const node = %s;
	if (!node) return null;
	const tag = node.tagName.toLowerCase();
	if (tag !== 'input' && tag !== 'textarea' && tag !== 'select') {
		return { ok: false, reason: 'cannot fill a <' + tag + '> element' };
	}
	node.focus();
	node.value = %s;
	node.dispatchEvent(new Event('input', { bubbles: true }));
	node.dispatchEvent(new Event('change', { bubbles: true }));
	return { ok: true };
})()`, expr, jsonEncode(value))
}

// removeScript detaches the node, the DOM equivalent of waving a dialog away.
// A node that is already gone counts as removed.
func removeScript(expr string) string {
	return fmt.Sprintf(`(function() {
	const node = %s;
	if (!node) return true;
	node.remove();
	return true;
})()`, expr)
}

// jsonEncode makes a value safe to splice into a script as a literal.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
