// File: internal/engine/cdp/page.go
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/pkg/driver"
)

// opTimeout bounds a single protocol operation. Anything longer means the
// tab is wedged and the caller's own budget should decide what happens next.
const opTimeout = 10 * time.Second

// Page is one browser tab. The embedded chromedp context carries the target;
// callers supply their own context for cancellation and deadlines, and the
// two are combined per operation.
type Page struct {
	engine *Engine
	ctx    context.Context
	logger *zap.Logger

	mu      sync.Mutex
	lastURL string
}

var _ driver.Page = (*Page)(nil)

// run executes actions against this tab under the caller's context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := combineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// eval runs a script and captures its JSON result. Promises are awaited and
// exceptions surface as errors rather than console noise.
func (p *Page) eval(ctx context.Context, script string, out *json.RawMessage) error {
	return p.run(ctx, chromedp.Evaluate(script, out, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	}))
}

// evalError folds a chromedp failure into the fault taxonomy. Cancellation
// wins, a dead tab is permanent for this page, a script syntax error will
// never improve, and everything else is worth another try.
func (p *Page) evalError(ctx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if p.ctx.Err() != nil {
		return schemas.Permanentf("%s: tab is closed: %v", what, err)
	}
	if strings.Contains(err.Error(), "SyntaxError") {
		return schemas.Permanentf("%s: %v", what, err)
	}
	return schemas.Transientf("%s: %v", what, err)
}

// URL reports the tab's current location, falling back to the last known
// address when the tab will not answer.
func (p *Page) URL() string {
	opCtx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()

	var loc string
	if err := chromedp.Run(opCtx, chromedp.Location(&loc)); err != nil {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.lastURL
	}
	p.mu.Lock()
	p.lastURL = loc
	p.mu.Unlock()
	return loc
}

// Locate checks for a single element matching d. A missing element returns
// (nil, nil); the handle re-resolves the descriptor on every later operation
// so it survives DOM churn between probes.
func (p *Page) Locate(ctx context.Context, d schemas.Descriptor) (driver.Element, error) {
	expr, err := locatorExpr(d)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var res json.RawMessage
	if err := p.eval(opCtx, existsScript(expr), &res); err != nil {
		return nil, p.evalError(ctx, err, fmt.Sprintf("locate %s", d))
	}
	if string(res) != "true" {
		return nil, nil
	}
	return &Element{page: p, desc: d, expr: expr}, nil
}

// Element addresses a node by its descriptor rather than a remote object
// reference, so every operation resolves it afresh inside the browser.
type Element struct {
	page *Page
	desc schemas.Descriptor
	expr string
}

var _ driver.Element = (*Element)(nil)

// Visible reports whether the element currently renders. A node that has
// vanished since it was located counts as not visible, not as an error; the
// flake layer above decides how long to keep watching.
func (e *Element) Visible(ctx context.Context) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var res json.RawMessage
	if err := e.page.eval(opCtx, visibleScript(e.expr), &res); err != nil {
		return false, e.page.evalError(ctx, err, fmt.Sprintf("check visibility of %s", e.desc))
	}
	if string(res) == "null" {
		return false, nil
	}
	var visible bool
	if err := json.Unmarshal(res, &visible); err != nil {
		return false, schemas.Transientf("check visibility of %s: unexpected result %s", e.desc, res)
	}
	return visible, nil
}

// Text returns the element's rendered text.
func (e *Element) Text(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var res json.RawMessage
	if err := e.page.eval(opCtx, textScript(e.expr), &res); err != nil {
		return "", e.page.evalError(ctx, err, fmt.Sprintf("read text of %s", e.desc))
	}
	if string(res) == "null" {
		return "", schemas.Transientf("element %s is no longer present", e.desc)
	}
	var text string
	if err := json.Unmarshal(res, &text); err != nil {
		return "", schemas.Transientf("read text of %s: unexpected result %s", e.desc, res)
	}
	return text, nil
}

// Attribute returns the named attribute and whether it is present.
func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var res json.RawMessage
	if err := e.page.eval(opCtx, attributeScript(e.expr, name), &res); err != nil {
		return "", false, e.page.evalError(ctx, err, fmt.Sprintf("read attribute %q of %s", name, e.desc))
	}
	if string(res) == "null" {
		return "", false, schemas.Transientf("element %s is no longer present", e.desc)
	}
	var out struct {
		Found bool   `json:"found"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return "", false, schemas.Transientf("read attribute %q of %s: unexpected result %s", name, e.desc, res)
	}
	return out.Value, out.Found, nil
}

// Click scrolls the element into view and clicks it. Descriptors the
// protocol can address natively go through chromedp actions; text matches
// click through script.
func (e *Element) Click(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if sel, opt, ok := chromedpSelector(e.desc); ok {
		err := e.page.run(opCtx,
			chromedp.ScrollIntoView(sel, opt),
			chromedp.WaitVisible(sel, opt),
			chromedp.Click(sel, opt),
		)
		if err != nil {
			return e.actionError(ctx, opCtx, err, fmt.Sprintf("click %s", e.desc))
		}
		e.page.logger.Debug("Clicked element.", zap.String("descriptor", e.desc.String()))
		return nil
	}

	var res json.RawMessage
	if err := e.page.eval(opCtx, clickScript(e.expr), &res); err != nil {
		return e.page.evalError(ctx, err, fmt.Sprintf("click %s", e.desc))
	}
	if string(res) == "null" {
		return schemas.Transientf("element %s is no longer present", e.desc)
	}
	e.page.logger.Debug("Clicked element via script.", zap.String("descriptor", e.desc.String()))
	return nil
}

// Fill clears the field and types the value so input listeners fire the way
// they would for a real user.
func (e *Element) Fill(ctx context.Context, value string) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if sel, opt, ok := chromedpSelector(e.desc); ok {
		err := e.page.run(opCtx,
			chromedp.ScrollIntoView(sel, opt),
			chromedp.WaitVisible(sel, opt),
			chromedp.SetValue(sel, "", opt),
			chromedp.SendKeys(sel, value, opt),
		)
		if err != nil {
			return e.actionError(ctx, opCtx, err, fmt.Sprintf("fill %s", e.desc))
		}
		return nil
	}

	var res json.RawMessage
	if err := e.page.eval(opCtx, fillScript(e.expr, value), &res); err != nil {
		return e.page.evalError(ctx, err, fmt.Sprintf("fill %s", e.desc))
	}
	if string(res) == "null" {
		return schemas.Transientf("element %s is no longer present", e.desc)
	}
	var out struct {
		OK     bool   `json:"ok"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(res, &out); err != nil {
		return schemas.Transientf("fill %s: unexpected result %s", e.desc, res)
	}
	if !out.OK {
		return schemas.Permanentf("fill %s: %s", e.desc, out.Reason)
	}
	return nil
}

// Dismiss removes the element from the DOM. Overlays and consent dialogs go
// away the same whether a close button was wired up or not.
func (e *Element) Dismiss(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var res json.RawMessage
	if err := e.page.eval(opCtx, removeScript(e.expr), &res); err != nil {
		return e.page.evalError(ctx, err, fmt.Sprintf("dismiss %s", e.desc))
	}
	return nil
}

// actionError classifies a failed chromedp action chain. A deadline here
// usually means WaitVisible never saw the element appear.
func (e *Element) actionError(ctx context.Context, opCtx context.Context, err error, what string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if opCtx.Err() == context.DeadlineExceeded {
		return schemas.Transientf("%s timed out after %v", what, opTimeout)
	}
	if e.page.ctx.Err() != nil {
		return schemas.Permanentf("%s: tab is closed: %v", what, err)
	}
	return schemas.Transientf("%s: %v", what, err)
}
