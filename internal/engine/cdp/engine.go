// File: internal/engine/cdp/engine.go

// Package cdp drives a real Chromium over the DevTools protocol. It is the
// engine for targets that need script execution; each opened page is a tab
// under one shared browser process.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/pkg/driver"
)

// Engine owns the browser process. Tabs share its allocator and die with it.
type Engine struct {
	cfg    config.EngineConfig
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu         sync.Mutex
	tabCancels []context.CancelFunc
	closed     bool
}

var _ driver.Engine = (*Engine)(nil)

// New prepares the allocator and browser contexts. The browser process
// itself launches lazily on the first opened page.
func New(cfg config.EngineConfig, logger *zap.Logger) (*Engine, error) {
	log := logger.Named("cdp")

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	ctxOpts := []chromedp.ContextOption{
		chromedp.WithLogf(log.Sugar().Debugf),
		chromedp.WithErrorf(log.Sugar().Errorf),
	}
	if cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(log.Sugar().Debugf))
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, ctxOpts...)

	return &Engine{
		cfg:           cfg,
		logger:        log,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// allocatorOptions translates the engine configuration into Chromium launch
// flags, starting from defaults that hold up in CI.
func allocatorOptions(cfg config.EngineConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(key, true))
		}
	}
	return opts
}

// Open creates a tab, navigates it, and waits out the configured stabilize
// period so late reflows settle before anyone starts locating elements.
func (e *Engine) Open(ctx context.Context, rawURL string) (driver.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, schemas.Permanentf("open %q: %v", rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, schemas.Permanentf("open %q: need an absolute http or https URL", rawURL)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, schemas.Permanentf("open %q: engine is closed", rawURL)
	}
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	e.tabCancels = append(e.tabCancels, tabCancel)
	e.mu.Unlock()

	page := &Page{engine: e, ctx: tabCtx, logger: e.logger, lastURL: rawURL}

	navTimeout := e.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 90 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	e.logger.Info("Navigating.", zap.String("url", rawURL))
	if err := page.run(navCtx, chromedp.Navigate(rawURL)); err != nil {
		tabCancel()
		if navCtx.Err() == context.DeadlineExceeded {
			return nil, schemas.Transientf("navigation to %s timed out after %v", rawURL, navTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, schemas.Transientf("navigation to %s failed: %v", rawURL, err)
	}

	if wait := e.cfg.StabilizeWait; wait > 0 {
		e.logger.Debug("Stabilizing page post-navigation.", zap.Duration("wait", wait))
		if err := page.run(ctx, chromedp.Sleep(wait)); err != nil {
			tabCancel()
			return nil, err
		}
	}
	return page, nil
}

// Close tears down every tab and then the browser itself, waiting for the
// process to exit until ctx gives up on it.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancels := e.tabCancels
	e.tabCancels = nil
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}

	// chromedp.Cancel blocks until the browser exits, so bound it with ctx.
	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(e.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.logger.Warn("Browser shutdown timed out, forcing.", zap.Error(err))
	}

	e.browserCancel()
	e.allocCancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("browser shutdown: %w", err)
	}
	return nil
}

// combineContext derives an operation context from the primary context,
// which carries the CDP target, and additionally cancels it when the
// secondary context ends. Deriving from the primary keeps chromedp's
// connection values intact.
func combineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
