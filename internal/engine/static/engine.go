// File: internal/engine/static/engine.go

// Package static drives pages over plain HTTP: fetch, parse, and mutate an
// HTML tree without a browser. No scripts run, so it suits server-rendered
// targets where a full browser is overkill, and interactions are limited to
// what markup alone can express.
package static

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/pkg/driver"
)

const (
	defaultUserAgent = "forceps/1.0 (+https://github.com/xkilldash9x/forceps)"

	dialKeepAlive       = 30 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	maxIdleConns        = 32
	maxIdleConnsPerHost = 8
	idleConnTimeout     = 90 * time.Second
)

// Engine fetches and parses pages with a cookie-aware HTTP client. Outgoing
// requests share one rate limiter so a scenario cannot hammer the target.
type Engine struct {
	cfg     config.EngineConfig
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter
}

var _ driver.Engine = (*Engine)(nil)

// New builds a static engine from the engine configuration. The rate limit
// comes from RequestsPerSecond; a non-positive value disables limiting.
func New(cfg config.EngineConfig, logger *zap.Logger) (*Engine, error) {
	// cookiejar.New only errors on invalid options and we pass none.
	jar, _ := cookiejar.New(nil)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.IgnoreTLSErrors, //nolint:gosec // operator opt-in for lab targets
		},
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   true,
		// The decompress transport negotiates encodings itself, including
		// brotli, so the built-in gzip handling must stay out of the way.
		DisableCompression: true,
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Engine{
		cfg:    cfg,
		logger: logger.Named("static"),
		client: &http.Client{
			Transport: newDecompressTransport(transport),
			Jar:       jar,
			Timeout:   cfg.NavigationTimeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Open fetches url and returns a page positioned on the parsed document.
func (e *Engine) Open(ctx context.Context, rawURL string) (driver.Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, schemas.Permanentf("open %q: %v", rawURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, schemas.Permanentf("open %q: need an absolute http or https URL", rawURL)
	}

	e.logger.Debug("Opening page.", zap.String("url", u.String()))
	root, finalURL, err := e.fetch(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}
	return &Page{engine: e, url: finalURL, root: root, gen: 1}, nil
}

// Close releases pooled connections. Pages opened earlier keep working on
// their in-memory trees but can no longer navigate usefully.
func (e *Engine) Close(ctx context.Context) error {
	e.client.CloseIdleConnections()
	e.logger.Debug("Static engine closed.")
	return nil
}

// fetch performs one rate-limited request and parses the response as HTML.
// The returned URL is the final one after redirects.
func (e *Engine) fetch(ctx context.Context, method string, u *url.URL, body io.Reader, contentType string) (*html.Node, *url.URL, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, nil, schemas.Permanentf("build request for %s: %v", u, err)
	}
	ua := e.cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, schemas.Transientf("%s %s: %v", method, u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		// Drain so the connection can be reused before we give up on it.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, nil, schemas.Transientf("%s %s returned status %d", method, u, resp.StatusCode)
		}
		return nil, nil, schemas.Permanentf("%s %s returned status %d", method, u, resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return nil, nil, schemas.Permanentf("%s %s returned %q, not an HTML document", method, u, ct)
	}

	root, err := html.Parse(resp.Body)
	if err != nil {
		return nil, nil, schemas.Transientf("parse response from %s: %v", u, err)
	}

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	e.logger.Debug("Fetched document.",
		zap.String("method", method),
		zap.String("url", finalURL.String()),
		zap.Int("status", resp.StatusCode))
	return root, finalURL, nil
}
