// File: internal/apiclient/client.go

// Package apiclient is a small JSON client for the results backend. Requests
// ride through the shared retry machinery, so callers see transient server
// trouble only after the policy has given up on it.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/pkg/resilience"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "forceps"

	// Tokens this close to their exp claim get a warning at startup.
	expiryWarnWindow = 10 * time.Minute
)

// parserUnverified inspects token contents without checking the signature.
var parserUnverified = new(jwt.Parser)

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d", e.Method, e.Path, e.StatusCode)
}

// Client issues JSON requests against one base URL.
type Client struct {
	baseURL string
	token   string
	ua      string
	httpc   *http.Client
	retrier *resilience.Retrier
	logger  *zap.Logger
}

// New builds a client from the api configuration section. The retry policy
// is shared with the rest of the run so operators tune one knob.
func New(cfg config.APIConfig, policy resilience.RetryPolicy, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: api client needs a base URL", schemas.ErrInvalidArgument)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: api base URL %q is not an absolute http(s) URL", schemas.ErrInvalidArgument, cfg.BaseURL)
	}

	log := logger.Named("apiclient")
	retrier, err := resilience.NewRetrier(policy, retryable, log)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	if cfg.Token != "" {
		warnIfExpiring(cfg.Token, log)
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		token:   cfg.Token,
		ua:      ua,
		httpc:   &http.Client{Timeout: timeout},
		retrier: retrier,
		logger:  log,
	}, nil
}

// retryable decides which failures are worth another attempt: transport
// errors, 429, and 5xx. Other status codes mean the request itself is wrong.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	return schemas.IsTransient(err)
}

// warnIfExpiring peeks inside bearer tokens that look like JWTs. Opaque API
// keys pass through silently.
func warnIfExpiring(token string, logger *zap.Logger) {
	if strings.Count(token, ".") != 2 {
		return
	}
	parsed, _, err := parserUnverified.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		logger.Debug("API token looks like a JWT but does not parse.", zap.Error(err))
		return
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	switch remaining := time.Until(exp.Time); {
	case remaining <= 0:
		logger.Warn("API token is expired.", zap.Time("expired_at", exp.Time))
	case remaining < expiryWarnWindow:
		logger.Warn("API token expires soon.",
			zap.Time("expires_at", exp.Time),
			zap.Duration("remaining", remaining.Round(time.Second)))
	}
}

// GetJSON fetches path and decodes the response into out. A nil out discards
// the body.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

// PostJSON sends body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode request body for %s: %v", schemas.ErrInvalidArgument, path, err)
	}
	return c.doJSON(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	target := c.baseURL + "/" + strings.TrimPrefix(path, "/")

	return c.retrier.Do(ctx, func(ctx context.Context) error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, body)
		if err != nil {
			return schemas.Permanentf("build %s %s: %v", method, path, err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.ua)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return schemas.Transientf("%s %s: %v", method, path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		c.logger.Debug("API request.",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
		}

		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return schemas.Transientf("read %s %s response: %v", method, path, err)
		}
		if len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return schemas.Transientf("decode %s %s response: %v", method, path, err)
		}
		return nil
	})
}
