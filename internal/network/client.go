// internal/network/client.go
package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/fitbridge/api/schemas"
	"github.com/xkilldash9x/fitbridge/internal/config"
	"github.com/xkilldash9x/fitbridge/internal/observability"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultTLSHandshakeTimeout = 5 * time.Second
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 20
	defaultIdleConnTimeout     = 30 * time.Second

	// maxResponseBody bounds how much of a platform response is buffered.
	maxResponseBody = 16 << 20

	// snippetLen is how much of an error body is kept for diagnostics.
	snippetLen = 256
)

// Request describes one platform API call.
type Request struct {
	Method string
	// Path is resolved against the client's base URL; absolute URLs are used
	// as-is.
	Path  string
	Query url.Values
	// Body is JSON-encoded when non-nil.
	Body any
	// Header entries override the client's defaults for this call.
	Header http.Header
}

// Outcome is the result envelope for a platform API call. Failures are
// reported here rather than raised: Success is false and Err carries one of
// the network error types.
type Outcome struct {
	Success bool
	// Status is the HTTP status code, 401 for calls refused before sending
	// for lack of a session, or 0 when no response was received.
	Status  int
	Body    []byte
	Header  http.Header
	Cookies []*http.Cookie
	Err     error
}

// DecodeJSON unmarshals the outcome body into v. It fails with the outcome's
// own error when the call itself failed.
func (o Outcome) DecodeJSON(v any) error {
	if o.Err != nil {
		return o.Err
	}
	if len(o.Body) == 0 {
		return NewValidationError("empty response body", nil)
	}
	if err := jsonAPI.Unmarshal(o.Body, v); err != nil {
		return NewValidationError("decoding response body", err)
	}
	return nil
}

// Client executes authenticated calls against the platform's REST API. It
// injects the bearer token from the session store on every request, retries
// transient failures with exponential backoff, and carries cookies across
// calls. Safe for concurrent use.
type Client struct {
	cfg        config.HTTPConfig
	base       *url.URL
	store      schemas.SessionStore
	httpClient *http.Client
	policy     *RetryPolicy
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a Client from the HTTP configuration section and the
// session store the bearer token is read from.
func NewClient(cfg config.HTTPConfig, store schemas.SessionStore, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http.base_url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing http.base_url: %w", err)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	logger = logger.Named("httpclient")

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		IdleConnTimeout:     defaultIdleConnTimeout,
		TLSHandshakeTimeout: defaultTLSHandshakeTimeout,
		ForceAttemptHTTP2:   true,
		// The compression middleware negotiates and decodes encodings itself.
		DisableCompression: true,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1.", zap.Error(err))
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := int(math.Ceil(cfg.RateLimitRPS))
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		cfg:   cfg,
		base:  base,
		store: store,
		httpClient: &http.Client{
			Transport: NewCompressionMiddleware(transport),
			Jar:       jar,
			Timeout:   cfg.Timeout,
			// Redirects on an API client usually mean something is wrong;
			// surface the redirect response instead of chasing it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		policy:  NewRetryPolicy(cfg),
		limiter: limiter,
		logger:  logger,
	}, nil
}

// BaseURL returns a copy of the client's resolved API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// ImportCookies seeds the client's jar with cookies harvested elsewhere,
// typically from the browser after an interactive login.
func (c *Client) ImportCookies(rawURL string, cookies []*http.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing cookie origin URL: %w", err)
	}
	c.httpClient.Jar.SetCookies(u, cookies)
	c.logger.Debug("Imported cookies.", zap.String("origin", u.Host), zap.Int("count", len(cookies)))
	return nil
}

// Get performs an authenticated GET.
func (c *Client) Get(ctx context.Context, path string, query url.Values) Outcome {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Post performs an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) Outcome {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body})
}

// Put performs an authenticated PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) Outcome {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body})
}

// Patch performs an authenticated PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body any) Outcome {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body})
}

// Delete performs an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, path string) Outcome {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
}

// Do executes the request and returns its outcome. The outcome is always
// populated; no platform failure is raised as a Go error. A missing session
// short-circuits to a 401 outcome without touching the network.
func (c *Client) Do(ctx context.Context, req Request) Outcome {
	targetURL, err := c.resolveURL(req)
	if err != nil {
		return Outcome{Err: NewValidationError("resolving request URL", err)}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Outcome{Err: NewNetworkError(targetURL.String(), err)}
		}
	}

	token, outcome, refused := c.bearerToken(ctx)
	if refused {
		return outcome
	}

	httpReq, err := c.buildRequest(ctx, req, targetURL, token)
	if err != nil {
		return Outcome{Err: NewValidationError("building request", err)}
	}

	resp, err := c.doWithRetries(ctx, httpReq)
	if err != nil {
		return Outcome{Err: NewNetworkError(targetURL.String(), err)}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Outcome{
			Status: resp.StatusCode,
			Header: resp.Header,
			Err:    NewNetworkError(targetURL.String(), fmt.Errorf("reading response body: %w", err)),
		}
	}

	out := Outcome{
		Status:  resp.StatusCode,
		Body:    body,
		Header:  resp.Header,
		Cookies: resp.Cookies(),
	}
	if resp.StatusCode >= 400 {
		out.Err = NewHTTPError(resp.StatusCode, targetURL.String(), snippet(body))
		return out
	}
	out.Success = true
	return out
}

// bearerToken loads the active session's access token. When no session is
// available the refusing outcome is returned with refused set.
func (c *Client) bearerToken(ctx context.Context) (string, Outcome, bool) {
	session, err := c.store.Get(ctx)
	if err != nil {
		if errors.Is(err, schemas.ErrNoSession) {
			return "", Outcome{
				Status: http.StatusUnauthorized,
				Err:    NewAuthNoActiveSessionError(),
			}, true
		}
		return "", Outcome{Err: fmt.Errorf("loading session: %w", err)}, true
	}
	if session.Token.AccessToken == "" {
		return "", Outcome{
			Status: http.StatusUnauthorized,
			Err:    NewAuthNoActiveSessionError(),
		}, true
	}
	return session.Token.AccessToken, Outcome{}, false
}

func (c *Client) resolveURL(req Request) (*url.URL, error) {
	parsed, err := url.Parse(req.Path)
	if err != nil {
		return nil, err
	}
	target := parsed
	if !parsed.IsAbs() {
		target = c.base.ResolveReference(parsed)
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for key, values := range req.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return target, nil
}

func (c *Client) buildRequest(ctx context.Context, req Request, target *url.URL, token string) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if req.Body != nil {
		payload, err := jsonAPI.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		// bytes.Reader gives net/http a GetBody for free, which the retry
		// loop depends on.
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for key, values := range req.Header {
		httpReq.Header[http.CanonicalHeaderKey(key)] = values
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	c.logger.Debug("Dispatching platform request.",
		zap.String("method", method),
		zap.String("url", target.String()),
		zap.String("token", observability.MaskToken(token)))
	return httpReq, nil
}

// doWithRetries runs the attempt loop: execute, consult the policy, drain the
// failed response, wait out the backoff, repeat.
func (c *Client) doWithRetries(ctx context.Context, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	attempt := 0

	for {
		// A cancellation during the previous backoff must not start another
		// attempt.
		select {
		case <-ctx.Done():
			if err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		default:
		}

		if attempt > 0 {
			resp = nil
		}

		reqAttempt := req.Clone(ctx)
		if req.Body != nil && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("resetting request body for attempt %d: %w", attempt+1, bodyErr)
			}
			reqAttempt.Body = body
		}

		resp, err = c.httpClient.Do(reqAttempt)

		shouldRetry, retryAfter := c.policy.ShouldRetry(ctx, req, resp, err, attempt)
		if !shouldRetry {
			break
		}

		c.logger.Warn("Retrying request.",
			zap.Int("retry", attempt+1),
			zap.String("url", req.URL.String()),
			zap.Error(err))

		if resp != nil && resp.Body != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}

		backoff := retryAfter
		if backoff == 0 {
			backoff = c.policy.Backoff(attempt)
		}

		// The failed response is already drained; a cancellation here has
		// nothing useful to hand back but the error.
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			if err != nil {
				return nil, err
			}
			return nil, ctx.Err()
		}

		attempt++
	}

	return resp, err
}

func snippet(body []byte) string {
	if len(body) > snippetLen {
		body = body[:snippetLen]
	}
	return string(bytes.ToValidUTF8(bytes.TrimSpace(body), []byte("?")))
}
