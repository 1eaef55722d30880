package authfetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"ChatLink/internal/chaterr"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultRefreshPath = "/users/refresh"
	DefaultLoginPath   = "/users/login"
)

// Outcome records which branch of the refresh protocol produced a Response.
type Outcome int

const (
	// Direct: the first attempt was not a 401.
	Direct Outcome = iota
	// Refreshed: the first attempt was a 401, the session was refreshed and
	// the request was re-issued once. The retry's status is not inspected.
	Refreshed
	// Redirected: the first attempt was a 401 and refresh was rejected.
	// Navigation to the login path has been triggered and the original 401
	// response is returned.
	Redirected
)

// String returns the outcome name used in logs and span attributes.
func (o Outcome) String() string {
	switch o {
	case Direct:
		return "direct"
	case Refreshed:
		return "refreshed"
	case Redirected:
		return "redirected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options describes one request. Body is held as bytes so the same payload
// can be sent again on the post-refresh retry.
type Options struct {
	Method string
	Header http.Header
	Body   []byte
}

func (o Options) method() string {
	if o.Method == "" {
		return http.MethodGet
	}
	return o.Method
}

// JSON builds Options carrying v as a JSON body.
func JSON(method string, v any) (Options, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Options{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return Options{Method: method, Header: h, Body: body}, nil
}

// Navigator performs the top-level "go to login" side effect.
type Navigator interface {
	Navigate(path string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(path string)

// Navigate calls f(path).
func (f NavigatorFunc) Navigate(path string) { f(path) }

// Response is an *http.Response plus the refresh outcome that produced it.
// The caller owns Body.
type Response struct {
	*http.Response
	Outcome Outcome
}

// Client issues cookie-authenticated requests against one origin and
// transparently refreshes an expired session once per call.
type Client struct {
	base        *url.URL
	httpClient  *http.Client
	refreshPath string
	loginPath   string
	navigator   Navigator
	logger      *slog.Logger
	tracer      trace.Tracer
	refreshes   metric.Int64Counter
	redirects   metric.Int64Counter
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient uses hc as the transport. A cookie jar is installed on a
// copy if hc has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithNavigator sets the login redirect target. The default only logs.
func WithNavigator(n Navigator) Option {
	return func(c *Client) { c.navigator = n }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRefreshPath overrides DefaultRefreshPath.
func WithRefreshPath(path string) Option {
	return func(c *Client) { c.refreshPath = path }
}

// WithLoginPath overrides DefaultLoginPath.
func WithLoginPath(path string) Option {
	return func(c *Client) { c.loginPath = path }
}

// New creates a Client for the origin in baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https, got %q", baseURL)
	}

	c := &Client{
		base:        base,
		refreshPath: DefaultRefreshPath,
		loginPath:   DefaultLoginPath,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		hc := *c.httpClient
		hc.Jar = jar
		c.httpClient = &hc
	}
	if c.navigator == nil {
		logger := c.logger
		c.navigator = NavigatorFunc(func(path string) {
			logger.Warn("login required", "path", path)
		})
	}

	c.tracer = otel.Tracer("ChatLink/authfetch")
	meter := otel.Meter("ChatLink/authfetch")
	c.refreshes = c.counter(meter, "chatlink.auth.refreshes", "Session refreshes after a 401")
	c.redirects = c.counter(meter, "chatlink.auth.redirects", "Login redirects after a rejected refresh")

	return c, nil
}

func (c *Client) counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c.logger.Warn("failed to create counter", "name", name, "error", err)
		return noop.Int64Counter{}
	}
	return counter
}

// Jar returns the cookie jar holding the session credentials.
func (c *Client) Jar() http.CookieJar {
	return c.httpClient.Jar
}

// BaseURL returns the origin requests are resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Cookie returns the value of the named cookie for the origin, or "".
func (c *Client) Cookie(name string) string {
	for _, ck := range c.httpClient.Jar.Cookies(c.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

// Request issues the request described by opts against path.
//
// A 401 triggers exactly one POST to the refresh path. If that succeeds the
// request is re-issued once and the retry's response is returned whatever
// its status. If it fails the navigator is invoked once and the original
// 401 response is returned with Outcome Redirected. Transport failures on
// any of the calls return a NetworkError.
func (c *Client) Request(ctx context.Context, path string, opts Options) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "authfetch.request",
		trace.WithAttributes(
			attribute.String("http.method", opts.method()),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	resp, err := c.do(ctx, path, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		c.logger.Error("request failed", "path", path, "error", err)
		return nil, chaterr.Network("request failed", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		return &Response{Response: resp, Outcome: Direct}, nil
	}

	c.logger.Warn("access token expired, refreshing", "path", path)
	ok, err := c.refresh(ctx)
	if err != nil {
		resp.Body.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		c.logger.Error("session refresh failed", "error", err)
		return nil, chaterr.Network("session refresh failed", err)
	}
	if !ok {
		c.redirects.Add(ctx, 1)
		span.SetAttributes(attribute.String("authfetch.outcome", Redirected.String()))
		c.logger.Error("session refresh rejected, redirecting to login", "login_path", c.loginPath)
		c.navigator.Navigate(c.loginPath)
		return &Response{Response: resp, Outcome: Redirected}, nil
	}

	c.refreshes.Add(ctx, 1)
	c.logger.Info("session refreshed, retrying", "path", path)
	drain(resp)

	retry, err := c.do(ctx, path, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retry failed")
		c.logger.Error("retry after refresh failed", "path", path, "error", err)
		return nil, chaterr.Network("retry after refresh failed", err)
	}
	span.SetAttributes(
		attribute.String("authfetch.outcome", Refreshed.String()),
		attribute.Int("http.status_code", retry.StatusCode),
	)
	return &Response{Response: retry, Outcome: Refreshed}, nil
}

// refresh reports whether the server renewed the session.
func (c *Client) refresh(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, c.refreshPath, Options{Method: http.MethodPost})
	if err != nil {
		return false, err
	}
	defer drain(resp)
	return resp.StatusCode >= 200 && resp.StatusCode < 300, nil
}

func (c *Client) do(ctx context.Context, path string, opts Options) (*http.Response, error) {
	target, err := c.base.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, opts.method(), target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
