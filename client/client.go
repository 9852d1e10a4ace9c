// Package client is the API request client. It attaches the bearer
// credential to every request and, when a request is rejected with 401,
// asks the refresh coordinator for a new credential and retries the request
// once.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/coursemart/authclient/apierror"
	"github.com/coursemart/authclient/credential"
	"github.com/coursemart/authclient/metrics"
	"github.com/coursemart/authclient/refresh"
)

const (
	defaultUserAgent = "coursemart-authclient/1.0"
	maxErrorBody     = 64 << 10

	// HeaderRequestID carries a per-attempt correlation ID.
	HeaderRequestID = "X-Request-ID"
)

// Refresher obtains a new access credential. *refresh.Coordinator
// satisfies it.
type Refresher interface {
	Refresh(ctx context.Context) refresh.Outcome
}

// Client sends JSON requests to the API. It is safe for concurrent use.
type Client struct {
	base       *url.URL
	http       *http.Client
	state      *credential.State
	refresher  Refresher
	classifier *apierror.Classifier
	metrics    *metrics.Collector
	logger     *slog.Logger
	debug      bool
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the transport. It should carry a cookie jar so the
// refresh cookie travels with requests (see NewHTTPClient).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRefresher sets the component consulted on 401.
func WithRefresher(r Refresher) Option {
	return func(c *Client) {
		c.refresher = r
	}
}

// WithClassifier overrides the default error classifier.
func WithClassifier(cl *apierror.Classifier) Option {
	return func(c *Client) {
		c.classifier = cl
	}
}

// WithMetrics sets the collector for request and retry counters.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables logging of expected failures and server detail.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New returns a Client for the API at baseURL.
func New(baseURL string, state *credential.State, opts ...Option) (*Client, error) {
	base, err := parseBase(baseURL)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, errors.New("client: credential state is required")
	}
	c := &Client{
		base:       base,
		state:      state,
		classifier: apierror.NewClassifier(),
		logger:     slog.Default(),
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		hc, err := NewHTTPClient(nil, 0)
		if err != nil {
			return nil, err
		}
		c.http = hc
	}
	c.logger = c.logger.With("component", "client")
	return c, nil
}

func parseBase(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parsing base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: base URL %q must be http or https", raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// RequestOption adjusts a single call.
type RequestOption func(*requestConfig)

type requestConfig struct {
	retry  bool
	header http.Header
	query  url.Values
}

// WithoutRetry disables the refresh-and-retry step for this call.
func WithoutRetry() RequestOption {
	return func(rc *requestConfig) {
		rc.retry = false
	}
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		rc.header.Add(key, value)
	}
}

// WithQuery sets query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(rc *requestConfig) {
		for k, vs := range q {
			for _, v := range vs {
				rc.query.Add(k, v)
			}
		}
	}
}

// Get issues a GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, opts...)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, path, body, out, opts...)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPut, path, body, out, opts...)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPatch, path, body, out, opts...)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out, opts...)
}

// Do sends one API request. body, if non-nil, is JSON-encoded; a 2xx
// response other than 204 is decoded into out when out is non-nil.
//
// On 401 with retry allowed and a believed refresh credential, Do waits for
// the shared refresh and, if a credential was granted, replays the request
// once with retry disabled. Any other failure is returned as *apierror.Error,
// or as a wrapped transport error.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, opts ...RequestOption) error {
	rc := requestConfig{retry: true, header: http.Header{}, query: url.Values{}}
	for _, opt := range opts {
		opt(&rc)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
	}

	for attempt := 0; ; attempt++ {
		resp, generation, err := c.send(ctx, method, path, payload, rc)
		if err != nil {
			c.metrics.RecordRequest(0)
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		c.metrics.RecordRequest(resp.StatusCode)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return decodeBody(resp, out)
		}
		msg := errorMessage(resp)

		if resp.StatusCode == http.StatusUnauthorized && rc.retry && attempt == 0 {
			retry, err := c.afterUnauthorized(ctx, path, generation)
			if err != nil {
				return err
			}
			if retry {
				rc.retry = false
				c.metrics.RecordRetry()
				continue
			}
		}

		apiErr := apierror.New(c.classifier, resp.StatusCode, path, msg)
		apierror.Report(ctx, c.logger, apiErr, c.debug)
		return apiErr
	}
}

// afterUnauthorized decides what to do after a 401. It returns true when the request
// should be replayed with the current credential.
func (c *Client) afterUnauthorized(ctx context.Context, path string, sentGeneration uint64) (bool, error) {
	if c.refresher == nil || !c.state.Belief() {
		return false, nil
	}
	// Another caller's refresh landed after this request was sent.
	if c.state.Generation() != sentGeneration && c.state.HasCredential() {
		c.logger.Debug("credential changed in flight, replaying", "path", path)
		return true, nil
	}

	outcome := c.refresher.Refresh(ctx)
	switch outcome.Kind {
	case refresh.Granted:
		return true, nil
	case refresh.Denied:
		c.logger.Debug("refresh denied", "path", path)
		return false, nil
	default:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("%s: %w", path, ctxErr)
		}
		// A login that landed during the refresh supersedes its verdict.
		if c.state.Generation() != sentGeneration && c.state.HasCredential() {
			return true, nil
		}
		if c.debug {
			c.logger.Debug("refresh indeterminate", "path", path, "error", outcome.Err)
		}
		return false, nil
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, rc requestConfig) (*http.Response, uint64, error) {
	u := c.resolve(path, rc.query)
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, 0, err
	}
	for k, vs := range rc.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, generation, ok := c.state.Snapshot()
	if ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, generation, err
	}
	return resp, generation, nil
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	p, rawQuery, _ := strings.Cut(path, "?")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	u.Path = c.base.Path + p
	q, _ := url.ParseQuery(rawQuery)
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// BaseURL returns the API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

func decodeBody(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	err := json.NewDecoder(resp.Body).Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// errorMessage reads and closes a failed response, returning the server's
// message if the body carried one.
func errorMessage(resp *http.Response) string {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var eb errorBody
	if json.Unmarshal(raw, &eb) != nil {
		return ""
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}
