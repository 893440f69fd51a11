// Package apiclient sends authenticated requests to the backoffice API,
// refreshing the access token once when the backend answers 401.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-backoffice/credentials"
	apperrors "github.com/jrsteele09/go-backoffice/internal/errors"
	"github.com/jrsteele09/go-backoffice/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const requestIDHeader = "X-Request-Id"

// Refresher obtains a new access token. auth.SessionManager implements it.
type Refresher interface {
	RefreshAccessToken(ctx context.Context) (string, error)
}

// RequestOptions describes one request. Method defaults to GET. Body is sent
// as-is on the first attempt and again on the retry.
type RequestOptions struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte

	retried bool
}

// Response is a successful (2xx) response with its body already read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsJSON reports whether the response declares a JSON content type.
func (r *Response) IsJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// HTTPError is returned for non-2xx responses other than the 401s handled
// by the refresh flow.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, body)
}

type Client struct {
	baseURL    string
	store      *credentials.Store
	refresher  Refresher
	httpClient *http.Client
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New builds a client for the API at baseURL (e.g. "http://host/api/v1").
func New(baseURL string, store *credentials.Store, refresher Refresher, options ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		store:      store,
		refresher:  refresher,
		httpClient: http.DefaultClient,
		logger:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	return c
}

// Do sends the request with the stored bearer token. On a 401 it resends
// once, with the stored token if another caller has replaced it meanwhile
// and with a refreshed token otherwise. If the refresh fails, or the resend is also
// rejected with 401, the stored credentials are cleared and the error wraps
// ErrSessionEnded. When the refresh failed only because ctx ended, the
// session is left intact and the context error is returned.
func (c *Client) Do(ctx context.Context, path string, opts RequestOptions) (*Response, error) {
	set, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Client.Do] read credentials")
	}

	resp, err := c.send(ctx, path, opts, set.Token())
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && !opts.retried {
		tok, err := c.retryToken(ctx, path, set)
		if err != nil {
			return nil, err
		}

		opts.retried = true
		c.metrics.Retries.Inc()
		resp, err = c.send(ctx, path, opts, tok)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.endSession(ctx, credentials.ClearUnauthorized, path)
			return nil, fmt.Errorf("[Client.Do] %s: %w", path, apperrors.ErrSessionEnded)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			Method:     methodOf(opts),
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(resp.Body),
		}
	}
	return resp, nil
}

// retryToken picks the token for the resend after a 401 on a request sent
// with sent. A newer token already in the store is used as is; otherwise the
// token is refreshed.
func (c *Client) retryToken(ctx context.Context, path string, sent credentials.Set) (*oauth2.Token, error) {
	current, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, apperrors.Wrapf(err, "[Client.Do] read credentials")
	}
	switch {
	case current.AccessToken != "" && current.AccessToken != sent.AccessToken:
		return current.Token(), nil
	case sent.Authenticated() && current.Empty():
		// Signed out while the request was in flight.
		return nil, fmt.Errorf("[Client.Do] %s: %w", path, apperrors.ErrSessionEnded)
	}

	accessToken, err := c.refresher.RefreshAccessToken(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		if !errors.Is(err, apperrors.ErrSessionEnded) {
			c.endSession(ctx, credentials.ClearRefreshFailed, path)
		}
		return nil, fmt.Errorf("[Client.Do] %s: %w: %w", path, apperrors.ErrSessionEnded, err)
	}
	return &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}, nil
}

// Request returns the decoded JSON value for JSON responses and the body as
// a string otherwise. An empty JSON body decodes to nil. Numbers decode as
// json.Number so large ids keep their digits.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions) (any, error) {
	resp, err := c.Do(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	if !resp.IsJSON() {
		return string(resp.Body), nil
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(resp.Body))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("[Client.Request] decode %s: %w", path, err)
	}
	return value, nil
}

// RequestJSON decodes a successful response body into out. Empty bodies leave out untouched.
func (c *Client) RequestJSON(ctx context.Context, path string, opts RequestOptions, out any) error {
	resp, err := c.Do(ctx, path, opts)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("[Client.RequestJSON] decode %s: %w", path, err)
	}
	return nil
}

// send performs one attempt. A non-2xx status is not an error here.
func (c *Client) send(ctx context.Context, path string, opts RequestOptions, tok *oauth2.Token) (*Response, error) {
	target, err := c.url(path, opts.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, methodOf(opts), target, body)
	if err != nil {
		return nil, fmt.Errorf("[Client.send] build request: %w", err)
	}

	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok != nil && tok.AccessToken != "" {
		tok.SetAuthHeader(req)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Requests.WithLabelValues(metrics.StatusClass(0)).Inc()
		return nil, fmt.Errorf("[Client.send] %s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	c.metrics.Requests.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("method", req.Method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", requestID).
		Bool("retry", opts.retried).
		Dur("duration", time.Since(start)).
		Msg("API request")

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, fmt.Errorf("[Client.send] read %s response: %w", path, err)
		}
		data = nil
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) url(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("[Client.url] %s: %w", path, err)
	}
	if len(query) > 0 {
		merged := u.Query()
		for key, values := range query {
			for _, v := range values {
				merged.Add(key, v)
			}
		}
		u.RawQuery = merged.Encode()
	}
	return u.String(), nil
}

func (c *Client) endSession(ctx context.Context, reason credentials.ClearReason, path string) {
	c.logger.Warn().Str("path", path).Str("reason", string(reason)).Msg("Session ended, sign in again")
	if err := c.store.ClearAll(context.WithoutCancel(ctx), reason); err != nil {
		c.logger.Error().Err(err).Msg("Failed to clear credentials")
	}
}

func methodOf(opts RequestOptions) string {
	if opts.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(opts.Method)
}
