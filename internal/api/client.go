// Package api implements the outbound request executor for the Shelfline
// backend: timeout, retry with backoff, typed error classification, and a
// global error-handler chain for cross-cutting recovery.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shelfline/shelfline/internal/auth"
	"github.com/shelfline/shelfline/internal/metrics"
)

// DefaultTimeout is the per-call deadline when neither Options nor the
// client-level defaults set one.
const DefaultTimeout = 30 * time.Second

// Options configures a single Execute call.
type Options struct {
	Method  string            // default GET
	Body    any               // marshaled as JSON unless []byte
	Headers map[string]string

	SkipAuth          bool // omit the bearer credential
	SkipErrorHandling bool // suppress the global handler chain

	Retries int           // additional transport attempts; zero falls back to the client default
	Timeout time.Duration // per-call deadline; zero falls back to the client default
}

// ErrorHandler is a cross-cutting hook invoked for every classified failure
// unless the call opted out.
type ErrorHandler func(err *Error)

// Client executes REST calls against the backend.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *auth.TokenStore
	loading *LoadingRegistry
	breaker *gobreaker.CircuitBreaker
	verbose bool

	// retryBase is the backoff unit for transport retries (delay is
	// retryBase * 2^attempt). Shortened in tests.
	retryBase time.Duration

	// Defaults applied when Options leaves the field unset. Configured once
	// at startup from the daemon config.
	defaultTimeout time.Duration
	defaultRetries int

	mu       sync.RWMutex
	handlers []ErrorHandler
}

// NewClient creates a request executor for the given API origin.
func NewClient(baseURL string, tokens *auth.TokenStore) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		tokens:         tokens,
		loading:        NewLoadingRegistry(),
		retryBase:      time.Second,
		defaultTimeout: DefaultTimeout,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "shelfline-api",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logf("breaker %s: %s -> %s", name, from, to)
		},
	})

	return c
}

// SetVerbose enables verbose logging.
func (c *Client) SetVerbose(v bool) {
	c.verbose = v
}

// SetRequestDefaults sets the timeout and retry count applied to calls whose
// Options leave them unset. Call before the client is shared across
// goroutines.
func (c *Client) SetRequestDefaults(timeout time.Duration, retries int) {
	if timeout > 0 {
		c.defaultTimeout = timeout
	}
	if retries > 0 {
		c.defaultRetries = retries
	}
}

// Loading returns the in-flight registry.
func (c *Client) Loading() *LoadingRegistry {
	return c.loading
}

// OnError registers a global error handler. Handlers run in registration
// order for every failure not marked SkipErrorHandling; a panic in one
// handler does not suppress the rest.
func (c *Client) OnError(h ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

// Execute performs an outbound call and returns the parsed response or a
// classified *Error.
func (c *Client) Execute(ctx context.Context, endpoint string, opts Options) (*Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	if opts.Retries == 0 {
		opts.Retries = c.defaultRetries
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	key := LoadingKey(method, endpoint)
	c.loading.Set(key, true)
	defer c.loading.Set(key, false)

	start := time.Now()
	resp, err := c.execute(ctx, method, endpoint, opts, timeout)
	metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if err != nil {
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			apiErr = &Error{Code: ErrCodeUnknown, Message: err.Error(), Endpoint: endpoint, cause: err}
			err = apiErr
		}
		metrics.APIRequestsTotal.WithLabelValues(method, apiErr.Code).Inc()
		if !opts.SkipErrorHandling {
			c.dispatchError(apiErr)
		}
		return nil, err
	}

	metrics.APIRequestsTotal.WithLabelValues(method, "success").Inc()
	return resp, nil
}

// Get is shorthand for Execute with GET.
func (c *Client) Get(ctx context.Context, endpoint string) (*Response, error) {
	return c.Execute(ctx, endpoint, Options{})
}

// Post is shorthand for Execute with POST and a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Execute(ctx, endpoint, Options{Method: http.MethodPost, Body: body})
}

// execute runs the attempt loop. Only transport-level failures are retried;
// a received HTTP response, error or not, ends the loop.
func (c *Client) execute(ctx context.Context, method, endpoint string, opts Options, timeout time.Duration) (*Response, error) {
	// Reachability gate: an open breaker means the backend has been failing
	// at the transport level; fail fast without burning retries.
	if st := c.breaker.State(); st == gobreaker.StateOpen {
		return nil, NewNetworkError(endpoint, gobreaker.ErrOpenState)
	}

	var body []byte
	if opts.Body != nil {
		switch b := opts.Body.(type) {
		case []byte:
			body = b
		default:
			data, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, &Error{Code: ErrCodeUnknown, Message: fmt.Sprintf("encode request body: %v", err), Endpoint: endpoint, cause: err}
			}
			body = data
		}
	}

	var lastErr *Error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			metrics.APIRetriesTotal.Inc()
			delay := c.retryBase * (1 << (attempt - 1))
			c.logf("%s %s: transport failure, retry %d/%d in %v", method, endpoint, attempt, opts.Retries, delay)
			select {
			case <-ctx.Done():
				return nil, NewNetworkError(endpoint, ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := c.attempt(ctx, method, endpoint, opts, body, timeout)
		if err == nil {
			return resp, nil
		}

		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.Code == ErrCodeNetwork {
			// Transport failure: eligible for retry.
			lastErr = apiErr
			continue
		}
		// Timeout and HTTP-level errors surface immediately.
		return nil, err
	}

	return nil, lastErr
}

// attempt performs one transport attempt with its own deadline.
func (c *Client) attempt(ctx context.Context, method, endpoint string, opts Options, body []byte, timeout time.Duration) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: ErrCodeUnknown, Message: err.Error(), Endpoint: endpoint, cause: err}
	}

	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if !opts.SkipAuth {
		if token := c.tokens.Get(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.http.Do(req) //nolint:bodyclose // closed by the caller below
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && attemptCtx.Err() == context.DeadlineExceeded {
			return nil, NewTimeoutError(endpoint, err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewNetworkError(endpoint, err)
		}
		// http.Client wraps context errors in *url.Error.
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, NewTimeoutError(endpoint, err)
		}
		return nil, NewNetworkError(endpoint, err)
	}

	httpResp := result.(*http.Response)
	defer httpResp.Body.Close()

	return c.classify(endpoint, httpResp)
}

// classify converts a received HTTP response into a Response or a typed error.
func (c *Client) classify(endpoint string, resp *http.Response) (*Response, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewNetworkError(endpoint, fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			body:        data,
		}, nil
	}

	message, fields := parseErrorBody(data)
	return nil, classifyStatus(endpoint, resp.StatusCode, message, fields)
}

// parseErrorBody extracts the structured error.message (and optional
// per-field detail) the backend puts on error responses.
func parseErrorBody(data []byte) (string, map[string]string) {
	var payload struct {
		Error struct {
			Message string            `json:"message"`
			Fields  map[string]string `json:"fields"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", nil
	}
	return payload.Error.Message, payload.Error.Fields
}

// dispatchError runs the global handler chain. Each handler is isolated so
// one panicking handler cannot suppress the rest.
func (c *Client) dispatchError(apiErr *Error) {
	c.mu.RLock()
	handlers := make([]ErrorHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logf("error handler panic: %v", r)
				}
			}()
			h(apiErr)
		}()
	}
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.verbose {
		log.Printf("[api] "+format, args...)
	}
}

// Response holds a successful (2xx) call result. The body is returned as-is
// and parsed on demand according to its declared content kind.
type Response struct {
	Status      int
	ContentType string
	body        []byte
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if len(r.body) == 0 {
		return nil
	}
	return json.Unmarshal(r.body, v)
}

// Text returns the response body as a string.
func (r *Response) Text() string {
	return string(r.body)
}

// Bytes returns the raw response body.
func (r *Response) Bytes() []byte {
	return r.body
}

// IsJSON reports whether the response declared a JSON content kind.
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
