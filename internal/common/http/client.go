// Package http wraps net/http for calls to calendar servers: per-host circuit
// breaking, bounded retries for idempotent methods and status mapping onto
// the application error taxonomy.
package http

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"calsync/internal/circuitbreaker"
	"calsync/internal/common/errors"
	"calsync/internal/common/logging"
	"calsync/internal/common/utils"
)

// maxErrorBody bounds how much of a failed response is kept for logging
const maxErrorBody = 2048

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	InsecureSkipVerify  bool
	Transport           http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// WithInsecureSkipVerify disables SSL certificate verification
func WithInsecureSkipVerify() ClientOption {
	return func(c *ClientConfig) {
		c.InsecureSkipVerify = true
	}
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *http.Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		httpTransport := &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
		if cfg.InsecureSkipVerify {
			httpTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		transport = httpTransport
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// RetryConfig for HTTP client retry logic
type RetryConfig struct {
	MaxAttempts          int
	InitialDelay         time.Duration
	MaxDelay             time.Duration
	BackoffFactor        float64
	JitterFactor         float64
	RetryableStatusCodes []int
}

// DefaultRetryConfig retries idempotent calls once on gateway errors
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:          2,
		InitialDelay:         250 * time.Millisecond,
		MaxDelay:             2 * time.Second,
		BackoffFactor:        2.0,
		JitterFactor:         0.1,
		RetryableStatusCodes: []int{502, 503, 504},
	}
}

// BasicAuth holds HTTP basic credentials
type BasicAuth struct {
	Username string
	Password string
}

// RequestOptions describes one request
type RequestOptions struct {
	Method      string
	URL         string
	Body        []byte
	Headers     map[string]string
	BasicAuth   *BasicAuth
	BearerToken string
	// AcceptStatus lists non-2xx statuses the caller handles itself
	AcceptStatus []int
	RetryConfig  *RetryConfig
}

// Response represents an HTTP response with its body read
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// HTTPClientWrapper wraps http.Client with breaker, retry and logging
type HTTPClientWrapper struct {
	client      *http.Client
	breakers    *circuitbreaker.Manager
	retryConfig *RetryConfig
	logger      logging.Logger
}

// NewHTTPClientWrapper creates a wrapped HTTP client
func NewHTTPClientWrapper(opts ...ClientOption) *HTTPClientWrapper {
	return &HTTPClientWrapper{
		client:      NewHTTPClient(opts...),
		retryConfig: DefaultRetryConfig(),
		logger:      logging.GetGlobalLogger(),
	}
}

// WithCircuitBreakers guards every request with the breaker for its host
func (w *HTTPClientWrapper) WithCircuitBreakers(manager *circuitbreaker.Manager) *HTTPClientWrapper {
	w.breakers = manager
	return w
}

// WithRetryConfig sets custom retry configuration
func (w *HTTPClientWrapper) WithRetryConfig(config *RetryConfig) *HTTPClientWrapper {
	w.retryConfig = config
	return w
}

// WithLogger sets the logger used for request tracing
func (w *HTTPClientWrapper) WithLogger(logger logging.Logger) *HTTPClientWrapper {
	w.logger = logging.OrGlobal(logger)
	return w
}

// Request performs an HTTP request. A non-2xx status not listed in
// AcceptStatus yields an AppError from errors.HTTPStatusError together with
// the response.
func (w *HTTPClientWrapper) Request(ctx context.Context, opts *RequestOptions) (*Response, error) {
	parsed, err := url.Parse(opts.URL)
	if err != nil || parsed.Host == "" {
		return nil, errors.ConfigError(fmt.Sprintf("invalid url %q", opts.URL))
	}

	retryConfig := opts.RetryConfig
	if retryConfig == nil {
		retryConfig = w.retryConfig
	}

	attempts := 1
	if isIdempotent(opts.Method) && retryConfig != nil && retryConfig.MaxAttempts > 1 {
		attempts = retryConfig.MaxAttempts
	}

	cfg := utils.RetryConfig{
		MaxAttempts: attempts,
		RetryableErrors: func(err error) bool {
			return isRetryable(err, retryConfig)
		},
	}
	if retryConfig != nil {
		cfg.InitialDelay = retryConfig.InitialDelay
		cfg.MaxDelay = retryConfig.MaxDelay
		cfg.BackoffFactor = retryConfig.BackoffFactor
		cfg.JitterFactor = retryConfig.JitterFactor
	}

	var response *Response
	err = utils.RetryWithBackoff(ctx, cfg, func() error {
		var reqErr error
		if w.breakers != nil {
			reqErr = w.breakers.Execute(ctx, parsed.Host, func() error {
				response, reqErr = w.execute(ctx, opts)
				return reqErr
			})
		} else {
			response, reqErr = w.execute(ctx, opts)
		}
		return reqErr
	})
	if err != nil {
		return response, unwrapRetry(err)
	}
	return response, nil
}

// DoJSON performs the request and decodes a JSON body into out
func (w *HTTPClientWrapper) DoJSON(ctx context.Context, opts *RequestOptions, out interface{}) error {
	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	if _, ok := opts.Headers["Accept"]; !ok {
		opts.Headers["Accept"] = "application/json"
	}

	resp, err := w.Request(ctx, opts)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errors.InternalError("failed to decode response body", err)
	}
	return nil
}

func (w *HTTPClientWrapper) execute(ctx context.Context, opts *RequestOptions) (*Response, error) {
	start := time.Now()

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return nil, errors.InternalError("failed to create request", err)
	}

	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	switch {
	case opts.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+opts.BearerToken)
	case opts.BasicAuth != nil:
		req.SetBasicAuth(opts.BasicAuth.Username, opts.BasicAuth.Password)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Debug("HTTP request failed",
			logging.String("method", opts.Method),
			logging.String("host", req.URL.Host),
			logging.Err(err),
		)
		return nil, errors.NetworkError(fmt.Sprintf("%s request failed", opts.Method), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NetworkError("failed to read response body", err)
	}

	response := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Duration:   time.Since(start),
	}

	w.logger.Debug("HTTP request completed",
		logging.String("method", opts.Method),
		logging.String("host", req.URL.Host),
		logging.Int("status", resp.StatusCode),
		logging.Duration("duration", response.Duration),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return response, nil
	}
	for _, code := range opts.AcceptStatus {
		if resp.StatusCode == code {
			return response, nil
		}
	}

	if len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}
	return response, errors.HTTPStatusError(resp.StatusCode, string(data))
}

// GetHTTPClient returns the underlying HTTP client, e.g. for the Google SDK
func (w *HTTPClientWrapper) GetHTTPClient() *http.Client {
	return w.client
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodDelete, "PROPFIND", "REPORT":
		return true
	}
	return false
}

// isRetryable retries transport failures and the configured gateway statuses
func isRetryable(err error, config *RetryConfig) bool {
	appErr, ok := errors.As(err)
	if !ok {
		return false
	}
	status := appErr.StatusCode()
	if status == 0 {
		return appErr.Type == errors.ErrTypeNetwork
	}
	if config == nil {
		return false
	}
	for _, code := range config.RetryableStatusCodes {
		if status == code {
			return true
		}
	}
	return false
}

// unwrapRetry strips the "max retries exceeded" wrapper so callers see the
// AppError from the last attempt.
func unwrapRetry(err error) error {
	if appErr, ok := errors.As(err); ok {
		return appErr
	}
	return err
}
