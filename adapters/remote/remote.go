// Package remote provides the HTTP adapters for the JustPaid API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/justpaid/core/schema"
	"github.com/artpar/justpaid/ports"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.justpaid.io/api/v1"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 16 << 20

// Operation names, used in errors, logs and metrics.
const (
	OpBillableItems = "billable_items"
	OpIngest        = "ingest"
	OpIngestAsync   = "ingest_async"
	OpJobStatus     = "job_status"
	OpInvoices      = "invoices"
)

// Client provides authenticated HTTP communication with the JustPaid API.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	headers    map[string]string
	logger     zerolog.Logger
	metrics    ports.Metrics
}

// ClientConfig configures the client.
type ClientConfig struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Token is sent as a bearer token on every request.
	Token   string
	Timeout time.Duration
	Headers map[string]string
	// HTTPClient overrides the default client; Timeout is then ignored.
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    ports.Metrics
}

// NewClient creates a new API client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		token:      cfg.Token,
		headers:    cfg.Headers,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request sends a request and returns the body of a 2xx response. Any other
// outcome is a *TransportError.
func (c *Client) Request(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, method, path, 0, start)
		return nil, &TransportError{Operation: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observe(op, method, path, resp.StatusCode, start)
	if err != nil {
		return nil, &TransportError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    "read response: " + err.Error(),
			Err:        err,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, data),
			Body:       data,
		}
	}

	return data, nil
}

func (c *Client) observe(op, method, path string, status int, start time.Time) {
	d := time.Since(start)
	c.logger.Debug().
		Str("operation", op).
		Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("duration", d).
		Msg("justpaid request")
	if c.metrics != nil {
		c.metrics.ObserveRequest(op, status, d)
	}
}

// decode parses a 2xx body, turning a parse failure into a *SchemaDriftError.
func decode[T any](c *Client, op string, body []byte, parse func([]byte) (T, error)) (T, error) {
	v, err := parse(body)
	if err != nil {
		c.logger.Warn().Str("operation", op).Err(err).Msg("justpaid response does not match schema")
		if c.metrics != nil {
			c.metrics.IncSchemaDrift(op)
		}
		var zero T
		return zero, &SchemaDriftError{Operation: op, Body: body, Err: err}
	}
	return v, nil
}

// errorMessage extracts a human-readable message from an error body. The API
// uses "detail"; "error" and "message" are accepted too.
func errorMessage(status int, body []byte) string {
	var fields map[string]json.RawMessage
	if json.Unmarshal(body, &fields) == nil {
		for _, key := range []string{"detail", "error", "message"} {
			raw, ok := fields[key]
			if !ok {
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				if s != "" {
					return s
				}
				continue
			}
			if string(raw) != "null" {
				return string(raw)
			}
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return msg
	}
	return http.StatusText(status)
}

// TransportError is a failure to get a successful response: a network error,
// a timeout, or a non-2xx status.
type TransportError struct {
	Operation string
	// StatusCode is 0 when no response was received.
	StatusCode int
	Message    string
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: request failed: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("%s: remote error %d: %s", e.Operation, e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the response status, 0 if there was none.
func (e *TransportError) HTTPStatus() int {
	return e.StatusCode
}

// SchemaDriftError is a 2xx response whose body does not match the documented
// schema. Err is the *schema.ValidationError describing the mismatch.
type SchemaDriftError struct {
	Operation string
	Body      []byte
	Err       error
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %v", e.Operation, e.Err)
}

func (e *SchemaDriftError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	return statusOf(err) == http.StatusNotFound
}

// IsUnauthorized reports whether err is a 401 or 403 from the API.
func IsUnauthorized(err error) bool {
	s := statusOf(err)
	return s == http.StatusUnauthorized || s == http.StatusForbidden
}

func statusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// JustPaid bundles the usage and billing APIs over one client.
type JustPaid struct {
	*UsageAPI
	*BillingAPI
}

// New creates a JustPaid API facade.
func New(cfg ClientConfig) *JustPaid {
	c := NewClient(cfg)
	return &JustPaid{UsageAPI: NewUsageAPI(c), BillingAPI: NewBillingAPI(c)}
}

var (
	_ ports.UsageIngester = (*JustPaid)(nil)
	_ ports.BillingReader = (*JustPaid)(nil)
)

func requiredError(entity, field string) error {
	errs := schema.NewValidationError(entity)
	errs.Add(field, schema.ReasonRequired)
	return errs.Err()
}
