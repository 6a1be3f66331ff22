package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Error is a transport-level failure: the request never completed or
// the response body could not be read/parsed. It is distinct from a
// carrier business response (any completed HTTP exchange, including
// non-2xx), which is returned as a Response for the adapter to
// classify.
type Error struct {
	Op  string
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("carrier transport: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is a completed carrier HTTP exchange.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// BasicAuth carries username/password credentials for carriers using
// basic auth.
type BasicAuth struct {
	Username string
	Password string
}

// RetryPolicy enables bounded retry for carriers that return transient
// "callout failure" responses. Retryable inspects a completed response;
// network errors are never retried here (the orchestrator owns that
// decision via the error outcome). When attempts are exhausted the last
// carrier response is returned for classification.
type RetryPolicy struct {
	MaxAttempts uint
	Interval    time.Duration
	Retryable   func(*Response) bool
}

// Request describes one carrier call.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Header      http.Header
	BasicAuth   *BasicAuth
	BearerToken string
	Retry       *RetryPolicy
}

// Client performs carrier HTTP calls. One client is shared across
// adapters; it holds no per-invocation state.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a carrier HTTP client with the given per-request
// timeout.
func NewClient(log zerolog.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		log:  log.With().Str("component", "carrier_transport").Logger(),
	}
}

var errRetryableResponse = errors.New("retryable carrier response")

// Do performs the request, applying the request's retry policy when
// present. Any completed exchange is returned as a Response regardless
// of status code; only transport failures return an error, always of
// type *Error.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Retry == nil {
		return c.once(ctx, req)
	}

	var last *Response
	operation := func() (*Response, error) {
		resp, err := c.once(ctx, req)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		last = resp
		if req.Retry.Retryable(resp) {
			c.log.Warn().Str("url", req.URL).Int("status", resp.StatusCode).Msg("retryable carrier response")
			return nil, errRetryableResponse
		}
		return resp, nil
	}

	interval := req.Retry.Interval
	if interval <= 0 {
		interval = time.Second
	}
	maxTries := req.Retry.MaxAttempts
	if maxTries == 0 {
		maxTries = 1
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		// Attempts exhausted on a retryable carrier response: hand the
		// last response back so the adapter can classify it.
		if errors.Is(err, errRetryableResponse) && last != nil {
			return last, nil
		}
		var te *Error
		if errors.As(err, &te) {
			return nil, te
		}
		return nil, &Error{Op: req.Method, URL: req.URL, Err: err}
	}
	return resp, nil
}

func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Op: req.Method, URL: req.URL, Err: err}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}
	if req.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Op: req.Method, URL: req.URL, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Op: req.Method, URL: req.URL, Err: fmt.Errorf("reading response body: %w", err)}
	}

	c.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL).
		Int("status", httpResp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("carrier call completed")

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// PostJSON marshals in as the request body and, on a 2xx response with
// a non-nil out, unmarshals the body into out. Parse failures are
// transport errors.
func (c *Client) PostJSON(ctx context.Context, req Request, in, out any) (*Response, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, &Error{Op: "POST", URL: req.URL, Err: fmt.Errorf("encoding request: %w", err)}
	}
	req.Method = http.MethodPost
	req.Body = data
	req.ContentType = "application/json"

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() && out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, &Error{Op: "POST", URL: req.URL, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return resp, nil
}

// GetJSON performs a GET and, on a 2xx response with a non-nil out,
// unmarshals the body into out.
func (c *Client) GetJSON(ctx context.Context, req Request, out any) (*Response, error) {
	req.Method = http.MethodGet
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() && out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp, &Error{Op: "GET", URL: req.URL, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return resp, nil
}

// PostXML marshals in with encoding/xml (prepending the XML header) and,
// on a 2xx response with a non-nil out, unmarshals the body into out.
func (c *Client) PostXML(ctx context.Context, req Request, in, out any) (*Response, error) {
	data, err := xml.MarshalIndent(in, "", "  ")
	if err != nil {
		return nil, &Error{Op: "POST", URL: req.URL, Err: fmt.Errorf("encoding request: %w", err)}
	}
	req.Method = http.MethodPost
	req.Body = append([]byte(xml.Header), data...)
	req.ContentType = "application/xml"

	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.OK() && out != nil {
		if err := xml.Unmarshal(resp.Body, out); err != nil {
			return resp, &Error{Op: "POST", URL: req.URL, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return resp, nil
}

// PostForm performs a form-urlencoded POST. The raw response is
// returned for the adapter to parse in the carrier's own shape.
func (c *Client) PostForm(ctx context.Context, req Request, values url.Values) (*Response, error) {
	req.Method = http.MethodPost
	req.Body = []byte(values.Encode())
	req.ContentType = "application/x-www-form-urlencoded"
	return c.Do(ctx, req)
}

// IsTransportError reports whether err (or anything it wraps) is a
// transport-level failure.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}

// Truncate shortens a body for transcript/log display. The cut lands
// on a rune boundary so the result stays valid UTF-8.
func Truncate(body []byte, max int) string {
	s := strings.TrimSpace(string(body))
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…(truncated)"
}
