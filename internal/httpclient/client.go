// Package httpclient issues the outbound requests made while generating images.
//
// Every call is bounded by the client's timeout. Status codes are returned to
// the caller for classification; only transport failures produce an error.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single request, including reading the body.
const DefaultTimeout = 60 * time.Second

// maxBodyBytes caps how much of a response body is read into memory.
const maxBodyBytes = 64 << 20

// ErrBodyTooLarge is returned when a response body exceeds the read cap.
var ErrBodyTooLarge = errors.New("response body too large")

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Client wraps an *http.Client with a per-request deadline.
type Client struct {
	http    *http.Client
	timeout time.Duration
	maxBody int64
}

// New creates a Client. A nil hc uses a fresh http.Client; a non-positive
// timeout uses DefaultTimeout.
func New(hc *http.Client, timeout time.Duration) *Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{http: hc, timeout: timeout, maxBody: maxBodyBytes}
}

// Timeout returns the per-request deadline.
func (c *Client) Timeout() time.Duration { return c.timeout }

// Post sends body to url. Content-Type defaults to application/json.
func (c *Client) Post(ctx context.Context, url string, header http.Header, body []byte) (*Response, error) {
	h := header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	return c.do(ctx, http.MethodPost, url, h, body)
}

// Get fetches url.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, header.Clone(), nil)
}

func (c *Client) do(ctx context.Context, method, url string, header http.Header, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	if header != nil {
		req.Header = header
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	// One byte past the cap tells a full body from a truncated one.
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, fmt.Errorf("%s %s: %w: limit is %d bytes", method, url, ErrBodyTooLarge, c.maxBody)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
