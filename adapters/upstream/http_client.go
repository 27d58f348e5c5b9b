package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/layer-3/fundgate/core"
	"github.com/layer-3/fundgate/internal/metrics"
	"github.com/layer-3/fundgate/ports"
)

const DefaultMaxBodyBytes int64 = 16 * 1024 * 1024

var errBodyTooLarge = errors.New("response body too large")

// HTTPClient implements the Upstream port over net/http
type HTTPClient struct {
	baseURL      string
	client       *http.Client
	maxBodyBytes int64
}

// Option configures an HTTPClient
type Option func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(h *HTTPClient) { h.client = c }
}

// WithTimeout sets a whole-request timeout; zero keeps the platform default
func WithTimeout(d time.Duration) Option {
	return func(h *HTTPClient) {
		if d > 0 {
			h.client.Timeout = d
		}
	}
}

// WithMaxBodyBytes caps the upstream response body
func WithMaxBodyBytes(n int64) Option {
	return func(h *HTTPClient) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHTTPClient creates an upstream client rooted at baseURL
func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	h := &HTTPClient{
		baseURL:      baseURL,
		client:       &http.Client{},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

var _ ports.Upstream = (*HTTPClient)(nil)

// Do sends req upstream and reads the whole response
func (h *HTTPClient) Do(ctx context.Context, req *ports.UpstreamRequest) (*ports.UpstreamResponse, error) {
	op := req.Method + " " + req.Path
	start := time.Now()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, BuildURL(h.baseURL, req.Path, req.RawQuery), body)
	if err != nil {
		return nil, &core.UpstreamError{Op: op, Err: fmt.Errorf("%w: %v", core.ErrUpstreamUnreachable, err)}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		metrics.RecordUpstream(req.Route, 0, time.Since(start))
		return nil, &core.UpstreamError{Op: op, Err: classify(err)}
	}
	defer resp.Body.Close()

	payload, err := readLimited(resp.Body, h.maxBodyBytes)
	if err != nil {
		metrics.RecordUpstream(req.Route, 0, time.Since(start))
		return nil, &core.UpstreamError{Op: op, Err: classify(err)}
	}
	metrics.RecordUpstream(req.Route, resp.StatusCode, time.Since(start))

	return &ports.UpstreamResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        payload,
	}, nil
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", core.ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", core.ErrUpstreamUnreachable, err)
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}
