package ports

import (
	"context"
	"net/http"
)

// UpstreamRequest is a request to the upstream API
type UpstreamRequest struct {
	// Route is a low-cardinality label for metrics, e.g. "auth.login"
	Route    string
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// UpstreamResponse is a fully read upstream response
type UpstreamResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports a 2xx status
func (r *UpstreamResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Upstream sends requests to the upstream API. Transport failures are
// returned as *core.UpstreamError.
type Upstream interface {
	Do(ctx context.Context, req *UpstreamRequest) (*UpstreamResponse, error)
}
