package transport

import (
	"github.com/jeffersonwarrior/llmtransport/internal/http1"
)

// Response is a fully buffered HTTP response. Non-2xx responses from
// Execute are returned as values, not errors.
type Response struct {
	statusCode int
	headers    map[string][]string
	body       string
}

// NewResponse builds a Response. headers is copied.
func NewResponse(statusCode int, headers map[string][]string, body string) *Response {
	return &Response{statusCode: statusCode, headers: copyHeaders(headers), body: body}
}

// StatusCode is the HTTP status code.
func (r *Response) StatusCode() int { return r.statusCode }

// Headers returns a copy of the header map as received.
func (r *Response) Headers() map[string][]string { return copyHeaders(r.headers) }

// Header returns the first value of name, matched case-insensitively.
func (r *Response) Header(name string) string { return http1.HeaderValue(r.headers, name) }

// Body is the complete response body.
func (r *Response) Body() string { return r.body }

// IsSuccessful reports a 2xx status.
func (r *Response) IsSuccessful() bool { return r.statusCode >= 200 && r.statusCode < 300 }

// RateLimit parses vendor rate-limit headers. It returns nil when none are
// present.
func (r *Response) RateLimit() *RateLimitInfo { return ParseRateLimitHeaders(r.headers) }

func copyHeaders(h map[string][]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, vv := range h {
		out[k] = append([]string(nil), vv...)
	}
	return out
}
