package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/jeffersonwarrior/llmtransport/sdk/stream"
)

// HeaderStreamFormat selects the streaming framing of a response. The value
// "ndjson" selects newline-delimited JSON; anything else means SSE.
const HeaderStreamFormat = "X-Stream-Format"

// Request is an immutable outbound HTTP request. Build it with NewRequest.
type Request struct {
	method  string
	url     *url.URL
	headers map[string]string // canonical lower-case key -> value
	names   map[string]string // lower-case key -> name as first set
	body    string
	hasBody bool
}

// RequestOption configures a Request under construction.
type RequestOption func(*Request) error

// WithHeader sets a header. Names are unique case-insensitively; setting
// the same name again replaces the value.
func WithHeader(name, value string) RequestOption {
	return func(r *Request) error {
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("invalid value for header %q", name)
		}
		key := strings.ToLower(name)
		if _, ok := r.names[key]; !ok {
			r.names[key] = name
		}
		r.headers[key] = value
		return nil
	}
}

// WithHeaders sets every header in h.
func WithHeaders(h map[string]string) RequestOption {
	return func(r *Request) error {
		keys := make([]string, 0, len(h))
		for k := range h {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := WithHeader(k, h[k])(r); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithBody sets the request body. An empty string is still a body.
func WithBody(body string) RequestOption {
	return func(r *Request) error {
		r.body = body
		r.hasBody = true
		return nil
	}
}

// WithJSONBody marshals v as the body and sets Content-Type to
// application/json unless already set.
func WithJSONBody(v any) RequestOption {
	return func(r *Request) error {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		r.body = string(b)
		r.hasBody = true
		if _, ok := r.headers["content-type"]; !ok {
			return WithHeader("Content-Type", "application/json")(r)
		}
		return nil
	}
}

// WithStreamFormat sets the X-Stream-Format header for f.
func WithStreamFormat(f stream.Format) RequestOption {
	return WithHeader(HeaderStreamFormat, string(f))
}

// NewRequest builds a request for method and an absolute http or https
// URL. An empty method means GET. Failures are *Error with
// KindInvalidRequest.
func NewRequest(method, rawURL string, opts ...RequestOption) (*Request, error) {
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)
	if !validMethod(method) {
		return nil, invalidRequest("invalid method %q", method)
	}

	if rawURL == "" {
		return nil, invalidRequest("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Message: "invalid url", Err: err}
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, invalidRequest("url %q is not absolute", rawURL)
	}
	if u.Scheme = strings.ToLower(u.Scheme); u.Scheme != "http" && u.Scheme != "https" {
		return nil, invalidRequest("unsupported url scheme %q", u.Scheme)
	}

	r := &Request{
		method:  method,
		url:     u,
		headers: make(map[string]string),
		names:   make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, &Error{Kind: KindInvalidRequest, Message: err.Error()}
		}
	}
	return r, nil
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func validMethod(m string) bool {
	if m == "" {
		return false
	}
	for i := 0; i < len(m); i++ {
		if !httpguts.IsTokenRune(rune(m[i])) {
			return false
		}
	}
	return true
}

// Method is the upper-cased request method.
func (r *Request) Method() string { return r.method }

// URL returns a copy of the request URL.
func (r *Request) URL() *url.URL {
	u := *r.url
	if r.url.User != nil {
		user := *r.url.User
		u.User = &user
	}
	return &u
}

// Headers returns a copy of the headers keyed by their original names.
func (r *Request) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, v := range r.headers {
		out[r.names[k]] = v
	}
	return out
}

// Header returns the value of name, matched case-insensitively.
func (r *Request) Header(name string) (string, bool) {
	v, ok := r.headers[strings.ToLower(name)]
	return v, ok
}

// Body returns the body and whether one was set.
func (r *Request) Body() (string, bool) { return r.body, r.hasBody }

// HasBody reports whether a body was set.
func (r *Request) HasBody() bool { return r.hasBody }

// StreamFormat returns the framing selected by the X-Stream-Format header.
func (r *Request) StreamFormat() stream.Format {
	v, _ := r.Header(HeaderStreamFormat)
	return stream.ParseFormat(v)
}

// String is "METHOD url" with userinfo and query removed.
func (r *Request) String() string {
	return r.method + " " + redactURL(r.url)
}

// needsEmptyBody reports methods whose body-less form is still sent with
// Content-Length: 0.
func (r *Request) needsEmptyBody() bool {
	switch r.method {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

func redactURL(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	c.ForceQuery = false
	c.Fragment = ""
	return c.String()
}
