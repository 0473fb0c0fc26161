package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/jeffersonwarrior/llmtransport/internal/dialer"
	"github.com/jeffersonwarrior/llmtransport/sdk/stream"
)

// NetHTTPTransport is a Transport built on net/http with connection
// pooling and HTTP/2 when the server offers it.
type NetHTTPTransport struct {
	core
	transport  *http.Transport
	httpClient *http.Client
}

var _ Transport = (*NetHTTPTransport)(nil)

// NewNetHTTPTransport creates a net/http backed transport.
// Default values are applied to zero-valued config fields.
func NewNetHTTPTransport(cfg Config) *NetHTTPTransport {
	cfg.setDefaults()

	t := &NetHTTPTransport{core: newCore(cfg, BackendNetHTTP)}

	// Configure transport with connection pooling
	t.transport = &http.Transport{
		DialContext:           t.dialContext,
		MaxIdleConns:          cfg.MaxIdleConnections,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnections,
		IdleConnTimeout:       enabled(cfg.IdleConnTimeout),
		TLSHandshakeTimeout:   enabled(cfg.ConnectTimeout),
		ResponseHeaderTimeout: enabled(cfg.ReadTimeout),
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: cfg.IgnoreSSL},
		ForceAttemptHTTP2:     true,
		DisableCompression:    true,
	}
	if cfg.Proxy != nil && cfg.Proxy.Type() == ProxyHTTP {
		t.transport.Proxy = t.proxyFor
	}

	// No overall timeout: streams are long-lived and bounded per read.
	t.httpClient = &http.Client{
		Transport: t.transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return t
}

// proxyFor selects the HTTP proxy for a request, honouring bypass rules.
func (t *NetHTTPTransport) proxyFor(req *http.Request) (*url.URL, error) {
	if t.cfg.Proxy.ShouldBypass(req.URL.Hostname()) {
		return nil, nil
	}
	return t.cfg.Proxy.ToNativeProxy(), nil
}

// dialContext dials directly or through a SOCKS proxy and bounds every
// socket read and write.
func (t *NetHTTPTransport) dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := dialer.Dialer{Timeout: enabled(t.cfg.ConnectTimeout)}
	if p := t.cfg.Proxy; p != nil && p.Type() != ProxyHTTP {
		host, _, _ := net.SplitHostPort(addr)
		if !p.ShouldBypass(host) {
			d.Proxy = p.dialerProxy()
		}
	}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return dialer.WithDeadlines(conn, enabled(t.cfg.ReadTimeout), enabled(t.cfg.WriteTimeout)), nil
}

// Execute implements Transport.
func (t *NetHTTPTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	cl, terr := t.begin(ctx, req)
	if terr != nil {
		return nil, terr
	}
	defer cl.end()

	resp, err := t.do(cl)
	if err != nil {
		return nil, t.fail(cl, phaseConnect, err)
	}
	defer resp.Body.Close()
	t.responded(cl, resp.StatusCode, resp.Header)

	body, terr := t.readAll(cl, resp.Body)
	if terr != nil {
		return nil, terr
	}
	t.finished(cl, resp.StatusCode)
	return NewResponse(resp.StatusCode, resp.Header, body), nil
}

// Stream implements Transport.
func (t *NetHTTPTransport) Stream(ctx context.Context, req *Request) *stream.Stream {
	if t.isClosed() {
		return stream.Failed(closedError())
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return stream.Start(ctx, t.cfg.StreamBufferSize, func(sctx context.Context, emit func(string) bool) error {
		cl, terr := t.begin(sctx, req)
		if terr != nil {
			return terr
		}
		defer cl.end()

		resp, err := t.do(cl)
		if err != nil {
			return t.fail(cl, phaseConnect, err)
		}
		defer resp.Body.Close()
		t.responded(cl, resp.StatusCode, resp.Header)

		if !isSuccess(resp.StatusCode) {
			return t.drainStatus(cl, resp.StatusCode, resp.Body)
		}
		return t.pump(cl, resp.Body, emit)
	})
}

// Close implements Transport.
func (t *NetHTTPTransport) Close() error {
	if t.shutdown() {
		t.transport.CloseIdleConnections()
	}
	return nil
}

func (t *NetHTTPTransport) do(cl *call) (*http.Response, error) {
	var body io.Reader
	if b, ok := cl.req.Body(); ok {
		body = strings.NewReader(b)
	}
	hr, err := http.NewRequestWithContext(cl.ctx, cl.req.Method(), cl.req.url.String(), body)
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Message: "build request", Err: err}
	}
	if body != nil && hr.ContentLength == 0 {
		// Keep an explicit empty body so Content-Length: 0 is sent.
		hr.Body = http.NoBody
	}

	for k, v := range cl.req.Headers() {
		if strings.EqualFold(k, "Host") {
			hr.Host = v
			continue
		}
		// Raw assignment keeps the caller's header case on the wire.
		hr.Header[k] = []string{v}
	}
	if _, ok := cl.req.Header("User-Agent"); !ok {
		hr.Header.Set("User-Agent", t.cfg.UserAgent)
	}
	return t.httpClient.Do(hr)
}
