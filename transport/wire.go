package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"

	"github.com/jeffersonwarrior/llmtransport/internal/dialer"
	"github.com/jeffersonwarrior/llmtransport/internal/http1"
	"github.com/jeffersonwarrior/llmtransport/sdk/stream"
)

// WireTransport is a Transport that speaks HTTP/1.1 directly over pooled
// TCP or TLS connections. Response header names keep the case they had on
// the wire.
type WireTransport struct {
	core
	pool      *connPool
	tlsConfig *tls.Config
}

var _ Transport = (*WireTransport)(nil)

// NewWireTransport creates a raw HTTP/1.1 transport.
// Default values are applied to zero-valued config fields.
func NewWireTransport(cfg Config) *WireTransport {
	cfg.setDefaults()
	return &WireTransport{
		core: newCore(cfg, BackendWire),
		pool: newConnPool(cfg.MaxIdleConnections, enabled(cfg.IdleConnTimeout)),
		tlsConfig: &tls.Config{
			InsecureSkipVerify: cfg.IgnoreSSL,
			NextProtos:         []string{"http/1.1"},
		},
	}
}

// route is how one request reaches its origin.
type route struct {
	key        connKey
	dialAddr   string
	proxy      *dialer.Proxy
	tls        bool
	serverName string

	// absoluteForm is set for plain HTTP through an HTTP proxy: the request
	// line carries the full URL and proxyAuth goes in Proxy-Authorization.
	absoluteForm bool
	proxyAuth    string
}

func (t *WireTransport) route(u *url.URL) route {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	target := net.JoinHostPort(host, port)

	r := route{
		key:        connKey{scheme: u.Scheme, addr: target, route: "direct"},
		dialAddr:   target,
		tls:        u.Scheme == "https",
		serverName: host,
	}

	p := t.cfg.Proxy
	if p == nil || p.ShouldBypass(host) {
		return r
	}

	if p.Type() == ProxyHTTP && !r.tls {
		// Forward proxying: one proxy connection serves every http origin.
		r.key = connKey{scheme: "http", addr: p.Addr(), route: "forward"}
		r.dialAddr = p.Addr()
		r.absoluteForm = true
		if p.HasAuthentication() {
			r.proxyAuth = dialer.BasicAuth(p.Username(), p.Password())
		}
		return r
	}

	r.proxy = p.dialerProxy()
	r.key.route = r.proxy.Kind.String() + "://" + p.Addr()
	return r
}

// dial opens a new connection for r. ConnectTimeout bounds the TCP
// connect, proxy handshake and TLS handshake together.
func (t *WireTransport) dial(ctx context.Context, r route) (*persistConn, error) {
	if timeout := enabled(t.cfg.ConnectTimeout); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	d := dialer.Dialer{Proxy: r.proxy}
	raw, err := d.DialContext(ctx, "tcp", r.dialAddr)
	if err != nil {
		return nil, err
	}

	if r.tls {
		cfg := t.tlsConfig.Clone()
		cfg.ServerName = r.serverName
		tlsConn := tls.Client(raw, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, err
		}
		raw = tlsConn
	}

	conn := dialer.WithDeadlines(raw, enabled(t.cfg.ReadTimeout), enabled(t.cfg.WriteTimeout))
	return &persistConn{
		key:  r.key,
		raw:  raw,
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}, nil
}

// requestHead builds the request line and headers for cl over r.
func (t *WireTransport) requestHead(cl *call, r route) (http1.RequestHead, string) {
	u := cl.req.url
	head := http1.RequestHead{
		Method:        cl.req.Method(),
		Target:        u.RequestURI(),
		Host:          u.Host,
		Header:        cl.req.Headers(),
		ContentLength: -1,
	}
	if r.absoluteForm {
		abs := *u
		abs.User = nil
		abs.Fragment = ""
		head.Target = abs.String()
		if r.proxyAuth != "" {
			head.Header["Proxy-Authorization"] = r.proxyAuth
		}
	}
	if _, ok := cl.req.Header("User-Agent"); !ok {
		head.Header["User-Agent"] = t.cfg.UserAgent
	}

	body, hasBody := cl.req.Body()
	switch {
	case hasBody:
		head.ContentLength = int64(len(body))
	case cl.req.needsEmptyBody():
		head.ContentLength = 0
	}
	return head, body
}

// wireBody is a response body bound to its connection. Close returns the
// connection to the pool when the body was fully read and the exchange
// allows reuse.
type wireBody struct {
	t         *WireTransport
	pc        *persistConn
	body      *http1.Body
	stop      func() bool
	keepAlive bool
	closed    bool
}

func (b *wireBody) Read(p []byte) (int, error) { return b.body.Read(p) }

func (b *wireBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	// stop reports false once the cancel callback has closed the socket.
	if b.stop() && b.keepAlive && b.body.Complete() && b.body.Reusable() && !b.t.isClosed() {
		b.t.pool.put(b.pc)
		return nil
	}
	b.pc.close()
	return nil
}

// roundTrip sends cl's request and reads the response head.
func (t *WireTransport) roundTrip(cl *call) (*http1.ResponseHead, *wireBody, error) {
	r := t.route(cl.req.url)

	pc := t.pool.get(r.key)
	if pc == nil {
		var err error
		if pc, err = t.dial(cl.ctx, r); err != nil {
			return nil, nil, err
		}
	}
	stop := context.AfterFunc(cl.ctx, pc.close)

	head, body := t.requestHead(cl, r)
	if err := http1.WriteRequest(pc.bw, head, body); err != nil {
		stop()
		pc.close()
		return nil, nil, err
	}

	respHead, err := http1.ReadResponseHead(pc.br, 0)
	if err != nil {
		stop()
		pc.close()
		return nil, nil, err
	}
	respBody, err := http1.NewBody(pc.br, respHead, head.Method)
	if err != nil {
		stop()
		pc.close()
		return nil, nil, err
	}

	return respHead, &wireBody{
		t:         t,
		pc:        pc,
		body:      respBody,
		stop:      stop,
		keepAlive: keepAlive(respHead),
	}, nil
}

func keepAlive(h *http1.ResponseHead) bool {
	conn := strings.ToLower(h.Get("Connection"))
	if h.Proto == "HTTP/1.0" {
		return strings.Contains(conn, "keep-alive")
	}
	return !strings.Contains(conn, "close")
}

// Execute implements Transport.
func (t *WireTransport) Execute(ctx context.Context, req *Request) (*Response, error) {
	cl, terr := t.begin(ctx, req)
	if terr != nil {
		return nil, terr
	}
	defer cl.end()

	head, body, err := t.roundTrip(cl)
	if err != nil {
		return nil, t.fail(cl, phaseConnect, err)
	}
	defer body.Close()
	t.responded(cl, head.StatusCode, head.Header)

	b, terr := t.readAll(cl, body)
	if terr != nil {
		return nil, terr
	}
	t.finished(cl, head.StatusCode)
	return NewResponse(head.StatusCode, head.Header, b), nil
}

// Stream implements Transport.
func (t *WireTransport) Stream(ctx context.Context, req *Request) *stream.Stream {
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

		head, body, err := t.roundTrip(cl)
		if err != nil {
			return t.fail(cl, phaseConnect, err)
		}
		defer body.Close()
		t.responded(cl, head.StatusCode, head.Header)

		if !isSuccess(head.StatusCode) {
			return t.drainStatus(cl, head.StatusCode, body)
		}
		return t.pump(cl, body, emit)
	})
}

// Close implements Transport.
func (t *WireTransport) Close() error {
	if t.shutdown() {
		t.pool.close()
	}
	return nil
}
