package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeffersonwarrior/llmtransport/internal/dialer"
	"github.com/jeffersonwarrior/llmtransport/logging"
)

func newWire(t *testing.T, cfg Config) *WireTransport {
	t.Helper()
	cfg.Logger = logging.Nop()
	tr := NewWireTransport(cfg)
	t.Cleanup(func() { tr.Close() })
	return tr
}

// readRequestHead reads one request head and its Content-Length body,
// returning the head lines after the request line.
func readRequestHead(br *bufio.Reader) (string, []string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", nil, err
	}
	var lines []string
	length := 0
	for {
		l, err := br.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		l = strings.TrimRight(l, "\r\n")
		if l == "" {
			break
		}
		lines = append(lines, l)
		if name, value, ok := strings.Cut(l, ":"); ok && strings.EqualFold(name, "Content-Length") {
			length, _ = strconv.Atoi(strings.TrimSpace(value))
		}
	}
	if length > 0 {
		if _, err := io.CopyN(io.Discard, br, int64(length)); err != nil {
			return "", nil, err
		}
	}
	return strings.TrimRight(line, "\r\n"), lines, nil
}

// replying serves every request on a connection with the same raw response.
func replying(resp string) func(net.Conn, *bufio.Reader) {
	return func(c net.Conn, br *bufio.Reader) {
		for {
			if _, _, err := readRequestHead(br); err != nil {
				return
			}
			if _, err := io.WriteString(c, resp); err != nil {
				return
			}
		}
	}
}

func TestWire_ResponseHeaderCasePreserved(t *testing.T) {
	srv := newRawServer(t, replying("HTTP/1.1 200 OK\r\nx-Custom-HEADER: v\r\nX-RateLimit-Remaining-Requests: 42\r\nContent-Length: 2\r\n\r\nok"))
	tr := newWire(t, Config{})

	resp, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body())
	assert.Contains(t, resp.Headers(), "x-Custom-HEADER")
	assert.Equal(t, "v", resp.Header("x-custom-header"))
	require.NotNil(t, resp.RateLimit())
	assert.Equal(t, 42, resp.RateLimit().RemainingRequests)
}

func TestWire_RequestHead(t *testing.T) {
	var (
		mu    sync.Mutex
		heads [][]string
		reqs  []string
	)
	srv := newRawServer(t, func(c net.Conn, br *bufio.Reader) {
		for {
			line, lines, err := readRequestHead(br)
			if err != nil {
				return
			}
			mu.Lock()
			reqs = append(reqs, line)
			heads = append(heads, lines)
			mu.Unlock()
			io.WriteString(c, "HTTP/1.1 204 No Content\r\n\r\n")
		}
	})
	tr := newWire(t, Config{UserAgent: "wire-test/1"})

	_, err := tr.Execute(context.Background(), mustRequest(t, "POST", srv.url("/v1/chat?stream=true"),
		WithHeader("X-Custom-Case", "v")))
	require.NoError(t, err)
	_, err = tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/v1/models")))
	require.NoError(t, err)
	_, err = tr.Execute(context.Background(), mustRequest(t, "PUT", srv.url("/x"), WithBody("abc")))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, heads, 3)

	assert.Equal(t, "POST /v1/chat?stream=true HTTP/1.1", reqs[0])
	assert.Equal(t, []string{
		"Host: " + srv.ln.Addr().String(),
		"User-Agent: wire-test/1",
		"X-Custom-Case: v",
		"Content-Length: 0",
		"Connection: keep-alive",
	}, heads[0])

	assert.Equal(t, "GET /v1/models HTTP/1.1", reqs[1])
	for _, l := range heads[1] {
		assert.NotContains(t, l, "Content-Length")
	}
	assert.Contains(t, heads[2], "Content-Length: 3")
}

func TestWire_ConnectionReuse(t *testing.T) {
	srv := newRawServer(t, replying("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	tr := newWire(t, Config{})

	for i := 0; i < 3; i++ {
		resp, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Body())
	}
	assert.Equal(t, int32(1), srv.accepts.Load())
	assert.Equal(t, 1, tr.pool.idleCount())
}

func TestWire_StreamedResponseReturnsConnection(t *testing.T) {
	body := "data: a\n\ndata: b\n\n"
	srv := newRawServer(t, replying("HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nContent-Length: "+
		strconv.Itoa(len(body))+"\r\n\r\n"+body))
	tr := newWire(t, Config{})

	for i := 0; i < 2; i++ {
		chunks, err := tr.Stream(context.Background(), mustRequest(t, "GET", srv.url("/"))).Collect()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, chunks)
	}
	assert.Equal(t, int32(1), srv.accepts.Load())
	assert.Equal(t, 1, tr.pool.idleCount())
}

func TestWire_NotReused(t *testing.T) {
	tests := []struct {
		name string
		resp string
	}{
		{"connection close", "HTTP/1.1 200 OK\r\nConnection: close\r\nContent-Length: 2\r\n\r\nok"},
		{"http/1.0", "HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRawServer(t, replying(tt.resp))
			tr := newWire(t, Config{})

			for i := 0; i < 2; i++ {
				resp, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
				require.NoError(t, err)
				assert.Equal(t, "ok", resp.Body())
			}
			assert.Equal(t, int32(2), srv.accepts.Load())
			assert.Zero(t, tr.pool.idleCount())
		})
	}
}

func TestWire_HTTP10KeepAliveReused(t *testing.T) {
	srv := newRawServer(t, replying("HTTP/1.0 200 OK\r\nConnection: keep-alive\r\nContent-Length: 2\r\n\r\nok"))
	tr := newWire(t, Config{})

	for i := 0; i < 2; i++ {
		_, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), srv.accepts.Load())
}

func TestWire_CloseDelimitedBody(t *testing.T) {
	srv := newRawServer(t, func(c net.Conn, br *bufio.Reader) {
		if _, _, err := readRequestHead(br); err != nil {
			return
		}
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n\r\nuntil the end")
	})
	tr := newWire(t, Config{})

	resp, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
	require.NoError(t, err)
	assert.Equal(t, "until the end", resp.Body())
	assert.Zero(t, tr.pool.idleCount())
}

func TestWire_StaleConnectionIsRedialed(t *testing.T) {
	srv := newRawServer(t, func(c net.Conn, br *bufio.Reader) {
		if _, _, err := readRequestHead(br); err != nil {
			return
		}
		// Advertises keep-alive, then hangs up.
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})
	tr := newWire(t, Config{})

	_, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
	require.NoError(t, err)
	require.Equal(t, 1, tr.pool.idleCount())

	time.Sleep(50 * time.Millisecond)
	resp, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body())
	assert.Equal(t, int32(2), srv.accepts.Load())
}

func TestWire_InformationalResponsesSkipped(t *testing.T) {
	srv := newRawServer(t, replying("HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	tr := newWire(t, Config{})

	resp, err := tr.Execute(context.Background(), mustRequest(t, "POST", srv.url("/"), WithBody("x")))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode())
	assert.Equal(t, "ok", resp.Body())
}

func TestWire_ProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		resp string
		kind Kind
	}{
		{"malformed status", "garbage\r\n\r\n", KindProtocol},
		{"framing conflict", "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nTransfer-Encoding: chunked\r\n\r\n", KindProtocol},
		{"bad content length", "HTTP/1.1 200 OK\r\nContent-Length: nope\r\n\r\n", KindProtocol},
		{"short body", "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nshort", KindInterrupted},
		{"bad chunk", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n", KindInterrupted},
		{"closed before response", "", KindConnect},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRawServer(t, func(c net.Conn, br *bufio.Reader) {
				if _, _, err := readRequestHead(br); err != nil {
					return
				}
				io.WriteString(c, tt.resp)
			})
			tr := newWire(t, Config{})

			_, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
			requireKind(t, err, tt.kind)
			assert.Zero(t, tr.pool.idleCount())
		})
	}
}

func TestWire_StreamLineTooLong(t *testing.T) {
	body := "data: " + strings.Repeat("x", 64) + "\n\n"
	srv := newRawServer(t, replying("HTTP/1.1 200 OK\r\nContent-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+body))
	tr := newWire(t, Config{MaxLineBytes: 16})

	_, err := tr.Stream(context.Background(), mustRequest(t, "GET", srv.url("/"))).Collect()
	requireKind(t, err, KindProtocol)
}

func TestWire_IdleConnectionsPruned(t *testing.T) {
	srv := newRawServer(t, replying("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	tr := newWire(t, Config{IdleConnTimeout: 50 * time.Millisecond})

	_, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
	require.NoError(t, err)
	assert.Equal(t, 1, tr.pool.idleCount())

	assert.Eventually(t, func() bool { return tr.pool.idleCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestWire_CloseDrainsPool(t *testing.T) {
	srv := newRawServer(t, replying("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
	tr := newWire(t, Config{})

	_, err := tr.Execute(context.Background(), mustRequest(t, "GET", srv.url("/")))
	require.NoError(t, err)
	require.Equal(t, 1, tr.pool.idleCount())

	require.NoError(t, tr.Close())
	assert.Zero(t, tr.pool.idleCount())
}

func TestWire_Route(t *testing.T) {
	httpProxy, err := NewProxyConfig(ProxyHTTP, "proxy.corp", 3128,
		WithProxyAuth("u", "p"), WithNonProxyHosts("*.internal"))
	require.NoError(t, err)
	socks, err := NewProxyConfig(ProxySOCKS5, "socks.corp", 1080)
	require.NoError(t, err)

	parse := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}

	direct := (&WireTransport{core: core{cfg: Config{}}}).route(parse("https://api.example.com/v1"))
	assert.Equal(t, connKey{scheme: "https", addr: "api.example.com:443", route: "direct"}, direct.key)
	assert.True(t, direct.tls)
	assert.Equal(t, "api.example.com", direct.serverName)
	assert.Nil(t, direct.proxy)

	viaHTTP := &WireTransport{core: core{cfg: Config{Proxy: httpProxy}}}

	fwd := viaHTTP.route(parse("http://api.example.com/v1"))
	assert.True(t, fwd.absoluteForm)
	assert.Equal(t, "proxy.corp:3128", fwd.dialAddr)
	assert.Equal(t, connKey{scheme: "http", addr: "proxy.corp:3128", route: "forward"}, fwd.key)
	assert.Equal(t, dialer.BasicAuth("u", "p"), fwd.proxyAuth)

	tunnel := viaHTTP.route(parse("https://api.example.com/v1"))
	assert.False(t, tunnel.absoluteForm)
	require.NotNil(t, tunnel.proxy)
	assert.Equal(t, dialer.HTTPConnect, tunnel.proxy.Kind)
	assert.Equal(t, "api.example.com:443", tunnel.dialAddr)
	assert.Equal(t, "connect://proxy.corp:3128", tunnel.key.route)

	bypassed := viaHTTP.route(parse("http://svc.internal:8080/"))
	assert.Equal(t, "direct", bypassed.key.route)
	assert.Equal(t, "svc.internal:8080", bypassed.dialAddr)

	viaSOCKS := (&WireTransport{core: core{cfg: Config{Proxy: socks}}}).route(parse("http://api.example.com/"))
	require.NotNil(t, viaSOCKS.proxy)
	assert.Equal(t, dialer.SOCKS5, viaSOCKS.proxy.Kind)
	assert.Equal(t, "socks5://socks.corp:1080", viaSOCKS.key.route)
	assert.False(t, viaSOCKS.absoluteForm)
}

func pipeConn(t *testing.T, key connKey) (*persistConn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return &persistConn{
		key:  key,
		raw:  client,
		conn: client,
		br:   bufio.NewReader(client),
		bw:   bufio.NewWriter(client),
	}, server
}

func isClosedPipe(pc *persistConn) bool {
	_, err := pc.raw.Write([]byte("x"))
	return err == io.ErrClosedPipe
}

func TestConnPool_LimitAndLIFO(t *testing.T) {
	p := newConnPool(2, 0)
	defer p.close()
	k := connKey{scheme: "http", addr: "a:80", route: "direct"}

	a, _ := pipeConn(t, k)
	b, _ := pipeConn(t, k)
	c, _ := pipeConn(t, k)
	p.put(a)
	p.put(b)
	p.put(c)

	assert.Equal(t, 2, p.idleCount())
	assert.True(t, isClosedPipe(c), "over-limit connection must be closed")

	assert.Same(t, b, p.get(k))
	assert.Same(t, a, p.get(k))
	assert.Nil(t, p.get(k))
	assert.Zero(t, p.idleCount())
}

func TestConnPool_KeysAreSeparate(t *testing.T) {
	p := newConnPool(5, 0)
	defer p.close()
	k1 := connKey{scheme: "http", addr: "a:80", route: "direct"}
	k2 := connKey{scheme: "http", addr: "a:80", route: "socks5://p:1080"}

	a, _ := pipeConn(t, k1)
	p.put(a)
	assert.Nil(t, p.get(k2))
	assert.Same(t, a, p.get(k1))
}

func TestConnPool_DropsDeadConnections(t *testing.T) {
	p := newConnPool(5, 0)
	defer p.close()
	k := connKey{scheme: "http", addr: "a:80", route: "direct"}

	hungUp, peer := pipeConn(t, k)
	p.put(hungUp)
	peer.Close()
	assert.Nil(t, p.get(k))
	assert.True(t, isClosedPipe(hungUp))

	chatty, peer := pipeConn(t, k)
	p.put(chatty)
	go peer.Write([]byte("unsolicited"))
	time.Sleep(20 * time.Millisecond)
	assert.Nil(t, p.get(k))
}

func TestConnPool_ProbeKeepsLiveConnectionUsable(t *testing.T) {
	p := newConnPool(5, 0)
	defer p.close()
	k := connKey{scheme: "http", addr: "a:80", route: "direct"}

	pc, peer := pipeConn(t, k)
	p.put(pc)
	got := p.get(k)
	require.Same(t, pc, got)

	go peer.Write([]byte("later"))
	buf := make([]byte, 5)
	_, err := io.ReadFull(got.br, buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("later"), buf))
}

func TestConnPool_PutAfterCloseCloses(t *testing.T) {
	p := newConnPool(5, time.Minute)
	k := connKey{scheme: "http", addr: "a:80", route: "direct"}

	a, _ := pipeConn(t, k)
	p.put(a)
	p.close()
	p.close()
	assert.True(t, isClosedPipe(a))

	b, _ := pipeConn(t, k)
	p.put(b)
	assert.True(t, isClosedPipe(b))
	assert.Zero(t, p.idleCount())
}

func TestConnPool_Prune(t *testing.T) {
	p := newConnPool(5, 0)
	defer p.close()
	p.idleTimeout = time.Minute
	k := connKey{scheme: "http", addr: "a:80", route: "direct"}

	old, _ := pipeConn(t, k)
	fresh, _ := pipeConn(t, k)
	p.put(old)
	p.put(fresh)
	old.idleAt = time.Now().Add(-2 * time.Minute)

	p.prune(time.Now())
	assert.Equal(t, 1, p.idleCount())
	assert.True(t, isClosedPipe(old))
	assert.Same(t, fresh, p.get(k))
}
