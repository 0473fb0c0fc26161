package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/jeffersonwarrior/llmtransport/logging"
)

// backends builds each Transport implementation for the shared suite.
var backends = []struct {
	name string
	new  func(Config) Transport
}{
	{BackendNetHTTP, func(c Config) Transport { return NewNetHTTPTransport(c) }},
	{BackendWire, func(c Config) Transport { return NewWireTransport(c) }},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, newTransport func(Config) Transport)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, func(c Config) Transport {
				if c.Logger == nil {
					c.Logger = logging.Nop()
				}
				tr := b.new(c)
				t.Cleanup(func() { tr.Close() })
				return tr
			})
		})
	}
}

// testServer routes the endpoints the suite exercises.
type testServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ts.hits.Add(1)
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/echo", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		w.Header().Set("X-Got-Method", req.Method)
		w.Header().Set("X-Got-Trace", req.Header.Get("X-Trace"))
		w.Header().Set("X-Got-User-Agent", req.Header.Get("User-Agent"))
		w.Header().Set("X-Got-Stream-Format", req.Header.Get(HeaderStreamFormat))
		w.Header().Set("X-Got-Host", req.Host)
		w.Header().Set("Content-Type", "text/plain")
		w.Write(body)
	})

	r.HandleFunc("/status/{code:[0-9]+}", func(w http.ResponseWriter, req *http.Request) {
		code, _ := strconv.Atoi(mux.Vars(req)["code"])
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"error":"status %d"}`, code)
	})

	r.HandleFunc("/sse", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for _, line := range []string{
			": keep-alive comment\n",
			"event: message\nid: 1\ndata: a\n\n",
			"retry: 100\n\n",
			"data:b\n\n",
			"data:   \n\n",
			"\n\ndata: c\n\n",
			"data: [DONE]\n\n",
			"data: after-done\n\n",
		} {
			io.WriteString(w, line)
			f.Flush()
		}
	})

	r.HandleFunc("/sse-nodone", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: x\n\ndata: y\n\ndata: partial")
	})

	r.HandleFunc("/ndjson", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, "{\"n\":1}\n\n  {\"n\":2}  \r\n{\"n\":3}\n")
	}).Methods(http.MethodPost)

	r.HandleFunc("/stall", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: one\n\ndata: two\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-req.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	r.HandleFunc("/slow-headers", func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-req.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	r.HandleFunc("/ticks", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		f := w.(http.Flusher)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "data: tick-%d\n\n", i); err != nil {
				return
			}
			f.Flush()
			select {
			case <-req.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	})

	r.HandleFunc("/truncated", func(w http.ResponseWriter, req *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nTransfer-Encoding: chunked\r\n\r\n")
		chunk := "data: one\n\n"
		fmt.Fprintf(conn, "%x\r\n%s\r\n", len(chunk), chunk)
		io.WriteString(conn, "40\r\ndata: tw")
	})

	r.HandleFunc("/truncated-error", func(w http.ResponseWriter, req *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		io.WriteString(conn, "HTTP/1.1 503 Service Unavailable\r\nContent-Length: 100\r\n\r\n{\"error\":\"overlo")
	})

	ts.Server = httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

// refusedAddr returns a loopback address nothing listens on.
func refusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// proxyServer is an HTTP proxy that answers forward requests itself and
// tunnels CONNECT requests to their target.
type proxyServer struct {
	*httptest.Server
	mu    sync.Mutex
	auths []string
	uris  []string
}

func newProxyServer(t *testing.T) *proxyServer {
	t.Helper()
	p := &proxyServer{}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		p.mu.Lock()
		p.auths = append(p.auths, req.Header.Get("Proxy-Authorization"))
		p.uris = append(p.uris, req.RequestURI)
		p.mu.Unlock()

		if req.Method != http.MethodConnect {
			fmt.Fprintf(w, "proxied %s %s", req.Method, req.RequestURI)
			return
		}
		up, err := net.Dial("tcp", req.Host)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		conn, _, err := w.(http.Hijacker).Hijack()
		if err != nil {
			up.Close()
			return
		}
		io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
		pipeConns(conn, up)
	}))
	t.Cleanup(p.Close)
	return p
}

func (p *proxyServer) seen() (auths, uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.auths...), append([]string(nil), p.uris...)
}

func (p *proxyServer) port(t *testing.T) int {
	_, ps, err := net.SplitHostPort(p.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(ps)
	require.NoError(t, err)
	return port
}

func pipeConns(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); io.Copy(a, b); a.Close() }()
	go func() { defer wg.Done(); io.Copy(b, a); b.Close() }()
	wg.Wait()
}

// socks5Server is a no-auth SOCKS5 proxy counting CONNECT requests.
func socks5Server(t *testing.T) (addr string, connects *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	connects = &atomic.Int32{}

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				br := bufio.NewReader(c)
				hdr := make([]byte, 2)
				if _, err := io.ReadFull(br, hdr); err != nil {
					return
				}
				io.ReadFull(br, make([]byte, hdr[1]))
				c.Write([]byte{5, 0})

				req := make([]byte, 4)
				if _, err := io.ReadFull(br, req); err != nil {
					return
				}
				var host string
				switch req[3] {
				case 1:
					ip := make([]byte, 4)
					io.ReadFull(br, ip)
					host = net.IP(ip).String()
				case 3:
					n, _ := br.ReadByte()
					name := make([]byte, n)
					io.ReadFull(br, name)
					host = string(name)
				default:
					return
				}
				pb := make([]byte, 2)
				io.ReadFull(br, pb)
				up, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(pb)))))
				if err != nil {
					c.Write([]byte{5, 5, 0, 1, 0, 0, 0, 0, 0, 0})
					return
				}
				connects.Add(1)
				c.Write([]byte{5, 0, 0, 1, 0, 0, 0, 0, 0, 0})
				pipeConns(c, up)
			}()
		}
	}()
	return ln.Addr().String(), connects
}

// socks4Server is a SOCKS4 proxy that records the user id of every granted
// CONNECT.
func socks4Server(t *testing.T) (addr string, users chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	users = make(chan string, 16)

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				br := bufio.NewReader(c)
				req := make([]byte, 8)
				if _, err := io.ReadFull(br, req); err != nil || req[0] != 4 || req[1] != 1 {
					return
				}
				user, err := br.ReadString(0)
				if err != nil {
					return
				}
				target := net.JoinHostPort(net.IP(req[4:8]).String(), strconv.Itoa(int(binary.BigEndian.Uint16(req[2:4]))))
				up, err := net.Dial("tcp", target)
				if err != nil {
					c.Write([]byte{0, 0x5b, 0, 0, 0, 0, 0, 0})
					return
				}
				select {
				case users <- strings.TrimSuffix(user, "\x00"):
				default:
				}
				c.Write([]byte{0, 0x5a, 0, 0, 0, 0, 0, 0})
				pipeConns(c, up)
			}()
		}
	}()
	return ln.Addr().String(), users
}

// rawServer accepts connections and hands each to handle.
type rawServer struct {
	ln      net.Listener
	accepts atomic.Int32
}

func newRawServer(t *testing.T, handle func(c net.Conn, br *bufio.Reader)) *rawServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &rawServer{ln: ln}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepts.Add(1)
			go func() {
				defer c.Close()
				handle(c, bufio.NewReader(c))
			}()
		}
	}()
	return s
}

func (s *rawServer) url(path string) string {
	return "http://" + s.ln.Addr().String() + path
}

func mustRequest(t *testing.T, method, url string, opts ...RequestOption) *Request {
	t.Helper()
	req, err := NewRequest(method, url, opts...)
	require.NoError(t, err)
	return req
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	require.Error(t, err)
	te, ok := AsError(err)
	require.True(t, ok, "not a *transport.Error: %v", err)
	require.Equal(t, kind, te.Kind, "error: %v", err)
	return te
}

func lower(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ",")
	}
	return out
}
