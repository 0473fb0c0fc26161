package dialer

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"

	"github.com/jeffersonwarrior/llmtransport/internal/http1"
)

// BasicAuth returns the Proxy-Authorization value for user and password.
func BasicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// connectTunnel asks an HTTP proxy on conn to open a tunnel to addr.
func connectTunnel(conn net.Conn, p *Proxy, addr string) (net.Conn, error) {
	var auth string
	if p.Username != "" && p.Password != "" {
		auth = BasicAuth(p.Username, p.Password)
	}

	if err := http1.WriteConnect(bufio.NewWriter(conn), addr, auth); err != nil {
		return nil, fmt.Errorf("dialer: write CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	head, err := http1.ReadResponseHead(br, 0)
	if err != nil {
		return nil, fmt.Errorf("dialer: read CONNECT response: %w", err)
	}
	if head.StatusCode != 200 {
		return nil, &ProxyError{
			Kind:   HTTPConnect,
			Addr:   p.Addr,
			Reason: fmt.Sprintf("CONNECT %s: %d %s", addr, head.StatusCode, head.Reason),
		}
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, br: br}, nil
	}
	return conn, nil
}

// bufferedConn drains bytes the proxy sent right after its response head
// before reading from the socket again.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	if c.br.Buffered() > 0 {
		return c.br.Read(p)
	}
	return c.Conn.Read(p)
}
