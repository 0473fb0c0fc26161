// Package dialer opens TCP connections for the transports, directly or
// through an HTTP CONNECT, SOCKS4 or SOCKS5 proxy.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// Kind selects how Dialer reaches the target address.
type Kind int

const (
	Direct Kind = iota
	HTTPConnect
	SOCKS4
	SOCKS5
)

func (k Kind) String() string {
	switch k {
	case Direct:
		return "direct"
	case HTTPConnect:
		return "connect"
	case SOCKS4:
		return "socks4"
	case SOCKS5:
		return "socks5"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Proxy is the hop a Dialer tunnels through.
type Proxy struct {
	Kind     Kind
	Addr     string // host:port of the proxy
	Username string
	Password string
}

// ProxyError reports a proxy that refused or botched the handshake.
type ProxyError struct {
	Kind   Kind
	Addr   string
	Reason string
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("dialer: %s proxy %s: %s", e.Kind, e.Addr, e.Reason)
}

// ErrNoIPv4 is returned when a SOCKS4 target has no IPv4 address.
var ErrNoIPv4 = errors.New("dialer: socks4 target has no IPv4 address")

// Dialer dials addresses with an optional proxy hop. Timeout bounds the TCP
// connect plus the proxy handshake; zero or negative means no bound beyond
// the context.
type Dialer struct {
	Timeout time.Duration
	Proxy   *Proxy
}

// DialContext connects to addr ("host:port") over network, tunnelling
// through d.Proxy when set. The handshake is aborted when ctx ends.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	p := d.Proxy
	if p == nil || p.Kind == Direct {
		var nd net.Dialer
		return nd.DialContext(ctx, network, addr)
	}

	if p.Kind == SOCKS5 {
		return dialSOCKS5(ctx, p, network, addr)
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return nil, err
	}

	var tunnelled net.Conn
	err = handshake(ctx, conn, func() error {
		var herr error
		switch p.Kind {
		case HTTPConnect:
			tunnelled, herr = connectTunnel(conn, p, addr)
		case SOCKS4:
			tunnelled, herr = socks4Connect(ctx, conn, p, addr)
		default:
			herr = fmt.Errorf("dialer: unsupported proxy kind %s", p.Kind)
		}
		return herr
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return tunnelled, nil
}

// handshake runs fn with conn bound to ctx: the context deadline becomes
// the conn deadline and cancellation closes the conn.
func handshake(ctx context.Context, conn net.Conn, fn func() error) error {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	err := fn()
	if !stop() {
		// ctx ended while the handshake ran; the conn is already closed.
		return fmt.Errorf("dialer: proxy handshake: %w", ctx.Err())
	}
	if err != nil {
		return err
	}
	return conn.SetDeadline(time.Time{})
}

func dialSOCKS5(ctx context.Context, p *Proxy, network, addr string) (net.Conn, error) {
	var auth *proxy.Auth
	if p.Username != "" || p.Password != "" {
		auth = &proxy.Auth{User: p.Username, Password: p.Password}
	}
	d, err := proxy.SOCKS5("tcp", p.Addr, auth, &net.Dialer{})
	if err != nil {
		return nil, err
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("dialer: socks5 dialer does not support contexts")
	}
	return cd.DialContext(ctx, network, addr)
}
