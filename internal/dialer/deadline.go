package dialer

import (
	"net"
	"time"
)

// DeadlineConn pushes the read or write deadline forward before every
// operation, so a timeout bounds each socket read or write rather than the
// whole exchange. A zero or negative timeout leaves that direction alone.
type DeadlineConn struct {
	net.Conn
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WithDeadlines wraps conn. It returns conn unchanged when both timeouts
// are disabled.
func WithDeadlines(conn net.Conn, read, write time.Duration) net.Conn {
	if read <= 0 && write <= 0 {
		return conn
	}
	return &DeadlineConn{Conn: conn, ReadTimeout: read, WriteTimeout: write}
}

func (c *DeadlineConn) Read(p []byte) (int, error) {
	if c.ReadTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(p)
}

func (c *DeadlineConn) Write(p []byte) (int, error) {
	if c.WriteTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.WriteTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(p)
}
