package dialer

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	socks4Version  = 0x04
	socks4CmdConn  = 0x01
	socks4Granted  = 0x5a
	socks4ReplyLen = 8
)

var socks4Replies = map[byte]string{
	0x5b: "request rejected or failed",
	0x5c: "identd unreachable",
	0x5d: "identd user mismatch",
}

// socks4Connect runs a SOCKS4 CONNECT for addr over conn. SOCKS4 carries
// only IPv4 destinations, so host names are resolved locally.
func socks4Connect(ctx context.Context, conn net.Conn, p *Proxy, addr string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("dialer: invalid port %q", portStr)
	}
	ip, err := resolveIPv4(ctx, host)
	if err != nil {
		return nil, err
	}

	// VN CD DSTPORT DSTIP USERID NUL
	req := make([]byte, 0, 9+len(p.Username))
	req = append(req, socks4Version, socks4CmdConn)
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	req = append(req, ip...)
	req = append(req, p.Username...)
	req = append(req, 0)
	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("dialer: write socks4 request: %w", err)
	}

	reply := make([]byte, socks4ReplyLen)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return nil, fmt.Errorf("dialer: read socks4 reply: %w", err)
	}
	if reply[0] != 0x00 {
		return nil, &ProxyError{Kind: SOCKS4, Addr: p.Addr, Reason: fmt.Sprintf("bad reply version %d", reply[0])}
	}
	if reply[1] != socks4Granted {
		reason, ok := socks4Replies[reply[1]]
		if !ok {
			reason = fmt.Sprintf("reply code 0x%02x", reply[1])
		}
		return nil, &ProxyError{Kind: SOCKS4, Addr: p.Addr, Reason: reason}
	}
	return conn, nil
}

func resolveIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, ErrNoIPv4
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, ErrNoIPv4
}
