package http1

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RequestHead describes the request line and headers to write.
//
// Target is the request-target: origin-form ("/v1/chat?x=1") for direct
// and tunnelled connections, absolute-form for plain HTTP through a proxy.
// ContentLength < 0 omits the Content-Length header.
type RequestHead struct {
	Method        string
	Target        string
	Host          string
	Header        map[string]string
	ContentLength int64
	Close         bool
}

// skipped are written by WriteRequest itself.
var skipped = map[string]bool{
	"host":              true,
	"content-length":    true,
	"connection":        true,
	"transfer-encoding": true,
}

// WriteRequest writes head and body to bw and flushes it. Header names are
// written in sorted order with their original case.
func WriteRequest(bw *bufio.Writer, head RequestHead, body string) error {
	if _, err := fmt.Fprintf(bw, "%s %s HTTP/1.1\r\n", head.Method, head.Target); err != nil {
		return err
	}

	host := head.Host
	keys := make([]string, 0, len(head.Header))
	for k := range head.Header {
		if strings.EqualFold(k, "Host") {
			host = head.Header[k]
		}
		if skipped[strings.ToLower(k)] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if _, err := fmt.Fprintf(bw, "Host: %s\r\n", host); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := fmt.Fprintf(bw, "%s: %s\r\n", k, head.Header[k]); err != nil {
			return err
		}
	}
	if head.ContentLength >= 0 {
		if _, err := bw.WriteString("Content-Length: " + strconv.FormatInt(head.ContentLength, 10) + "\r\n"); err != nil {
			return err
		}
	}
	connection := "keep-alive"
	if head.Close {
		connection = "close"
	}
	if _, err := fmt.Fprintf(bw, "Connection: %s\r\n\r\n", connection); err != nil {
		return err
	}
	if body != "" {
		if _, err := bw.WriteString(body); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteConnect writes a CONNECT request for a proxy tunnel to authority.
func WriteConnect(bw *bufio.Writer, authority, proxyAuth string) error {
	if _, err := fmt.Fprintf(bw, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", authority, authority); err != nil {
		return err
	}
	if proxyAuth != "" {
		if _, err := fmt.Fprintf(bw, "Proxy-Authorization: %s\r\n", proxyAuth); err != nil {
			return err
		}
	}
	if _, err := bw.WriteString("\r\n"); err != nil {
		return err
	}
	return bw.Flush()
}
