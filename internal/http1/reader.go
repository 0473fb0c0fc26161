// Package http1 implements the client side of the HTTP/1.1 wire format:
// request heads, status lines, header blocks and body framing.
package http1

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

var (
	ErrMalformedStatus    = errors.New("http1: malformed status line")
	ErrMalformedHeader    = errors.New("http1: malformed header line")
	ErrHeaderTooLarge     = errors.New("http1: header block too large")
	ErrBadContentLength   = errors.New("http1: invalid Content-Length")
	ErrFramingConflict    = errors.New("http1: both Transfer-Encoding and Content-Length present")
	ErrChunkFormat        = errors.New("http1: invalid chunk format")
	ErrUnsupportedUpgrade = errors.New("http1: protocol switch not supported")
)

// DefaultMaxHeaderBytes bounds the whole response head.
const DefaultMaxHeaderBytes = 1 << 20

// ResponseHead is a parsed status line plus header block. Header keys keep
// the case they had on the wire.
type ResponseHead struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     map[string][]string
}

// Get returns the first value of key, matched case-insensitively.
func (h *ResponseHead) Get(key string) string {
	return HeaderValue(h.Header, key)
}

// HeaderValue returns the first value of key in h, matched
// case-insensitively.
func HeaderValue(h map[string][]string, key string) string {
	if vv, ok := h[key]; ok && len(vv) > 0 {
		return vv[0]
	}
	for k, vv := range h {
		if strings.EqualFold(k, key) && len(vv) > 0 {
			return vv[0]
		}
	}
	return ""
}

func headerValues(h map[string][]string, key string) []string {
	var out []string
	for k, vv := range h {
		if strings.EqualFold(k, key) {
			out = append(out, vv...)
		}
	}
	return out
}

// ReadResponseHead reads the next final response head from br, skipping
// 1xx interim responses. maxBytes <= 0 uses DefaultMaxHeaderBytes.
func ReadResponseHead(br *bufio.Reader, maxBytes int) (*ResponseHead, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxHeaderBytes
	}
	for {
		r := &headReader{br: br, remain: maxBytes}
		head, err := r.read()
		if err != nil {
			return nil, err
		}
		if head.StatusCode == 101 {
			return nil, ErrUnsupportedUpgrade
		}
		if head.StatusCode >= 100 && head.StatusCode < 200 {
			continue
		}
		return head, nil
	}
}

type headReader struct {
	br     *bufio.Reader
	remain int
}

func (r *headReader) read() (*ResponseHead, error) {
	line, err := r.readLine()
	if err != nil {
		return nil, err
	}
	head, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}
	head.Header = make(map[string][]string)
	for {
		line, err := r.readLine()
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			return head, nil
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, ErrMalformedHeader
		}
		k := strings.TrimSpace(line[:i])
		if k == "" || strings.ContainsAny(k, " \t") {
			return nil, ErrMalformedHeader
		}
		v := strings.TrimSpace(line[i+1:])
		head.Header[k] = append(head.Header[k], v)
	}
}

func (r *headReader) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return "", err
		}
		r.remain--
		if r.remain < 0 {
			return "", ErrHeaderTooLarge
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
	}
	return sb.String(), nil
}

func parseStatusLine(line string) (*ResponseHead, error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return nil, ErrMalformedStatus
	}
	if !strings.HasPrefix(parts[0], "HTTP/1.") {
		return nil, ErrMalformedStatus
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return nil, ErrMalformedStatus
	}
	head := &ResponseHead{Proto: parts[0], StatusCode: code}
	if len(parts) == 3 {
		head.Reason = parts[2]
	}
	return head, nil
}
