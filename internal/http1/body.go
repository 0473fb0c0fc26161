package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Body is a framed response body reader.
//
// Reusable reports whether the connection may carry another request once
// the body has been read to io.EOF. Close-delimited bodies never are.
type Body struct {
	r        io.Reader
	reusable bool
	eof      bool
}

// Read implements io.Reader.
func (b *Body) Read(p []byte) (int, error) {
	if b.eof {
		return 0, io.EOF
	}
	n, err := b.r.Read(p)
	if err == io.EOF {
		b.eof = true
	}
	return n, err
}

// Reusable reports whether the connection can be pooled after the body.
func (b *Body) Reusable() bool { return b.reusable }

// Complete reports whether the body was read to its end.
func (b *Body) Complete() bool { return b.eof }

// NewBody selects the body framing for a response to method, following
// RFC 9112 section 6.3.
func NewBody(br *bufio.Reader, head *ResponseHead, method string) (*Body, error) {
	if !hasBody(head.StatusCode, method) {
		return &Body{r: strings.NewReader(""), reusable: true}, nil
	}

	te := headerValues(head.Header, "Transfer-Encoding")
	cl := headerValues(head.Header, "Content-Length")

	if isChunked(te) {
		if len(cl) > 0 {
			return nil, ErrFramingConflict
		}
		return &Body{r: newChunkedReader(br), reusable: true}, nil
	}
	if len(te) > 0 {
		// Non-chunked transfer coding: delimited by connection close.
		return &Body{r: br, reusable: false}, nil
	}

	if len(cl) > 0 {
		n, err := parseContentLength(cl)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return &Body{r: strings.NewReader(""), reusable: true}, nil
		}
		return &Body{r: &lengthReader{r: br, remain: n}, reusable: true}, nil
	}

	return &Body{r: br, reusable: false}, nil
}

func hasBody(status int, method string) bool {
	if strings.EqualFold(method, "HEAD") {
		return false
	}
	if status == 204 || status == 304 || (status >= 100 && status < 200) {
		return false
	}
	return true
}

func isChunked(te []string) bool {
	for _, v := range te {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), "chunked") {
				return true
			}
		}
	}
	return false
}

func parseContentLength(values []string) (int64, error) {
	n := int64(-1)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			m, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || m < 0 {
				return 0, ErrBadContentLength
			}
			if n >= 0 && m != n {
				return 0, ErrBadContentLength
			}
			n = m
		}
	}
	return n, nil
}

// lengthReader reads exactly remain bytes. Hitting EOF early is reported
// as io.ErrUnexpectedEOF.
type lengthReader struct {
	r      io.Reader
	remain int64
}

func (l *lengthReader) Read(p []byte) (int, error) {
	if l.remain <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remain {
		p = p[:l.remain]
	}
	n, err := l.r.Read(p)
	l.remain -= int64(n)
	if err == io.EOF {
		if l.remain > 0 {
			return n, io.ErrUnexpectedEOF
		}
		return n, io.EOF
	}
	if err == nil && l.remain == 0 {
		return n, io.EOF
	}
	return n, err
}
