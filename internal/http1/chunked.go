package http1

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

const maxChunkLine = 4 << 10

// chunkedReader decodes Transfer-Encoding: chunked. The connection closing
// before the terminating zero-size chunk is io.ErrUnexpectedEOF.
type chunkedReader struct {
	br       *bufio.Reader
	remain   int64
	finished bool
}

func newChunkedReader(br *bufio.Reader) *chunkedReader {
	return &chunkedReader{br: br}
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.finished {
		return 0, io.EOF
	}
	if c.remain == 0 {
		size, err := c.readChunkSize()
		if err != nil {
			return 0, unexpected(err)
		}
		if size == 0 {
			if err := c.readTrailers(); err != nil {
				return 0, unexpected(err)
			}
			c.finished = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if len(p) == 0 {
		return 0, nil
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.br.Read(p)
	c.remain -= int64(n)
	if err != nil {
		return n, unexpected(err)
	}
	if c.remain == 0 {
		if err := c.expectCRLF(); err != nil {
			return n, unexpected(err)
		}
	}
	return n, nil
}

func (c *chunkedReader) readChunkSize() (int64, error) {
	line, err := readLineLimit(c.br, maxChunkLine)
	if err != nil {
		return 0, err
	}
	// Strip chunk extensions: "<hex>;<ext>"
	if i := strings.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, ErrChunkFormat
	}
	n, err := strconv.ParseInt(line, 16, 64)
	if err != nil || n < 0 {
		return 0, ErrChunkFormat
	}
	return n, nil
}

func (c *chunkedReader) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return err
	}
	if b1 == '\n' {
		return nil
	}
	b2, err := c.br.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return ErrChunkFormat
	}
	return nil
}

func (c *chunkedReader) readTrailers() error {
	for {
		line, err := readLineLimit(c.br, maxChunkLine)
		if err != nil {
			return err
		}
		if line == "" {
			return nil
		}
	}
}

func readLineLimit(br *bufio.Reader, limit int) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			break
		}
		if b != '\r' {
			sb.WriteByte(b)
		}
		if sb.Len() > limit {
			return "", ErrChunkFormat
		}
	}
	return sb.String(), nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
