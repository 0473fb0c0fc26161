package stream

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
)

// Format indicates the framing of a streamed response body
type Format string

const (
	FormatSSE    Format = "sse"    // Server-Sent Events
	FormatNDJSON Format = "ndjson" // Newline-delimited JSON
)

const (
	// DoneSentinel terminates an SSE stream without being emitted (OpenAI convention)
	DoneSentinel = "[DONE]"

	// DefaultMaxLineBytes bounds a single line of a streamed body
	DefaultMaxLineBytes = 4 << 20

	dataPrefix = "data:"
)

// ErrLineTooLong is returned when a line exceeds the decoder's limit.
var ErrLineTooLong = errors.New("stream: line exceeds maximum length")

// ParseFormat maps a format token to a Format. Anything other than
// "ndjson" selects SSE, the default framing.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatNDJSON)) {
		return FormatNDJSON
	}
	return FormatSSE
}

// Decoder turns a raw body into a sequence of payload strings.
//
// Next returns io.EOF once the sequence completes normally: at the end of
// the body, or for SSE after the [DONE] sentinel. Any other error means the
// underlying reader failed.
type Decoder interface {
	Next() (string, error)
}

// NewDecoder returns the decoder for the given format. maxLine <= 0 uses
// DefaultMaxLineBytes.
func NewDecoder(r io.Reader, format Format, maxLine int) Decoder {
	if format == FormatNDJSON {
		return NewNDJSONDecoder(r, maxLine)
	}
	return NewSSEDecoder(r, maxLine)
}

// lineReader yields complete lines with the terminator (LF or CRLF)
// removed. A final line without terminator is dropped.
type lineReader struct {
	br      *bufio.Reader
	maxLine int
	buf     []byte
}

func newLineReader(r io.Reader, maxLine int) *lineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &lineReader{br: bufio.NewReader(r), maxLine: maxLine}
}

func (l *lineReader) readLine() (string, error) {
	l.buf = l.buf[:0]
	for {
		frag, err := l.br.ReadSlice('\n')
		if len(l.buf)+len(frag) > l.maxLine+2 {
			return "", ErrLineTooLong
		}
		l.buf = append(l.buf, frag...)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		// Partial trailing line: discarded.
		return "", err
	}
	line := bytes.TrimSuffix(l.buf, []byte("\n"))
	line = bytes.TrimSuffix(line, []byte("\r"))
	return string(line), nil
}

// SSEDecoder extracts the data payloads of a text/event-stream body.
// event:, id:, retry:, comment and blank lines are ignored.
type SSEDecoder struct {
	lines *lineReader
	done  bool
}

// NewSSEDecoder creates an SSE decoder reading from r.
func NewSSEDecoder(r io.Reader, maxLine int) *SSEDecoder {
	return &SSEDecoder{lines: newLineReader(r, maxLine)}
}

// Next returns the next non-empty data payload.
func (d *SSEDecoder) Next() (string, error) {
	if d.done {
		return "", io.EOF
	}
	for {
		line, err := d.lines.readLine()
		if err != nil {
			return "", err
		}
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == "" {
			continue
		}
		if payload == DoneSentinel {
			d.done = true
			return "", io.EOF
		}
		return payload, nil
	}
}

// NDJSONDecoder emits each non-empty line of the body verbatim (trimmed).
type NDJSONDecoder struct {
	lines *lineReader
}

// NewNDJSONDecoder creates an NDJSON decoder reading from r.
func NewNDJSONDecoder(r io.Reader, maxLine int) *NDJSONDecoder {
	return &NDJSONDecoder{lines: newLineReader(r, maxLine)}
}

// Next returns the next non-empty line.
func (d *NDJSONDecoder) Next() (string, error) {
	for {
		line, err := d.lines.readLine()
		if err != nil {
			return "", err
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
}
