package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/jeffersonwarrior/llmtransport/internal/dialer"
	"github.com/jeffersonwarrior/llmtransport/internal/http1"
	"github.com/jeffersonwarrior/llmtransport/sdk/stream"
)

// Kind classifies a transport failure.
type Kind int

const (
	KindUnknown        Kind = iota
	KindConnect             // DNS failure, refused or reset before a response
	KindTimeout             // connect, read or write deadline expired
	KindTLS                 // handshake or certificate failure
	KindHTTP                // non-2xx status on a streaming call
	KindInterrupted         // connection dropped after the status line
	KindClosed              // transport already closed
	KindInvalidRequest      // request rejected before any I/O
	KindCanceled            // caller context canceled
	KindProtocol            // malformed response framing
)

var kindNames = map[Kind]string{
	KindUnknown:        "unknown",
	KindConnect:        "connect",
	KindTimeout:        "timeout",
	KindTLS:            "tls",
	KindHTTP:           "http",
	KindInterrupted:    "interrupted",
	KindClosed:         "closed",
	KindInvalidRequest: "invalid_request",
	KindCanceled:       "canceled",
	KindProtocol:       "protocol",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ErrClosed is matched by errors.Is for every call made after Close.
var ErrClosed = errors.New("transport: closed")

// Error is the single error type returned by transports.
//
// StatusCode is 0 when no status line was read. Body holds the drained
// response body of a failed streaming call and may be empty.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("transport: ")
	sb.WriteString(e.Kind.String())
	if e.StatusCode > 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports KindClosed errors as ErrClosed.
func (e *Error) Is(target error) bool {
	return target == ErrClosed && e.Kind == KindClosed
}

// IsHTTPError reports whether a status line was received.
func (e *Error) IsHTTPError() bool { return e.StatusCode > 0 }

// IsClientError reports a 4xx status.
func (e *Error) IsClientError() bool { return e.StatusCode >= 400 && e.StatusCode < 500 }

// IsServerError reports a 5xx status.
func (e *Error) IsServerError() bool { return e.StatusCode >= 500 && e.StatusCode < 600 }

// IsRetryable reports whether repeating the call may succeed: 429, any 5xx,
// or a connection failure that happened before any response arrived.
//
// The transport itself never retries; callers decide.
func (e *Error) IsRetryable() bool {
	if e.StatusCode == 429 || e.IsServerError() {
		return true
	}
	if e.StatusCode > 0 {
		return false
	}
	switch e.Kind {
	case KindConnect, KindTimeout, KindTLS:
		return true
	}
	return false
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func closedError() *Error {
	return &Error{Kind: KindClosed, Message: "transport is closed", Err: ErrClosed}
}

func httpError(status int, body string) *Error {
	return &Error{
		Kind:       KindHTTP,
		Message:    fmt.Sprintf("unexpected status %d", status),
		StatusCode: status,
		Body:       body,
	}
}

// phase tells classify where in the exchange a failure happened.
type phase int

const (
	phaseConnect phase = iota // dial, proxy, TLS, request write, awaiting headers
	phaseBody                 // after the status line
)

// classify maps a low-level failure to an *Error. callCtx is the caller's
// context; closed reports whether the transport was shut down mid-call.
func classify(callCtx context.Context, closed bool, p phase, err error) *Error {
	if te, ok := AsError(err); ok {
		return te
	}

	switch {
	case closed:
		return closedError()
	case callCtx.Err() != nil:
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return newError(KindTimeout, "context deadline exceeded", err)
		}
		return newError(KindCanceled, "call canceled", callCtx.Err())
	case isTimeout(err):
		return newError(KindTimeout, timeoutMessage(p), err)
	case isTLS(err):
		return newError(KindTLS, "tls handshake failed", err)
	}

	if errors.Is(err, stream.ErrLineTooLong) {
		return newError(KindProtocol, "stream line too long", err)
	}
	if p == phaseBody {
		if isProtocol(err) {
			return newError(KindInterrupted, "malformed response body", err)
		}
		return newError(KindInterrupted, "connection interrupted", err)
	}

	var pe *dialer.ProxyError
	switch {
	case errors.As(err, &pe):
		return newError(KindConnect, "proxy handshake failed", err)
	case isProtocol(err):
		return newError(KindProtocol, "malformed response", err)
	}

	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
	)
	switch {
	case errors.As(err, &dnsErr):
		return newError(KindConnect, "dns lookup failed", err)
	case errors.As(err, &opErr):
		return newError(KindConnect, "connection failed", err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return newError(KindConnect, "connection closed before response", err)
	}
	return newError(KindUnknown, "request failed", err)
}

func timeoutMessage(p phase) string {
	if p == phaseBody {
		return "read timed out"
	}
	return "timed out"
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isTLS(err error) bool {
	var (
		recordErr  tls.RecordHeaderError
		alertErr   tls.AlertError
		verifyErr  *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	return errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownCA) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

func isProtocol(err error) bool {
	for _, target := range []error{
		http1.ErrMalformedStatus,
		http1.ErrMalformedHeader,
		http1.ErrHeaderTooLarge,
		http1.ErrBadContentLength,
		http1.ErrFramingConflict,
		http1.ErrChunkFormat,
		http1.ErrUnsupportedUpgrade,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
