package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jeffersonwarrior/llmtransport/logging"
	"github.com/jeffersonwarrior/llmtransport/sdk/stream"
)

// Transport sends requests to a remote HTTP endpoint.
//
// Execute blocks until the full response body has been read. Non-2xx
// responses are returned as a *Response; the error is non-nil only for
// transport failures and is always a *Error.
//
// Stream returns at once. The connection is opened on a goroutine owned by
// the transport; a non-2xx status fails the stream with KindHTTP carrying
// the status and the drained body. Otherwise every decoded frame is one
// element, in arrival order.
//
// Close releases pooled connections and cancels in-flight calls. It is
// idempotent and safe for concurrent use. Calls made after Close fail with
// KindClosed without any I/O.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
	Stream(ctx context.Context, req *Request) *stream.Stream
	Close() error
}

// Backend names.
const (
	BackendNetHTTP = "nethttp"
	BackendWire    = "wire"
)

// core holds the state and call bookkeeping shared by both backends.
type core struct {
	cfg     Config
	backend string
	log     logging.Logger
	limiter *rate.Limiter

	closeCtx  context.Context
	closeFn   context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
}

func newCore(cfg Config, backend string) core {
	closeCtx, closeFn := context.WithCancel(context.Background())
	c := core{
		cfg:      cfg,
		backend:  backend,
		log:      cfg.Logger.WithField("backend", backend),
		closeCtx: closeCtx,
		closeFn:  closeFn,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return c
}

func (c *core) isClosed() bool { return c.closed.Load() }

// shutdown marks the transport closed and cancels in-flight calls. It
// reports whether this was the first call.
func (c *core) shutdown() bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closed.Store(true)
		c.closeFn()
		c.log.Debugf("transport closed")
	})
	return first
}

// call is the per-invocation state of Execute or Stream.
type call struct {
	id        string
	req       *Request
	start     time.Time
	log       logging.Logger
	callerCtx context.Context

	// ctx ends when the caller's context ends or the transport closes.
	ctx    context.Context
	cancel context.CancelFunc
	stop   func() bool
}

func (cl *call) end() {
	cl.stop()
	cl.cancel()
}

// begin validates and admits a call. Failures are logged and reported to
// the OnError hook before they are returned.
func (c *core) begin(ctx context.Context, req *Request) (*call, *Error) {
	if req == nil {
		return nil, invalidRequest("request is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cl := &call{
		id:        uuid.NewString(),
		req:       req,
		start:     time.Now(),
		callerCtx: ctx,
	}
	cl.log = c.log.WithFields(map[string]interface{}{
		"call_id": cl.id,
		"method":  req.Method(),
		"url":     redactURL(req.url),
	})

	if c.isClosed() {
		return nil, c.reject(cl, closedError())
	}
	if err := c.cfg.Hooks.before(ctx, req); err != nil {
		return nil, c.reject(cl, err)
	}

	cl.ctx, cl.cancel = context.WithCancel(ctx)
	cl.stop = context.AfterFunc(c.closeCtx, cl.cancel)

	if c.limiter != nil {
		if err := c.limiter.Wait(cl.ctx); err != nil {
			cl.end()
			// Wait gives up early when the deadline would pass before a
			// token is available, without the context having expired yet.
			if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
				err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
			}
			return nil, c.fail(cl, phaseConnect, err)
		}
	}

	cl.log.WithField("headers", sanitizeHeaders(req.Headers())).Debugf("sending request")
	return cl, nil
}

// fail classifies err and reports it.
func (c *core) fail(cl *call, p phase, err error) *Error {
	return c.reject(cl, classify(cl.callerCtx, c.isClosed(), p, err))
}

// reject reports an already classified error.
func (c *core) reject(cl *call, te *Error) *Error {
	l := cl.log.WithFields(map[string]interface{}{
		"kind":     te.Kind.String(),
		"duration": time.Since(cl.start).String(),
	})
	if te.StatusCode > 0 {
		l = l.WithField("status", te.StatusCode)
	}
	if te.Kind == KindCanceled || te.Kind == KindClosed {
		l.Debugf("call ended: %v", te)
	} else {
		l.Warnf("call failed: %v", te)
	}
	c.cfg.Hooks.failed(cl.req, te)
	return te
}

// responded runs once the status line and headers are in.
func (c *core) responded(cl *call, status int, headers map[string][]string) {
	cl.log.WithField("status", status).Debugf("response headers received")
	if info := ParseRateLimitHeaders(headers); info != nil {
		cl.log.Debugf("rate limit: %s", info)
	}
	c.cfg.Hooks.after(cl.req, status, headers)
}

func (c *core) finished(cl *call, status int) {
	cl.log.WithFields(map[string]interface{}{
		"status":   status,
		"duration": time.Since(cl.start).String(),
	}).Debugf("call complete")
}

// readAll buffers a response body.
func (c *core) readAll(cl *call, body io.Reader) (string, *Error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return string(b), c.fail(cl, phaseBody, err)
	}
	return string(b), nil
}

// drainStatus fails a streaming call on a non-2xx status with the drained
// body attached.
func (c *core) drainStatus(cl *call, status int, body io.Reader) *Error {
	b, err := io.ReadAll(body)
	if err != nil {
		cl.log.WithFields(map[string]interface{}{
			"status": status,
			"read":   len(b),
		}).Warnf("error body truncated: %v", err)
	}
	return c.reject(cl, httpError(status, string(b)))
}

// pump decodes body and emits every frame until the body ends or the
// stream context ends. The latter is reported as a failure; Stream drops
// it when the consumer closed the stream itself.
func (c *core) pump(cl *call, body io.Reader, emit func(string) bool) error {
	dec := stream.NewDecoder(body, cl.req.StreamFormat(), c.cfg.MaxLineBytes)
	frames := 0
	for {
		payload, err := dec.Next()
		if err == io.EOF {
			cl.log.WithFields(map[string]interface{}{
				"frames":   frames,
				"duration": time.Since(cl.start).String(),
			}).Debugf("stream complete")
			return nil
		}
		if err != nil {
			return c.fail(cl, phaseBody, err)
		}
		if !emit(payload) {
			return c.fail(cl, phaseBody, cl.ctx.Err())
		}
		frames++
	}
}

func isSuccess(status int) bool { return status >= 200 && status < 300 }
