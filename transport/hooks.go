package transport

import (
	"context"
)

// BeforeRequestHook is called before a request is sent.
// If the hook returns an error, the call is aborted with a KindInvalidRequest
// error wrapping it and no I/O happens.
//
// Use cases:
//   - Validate outgoing requests
//   - Log request details
//   - Enforce per-tenant quotas
//
// The request is immutable; the hook cannot modify it.
type BeforeRequestHook func(ctx context.Context, req *Request) error

// AfterResponseHook is called once the status line and headers of a
// response have been read, for both Execute and Stream. The hook can log
// or collect metrics but cannot alter the response.
type AfterResponseHook func(req *Request, statusCode int, headers map[string][]string)

// OnErrorHook is called with every error a call returns or a stream ends
// with, including HTTP status failures of streaming calls.
type OnErrorHook func(req *Request, err *Error)

// Hooks groups the optional call observers. Nil hooks are skipped.
type Hooks struct {
	BeforeRequest BeforeRequestHook
	AfterResponse AfterResponseHook
	OnError       OnErrorHook
}

func (h Hooks) before(ctx context.Context, req *Request) *Error {
	if h.BeforeRequest == nil {
		return nil
	}
	if err := h.BeforeRequest(ctx, req); err != nil {
		return &Error{Kind: KindInvalidRequest, Message: "rejected by BeforeRequest hook", Err: err}
	}
	return nil
}

func (h Hooks) after(req *Request, status int, headers map[string][]string) {
	if h.AfterResponse != nil {
		h.AfterResponse(req, status, copyHeaders(headers))
	}
}

func (h Hooks) failed(req *Request, err *Error) {
	if h.OnError != nil && err != nil {
		h.OnError(req, err)
	}
}
