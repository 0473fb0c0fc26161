// Package stream decodes streamed HTTP bodies (Server-Sent Events and
// NDJSON) and delivers the payloads through a cancellable Stream.
package stream

import (
	"context"
	"sync"
)

// DefaultBufferSize is the chunk channel capacity used when none is given
const DefaultBufferSize = 10

// Producer fills a Stream. It calls emit for every element in order and
// must stop when emit returns false (the consumer closed the stream or the
// context ended). The returned error becomes Stream.Err.
type Producer func(ctx context.Context, emit func(string) bool) error

// Stream is a push-based, cancellable sequence of payload strings.
//
// Elements arrive on Chunks in production order; the channel is closed
// when the producer returns. Err reports why production stopped and is
// valid once Chunks is closed. Close cancels production and waits for the
// producer goroutine to exit.
type Stream struct {
	chunks chan string
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.RWMutex
	err    error
	closed bool
}

// Start runs produce on a new goroutine and returns the Stream it feeds.
// bufSize <= 0 uses DefaultBufferSize.
func Start(ctx context.Context, bufSize int, produce Producer) *Stream {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ctx, cancel := context.WithCancel(ctx)

	s := &Stream{
		chunks: make(chan string, bufSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go s.run(ctx, produce)
	return s
}

// Failed returns a Stream that has already terminated with err.
func Failed(err error) *Stream {
	s := &Stream{
		chunks: make(chan string),
		done:   make(chan struct{}),
		cancel: func() {},
		err:    err,
	}
	close(s.chunks)
	close(s.done)
	return s
}

func (s *Stream) run(ctx context.Context, produce Producer) {
	defer close(s.done)
	defer close(s.chunks)
	defer s.cancel()

	emit := func(chunk string) bool {
		select {
		case s.chunks <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	err := produce(ctx, emit)

	s.mu.Lock()
	// A consumer-initiated Close is not a failure.
	if err != nil && !s.closed {
		s.err = err
	}
	s.mu.Unlock()
}

// Chunks returns a channel that receives payloads as they arrive
func (s *Stream) Chunks() <-chan string {
	return s.chunks
}

// Done is closed once the producer has exited.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the stream, or nil for normal
// completion and consumer-initiated Close.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Close stops the stream, releases the underlying connection and waits for
// the producer to exit. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
	return nil
}

// Collect accumulates all remaining payloads. On failure it returns the
// payloads received so far together with the error.
func (s *Stream) Collect() ([]string, error) {
	var out []string
	for chunk := range s.chunks {
		out = append(out, chunk)
	}
	<-s.done
	return out, s.Err()
}
