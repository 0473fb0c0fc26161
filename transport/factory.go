package transport

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Factory owns a lazily created default Transport and tracks every
// transport registered with it so they can be shut down together.
//
// Transports are tracked by identity, so an implementation must be
// comparable; use a pointer receiver. Registering a value type holding a
// map, slice or func panics.
//
// Applications should create one Factory at their composition root and
// pass it down; DefaultFactory exists for code that cannot.
type Factory struct {
	mu          sync.Mutex
	def         Transport
	managed     map[Transport]struct{}
	constructor func() Transport
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithConstructor sets the function used to build the default transport.
func WithConstructor(fn func() Transport) FactoryOption {
	return func(f *Factory) {
		if fn != nil {
			f.constructor = fn
		}
	}
}

// NewFactory creates an empty Factory. Without WithConstructor the default
// transport is a NetHTTPTransport with DefaultConfig.
func NewFactory(opts ...FactoryOption) *Factory {
	f := &Factory{
		managed: make(map[Transport]struct{}),
		constructor: func() Transport {
			return NewNetHTTPTransport(DefaultConfig())
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Default returns the default transport, creating and registering it on
// first use. Concurrent callers all get the same instance.
func (f *Factory) Default() Transport {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.def == nil {
		t := f.constructor()
		mustBeComparable(t)
		f.def = t
		f.managed[t] = struct{}{}
	}
	return f.def
}

// SetDefault replaces the default transport and registers it. The previous
// default stays registered until unregistered or shut down.
func (f *Factory) SetDefault(t Transport) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t != nil {
		mustBeComparable(t)
		f.managed[t] = struct{}{}
	}
	f.def = t
}

// Register tracks t for Shutdown. Registering twice is a no-op, as is nil.
func (f *Factory) Register(t Transport) {
	if t == nil {
		return
	}
	mustBeComparable(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.managed[t] = struct{}{}
}

// Unregister stops tracking t and reports whether it was tracked. It does
// not close t.
func (f *Factory) Unregister(t Transport) bool {
	if !isComparable(t) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.managed[t]; !ok {
		return false
	}
	delete(f.managed, t)
	return true
}

// IsManaged reports whether t is tracked.
func (f *Factory) IsManaged(t Transport) bool {
	if !isComparable(t) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.managed[t]
	return ok
}

// ManagedCount is the number of tracked transports.
func (f *Factory) ManagedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.managed)
}

// Shutdown closes every tracked transport, clears the registry and drops
// the default so the next Default call builds a fresh one. Close errors
// are joined; every transport is closed regardless.
func (f *Factory) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for t := range f.managed {
		t := t
		g.Go(func() error {
			if err := t.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	f.managed = make(map[Transport]struct{})
	f.def = nil
	return errors.Join(errs...)
}

var (
	defaultFactoryOnce sync.Once
	defaultFactory     *Factory
)

// DefaultFactory returns the process-wide Factory.
func DefaultFactory() *Factory {
	defaultFactoryOnce.Do(func() {
		defaultFactory = NewFactory()
	})
	return defaultFactory
}

// Default returns the default transport of the process-wide Factory.
func Default() Transport {
	return DefaultFactory().Default()
}

// isComparable reports whether t can key the registry. nil cannot.
func isComparable(t Transport) bool {
	return t != nil && reflect.TypeOf(t).Comparable()
}

func mustBeComparable(t Transport) {
	if t != nil && !isComparable(t) {
		panic(fmt.Sprintf("transport: Factory cannot track non-comparable %T; use a pointer", t))
	}
}
