package stream

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_DeliversInOrder(t *testing.T) {
	s := Start(context.Background(), 2, func(ctx context.Context, emit func(string) bool) error {
		for i := 0; i < 50; i++ {
			if !emit(strconv.Itoa(i)) {
				return ctx.Err()
			}
		}
		return nil
	})
	defer s.Close()

	got, err := s.Collect()
	require.NoError(t, err)
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, strconv.Itoa(i), v)
	}
}

func TestStream_ProducerError(t *testing.T) {
	boom := errors.New("boom")
	s := Start(context.Background(), 0, func(ctx context.Context, emit func(string) bool) error {
		emit("first")
		return boom
	})

	got, err := s.Collect()
	assert.Equal(t, []string{"first"}, got)
	assert.ErrorIs(t, err, boom)

	// Err stays set after Close.
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Err(), boom)
}

func TestStream_CloseStopsProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := Start(context.Background(), 1, func(ctx context.Context, emit func(string) bool) error {
		defer close(stopped)
		for i := 0; ; i++ {
			if !emit(strconv.Itoa(i)) {
				return ctx.Err()
			}
		}
	})

	first := <-s.Chunks()
	assert.Equal(t, "0", first)

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}
	<-stopped

	assert.NoError(t, s.Err(), "consumer Close must not surface as an error")
	require.NoError(t, s.Close(), "second Close")
}

func TestStream_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := Start(ctx, 1, func(ctx context.Context, emit func(string) bool) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cancel()
	_, err := s.Collect()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFailed(t *testing.T) {
	boom := errors.New("closed")
	s := Failed(boom)

	_, ok := <-s.Chunks()
	assert.False(t, ok)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done() not closed")
	}

	got, err := s.Collect()
	assert.Empty(t, got)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, s.Close())
}
