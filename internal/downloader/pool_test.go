package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool("test", 3, quietLogger())
	defer pool.Close(context.Background())

	var running, peak atomic.Int32
	futures := make([]*Future, 0, 20)
	for i := 0; i < 20; i++ {
		futures = append(futures, pool.Submit(context.Background(), func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}

	for _, f := range futures {
		require.NoError(t, f.Wait(context.Background()))
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, int32(3), peak.Load())
	assert.Equal(t, 3, pool.Size())
}

func TestPool_ReturnsTaskError(t *testing.T) {
	pool := NewPool("test", 1, quietLogger())
	defer pool.Close(context.Background())

	boom := errors.New("boom")
	err := pool.Submit(context.Background(), func(context.Context) error { return boom }).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := NewPool("test", 1, quietLogger())
	defer pool.Close(context.Background())

	err := pool.Submit(context.Background(), func(context.Context) error { panic("bad metadata") }).Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad metadata")

	// the slot is released after a panic
	err = pool.Submit(context.Background(), func(context.Context) error { return nil }).Wait(context.Background())
	assert.NoError(t, err)
}

func TestPool_CloseCancelsOutstandingWork(t *testing.T) {
	pool := NewPool("test", 1, quietLogger())

	started := make(chan struct{})
	running := pool.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started
	queued := pool.Submit(context.Background(), func(context.Context) error {
		t.Error("queued work must not run after close")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, pool.Close(ctx))

	assert.ErrorIs(t, running.Wait(context.Background()), context.Canceled)
	assert.ErrorIs(t, queued.Wait(context.Background()), ErrPoolClosed)

	late := pool.Submit(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, late.Wait(context.Background()), ErrPoolClosed)
}

func TestPool_CloseGivesUpOnStuckWork(t *testing.T) {
	pool := NewPool("test", 1, quietLogger())

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	pool.Submit(context.Background(), func(context.Context) error {
		defer wg.Done()
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	wg.Wait()
}

func TestPool_SubmitContextCancelled(t *testing.T) {
	pool := NewPool("test", 1, quietLogger())
	defer pool.Close(context.Background())

	block := make(chan struct{})
	started := make(chan struct{})
	pool.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-block
		return nil
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	waiting := pool.Submit(ctx, func(context.Context) error { return nil })
	cancel()
	assert.ErrorIs(t, waiting.Wait(context.Background()), context.Canceled)
	close(block)
}
