package workers

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(name string) *PoolConfig {
	cfg := DefaultPoolConfig(name)
	cfg.NumWorkers = 2
	cfg.QueueSize = 8
	cfg.TaskTimeout = 200 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func TestPoolSubmitFuncRunsTasks(t *testing.T) {
	p := NewPool(zap.NewNop(), testConfig("test"))
	p.Start()
	defer p.Stop()

	var completed int32
	for i := 0; i < 5; i++ {
		err := p.SubmitFunc(func() error {
			atomic.AddInt32(&completed, 1)
			return nil
		})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&completed) == 5
	}, time.Second, 10*time.Millisecond)
}

func TestPoolSubmitBeforeStartFails(t *testing.T) {
	p := NewPool(zap.NewNop(), testConfig("test"))
	err := p.SubmitFunc(func() error { return nil })
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolQueueFullReturnsError(t *testing.T) {
	cfg := testConfig("test")
	cfg.NumWorkers = 0
	cfg.QueueSize = 1
	p := NewPool(zap.NewNop(), cfg)
	p.running.Store(true)

	require.NoError(t, p.SubmitFunc(func() error { return nil }))
	err := p.SubmitFunc(func() error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestPoolTaskErrorDoesNotStopPool(t *testing.T) {
	p := NewPool(zap.NewNop(), testConfig("test"))
	p.Start()
	defer p.Stop()

	require.NoError(t, p.SubmitFunc(func() error { return errors.New("boom") }))

	var completed int32
	require.NoError(t, p.SubmitFunc(func() error {
		atomic.AddInt32(&completed, 1)
		return nil
	}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&completed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPoolPanicRecovered(t *testing.T) {
	p := NewPool(zap.NewNop(), testConfig("test"))
	p.Start()
	defer p.Stop()

	require.NoError(t, p.SubmitFunc(func() error {
		panic("worker should recover")
	}))

	var completed int32
	require.NoError(t, p.SubmitFunc(func() error {
		atomic.AddInt32(&completed, 1)
		return nil
	}))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&completed) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPoolStopIsIdempotent(t *testing.T) {
	p := NewPool(zap.NewNop(), testConfig("test"))
	p.Start()
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}
