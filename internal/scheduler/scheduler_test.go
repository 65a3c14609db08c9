package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"schoolmed_backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func init() {
	logger.Log = zap.NewNop()
}

func TestRunLoopTicksUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs int64

	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoop(ctx, "test", 10*time.Millisecond, func(context.Context) error {
			atomic.AddInt64(&runs, 1)
			return nil
		})
	}()

	// 等足够多个周期后取消，循环必须退出
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after cancel")
	}
	assert.Greater(t, atomic.LoadInt64(&runs), int64(2))
}

func TestRunLoopExitsImmediatelyOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoop(ctx, "test", time.Hour, func(context.Context) error { return nil })
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on pre-cancelled context")
	}
}

func TestRunOnceSurvivesPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		runOnce(context.Background(), "test", func(context.Context) error {
			panic("boom")
		})
	})

	// panic 后循环仍可继续执行后续迭代
	var ran bool
	runOnce(context.Background(), "test", func(context.Context) error {
		ran = true
		return nil
	})
	assert.True(t, ran)
}

func TestRunOnceRecordsIterationError(t *testing.T) {
	assert.NotPanics(t, func() {
		runOnce(context.Background(), "test", func(context.Context) error {
			return errors.New("transient")
		})
	})
}
