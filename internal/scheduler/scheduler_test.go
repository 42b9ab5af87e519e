package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunStopsOnCancel(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) error {
			ticks++
			if ticks >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("取消后应返回 context.Canceled, 实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未在取消后退出")
	}

	if ticks < 3 {
		t.Fatalf("期望至少 3 次轮询, 实际 %d", ticks)
	}
}

func TestRunContinuesAfterTickError(t *testing.T) {
	s := New(Options{Interval: time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) error {
			ticks++
			if ticks >= 2 {
				cancel()
				return nil
			}
			return errors.New("cycle failed")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未退出")
	}

	if ticks < 2 {
		t.Fatal("单次周期失败不应终止调度循环")
	}
}

func TestRunHonoursStartupDelayCancellation(t *testing.T) {
	s := New(Options{Interval: time.Millisecond, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Run(ctx, func(context.Context) error {
		t.Fatal("取消的上下文不应执行任何周期")
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 实际 %v", err)
	}
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("非正的轮询间隔应 panic")
		}
	}()
	New(Options{Interval: 0}, zerolog.Nop())
}
