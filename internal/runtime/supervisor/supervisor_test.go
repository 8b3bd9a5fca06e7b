package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestFirstErrorCancelsSupervisor(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	s.Go("boom", func(ctx context.Context) error {
		return errors.New("exploded")
	})

	select {
	case <-s.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not canceled after goroutine error")
	}
	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Wait() = %v, want wrapped boom error", err)
	}
}

func TestGoRestartGivesUpAfterMaxRestarts(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	var calls atomic.Int64
	s.GoRestart("flaky", func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("still broken")
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithMaxRestarts(2),
	)

	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "flaky") {
		t.Fatalf("Wait() = %v, want give-up error", err)
	}
	// initial run + 2 restarts
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestGoRestartPublishesFirstError(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New(ctx)

	var calls atomic.Int64
	s.GoRestart("oneshot", func(c context.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		<-c.Done()
		return nil
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithPublishFirstError(true),
	)

	deadline := time.Now().Add(5 * time.Second)
	for s.Err() == nil {
		if time.Now().After(deadline) {
			t.Fatal("first error never published")
		}
		time.Sleep(time.Millisecond)
	}
	if !strings.Contains(s.Err().Error(), "transient") {
		t.Fatalf("Err() = %v, want transient", s.Err())
	}

	cancel()
	if err := s.Stop(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "transient") {
		t.Fatalf("Stop() = %v, want published error", err)
	}
}

func TestGoRestartRestartsCleanExitWhenConfigured(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var calls atomic.Int64
	s.GoRestart("loop", func(ctx context.Context) error {
		if calls.Add(1) >= 3 {
			<-ctx.Done()
		}
		return nil
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithStopOnCleanExit(false),
	)

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("calls = %d, clean exits were not restarted", calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
}

func TestCountersTrackLifecycle(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	started := make(chan struct{})
	s.Go0("blocker", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	<-started

	c := s.Counters()
	if c.Started != 1 || c.Active != 1 {
		t.Fatalf("Counters() = %+v, want 1 started / 1 active", c)
	}

	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if c := s.Counters(); c.Active != 0 {
		t.Fatalf("Counters() after Stop = %+v, want 0 active", c)
	}
}

func TestCancelUnblocksWait(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	s.Go0("blocker", func(ctx context.Context) {
		<-ctx.Done()
	})

	s.Cancel()
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait() = %v, want nil after plain cancel", err)
	}
}
