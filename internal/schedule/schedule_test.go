package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"digestbot/pkg/logx"
)

func TestAddValidation(t *testing.T) {
	s := New(logx.Nop())
	run := func(context.Context) error { return nil }

	if err := s.Add(Job{Spec: "* * * * *", Run: run}); err == nil {
		t.Fatalf("missing name must fail")
	}
	if err := s.Add(Job{Name: "j", Run: run}); err == nil {
		t.Fatalf("missing spec must fail")
	}
	if err := s.Add(Job{Name: "j", Spec: "not a cron", Run: run}); err == nil {
		t.Fatalf("bad spec must fail")
	}
	if err := s.Add(Job{Name: "five", Spec: "*/5 * * * *", Run: run}); err != nil {
		t.Fatalf("5-field spec rejected: %v", err)
	}
	if err := s.Add(Job{Name: "six", Spec: "0 */5 * * * *", Run: run}); err != nil {
		t.Fatalf("6-field spec rejected: %v", err)
	}
	if err := s.Add(Job{Name: "every", Spec: "@every 1h", Run: run}); err != nil {
		t.Fatalf("@every spec rejected: %v", err)
	}
}

func TestStartStop(t *testing.T) {
	s := New(logx.Nop())
	if err := s.Add(Job{Name: "noop", Spec: "@every 1h", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("double start must fail")
	}
	s.Stop()
	// Stop again is a no-op.
	s.Stop()
}

func TestOverlapGateSkipsTicks(t *testing.T) {
	s := New(logx.Nop())

	var running, overlaps int32
	err := s.Add(Job{
		Name: "slow",
		Spec: "@every 100ms",
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&running, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			defer atomic.AddInt32(&running, -1)
			select {
			case <-time.After(350 * time.Millisecond):
			case <-ctx.Done():
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(700 * time.Millisecond)
	s.Stop()

	if got := atomic.LoadInt32(&overlaps); got != 0 {
		t.Fatalf("job overlapped itself %d times", got)
	}
}
