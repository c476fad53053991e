package allocator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunner_StepsOnSchedule(t *testing.T) {
	svc, err := New(nil, nil, WithSeed(1))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	runner := NewRunner(svc, nil)
	if err := runner.WithSchedule("@every 10ms"); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	var steps atomic.Int64
	runner.WithStepHook(func(StepResult) { steps.Add(1) })

	ctx := context.Background()
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for steps.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if steps.Load() == 0 {
		t.Fatalf("no scheduled steps observed")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := runner.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// No further steps once stopped.
	after := steps.Load()
	time.Sleep(50 * time.Millisecond)
	if steps.Load() != after {
		t.Fatalf("runner stepped after Stop")
	}
}

func TestRunner_StartStopIdempotent(t *testing.T) {
	svc, err := New(nil, nil, WithSeed(1))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	runner := NewRunner(svc, nil)

	ctx := context.Background()
	if err := runner.Stop(ctx); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := runner.Start(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if err := runner.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := runner.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestRunner_InvalidSchedule(t *testing.T) {
	svc, err := New(nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	runner := NewRunner(svc, nil)
	if err := runner.WithSchedule("not a schedule"); err == nil {
		t.Fatalf("invalid schedule accepted")
	}
}
