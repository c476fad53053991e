package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name     string
	startErr error
	stopErr  error
	events   *[]string
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	return s.startErr
}

func (s *recordingService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return s.stopErr
}

func TestManager_StartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()

	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events: got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var events []string
	m := NewManager()

	if err := m.Register(&recordingService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordingService{name: "b", events: &events, startErr: errors.New("boom")}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("start should propagate the failure")
	}

	// a started before b failed, so a must have been stopped again.
	want := []string{"start:a", "start:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events: got %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManager_RegisterRejections(t *testing.T) {
	var events []string
	m := NewManager()

	if err := m.Register(nil); err == nil {
		t.Fatalf("nil service accepted")
	}
	if err := m.Register(&recordingService{name: "", events: &events}); err == nil {
		t.Fatalf("unnamed service accepted")
	}
	if err := m.Register(&recordingService{name: "dup", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordingService{name: "dup", events: &events}); err == nil {
		t.Fatalf("duplicate name accepted")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&recordingService{name: "late", events: &events}); err == nil {
		t.Fatalf("registration after start accepted")
	}
}

func TestManager_StopCollectsFirstError(t *testing.T) {
	var events []string
	m := NewManager()

	if err := m.Register(&recordingService{name: "a", events: &events, stopErr: errors.New("a failed")}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordingService{name: "b", events: &events, stopErr: errors.New("b failed")}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	err := m.Stop(ctx)
	if err == nil {
		t.Fatalf("stop should report a failure")
	}
	// Reverse order: b stops first, so its error wins.
	if got := err.Error(); got != "stop b: b failed" {
		t.Fatalf("unexpected error: %s", got)
	}

	// Both services were still asked to stop.
	if events[len(events)-1] != "stop:a" {
		t.Fatalf("remaining services not stopped: %v", events)
	}
}

func TestNoopService(t *testing.T) {
	svc := NoopService{ServiceName: "ledger"}
	if svc.Name() != "ledger" {
		t.Fatalf("name: %s", svc.Name())
	}
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
