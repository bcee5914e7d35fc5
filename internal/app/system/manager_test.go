package system

import (
	"context"
	"fmt"
	"testing"
)

type recordingService struct {
	name    string
	events  *[]string
	failure error
}

func (s recordingService) Name() string { return s.name }

func (s recordingService) Start(context.Context) error {
	if s.failure != nil {
		return s.failure
	}
	*s.events = append(*s.events, "start:"+s.name)
	return nil
}

func (s recordingService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerStartStopOrder(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(recordingService{name: name, events: &events}); err != nil {
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
		t.Fatalf("unexpected events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(recordingService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(recordingService{name: "a", events: &events}); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
	if err := m.Register(nil); err == nil {
		t.Fatalf("nil service must be rejected")
	}
}

func TestManagerStopsStartedServicesOnFailure(t *testing.T) {
	var events []string
	m := NewManager()
	_ = m.Register(recordingService{name: "a", events: &events})
	_ = m.Register(recordingService{name: "boom", events: &events, failure: fmt.Errorf("cannot start")})

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start failure")
	}

	want := []string{"start:a", "stop:a"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Fatalf("unexpected events: %v", events)
	}
}
