package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/quadgate/statekeep/pkg/fsm"
)

func TestScheduleFiresAfterDuration(t *testing.T) {
	var mu sync.Mutex
	var fired []string

	s := New(func(machineID string, evt fsm.Event) {
		mu.Lock()
		defer mu.Unlock()
		fired = append(fired, machineID)
	}, nil)
	go s.Run()
	defer s.Stop()

	s.Schedule("m1", "waiting", 1, 20*time.Millisecond, "expired")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(fired)
		mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout did not fire within deadline")
}

func TestCancelPreventsFiring(t *testing.T) {
	var mu sync.Mutex
	fired := false

	s := New(func(machineID string, evt fsm.Event) {
		mu.Lock()
		defer mu.Unlock()
		fired = true
	}, nil)
	go s.Run()
	defer s.Stop()

	h := s.Schedule("m1", "waiting", 1, 20*time.Millisecond, "expired")
	s.Cancel(h)

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if fired {
		t.Fatal("cancelled timeout must not fire")
	}
}

func TestCancelAllClearsMachineEntries(t *testing.T) {
	s := New(func(machineID string, evt fsm.Event) {}, nil)
	s.Schedule("m1", "waiting", 1, time.Hour, "expired")
	s.Schedule("m1", "waiting", 1, time.Hour, "expired")
	s.CancelAll("m1")

	if _, ok := s.byHandle["m1"]; ok {
		t.Fatal("CancelAll should drop the machine's handle list")
	}
}

func TestEarliestEntryFiresFirst(t *testing.T) {
	var mu sync.Mutex
	var order []string

	s := New(func(machineID string, evt fsm.Event) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, machineID)
	}, nil)
	go s.Run()
	defer s.Stop()

	s.Schedule("late", "waiting", 1, 60*time.Millisecond, "expired")
	s.Schedule("early", "waiting", 1, 10*time.Millisecond, "expired")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "early" {
		t.Fatalf("fire order = %v, want [early, late]", order)
	}
}
