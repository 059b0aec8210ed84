// Package scheduler implements the timeout scheduler (spec.md C1): it
// delivers a synthetic timeout event to a target machine after a scoped
// delay, and cancels on state exit. There is no third-party timer-heap
// library anywhere in the retrieval pack (confirmed across every example
// repo's go.mod); container/heap is the grounded choice here, not a gap —
// see DESIGN.md.
//
// The scheduler never holds a reference to a Machine or a Registry
// (spec.md §9's redesign flag against cyclic instance<->registry<->
// scheduler references): it is constructed with one plain function value,
// Fire, and calls it by machine id when a timeout matures.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/fsm"
)

// Handle lets a caller cancel a specific scheduled timeout before it fires.
type Handle struct {
	machineID string
	seq       uint64
}

type entry struct {
	machineID string
	seq       uint64
	fireAt    time.Time
	payload   fsm.TimeoutPayload
	index     int
	cancelled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Fire is called once per matured timeout with the machine id and the
// event to deliver. The scheduler does not know what a Registry or a
// Machine is — the caller's closure does.
type Fire func(machineID string, evt fsm.Event)

// Scheduler runs a single background goroutine that pops the
// earliest-firing entry off a min-heap (spec.md §5: "the timeout worker
// pool is sized to 1 by default").
type Scheduler struct {
	mu      sync.Mutex
	heap    entryHeap
	byHandle map[string][]*entry // machineID -> live entries, for CancelAll
	nextSeq uint64
	fire    Fire
	logger  corelog.Logger

	wake   chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// New constructs a Scheduler. Call Run in its own goroutine to start
// delivering matured timeouts.
func New(fire Fire, logger corelog.Logger) *Scheduler {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	return &Scheduler{
		byHandle: make(map[string][]*entry),
		fire:     fire,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Schedule registers a timeout for machineID, firing target as a
// synthetic fsm.EventTypeTimeout event after duration unless cancelled or
// guarded out by the machine having moved on (spec.md §4.1).
func (s *Scheduler) Schedule(machineID string, stateAtSchedule fsm.StateName, version uint64, duration time.Duration, target fsm.StateName) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	e := &entry{
		machineID: machineID,
		seq:       s.nextSeq,
		fireAt:    time.Now().Add(duration),
		payload: fsm.TimeoutPayload{
			SourceState: stateAtSchedule,
			Version:     version,
			Target:      target,
		},
	}
	heap.Push(&s.heap, e)
	s.byHandle[machineID] = append(s.byHandle[machineID], e)
	s.wakeLocked()
	return Handle{machineID: machineID, seq: e.seq}
}

// Cancel marks h's entry as cancelled; it is skipped when popped rather
// than removed from the heap immediately (cheaper than a heap fix for the
// common exit-before-timeout case).
func (s *Scheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.byHandle[h.machineID] {
		if e.seq == h.seq {
			e.cancelled = true
		}
	}
}

// CancelAll cancels every pending timeout for machineID — called on every
// live transition before scheduling the state's own timeout, per spec.md
// §4.1.
func (s *Scheduler) CancelAll(machineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.byHandle[machineID] {
		e.cancelled = true
	}
	delete(s.byHandle, machineID)
}

func (s *Scheduler) wakeLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drains matured entries until Stop is called.
func (s *Scheduler) Run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if s.heap.Len() == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.heap[0].fireAt)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.stop:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireMatured()
		}
	}
}

func (s *Scheduler) fireMatured() {
	now := time.Now()
	for {
		s.mu.Lock()
		if s.heap.Len() == 0 || s.heap[0].fireAt.After(now) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.heap).(*entry)
		s.mu.Unlock()

		if e.cancelled {
			continue
		}
		if s.fire != nil {
			s.fire(e.machineID, fsm.Event{Type: fsm.EventTypeTimeout, Payload: e.payload, Timestamp: now})
		}
	}
}

// Stop halts the background goroutine and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Pending returns the number of entries still in the heap (for metrics and
// tests), including cancelled-but-not-yet-popped ones.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}
