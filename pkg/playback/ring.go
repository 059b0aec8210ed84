// Package playback implements the per-machine event-history/playback
// store (spec.md C6): a bounded ring buffer of transition records with a
// forward/backward cursor, export/import, and basic statistics. Grounded
// on pkg/appendlog/store.go's Offset-indexed, append-only Record model,
// adapted from an unbounded segmented disk log to a fixed-capacity
// in-memory ring per machine (spec.md §4.6 default capacity 1000, toggled
// by the playback_enabled configuration key).
package playback

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/quadgate/statekeep/pkg/fsm"
)

// DefaultCapacity is the ring's default size per machine (spec.md §6
// configuration surface "playback_max_size").
const DefaultCapacity = 1000

// Statistics summarizes one ring's contents (spec.md C6 "statistics").
type Statistics struct {
	Size        int
	Capacity    int
	OldestSeq   uint64
	NewestSeq   uint64
	CursorSeq   uint64
	Overwritten uint64
}

// Ring is a fixed-capacity, single-machine circular buffer of
// fsm.TransitionRecord with a movable read cursor.
type Ring struct {
	mu          sync.Mutex
	capacity    int
	buf         []fsm.TransitionRecord
	seqs        []uint64
	start       int // index of the oldest record
	size        int
	nextSeq     uint64
	cursor      int // index within buf the cursor currently points at (-1 if empty)
	overwritten uint64
}

// NewRing constructs a Ring with the given capacity (<=0 uses
// DefaultCapacity).
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{
		capacity: capacity,
		buf:      make([]fsm.TransitionRecord, capacity),
		seqs:     make([]uint64, capacity),
		cursor:   -1,
	}
}

// Record appends rec, advancing the cursor to the new tail (spec.md C6
// "record"). If the ring is full, the oldest record is overwritten.
func (r *Ring) Record(rec fsm.TransitionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := (r.start + r.size) % r.capacity
	if r.size == r.capacity {
		r.start = (r.start + 1) % r.capacity
		r.overwritten++
	} else {
		r.size++
	}
	r.buf[idx] = rec
	r.seqs[idx] = r.nextSeq
	r.nextSeq++
	r.cursor = idx
}

// StepBackward moves the cursor n records toward the oldest end, clamping
// at the ring's start, and returns the record it lands on (spec.md C6
// "stepBackward").
func (r *Ring) StepBackward(n int) (fsm.TransitionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 || r.cursor < 0 {
		return fsm.TransitionRecord{}, false
	}
	offset := r.logicalIndex(r.cursor) - n
	if offset < 0 {
		offset = 0
	}
	r.cursor = (r.start + offset) % r.capacity
	return r.buf[r.cursor], true
}

// StepForward moves the cursor n records toward the newest end, clamping
// at the tail, and returns the record it lands on (spec.md C6
// "stepForward").
func (r *Ring) StepForward(n int) (fsm.TransitionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.size == 0 || r.cursor < 0 {
		return fsm.TransitionRecord{}, false
	}
	offset := r.logicalIndex(r.cursor) + n
	if offset > r.size-1 {
		offset = r.size - 1
	}
	r.cursor = (r.start + offset) % r.capacity
	return r.buf[r.cursor], true
}

// JumpTo moves the cursor directly to the record with the given sequence
// number, if it is still retained (spec.md C6 "jumpTo").
func (r *Ring) JumpTo(seq uint64) (fsm.TransitionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < r.size; i++ {
		idx := (r.start + i) % r.capacity
		if r.seqs[idx] == seq {
			r.cursor = idx
			return r.buf[idx], true
		}
	}
	return fsm.TransitionRecord{}, false
}

// Current returns the record the cursor currently points at.
func (r *Ring) Current() (fsm.TransitionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursor < 0 {
		return fsm.TransitionRecord{}, false
	}
	return r.buf[r.cursor], true
}

// Statistics reports the ring's current occupancy (spec.md C6
// "statistics").
func (r *Ring) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Statistics{Size: r.size, Capacity: r.capacity, Overwritten: r.overwritten}
	if r.size > 0 {
		stats.OldestSeq = r.seqs[r.start]
		stats.NewestSeq = r.seqs[(r.start+r.size-1)%r.capacity]
	}
	if r.cursor >= 0 {
		stats.CursorSeq = r.seqs[r.cursor]
	}
	return stats
}

// exportRecord is the JSON-friendly shape export/import exchange; the
// fsm.TransitionRecord.Err field is dropped since errors don't round-trip
// through JSON meaningfully.
type exportRecord struct {
	Seq     uint64              `json:"seq"`
	Record  fsm.TransitionRecord `json:"record"`
}

// Export serializes the ring's retained records, oldest first (spec.md C6
// "export").
func (r *Ring) Export() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]exportRecord, 0, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.start + i) % r.capacity
		out = append(out, exportRecord{Seq: r.seqs[idx], Record: r.buf[idx]})
	}
	return json.Marshal(out)
}

// Import replaces the ring's contents with a previously exported payload,
// capped at this ring's capacity — the newest `capacity` records are kept
// if the payload exceeds it (spec.md C6 "import").
func (r *Ring) Import(data []byte) error {
	var records []exportRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unmarshal playback export: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(records) > r.capacity {
		records = records[len(records)-r.capacity:]
	}
	r.start = 0
	r.size = len(records)
	r.cursor = -1
	var maxSeq uint64
	for i, rec := range records {
		r.buf[i] = rec.Record
		r.seqs[i] = rec.Seq
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
	}
	if r.size > 0 {
		r.cursor = r.size - 1
	}
	r.nextSeq = maxSeq + 1
	return nil
}

// logicalIndex converts a physical buffer index into its 0-based logical
// offset from r.start, assuming idx is currently occupied.
func (r *Ring) logicalIndex(idx int) int {
	if idx >= r.start {
		return idx - r.start
	}
	return r.capacity - r.start + idx
}
