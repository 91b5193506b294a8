// Package batch accumulates landmark frame records until a submission threshold is reached.
package batch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ayusman/mudra/internal/landmark"
)

// DefaultThreshold is the number of frames per batch when none is configured.
const DefaultThreshold = 20

// DefaultQueueLimit bounds the frames held under PolicyQueue.
const DefaultQueueLimit = 64

// Batch is an ordered sequence of frame records flushed together in one submission.
type Batch []landmark.FrameRecord

// Gate reports whether a submission is currently in flight.
type Gate interface {
	InFlight() bool
}

// Policy decides what happens to frames that arrive while a submission is in flight.
type Policy string

const (
	// PolicyDrop discards frames while busy.
	PolicyDrop Policy = "drop"
	// PolicyQueue holds up to a bounded number of frames while busy and
	// replays them once the submission resolves. The oldest frame is evicted
	// when the queue is full.
	PolicyQueue Policy = "queue"
)

// ParsePolicy converts a configuration string to a Policy.
// An empty string selects PolicyDrop.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyQueue:
		return PolicyQueue, nil
	}
	return "", fmt.Errorf("unknown busy policy %q", s)
}

// State is the outcome of a single Append or Drain.
type State struct {
	Flushed bool
	Batch   Batch
}

// Buffer accumulates frame records until the threshold is reached.
// It is safe for concurrent use.
type Buffer struct {
	gate       Gate
	policy     Policy
	queueLimit int
	threshold  atomic.Int64
	dropped    atomic.Uint64

	mu         sync.Mutex
	records    Batch
	frameCount int
	pending    []landmark.Result
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithPolicy selects the busy policy.
func WithPolicy(p Policy) Option {
	return func(b *Buffer) { b.policy = p }
}

// WithQueueLimit sets the maximum number of frames held under PolicyQueue.
// Values less than or equal to 0 are ignored.
func WithQueueLimit(n int) Option {
	return func(b *Buffer) {
		if n > 0 {
			b.queueLimit = n
		}
	}
}

// New creates a Buffer that flushes once threshold records have accumulated.
// The gate is consulted on every Append; a nil gate is never in flight.
func New(threshold int, gate Gate, opts ...Option) *Buffer {
	b := &Buffer{
		gate:       gate,
		policy:     PolicyDrop,
		queueLimit: DefaultQueueLimit,
	}
	b.SetThreshold(threshold)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetThreshold changes the flush threshold. Values below 1 are clamped to 1.
// The new value applies from the next Append; records already buffered are kept.
func (b *Buffer) SetThreshold(n int) {
	if n < 1 {
		n = 1
	}
	b.threshold.Store(int64(n))
}

// Threshold returns the current flush threshold.
func (b *Buffer) Threshold() int {
	return int(b.threshold.Load())
}

// Policy returns the busy policy.
func (b *Buffer) Policy() Policy {
	return b.policy
}

// Append adds a detection result to the current batch.
//
// While a submission is in flight the result is dropped (PolicyDrop) or held
// for later (PolicyQueue) and the returned State is never flushed. Otherwise
// the result gets the next batch-local frame number, starting at 1, and when
// the batch length reaches the threshold the batch is detached and returned.
func (b *Buffer) Append(r landmark.Result) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gate != nil && b.gate.InFlight() {
		b.holdLocked(r)
		return State{}
	}

	return b.appendLocked(r)
}

// Drain replays frames held under PolicyQueue into the batch. It stops at the
// first flush so the caller can submit before the rest are replayed.
// Drain is a no-op while a submission is still in flight.
func (b *Buffer) Drain() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gate != nil && b.gate.InFlight() {
		return State{}
	}

	for len(b.pending) > 0 {
		r := b.pending[0]
		b.pending = b.pending[1:]
		if st := b.appendLocked(r); st.Flushed {
			return st
		}
	}
	b.pending = nil
	return State{}
}

func (b *Buffer) appendLocked(r landmark.Result) State {
	b.frameCount++
	b.records = append(b.records, landmark.NewFrameRecord(b.frameCount, r))

	if len(b.records) < b.Threshold() {
		return State{}
	}

	flushed := b.records
	b.records = nil
	b.frameCount = 0
	return State{Flushed: true, Batch: flushed}
}

func (b *Buffer) holdLocked(r landmark.Result) {
	if b.policy != PolicyQueue {
		b.dropped.Add(1)
		return
	}
	if len(b.pending) >= b.queueLimit {
		b.pending = b.pending[1:]
		b.dropped.Add(1)
	}
	b.pending = append(b.pending, r)
}

// Len returns the number of records in the current, unflushed batch.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// FrameCount returns the last frame number assigned in the current batch.
func (b *Buffer) FrameCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frameCount
}

// Pending returns the number of frames held under PolicyQueue.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Dropped returns the number of frames discarded while busy.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}

// Reset discards the current batch and any held frames.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = nil
	b.pending = nil
	b.frameCount = 0
}
