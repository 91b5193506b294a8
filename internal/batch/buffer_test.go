package batch

import (
	"sync/atomic"
	"testing"

	"github.com/ayusman/mudra/internal/landmark"
)

// fakeGate is a Gate whose in-flight state is set by the test.
type fakeGate struct {
	busy atomic.Bool
}

func (g *fakeGate) InFlight() bool { return g.busy.Load() }

func frame(t float64) landmark.Result {
	return landmark.SampleResult(t, landmark.OpenPalmHand())
}

func TestBuffer_Append(t *testing.T) {
	t.Run("length grows until threshold then flushes once", func(t *testing.T) {
		b := New(4, nil)

		for k := 1; k <= 3; k++ {
			st := b.Append(frame(float64(k)))
			if st.Flushed {
				t.Fatalf("append %d: unexpected flush", k)
			}
			if b.Len() != k {
				t.Errorf("append %d: expected length %d, got %d", k, k, b.Len())
			}
		}

		st := b.Append(frame(4))
		if !st.Flushed {
			t.Fatal("expected flush when length reaches threshold")
		}
		if len(st.Batch) != 4 {
			t.Errorf("expected batch of 4, got %d", len(st.Batch))
		}
	})

	t.Run("flush preserves order and empties the buffer", func(t *testing.T) {
		b := New(3, nil)

		a := landmark.Result{LeftHand: landmark.Set{{X: 0.1}}, TimeInSeconds: 1}
		bb := landmark.Result{LeftHand: landmark.Set{{X: 0.2}}, TimeInSeconds: 2}
		c := landmark.Result{LeftHand: landmark.Set{{X: 0.3}}, TimeInSeconds: 3}

		b.Append(a)
		b.Append(bb)
		st := b.Append(c)

		if !st.Flushed {
			t.Fatal("expected flush")
		}
		for i, want := range []float64{0.1, 0.2, 0.3} {
			rec := st.Batch[i]
			if rec.LeftHand[0].X != want {
				t.Errorf("record %d: expected x %v, got %v", i, want, rec.LeftHand[0].X)
			}
			if rec.FrameNumber != i+1 {
				t.Errorf("record %d: expected frame number %d, got %d", i, i+1, rec.FrameNumber)
			}
		}
		if b.Len() != 0 {
			t.Errorf("expected empty buffer after flush, got %d", b.Len())
		}
		if b.FrameCount() != 0 {
			t.Errorf("expected frame counter 0 after flush, got %d", b.FrameCount())
		}
	})

	t.Run("numbering restarts at 1 after flush", func(t *testing.T) {
		b := New(2, nil)
		b.Append(frame(1))
		b.Append(frame(2))

		b.Append(frame(3))
		st := b.Append(frame(4))

		if st.Batch[0].FrameNumber != 1 {
			t.Errorf("expected first frame number 1, got %d", st.Batch[0].FrameNumber)
		}
	})

	t.Run("threshold of 1 flushes every frame", func(t *testing.T) {
		b := New(1, nil)
		for i := 0; i < 3; i++ {
			if st := b.Append(frame(float64(i))); !st.Flushed || len(st.Batch) != 1 {
				t.Fatalf("append %d: expected single-frame flush, got %+v", i, st)
			}
		}
	})
}

func TestBuffer_Threshold(t *testing.T) {
	t.Run("clamps to 1", func(t *testing.T) {
		b := New(0, nil)
		if b.Threshold() != 1 {
			t.Errorf("expected threshold 1, got %d", b.Threshold())
		}
		b.SetThreshold(-5)
		if b.Threshold() != 1 {
			t.Errorf("expected threshold 1, got %d", b.Threshold())
		}
	})

	t.Run("lowering mid-batch flushes on next append", func(t *testing.T) {
		b := New(10, nil)
		for i := 0; i < 4; i++ {
			b.Append(frame(float64(i)))
		}

		b.SetThreshold(3)
		if b.Len() != 4 {
			t.Fatalf("existing records should be kept, got %d", b.Len())
		}

		st := b.Append(frame(5))
		if !st.Flushed {
			t.Fatal("expected flush once length >= new threshold")
		}
		if len(st.Batch) != 5 {
			t.Errorf("expected the whole accumulated batch of 5, got %d", len(st.Batch))
		}
	})

	t.Run("raising mid-batch delays the flush", func(t *testing.T) {
		b := New(2, nil)
		b.Append(frame(1))
		b.SetThreshold(3)

		if st := b.Append(frame(2)); st.Flushed {
			t.Fatal("should not flush below the raised threshold")
		}
		if st := b.Append(frame(3)); !st.Flushed {
			t.Fatal("expected flush at the raised threshold")
		}
	})
}

func TestBuffer_InFlight(t *testing.T) {
	t.Run("drop policy discards frames while busy", func(t *testing.T) {
		gate := &fakeGate{}
		b := New(2, gate)
		b.Append(frame(1))

		gate.busy.Store(true)
		for i := 0; i < 5; i++ {
			if st := b.Append(frame(2)); st.Flushed {
				t.Fatal("append while busy must never flush")
			}
		}

		if b.Len() != 1 {
			t.Errorf("expected length to stay at 1, got %d", b.Len())
		}
		if b.Dropped() != 5 {
			t.Errorf("expected 5 dropped frames, got %d", b.Dropped())
		}
		if b.Pending() != 0 {
			t.Errorf("drop policy should hold nothing, got %d", b.Pending())
		}

		gate.busy.Store(false)
		if st := b.Append(frame(3)); !st.Flushed {
			t.Error("expected buffer to resume accepting frames once idle")
		}
	})

	t.Run("queue policy replays held frames after the submission", func(t *testing.T) {
		gate := &fakeGate{}
		b := New(2, gate, WithPolicy(PolicyQueue), WithQueueLimit(3))

		gate.busy.Store(true)
		for i := 1; i <= 4; i++ {
			b.Append(frame(float64(i)))
		}

		if b.Pending() != 3 {
			t.Fatalf("expected 3 held frames, got %d", b.Pending())
		}
		if b.Dropped() != 1 {
			t.Errorf("expected oldest frame evicted, dropped = %d", b.Dropped())
		}

		if st := b.Drain(); st.Flushed {
			t.Fatal("drain must not run while busy")
		}

		gate.busy.Store(false)
		st := b.Drain()
		if !st.Flushed {
			t.Fatal("expected drain to flush a full batch")
		}
		if st.Batch[0].TimeInSeconds != 2 || st.Batch[1].TimeInSeconds != 3 {
			t.Errorf("expected frames 2 and 3 in order, got %v and %v", st.Batch[0].TimeInSeconds, st.Batch[1].TimeInSeconds)
		}
		if b.Pending() != 1 {
			t.Errorf("expected one frame still held, got %d", b.Pending())
		}

		if st := b.Drain(); st.Flushed {
			t.Error("single remaining frame should not flush")
		}
		if b.Len() != 1 || b.Pending() != 0 {
			t.Errorf("expected 1 buffered and 0 held, got %d and %d", b.Len(), b.Pending())
		}
	})
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyDrop, false},
		{"drop", PolicyDrop, false},
		{"queue", PolicyQueue, false},
		{"retry", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuffer_Reset(t *testing.T) {
	b := New(5, nil)
	b.Append(frame(1))
	b.Append(frame(2))

	b.Reset()

	if b.Len() != 0 || b.FrameCount() != 0 {
		t.Errorf("expected empty buffer after reset, got len %d count %d", b.Len(), b.FrameCount())
	}
}
