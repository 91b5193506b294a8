package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/batch"
	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/submit"
)

// predictServer is a fake prediction service that hands every received batch to the test.
type predictServer struct {
	*httptest.Server
	batches chan []landmark.FrameRecord
	calls   atomic.Int32
}

func newPredictServer(t *testing.T, respond func(w http.ResponseWriter, n int32)) *predictServer {
	t.Helper()

	ps := &predictServer{batches: make(chan []landmark.FrameRecord, 16)}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var records []landmark.FrameRecord
		if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
			t.Errorf("decode batch: %v", err)
		}
		n := ps.calls.Add(1)
		ps.batches <- records
		respond(w, n)
	}))
	t.Cleanup(ps.Close)
	return ps
}

func respondSign(sign, sentence string) func(http.ResponseWriter, int32) {
	return func(w http.ResponseWriter, _ int32) {
		json.NewEncoder(w).Encode(map[string]any{"status": 200, "sign": sign, "sentence": sentence})
	}
}

func startSession(t *testing.T, cfg Config) (*Session, chan Update) {
	t.Helper()

	updates := make(chan Update, 256)
	cfg.OnUpdate = func(u Update) { updates <- u }
	s := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, updates
}

func localSettings(url string, batchSize int) *Settings {
	return NewSettings(Snapshot{Mode: submit.ModeLocal, Endpoint: url, BatchSize: batchSize})
}

func waitUpdate(t *testing.T, updates <-chan Update, match func(Update) bool) Update {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case u := <-updates:
			if match(u) {
				return u
			}
		case <-timeout:
			t.Fatal("timed out waiting for session update")
		}
	}
}

func waitBatch(t *testing.T, ps *predictServer) []landmark.FrameRecord {
	t.Helper()
	select {
	case b := <-ps.batches:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
	}
	return nil
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func hasResult(u Update) bool { return u.Result != nil }
func hasError(u Update) bool  { return u.Err != nil }

func offer(s *Session, times ...float64) {
	for _, ts := range times {
		s.Offer(landmark.SampleResult(ts, landmark.OpenPalmHand()))
	}
}

func TestSession_SubmitsFullBatch(t *testing.T) {
	ps := newPredictServer(t, respondSign("HELLO", "HELLO WORLD"))
	s, updates := startSession(t, Config{
		Settings: localSettings(ps.URL, 3),
		Client:   submit.NewClient(ps.Client(), time.Second),
	})

	offer(s, 1, 2, 3)

	got := waitBatch(t, ps)
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i, rec := range got {
		if rec.FrameNumber != i+1 {
			t.Errorf("record %d: expected frame number %d, got %d", i, i+1, rec.FrameNumber)
		}
	}

	u := waitUpdate(t, updates, hasResult)
	if u.Result.Label != "HELLO" || u.Result.Sentence != "HELLO WORLD" {
		t.Errorf("expected {HELLO, HELLO WORLD}, got %+v", u.Result)
	}
	if u.Busy {
		t.Error("session should not be busy once the result is delivered")
	}
	if s.State() != StateAccumulating {
		t.Errorf("expected accumulating after response, got %s", s.State())
	}
}

func TestSession_DropsFramesWhileSubmitting(t *testing.T) {
	release := make(chan struct{})
	ps := newPredictServer(t, func(w http.ResponseWriter, n int32) {
		if n == 1 {
			<-release
		}
		w.Write([]byte(`{"sign": "A"}`))
	})

	s, updates := startSession(t, Config{
		Settings: localSettings(ps.URL, 3),
		Client:   submit.NewClient(ps.Client(), 5*time.Second),
	})

	offer(s, 1, 2, 3)
	waitBatch(t, ps)

	if !s.InFlight() {
		t.Fatal("expected session to be in flight while the request is outstanding")
	}

	offer(s, 4, 5, 6, 7, 8)
	eventually(t, func() bool { return s.Dropped() == 5 })
	if s.Buffered() != 0 {
		t.Errorf("frames arriving while submitting must not be buffered, got %d", s.Buffered())
	}

	close(release)
	waitUpdate(t, updates, hasResult)

	offer(s, 10, 11, 12)
	second := waitBatch(t, ps)

	if second[0].FrameNumber != 1 {
		t.Errorf("expected numbering to restart at 1, got %d", second[0].FrameNumber)
	}
	if second[0].TimeInSeconds != 10 {
		t.Errorf("expected first frame of the new batch at t=10, got %v", second[0].TimeInSeconds)
	}
}

func TestSession_FailureDoesNotResend(t *testing.T) {
	ps := newPredictServer(t, func(w http.ResponseWriter, n int32) {
		if n == 1 {
			http.Error(w, "model unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"sign": "B"}`))
	})

	s, updates := startSession(t, Config{
		Settings: localSettings(ps.URL, 3),
		Client:   submit.NewClient(ps.Client(), time.Second),
	})

	offer(s, 1, 2, 3)
	waitBatch(t, ps)

	u := waitUpdate(t, updates, hasError)
	if u.Busy {
		t.Error("session should not be busy after a failure")
	}

	// No automatic resend: the next request only happens after three new frames.
	offer(s, 4)
	eventually(t, func() bool { return s.Buffered() == 1 })
	if ps.calls.Load() != 1 {
		t.Fatalf("expected failed batch not to be resent, got %d calls", ps.calls.Load())
	}

	offer(s, 5, 6)
	second := waitBatch(t, ps)
	if second[0].TimeInSeconds != 4 {
		t.Errorf("expected the new batch to start with t=4, got %v", second[0].TimeInSeconds)
	}
	waitUpdate(t, updates, hasResult)
}

func TestSession_SettingsReadAtFlush(t *testing.T) {
	first := newPredictServer(t, respondSign("ONE", ""))
	second := newPredictServer(t, respondSign("TWO", ""))

	settings := localSettings(first.URL, 2)
	s, updates := startSession(t, Config{
		Settings: settings,
		Client:   submit.NewClient(nil, time.Second),
	})

	offer(s, 1, 2)
	waitBatch(t, first)
	waitUpdate(t, updates, hasResult)

	if err := settings.Update(Snapshot{Mode: submit.ModeLocal, Endpoint: second.URL, BatchSize: 4}); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	offer(s, 3, 4, 5, 6)
	got := waitBatch(t, second)
	if len(got) != 4 {
		t.Errorf("expected the new batch size of 4, got %d", len(got))
	}
	u := waitUpdate(t, updates, hasResult)
	if u.Result.Label != "TWO" {
		t.Errorf("expected label from the new endpoint, got %q", u.Result.Label)
	}
}

func TestSession_QueuePolicyReplaysHeldFrames(t *testing.T) {
	release := make(chan struct{})
	ps := newPredictServer(t, func(w http.ResponseWriter, n int32) {
		if n == 1 {
			<-release
		}
		w.Write([]byte(`{"sign": "Q"}`))
	})

	s, updates := startSession(t, Config{
		Settings:   localSettings(ps.URL, 2),
		Client:     submit.NewClient(ps.Client(), 5*time.Second),
		Policy:     batch.PolicyQueue,
		QueueLimit: 8,
	})

	offer(s, 1, 2)
	waitBatch(t, ps)

	offer(s, 3, 4)
	eventually(t, func() bool { return s.buf.Pending() == 2 })

	close(release)
	waitUpdate(t, updates, hasResult)

	held := waitBatch(t, ps)
	if len(held) != 2 || held[0].TimeInSeconds != 3 || held[1].TimeInSeconds != 4 {
		t.Errorf("expected held frames 3 and 4 to be submitted, got %+v", held)
	}
	if s.Dropped() != 0 {
		t.Errorf("queue policy should not drop within its limit, got %d", s.Dropped())
	}
}

func TestSession_RecordsHistory(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ps := newPredictServer(t, func(w http.ResponseWriter, n int32) {
		if n == 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"sign": "THANKS", "sentence": "HELLO THANKS"}`))
	})

	s, updates := startSession(t, Config{
		Settings: localSettings(ps.URL, 1),
		Client:   submit.NewClient(ps.Client(), time.Second),
		Store:    st,
		Source:   store.SourceReplay,
	})

	offer(s, 1)
	waitUpdate(t, updates, hasResult)
	offer(s, 2)
	waitUpdate(t, updates, hasError)

	var preds []*store.Prediction
	eventually(t, func() bool {
		preds, err = st.Predictions().ListBySession(s.ID())
		return err == nil && len(preds) == 2
	})

	if preds[0].Status != store.StatusOK || preds[0].Label != "THANKS" || preds[0].Sentence != "HELLO THANKS" {
		t.Errorf("unexpected first prediction: %+v", preds[0])
	}
	if preds[0].Mode != string(submit.ModeLocal) || preds[0].Endpoint != ps.URL {
		t.Errorf("expected mode and endpoint to be recorded, got %+v", preds[0])
	}
	if preds[1].Status != store.StatusFailed || preds[1].Error == "" {
		t.Errorf("unexpected second prediction: %+v", preds[1])
	}

	sess, err := st.Sessions().GetByID(s.ID())
	if err != nil {
		t.Fatalf("session not recorded: %v", err)
	}
	if sess.Source != store.SourceReplay {
		t.Errorf("expected replay source, got %s", sess.Source)
	}
}

func TestSession_OfferOverflow(t *testing.T) {
	s := New(Config{FrameQueue: 2})

	// Run is not started, so the channel fills up.
	if !s.Offer(landmark.Result{}) || !s.Offer(landmark.Result{}) {
		t.Fatal("expected first two offers to be accepted")
	}
	if s.Offer(landmark.Result{}) {
		t.Error("expected third offer to be rejected")
	}
	if s.Dropped() != 1 {
		t.Errorf("expected 1 dropped frame, got %d", s.Dropped())
	}
	if s.State() != StateIdle {
		t.Errorf("expected idle before Run, got %s", s.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateIdle:         "idle",
		StateAccumulating: "accumulating",
		StateSubmitting:   "submitting",
		State(42):         "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestPredictionRecord(t *testing.T) {
	ok := PredictionRecord("s1", submit.ModeRemote, submit.Outcome{
		Result:   submit.Result{Label: "HELLO", Sentence: "HELLO"},
		Endpoint: submit.RemoteEndpoint,
		Frames:   20,
		Latency:  1500 * time.Millisecond,
	})
	if ok.Status != store.StatusOK || ok.LatencyMs != 1500 || ok.Mode != "online" || ok.ID == "" {
		t.Errorf("unexpected record: %+v", ok)
	}

	timedOut := PredictionRecord("s1", submit.ModeLocal, submit.Outcome{Err: submit.ErrTimeout})
	if timedOut.Status != store.StatusTimeout || timedOut.Error == "" {
		t.Errorf("expected timeout status, got %+v", timedOut)
	}
}

type fakePublisher struct {
	mu  sync.Mutex
	got []*store.Prediction
	err error
}

func (p *fakePublisher) Publish(pred *store.Prediction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, pred)
	return p.err
}

func (p *fakePublisher) published() []*store.Prediction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*store.Prediction(nil), p.got...)
}

func TestSession_PublishesPredictions(t *testing.T) {
	ps := newPredictServer(t, respondSign("HELLO", "HELLO"))
	pub := &fakePublisher{}

	s, updates := startSession(t, Config{
		Settings:  localSettings(ps.URL, 2),
		Publisher: pub,
	})

	offer(s, 0.1, 0.2)
	waitUpdate(t, updates, hasResult)

	eventually(t, func() bool { return len(pub.published()) == 1 })
	got := pub.published()
	if len(got) != 1 {
		t.Fatalf("published %d records, want 1", len(got))
	}
	if got[0].SessionID != s.ID() || got[0].Label != "HELLO" || got[0].Frames != 2 {
		t.Errorf("unexpected record: %+v", got[0])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("record should carry a creation time")
	}
}

func TestSession_PublishErrorIsNotFatal(t *testing.T) {
	ps := newPredictServer(t, respondSign("A", ""))
	pub := &fakePublisher{err: errors.New("broker down")}

	s, updates := startSession(t, Config{
		Settings:  localSettings(ps.URL, 1),
		Publisher: pub,
	})

	offer(s, 0.1)
	waitUpdate(t, updates, hasResult)
	offer(s, 0.2)
	waitUpdate(t, updates, hasResult)

	eventually(t, func() bool { return len(pub.published()) == 2 })
}

// stuckPublisher blocks every Publish until release is closed.
type stuckPublisher struct {
	release chan struct{}
	calls   atomic.Int32
}

func (p *stuckPublisher) Publish(*store.Prediction) error {
	p.calls.Add(1)
	<-p.release
	return nil
}

func TestSession_SlowPublisherDoesNotStallResults(t *testing.T) {
	ps := newPredictServer(t, respondSign("A", ""))
	pub := &stuckPublisher{release: make(chan struct{})}
	defer close(pub.release)

	s, updates := startSession(t, Config{
		Settings:  localSettings(ps.URL, 1),
		Publisher: pub,
	})

	for i := 0; i < 3; i++ {
		offer(s, float64(i))
		waitUpdate(t, updates, hasResult)
	}

	eventually(t, func() bool { return pub.calls.Load() == 1 })
	if s.State() == StateSubmitting {
		t.Error("session should not be held in Submitting by the publisher")
	}
}
