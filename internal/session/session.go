// Package session runs one capture session: landmark frames go into a batch
// buffer, full batches go to the prediction service, and predictions come back
// to whoever is presenting them.
package session

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/batch"
	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/submit"
)

// Publisher forwards prediction records outside the process.
type Publisher interface {
	Publish(p *store.Prediction) error
}

// DefaultFrameQueue is the capacity of the channel between Offer and Run.
const DefaultFrameQueue = 64

// publishQueue bounds the records waiting for a slow Publisher.
const publishQueue = 32

// State is the session's position in the batching cycle.
type State int32

const (
	// StateIdle means no frame has arrived yet.
	StateIdle State = iota
	// StateAccumulating means frames are being buffered.
	StateAccumulating
	// StateSubmitting means a batch is in flight; arriving frames are dropped or held.
	StateSubmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateSubmitting:
		return "submitting"
	}
	return "unknown"
}

// Update is emitted on every state change and every submission outcome.
type Update struct {
	SessionID string
	State     State
	Busy      bool
	Result    *submit.Result
	Err       error
	Frames    int
	Dropped   uint64
}

// Config holds the collaborators of a session.
type Config struct {
	Settings   *Settings
	Client     *submit.Client
	Policy     batch.Policy
	QueueLimit int
	FrameQueue int

	// Store records the session and its predictions when non-nil.
	Store  *store.Store
	Source store.SessionSource

	// Publisher receives every prediction record when non-nil.
	Publisher Publisher

	// OnUpdate is called from the Run goroutine and must not block.
	OnUpdate func(Update)
}

// Session owns the frame buffer and submission client for one capture.
type Session struct {
	id       string
	config   Config
	settings *Settings
	client   *submit.Client
	buf      *batch.Buffer
	frames   chan landmark.Result

	state    atomic.Int32
	overflow atomic.Uint64

	// outbox feeds the publisher goroutine while Run is active.
	outbox chan *store.Prediction
}

// New creates a Session. Missing collaborators get defaults.
func New(config Config) *Session {
	if config.Settings == nil {
		config.Settings = NewSettings(DefaultSnapshot())
	}
	if config.Client == nil {
		config.Client = submit.NewClient(nil, submit.DefaultTimeout)
	}
	if config.FrameQueue <= 0 {
		config.FrameQueue = DefaultFrameQueue
	}
	if config.Source == "" {
		config.Source = store.SourceWebSocket
	}

	s := &Session{
		id:       uuid.New().String(),
		config:   config,
		settings: config.Settings,
		client:   config.Client,
		frames:   make(chan landmark.Result, config.FrameQueue),
	}
	s.buf = batch.New(
		config.Settings.Snapshot().BatchSize,
		s,
		batch.WithPolicy(config.Policy),
		batch.WithQueueLimit(config.QueueLimit),
	)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// InFlight reports whether a batch is being submitted. It is the gate the
// buffer consults before accepting a frame.
func (s *Session) InFlight() bool {
	return s.State() == StateSubmitting
}

// Dropped returns the number of frames discarded, either while submitting
// or because Run fell behind.
func (s *Session) Dropped() uint64 {
	return s.buf.Dropped() + s.overflow.Load()
}

// Buffered returns the number of frames in the current batch.
func (s *Session) Buffered() int {
	return s.buf.Len()
}

// Offer hands a detection result to the session without blocking.
// It returns false if the frame was dropped because Run is behind.
func (s *Session) Offer(r landmark.Result) bool {
	select {
	case s.frames <- r:
		return true
	default:
		s.overflow.Add(1)
		return false
	}
}

// Run processes frames and submission outcomes until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	if s.config.Store != nil {
		if err := s.config.Store.Sessions().Create(&store.Session{ID: s.id, Source: s.config.Source}); err != nil {
			log.Printf("Failed to record session %s: %v", s.id, err)
		}
		defer func() {
			if err := s.config.Store.Sessions().End(s.id); err != nil {
				log.Printf("Failed to end session %s: %v", s.id, err)
			}
		}()
	}

	if s.config.Publisher != nil {
		s.outbox = make(chan *store.Prediction, publishQueue)
		go publishLoop(s.config.Publisher, s.outbox)
		defer close(s.outbox)
	}

	var (
		outcome <-chan submit.Outcome
		mode    submit.Mode
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r := <-s.frames:
			s.buf.SetThreshold(s.settings.Snapshot().BatchSize)
			st := s.buf.Append(r)
			if outcome != nil {
				continue
			}
			if !st.Flushed {
				s.setState(StateAccumulating)
				continue
			}
			outcome, mode = s.startSubmit(ctx, st.Batch)

		case o := <-outcome:
			outcome = nil
			s.finishSubmit(o, mode)

			s.buf.SetThreshold(s.settings.Snapshot().BatchSize)
			if st := s.buf.Drain(); st.Flushed {
				outcome, mode = s.startSubmit(ctx, st.Batch)
			}
		}
	}
}

// startSubmit enters StateSubmitting before the request begins so that no
// frame is accepted into the next batch until the outcome is handled.
func (s *Session) startSubmit(ctx context.Context, b batch.Batch) (<-chan submit.Outcome, submit.Mode) {
	cfg := s.settings.Snapshot().SubmitConfig()

	s.setState(StateSubmitting)
	ch, err := s.client.Start(ctx, b, cfg)
	if err != nil {
		log.Printf("Failed to start submission: %v", err)
		s.setState(StateAccumulating)
		s.emit(Update{Err: err, Frames: len(b)})
		return nil, cfg.Mode
	}
	return ch, cfg.Mode
}

func (s *Session) finishSubmit(o submit.Outcome, mode submit.Mode) {
	s.record(o, mode)
	s.setState(StateAccumulating)

	if o.Err != nil {
		log.Printf("Error in sending data to %s: %v", o.Endpoint, o.Err)
		s.emit(Update{Err: o.Err, Frames: o.Frames})
		return
	}

	res := o.Result
	log.Printf("Prediction from %s: %q (%d frames, %s)", o.Endpoint, res.Label, o.Frames, o.Latency.Round(time.Millisecond))
	s.emit(Update{Result: &res, Frames: o.Frames})
}

func (s *Session) record(o submit.Outcome, mode submit.Mode) {
	if s.config.Store == nil && s.config.Publisher == nil {
		return
	}
	p := PredictionRecord(s.id, mode, o)
	if s.config.Store != nil {
		if err := s.config.Store.Predictions().Create(p); err != nil {
			log.Printf("Failed to record prediction: %v", err)
		}
	}
	if s.outbox != nil {
		select {
		case s.outbox <- p:
		default:
			log.Printf("Publish queue full, dropping prediction %s", p.ID)
		}
	}
}

// publishLoop forwards records until out is closed.
func publishLoop(pub Publisher, out <-chan *store.Prediction) {
	for p := range out {
		if err := pub.Publish(p); err != nil {
			log.Printf("Failed to publish prediction: %v", err)
		}
	}
}

// PredictionRecord converts a submission outcome into a history row.
func PredictionRecord(sessionID string, mode submit.Mode, o submit.Outcome) *store.Prediction {
	p := &store.Prediction{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Mode:      string(mode),
		Endpoint:  o.Endpoint,
		Frames:    o.Frames,
		Label:     o.Result.Label,
		Sentence:  o.Result.Sentence,
		Status:    store.StatusOK,
		LatencyMs: o.Latency.Milliseconds(),
		CreatedAt: time.Now(),
	}
	if o.Err != nil {
		p.Status = store.StatusFailed
		if errors.Is(o.Err, submit.ErrTimeout) {
			p.Status = store.StatusTimeout
		}
		p.Error = o.Err.Error()
	}
	return p
}

func (s *Session) setState(next State) {
	if State(s.state.Swap(int32(next))) == next {
		return
	}
	s.emit(Update{})
}

// emit fills in the common fields and calls OnUpdate.
func (s *Session) emit(u Update) {
	if s.config.OnUpdate == nil {
		return
	}
	u.SessionID = s.id
	u.State = s.State()
	u.Busy = u.State == StateSubmitting
	u.Dropped = s.Dropped()
	s.config.OnUpdate(u)
}
