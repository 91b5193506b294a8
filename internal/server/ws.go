package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/batch"
	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/submit"
)

const (
	// outboxSize is the number of messages buffered per connection.
	outboxSize = 32
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Outbound message types.
const (
	MessageSession    = "session"
	MessagePrediction = "prediction"
	MessageState      = "state"
	MessageError      = "error"
)

// Message is the envelope pushed to browser clients.
type Message struct {
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId,omitempty"`
	Busy      bool     `json:"busy"`
	State     string   `json:"state,omitempty"`
	Sign      string   `json:"sign,omitempty"`
	Sentence  string   `json:"sentence,omitempty"`
	Signs     []string `json:"signs,omitempty"`
	Frames    int      `json:"frames,omitempty"`
	Dropped   uint64   `json:"dropped,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// LandmarksHandler accepts landmark results from a browser over WebSocket.
// Each connection gets its own session, and predictions go back on the same
// connection.
type LandmarksHandler struct {
	settings   *session.Settings
	httpClient *http.Client
	timeout    time.Duration
	policy     batch.Policy
	queueLimit int
	store      *store.Store
	publisher  session.Publisher

	active atomic.Int64
}

// NewLandmarksHandler creates a LandmarksHandler from the server config.
func NewLandmarksHandler(config Config) *LandmarksHandler {
	return &LandmarksHandler{
		settings:   config.Settings,
		httpClient: config.HTTPClient,
		timeout:    config.Timeout,
		policy:     config.Policy,
		queueLimit: config.QueueLimit,
		store:      config.Store,
		publisher:  config.Publisher,
	}
}

// Active returns the number of open sessions.
func (h *LandmarksHandler) Active() int64 {
	return h.active.Load()
}

// ServeHTTP handles WebSocket upgrade requests and runs the session until the
// client disconnects.
func (h *LandmarksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	h.active.Add(1)
	defer h.active.Add(-1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outbox := make(chan Message, outboxSize)
	send := func(m Message) {
		select {
		case outbox <- m:
		default:
			log.Printf("Dropping %s message for slow client", m.Type)
		}
	}

	sess := session.New(session.Config{
		Settings:   h.settings,
		Client:     submit.NewClient(h.httpClient, h.timeout),
		Policy:     h.policy,
		QueueLimit: h.queueLimit,
		Store:      h.store,
		Source:     store.SourceWebSocket,
		Publisher:  h.publisher,
		OnUpdate:   func(u session.Update) { send(toMessage(u)) },
	})
	log.Printf("Session %s connected from %s", sess.ID(), r.RemoteAddr)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		writeLoop(ctx, conn, outbox)
	}()

	send(Message{Type: MessageSession, SessionID: sess.ID(), State: sess.State().String()})

	start := time.Now()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}

		res, err := decodeFrame(data, time.Since(start))
		if err != nil {
			send(Message{Type: MessageError, Error: "invalid landmark frame"})
			continue
		}
		sess.Offer(res)
	}

	cancel()
	wg.Wait()
	log.Printf("Session %s closed (%d frames dropped)", sess.ID(), sess.Dropped())
}

// decodeFrame parses one inbound frame. A frame without timeInSeconds is
// stamped with arrived, its arrival time since the connection opened.
func decodeFrame(data []byte, arrived time.Duration) (landmark.Result, error) {
	var frame struct {
		landmark.Result
		TimeInSeconds *float64 `json:"timeInSeconds"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		return landmark.Result{}, err
	}

	res := frame.Result
	res.TimeInSeconds = arrived.Seconds()
	if frame.TimeInSeconds != nil {
		res.TimeInSeconds = *frame.TimeInSeconds
	}
	return res, nil
}

// writeLoop is the only writer on conn.
func writeLoop(ctx context.Context, conn *websocket.Conn, outbox <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-outbox:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(m); err != nil {
				log.Printf("websocket write error: %v", err)
				return
			}
		}
	}
}

// toMessage converts a session update into the message sent to the page.
func toMessage(u session.Update) Message {
	m := Message{
		SessionID: u.SessionID,
		Busy:      u.Busy,
		State:     u.State.String(),
		Frames:    u.Frames,
		Dropped:   u.Dropped,
	}
	switch {
	case u.Result != nil:
		m.Type = MessagePrediction
		m.Sign = u.Result.Label
		m.Sentence = u.Result.Sentence
		m.Signs = u.Result.Signs
	case u.Err != nil:
		m.Type = MessageError
		m.Error = u.Err.Error()
	default:
		m.Type = MessageState
	}
	return m
}
