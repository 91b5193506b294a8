// Package submit sends landmark batches to a sign prediction service.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ayusman/mudra/internal/batch"
)

// DefaultTimeout bounds a single submission. Free-tier hosting can take up
// to half a minute to wake, so the default leaves headroom above that.
const DefaultTimeout = 45 * time.Second

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

var (
	// ErrInFlight is returned when a submission is started while another is outstanding.
	ErrInFlight = errors.New("submission already in flight")
	// ErrTimeout is returned when the prediction service does not answer in time.
	ErrTimeout = errors.New("submission timed out")
	// ErrMalformedResponse is returned when the response body cannot be understood.
	ErrMalformedResponse = errors.New("malformed prediction response")
	// ErrEmptyBatch is returned when asked to submit a batch with no records.
	ErrEmptyBatch = errors.New("empty batch")
)

// StatusError reports a non-2xx response from the prediction service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.Code)
	}
	return fmt.Sprintf("HTTP error! status: %d: %s", e.Code, e.Body)
}

// Result is the prediction returned for one batch.
type Result struct {
	Label    string   `json:"label"`
	Sentence string   `json:"sentence,omitempty"`
	Signs    []string `json:"signs,omitempty"`
}

// Outcome is delivered once per started submission.
type Outcome struct {
	Result   Result
	Err      error
	Endpoint string
	Frames   int
	Latency  time.Duration
}

// Client submits batches with at most one request in flight.
type Client struct {
	http    *http.Client
	timeout time.Duration

	inFlight atomic.Bool
}

// NewClient creates a Client. A nil httpClient uses http.DefaultClient and a
// timeout less than or equal to 0 uses DefaultTimeout.
func NewClient(httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:    httpClient,
		timeout: timeout,
	}
}

// InFlight reports whether a submission is outstanding.
func (c *Client) InFlight() bool {
	return c.inFlight.Load()
}

// Timeout returns the per-submission timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Start begins submitting b and returns a channel that receives exactly one
// Outcome. The in-flight flag is set before Start returns and is cleared
// before the Outcome is delivered, on every path.
func (c *Client) Start(ctx context.Context, b batch.Batch, cfg Config) (<-chan Outcome, error) {
	if len(b) == 0 {
		return nil, ErrEmptyBatch
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}

	endpoint := Resolve(cfg)
	out := make(chan Outcome, 1)

	go func() {
		o := Outcome{Endpoint: endpoint, Frames: len(b)}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				o.Err = fmt.Errorf("submission panicked: %v", p)
			}
			o.Latency = time.Since(start)
			c.inFlight.Store(false)
			out <- o
			close(out)
		}()

		o.Result, o.Err = c.post(ctx, endpoint, b)
	}()

	return out, nil
}

// Submit sends b and waits for the prediction.
func (c *Client) Submit(ctx context.Context, b batch.Batch, cfg Config) (Result, error) {
	ch, err := c.Start(ctx, b, cfg)
	if err != nil {
		return Result{}, err
	}
	o := <-ch
	return o.Result, o.Err
}

func (c *Client) post(ctx context.Context, endpoint string, b batch.Batch) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(b)
	if err != nil {
		return Result{}, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return Result{}, fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	return parseResult(data)
}

// parseResult extracts the label from "sign" (or "prediction" on older
// deployments) and the optional running sentence and sign list.
func parseResult(data []byte) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	raw, ok := fields["sign"]
	if !ok {
		raw, ok = fields["prediction"]
	}
	if !ok {
		return Result{}, fmt.Errorf("%w: no sign or prediction field", ErrMalformedResponse)
	}

	var res Result
	if err := decodeOptionalString(raw, &res.Label); err != nil {
		return Result{}, fmt.Errorf("%w: label: %v", ErrMalformedResponse, err)
	}
	if raw, ok := fields["sentence"]; ok {
		if err := decodeOptionalString(raw, &res.Sentence); err != nil {
			return Result{}, fmt.Errorf("%w: sentence: %v", ErrMalformedResponse, err)
		}
	}
	if raw, ok := fields["list_sign"]; ok {
		if err := json.Unmarshal(raw, &res.Signs); err != nil {
			return Result{}, fmt.Errorf("%w: list_sign: %v", ErrMalformedResponse, err)
		}
	}

	return res, nil
}

// decodeOptionalString decodes a JSON string, treating null as empty.
func decodeOptionalString(raw json.RawMessage, dst *string) error {
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	if s != nil {
		*dst = *s
	}
	return nil
}
