package source

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/landmark"
)

// Detector turns a video frame into landmark sets.
type Detector interface {
	// Detect analyzes a frame. Sets that were not found are left nil.
	Detect(frame *gocv.Mat) (landmark.Result, error)

	// Close releases any resources held by the detector.
	Close() error
}

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	result landmark.Result
	err    error
	calls  int
}

// NewMockDetector creates a MockDetector that returns an empty result.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetResult sets the result returned by Detect.
func (m *MockDetector) SetResult(r landmark.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = r
}

// SetError sets the error returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockDetector) Detect(frame *gocv.Mat) (landmark.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return landmark.Result{}, m.err
	}
	return m.result, nil
}

// Calls returns the number of Detect calls.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockDetector) Close() error {
	return nil
}
