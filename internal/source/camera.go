// Package source produces landmark detection results from a server-side
// camera: frames are read with GoCV, gated on motion, and sent to a holistic
// detector subprocess.
package source

import (
	"errors"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// Camera is a frame source with its own capture clock.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame and its capture offset since Open.
	// Offsets never decrease. The caller closes the Mat.
	ReadFrame() (*gocv.Mat, time.Duration, error)
	SetFPS(fps int)
}

// deviceCamera reads from a local video device.
type deviceCamera struct {
	deviceID int
	fps      int

	mu      sync.Mutex
	capture *gocv.VideoCapture
	opened  time.Time
	last    time.Duration
}

// NewCamera creates a Camera for the given device ID at DefaultFPS.
func NewCamera(deviceID int) Camera {
	return &deviceCamera{
		deviceID: deviceID,
		fps:      DefaultFPS,
	}
}

// Open opens the device at 640x480 and restarts the capture clock.
func (c *deviceCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture != nil {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return err
	}

	capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.capture = capture
	c.opened = time.Now()
	c.last = 0
	return nil
}

func (c *deviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	return err
}

func (c *deviceCamera) ReadFrame() (*gocv.Mat, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capture == nil {
		return nil, 0, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, 0, errors.New("failed to read frame from camera")
	}
	if mat.Empty() {
		mat.Close()
		return nil, 0, errors.New("captured frame is empty")
	}

	c.last = captureOffset(c.last, time.Since(c.opened), c.capture.Get(gocv.VideoCapturePosMsec))
	return &mat, c.last, nil
}

// captureOffset picks the offset of a new frame. A stream position reported
// by the backend wins over the wall clock; webcams usually report none.
// The result is never earlier than last.
func captureOffset(last, sinceOpen time.Duration, posMsec float64) time.Duration {
	at := sinceOpen
	if posMsec > 0 {
		at = time.Duration(posMsec * float64(time.Millisecond))
	}
	if at < last {
		return last
	}
	return at
}

// SetFPS sets the capture rate. Values less than or equal to 0 are ignored.
func (c *deviceCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}
