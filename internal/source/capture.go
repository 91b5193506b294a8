package source

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/landmark"
)

// IdleFPS is the frame rate while the motion gate is closed.
const IdleFPS = 5

// Config holds the collaborators of a capture loop.
type Config struct {
	Camera   Camera
	Detector Detector

	// FPS is the frame rate while motion is seen.
	FPS int
	// MotionThreshold is the percentage of changed pixels that opens the
	// gate. Zero sends every frame to the detector.
	MotionThreshold float64
	IdleAfter       time.Duration

	// Sink receives every detection result. It must not block.
	Sink func(landmark.Result)
}

// Capture reads camera frames, runs detection and hands results to a sink.
type Capture struct {
	config  Config
	gate    *MotionGate
	mu      sync.RWMutex
	enabled bool
}

// New creates a Capture. It starts enabled.
func New(config Config) *Capture {
	if config.FPS <= 0 {
		config.FPS = DefaultFPS
	}
	return &Capture{
		config:  config,
		gate:    NewMotionGate(config.MotionThreshold, config.IdleAfter),
		enabled: true,
	}
}

// SetEnabled pauses or resumes detection without closing the camera.
func (c *Capture) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// IsEnabled returns whether detection is running.
func (c *Capture) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Run opens the camera and processes frames until ctx is cancelled.
func (c *Capture) Run(ctx context.Context) error {
	cam := c.config.Camera
	if err := cam.Open(); err != nil {
		return err
	}
	defer func() {
		if err := cam.Close(); err != nil {
			log.Printf("Error closing camera: %v", err)
		}
		c.gate.Close()
		if err := c.config.Detector.Close(); err != nil {
			log.Printf("Error closing detector: %v", err)
		}
	}()

	fps := c.config.FPS
	if c.config.MotionThreshold > 0 {
		fps = IdleFPS
	}
	cam.SetFPS(fps)

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	log.Println("Capture started")

	for {
		select {
		case <-ctx.Done():
			log.Println("Capture stopped")
			return nil
		case <-ticker.C:
		}

		if !c.IsEnabled() {
			continue
		}

		frame, at, err := cam.ReadFrame()
		if err != nil {
			log.Printf("Error reading frame: %v", err)
			continue
		}

		open, changed := c.gate.Observe(frame)
		if changed {
			fps = IdleFPS
			if open {
				fps = c.config.FPS
				log.Println("Switched to active mode")
			} else {
				log.Println("Switched to idle mode")
			}
			cam.SetFPS(fps)
			ticker.Reset(time.Second / time.Duration(fps))
		}
		if !open {
			frame.Close()
			continue
		}

		res, err := c.config.Detector.Detect(frame)
		frame.Close()
		if err != nil {
			log.Printf("Error detecting landmarks: %v", err)
			continue
		}

		res.TimeInSeconds = at.Seconds()
		if c.config.Sink != nil {
			c.config.Sink(res)
		}
	}
}
