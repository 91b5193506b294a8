package source

import (
	"image"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Motion gating constants
const (
	// BlurSize is the Gaussian kernel applied before differencing.
	BlurSize = 21
	// PixelDiffThreshold is the per-pixel intensity change counted as motion.
	PixelDiffThreshold = 25
	// DefaultIdleAfter is how long without motion before the gate closes.
	DefaultIdleAfter = 2 * time.Second
)

// MotionGate decides whether frames are worth sending to the detector.
// It opens as soon as the share of changed pixels exceeds the threshold
// and closes after idleAfter without motion. A threshold <= 0 keeps it open.
type MotionGate struct {
	threshold float64
	idleAfter time.Duration
	now       func() time.Time

	mu          sync.Mutex
	prevGray    gocv.Mat
	initialized bool
	open        bool
	lastMotion  time.Time
}

// NewMotionGate creates a gate. threshold is a percentage of pixels.
func NewMotionGate(threshold float64, idleAfter time.Duration) *MotionGate {
	if idleAfter <= 0 {
		idleAfter = DefaultIdleAfter
	}
	return &MotionGate{
		threshold: threshold,
		idleAfter: idleAfter,
		now:       time.Now,
		prevGray:  gocv.NewMat(),
		open:      threshold <= 0,
	}
}

// Observe feeds a frame to the gate and reports whether it is open
// afterwards and whether that changed with this frame.
func (g *MotionGate) Observe(frame *gocv.Mat) (open, changed bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.threshold <= 0 {
		return true, false
	}

	was := g.open
	now := g.now()
	if g.changePercent(frame) > g.threshold {
		g.lastMotion = now
		g.open = true
	} else if g.open && now.Sub(g.lastMotion) > g.idleAfter {
		g.open = false
	}
	return g.open, g.open != was
}

// changePercent returns the share of pixels that changed since the previous
// frame, 0 for the first frame.
func (g *MotionGate) changePercent(frame *gocv.Mat) float64 {
	if frame == nil || frame.Empty() {
		return 0
	}

	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: BlurSize, Y: BlurSize}, 0, 0, gocv.BorderDefault)

	if !g.initialized {
		blurred.CopyTo(&g.prevGray)
		g.initialized = true
		return 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, g.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, PixelDiffThreshold, 255, gocv.ThresholdBinary)

	blurred.CopyTo(&g.prevGray)

	total := thresh.Rows() * thresh.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(thresh)) / float64(total) * 100.0
}

// Close releases the stored baseline frame.
func (g *MotionGate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prevGray.Close()
	g.prevGray = gocv.NewMat()
	g.initialized = false
}
