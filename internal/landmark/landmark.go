// Package landmark defines the holistic detection results produced by a landmark
// source and the frame records that are batched and sent for sign prediction.
package landmark

import "math"

// Landmark counts per body part following the MediaPipe Holistic convention.
// See: https://developers.google.com/mediapipe/solutions/vision/holistic_landmarker
const (
	NumPoseLandmarks = 33
	NumFaceLandmarks = 478
	NumHandLandmarks = 21
)

// Hand landmark indices used by the fixtures.
const (
	Wrist     = 0
	ThumbTip  = 4
	IndexMCP  = 5
	IndexTip  = 8
	MiddleMCP = 9
	MiddleTip = 12
	RingMCP   = 13
	RingTip   = 16
	PinkyMCP  = 17
	PinkyTip  = 20
)

// Point is a normalized image-relative coordinate produced by the detector.
// It is carried through unchanged and never interpreted here.
type Point struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Z          *float64 `json:"z,omitempty"`
	Visibility *float64 `json:"visibility,omitempty"`
}

// Set is an ordered sequence of points for one body part.
// A nil Set means the detector found no instance of that part in the frame.
type Set []Point

// Result is one per-frame detection result as delivered by a landmark source.
type Result struct {
	Pose      Set `json:"poseLandmarks,omitempty"`
	Face      Set `json:"faceLandmarks,omitempty"`
	LeftHand  Set `json:"leftHandLandmarks,omitempty"`
	RightHand Set `json:"rightHandLandmarks,omitempty"`

	// TimeInSeconds is the capture time relative to the start of capture.
	TimeInSeconds float64 `json:"timeInSeconds,omitempty"`
}

// Empty reports whether the result carries no landmark set at all.
func (r Result) Empty() bool {
	return r.Pose == nil && r.Face == nil && r.LeftHand == nil && r.RightHand == nil
}

// FrameRecord is a buffered detection result with batch-local sequence metadata.
// Field names and order match the request schema of the prediction API.
type FrameRecord struct {
	TimeInSeconds float64 `json:"timeInSeconds"`
	FrameNumber   int     `json:"frameNumber"`
	Pose          Set     `json:"poseLandmarks,omitempty"`
	Face          Set     `json:"faceLandmarks,omitempty"`
	LeftHand      Set     `json:"leftHandLandmarks,omitempty"`
	RightHand     Set     `json:"rightHandLandmarks,omitempty"`
}

// NewFrameRecord wraps a detection result into a FrameRecord with the given frame number.
// The landmark sets are copied so the record does not alias the caller's slices,
// and the timestamp is rounded to hundredths of a second.
func NewFrameRecord(frameNumber int, r Result) FrameRecord {
	return FrameRecord{
		TimeInSeconds: math.Round(r.TimeInSeconds*100) / 100,
		FrameNumber:   frameNumber,
		Pose:          r.Pose.clone(),
		Face:          r.Face.clone(),
		LeftHand:      r.LeftHand.clone(),
		RightHand:     r.RightHand.clone(),
	}
}

func (s Set) clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	copy(out, s)
	return out
}
