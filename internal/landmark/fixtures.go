package landmark

func depth(z float64) *float64 { return &z }

// ThumbsUpHand returns a preset right-hand Set for a thumbs up pose.
// The thumb is extended upward while the other fingers are curled.
func ThumbsUpHand() Set {
	hand := make(Set, NumHandLandmarks)

	hand[Wrist] = Point{X: 0.5, Y: 0.8}

	// Thumb extended upward (Y decreases going up)
	hand[1] = Point{X: 0.55, Y: 0.75}
	hand[2] = Point{X: 0.58, Y: 0.65}
	hand[3] = Point{X: 0.58, Y: 0.50}
	hand[ThumbTip] = Point{X: 0.58, Y: 0.35}

	// Remaining fingers curled back toward the palm
	curl := func(mcp int, x float64) {
		hand[mcp] = Point{X: x, Y: 0.70, Z: depth(-0.02)}
		hand[mcp+1] = Point{X: x, Y: 0.68, Z: depth(-0.05)}
		hand[mcp+2] = Point{X: x - 0.03, Y: 0.70, Z: depth(-0.04)}
		hand[mcp+3] = Point{X: x - 0.05, Y: 0.72, Z: depth(-0.02)}
	}
	curl(IndexMCP, 0.55)
	curl(MiddleMCP, 0.50)
	curl(RingMCP, 0.45)
	curl(PinkyMCP, 0.40)

	return hand
}

// OpenPalmHand returns a preset right-hand Set with all fingers extended.
func OpenPalmHand() Set {
	hand := make(Set, NumHandLandmarks)

	hand[Wrist] = Point{X: 0.5, Y: 0.8}

	// Thumb extended to the side
	hand[1] = Point{X: 0.55, Y: 0.75, Z: depth(0.02)}
	hand[2] = Point{X: 0.62, Y: 0.70, Z: depth(0.03)}
	hand[3] = Point{X: 0.68, Y: 0.65, Z: depth(0.03)}
	hand[ThumbTip] = Point{X: 0.73, Y: 0.60, Z: depth(0.03)}

	extend := func(mcp int, x, top float64) {
		step := (0.68 - top) / 3
		for i := 0; i < 4; i++ {
			hand[mcp+i] = Point{X: x, Y: 0.68 - float64(i)*step}
		}
	}
	extend(IndexMCP, 0.56, 0.35)
	extend(MiddleMCP, 0.50, 0.28)
	extend(RingMCP, 0.44, 0.35)
	extend(PinkyMCP, 0.38, 0.42)

	return hand
}

// SampleResult returns a detection result with a right hand and a pose,
// stamped with the given capture time. Left hand and face are absent.
func SampleResult(timeInSeconds float64, hand Set) Result {
	pose := make(Set, NumPoseLandmarks)
	for i := range pose {
		v := 0.9
		pose[i] = Point{X: 0.5, Y: float64(i) / NumPoseLandmarks, Visibility: &v}
	}
	return Result{
		Pose:          pose,
		RightHand:     hand,
		TimeInSeconds: timeInSeconds,
	}
}
