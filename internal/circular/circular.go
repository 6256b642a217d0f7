// internal/circular/circular.go
package circular

import "math"

// ShortestRelativeStep returns the smallest signed move that takes a
// wrap-around counter from `from` to `to`. The result lies in
// (-modulus/2, modulus/2]; a tie resolves to the positive move.
// A non-positive modulus yields 0.
func ShortestRelativeStep(from, to, modulus int64) int64 {
	if modulus <= 0 {
		return 0
	}

	ccw := (to - from) % modulus
	if ccw < 0 {
		ccw += modulus
	}
	cw := modulus - ccw

	if ccw > cw {
		return -cw
	}
	return ccw
}

// ShortestRelativeFraction is ShortestRelativeStep on the unit circle.
// Inputs are fractions of a revolution; the result lies in (-0.5, 0.5].
func ShortestRelativeFraction(from, to float64) float64 {
	ccw := math.Mod(to-from, 1)
	if ccw < 0 {
		ccw += 1
	}
	cw := 1 - ccw

	if ccw > cw {
		return -cw
	}
	return ccw
}

// StepTarget converts an absolute angle in degrees into an absolute step
// position on a counter of stepsPerRev steps per revolution.
func StepTarget(degrees float64, stepsPerRev int64) int64 {
	if stepsPerRev <= 0 {
		return 0
	}
	frac := math.Mod(degrees/360, 1)
	if frac < 0 {
		frac += 1
	}
	step := int64(math.Round(frac * float64(stepsPerRev)))
	return step % stepsPerRev
}

// Normalize maps an arbitrary counter value into [0, modulus).
func Normalize(value, modulus int64) int64 {
	if modulus <= 0 {
		return 0
	}
	v := value % modulus
	if v < 0 {
		v += modulus
	}
	return v
}
