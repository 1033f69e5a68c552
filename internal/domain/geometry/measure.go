package geometry

import (
	"errors"
	"math"
)

// ErrInvalidCalibration indicates a calibration input that cannot produce a
// strictly positive scale.
var ErrInvalidCalibration = errors.New("invalid calibration input")

// Point is a screen-space coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Distance returns the Euclidean distance between two points in pixels.
// Coincident points measure zero.
func Distance(p1, p2 Point) float64 {
	return math.Hypot(p2.X-p1.X, p2.Y-p1.Y)
}

// NewScale derives a pixels-per-micron scale from a measured pixel distance
// and the operator-entered physical length. Both inputs must be finite and
// strictly positive; anything else is rejected rather than producing a zero
// or non-finite scale.
func NewScale(pixelDistance, physicalLength float64) (float64, error) {
	if !isPositiveFinite(pixelDistance) || !isPositiveFinite(physicalLength) {
		return 0, ErrInvalidCalibration
	}
	return pixelDistance / physicalLength, nil
}

// Convert turns a pixel distance into physical units using a
// pixels-per-micron scale. A non-positive scale leaves the value in pixels,
// which callers surface as an uncalibrated measurement.
func Convert(pixelDistance, scale float64) (value float64, calibrated bool) {
	if !isPositiveFinite(scale) {
		return pixelDistance, false
	}
	return pixelDistance / scale, true
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1) && !math.IsNaN(v)
}
