// Package biometric defines the data model shared by every stage of the
// enroll/verify pipeline: the minutia tuple the extractor hands in, the
// per-finger capture it is bundled into, and the fixed ten-finger
// vocabulary that gives the aggregator (C4) its canonical ordering.
package biometric

import (
	"errors"
	"fmt"
	"math"
)

// FingerID names one of the ten fingers in the fixed enrollment vocabulary.
type FingerID string

// The fixed ten-element finger vocabulary. CanonicalOrder is the sequence
// the aggregator (C4) folds per-finger secrets in; it is part of the
// versioned contract between enrollment and verification and must never be
// reordered.
const (
	LeftThumb   FingerID = "left_thumb"
	LeftIndex   FingerID = "left_index"
	LeftMiddle  FingerID = "left_middle"
	LeftRing    FingerID = "left_ring"
	LeftLittle  FingerID = "left_little"
	RightThumb  FingerID = "right_thumb"
	RightIndex  FingerID = "right_index"
	RightMiddle FingerID = "right_middle"
	RightRing   FingerID = "right_ring"
	RightLittle FingerID = "right_little"
)

// CanonicalOrder is the fixed ten-finger sequence used everywhere a
// deterministic, order-independent traversal of enrolled fingers is needed.
var CanonicalOrder = []FingerID{
	LeftThumb, LeftIndex, LeftMiddle, LeftRing, LeftLittle,
	RightThumb, RightIndex, RightMiddle, RightRing, RightLittle,
}

var validFingers = func() map[FingerID]struct{} {
	m := make(map[FingerID]struct{}, len(CanonicalOrder))
	for _, f := range CanonicalOrder {
		m[f] = struct{}{}
	}
	return m
}()

// Valid reports whether id belongs to the fixed ten-finger vocabulary.
func (id FingerID) Valid() bool {
	_, ok := validFingers[id]
	return ok
}

// Minutia is a single fingerprint feature point plus its extractor-reported
// quality. Produced externally; the core never sees raw sensor imagery.
type Minutia struct {
	X       float64 `json:"x"`       // normalized, [0,1]
	Y       float64 `json:"y"`       // normalized, [0,1]
	Theta   float64 `json:"theta"`   // radians, [0, 2*pi)
	Quality int     `json:"quality"` // [0,100]
}

// FingerCapture is an ordered minutiae list for one finger.
type FingerCapture struct {
	FingerID FingerID  `json:"finger_id"`
	Minutiae []Minutia `json:"minutiae"`
}

// Quality/count bounds from spec.md §3.
const (
	MinMinutiae  = 12
	MaxMinutiae  = 200
	MinMeanQuality = 50
)

// ErrPoorQuality is returned when a capture fails the minimum minutiae count
// or mean-quality bar. The caller's original finger_id is attached by Validate.
var ErrPoorQuality = errors.New("biometric: capture does not meet quality bar")

// ErrMalformedCapture is returned when a capture's finger_id is outside the
// fixed vocabulary, or a minutia's fields fall outside their declared
// domains (x/y in [0,1], theta in [0,2*pi), quality in [0,100]). This is
// distinct from ErrPoorQuality: a malformed capture is structurally
// invalid input, not merely low-entropy input.
var ErrMalformedCapture = errors.New("biometric: malformed capture")

// Validate enforces the FingerCapture invariant from spec.md §3:
// quality_mean >= 50 and |minutiae| in [12, 200], plus structural bounds on
// every minutia's fields.
func (c FingerCapture) Validate() error {
	if !c.FingerID.Valid() {
		return fmt.Errorf("%w: unknown finger id %q", ErrMalformedCapture, c.FingerID)
	}
	for i, m := range c.Minutiae {
		if m.X < 0 || m.X > 1 || m.Y < 0 || m.Y > 1 {
			return fmt.Errorf("%w: finger %s minutia %d has out-of-range x/y (%f,%f)",
				ErrMalformedCapture, c.FingerID, i, m.X, m.Y)
		}
		if m.Theta < 0 || m.Theta >= 2*math.Pi {
			return fmt.Errorf("%w: finger %s minutia %d has out-of-range theta %f",
				ErrMalformedCapture, c.FingerID, i, m.Theta)
		}
		if m.Quality < 0 || m.Quality > 100 {
			return fmt.Errorf("%w: finger %s minutia %d has out-of-range quality %d",
				ErrMalformedCapture, c.FingerID, i, m.Quality)
		}
	}

	n := len(c.Minutiae)
	if n < MinMinutiae || n > MaxMinutiae {
		return fmt.Errorf("%w: finger %s has %d minutiae (want [%d,%d])",
			ErrPoorQuality, c.FingerID, n, MinMinutiae, MaxMinutiae)
	}
	sum := 0
	for _, m := range c.Minutiae {
		sum += m.Quality
	}
	mean := float64(sum) / float64(n)
	if mean < MinMeanQuality {
		return fmt.Errorf("%w: finger %s mean quality %.1f below %d",
			ErrPoorQuality, c.FingerID, mean, MinMeanQuality)
	}
	return nil
}

// CircularMeanAngle computes the circular mean of a set of angles modulo
// modulus (2*pi for orientation, pi for minutia ridge direction), using the
// standard atan2(sum sin, sum cos) construction.
func CircularMeanAngle(angles []float64, modulus float64) float64 {
	var sinSum, cosSum float64
	for _, a := range angles {
		doubled := a * (2 * math.Pi / modulus)
		sinSum += math.Sin(doubled)
		cosSum += math.Cos(doubled)
	}
	if sinSum == 0 && cosSum == 0 {
		return 0
	}
	mean := math.Atan2(sinSum, cosSum) * (modulus / (2 * math.Pi))
	if mean < 0 {
		mean += modulus
	}
	return mean
}
