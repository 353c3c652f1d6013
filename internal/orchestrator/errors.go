package orchestrator

import (
	"errors"
	"fmt"

	"decdid/internal/biometric"
)

// The closed error taxonomy of spec.md §7. Input-validation and system
// errors are sentinel errors (wrapped with context via fmt.Errorf's %w);
// per-finger and threshold errors carry structured fields since callers
// need them (finger_id, matched/required counts).

var (
	// ErrUnknownFingerID: a finger_id outside the ten-element vocabulary.
	ErrUnknownFingerID = errors.New("orchestrator: unknown finger id")
	// ErrDuplicateFingerID: the same finger_id appears twice in one Enroll call.
	ErrDuplicateFingerID = errors.New("orchestrator: duplicate finger id")
	// ErrInvalidFingerCount: |fingers| outside [1,10].
	ErrInvalidFingerCount = errors.New("orchestrator: invalid finger count")
	// ErrInvalidThreshold: k/n outside spec.md §4.4's bound, or n mismatched
	// against the presented finger count.
	ErrInvalidThreshold = errors.New("orchestrator: invalid threshold parameters")
	// ErrIdentityMismatch: C5's recomputed id_hash disagrees with the
	// envelope's stored one -- should be impossible if every per-finger
	// recovery succeeded; signals a tampered envelope or an internal bug.
	ErrIdentityMismatch = errors.New("orchestrator: identity mismatch")
	// ErrMalformedEnvelope: structurally invalid MetadataEnvelope or
	// HelperRecord content.
	ErrMalformedEnvelope = errors.New("orchestrator: malformed envelope")
	// ErrRandomnessUnavailable: the OS RNG failed during Enroll.
	ErrRandomnessUnavailable = errors.New("orchestrator: randomness unavailable")
	// ErrUnsupportedVersion: an envelope version other than 1.1 or 1.0.
	ErrUnsupportedVersion = errors.New("orchestrator: unsupported envelope version")
)

// PoorQualityError names the finger a PoorQuality rejection applies to.
type PoorQualityError struct {
	FingerID biometric.FingerID
	Err      error
}

func (e *PoorQualityError) Error() string {
	return fmt.Sprintf("orchestrator: finger %s: %v", e.FingerID, e.Err)
}

func (e *PoorQualityError) Unwrap() error { return e.Err }
