// Package aggregator implements C4, the multi-finger aggregator: it folds
// the per-finger secrets C3 recovers into a single 256-bit Commitment, in
// canonical finger order so the result is independent of recapture or
// processing order, with an optional k-of-n Shamir threshold mode for
// enrollments that should tolerate losing some fingers.
package aggregator

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"decdid/internal/biometric"
	"decdid/internal/security"
)

// CommitmentBytes is the fixed width of a Commitment.
const CommitmentBytes = 32

// FingerSecret pairs a recovered per-finger secret with the finger it came
// from. Secret is always exactly CommitmentBytes long -- the width C3's
// HKDF derivation is fixed at.
type FingerSecret struct {
	FingerID biometric.FingerID
	Secret   *security.SecureBytes
}

// ErrNoFingers is returned when Aggregate or EnrollThreshold is given no
// finger secrets to combine.
var ErrNoFingers = errors.New("aggregator: no finger secrets supplied")

// Aggregate folds per-finger secrets into the default-mode Commitment:
// C = XOR over canonical finger order of BLAKE2b-256(S_i || finger_id_i).
// Order of the input slice does not matter -- canonical order is imposed
// internally so the result is reproducible across calls regardless of
// processing order.
func Aggregate(secrets []FingerSecret) (*security.SecureBytes, error) {
	if len(secrets) == 0 {
		return nil, ErrNoFingers
	}
	byFinger := make(map[biometric.FingerID]*security.SecureBytes, len(secrets))
	for _, fs := range secrets {
		byFinger[fs.FingerID] = fs.Secret
	}

	var commitment [CommitmentBytes]byte
	for _, id := range biometric.CanonicalOrder {
		secret, ok := byFinger[id]
		if !ok {
			continue
		}
		t, err := fingerTag(id, secret.Bytes())
		if err != nil {
			return nil, err
		}
		for i := range commitment {
			commitment[i] ^= t[i]
		}
	}
	return security.FromBytes(commitment[:]), nil
}

// fingerTag computes T_i = BLAKE2b-256(S_i || finger_id_i).
func fingerTag(id biometric.FingerID, secret []byte) ([CommitmentBytes]byte, error) {
	if len(secret) != CommitmentBytes {
		return [CommitmentBytes]byte{}, fmt.Errorf("aggregator: finger %s secret is %d bytes, want %d", id, len(secret), CommitmentBytes)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return [CommitmentBytes]byte{}, err
	}
	h.Write(secret)
	h.Write([]byte(id))
	var out [CommitmentBytes]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// ThresholdConfig describes a k-of-n enrollment. spec.md §4.4 constrains
// k to [ceil(n/2)+1, n].
type ThresholdConfig struct {
	K, N int
}

// Validate enforces spec.md §4.4's k-of-n bound.
func (c ThresholdConfig) Validate() error {
	if c.N < 2 {
		return fmt.Errorf("aggregator: threshold n=%d must be >= 2", c.N)
	}
	minK := (c.N+1)/2 + 1 // ceil(n/2) + 1
	if c.K < minK || c.K > c.N {
		return fmt.Errorf("aggregator: threshold k=%d out of range [%d,%d] for n=%d", c.K, minK, c.N, c.N)
	}
	return nil
}

// EnrollThreshold generates a fresh random Commitment, Shamir-splits it into
// one share per finger, and masks each share with that finger's secret (a
// one-time pad -- the share is only recoverable once C3 has reproduced the
// matching S_i). The caller stores MaskedShares[finger_id] in that finger's
// HelperRecord.
func EnrollThreshold(secrets []FingerSecret, cfg ThresholdConfig) (commitment *security.SecureBytes, maskedShares map[biometric.FingerID][]byte, err error) {
	if len(secrets) == 0 {
		return nil, nil, ErrNoFingers
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if len(secrets) != cfg.N {
		return nil, nil, fmt.Errorf("aggregator: got %d finger secrets, threshold config expects n=%d", len(secrets), cfg.N)
	}

	ordered, err := canonicalSubset(secrets)
	if err != nil {
		return nil, nil, err
	}

	raw := make([]byte, CommitmentBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, nil, fmt.Errorf("aggregator: generating threshold commitment: %w", err)
	}
	defer security.Wipe(raw)

	shares, err := shamirSplit(raw, cfg.K, cfg.N, rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	maskedShares = make(map[biometric.FingerID][]byte, len(ordered))
	for i, fs := range ordered {
		s := fs.Secret.Bytes()
		if len(s) != CommitmentBytes {
			return nil, nil, fmt.Errorf("aggregator: finger %s secret is %d bytes, want %d", fs.FingerID, len(s), CommitmentBytes)
		}
		masked := make([]byte, CommitmentBytes)
		for b := range masked {
			masked[b] = shares[i][b] ^ s[b]
		}
		maskedShares[fs.FingerID] = masked
	}

	return security.FromBytes(append([]byte{}, raw...)), maskedShares, nil
}

// ReconstructThreshold recovers the Commitment from at least k (finger,
// masked share) pairs, given the C3-recovered secret for each of those
// fingers. The finger set's size must match the original n for x-coordinate
// assignment to agree with EnrollThreshold; spec.md's orchestrator enforces
// that only enrolled fingers are ever presented.
func ReconstructThreshold(secrets []FingerSecret, maskedShares map[biometric.FingerID][]byte, allEnrolledFingers []biometric.FingerID, k int) (*security.SecureBytes, error) {
	if len(secrets) < k {
		return nil, fmt.Errorf("aggregator: have %d recovered secrets, need >= %d", len(secrets), k)
	}

	xOf := canonicalXAssignment(allEnrolledFingers)

	xs := make([]byte, 0, len(secrets))
	ys := make([][]byte, 0, len(secrets))
	for _, fs := range secrets {
		x, ok := xOf[fs.FingerID]
		if !ok {
			return nil, fmt.Errorf("aggregator: finger %s not part of original enrollment set", fs.FingerID)
		}
		masked, ok := maskedShares[fs.FingerID]
		if !ok {
			return nil, fmt.Errorf("aggregator: no share recorded for finger %s", fs.FingerID)
		}
		s := fs.Secret.Bytes()
		if len(s) != CommitmentBytes || len(masked) != CommitmentBytes {
			return nil, fmt.Errorf("aggregator: malformed share or secret for finger %s", fs.FingerID)
		}
		unmasked := make([]byte, CommitmentBytes)
		for b := range unmasked {
			unmasked[b] = masked[b] ^ s[b]
		}
		xs = append(xs, x)
		ys = append(ys, unmasked)
	}

	raw, err := shamirReconstruct(xs, ys)
	if err != nil {
		return nil, err
	}
	return security.FromBytes(raw), nil
}

// canonicalXAssignment assigns each enrolled finger a stable nonzero x
// coordinate (1..n) by its position within the fixed ten-finger canonical
// order restricted to the enrolled set -- the same assignment
// EnrollThreshold and ReconstructThreshold must agree on.
func canonicalXAssignment(fingers []biometric.FingerID) map[biometric.FingerID]byte {
	set := make(map[biometric.FingerID]bool, len(fingers))
	for _, f := range fingers {
		set[f] = true
	}
	xOf := make(map[biometric.FingerID]byte, len(fingers))
	x := byte(1)
	for _, id := range biometric.CanonicalOrder {
		if set[id] {
			xOf[id] = x
			x++
		}
	}
	return xOf
}

// canonicalSubset reorders secrets into canonical finger order.
func canonicalSubset(secrets []FingerSecret) ([]FingerSecret, error) {
	byFinger := make(map[biometric.FingerID]FingerSecret, len(secrets))
	for _, fs := range secrets {
		byFinger[fs.FingerID] = fs
	}
	out := make([]FingerSecret, 0, len(secrets))
	for _, id := range biometric.CanonicalOrder {
		if fs, ok := byFinger[id]; ok {
			out = append(out, fs)
		}
	}
	if len(out) != len(secrets) {
		return nil, errors.New("aggregator: duplicate or unknown finger id in secret list")
	}
	return out, nil
}
