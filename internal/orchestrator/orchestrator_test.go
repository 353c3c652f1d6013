package orchestrator

import (
	"errors"
	"math/rand"
	"testing"

	"decdid/internal/biometric"
	"decdid/internal/didderive"
)

func syntheticCapture(seed int64, id biometric.FingerID, n int) biometric.FingerCapture {
	r := rand.New(rand.NewSource(seed))
	minutiae := make([]biometric.Minutia, n)
	for i := range minutiae {
		minutiae[i] = biometric.Minutia{
			X:       r.Float64(),
			Y:       r.Float64(),
			Theta:   r.Float64() * 6.283185307179586,
			Quality: 70 + r.Intn(30),
		}
	}
	return biometric.FingerCapture{FingerID: id, Minutiae: minutiae}
}

func threeFingerSet(seed int64) []biometric.FingerCapture {
	return []biometric.FingerCapture{
		syntheticCapture(seed+1, biometric.LeftThumb, 40),
		syntheticCapture(seed+2, biometric.RightIndex, 40),
		syntheticCapture(seed+3, biometric.RightMiddle, 40),
	}
}

func baseContext() EnrollContext {
	return EnrollContext{Method: "cardano", Network: "mainnet", Controllers: []string{"addr1"}, Now: "2026-01-01T00:00:00Z"}
}

func TestEnrollVerifyRoundTripExact(t *testing.T) {
	fingers := threeFingerSet(1)
	out, err := Enroll(fingers, baseContext())
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if out.SingleFingerWarning {
		t.Fatal("expected no single-finger warning for 3 fingers")
	}

	result, err := Verify(fingers, out.Envelope)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != VerifySuccess {
		t.Fatalf("expected Success, got status %d, unmatched=%v", result.Status, result.UnmatchedFingers)
	}
	if result.DID != out.DID {
		t.Fatalf("did mismatch: %s vs %s", result.DID, out.DID)
	}
	if len(result.MatchedFingers) != 3 {
		t.Fatalf("expected 3 matched fingers, got %d", len(result.MatchedFingers))
	}
}

func TestEnrollSingleFingerSetsWarning(t *testing.T) {
	fingers := []biometric.FingerCapture{syntheticCapture(5, biometric.RightThumb, 40)}
	out, err := Enroll(fingers, baseContext())
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if !out.SingleFingerWarning {
		t.Fatal("expected single-finger warning")
	}
}

func TestEnrollRejectsDuplicateFinger(t *testing.T) {
	fingers := []biometric.FingerCapture{
		syntheticCapture(1, biometric.LeftThumb, 40),
		syntheticCapture(2, biometric.LeftThumb, 40),
	}
	if _, err := Enroll(fingers, baseContext()); !errors.Is(err, ErrDuplicateFingerID) {
		t.Fatalf("expected ErrDuplicateFingerID, got %v", err)
	}
}

func TestEnrollRejectsUnknownFinger(t *testing.T) {
	fingers := []biometric.FingerCapture{syntheticCapture(1, "sixth_finger", 40)}
	if _, err := Enroll(fingers, baseContext()); !errors.Is(err, ErrUnknownFingerID) {
		t.Fatalf("expected ErrUnknownFingerID, got %v", err)
	}
}

func TestEnrollRejectsEmptyFingerSet(t *testing.T) {
	if _, err := Enroll(nil, baseContext()); !errors.Is(err, ErrInvalidFingerCount) {
		t.Fatalf("expected ErrInvalidFingerCount, got %v", err)
	}
}

func TestEnrollRejectsPoorQualityCapture(t *testing.T) {
	fingers := []biometric.FingerCapture{syntheticCapture(1, biometric.LeftThumb, 5)}
	var pqErr *PoorQualityError
	_, err := Enroll(fingers, baseContext())
	if !errors.As(err, &pqErr) {
		t.Fatalf("expected *PoorQualityError, got %v", err)
	}
}

func TestVerifyRevokedShortCircuits(t *testing.T) {
	fingers := threeFingerSet(10)
	out, err := Enroll(fingers, baseContext())
	if err != nil {
		t.Fatal(err)
	}
	out.Envelope.Revoked = true
	out.Envelope.RevokedAt = "2026-02-01T00:00:00Z"

	result, err := Verify(fingers, out.Envelope)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != VerifyRevoked || result.RevokedAt != "2026-02-01T00:00:00Z" {
		t.Fatalf("expected Revoked status, got %+v", result)
	}
}

func TestVerifyUnsupportedVersion(t *testing.T) {
	env := &didderive.MetadataEnvelope{Version: "9.9"}
	if _, err := Verify(nil, env); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestVerifyIgnoresUnenrolledFinger(t *testing.T) {
	fingers := threeFingerSet(20)
	out, err := Enroll(fingers, baseContext())
	if err != nil {
		t.Fatal(err)
	}

	presented := append([]biometric.FingerCapture{}, fingers...)
	presented = append(presented, syntheticCapture(99, biometric.LeftIndex, 40))

	result, err := Verify(presented, out.Envelope)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != VerifySuccess {
		t.Fatalf("expected Success despite extra unenrolled finger, got %d", result.Status)
	}
}

func TestVerifyInsufficientMatchesInDefaultMode(t *testing.T) {
	fingers := threeFingerSet(30)
	out, err := Enroll(fingers, baseContext())
	if err != nil {
		t.Fatal(err)
	}

	result, err := Verify(fingers[:2], out.Envelope)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != VerifyInsufficientMatches {
		t.Fatalf("expected InsufficientMatches, got %d", result.Status)
	}
	if result.Matched != 2 || result.Required != 3 {
		t.Fatalf("expected matched=2 required=3, got matched=%d required=%d", result.Matched, result.Required)
	}
}

func fiveFingerSet(seed int64) []biometric.FingerCapture {
	return []biometric.FingerCapture{
		syntheticCapture(seed+1, biometric.LeftThumb, 40),
		syntheticCapture(seed+2, biometric.LeftIndex, 40),
		syntheticCapture(seed+3, biometric.LeftMiddle, 40),
		syntheticCapture(seed+4, biometric.RightThumb, 40),
		syntheticCapture(seed+5, biometric.RightIndex, 40),
	}
}

func TestEnrollVerifyThresholdMode(t *testing.T) {
	fingers := fiveFingerSet(40)
	ctx := baseContext()
	ctx.Threshold = &ThresholdParams{K: 4, N: 5}

	out, err := Enroll(fingers, ctx)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	result, err := Verify(fingers[:4], out.Envelope)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != VerifySuccess {
		t.Fatalf("expected Success with 4-of-5, got status %d unmatched=%v", result.Status, result.UnmatchedFingers)
	}
	if result.DID != out.DID {
		t.Fatal("did mismatch under threshold reconstruction")
	}
}

func TestEnrollThresholdBelowKFailsWithInsufficientMatches(t *testing.T) {
	fingers := fiveFingerSet(50)
	ctx := baseContext()
	ctx.Threshold = &ThresholdParams{K: 4, N: 5}

	out, err := Enroll(fingers, ctx)
	if err != nil {
		t.Fatal(err)
	}

	result, err := Verify(fingers[:2], out.Envelope)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Status != VerifyInsufficientMatches || result.Required != 4 {
		t.Fatalf("expected InsufficientMatches required=4, got %+v", result)
	}
}

func TestEnrollRejectsInvalidThresholdK(t *testing.T) {
	fingers := fiveFingerSet(60)
	ctx := baseContext()
	ctx.Threshold = &ThresholdParams{K: 2, N: 5} // below ceil(5/2)+1=4
	if _, err := Enroll(fingers, ctx); !errors.Is(err, ErrInvalidThreshold) {
		t.Fatalf("expected ErrInvalidThreshold, got %v", err)
	}
}
