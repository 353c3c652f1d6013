package aggregator

import (
	"math/rand"
	"testing"

	"decdid/internal/biometric"
	"decdid/internal/security"
)

func secretOf(seed int64) *security.SecureBytes {
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, CommitmentBytes)
	r.Read(b)
	return security.FromBytes(b)
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	a := []FingerSecret{
		{FingerID: biometric.LeftThumb, Secret: secretOf(1)},
		{FingerID: biometric.RightIndex, Secret: secretOf(2)},
		{FingerID: biometric.LeftLittle, Secret: secretOf(3)},
	}
	b := []FingerSecret{
		{FingerID: biometric.LeftLittle, Secret: secretOf(3)},
		{FingerID: biometric.LeftThumb, Secret: secretOf(1)},
		{FingerID: biometric.RightIndex, Secret: secretOf(2)},
	}

	ca, err := Aggregate(a)
	if err != nil {
		t.Fatal(err)
	}
	defer ca.Destroy()
	cb, err := Aggregate(b)
	if err != nil {
		t.Fatal(err)
	}
	defer cb.Destroy()

	if string(ca.Bytes()) != string(cb.Bytes()) {
		t.Fatal("expected order-independent commitment")
	}
}

func TestAggregateDiffersWithDifferentFingerSet(t *testing.T) {
	a := []FingerSecret{{FingerID: biometric.LeftThumb, Secret: secretOf(1)}}
	b := []FingerSecret{{FingerID: biometric.RightThumb, Secret: secretOf(1)}}

	ca, _ := Aggregate(a)
	defer ca.Destroy()
	cb, _ := Aggregate(b)
	defer cb.Destroy()

	if string(ca.Bytes()) == string(cb.Bytes()) {
		t.Fatal("expected different commitments for different finger ids with same secret bytes")
	}
}

func TestAggregateEmptyErrors(t *testing.T) {
	if _, err := Aggregate(nil); err != ErrNoFingers {
		t.Fatalf("expected ErrNoFingers, got %v", err)
	}
}

func allFive() []biometric.FingerID {
	return []biometric.FingerID{
		biometric.LeftThumb, biometric.LeftIndex, biometric.LeftMiddle,
		biometric.RightThumb, biometric.RightIndex,
	}
}

func TestThresholdEnrollReconstructExactK(t *testing.T) {
	fingers := allFive()
	secrets := make([]FingerSecret, len(fingers))
	for i, f := range fingers {
		secrets[i] = FingerSecret{FingerID: f, Secret: secretOf(int64(10 + i))}
	}

	cfg := ThresholdConfig{K: 4, N: 5}
	commitment, shares, err := EnrollThreshold(secrets, cfg)
	if err != nil {
		t.Fatalf("enroll threshold: %v", err)
	}
	defer commitment.Destroy()

	subset := secrets[:4]
	reconstructed, err := ReconstructThreshold(subset, shares, fingers, cfg.K)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	defer reconstructed.Destroy()

	if string(commitment.Bytes()) != string(reconstructed.Bytes()) {
		t.Fatal("reconstructed commitment does not match original")
	}
}

func TestThresholdReconstructWithDifferentKSubsetsAgree(t *testing.T) {
	fingers := allFive()
	secrets := make([]FingerSecret, len(fingers))
	for i, f := range fingers {
		secrets[i] = FingerSecret{FingerID: f, Secret: secretOf(int64(20 + i))}
	}

	cfg := ThresholdConfig{K: 4, N: 5}
	commitment, shares, err := EnrollThreshold(secrets, cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer commitment.Destroy()

	r1, err := ReconstructThreshold(secrets[0:4], shares, fingers, cfg.K)
	if err != nil {
		t.Fatal(err)
	}
	defer r1.Destroy()
	r2, err := ReconstructThreshold(secrets[1:5], shares, fingers, cfg.K)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Destroy()

	if string(r1.Bytes()) != string(commitment.Bytes()) || string(r2.Bytes()) != string(commitment.Bytes()) {
		t.Fatal("different k-subsets should reconstruct the same commitment")
	}
}

func TestThresholdReconstructFailsBelowK(t *testing.T) {
	fingers := allFive()
	secrets := make([]FingerSecret, len(fingers))
	for i, f := range fingers {
		secrets[i] = FingerSecret{FingerID: f, Secret: secretOf(int64(30 + i))}
	}

	cfg := ThresholdConfig{K: 4, N: 5}
	_, shares, err := EnrollThreshold(secrets, cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := ReconstructThreshold(secrets[:2], shares, fingers, cfg.K); err == nil {
		t.Fatal("expected reconstruction to fail with fewer than k shares")
	}
}

func TestThresholdConfigValidatesKRange(t *testing.T) {
	cases := []struct {
		cfg ThresholdConfig
		ok  bool
	}{
		{ThresholdConfig{K: 4, N: 5}, true},
		{ThresholdConfig{K: 5, N: 5}, true},
		{ThresholdConfig{K: 3, N: 5}, false}, // below ceil(5/2)+1=4
		{ThresholdConfig{K: 6, N: 5}, false}, // above n
		{ThresholdConfig{K: 3, N: 4}, true},  // ceil(4/2)+1=3
		{ThresholdConfig{K: 2, N: 4}, false},
	}
	for _, c := range cases {
		err := c.cfg.Validate()
		if c.ok && err != nil {
			t.Errorf("%+v: expected valid, got %v", c.cfg, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%+v: expected invalid, got nil", c.cfg)
		}
	}
}
