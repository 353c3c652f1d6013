package quantizer

import (
	"math/rand"
	"testing"

	"decdid/internal/biometric"
)

func syntheticCapture(seed int64, n int) biometric.FingerCapture {
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
	return biometric.FingerCapture{FingerID: biometric.RightIndex, Minutiae: minutiae}
}

func TestQuantizeDeterministic(t *testing.T) {
	capture := syntheticCapture(1, 40)
	params := DefaultParams()

	t1, err := Quantize(capture, params)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	t2, err := Quantize(capture, params)
	if err != nil {
		t.Fatalf("quantize: %v", err)
	}
	if t1 != t2 {
		t.Fatal("expected identical templates for identical input")
	}
}

func TestQuantizeDifferentParamsDiverge(t *testing.T) {
	capture := syntheticCapture(2, 40)
	a, err := Quantize(capture, Params{GridSize: 0.05, AngleBins: 32})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Quantize(capture, Params{GridSize: 0.1, AngleBins: 16})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected templates under different params to differ")
	}
}

func TestQuantizeEmptyMinutiaeErrors(t *testing.T) {
	capture := biometric.FingerCapture{FingerID: biometric.RightIndex}
	if _, err := Quantize(capture, DefaultParams()); err == nil {
		t.Fatal("expected error for empty minutiae list")
	}
}

func TestQuantizeNoiseToleranceBounded(t *testing.T) {
	capture := syntheticCapture(3, 60)
	params := DefaultParams()
	base, err := Quantize(capture, params)
	if err != nil {
		t.Fatal(err)
	}

	noisy := capture
	noisy.Minutiae = append([]biometric.Minutia(nil), capture.Minutiae...)
	r := rand.New(rand.NewSource(99))
	for i := range noisy.Minutiae {
		noisy.Minutiae[i].X += (r.Float64() - 0.5) * 0.01
		noisy.Minutiae[i].Theta += (r.Float64() - 0.5) * 0.05
	}
	perturbed, err := Quantize(noisy, params)
	if err != nil {
		t.Fatal(err)
	}

	dist := HammingDistance(base, perturbed)
	if dist > TemplateBits/2 {
		t.Fatalf("small perturbation caused implausibly large drift: %d bits", dist)
	}
}

func TestHammingDistanceSelf(t *testing.T) {
	capture := syntheticCapture(4, 20)
	tpl, err := Quantize(capture, DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if d := HammingDistance(tpl, tpl); d != 0 {
		t.Fatalf("expected 0 distance to self, got %d", d)
	}
}
