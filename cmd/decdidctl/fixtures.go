package main

import (
	"fmt"

	"decdid/internal/biometric"
	"decdid/internal/didderive"
)

// fingerCaptureJSON mirrors biometric.FingerCapture; kept separate so the
// request-file format stays stable even if the core type ever needs fields
// the wire format shouldn't carry.
type fingerCaptureJSON struct {
	FingerID string               `json:"finger_id"`
	Minutiae []biometric.Minutia  `json:"minutiae"`
}

func toFingerCaptures(in []fingerCaptureJSON) []biometric.FingerCapture {
	out := make([]biometric.FingerCapture, len(in))
	for i, f := range in {
		out[i] = biometric.FingerCapture{
			FingerID: biometric.FingerID(f.FingerID),
			Minutiae: f.Minutiae,
		}
	}
	return out
}

func parseEnvelope(data []byte) (*didderive.MetadataEnvelope, error) {
	env, err := didderive.ParseEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("decdidctl: %w", err)
	}
	return env, nil
}
