// Package orchestrator implements C6, the Enroll/Verify orchestrator: the
// core's only public entry points. It drives C1-C5 in sequence, enforces
// spec.md §7's closed error taxonomy, and guarantees every secret
// intermediate is zeroized on every exit path.
package orchestrator

import (
	"fmt"
	"strings"

	"decdid/internal/aggregator"
	"decdid/internal/biometric"
	"decdid/internal/didderive"
	"decdid/internal/fuzzyextract"
	"decdid/internal/quantizer"
	"decdid/internal/security"
)

const (
	minFingers = 1
	maxFingers = 10
)

// ThresholdParams requests k-of-n enrollment. nil means default mode: every
// enrolled finger is required at verification.
type ThresholdParams struct {
	K, N int
}

// EnrollContext carries everything Enroll needs besides the captures
// themselves: spec.md §6's input shape.
type EnrollContext struct {
	Method      string
	Network     string
	Controllers []string
	Now         string // RFC 3339 UTC
	Threshold   *ThresholdParams
}

// EnrollOutput is spec.md §6's output shape, plus SingleFingerWarning: the
// core performs no logging (spec.md §7), so a single-finger enrollment's
// reduced-entropy warning is surfaced as a return value instead of a log
// line, for the caller to act on however it logs.
type EnrollOutput struct {
	DID                 string
	Envelope            *didderive.MetadataEnvelope
	HelperRecords       map[biometric.FingerID]*fuzzyextract.HelperRecord
	SingleFingerWarning bool
}

// Enroll runs C1 through C5 over a set of finger captures and produces a
// DID, its MetadataEnvelope, and the HelperRecords the caller must persist.
// Any error aborts the whole operation; no partial helpers are returned
// (spec.md §7's propagation policy for Enroll).
func Enroll(fingers []biometric.FingerCapture, ctx EnrollContext) (out *EnrollOutput, err error) {
	var toWipe []*security.SecureBytes
	defer func() {
		for _, sb := range toWipe {
			sb.Destroy()
		}
	}()

	if err := validateFingerSet(fingers); err != nil {
		return nil, err
	}

	params := quantizer.DefaultParams()
	if ctx.Threshold != nil {
		if len(fingers) != ctx.Threshold.N {
			return nil, fmt.Errorf("%w: n=%d does not match %d presented fingers", ErrInvalidThreshold, ctx.Threshold.N, len(fingers))
		}
		if err := (aggregator.ThresholdConfig{K: ctx.Threshold.K, N: ctx.Threshold.N}).Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, err)
		}
	}

	secrets := make([]aggregator.FingerSecret, 0, len(fingers))
	helpers := make(map[biometric.FingerID]*fuzzyextract.HelperRecord, len(fingers))

	for _, capture := range fingers {
		if err := capture.Validate(); err != nil {
			return nil, &PoorQualityError{FingerID: capture.FingerID, Err: err}
		}

		tpl, err := quantizer.Quantize(capture, params)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: quantizing finger %s: %w", capture.FingerID, err)
		}

		helper, secret, err := fuzzyextract.Enroll(capture.FingerID, tpl, params)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRandomnessUnavailable, err)
		}
		toWipe = append(toWipe, secret)

		helpers[capture.FingerID] = helper
		secrets = append(secrets, aggregator.FingerSecret{FingerID: capture.FingerID, Secret: secret})
	}

	var commitment *security.SecureBytes
	maskedShares := map[biometric.FingerID][]byte{}
	thresholdK := 0

	if ctx.Threshold != nil {
		commitment, maskedShares, err = aggregator.EnrollThreshold(secrets, aggregator.ThresholdConfig{K: ctx.Threshold.K, N: ctx.Threshold.N})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, err)
		}
		thresholdK = ctx.Threshold.K
	} else {
		commitment, err = aggregator.Aggregate(secrets)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: aggregating commitment: %w", err)
		}
	}
	toWipe = append(toWipe, commitment)

	did, idHashB64, err := didderive.Derive(commitment.Bytes(), ctx.Method, ctx.Network)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: deriving did: %w", err)
	}

	helperData := make(map[string]didderive.HelperRecordJSON, len(helpers))
	for id, h := range helpers {
		helperData[string(id)] = didderive.ToJSON(h, maskedShares[id], thresholdK)
	}

	envelope := didderive.NewEnvelope(did, idHashB64, ctx.Controllers, ctx.Now, didderive.HelperStorageInline, helperData, "")

	return &EnrollOutput{
		DID:                 did,
		Envelope:            envelope,
		HelperRecords:       helpers,
		SingleFingerWarning: len(fingers) == 1,
	}, nil
}

// validateFingerSet enforces spec.md §4.6 step 1: known vocabulary, no
// duplicates, count in [1,10].
func validateFingerSet(fingers []biometric.FingerCapture) error {
	n := len(fingers)
	if n < minFingers || n > maxFingers {
		return fmt.Errorf("%w: got %d, want [%d,%d]", ErrInvalidFingerCount, n, minFingers, maxFingers)
	}
	seen := make(map[biometric.FingerID]bool, n)
	for _, f := range fingers {
		if !f.FingerID.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownFingerID, f.FingerID)
		}
		if seen[f.FingerID] {
			return fmt.Errorf("%w: %s", ErrDuplicateFingerID, f.FingerID)
		}
		seen[f.FingerID] = true
	}
	return nil
}

// VerifyStatus is the outcome enum of Verify's VerifyResult -- spec.md
// §4.6's Result<VerifyResult,...> as a Go status code plus payload, since Go
// has no tagged-union return type.
type VerifyStatus int

const (
	VerifySuccess VerifyStatus = iota
	VerifyRevoked
	VerifyInsufficientMatches
	VerifyIdentityMismatch
)

// VerifyResult is the outcome of Verify. Only the fields relevant to
// Status are populated; see spec.md §4.6.
type VerifyResult struct {
	Status           VerifyStatus
	DID              string
	MatchedFingers   []biometric.FingerID
	UnmatchedFingers map[biometric.FingerID]error
	RevokedAt        string
	Matched          int
	Required         int
}

// Verify attempts to reproduce the DID in envelope from a set of (possibly
// noisy, possibly partial) finger recaptures. Per-finger recovery failures
// are collected in UnmatchedFingers rather than aborting the call; only
// envelope-level and aggregation-level problems return a Go error.
func Verify(fingers []biometric.FingerCapture, envelope *didderive.MetadataEnvelope) (result *VerifyResult, err error) {
	if envelope.Version != "1.1" && envelope.Version != "1.0" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, envelope.Version)
	}

	if envelope.Revoked {
		return &VerifyResult{Status: VerifyRevoked, RevokedAt: envelope.RevokedAt}, nil
	}

	if envelope.Biometric.HelperStorage == didderive.HelperStorageExternal && len(envelope.Biometric.HelperData) == 0 {
		return nil, fmt.Errorf("%w: external helper storage requires the caller to fetch and attach helper_data before calling Verify", ErrMalformedEnvelope)
	}

	var toWipe []*security.SecureBytes
	defer func() {
		for _, sb := range toWipe {
			sb.Destroy()
		}
	}()

	enrolledFingers := make([]biometric.FingerID, 0, len(envelope.Biometric.HelperData))
	for idStr := range envelope.Biometric.HelperData {
		enrolledFingers = append(enrolledFingers, biometric.FingerID(idStr))
	}

	var matchedFingers []biometric.FingerID
	unmatched := make(map[biometric.FingerID]error)
	var matchedSecrets []aggregator.FingerSecret
	maskedShares := make(map[biometric.FingerID][]byte)
	thresholdK := 0

	for _, capture := range fingers {
		helperJSON, ok := envelope.Biometric.HelperData[string(capture.FingerID)]
		if !ok {
			continue // presenting an un-enrolled finger is not an error
		}

		if err := capture.Validate(); err != nil {
			unmatched[capture.FingerID] = err
			continue
		}

		helper, maskedShare, err := didderive.FromJSON(helperJSON)
		if err != nil {
			unmatched[capture.FingerID] = fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
			continue
		}
		if helperJSON.ThresholdK > 0 {
			thresholdK = helperJSON.ThresholdK
			maskedShares[capture.FingerID] = maskedShare
		}

		tpl, err := quantizer.Quantize(capture, quantizer.Params{GridSize: helper.GridSize, AngleBins: helper.AngleBins})
		if err != nil {
			unmatched[capture.FingerID] = err
			continue
		}

		secret, err := fuzzyextract.Verify(helper, tpl)
		if err != nil {
			unmatched[capture.FingerID] = err
			continue
		}
		toWipe = append(toWipe, secret)

		matchedFingers = append(matchedFingers, capture.FingerID)
		matchedSecrets = append(matchedSecrets, aggregator.FingerSecret{FingerID: capture.FingerID, Secret: secret})
	}

	required := len(enrolledFingers)
	if thresholdK > 0 {
		required = thresholdK
	}
	if len(matchedFingers) < required {
		return &VerifyResult{
			Status:           VerifyInsufficientMatches,
			MatchedFingers:   matchedFingers,
			UnmatchedFingers: unmatched,
			Matched:          len(matchedFingers),
			Required:         required,
		}, nil
	}

	var commitment *security.SecureBytes
	if thresholdK > 0 {
		commitment, err = aggregator.ReconstructThreshold(matchedSecrets, maskedShares, enrolledFingers, thresholdK)
	} else {
		commitment, err = aggregator.Aggregate(matchedSecrets)
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrator: reassembling commitment: %w", err)
	}
	toWipe = append(toWipe, commitment)

	method, network, ok := splitDID(envelope.DID)
	if !ok {
		return nil, fmt.Errorf("%w: unparseable did %q", ErrMalformedEnvelope, envelope.DID)
	}

	_, idHashB58, err := didderive.Derive(commitment.Bytes(), method, network)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: deriving did: %w", err)
	}

	if !security.ConstantTimeCompare([]byte(idHashB58), []byte(envelope.Biometric.IDHash)) {
		return &VerifyResult{
			Status:           VerifyIdentityMismatch,
			MatchedFingers:   matchedFingers,
			UnmatchedFingers: unmatched,
		}, nil
	}

	return &VerifyResult{
		Status:           VerifySuccess,
		DID:              envelope.DID,
		MatchedFingers:   matchedFingers,
		UnmatchedFingers: unmatched,
	}, nil
}

// splitDID parses "did:<method>:<network>:<hash>" back into its method and
// network components -- the only place those survive outside the envelope's
// own did string (spec.md's MetadataEnvelope does not duplicate them).
func splitDID(did string) (method, network string, ok bool) {
	parts := strings.SplitN(did, ":", 4)
	if len(parts) != 4 || parts[0] != "did" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
