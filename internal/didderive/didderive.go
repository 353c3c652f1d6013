// Package didderive implements C5: hashing a Commitment into a canonical DID
// string and assembling the MetadataEnvelope v1.1 that carries a finger
// set's HelperRecords to whatever anchors them on-chain.
package didderive

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"decdid/internal/biometric"
	"decdid/internal/fuzzyextract"
)

// commitmentBytes mirrors aggregator.CommitmentBytes; kept as a local
// constant so this package does not need to import aggregator just for one
// integer.
const commitmentBytes = 32

// didDomainSep is the domain-separation string mixed into the DID hash so a
// commitment hashed for DID derivation can never collide with a commitment
// hashed anywhere else in the system.
const didDomainSep = "decdid:did:v1"

// EnvelopeVersion is the only version this core ever writes. "1.0" is
// accepted on read for backward compatibility (see ParseEnvelope) but never
// produced.
const EnvelopeVersion = "1.1"

// ErrUnsupportedVersion is returned by ParseEnvelope for any version other
// than "1.1" or "1.0".
var ErrUnsupportedVersion = errors.New("didderive: unsupported envelope version")

// Derive computes the DID string and its base58btc id_hash for a 256-bit
// commitment under the given method/network. Pure and deterministic:
// spec.md §4.5's DID stability invariant.
func Derive(commitment []byte, method, network string) (did string, idHashB58 string, err error) {
	if len(commitment) != commitmentBytes {
		return "", "", fmt.Errorf("didderive: commitment is %d bytes, want %d", len(commitment), commitmentBytes)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", "", err
	}
	h.Write(commitment)
	h.Write([]byte(didDomainSep))
	h.Write([]byte(network))
	idHash := h.Sum(nil)

	idHashB58 = base58.Encode(idHash)
	did = fmt.Sprintf("did:%s:%s:%s", method, network, idHashB58)
	return did, idHashB58, nil
}

// HelperStorage selects whether a MetadataEnvelope carries HelperRecords
// inline or as a pointer to external storage.
type HelperStorage string

const (
	HelperStorageInline   HelperStorage = "inline"
	HelperStorageExternal HelperStorage = "external"
)

// HelperRecordJSON is the canonical on-the-wire layout of a HelperRecord,
// spec.md §6: base64-encoded fixed-width fields, optional share_b64 present
// only in threshold mode.
//
// threshold_k is not named anywhere in spec.md's HelperRecord schema, which
// predates threshold mode having anywhere to persist its reconstruction
// threshold; since threshold mode is already documented there as "the only
// place the helper schema is allowed to grow a share field", this core
// grows it one field further and stores k redundantly on every finger's
// record for a thresholded enrollment, rather than inventing an
// envelope-level field the schema doesn't mention at all.
type HelperRecordJSON struct {
	FingerID   string  `json:"finger_id"`
	SaltB64    string  `json:"salt_b64"`
	AuthTagB64 string  `json:"auth_tag_b64"`
	SketchB64  string  `json:"sketch_b64"`
	GridSize   float64 `json:"grid_size"`
	AngleBins  int     `json:"angle_bins"`
	ShareB64   string  `json:"share_b64,omitempty"`
	ThresholdK int     `json:"threshold_k,omitempty"`
}

// ToJSON converts a fuzzyextract.HelperRecord plus its optional threshold
// share and reconstruction threshold into the canonical wire layout.
func ToJSON(h *fuzzyextract.HelperRecord, maskedShare []byte, thresholdK int) HelperRecordJSON {
	out := HelperRecordJSON{
		FingerID:   string(h.FingerID),
		SaltB64:    base64.StdEncoding.EncodeToString(h.Salt[:]),
		AuthTagB64: base64.StdEncoding.EncodeToString(h.AuthTag[:]),
		SketchB64:  base64.StdEncoding.EncodeToString(h.Sketch[:]),
		GridSize:   h.GridSize,
		AngleBins:  h.AngleBins,
		ThresholdK: thresholdK,
	}
	if maskedShare != nil {
		out.ShareB64 = base64.StdEncoding.EncodeToString(maskedShare)
	}
	return out
}

// FromJSON reverses ToJSON, decoding the base64 fields back into a
// fuzzyextract.HelperRecord and the optional masked share.
func FromJSON(j HelperRecordJSON) (*fuzzyextract.HelperRecord, []byte, error) {
	salt, err := decodeFixed(j.SaltB64, 16, "salt_b64")
	if err != nil {
		return nil, nil, err
	}
	authTag, err := decodeFixed(j.AuthTagB64, 16, "auth_tag_b64")
	if err != nil {
		return nil, nil, err
	}
	sketch, err := decodeFixed(j.SketchB64, 64, "sketch_b64")
	if err != nil {
		return nil, nil, err
	}

	h := &fuzzyextract.HelperRecord{
		FingerID:  biometric.FingerID(j.FingerID),
		GridSize:  j.GridSize,
		AngleBins: j.AngleBins,
	}
	copy(h.Salt[:], salt)
	copy(h.AuthTag[:], authTag)
	copy(h.Sketch[:], sketch)

	var share []byte
	if j.ShareB64 != "" {
		share, err = base64.StdEncoding.DecodeString(j.ShareB64)
		if err != nil {
			return nil, nil, fmt.Errorf("didderive: malformed share_b64: %w", err)
		}
	}
	return h, share, nil
}

func decodeFixed(b64 string, want int, field string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("didderive: malformed %s: %w", field, err)
	}
	if len(b) != want {
		return nil, fmt.Errorf("didderive: %s is %d bytes, want %d", field, len(b), want)
	}
	return b, nil
}

// BiometricBlock is the nested `biometric` object of a MetadataEnvelope.
type BiometricBlock struct {
	IDHash        string                      `json:"id_hash"`
	HelperStorage HelperStorage               `json:"helper_storage"`
	HelperData    map[string]HelperRecordJSON `json:"helper_data,omitempty"`
	HelperURI     string                      `json:"helper_uri,omitempty"`
}

// MetadataEnvelope is the stable external artifact Enroll produces and
// Verify consumes -- spec.md §3 and §6. Field declaration order fixes the
// canonical JSON key order (Go's encoder preserves struct field order and
// never reorders it), satisfying spec.md §6's "stable key ordering"
// requirement without needing a generic canonicalization pass.
type MetadataEnvelope struct {
	Version              string         `json:"version"`
	DID                  string         `json:"did"`
	Controllers          []string       `json:"controllers"`
	EnrollmentTimestamp  string         `json:"enrollment_timestamp"`
	Revoked              bool           `json:"revoked"`
	RevokedAt            string         `json:"revoked_at,omitempty"`
	Biometric            BiometricBlock `json:"biometric"`
}

// NewEnvelope assembles a v1.1 MetadataEnvelope. This is the only
// constructor Enroll uses; the core never writes any other version.
func NewEnvelope(did, idHashB58 string, controllers []string, timestamp string, storage HelperStorage, helperData map[string]HelperRecordJSON, helperURI string) *MetadataEnvelope {
	return &MetadataEnvelope{
		Version:             EnvelopeVersion,
		DID:                 did,
		Controllers:         controllers,
		EnrollmentTimestamp: timestamp,
		Revoked:             false,
		Biometric: BiometricBlock{
			IDHash:        idHashB58,
			HelperStorage: storage,
			HelperData:    helperData,
			HelperURI:     helperURI,
		},
	}
}

// MarshalCanonical serializes the envelope as canonical JSON: UTF-8, no
// insignificant whitespace, stable key order (spec.md §6). encoding/json's
// default Marshal already satisfies all three for struct values.
func (e *MetadataEnvelope) MarshalCanonical() ([]byte, error) {
	return json.Marshal(e)
}

// versionProbe is used to sniff an envelope's version before picking which
// struct shape to decode into.
type versionProbe struct {
	Version string `json:"version"`
}

// legacyEnvelopeV10 is the read-only v1.0 shape: no controllers,
// enrollment_timestamp, or revoked fields; a single wallet_address instead.
type legacyEnvelopeV10 struct {
	Version       string         `json:"version"`
	DID           string         `json:"did"`
	WalletAddress string         `json:"wallet_address"`
	Biometric     BiometricBlock `json:"biometric"`
}

// ParseEnvelope accepts either a v1.1 or (read-only, for backward
// compatibility) a v1.0 envelope and normalizes it to a MetadataEnvelope.
// v1.0 envelopes always report Revoked=false and an empty
// EnrollmentTimestamp, since that version never carried those fields.
func ParseEnvelope(data []byte) (*MetadataEnvelope, error) {
	var probe versionProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("didderive: malformed envelope: %w", err)
	}

	switch probe.Version {
	case "1.1":
		var e MetadataEnvelope
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("didderive: malformed v1.1 envelope: %w", err)
		}
		return &e, nil
	case "1.0":
		var legacy legacyEnvelopeV10
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("didderive: malformed v1.0 envelope: %w", err)
		}
		return &MetadataEnvelope{
			Version:     "1.0",
			DID:         legacy.DID,
			Controllers: []string{legacy.WalletAddress},
			Revoked:     false,
			Biometric:   legacy.Biometric,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, probe.Version)
	}
}
