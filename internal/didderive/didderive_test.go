package didderive

import (
	"encoding/json"
	"strings"
	"testing"

	"decdid/internal/biometric"
	"decdid/internal/fuzzyextract"
	"decdid/internal/quantizer"
)

func fixedCommitment(b byte) []byte {
	c := make([]byte, commitmentBytes)
	for i := range c {
		c[i] = b
	}
	return c
}

func TestDeriveIsDeterministic(t *testing.T) {
	c := fixedCommitment(0x42)
	did1, hash1, err := Derive(c, "cardano", "mainnet")
	if err != nil {
		t.Fatal(err)
	}
	did2, hash2, err := Derive(c, "cardano", "mainnet")
	if err != nil {
		t.Fatal(err)
	}
	if did1 != did2 || hash1 != hash2 {
		t.Fatal("expected identical DID derivation for identical inputs")
	}
	if !strings.HasPrefix(did1, "did:cardano:mainnet:") {
		t.Fatalf("unexpected did shape: %s", did1)
	}
}

func TestDeriveDiffersByNetwork(t *testing.T) {
	c := fixedCommitment(0x7)
	did1, _, _ := Derive(c, "cardano", "mainnet")
	did2, _, _ := Derive(c, "cardano", "testnet")
	if did1 == did2 {
		t.Fatal("expected different DIDs for different networks")
	}
}

func TestDeriveRejectsWrongCommitmentLength(t *testing.T) {
	if _, _, err := Derive(make([]byte, 10), "cardano", "mainnet"); err == nil {
		t.Fatal("expected error for malformed commitment length")
	}
}

func helperFixture() *fuzzyextract.HelperRecord {
	h := &fuzzyextract.HelperRecord{
		FingerID:  biometric.RightIndex,
		GridSize:  0.05,
		AngleBins: 32,
	}
	for i := range h.Salt {
		h.Salt[i] = byte(i)
	}
	for i := range h.AuthTag {
		h.AuthTag[i] = byte(0xA0 + i)
	}
	var tpl quantizer.Template
	for i := range tpl {
		tpl[i] = byte(i * 3)
	}
	h.Sketch = tpl
	return h
}

func TestHelperRecordJSONRoundTrip(t *testing.T) {
	h := helperFixture()
	j := ToJSON(h, []byte("0123456789abcdef0123456789abcdef"), 3)

	back, share, err := FromJSON(j)
	if err != nil {
		t.Fatalf("from json: %v", err)
	}
	if back.FingerID != h.FingerID || back.Salt != h.Salt || back.AuthTag != h.AuthTag || back.Sketch != h.Sketch {
		t.Fatal("helper record round trip lost data")
	}
	if string(share) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("share round trip mismatch: %q", share)
	}
}

func TestEnvelopeMarshalCanonicalIsDeterministic(t *testing.T) {
	h := helperFixture()
	env := NewEnvelope("did:cardano:mainnet:abc123", "abc123",
		[]string{"addr1"}, "2026-01-01T00:00:00Z", HelperStorageInline,
		map[string]HelperRecordJSON{string(h.FingerID): ToJSON(h, nil, 0)}, "")

	b1, err := env.MarshalCanonical()
	if err != nil {
		t.Fatal(err)
	}
	b2, err := env.MarshalCanonical()
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) {
		t.Fatal("expected byte-identical canonical serialization across calls")
	}
	if strings.Contains(string(b1), "\n") || strings.Contains(string(b1), "  ") {
		t.Fatal("expected no insignificant whitespace in canonical JSON")
	}
}

func TestParseEnvelopeV11RoundTrip(t *testing.T) {
	h := helperFixture()
	env := NewEnvelope("did:cardano:mainnet:abc123", "abc123",
		[]string{"addr1"}, "2026-01-01T00:00:00Z", HelperStorageInline,
		map[string]HelperRecordJSON{string(h.FingerID): ToJSON(h, nil, 0)}, "")

	b, err := env.MarshalCanonical()
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := ParseEnvelope(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.DID != env.DID || parsed.Version != "1.1" {
		t.Fatal("round trip lost fields")
	}
}

func TestParseEnvelopeV10BackwardCompat(t *testing.T) {
	legacy := `{
		"version": "1.0",
		"did": "did:cardano:mainnet:xyz",
		"wallet_address": "addr1legacy",
		"biometric": {"id_hash": "xyz", "helper_storage": "inline", "helper_data": {}}
	}`
	parsed, err := ParseEnvelope([]byte(legacy))
	if err != nil {
		t.Fatalf("parse v1.0: %v", err)
	}
	if parsed.Version != "1.0" || parsed.DID != "did:cardano:mainnet:xyz" {
		t.Fatal("v1.0 fields not preserved")
	}
	if len(parsed.Controllers) != 1 || parsed.Controllers[0] != "addr1legacy" {
		t.Fatal("expected wallet_address folded into controllers")
	}
	if parsed.Revoked {
		t.Fatal("v1.0 envelopes should never report revoked=true")
	}
}

func TestParseEnvelopeRejectsUnknownVersion(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`{"version":"2.0"}`)); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}

func TestParseEnvelopeRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseEnvelope([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed json")
	}
}

func TestCanonicalKeyOrderMatchesSpecLayout(t *testing.T) {
	env := NewEnvelope("did:x:y:z", "z", nil, "2026-01-01T00:00:00Z", HelperStorageExternal, nil, "https://example/helpers")
	b, err := env.MarshalCanonical()
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	prev := -1
	for _, key := range []string{"version", "did", "controllers", "enrollment_timestamp", "revoked", "biometric"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("expected key %q in serialized envelope", key)
		}
		pos := strings.Index(string(b), `"`+key+`":`)
		if pos <= prev {
			t.Fatalf("expected key %q after the previous key in serialized envelope", key)
		}
		prev = pos
	}
}
