// Package fuzzyextract implements C3, the per-finger fuzzy extractor: a
// code-offset secure sketch built on bchcode, plus an HKDF-derived per-finger
// secret and an HMAC-BLAKE2b-128 auth tag that detects a failed or
// wrong-finger recovery before it ever reaches the aggregator.
//
// This is the heart of the core (spec.md §4.3): Enroll never stores the
// quantized template or the inner seed, only sketch and auth_tag survive in
// the HelperRecord, and every secret intermediate is wiped the moment it is
// no longer needed.
package fuzzyextract

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"math"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"

	"decdid/internal/bchcode"
	"decdid/internal/biometric"
	"decdid/internal/bitpack"
	"decdid/internal/quantizer"
	"decdid/internal/security"
)

// ErrRecoveryFailed means the BCH decode of one or both sketch halves
// exceeded the code's correction capability -- the recapture was too far
// from the enrolled template to be salvageable.
var ErrRecoveryFailed = errors.New("fuzzyextract: bch decode exceeded correction capability")

// ErrAuthTagMismatch means BCH decode succeeded but the recomputed auth tag
// does not match the one stored at enrollment -- spec.md §4.3's primary
// defense against a decoder that miscorrects to the wrong codeword.
var ErrAuthTagMismatch = errors.New("fuzzyextract: auth tag mismatch")

// FingerError attaches the finger a recovery failure belongs to.
type FingerError struct {
	FingerID biometric.FingerID
	Err      error
}

func (e *FingerError) Error() string {
	return fmt.Sprintf("fuzzyextract: finger %s: %v", e.FingerID, e.Err)
}

func (e *FingerError) Unwrap() error { return e.Err }

const (
	saltLen      = 16
	innerSeedLen = 32
	authTagLen   = 16
	halfLen      = innerSeedLen / 2 // 16 bytes = 128 bits per BCH half

	hkdfFingerInfo = "decdid:finger:v1"
	hkdfAuthInfo   = "decdid:auth:v1"
)

// HelperRecord is the public, non-secret output of Enroll. It is what gets
// persisted in a MetadataEnvelope; recovering the per-finger secret from it
// requires a recapture within the code's correction radius plus a matching
// auth tag.
type HelperRecord struct {
	FingerID  biometric.FingerID
	Salt      [saltLen]byte
	Sketch    quantizer.Template
	AuthTag   [authTagLen]byte
	GridSize  float64
	AngleBins int
}

// Enroll builds a HelperRecord from an enrollment-time quantized template
// and returns the per-finger secret it encodes. w is wiped by neither
// Enroll nor the caller's responsibility to retain; Enroll only reads it.
func Enroll(fingerID biometric.FingerID, w quantizer.Template, params quantizer.Params) (*HelperRecord, *security.SecureBytes, error) {
	salt := [saltLen]byte{}
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, nil, fmt.Errorf("fuzzyextract: reading salt: %w", err)
	}

	innerSeed := make([]byte, innerSeedLen)
	if _, err := rand.Read(innerSeed); err != nil {
		return nil, nil, fmt.Errorf("fuzzyextract: reading inner seed: %w", err)
	}
	defer security.Wipe(innerSeed)

	sketch, err := buildSketch(w, innerSeed)
	if err != nil {
		return nil, nil, err
	}

	secret, err := deriveSecret(salt[:], append(append([]byte{}, innerSeed...), []byte(fingerID)...), hkdfFingerInfo, innerSeedLen)
	if err != nil {
		return nil, nil, err
	}
	defer security.Wipe(secret)

	kAuth, err := deriveSecret(salt[:], secret, hkdfAuthInfo, authTagLen)
	if err != nil {
		return nil, nil, err
	}
	defer security.Wipe(kAuth)

	authTag := hmacBlake2b128(kAuth, authMessage(fingerID, salt, sketch, params.GridSize, params.AngleBins))

	helper := &HelperRecord{
		FingerID:  fingerID,
		Salt:      salt,
		Sketch:    sketch,
		AuthTag:   authTag,
		GridSize:  params.GridSize,
		AngleBins: params.AngleBins,
	}
	return helper, security.FromBytes(append([]byte{}, secret...)), nil
}

// Verify attempts to recover the per-finger secret encoded in helper from a
// noisy recapture wPrime. Returns ErrRecoveryFailed (via FingerError) if the
// BCH decode cannot correct the difference, or ErrAuthTagMismatch if decode
// succeeds but the recomputed tag disagrees with the stored one.
func Verify(helper *HelperRecord, wPrime quantizer.Template) (*security.SecureBytes, error) {
	var cPrime quantizer.Template
	for i := range cPrime {
		cPrime[i] = wPrime[i] ^ helper.Sketch[i]
	}

	innerSeedPrime, err := recoverInnerSeed(cPrime)
	if err != nil {
		return nil, &FingerError{FingerID: helper.FingerID, Err: err}
	}
	defer security.Wipe(innerSeedPrime)

	secretPrime, err := deriveSecret(helper.Salt[:], append(append([]byte{}, innerSeedPrime...), []byte(helper.FingerID)...), hkdfFingerInfo, innerSeedLen)
	if err != nil {
		return nil, err
	}
	defer security.Wipe(secretPrime)

	kAuthPrime, err := deriveSecret(helper.Salt[:], secretPrime, hkdfAuthInfo, authTagLen)
	if err != nil {
		return nil, err
	}
	defer security.Wipe(kAuthPrime)

	tagPrime := hmacBlake2b128(kAuthPrime, authMessage(helper.FingerID, helper.Salt, helper.Sketch, helper.GridSize, helper.AngleBins))
	if !security.ConstantTimeCompare(tagPrime[:], helper.AuthTag[:]) {
		return nil, &FingerError{FingerID: helper.FingerID, Err: ErrAuthTagMismatch}
	}

	return security.FromBytes(append([]byte{}, secretPrime...)), nil
}

// buildSketch encodes the two 128-bit halves of innerSeed as BCH codewords,
// packs them (plus spec.md §4.3's 2 fixed zero padding bits) into a 512-bit
// C, and XORs it against the enrollment template.
func buildSketch(w quantizer.Template, innerSeed []byte) (quantizer.Template, error) {
	var sketch quantizer.Template

	codewordA, err := encodeHalf(innerSeed[:halfLen])
	if err != nil {
		return sketch, err
	}
	codewordB, err := encodeHalf(innerSeed[halfLen:])
	if err != nil {
		return sketch, err
	}

	allBits := make([]byte, 0, quantizer.TemplateBits)
	allBits = append(allBits, codewordA...)
	allBits = append(allBits, codewordB...)
	allBits = append(allBits, make([]byte, quantizer.TemplateBits-2*bchcode.N)...) // fixed zero padding

	c := bitpack.PackLSB(allBits)
	if len(c) != quantizer.TemplateBytes {
		return sketch, fmt.Errorf("fuzzyextract: internal error: packed C is %d bytes, want %d", len(c), quantizer.TemplateBytes)
	}
	for i := range sketch {
		sketch[i] = w[i] ^ c[i]
	}
	return sketch, nil
}

// encodeHalf zero-pads a 128-bit seed half to bchcode.K() bits and BCH-encodes it.
func encodeHalf(half []byte) ([]byte, error) {
	bits := bitpack.UnpackLSB(half, 8*halfLen)
	padded := make([]byte, bchcode.K())
	copy(padded, bits)
	return bchcode.Encode(padded)
}

// recoverInnerSeed BCH-decodes both halves of C' and reassembles the
// original 256-bit inner seed, or ErrRecoveryFailed if either half exceeds
// the code's correction capability.
func recoverInnerSeed(cPrime quantizer.Template) ([]byte, error) {
	bits := bitpack.UnpackLSB(cPrime[:], quantizer.TemplateBits)
	codewordA := bits[:bchcode.N]
	codewordB := bits[bchcode.N : 2*bchcode.N]

	msgA, err := bchcode.Decode(codewordA)
	if err != nil {
		return nil, ErrRecoveryFailed
	}
	msgB, err := bchcode.Decode(codewordB)
	if err != nil {
		return nil, ErrRecoveryFailed
	}

	seed := make([]byte, innerSeedLen)
	copy(seed[:halfLen], bitpack.PackLSB(msgA[:8*halfLen]))
	copy(seed[halfLen:], bitpack.PackLSB(msgB[:8*halfLen]))
	return seed, nil
}

// deriveSecret runs HKDF-SHA256 extract-then-expand over (salt, ikm, info)
// and returns length bytes of output.
func deriveSecret(salt, ikm []byte, info string, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("fuzzyextract: hkdf: %w", err)
	}
	return out, nil
}

// hmacBlake2b128 is HMAC built on unkeyed BLAKE2b-256, truncated to the
// leading 16 bytes -- spec.md §4.3's "HMAC-BLAKE2b-128".
func hmacBlake2b128(key, message []byte) [authTagLen]byte {
	newHash := func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}
	mac := hmac.New(newHash, key)
	mac.Write(message)
	sum := mac.Sum(nil)
	var out [authTagLen]byte
	copy(out[:], sum[:authTagLen])
	return out
}

// authMessage builds the byte string auth_tag is computed over:
// finger_id || salt || sketch || grid_size_le_bytes || angle_bins_le_bytes.
func authMessage(fingerID biometric.FingerID, salt [saltLen]byte, sketch quantizer.Template, gridSize float64, angleBins int) []byte {
	buf := make([]byte, 0, len(fingerID)+saltLen+quantizer.TemplateBytes+8+4)
	buf = append(buf, []byte(fingerID)...)
	buf = append(buf, salt[:]...)
	buf = append(buf, sketch[:]...)

	var g [8]byte
	binary.LittleEndian.PutUint64(g[:], math.Float64bits(gridSize))
	buf = append(buf, g[:]...)

	var a [4]byte
	binary.LittleEndian.PutUint32(a[:], uint32(angleBins))
	buf = append(buf, a[:]...)

	return buf
}
