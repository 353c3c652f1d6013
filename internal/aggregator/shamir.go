package aggregator

import (
	"errors"
	"io"
)

// Shamir secret sharing over GF(2^8), applied byte-wise across the 32-byte
// Commitment -- 32 independent degree-(k-1) polynomials, one per byte
// position. This mirrors the construction sketched in the retrieved
// Synnergy network-core security code: "Simple threshold reconstruction
// (Shamir over GF(256))". No ecosystem Shamir library exists anywhere in
// the retrieved corpus, so this is hand-rolled rather than imported.
//
// This field is independent of bchcode's GF(2^8) (different reduction
// polynomial, different purpose) -- Shamir split and reconstruct only ever
// need to agree with each other, not with the BCH codec.

// primPoly256 is AES's irreducible polynomial, x^8+x^4+x^3+x+1. It is not
// primitive (x has order 51), so the exp/log tables below are built from
// the generator x+1 (0x03) instead of x.
const primPoly256 = 0x11B

type shamirField struct {
	exp [510]byte
	log [256]int
}

var sField = buildShamirField()

func buildShamirField() *shamirField {
	f := &shamirField{}
	f.exp[0] = 1
	for i := 1; i < 255; i++ {
		v := int(f.exp[i-1]) << 1
		if v&0x100 != 0 {
			v ^= primPoly256
		}
		v ^= int(f.exp[i-1]) // multiply by x+1: (a*x) + a
		f.exp[i] = byte(v)
	}
	for i := 0; i < 255; i++ {
		f.log[f.exp[i]] = i
	}
	f.log[0] = -1
	for i := 255; i < len(f.exp); i++ {
		f.exp[i] = f.exp[i-255]
	}
	return f
}

func fmul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return sField.exp[sField.log[a]+sField.log[b]]
}

func finv(a byte) byte {
	if a == 0 {
		return 0
	}
	return sField.exp[255-sField.log[a]]
}

// errDuplicateShareX is returned when two shares passed to shamirReconstruct
// share the same x coordinate, making Lagrange interpolation undefined.
var errDuplicateShareX = errors.New("aggregator: duplicate share x coordinate")

// shamirSplit splits secret into n shares with reconstruction threshold k,
// one share per x in 1..n. Each share has the same length as secret.
func shamirSplit(secret []byte, k, n int, rnd io.Reader) ([][]byte, error) {
	shares := make([][]byte, n)
	for i := range shares {
		shares[i] = make([]byte, len(secret))
	}

	coeffBuf := make([]byte, k-1)
	for byteIdx, s := range secret {
		if k > 1 {
			if _, err := io.ReadFull(rnd, coeffBuf); err != nil {
				return nil, err
			}
		}
		coeffs := make([]byte, k)
		coeffs[0] = s
		copy(coeffs[1:], coeffBuf)

		for x := 1; x <= n; x++ {
			shares[x-1][byteIdx] = evalPoly(coeffs, byte(x))
		}
	}
	return shares, nil
}

// evalPoly evaluates a GF(256) polynomial (coeffs[0] is the constant term)
// at x via Horner's method.
func evalPoly(coeffs []byte, x byte) byte {
	var result byte
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = fmul(result, x) ^ coeffs[i]
	}
	return result
}

// shamirReconstruct recovers the shared secret from k or more (x, share)
// points via Lagrange interpolation at x=0, applied independently per byte.
func shamirReconstruct(xs []byte, ys [][]byte) ([]byte, error) {
	n := len(xs)
	if n == 0 || len(ys) != n {
		return nil, errors.New("aggregator: mismatched share count")
	}
	secretLen := len(ys[0])
	out := make([]byte, secretLen)

	for byteIdx := 0; byteIdx < secretLen; byteIdx++ {
		var acc byte
		for i := 0; i < n; i++ {
			num := byte(1)
			den := byte(1)
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				num = fmul(num, xs[j])
				diff := xs[j] ^ xs[i]
				if diff == 0 {
					return nil, errDuplicateShareX
				}
				den = fmul(den, diff)
			}
			acc ^= fmul(ys[i][byteIdx], fmul(num, finv(den)))
		}
		out[byteIdx] = acc
	}
	return out, nil
}
