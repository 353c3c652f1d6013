package bchcode

// designedT is the number of consecutive roots alpha^1..alpha^(2t) the
// generator polynomial is built from. spec.md §4.2 specifies t=18.
const designedT = 18

// cosetOf returns the cyclotomic coset of s modulo fieldSize under
// multiplication by 2 -- the set of exponents sharing a minimal polynomial
// with alpha^s.
func cosetOf(s int) []int {
	s %= fieldSize
	seen := map[int]bool{}
	var coset []int
	c := s
	for !seen[c] {
		seen[c] = true
		coset = append(coset, c)
		c = (c * 2) % fieldSize
	}
	return coset
}

// gf2PolyMulBits multiplies two GF(2) polynomials (coefficients 0/1, index
// i holds the coefficient of x^i).
func gf2PolyMulBits(a, b []byte) []byte {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	res := make([]byte, len(a)+len(b)-1)
	for i, ac := range a {
		if ac == 0 {
			continue
		}
		for j, bc := range b {
			res[i+j] ^= ac & bc
		}
	}
	return res
}

// gfPolyMul multiplies two polynomials whose coefficients are general
// GF(2^8) elements (used only while building minimal polynomials, whose
// intermediate coefficients are not yet known to collapse to {0,1}).
func gfPolyMul(a, b []byte) []byte {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	res := make([]byte, len(a)+len(b)-1)
	for i, ac := range a {
		if ac == 0 {
			continue
		}
		for j, bc := range b {
			if bc == 0 {
				continue
			}
			res[i+j] ^= gfMul(ac, bc)
		}
	}
	return res
}

// minimalPolynomial computes the GF(2)-coefficient minimal polynomial of
// alpha^s: the product of (x + alpha^c) over every c in s's cyclotomic
// coset. The result's coefficients are guaranteed (by the standard theory
// of minimal polynomials over GF(2^m)) to collapse to exactly {0,1}.
func minimalPolynomial(s int) []byte {
	coset := cosetOf(s)
	poly := []byte{1}
	for _, c := range coset {
		factor := []byte{alphaPow(c), 1} // (x + alpha^c)
		poly = gfPolyMul(poly, factor)
	}
	// Collapse to GF(2): every coefficient must already be 0x00 or 0x01.
	out := make([]byte, len(poly))
	for i, c := range poly {
		if c != 0 {
			out[i] = 1
		}
	}
	return out
}

// generatorPolynomial builds g(x), the GF(2)-coefficient generator
// polynomial whose roots are alpha^1..alpha^(2*designedT). Returns the
// coefficients (index i = coefficient of x^i, so deg(g) = len-1).
func generatorPolynomial() []byte {
	visited := make(map[int]bool)
	gen := []byte{1}
	for s := 1; s <= 2*designedT; s++ {
		if visited[s] {
			continue
		}
		coset := cosetOf(s)
		for _, c := range coset {
			visited[c] = true
		}
		gen = gf2PolyMulBits(gen, minimalPolynomial(s))
	}
	return trimTrailingZeros(gen)
}

func trimTrailingZeros(p []byte) []byte {
	n := len(p)
	for n > 1 && p[n-1] == 0 {
		n--
	}
	return p[:n]
}
