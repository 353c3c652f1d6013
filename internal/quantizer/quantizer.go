// Package quantizer implements C1, the minutiae quantizer: a deterministic,
// rotation/translation-tolerant projection of a variable-length minutiae
// list into a fixed 512-bit template.
//
// The per-position hash family (the "h_i" of spec.md §4.1, an explicitly
// open design question there) is keyed HMAC-SHA256 over the quantizer's
// parameters. spec.md suggests SipHash; this core uses HMAC-SHA256 instead
// since it is the keyed-hash primitive the rest of the stack already
// depends on (crypto/hmac, no new dependency), and it is bolted to
// (grid_size, angle_bins) so helper records stay portable across processes.
package quantizer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"decdid/internal/biometric"
)

// TemplateBits is the fixed width of a quantized template.
const TemplateBits = 512

// TemplateBytes is TemplateBits packed into bytes.
const TemplateBytes = TemplateBits / 8

// Template is an opaque 512-bit quantized minutiae projection.
type Template [TemplateBytes]byte

// subsetSize is the number of (cell, angle-bucket) pairs each bit position
// draws from; bigger values smear noise further but flatten the signal.
const subsetSize = 9

// Params are the spatial/angular binning parameters that produced a
// Template. Two templates are only comparable if their Params match.
type Params struct {
	GridSize  float64 // side length of a grid cell, default 0.05
	AngleBins int     // number of angle buckets, default 32
}

// DefaultParams matches spec.md §4.1's defaults: a 20x20 spatial grid and 32
// angle buckets.
func DefaultParams() Params {
	return Params{GridSize: 0.05, AngleBins: 32}
}

func (p Params) gridCells() int {
	n := int(math.Round(1.0 / p.GridSize))
	if n < 1 {
		n = 1
	}
	return n
}

func (p Params) totalCells() int {
	g := p.gridCells()
	return g * g * p.AngleBins
}

// paramKey derives the keyed-hash key for this parameter set. Two
// QuantizedTemplates are only meaningfully compared when derived with the
// same (grid_size, angle_bins), since the key -- and therefore every h_i --
// changes with them.
func (p Params) paramKey() []byte {
	s := fmt.Sprintf("decdid:quantizer:v1:%.10f:%d", p.GridSize, p.AngleBins)
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// Quantize canonicalizes and bins capture.Minutiae into a fixed-width
// Template. Deterministic: same (capture, params) always produces the same
// byte-for-byte Template.
func Quantize(capture biometric.FingerCapture, params Params) (Template, error) {
	var tpl Template
	n := len(capture.Minutiae)
	if n == 0 {
		return tpl, fmt.Errorf("quantizer: empty minutiae list for %s", capture.FingerID)
	}

	canon := canonicalize(capture.Minutiae)
	grid := accumulate(canon, params)
	key := params.paramKey()

	total := params.totalCells()
	for i := 0; i < TemplateBits; i++ {
		indices, threshold := bitSelection(key, i, total)
		var sum int
		for _, idx := range indices {
			sum += grid[idx]
		}
		if sum >= threshold {
			tpl[i/8] |= 1 << uint(i%8)
		}
	}
	return tpl, nil
}

// canonicalMinutia is a minutia after centroid-translation and
// dominant-orientation rotation.
type canonicalMinutia struct {
	x, y, theta float64
}

// canonicalize translates the centroid to (0.5, 0.5) and rotates so the
// circular mean of theta (mod pi) aligns with zero. No scale/perspective
// normalization is attempted -- that is the extractor's job (spec.md §4.1).
func canonicalize(minutiae []biometric.Minutia) []canonicalMinutia {
	n := len(minutiae)
	var sumX, sumY float64
	angles := make([]float64, n)
	for i, m := range minutiae {
		sumX += m.X
		sumY += m.Y
		angles[i] = m.Theta
	}
	cx, cy := sumX/float64(n), sumY/float64(n)
	dominant := biometric.CircularMeanAngle(angles, math.Pi)

	cosT, sinT := math.Cos(-dominant), math.Sin(-dominant)
	out := make([]canonicalMinutia, n)
	for i, m := range minutiae {
		dx, dy := m.X-cx, m.Y-cy
		rx := dx*cosT - dy*sinT
		ry := dx*sinT + dy*cosT
		out[i] = canonicalMinutia{
			x:     rx + 0.5,
			y:     ry + 0.5,
			theta: wrapAngle(m.Theta - dominant),
		}
	}
	return out
}

func wrapAngle(theta float64) float64 {
	const twoPi = 2 * math.Pi
	theta = math.Mod(theta, twoPi)
	if theta < 0 {
		theta += twoPi
	}
	return theta
}

// accumulate bins canonical minutiae into a flattened (cell, angle-bucket)
// occupancy grid of length gridCells^2 * angleBins.
func accumulate(minutiae []canonicalMinutia, params Params) []int {
	g := params.gridCells()
	grid := make([]int, g*g*params.AngleBins)
	angleStep := 2 * math.Pi / float64(params.AngleBins)

	for _, m := range minutiae {
		cellX := wrapCell(int(math.Floor(m.x/params.GridSize)), g)
		cellY := wrapCell(int(math.Floor(m.y/params.GridSize)), g)
		bucket := wrapCell(int(math.Floor(m.theta/angleStep)), params.AngleBins)
		idx := (cellY*g+cellX)*params.AngleBins + bucket
		grid[idx]++
	}
	return grid
}

// wrapCell folds an out-of-range index (possible after rotation pushes a
// minutia outside the unit square) back into [0, n).
func wrapCell(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// bitSelection returns the deterministic subset of grid indices bit
// position i draws from, and the occupancy threshold it must clear to set
// that bit. Both are pure functions of (key, i, total).
func bitSelection(key []byte, position, total int) ([]int, int) {
	indices := make([]int, subsetSize)
	for j := 0; j < subsetSize; j++ {
		mac := hmac.New(sha256.New, key)
		var buf [8]byte
		binary.BigEndian.PutUint32(buf[0:4], uint32(position))
		binary.BigEndian.PutUint32(buf[4:8], uint32(j))
		mac.Write(buf[:])
		sum := mac.Sum(nil)
		v := binary.BigEndian.Uint64(sum[:8])
		indices[j] = int(v % uint64(total))
	}

	// Threshold varies 1..3 per position, derived from the same keyed hash
	// family, so no two bit positions share identical selection geometry.
	mac := hmac.New(sha256.New, key)
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(position)^0x54485200)
	mac.Write(buf[:])
	threshold := 1 + int(mac.Sum(nil)[0]%3)

	return indices, threshold
}

// HammingDistance counts the differing bits between two templates of the
// same parameters.
func HammingDistance(a, b Template) int {
	dist := 0
	for i := range a {
		x := a[i] ^ b[i]
		for x != 0 {
			dist++
			x &= x - 1
		}
	}
	return dist
}
