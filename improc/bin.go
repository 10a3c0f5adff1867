package improc

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/mscam/datacube"
)

// Sum is the set of accumulator types binning may produce
type Sum interface {
	uint16 | uint32 | uint64
}

// FastFactors are the binning factors with specialized kernels
var FastFactors = []int{2, 3, 4, 5, 6, 9, 10, 12, 15, 18, 20}

// BinnedSize is the output shape of binning w×h by f.  Remainder rows and
// columns are discarded.
func BinnedSize(w, h, f int) (int, int) {
	if f < 1 {
		return 0, 0
	}
	return w / f, h / f
}

// OutputBits is the narrowest of 16, 32 or 64 bits that holds f²×maxIn.
// Zero is returned if not even 64 bits suffice.
func OutputBits(maxIn uint64, f int) int {
	hi, lo := bits.Mul64(maxIn, uint64(f)*uint64(f))
	if hi != 0 {
		return 0
	}
	switch n := bits.Len64(lo); {
	case n <= 16:
		return 16
	case n <= 32:
		return 32
	default:
		return 64
	}
}

// BinGeneric is the reference separable box sum.  f consecutive rows are
// summed into tmp, which must hold (h/f)×w elements, then f consecutive
// columns of tmp are summed into dst, which must hold (h/f)×(w/f).
func BinGeneric[I datacube.Integer, O Sum](dst, tmp []O, src []I, w, h, f int) {
	ow, oh := BinnedSize(w, h, f)
	for r := 0; r < oh; r++ {
		for x := 0; x < w; x++ {
			var s O
			for k := 0; k < f; k++ {
				s += O(src[(r*f+k)*w+x])
			}
			tmp[r*w+x] = s
		}
	}
	for r := 0; r < oh; r++ {
		for c := 0; c < ow; c++ {
			var s O
			for k := 0; k < f; k++ {
				s += tmp[r*w+c*f+k]
			}
			dst[r*ow+c] = s
		}
	}
}

// Bin bins src into dst, using a specialized kernel when f is one of
// FastFactors.  tmp may be nil, in which case it is allocated.
func Bin[I datacube.Integer, O Sum](dst, tmp []O, src []I, w, h, f int) {
	_, oh := BinnedSize(w, h, f)
	if len(tmp) < oh*w {
		tmp = make([]O, oh*w)
	}
	if k, ok := fastPath[I, O](f); ok {
		k(dst, tmp, src, w, h)
		return
	}
	BinGeneric(dst, tmp, src, w, h, f)
}

type binKernel[I datacube.Integer, O Sum] func(dst, tmp []O, src []I, w, h int)

// fastPath is the factor-keyed dispatch of specialized kernels
func fastPath[I datacube.Integer, O Sum](f int) (binKernel[I, O], bool) {
	switch f {
	case 2:
		return func(dst, tmp []O, src []I, w, h int) {
			sumRows(tmp, src, w, h, 2)
			sumCols2(dst, tmp, w, h/2)
		}, true
	case 3:
		return func(dst, tmp []O, src []I, w, h int) {
			sumRows(tmp, src, w, h, 3)
			sumCols3(dst, tmp, w, h/3)
		}, true
	case 4:
		return func(dst, tmp []O, src []I, w, h int) {
			sumRows(tmp, src, w, h, 4)
			sumCols4(dst, tmp, w, h/4)
		}, true
	case 5, 6, 9, 10, 12, 15, 18, 20:
		return func(dst, tmp []O, src []I, w, h int) {
			sumRows(tmp, src, w, h, f)
			sumCols(dst, tmp, w, h/f, f)
		}, true
	}
	return nil, false
}

// sumRows accumulates f whole rows at a time, walking memory contiguously
func sumRows[I datacube.Integer, O Sum](tmp []O, src []I, w, h, f int) {
	oh := h / f
	for r := 0; r < oh; r++ {
		acc := tmp[r*w : (r+1)*w]
		row := src[r*f*w : (r*f+1)*w]
		for x, v := range row {
			acc[x] = O(v)
		}
		for k := 1; k < f; k++ {
			row = src[(r*f+k)*w : (r*f+k+1)*w]
			for x, v := range row {
				acc[x] += O(v)
			}
		}
	}
}

func sumCols[O Sum](dst, tmp []O, w, oh, f int) {
	ow := w / f
	for r := 0; r < oh; r++ {
		in := tmp[r*w : (r+1)*w]
		out := dst[r*ow : (r+1)*ow]
		for c := range out {
			seg := in[c*f : c*f+f]
			var s O
			for _, v := range seg {
				s += v
			}
			out[c] = s
		}
	}
}

func sumCols2[O Sum](dst, tmp []O, w, oh int) {
	ow := w / 2
	for r := 0; r < oh; r++ {
		in := tmp[r*w : (r+1)*w]
		out := dst[r*ow : (r+1)*ow]
		for c := range out {
			out[c] = in[2*c] + in[2*c+1]
		}
	}
}

func sumCols3[O Sum](dst, tmp []O, w, oh int) {
	ow := w / 3
	for r := 0; r < oh; r++ {
		in := tmp[r*w : (r+1)*w]
		out := dst[r*ow : (r+1)*ow]
		for c := range out {
			out[c] = in[3*c] + in[3*c+1] + in[3*c+2]
		}
	}
}

func sumCols4[O Sum](dst, tmp []O, w, oh int) {
	ow := w / 4
	for r := 0; r < oh; r++ {
		in := tmp[r*w : (r+1)*w]
		out := dst[r*ow : (r+1)*ow]
		for c := range out {
			out[c] = in[4*c] + in[4*c+1] + in[4*c+2] + in[4*c+3]
		}
	}
}

// Reduce bins every slice of c by f.  maxIn is the largest value present or
// possible in c; it selects the narrowest output element type that cannot
// overflow.  The result's BitDepth is the number of bits f²×maxIn needs.
func Reduce[I datacube.Integer](c *datacube.Cube[I], f int, maxIn uint64) (datacube.Volume, error) {
	if f < 1 {
		return nil, errors.Errorf("binning factor %d", f)
	}
	ow, oh := BinnedSize(c.Width, c.Height, f)
	if ow == 0 || oh == 0 {
		return nil, errors.Errorf("binning %dx%d by %d leaves nothing", c.Width, c.Height, f)
	}
	sig := bits.Len64(maxIn * uint64(f) * uint64(f))
	switch OutputBits(maxIn, f) {
	case 16:
		return reduceInto[I, uint16](c, f, sig), nil
	case 32:
		return reduceInto[I, uint32](c, f, sig), nil
	case 64:
		return reduceInto[I, uint64](c, f, sig), nil
	}
	return nil, errors.Errorf("binning by %d overflows 64 bits for inputs up to %d", f, maxIn)
}

func reduceInto[I datacube.Integer, O Sum](c *datacube.Cube[I], f, sig int) *datacube.Cube[O] {
	ow, oh := BinnedSize(c.Width, c.Height, f)
	out := datacube.New[O](ow, oh, c.Depth)
	out.BitDepth = sig
	out.Seq = c.Seq
	copy(out.Stamps, c.Stamps)
	tmp := make([]O, oh*c.Width)
	for z := 0; z < c.Depth; z++ {
		Bin(out.Slice(z), tmp, c.Slice(z), c.Width, c.Height, f)
	}
	return out
}
