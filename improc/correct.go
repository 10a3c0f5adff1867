// Package improc contains the per-pixel kernels applied to assembled cubes:
// background and flatfield correction, spatial binning, temporal filters and
// display scaling.
package improc

import (
	"github.com/nasa-jpl/mscam/datacube"
)

// UnityGain is the flatfield value representing a gain of 1.0, in both the
// 8-bit and 16-bit sample domains
const UnityGain = 256

// Correct computes dst = (sample ⊖ background) × flat / UnityGain, where ⊖ is
// subtraction saturating at zero.  The product is formed in 32 bits, which
// holds 65535×65535, before the unity divide.  All slices must have the
// length of dst.
//
// 16-bit samples with gains above unity overflow a uint16 dst; such results
// saturate at 65535.  Use Correct16 for lossless 16-bit correction.
func Correct[S datacube.Sample, O uint16 | uint32](dst []O, sample, background []S, flat []uint16) {
	sample = sample[:len(dst)]
	background = background[:len(dst)]
	flat = flat[:len(dst)]
	lim := uint32(^O(0))
	for i := range dst {
		var d uint32
		if s, b := sample[i], background[i]; s > b {
			d = uint32(s - b)
		}
		v := d * uint32(flat[i]) / UnityGain
		if v > lim {
			v = lim
		}
		dst[i] = O(v)
	}
}

// Correct8 corrects 8-bit samples into 16 bits.  The largest result,
// 255×65535/256, fits.
func Correct8(dst []uint16, sample, background []uint8, flat []uint16) {
	Correct(dst, sample, background, flat)
}

// Correct16 corrects 16-bit samples into 32 bits
func Correct16(dst []uint32, sample, background []uint16, flat []uint16) {
	Correct(dst, sample, background, flat)
}

// CorrectRaw is Correct without the unity divide, for callers that fold the
// divide into their gains
func CorrectRaw[S datacube.Sample](dst []uint32, sample, background []S, flat []uint16) {
	sample = sample[:len(dst)]
	background = background[:len(dst)]
	flat = flat[:len(dst)]
	for i := range dst {
		var d uint32
		if s, b := sample[i], background[i]; s > b {
			d = uint32(s - b)
		}
		dst[i] = d * uint32(flat[i])
	}
}

// CorrectedMax is the largest value Correct can produce for samples of the
// given bit depth and a flatfield whose largest gain is maxGain
func CorrectedMax(bitDepth int, maxGain uint16) uint64 {
	maxSample := uint64(1)<<uint(bitDepth) - 1
	return maxSample * uint64(maxGain) / UnityGain
}

// UnityFlat returns a flatfield plane of n unity gains
func UnityFlat(n int) []uint16 {
	f := make([]uint16, n)
	for i := range f {
		f[i] = UnityGain
	}
	return f
}

// MaxGain returns the largest gain in a set of flatfield planes
func MaxGain(planes [][]uint16) uint16 {
	var m uint16
	for _, p := range planes {
		for _, g := range p {
			if g > m {
				m = g
			}
		}
	}
	return m
}
