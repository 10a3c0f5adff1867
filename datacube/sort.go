package datacube

import (
	"gonum.org/v1/gonum/floats"
)

// DefaultStride samples one pixel in 64 along each axis
const DefaultStride = 64

// Intensity sums every sx'th column of every sy'th row of each slice.
// Strides below one are treated as one.
func Intensity[T Integer](c *Cube[T], sx, sy int) []uint64 {
	if sx < 1 {
		sx = 1
	}
	if sy < 1 {
		sy = 1
	}
	out := make([]uint64, c.Depth)
	for z := 0; z < c.Depth; z++ {
		s := c.slices[z]
		var sum uint64
		for y := 0; y < c.Height; y += sy {
			row := s[y*c.Width : (y+1)*c.Width]
			for x := 0; x < c.Width; x += sx {
				sum += uint64(row[x])
			}
		}
		out[z] = sum
	}
	return out
}

// Background returns the index of the slice with the smallest sampled sum,
// the lowest index among ties
func Background[T Integer](c *Cube[T], sx, sy int) int {
	sums := Intensity(c, sx, sy)
	f := make([]float64, len(sums))
	for i, s := range sums {
		f[i] = float64(s)
	}
	return floats.MinIdx(f)
}

// Sort rotates the cube so the background slice comes first, keeping the
// cyclic order of the others.  It returns the background's original index.
func Sort[T Integer](c *Cube[T], sx, sy int) int {
	if c.Depth == 0 {
		return 0
	}
	bg := Background(c, sx, sy)
	c.Rotate(bg)
	return bg
}
