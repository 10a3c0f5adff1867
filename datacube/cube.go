/*Package datacube groups frames from successive illumination channels into cubes.

A Cube holds exactly Depth slices of Width×Height pixels.  The Assembler fills
cubes from a pool of at least two, so that a published cube is never written
again until its consumer calls Release.  Sort moves the darkest (background)
channel to slice zero.

*/
package datacube

import (
	"sync/atomic"
	"time"
)

// Integer is the set of unsigned pixel types
type Integer interface {
	uint8 | uint16 | uint32 | uint64
}

// Pixel is the set of element types a Cube may hold
type Pixel interface {
	Integer | float32
}

// Sample is the set of types produced directly by a camera
type Sample interface {
	uint8 | uint16
}

// Volume is a read-only view of a cube of any element type
type Volume interface {
	// Dims returns width, height, depth
	Dims() (int, int, int)

	// Bits is the number of significant bits per element, 0 for floats
	Bits() int

	// At returns the element at column x, row y of slice z
	At(x, y, z int) float64

	// Sequence is the publication number of the cube the volume came from
	Sequence() uint64

	// Release returns the underlying buffer to its owner
	Release()
}

// Cube is a stack of equally sized slices
type Cube[T Pixel] struct {
	Width, Height, Depth int

	// BitDepth is the number of significant bits of each element
	BitDepth int

	// Seq is the publication sequence number assigned by the Assembler
	Seq uint64

	// Stamps holds the capture time of each slice, in slice order
	Stamps []time.Time

	data   []T
	slices [][]T

	home chan *Cube[T]
	out  atomic.Bool
}

// New allocates a zeroed cube
func New[T Pixel](width, height, depth int) *Cube[T] {
	n := width * height
	c := &Cube[T]{
		Width:  width,
		Height: height,
		Depth:  depth,
		Stamps: make([]time.Time, depth),
		data:   make([]T, n*depth),
		slices: make([][]T, depth),
	}
	for i := range c.slices {
		c.slices[i] = c.data[i*n : (i+1)*n : (i+1)*n]
	}
	return c
}

// Slice returns slice i, row major
func (c *Cube[T]) Slice(i int) []T {
	return c.slices[i]
}

// Dims returns width, height, depth
func (c *Cube[T]) Dims() (int, int, int) {
	return c.Width, c.Height, c.Depth
}

// Bits returns BitDepth
func (c *Cube[T]) Bits() int {
	return c.BitDepth
}

// Sequence returns Seq
func (c *Cube[T]) Sequence() uint64 {
	return c.Seq
}

// At returns the element at column x, row y of slice z
func (c *Cube[T]) At(x, y, z int) float64 {
	return float64(c.slices[z][y*c.Width+x])
}

// Release hands a published cube back to the assembler's pool, and is a no-op
// on cubes that did not come from a pool.  Repeating the call is harmless only
// until the assembler publishes the buffer again; after that a late Release
// returns the new holder's cube, so holders must stop using a cube once they
// release it.
func (c *Cube[T]) Release() {
	if c.home == nil {
		return
	}
	if c.out.CompareAndSwap(true, false) {
		c.home <- c
	}
}

// Rotate rotates the slice order left by k so that slice k becomes slice 0.
// The pixel data does not move.
func (c *Cube[T]) Rotate(k int) {
	d := c.Depth
	if d == 0 {
		return
	}
	k %= d
	if k < 0 {
		k += d
	}
	if k == 0 {
		return
	}
	rotate(c.slices, k)
	rotate(c.Stamps, k)
}

func rotate[E any](s []E, k int) {
	reverse(s[:k])
	reverse(s[k:])
	reverse(s)
}

func reverse[E any](s []E) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
