/*Package pipeline connects acquisition, cube assembly and cube processing.

A Processor turns a raw cube into a corrected, binned and optionally
filtered volume.  Correction is applied before binning, so the saturating
background subtraction sees individual pixels.
*/
package pipeline

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nasa-jpl/mscam/datacube"
	"github.com/nasa-jpl/mscam/improc"
)

// Processor holds the per-cube processing settings.  Fields must not change
// once Process has been called.
type Processor struct {
	// SortStride is the sampling stride used to find the background slice
	SortStride int

	// Binning is the spatial binning factor, 1 for none
	Binning int

	// Background is a width×height dark frame subtracted from every slice.
	// When nil the darkest slice of each cube is used.
	Background []uint16

	// Flat holds one gain plane per slice, in sorted slice order, with
	// improc.UnityGain meaning 1.0.  When nil no flatfield is applied.
	Flat [][]uint16

	// Filter is an optional temporal filter applied to the binned cube
	Filter improc.Filter

	once    sync.Once
	maxGain uint16

	mu sync.Mutex
}

func (p *Processor) gain() uint16 {
	p.once.Do(func() {
		p.maxGain = improc.UnityGain
		if p.Flat != nil {
			p.maxGain = improc.MaxGain(p.Flat)
		}
	})
	return p.maxGain
}

// Process sorts, corrects, bins and filters a cube of camera samples.  v must
// be a *datacube.Cube[uint8] or *datacube.Cube[uint16]; it is released before
// Process returns.
func (p *Processor) Process(v datacube.Volume) (datacube.Volume, error) {
	defer v.Release()
	var (
		out datacube.Volume
		err error
	)
	switch c := v.(type) {
	case *datacube.Cube[uint8]:
		var corr *datacube.Cube[uint16]
		if corr, err = correct[uint8, uint16](p, c); err == nil {
			out, err = improc.Reduce(corr, p.binning(), improc.CorrectedMax(c.BitDepth, p.gain()))
		}
	case *datacube.Cube[uint16]:
		var corr *datacube.Cube[uint32]
		if corr, err = correct[uint16, uint32](p, c); err == nil {
			out, err = improc.Reduce(corr, p.binning(), improc.CorrectedMax(c.BitDepth, p.gain()))
		}
	default:
		return nil, errors.Errorf("cannot process a %T", v)
	}
	if err != nil {
		return nil, err
	}
	if p.Filter == nil {
		return out, nil
	}
	return p.filter(out)
}

func (p *Processor) binning() int {
	if p.Binning < 1 {
		return 1
	}
	return p.Binning
}

func correct[S datacube.Sample, O uint16 | uint32](p *Processor, c *datacube.Cube[S]) (*datacube.Cube[O], error) {
	n := c.Width * c.Height
	if p.Flat != nil && len(p.Flat) != c.Depth {
		return nil, errors.Errorf("flatfield has %d planes for a cube of depth %d", len(p.Flat), c.Depth)
	}
	stride := p.SortStride
	if stride == 0 {
		stride = datacube.DefaultStride
	}
	datacube.Sort(c, stride, stride)

	bg := c.Slice(0)
	if p.Background != nil {
		if len(p.Background) != n {
			return nil, errors.Errorf("background has %d pixels for %dx%d slices", len(p.Background), c.Width, c.Height)
		}
		bg = narrow[S](p.Background)
	}
	unity := improc.UnityFlat(n)

	out := datacube.New[O](c.Width, c.Height, c.Depth)
	out.BitDepth = c.BitDepth
	out.Seq = c.Seq
	copy(out.Stamps, c.Stamps)
	for z := 0; z < c.Depth; z++ {
		flat := unity
		if p.Flat != nil {
			if flat = p.Flat[z]; len(flat) != n {
				return nil, errors.Errorf("flatfield plane %d has %d pixels, want %d", z, len(flat), n)
			}
		}
		improc.Correct(out.Slice(z), c.Slice(z), bg, flat)
	}
	return out, nil
}

// narrow converts a reference frame to the sample type, clipping at its range
func narrow[S datacube.Sample](ref []uint16) []S {
	out := make([]S, len(ref))
	top := ^S(0)
	for i, v := range ref {
		if uint64(v) > uint64(top) {
			out[i] = top
			continue
		}
		out[i] = S(v)
	}
	return out
}

func (p *Processor) filter(v datacube.Volume) (datacube.Volume, error) {
	var src *datacube.Cube[float32]
	switch c := v.(type) {
	case *datacube.Cube[uint16]:
		src = toFloat(c)
	case *datacube.Cube[uint32]:
		src = toFloat(c)
	case *datacube.Cube[uint64]:
		src = toFloat(c)
	default:
		return nil, errors.Errorf("cannot filter a %T", v)
	}
	dst := datacube.New[float32](src.Width, src.Height, src.Depth)
	dst.Seq = src.Seq
	copy(dst.Stamps, src.Stamps)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Filter.Apply(planes(dst), planes(src))
	return dst, nil
}

func toFloat[I datacube.Integer](c *datacube.Cube[I]) *datacube.Cube[float32] {
	out := datacube.New[float32](c.Width, c.Height, c.Depth)
	out.Seq = c.Seq
	copy(out.Stamps, c.Stamps)
	for z := 0; z < c.Depth; z++ {
		dst := out.Slice(z)
		for i, v := range c.Slice(z) {
			dst[i] = float32(v)
		}
	}
	return out
}

func planes(c *datacube.Cube[float32]) [][]float32 {
	out := make([][]float32, c.Depth)
	for z := range out {
		out[z] = c.Slice(z)
	}
	return out
}
