package imgrec

import (
	"io"
	"math"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/mscam/datacube"
)

// Cards returns the acquisition header cards written alongside a cube
func Cards(binning int, fps float64) []fitsio.Card {
	return []fitsio.Card{
		{Name: "BINNING", Value: binning, Comment: "spatial binning factor"},
		{Name: "FPS", Value: fps, Comment: "frame rate"},
	}
}

// WriteCube streams v to w as a single image HDU of NAXIS1=width,
// NAXIS2=height, NAXIS3=depth.  Unsigned 16 and 32 bit data is stored signed
// with the conventional BZERO offset.
func WriteCube(w io.Writer, v datacube.Volume, cards []fitsio.Card) error {
	width, height, depth := v.Dims()
	meta := []fitsio.Card{
		{Name: "DATE", Value: time.Now().UTC().Format("2006-01-02T15:04:05"), Comment: "file creation time"},
		{Name: "BITDEPTH", Value: v.Bits(), Comment: "significant bits per element"},
		{Name: "DEPTH", Value: depth, Comment: "illumination channels"},
	}
	meta = append(meta, cards...)

	var (
		bitpix int
		data   interface{}
	)
	switch c := v.(type) {
	case *datacube.Cube[uint8]:
		bitpix, data = 8, flatten(c)
	case *datacube.Cube[uint16]:
		bitpix = 16
		meta = append(meta, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
		data = offset(c, func(u uint16) int16 { return int16(int32(u) - 32768) })
	case *datacube.Cube[uint32]:
		bitpix = 32
		meta = append(meta, fitsio.Card{Name: "BZERO", Value: math.MaxInt32 + 1}, fitsio.Card{Name: "BSCALE", Value: 1.0})
		data = offset(c, func(u uint32) int32 { return int32(int64(u) - math.MaxInt32 - 1) })
	case *datacube.Cube[uint64]:
		if c.BitDepth > 63 {
			return errors.Errorf("%d-bit values do not fit a FITS integer image", c.BitDepth)
		}
		bitpix = 64
		data = offset(c, func(u uint64) int64 { return int64(u) })
	case *datacube.Cube[float32]:
		bitpix, data = -32, flatten(c)
	default:
		return errors.Errorf("cannot write a %T", v)
	}

	f, err := fitsio.Create(w)
	if err != nil {
		return errors.Wrap(err, "creating fits stream")
	}
	defer f.Close()
	im := fitsio.NewImage(bitpix, []int{width, height, depth})
	defer im.Close()
	if err = im.Header().Append(meta...); err != nil {
		return errors.Wrap(err, "writing fits header")
	}
	if err = im.Write(data); err != nil {
		return errors.Wrap(err, "writing fits data")
	}
	return f.Write(im)
}

func flatten[T datacube.Pixel](c *datacube.Cube[T]) []T {
	out := make([]T, 0, c.Width*c.Height*c.Depth)
	for z := 0; z < c.Depth; z++ {
		out = append(out, c.Slice(z)...)
	}
	return out
}

func offset[U datacube.Integer, S int16 | int32 | int64](c *datacube.Cube[U], conv func(U) S) []S {
	out := make([]S, 0, c.Width*c.Height*c.Depth)
	for z := 0; z < c.Depth; z++ {
		for _, u := range c.Slice(z) {
			out = append(out, conv(u))
		}
	}
	return out
}

// ReadPlanes reads the primary image of a FITS stream as unsigned 16-bit
// planes, for flatfield and background references.  8 and 16 bit images are
// accepted; a 2D image is one plane.
func ReadPlanes(r io.Reader) (w, h, d int, planes [][]uint16, err error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return 0, 0, 0, nil, errors.Wrap(err, "opening fits stream")
	}
	defer f.Close()
	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return 0, 0, 0, nil, errors.New("primary HDU is not an image")
	}
	hdr := img.Header()
	axes := hdr.Axes()
	switch len(axes) {
	case 2:
		w, h, d = axes[0], axes[1], 1
	case 3:
		w, h, d = axes[0], axes[1], axes[2]
	default:
		return 0, 0, 0, nil, errors.Errorf("expected a 2 or 3 axis image, got %d axes", len(axes))
	}
	n := w * h
	flat := make([]uint16, n*d)
	switch hdr.Bitpix() {
	case 8:
		buf := make([]byte, n*d)
		if err = img.Read(&buf); err != nil {
			return 0, 0, 0, nil, errors.Wrap(err, "reading fits data")
		}
		for i, b := range buf {
			flat[i] = uint16(b)
		}
	case 16:
		buf := make([]int16, n*d)
		if err = img.Read(&buf); err != nil {
			return 0, 0, 0, nil, errors.Wrap(err, "reading fits data")
		}
		var zero int32
		if card := hdr.Get("BZERO"); card != nil {
			if z, ok := cardFloat(card.Value); ok {
				zero = int32(z)
			}
		}
		for i, v := range buf {
			u := int32(v) + zero
			if u < 0 {
				u = 0
			}
			flat[i] = uint16(u)
		}
	default:
		return 0, 0, 0, nil, errors.Errorf("unsupported BITPIX %d", hdr.Bitpix())
	}
	planes = make([][]uint16, d)
	for z := range planes {
		planes[z] = flat[z*n : (z+1)*n : (z+1)*n]
	}
	return w, h, d, planes, nil
}

func cardFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
