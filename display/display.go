// Package display tiles the channels of a cube into a single labelled image
package display

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/nasa-jpl/mscam/datacube"
	"github.com/nasa-jpl/mscam/improc"
)

// Grid is the near-square arrangement used for n tiles
func Grid(n int) (cols, rows int) {
	if n <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = (n + cols - 1) / cols
	return cols, rows
}

// Compose arranges the slices listed in indices row by row in a Grid, scales
// the grid into the top left of a canvasW×canvasH image without distortion,
// and writes names[index] at the top left of each tile.  names is indexed by
// channel; missing or empty names are not drawn.  Unused grid cells stay black.
func Compose(v datacube.Volume, indices []int, names []string, canvasW, canvasH int) (*image.RGBA, error) {
	if canvasW <= 0 || canvasH <= 0 {
		return nil, errors.Errorf("invalid canvas %dx%d", canvasW, canvasH)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, canvasW, canvasH))
	draw.Draw(canvas, canvas.Rect, image.Black, image.Point{}, draw.Src)
	if len(indices) == 0 {
		return canvas, nil
	}
	w, h, d := v.Dims()
	for _, idx := range indices {
		if idx < 0 || idx >= d {
			return nil, errors.Errorf("channel %d outside cube of depth %d", idx, d)
		}
	}

	cols, rows := Grid(len(indices))
	grid := image.NewGray(image.Rect(0, 0, cols*w, rows*h))
	scale := toByte(v, indices)
	for n, idx := range indices {
		ox, oy := (n%cols)*w, (n/cols)*h
		for y := 0; y < h; y++ {
			row := grid.Pix[(oy+y)*grid.Stride+ox:]
			for x := 0; x < w; x++ {
				row[x] = scale(v.At(x, y, idx))
			}
		}
	}

	fitted, factor, _, _ := improc.Letterbox(grid, canvasW, canvasH, false)
	draw.Draw(canvas, fitted.Bounds(), fitted, image.Point{}, draw.Src)

	tw, th := float64(w)*factor, float64(h)*factor
	for n, idx := range indices {
		if idx >= len(names) || names[idx] == "" {
			continue
		}
		x := int(float64(n%cols) * tw)
		y := int(float64(n/cols) * th)
		label(canvas, x, y, names[idx])
	}
	return canvas, nil
}

// toByte maps element values onto 0-255.  Integer volumes are scaled by
// their bit depth, float volumes by the range of the selected slices.
func toByte(v datacube.Volume, indices []int) func(float64) uint8 {
	lo, hi := 0.0, 255.0
	if b := v.Bits(); b > 0 {
		hi = math.Exp2(float64(b)) - 1
	} else {
		w, h, _ := v.Dims()
		lo, hi = math.Inf(1), math.Inf(-1)
		for _, z := range indices {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					f := v.At(x, y, z)
					lo = math.Min(lo, f)
					hi = math.Max(hi, f)
				}
			}
		}
	}
	span := hi - lo
	if span <= 0 {
		span = 1
	}
	return func(f float64) uint8 {
		s := (f - lo) * 255 / span
		switch {
		case s <= 0:
			return 0
		case s >= 255:
			return 255
		}
		return uint8(s + 0.5)
	}
}

func label(dst *image.RGBA, x, y int, text string) {
	face := basicfont.Face7x13
	dr := &font.Drawer{Dst: dst, Src: image.NewUniform(color.Black), Face: face}
	m := face.Metrics()
	tw := dr.MeasureString(text).Ceil()
	box := image.Rect(x, y, x+tw+4, y+m.Height.Ceil()+2)
	draw.Draw(dst, box, image.White, image.Point{}, draw.Src)
	dr.Dot = fixed.P(x+2, y+1+m.Ascent.Ceil())
	dr.DrawString(text)
}
