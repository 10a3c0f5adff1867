package improc

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Letterbox scales img to fit within w×h without changing its aspect ratio.
// With pad set the result is exactly w×h with the image centered on black;
// otherwise one side may be shorter than requested.  It returns the scale
// factor and the offset of the image's top left corner in the result.
func Letterbox(img image.Image, w, h int, pad bool) (out image.Image, factor float64, left, top int) {
	b := img.Bounds()
	factor = float64(w) / float64(b.Dx())
	if fy := float64(h) / float64(b.Dy()); fy < factor {
		factor = fy
	}
	dw, dh := int(float64(b.Dx())*factor), int(float64(b.Dy())*factor)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}
	scaled := imaging.Resize(img, dw, dh, imaging.Linear)
	if !pad {
		return scaled, factor, 0, 0
	}
	left = (w - dw) / 2
	top = (h - dh) / 2
	bg := imaging.New(w, h, color.Black)
	return imaging.Paste(bg, scaled, image.Pt(left, top)), factor, left, top
}
