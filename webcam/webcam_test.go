package webcam

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackend(t *testing.T) {
	tests := map[string]string{
		"linux":   "V4L2",
		"darwin":  "AVFoundation",
		"windows": "MediaFoundation",
		"plan9":   "",
	}
	for goos, want := range tests {
		assert.Equal(t, want, Backend(goos), goos)
	}
}

func TestLumaYCbCr(t *testing.T) {
	img := image.NewYCbCr(image.Rect(0, 0, 4, 2), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = uint8(10 * i)
	}
	f := Luma(img)
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 2, f.Height)
	assert.Equal(t, 8, f.BitDepth)
	assert.Equal(t, []byte{0, 10, 20, 30, 40, 50, 60, 70}, f.Pix)
}

func TestLumaSubImage(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 3))
	for i := range g.Pix {
		g.Pix[i] = uint8(i)
	}
	sub := g.SubImage(image.Rect(1, 1, 3, 3))
	f := Luma(sub)
	assert.Equal(t, []byte{4, 5, 7, 8}, f.Pix)
}

func TestLumaRGBA(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.White)
	img.Set(1, 0, color.Black)
	f := Luma(img)
	assert.Equal(t, []byte{255, 0}, f.Pix)
	assert.True(t, f.Valid())
}
