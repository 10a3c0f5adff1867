package display

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/mscam/datacube"
)

func TestGrid(t *testing.T) {
	tests := []struct{ n, cols, rows int }{
		{0, 0, 0},
		{1, 1, 1},
		{2, 2, 1},
		{3, 2, 2},
		{4, 2, 2},
		{5, 3, 2},
		{10, 4, 3},
		{14, 4, 4},
	}
	for _, tt := range tests {
		c, r := Grid(tt.n)
		assert.Equal(t, tt.cols, c, "n=%d", tt.n)
		assert.Equal(t, tt.rows, r, "n=%d", tt.n)
	}
}

func cube(levels ...uint8) *datacube.Cube[uint8] {
	c := datacube.New[uint8](20, 10, len(levels))
	c.BitDepth = 8
	for z, v := range levels {
		for i := range c.Slice(z) {
			c.Slice(z)[i] = v
		}
	}
	return c
}

func gray(img *image.RGBA, x, y int) uint8 {
	r, _, _, _ := img.At(x, y).RGBA()
	return uint8(r >> 8)
}

func TestComposeLayout(t *testing.T) {
	c := cube(0, 100, 200)
	img, err := Compose(c, []int{1, 2, 1}, nil, 40, 40)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 40), img.Bounds())

	// 2x2 grid of 20x10 tiles is 40x20, anchored at the top
	assert.Equal(t, uint8(100), gray(img, 5, 2))
	assert.Equal(t, uint8(200), gray(img, 35, 2))
	assert.Equal(t, uint8(100), gray(img, 5, 17))
	assert.Equal(t, uint8(0), gray(img, 35, 17), "unfilled cell")
	assert.Equal(t, uint8(0), gray(img, 20, 30), "below the grid")
}

func TestComposeLabels(t *testing.T) {
	c := cube(0, 0)
	names := []string{"dark", "365nm"}
	img, err := Compose(c, []int{0, 1}, names, 200, 50)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(101, 1))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(90, 40))
}

func TestComposeSixteenBitScaling(t *testing.T) {
	c := datacube.New[uint16](4, 4, 1)
	c.BitDepth = 16
	for i := range c.Slice(0) {
		c.Slice(0)[i] = 65535
	}
	img, err := Compose(c, []int{0}, nil, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), gray(img, 2, 2))
}

func TestComposeErrors(t *testing.T) {
	c := cube(1, 2)
	_, err := Compose(c, []int{2}, nil, 10, 10)
	assert.Error(t, err)
	_, err = Compose(c, []int{0}, nil, 0, 10)
	assert.Error(t, err)

	img, err := Compose(c, nil, nil, 8, 8)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), gray(img, 4, 4))
}
