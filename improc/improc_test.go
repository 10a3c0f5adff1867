package improc

import (
	"fmt"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/mscam/datacube"
)

func ExampleCorrect8() {
	out := make([]uint16, 1)
	Correct8(out, []uint8{200}, []uint8{50}, []uint16{2 * UnityGain})
	fmt.Println(out[0])
	// Output: 300
}

func ExampleOutputBits() {
	fmt.Println(OutputBits(255, 4), OutputBits(255, 20), OutputBits(65535, 2), OutputBits(65535, 300))
	// Output: 16 32 32 64
}

func TestCorrectZeroWhenSampleIsBackground(t *testing.T) {
	s8 := []uint8{0, 17, 255}
	out8 := make([]uint16, 3)
	Correct8(out8, s8, s8, []uint16{65535, 1, UnityGain})
	assert.Equal(t, []uint16{0, 0, 0}, out8)

	s16 := []uint16{0, 4000, 65535}
	out16 := make([]uint32, 3)
	Correct16(out16, s16, s16, []uint16{65535, 9, UnityGain})
	assert.Equal(t, []uint32{0, 0, 0}, out16)
}

func TestCorrectSaturates(t *testing.T) {
	out := make([]uint16, 2)
	Correct8(out, []uint8{10, 0}, []uint8{11, 255}, []uint16{UnityGain, UnityGain})
	assert.Equal(t, []uint16{0, 0}, out)
}

func TestCorrectUnityIsIdentity(t *testing.T) {
	s8 := []uint8{0, 1, 128, 255}
	out8 := make([]uint16, 4)
	Correct8(out8, s8, make([]uint8, 4), UnityFlat(4))
	assert.Equal(t, []uint16{0, 1, 128, 255}, out8)

	s16 := []uint16{0, 1, 40000, 65535}
	out16 := make([]uint32, 4)
	Correct16(out16, s16, make([]uint16, 4), UnityFlat(4))
	assert.Equal(t, []uint32{0, 1, 40000, 65535}, out16)
}

func TestCorrectExtremes(t *testing.T) {
	out8 := make([]uint16, 1)
	Correct8(out8, []uint8{255}, []uint8{0}, []uint16{65535})
	assert.Equal(t, uint16(255*65535/256), out8[0])
	assert.Equal(t, uint64(out8[0]), CorrectedMax(8, 65535))

	out16 := make([]uint32, 1)
	Correct16(out16, []uint16{65535}, []uint16{0}, []uint16{65535})
	assert.Equal(t, uint32(65535*65535/256), out16[0])

	raw := make([]uint32, 1)
	CorrectRaw(raw, []uint8{200}, []uint8{50}, []uint16{512})
	assert.Equal(t, uint32(76800), raw[0])
}

func TestCorrectNarrowOutputSaturates(t *testing.T) {
	out := make([]uint16, 3)
	Correct(out, []uint16{65535, 1000, 300}, []uint16{0, 0, 0}, []uint16{512, 512, UnityGain})
	assert.Equal(t, []uint16{65535, 2000, 300}, out)
}

func TestMaxGain(t *testing.T) {
	assert.Equal(t, uint16(900), MaxGain([][]uint16{{1, 2}, {900, 3}}))
}

func TestOutputBits(t *testing.T) {
	tests := []struct {
		max  uint64
		f    int
		want int
	}{
		{255, 1, 16},
		{255, 16, 16}, // 65280
		{255, 17, 32},
		{65535, 1, 16},
		{65535, 2, 32},
		{65279, 256, 32},
		{65535, 257, 64},
		{math.MaxUint64, 2, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputBits(tt.max, tt.f), "max %d f %d", tt.max, tt.f)
	}
}

func TestBinnedSizeFloors(t *testing.T) {
	w, h := BinnedSize(720, 540, 7)
	assert.Equal(t, 102, w)
	assert.Equal(t, 77, h)
}

func TestBinConstant(t *testing.T) {
	const w, h, v = 41, 23, 200
	src := make([]uint8, w*h)
	for i := range src {
		src[i] = v
	}
	for _, f := range []int{1, 2, 3, 4, 5, 7, 10} {
		ow, oh := BinnedSize(w, h, f)
		dst := make([]uint32, ow*oh)
		Bin(dst, nil, src, w, h, f)
		for i, got := range dst {
			require.Equal(t, uint32(f*f*v), got, "factor %d pixel %d", f, i)
		}
	}
}

func TestBinIdentity(t *testing.T) {
	src := []uint16{1, 2, 3, 4, 5, 6}
	dst := make([]uint16, 6)
	Bin(dst, nil, src, 3, 2, 1)
	assert.Equal(t, src, dst)
}

func TestBinKnownValues(t *testing.T) {
	// 5x3 input, factor 2 keeps a 2x1 output and drops the last column and row
	src := []uint8{
		1, 2, 3, 4, 100,
		5, 6, 7, 8, 100,
		100, 100, 100, 100, 100,
	}
	dst := make([]uint16, 2)
	BinGeneric(dst, make([]uint16, 5), src, 5, 3, 2)
	assert.Equal(t, []uint16{14, 22}, dst)
}

func TestFastPathsMatchGeneric(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const w, h = 123, 87
	src := make([]uint16, w*h)
	for i := range src {
		src[i] = uint16(rng.Intn(65536))
	}
	for _, f := range FastFactors {
		ow, oh := BinnedSize(w, h, f)
		want := make([]uint32, ow*oh)
		BinGeneric(want, make([]uint32, oh*w), src, w, h, f)
		got := make([]uint32, ow*oh)
		k, ok := fastPath[uint16, uint32](f)
		require.True(t, ok, "factor %d", f)
		k(got, make([]uint32, oh*w), src, w, h)
		require.Equal(t, want, got, "factor %d", f)
	}
	_, ok := fastPath[uint16, uint32](7)
	assert.False(t, ok)
}

func TestReduceSelectsWidth(t *testing.T) {
	c := datacube.New[uint16](8, 6, 2)
	for z := 0; z < 2; z++ {
		for i := range c.Slice(z) {
			c.Slice(z)[i] = 1000
		}
	}
	c.Seq = 9
	v, err := Reduce(c, 2, 65535)
	require.NoError(t, err)
	out, ok := v.(*datacube.Cube[uint32])
	require.True(t, ok, "got %T", v)
	w, h, d := out.Dims()
	assert.Equal(t, [3]int{4, 3, 2}, [3]int{w, h, d})
	assert.Equal(t, 4000.0, out.At(3, 2, 1))
	assert.Equal(t, 18, out.Bits())
	assert.Equal(t, uint64(9), out.Seq)

	v, err = Reduce(c, 2, 1000)
	require.NoError(t, err)
	_, ok = v.(*datacube.Cube[uint16])
	assert.True(t, ok, "got %T", v)

	_, err = Reduce(c, 9, 65535)
	assert.Error(t, err)
	_, err = Reduce(c, 0, 65535)
	assert.Error(t, err)
}

func planes(v ...float32) [][]float32 {
	return [][]float32{v}
}

func TestComputeAlpha(t *testing.T) {
	a := ComputeAlpha(50, 5)
	assert.InDelta(t, 0.4559, a, 1e-3)
	assert.True(t, ComputeAlpha(50, 1) < a)
}

func TestHighpassRejectsDC(t *testing.T) {
	h := NewHighpass(50, 5)
	out := planes(0)
	for i := 0; i < 200; i++ {
		h.Apply(out, planes(100))
	}
	assert.InDelta(t, 0, out[0][0], 1e-3)
}

func TestRunningSum(t *testing.T) {
	r := NewRunningSum(2)
	out := planes(0)
	r.Apply(out, planes(10))
	assert.Equal(t, float32(5), out[0][0])
	r.Apply(out, planes(10))
	assert.Equal(t, float32(0), out[0][0])
	assert.Equal(t, []float32{10}, r.Lowpass(0))
	r.Apply(out, planes(30))
	// window is {10, 30}
	assert.Equal(t, float32(10), out[0][0])
}

func TestEqualizerUnityGainsDelaysSignal(t *testing.T) {
	e := NewEqualizer(1, 1, 1, 2, 10, 50)
	in := []float32{3, 9, 4, 17, 2, 8, 11}
	out := planes(0)
	for i, x := range in {
		e.Apply(out, planes(x))
		var want float32
		if i >= 3 {
			want = in[i-3]
		}
		assert.InDelta(t, want, out[0][0], 1e-4, "step %d", i)
	}
}

func TestDisplayTransform(t *testing.T) {
	assert.Equal(t, float32(8), DisplayTransform(-4))
	assert.Equal(t, float32(0), DisplayTransform(0))
}

func TestLetterbox(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	out, f, l, top := Letterbox(img, 40, 40, true)
	assert.Equal(t, 0.4, f)
	assert.Equal(t, 0, l)
	assert.Equal(t, 10, top)
	assert.Equal(t, image.Rect(0, 0, 40, 40), out.Bounds())

	out, _, l, top = Letterbox(img, 40, 40, false)
	assert.Equal(t, image.Rect(0, 0, 40, 20), out.Bounds())
	assert.Zero(t, l+top)
}
