package datacube

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nasa-jpl/mscam/camera"
)

func frame8(w, h int, v byte) camera.Frame {
	pix := make([]byte, w*h)
	for i := range pix {
		pix[i] = v
	}
	return camera.Frame{Width: w, Height: h, BitDepth: 8, Pix: pix, Timestamp: time.Unix(int64(v), 0)}
}

func TestAssemblerEmitsOneCubePerDepthFrames(t *testing.T) {
	const depth, k = 4, 5
	a := NewAssembler[uint8](3, zaptest.NewLogger(t).Sugar())
	require.NoError(t, a.Configure(2, 2, depth))

	var got []*Cube[uint8]
	for i := 0; i < depth*k; i++ {
		require.NoError(t, a.Add(frame8(2, 2, byte(i))))
		select {
		case c := <-a.Ready():
			// copy out before releasing, the buffer is reused afterwards
			cp := New[uint8](2, 2, depth)
			for z := 0; z < depth; z++ {
				copy(cp.Slice(z), c.Slice(z))
			}
			cp.Seq = c.Seq
			got = append(got, cp)
			c.Release()
		default:
		}
	}
	require.Len(t, got, k)
	for n, c := range got {
		assert.Equal(t, uint64(n), c.Seq)
		for z := 0; z < depth; z++ {
			assert.Equal(t, uint8(n*depth+z), c.Slice(z)[0], "cube %d slice %d", n, z)
		}
	}
	assert.Equal(t, 0, a.Cursor())
	st := a.Stats()
	assert.Equal(t, uint64(depth*k), st.Frames)
	assert.Equal(t, uint64(k), st.Published)
	assert.Zero(t, st.Dropped)
}

func TestAssemblerSlowConsumerDropsWithoutCorruption(t *testing.T) {
	a := NewAssembler[uint8](2, nil)
	require.NoError(t, a.Configure(1, 1, 2))

	add := func(vals ...byte) {
		for _, v := range vals {
			require.NoError(t, a.Add(frame8(1, 1, v)))
		}
	}
	add(1, 2)
	held := <-a.Ready()

	// the consumer is still holding the first cube: no free buffer remains
	add(3, 4)
	add(5, 6)
	assert.Equal(t, []uint8{1}, held.Slice(0))
	assert.Equal(t, []uint8{2}, held.Slice(1))
	assert.Equal(t, uint64(2), a.Stats().Dropped)
	assert.Len(t, a.Ready(), 0)

	held.Release()
	held.Release()
	add(7, 8)
	next := <-a.Ready()
	assert.Equal(t, []uint8{7}, next.Slice(0))
	assert.Equal(t, []uint8{8}, next.Slice(1))
	assert.NotSame(t, held, next)
}

func TestAssemblerRejectsMismatchedFrames(t *testing.T) {
	a := NewAssembler[uint16](2, nil)
	assert.ErrorIs(t, a.Add(frame8(2, 2, 0)), ErrNotConfigured)
	require.NoError(t, a.Configure(2, 2, 3))

	assert.Error(t, a.Add(frame8(2, 2, 0)), "8-bit frame in 16-bit cube")
	assert.ErrorIs(t, a.Add(frame8(3, 2, 0)), camera.ErrBufferOverrun, "wrong shape")
	assert.Equal(t, 0, a.Cursor())
	assert.Equal(t, uint64(2), a.Stats().Rejected)

	require.NoError(t, a.Add(camera.NewFrame16(2, 2, []uint16{1, 2, 3, 4000}, time.Time{})))
	assert.Equal(t, 1, a.Cursor())
	assert.Error(t, a.Configure(0, 2, 3))
}

func TestAssemblerReconfigureResetsCursor(t *testing.T) {
	a := NewAssembler[uint8](2, nil)
	require.NoError(t, a.Configure(1, 1, 3))
	require.NoError(t, a.Add(frame8(1, 1, 1)))
	require.NoError(t, a.Configure(2, 1, 2))
	assert.Equal(t, 0, a.Cursor())
	require.NoError(t, a.Add(frame8(2, 1, 1)))
	require.NoError(t, a.Add(frame8(2, 1, 2)))
	c := <-a.Ready()
	assert.Equal(t, 2, c.Width)
	assert.Equal(t, 2, c.Depth)

	a.Close()
	_, ok := <-a.Ready()
	assert.False(t, ok)
	assert.Error(t, a.Add(frame8(2, 1, 1)))
}

func TestSortScenario(t *testing.T) {
	// sampled sums 100, 10, 200 in that order
	a := NewAssembler[uint8](2, nil)
	require.NoError(t, a.Configure(10, 1, 3))
	for _, v := range []byte{10, 1, 20} {
		require.NoError(t, a.Add(frame8(10, 1, v)))
	}
	c := <-a.Ready()
	assert.Equal(t, []uint64{100, 10, 200}, Intensity(c, 1, 1))

	bg := Sort(c, 1, 1)
	assert.Equal(t, 1, bg)
	assert.Equal(t, []uint64{10, 200, 100}, Intensity(c, 1, 1))
	assert.Equal(t, time.Unix(1, 0), c.Stamps[0])
	assert.Equal(t, time.Unix(10, 0), c.Stamps[2])
}

func TestSortIsRotationWithStableTies(t *testing.T) {
	tests := []struct {
		levels []uint16
		bg     int
		want   []uint16
	}{
		{[]uint16{5, 3, 3, 9}, 1, []uint16{3, 3, 9, 5}},
		{[]uint16{1, 4, 1}, 0, []uint16{1, 4, 1}},
		{[]uint16{7}, 0, []uint16{7}},
		{[]uint16{9, 8, 7, 6, 5}, 4, []uint16{5, 9, 8, 7, 6}},
	}
	for _, tt := range tests {
		c := New[uint16](3, 2, len(tt.levels))
		for z, v := range tt.levels {
			for i := range c.Slice(z) {
				c.Slice(z)[i] = v
			}
		}
		assert.Equal(t, tt.bg, Sort(c, 1, 1))
		for z, v := range tt.want {
			assert.Equal(t, v, c.Slice(z)[0], "levels %v slice %d", tt.levels, z)
		}
	}
}

func TestIntensitySparse(t *testing.T) {
	c := New[uint8](4, 4, 1)
	for i := range c.Slice(0) {
		c.Slice(0)[i] = uint8(i)
	}
	// rows 0 and 2, columns 0 and 2: 0 + 2 + 8 + 10
	assert.Equal(t, []uint64{20}, Intensity(c, 2, 2))
	assert.Equal(t, Intensity(c, 1, 1), Intensity(c, 0, -3))
}

func TestCubeVolume(t *testing.T) {
	c := New[uint32](2, 3, 2)
	c.BitDepth = 18
	c.Slice(1)[2*2+1] = 70000
	var v Volume = c
	w, h, d := v.Dims()
	assert.Equal(t, [3]int{2, 3, 2}, [3]int{w, h, d})
	assert.Equal(t, 70000.0, v.At(1, 2, 1))
	assert.Equal(t, 18, v.Bits())
	v.Release()
}

func TestReleaseTwiceBeforeReuseKeepsPoolSize(t *testing.T) {
	a := NewAssembler[uint8](2, zaptest.NewLogger(t).Sugar())
	require.NoError(t, a.Configure(2, 2, 1))
	require.NoError(t, a.Add(frame8(2, 2, 1)))
	c := <-a.Ready()
	assert.Len(t, a.free, 0, "one cube is active, the other published")

	c.Release()
	c.Release()
	assert.Len(t, a.free, 1, "the second release is ignored")

	(&Cube[uint8]{}).Release()
}
