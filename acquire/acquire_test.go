package acquire

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nasa-jpl/mscam/camera"
	"github.com/nasa-jpl/mscam/camera/sim"
	"github.com/nasa-jpl/mscam/datacube"
)

// scripted plays back a list of read results, then reports closed.  Each read
// advances the mock clock by step.
type scripted struct {
	clk  *clock.Mock
	step time.Duration

	mu      sync.Mutex
	results []error
	forever bool
}

func (s *scripted) ReadFrame(time.Duration) (camera.Frame, error) {
	s.clk.Add(s.step)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		if s.forever {
			return camera.Frame{Width: 1, Height: 1, BitDepth: 8, Pix: []byte{1}}, nil
		}
		return camera.Frame{}, camera.ErrClosed
	}
	err := s.results[0]
	s.results = s.results[1:]
	if err != nil {
		return camera.Frame{}, err
	}
	return camera.Frame{Width: 1, Height: 1, BitDepth: 8, Pix: []byte{1}}, nil
}

func (s *scripted) SetParameter(string, interface{}) error { return nil }
func (s *scripted) GetParameter(string) (interface{}, error) { return nil, nil }
func (s *scripted) Close() error { return nil }

type recorder struct {
	mu    sync.Mutex
	n     int
	fail  error
	onAdd func(n int)
}

func (r *recorder) Add(camera.Frame) error {
	r.mu.Lock()
	r.n++
	n := r.n
	r.mu.Unlock()
	if r.onAdd != nil {
		r.onAdd(n)
	}
	return r.fail
}

func TestFPSConverges(t *testing.T) {
	start := time.Unix(100, 0)
	for _, seed := range []float64{0, 37, 5000} {
		f := FPS{Value: seed}
		for i := 0; i < 300; i++ {
			f.Tick(start.Add(time.Duration(i) * 10 * time.Millisecond))
		}
		assert.InDelta(t, 100, f.Value, 1e-6, "seed %v", seed)
	}
}

func TestFPSIgnoresStalledClock(t *testing.T) {
	now := time.Unix(5, 0)
	f := FPS{Value: 20}
	f.Tick(now)
	f.Tick(now)
	assert.Equal(t, 20.0, f.Value)
}

func TestLoopReportsMissesAndContinues(t *testing.T) {
	clk := clock.NewMock()
	src := &scripted{clk: clk, step: time.Millisecond, results: []error{
		nil,
		errors.Wrap(camera.ErrFrameTimeout, "trigger"),
		errors.Wrap(camera.ErrFrameIncomplete, "packets"),
		nil,
		errors.New("usb gremlin"),
		nil,
	}}
	sink := &recorder{}
	var kinds []string
	l := New(src, sink, Options{
		Clock:   clk,
		Logger:  zaptest.NewLogger(t).Sugar(),
		OnError: func(e CaptureError) { kinds = append(kinds, e.Kind) },
	})
	err := l.Run(context.Background())
	assert.ErrorIs(t, err, camera.ErrClosed)
	assert.ErrorIs(t, l.Wait(), camera.ErrClosed)

	assert.Equal(t, 3, sink.n)
	assert.Equal(t, []string{"FrameTimeout", "FrameIncomplete", "Unknown"}, kinds)
	st := l.Stats()
	assert.Equal(t, uint64(3), st.Frames)
	assert.Equal(t, uint64(1), st.Timeouts)
	assert.Equal(t, uint64(1), st.Incomplete)
	assert.Equal(t, uint64(1), st.Errors)

	assert.ErrorIs(t, l.Run(context.Background()), ErrRunning)
}

func TestLoopSinkFailureIsReported(t *testing.T) {
	clk := clock.NewMock()
	src := &scripted{clk: clk, step: time.Millisecond, results: []error{nil, nil}}
	sink := &recorder{fail: errors.Wrap(camera.ErrBufferOverrun, "wrong shape")}
	var got []CaptureError
	l := New(src, sink, Options{Clock: clk, OnError: func(e CaptureError) { got = append(got, e) }})
	_ = l.Run(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "BufferOverrun", got[0].Kind)
	assert.ErrorIs(t, got[1], camera.ErrBufferOverrun)
}

func TestLoopFPSRateLimited(t *testing.T) {
	clk := clock.NewMock()
	results := make([]error, 105)
	src := &scripted{clk: clk, step: 10 * time.Millisecond, results: results}
	var reports []float64
	l := New(src, &recorder{}, Options{Clock: clk, OnFPS: func(f float64) { reports = append(reports, f) }})
	_ = l.Run(context.Background())
	require.Len(t, reports, 2, "one report per 500ms over ~1s")
	assert.Greater(t, reports[1], reports[0])
	assert.InDelta(t, 100, l.Stats().FPS, 1)
}

func TestLoopStop(t *testing.T) {
	clk := clock.NewMock()
	src := &scripted{clk: clk, forever: true}
	var l *Loop
	sink := &recorder{onAdd: func(n int) {
		if n == 5 {
			l.Stop()
		}
	}}
	l = New(src, sink, Options{Clock: clk})
	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 5, sink.n)
}

func TestLoopCancel(t *testing.T) {
	clk := clock.NewMock()
	src := &scripted{clk: clk, forever: true}
	ctx, cancel := context.WithCancel(context.Background())
	sink := &recorder{onAdd: func(n int) {
		if n == 3 {
			cancel()
		}
	}}
	l := New(src, sink, Options{Clock: clk})
	l.Start(ctx)
	assert.NoError(t, l.Wait())
	assert.Equal(t, 3, sink.n)
}

func TestLoopFeedsAssembler(t *testing.T) {
	logger := zaptest.NewLogger(t).Sugar()
	clk := clock.NewMock()
	opts := sim.DefaultOptions()
	opts.Clock = clk
	opts.Noise = 0
	p := camera.DefaultParams()
	p.Width, p.Height, p.FPS = 8, 4, 0
	src, err := sim.Open(p, opts, logger)
	require.NoError(t, err)
	defer src.Close()

	depth := len(opts.Levels)
	asm := datacube.NewAssembler[uint8](2, logger)
	require.NoError(t, asm.Configure(p.Width, p.Height, depth))

	l := New(src, asm, Options{Clock: clk, Logger: logger})
	l.Start(context.Background())

	var seqs []uint64
	for c := range asm.Ready() {
		seqs = append(seqs, c.Seq)
		for z := 0; z < depth; z++ {
			assert.Equal(t, float64(opts.Levels[z]), c.At(3, 2, z), "cube %d slice %d", c.Seq, z)
		}
		c.Release()
		if len(seqs) == 3 {
			l.Stop()
			break
		}
	}
	require.NoError(t, l.Wait())
	assert.Equal(t, []uint64{0, 1, 2}, seqs[:3])
}
