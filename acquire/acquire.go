/*Package acquire runs the capture loop that feeds frames from a camera into a
cube assembler.

The loop has a single blocking point, FrameSource.ReadFrame, bounded by
Options.ReadTimeout.  Frame misses and sink failures are reported through
OnError and never end the loop; only a closed source, Stop, or a cancelled
context do.
*/
package acquire

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/mscam/camera"
)

const (
	// DefaultReadTimeout bounds each ReadFrame call
	DefaultReadTimeout = time.Second

	// DefaultFPSInterval is the minimum spacing of FPS reports
	DefaultFPSInterval = 500 * time.Millisecond
)

// ErrRunning is returned when Run is called on a loop that has already run
var ErrRunning = errors.New("acquisition loop already started")

// FrameSink consumes frames, e.g. a datacube.Assembler
type FrameSink interface {
	Add(camera.Frame) error
}

// CaptureError describes a per-frame failure
type CaptureError struct {
	// Kind is one of the camera.Kind names
	Kind string
	Err  error
}

func (e CaptureError) Error() string {
	return e.Kind + ": " + e.Err.Error()
}

func (e CaptureError) Unwrap() error {
	return e.Err
}

// Options configure a Loop.  Zero values take the defaults.
type Options struct {
	ReadTimeout time.Duration
	FPSInterval time.Duration

	Clock  clock.Clock
	Logger *zap.SugaredLogger

	// OnFPS receives the smoothed frame rate, no more often than FPSInterval
	OnFPS func(float64)

	// OnError receives every frame miss or sink failure
	OnError func(CaptureError)
}

// Stats are counters kept by a Loop
type Stats struct {
	Frames     uint64  `json:"frames"`
	Timeouts   uint64  `json:"timeouts"`
	Incomplete uint64  `json:"incomplete"`
	Errors     uint64  `json:"errors"`
	FPS        float64 `json:"fps"`
}

// Loop reads frames from a FrameSource until stopped
type Loop struct {
	src  camera.FrameSource
	sink FrameSink
	opts Options
	log  *zap.SugaredLogger
	clk  clock.Clock

	limiter *rate.Limiter
	fps     FPS

	started atomic.Bool
	stop    atomic.Bool
	done    chan struct{}
	err     error

	frames, timeouts, incomplete, errs atomic.Uint64
	fpsBits                            atomic.Uint64
}

// New creates a loop
func New(src camera.FrameSource, sink FrameSink, opts Options) *Loop {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.FPSInterval <= 0 {
		opts.FPSInterval = DefaultFPSInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Loop{
		src:     src,
		sink:    sink,
		opts:    opts,
		log:     opts.Logger,
		clk:     opts.Clock,
		limiter: rate.NewLimiter(rate.Every(opts.FPSInterval), 1),
		done:    make(chan struct{}),
	}
}

// Run captures on the calling goroutine until Stop is called, ctx is done,
// or the source is closed.  A loop runs once.
func (l *Loop) Run(ctx context.Context) (err error) {
	if !l.started.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer func() {
		l.err = err
		close(l.done)
	}()

	// the first report waits a full interval
	l.limiter.AllowN(l.clk.Now(), 1)
	l.log.Infow("acquisition started", "timeout", l.opts.ReadTimeout)
	for {
		if l.stop.Load() || ctx.Err() != nil {
			l.log.Infow("acquisition stopped", "frames", l.frames.Load())
			return nil
		}
		if err := l.step(); err != nil {
			l.log.Errorw("acquisition ended", "err", err)
			return err
		}
	}
}

// step reads and forwards one frame.  Only a closed source is fatal.
func (l *Loop) step() error {
	f, err := l.src.ReadFrame(l.opts.ReadTimeout)
	if err != nil {
		switch {
		case errors.Is(err, camera.ErrClosed):
			return errors.Wrap(err, "acquisition ended")
		case errors.Is(err, camera.ErrFrameTimeout):
			l.timeouts.Add(1)
			l.log.Warnw("frame missed", "err", err)
		case errors.Is(err, camera.ErrFrameIncomplete):
			l.incomplete.Add(1)
			l.log.Warnw("frame incomplete", "err", err)
		default:
			l.errs.Add(1)
			l.log.Errorw("frame read failed", "err", err)
		}
		l.report(err)
		return nil
	}

	l.frames.Add(1)
	now := l.clk.Now()
	fps := l.fps.Tick(now)
	l.fpsBits.Store(floatBits(fps))
	if l.limiter.AllowN(now, 1) && l.opts.OnFPS != nil {
		l.opts.OnFPS(fps)
	}

	if err := l.sink.Add(f); err != nil {
		l.errs.Add(1)
		l.log.Errorw("frame not accepted", "err", err)
		l.report(err)
	}
	return nil
}

func (l *Loop) report(err error) {
	if l.opts.OnError != nil {
		l.opts.OnError(CaptureError{Kind: camera.Kind(err), Err: err})
	}
}

// Start runs the loop on a new goroutine
func (l *Loop) Start(ctx context.Context) {
	go func() {
		if err := l.Run(ctx); errors.Is(err, ErrRunning) {
			l.log.Errorw("start ignored", "err", err)
		}
	}()
}

// Stop asks the loop to exit after the current read
func (l *Loop) Stop() {
	l.stop.Store(true)
}

// Wait blocks until the loop has exited and returns its error
func (l *Loop) Wait() error {
	<-l.done
	return l.err
}

// Stats returns a snapshot of the loop's counters
func (l *Loop) Stats() Stats {
	return Stats{
		Frames:     l.frames.Load(),
		Timeouts:   l.timeouts.Load(),
		Incomplete: l.incomplete.Load(),
		Errors:     l.errs.Load(),
		FPS:        floatFrom(l.fpsBits.Load()),
	}
}
