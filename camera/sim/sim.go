// Package sim provides a simulated illuminated multi-channel camera.
//
// The simulation cycles through a fixed list of illumination levels, one per
// frame, the way the instrument's light source steps through its LEDs.  It is
// registered as device kind "sim".
package sim

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nasa-jpl/mscam/camera"
)

// Kind is the registry name of the simulator
const Kind = "sim"

const (
	minExposure = 10.0
	maxExposure = 1e6
	maxFPS      = 1000.0
)

func init() {
	camera.Register(Kind, func(p camera.Params, logger *zap.SugaredLogger) (camera.FrameSource, error) {
		return Open(p, DefaultOptions(), logger)
	})
}

// Options controls the synthetic scene
type Options struct {
	// Levels is the mean level of each illumination channel, in frame order
	Levels []uint16

	// Noise adds a deterministic pattern of amplitude 0..Noise to each frame
	Noise int

	// MissEvery makes every Nth read time out, 0 disables
	MissEvery int

	// IncompleteEvery makes every Nth read report an incomplete frame, 0 disables
	IncompleteEvery int

	// Clock paces frames at the configured fps.  Nil uses the wall clock
	Clock clock.Clock
}

// DefaultOptions gives fourteen channels with channel zero dark
func DefaultOptions() Options {
	lv := make([]uint16, 14)
	for i := range lv {
		lv[i] = uint16(2 + 12*i)
	}
	return Options{Levels: lv, Noise: 3}
}

// Camera is a simulated FrameSource
type Camera struct {
	mu sync.Mutex

	opts   Options
	clk    clock.Clock
	log    *zap.SugaredLogger
	width  int
	height int

	params map[string]interface{}
	reads  int
	frame  int
	next   time.Time
	closed bool
}

// Open creates a simulated camera with the resolution of p
func Open(p camera.Params, opts Options, logger *zap.SugaredLogger) (*Camera, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, errors.Wrapf(camera.ErrDeviceUnavailable, "invalid resolution %dx%d", p.Width, p.Height)
	}
	if len(opts.Levels) == 0 {
		return nil, errors.Wrap(camera.ErrDeviceUnavailable, "no illumination levels")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	bits := p.BitDepth
	if bits == 0 {
		bits = 8
	}
	c := &Camera{
		opts:   opts,
		clk:    clk,
		log:    logger,
		width:  p.Width,
		height: p.Height,
		params: map[string]interface{}{
			camera.ParamWidth:        int64(p.Width),
			camera.ParamHeight:       int64(p.Height),
			camera.ParamADC:          int64(bits),
			camera.ParamFPS:          0.0,
			camera.ParamExposure:     1000.0,
			camera.ParamAutoExposure: false,
			camera.ParamBinning:      int64(1),
			camera.ParamOffsetX:      int64(0),
			camera.ParamOffsetY:      int64(0),
			camera.ParamTriggerIn:    int64(-1),
			camera.ParamTriggerOut:   int64(-1),
			camera.ParamTTLInvert:    false,
		},
	}
	if err := camera.Configure(c, p.Settings()); err != nil {
		logger.Warnw("simulator ignored settings", "err", err)
	}
	logger.Infow("simulated camera open", "width", p.Width, "height", p.Height, "bits", bits, "channels", len(opts.Levels))
	return c, nil
}

// ReadFrame produces the next channel's frame
func (c *Camera) ReadFrame(timeout time.Duration) (camera.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return camera.Frame{}, camera.ErrClosed
	}
	if fps := c.params[camera.ParamFPS].(float64); fps > 0 {
		now := c.clk.Now()
		if c.next.IsZero() {
			c.next = now
		}
		wait := c.next.Sub(now)
		if wait > timeout {
			c.clk.Sleep(timeout)
			return camera.Frame{}, errors.Wrapf(camera.ErrFrameTimeout, "next frame in %v", wait)
		}
		if wait > 0 {
			c.clk.Sleep(wait)
		}
		c.next = c.next.Add(time.Duration(float64(time.Second) / fps))
	}

	c.reads++
	ch := c.frame % len(c.opts.Levels)
	c.frame++
	if c.opts.MissEvery > 0 && c.reads%c.opts.MissEvery == 0 {
		return camera.Frame{}, errors.Wrapf(camera.ErrFrameTimeout, "trigger missed on channel %d", ch)
	}
	if c.opts.IncompleteEvery > 0 && c.reads%c.opts.IncompleteEvery == 0 {
		return camera.Frame{}, errors.Wrapf(camera.ErrFrameIncomplete, "channel %d dropped packets", ch)
	}
	return c.render(ch), nil
}

func (c *Camera) render(ch int) camera.Frame {
	bits := int(c.params[camera.ParamADC].(int64))
	level := int(c.opts.Levels[ch])
	n := c.width * c.height
	f := camera.Frame{Width: c.width, Height: c.height, BitDepth: bits, Timestamp: c.clk.Now()}
	if bits == 8 {
		f.Pix = make([]byte, n)
	} else {
		f.Pix = make([]byte, 2*n)
	}
	i := 0
	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			v := level
			if c.opts.Noise > 0 {
				v += (x*7 + y*13 + c.frame) % (c.opts.Noise + 1)
			}
			if bits == 8 {
				if v > 255 {
					v = 255
				}
				f.Pix[i] = byte(v)
			} else {
				if v > 65535 {
					v = 65535
				}
				binary.LittleEndian.PutUint16(f.Pix[2*i:], uint16(v))
			}
			i++
		}
	}
	return f
}

// SetParameter applies a parameter with the sensor's limits
func (c *Camera) SetParameter(name string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, ok := c.params[name]
	if !ok {
		return &camera.ErrParameterRejected{Name: name, Value: value, Reason: "unknown parameter"}
	}
	var typ string
	switch cur.(type) {
	case int64:
		typ = "int"
	case float64:
		typ = "float"
	case bool:
		typ = "bool"
	}
	v, ok := camera.Coerce(typ, value)
	if !ok {
		return &camera.ErrParameterRejected{Name: name, Value: value, Reason: "expected " + typ}
	}
	if reason := c.check(name, v); reason != "" {
		c.log.Errorw("parameter rejected", "name", name, "value", value, "reason", reason)
		return &camera.ErrParameterRejected{Name: name, Value: value, Reason: reason}
	}
	c.params[name] = v
	if name == camera.ParamFPS {
		c.next = time.Time{}
	}
	return nil
}

func (c *Camera) check(name string, v interface{}) string {
	switch name {
	case camera.ParamWidth, camera.ParamHeight:
		if v.(int64) != c.params[name].(int64) {
			return "resolution is fixed while open"
		}
	case camera.ParamADC:
		if b := v.(int64); b != 8 && b != 16 {
			return "adc must be 8 or 16"
		}
	case camera.ParamExposure:
		if e := v.(float64); e < minExposure || e > maxExposure {
			return "exposure out of range"
		}
	case camera.ParamFPS:
		if f := v.(float64); f < 0 || f > maxFPS {
			return "fps out of range"
		}
	case camera.ParamBinning:
		if v.(int64) < 1 {
			return "binning must be positive"
		}
	}
	return ""
}

// GetParameter returns a parameter's current value
func (c *Camera) GetParameter(name string) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.params[name]
	if !ok {
		return nil, &camera.ErrParameterRejected{Name: name, Reason: "unknown parameter"}
	}
	return v, nil
}

// Close closes the simulator
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
