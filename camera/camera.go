/*Package camera describes the capture capability consumed by the acquisition core.

FrameSource is the minimal interface every capture device implements, regardless
of whether it is a hardware-triggered scientific camera, a webcam behind the
host operating system's capture layer, or a simulation.  Devices are opened by
kind through a registry so that binaries need only import the driver packages
they care about.

*/
package camera

import (
	"encoding/binary"
	"time"

	"go.uber.org/multierr"
)

// Names of the parameters understood by SetParameter and GetParameter.
// A device may support a subset; unknown names are rejected.
const (
	ParamWidth        = "width"
	ParamHeight       = "height"
	ParamExposure     = "exposure"
	ParamAutoExposure = "autoexposure"
	ParamFPS          = "fps"
	ParamBinning      = "binning"
	ParamOffsetX      = "offset_x"
	ParamOffsetY      = "offset_y"
	ParamADC          = "adc"
	ParamTriggerIn    = "trigin"
	ParamTriggerOut   = "trigout"
	ParamTTLInvert    = "ttlinv"
)

// Frame is a single 2D image from a FrameSource.
type Frame struct {
	// Width and Height are the extent of the frame in pixels
	Width, Height int

	// BitDepth is 8 or 16
	BitDepth int

	// Pix holds the pixels in row-major order.  16-bit samples
	// are stored little-endian, two bytes per pixel.
	Pix []byte

	// Timestamp is the time of capture
	Timestamp time.Time
}

// BytesPerPixel is the number of bytes each pixel occupies in Pix
func (f Frame) BytesPerPixel() int {
	if f.BitDepth > 8 {
		return 2
	}
	return 1
}

// Valid reports if the buffer length agrees with the frame shape
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height*f.BytesPerPixel()
}

// Uint16 decodes a 16-bit frame into a new slice
func (f Frame) Uint16() []uint16 {
	out := make([]uint16, len(f.Pix)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(f.Pix[2*i:])
	}
	return out
}

// NewFrame16 encodes a 16-bit image into a Frame
func NewFrame16(width, height int, pix []uint16, ts time.Time) Frame {
	buf := make([]byte, 2*len(pix))
	for i, v := range pix {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	return Frame{Width: width, Height: height, BitDepth: 16, Pix: buf, Timestamp: ts}
}

// FrameSource is a capture device.
//
// ReadFrame blocks for at most timeout.  Ordinary misses are reported as
// ErrFrameTimeout or ErrFrameIncomplete, so the caller may simply try again.
// Implementations serialize ReadFrame and SetParameter on a single lock
// around the device handle.
type FrameSource interface {
	// Close releases the device.  The source may not be used after Close
	Close() error

	// ReadFrame reads the next frame from the device
	ReadFrame(timeout time.Duration) (Frame, error)

	// SetParameter sets a capture parameter.  A refused value returns an
	// *ErrParameterRejected and leaves the previous value in place
	SetParameter(name string, value interface{}) error

	// GetParameter returns the current value of a capture parameter
	GetParameter(name string) (interface{}, error)
}

// Params are the values a FrameSource is opened with
type Params struct {
	// Index selects among several devices of the same kind
	Index int `koanf:"Index" yaml:"Index"`

	// Width and Height are the requested resolution
	Width  int `koanf:"Width" yaml:"Width"`
	Height int `koanf:"Height" yaml:"Height"`

	// BitDepth is the ADC depth, 8 or 16
	BitDepth int `koanf:"BitDepth" yaml:"BitDepth"`

	// Exposure is the exposure time in microseconds.  Zero or less selects auto exposure
	Exposure float64 `koanf:"Exposure" yaml:"Exposure"`

	// FPS is the target frame rate
	FPS float64 `koanf:"FPS" yaml:"FPS"`

	// Binning is the on-sensor binning factor, if the device supports it
	Binning int `koanf:"Binning" yaml:"Binning"`

	// OffsetX and OffsetY position the readout window on the sensor
	OffsetX int `koanf:"OffsetX" yaml:"OffsetX"`
	OffsetY int `koanf:"OffsetY" yaml:"OffsetY"`

	// TriggerIn and TriggerOut are the hardware lines used for
	// synchronization with the light source, -1 disables
	TriggerIn  int `koanf:"TriggerIn" yaml:"TriggerIn"`
	TriggerOut int `koanf:"TriggerOut" yaml:"TriggerOut"`

	// TriggerInverted flips the TTL polarity
	TriggerInverted bool `koanf:"TriggerInverted" yaml:"TriggerInverted"`
}

// DefaultParams mirrors the instrument's usual operating point
func DefaultParams() Params {
	return Params{
		Width:      720,
		Height:     540,
		BitDepth:   8,
		Exposure:   1750,
		FPS:        500,
		Binning:    1,
		TriggerIn:  -1,
		TriggerOut: 2,
	}
}

// Settings converts the params into the parameter names used by SetParameter.
// Resolution is not included; it is fixed at open time.
func (p Params) Settings() map[string]interface{} {
	m := map[string]interface{}{
		ParamFPS:          p.FPS,
		ParamAutoExposure: p.Exposure <= 0,
		ParamOffsetX:      p.OffsetX,
		ParamOffsetY:      p.OffsetY,
	}
	if p.Exposure > 0 {
		m[ParamExposure] = p.Exposure
	}
	if p.BitDepth != 0 {
		m[ParamADC] = p.BitDepth
	}
	if p.Binning > 1 {
		m[ParamBinning] = p.Binning
	}
	if p.TriggerIn >= 0 {
		m[ParamTriggerIn] = p.TriggerIn
	}
	if p.TriggerOut >= 0 {
		m[ParamTriggerOut] = p.TriggerOut
		m[ParamTTLInvert] = p.TriggerInverted
	}
	return m
}

// Configure pushes a batch of parameters to the source.  Every rejection is
// collected, the accepted values stay applied.
func Configure(src FrameSource, settings map[string]interface{}) error {
	var err error
	for _, name := range sortedKeys(settings) {
		err = multierr.Append(err, src.SetParameter(name, settings[name]))
	}
	return err
}
