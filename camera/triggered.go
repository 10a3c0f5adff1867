package camera

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RawImage is an image as delivered by a vendor driver
type RawImage struct {
	Width, Height int

	// BitsPerPixel is 8 or 16
	BitsPerPixel int

	// Pix is a copy of the driver's buffer, safe to retain
	Pix []byte

	// Incomplete is set by the driver when the transfer lost packets
	Incomplete bool

	// Status is the driver's description of an incomplete image
	Status string

	// Timestamp is the device timestamp converted to wall time,
	// or the zero time if the device has none
	Timestamp time.Time
}

// Driver is the low level interface to a hardware-triggered camera SDK.
// Drivers need not be safe for concurrent use; Triggered serializes all calls.
type Driver interface {
	// Start begins acquisition
	Start() error

	// Stop ends acquisition
	Stop() error

	// Close releases the camera and the SDK
	Close() error

	// NextImage blocks for the next image, up to timeout.  A timeout
	// is reported as an error wrapping ErrFrameTimeout
	NextImage(timeout time.Duration) (RawImage, error)

	// Features maps parameter names to "int", "float", "bool" or "enum"
	Features() map[string]string

	// SetFeature sets a feature, with the value already coerced to its type
	SetFeature(name string, value interface{}) error

	// GetFeature reads a feature from the device
	GetFeature(name string) (interface{}, error)
}

// Triggered is a FrameSource over a hardware-triggered camera Driver.
// It caches parameter values; a rejected set leaves the cache untouched.
type Triggered struct {
	mu sync.Mutex

	drv     Driver
	log     *zap.SugaredLogger
	cache   map[string]interface{}
	running bool
	closed  bool
}

// NewTriggered configures the driver with p and starts acquisition.
// Rejected settings are logged and skipped, failure to start is fatal.
func NewTriggered(drv Driver, p Params, logger *zap.SugaredLogger) (*Triggered, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	t := &Triggered{drv: drv, log: logger, cache: map[string]interface{}{}}
	if err := Configure(t, p.Settings()); err != nil {
		for _, e := range multierr.Errors(err) {
			logger.Warnw("startup setting not applied", "err", e)
		}
	}
	if err := drv.Start(); err != nil {
		drv.Close()
		return nil, errors.Wrapf(ErrDeviceUnavailable, "starting acquisition: %v", err)
	}
	t.running = true
	return t, nil
}

// ReadFrame waits up to timeout for the next triggered image
func (t *Triggered) ReadFrame(timeout time.Duration) (Frame, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return Frame{}, ErrClosed
	}
	raw, err := t.drv.NextImage(timeout)
	if err != nil {
		if IsMiss(err) {
			return Frame{}, err
		}
		return Frame{}, errors.Wrap(err, "grabbing image")
	}
	if raw.Incomplete {
		return Frame{}, errors.Wrapf(ErrFrameIncomplete, "status %s", raw.Status)
	}
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	f := Frame{Width: raw.Width, Height: raw.Height, BitDepth: raw.BitsPerPixel, Pix: raw.Pix, Timestamp: ts}
	if !f.Valid() {
		return Frame{}, errors.Wrapf(ErrFrameIncomplete, "%d bytes for %dx%d@%d", len(raw.Pix), raw.Width, raw.Height, raw.BitsPerPixel)
	}
	return f, nil
}

// SetParameter validates value against the driver's feature table and sets it
func (t *Triggered) SetParameter(name string, value interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	typ, ok := t.drv.Features()[name]
	if !ok {
		return reject(name, value, "not a feature of this camera")
	}
	v, ok := Coerce(typ, value)
	if !ok {
		return reject(name, value, "expected %s, got %T", typ, value)
	}
	if err := t.drv.SetFeature(name, v); err != nil {
		t.log.Errorw("parameter rejected", "name", name, "value", value, "err", err)
		return &ErrParameterRejected{Name: name, Value: value, Reason: err.Error()}
	}
	t.cache[name] = v
	return nil
}

// GetParameter returns a cached value if one exists, else asks the driver
func (t *Triggered) GetParameter(name string) (interface{}, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache[name]; ok {
		return v, nil
	}
	if _, ok := t.drv.Features()[name]; !ok {
		return nil, reject(name, nil, "not a feature of this camera")
	}
	v, err := t.drv.GetFeature(name)
	if err != nil {
		return nil, err
	}
	t.cache[name] = v
	return v, nil
}

// Close stops acquisition and releases the driver
func (t *Triggered) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	var err error
	if t.running {
		err = t.drv.Stop()
		t.running = false
	}
	return multierr.Append(err, t.drv.Close())
}
