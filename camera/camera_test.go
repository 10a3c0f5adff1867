package camera

import (
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeDriver struct {
	features map[string]string
	values   map[string]interface{}
	images   []RawImage
	errs     []error
	refuse   map[string]bool
	started  bool
	closed   bool
	startErr error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		features: map[string]string{
			ParamExposure:     "float",
			ParamAutoExposure: "bool",
			ParamFPS:          "float",
			ParamOffsetX:      "int",
			ParamOffsetY:      "int",
			ParamADC:          "int",
			ParamTriggerOut:   "int",
			ParamTTLInvert:    "bool",
			"mode":            "enum",
		},
		values: map[string]interface{}{"mode": "Continuous"},
		refuse: map[string]bool{},
	}
}

func (d *fakeDriver) Start() error { d.started = true; return d.startErr }
func (d *fakeDriver) Stop() error { d.started = false; return nil }
func (d *fakeDriver) Close() error { d.closed = true; return nil }

func (d *fakeDriver) NextImage(timeout time.Duration) (RawImage, error) {
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return RawImage{}, err
		}
	}
	if len(d.images) == 0 {
		return RawImage{}, errors.Wrapf(ErrFrameTimeout, "after %v", timeout)
	}
	im := d.images[0]
	d.images = d.images[1:]
	return im, nil
}

func (d *fakeDriver) Features() map[string]string { return d.features }

func (d *fakeDriver) SetFeature(name string, v interface{}) error {
	if d.refuse[name] {
		return fmt.Errorf("node %s not writable", name)
	}
	d.values[name] = v
	return nil
}

func (d *fakeDriver) GetFeature(name string) (interface{}, error) {
	return d.values[name], nil
}

func TestTriggeredAppliesParamsAndStarts(t *testing.T) {
	d := newFakeDriver()
	src, err := NewTriggered(d, DefaultParams(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.True(t, d.started)
	assert.Equal(t, 500.0, d.values[ParamFPS])
	assert.Equal(t, int64(8), d.values[ParamADC])
	require.NoError(t, src.Close())
	assert.True(t, d.closed)
	assert.False(t, d.started)
}

func TestTriggeredStartFailureIsDeviceUnavailable(t *testing.T) {
	d := newFakeDriver()
	d.startErr = errors.New("usb link down")
	_, err := NewTriggered(d, DefaultParams(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
	assert.True(t, d.closed)
}

func TestTriggeredReadFrame(t *testing.T) {
	d := newFakeDriver()
	d.images = []RawImage{
		{Width: 2, Height: 2, BitsPerPixel: 8, Pix: []byte{1, 2, 3, 4}},
		{Width: 2, Height: 2, BitsPerPixel: 8, Pix: []byte{1, 2}, Incomplete: true, Status: "packets missing"},
		{Width: 2, Height: 2, BitsPerPixel: 8, Pix: []byte{1, 2}},
	}
	src, err := NewTriggered(d, Params{TriggerIn: -1, TriggerOut: -1}, nil)
	require.NoError(t, err)
	defer src.Close()

	f, err := src.ReadFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, f.Pix)
	assert.False(t, f.Timestamp.IsZero())

	_, err = src.ReadFrame(time.Second)
	assert.True(t, errors.Is(err, ErrFrameIncomplete), "incomplete flag")

	_, err = src.ReadFrame(time.Second)
	assert.True(t, errors.Is(err, ErrFrameIncomplete), "short buffer")

	_, err = src.ReadFrame(time.Millisecond)
	assert.True(t, errors.Is(err, ErrFrameTimeout))
	assert.Equal(t, "FrameTimeout", Kind(err))
}

func TestTriggeredRejectionRetainsValue(t *testing.T) {
	d := newFakeDriver()
	src, err := NewTriggered(d, Params{Exposure: 100, TriggerIn: -1, TriggerOut: -1}, nil)
	require.NoError(t, err)

	d.refuse[ParamExposure] = true
	err = src.SetParameter(ParamExposure, 5000.0)
	var rej *ErrParameterRejected
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ParamExposure, rej.Name)
	assert.Equal(t, "ParameterRejected", Kind(err))

	v, err := src.GetParameter(ParamExposure)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
}

func TestTriggeredParameterValidation(t *testing.T) {
	d := newFakeDriver()
	src, err := NewTriggered(d, Params{TriggerIn: -1, TriggerOut: -1}, nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		value interface{}
		ok    bool
	}{
		{ParamOffsetX, 16, true},
		{ParamOffsetX, 16.0, true},
		{ParamOffsetX, 16.5, false},
		{ParamTTLInvert, "true", true},
		{"mode", 3, false},
		{"mode", "Triggered", true},
		{"gamma", 1.0, false},
	}
	for _, tt := range tests {
		err := src.SetParameter(tt.name, tt.value)
		if tt.ok {
			assert.NoError(t, err, "%s=%v", tt.name, tt.value)
		} else {
			assert.Error(t, err, "%s=%v", tt.name, tt.value)
		}
	}
	v, err := src.GetParameter("mode")
	require.NoError(t, err)
	assert.Equal(t, "Triggered", v)
}

func TestConfigureCollectsRejections(t *testing.T) {
	d := newFakeDriver()
	src, err := NewTriggered(d, Params{TriggerIn: -1, TriggerOut: -1}, nil)
	require.NoError(t, err)
	err = Configure(src, map[string]interface{}{
		ParamOffsetX: 8,
		"gain":       2.0,
		"gamma":      1.0,
	})
	require.Error(t, err)
	assert.Equal(t, int64(8), d.values[ParamOffsetX])
	assert.Contains(t, err.Error(), "gain")
	assert.Contains(t, err.Error(), "gamma")
}

func TestRegistry(t *testing.T) {
	Register("fake", func(p Params, _ *zap.SugaredLogger) (FrameSource, error) {
		if p.Index != 0 {
			return nil, errors.New("no such camera")
		}
		return NewTriggered(newFakeDriver(), p, nil)
	})
	assert.Contains(t, Kinds(), "fake")

	src, err := Open("fake", Params{}, nil)
	require.NoError(t, err)
	src.Close()

	_, err = Open("fake", Params{Index: 3}, nil)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))

	_, err = Open("nope", Params{}, nil)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
	assert.Equal(t, "DeviceUnavailable", Kind(err))
}

func TestFrame16RoundTrip(t *testing.T) {
	pix := []uint16{0, 1, 256, 65535}
	f := NewFrame16(2, 2, pix, time.Time{})
	assert.True(t, f.Valid())
	assert.Equal(t, 2, f.BytesPerPixel())
	assert.Equal(t, pix, f.Uint16())
}
