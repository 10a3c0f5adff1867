//go:build spinnaker
// +build spinnaker

package spin

/*
#cgo CFLAGS: -I/opt/spinnaker/include/spinc
#cgo LDFLAGS: -L/opt/spinnaker/lib -lSpinnaker_C
#include <stdlib.h>
#include <SpinnakerC.h>
*/
import "C"
import (
	"fmt"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nasa-jpl/mscam/camera"
)

// Kind is the registry name of Spinnaker cameras
const Kind = "spinnaker"

func init() {
	camera.Register(Kind, func(p camera.Params, logger *zap.SugaredLogger) (camera.FrameSource, error) {
		c, err := Open(p.Index)
		if err != nil {
			return nil, err
		}
		if err = c.SetResolution(p.Width, p.Height, int64(p.BitDepth)); err != nil {
			c.Close()
			return nil, errors.Wrap(camera.ErrDeviceUnavailable, err.Error())
		}
		logger.Infow("spinnaker camera open", "index", p.Index, "width", p.Width, "height", p.Height)
		return camera.NewTriggered(c, p, logger)
	})
}

// Camera is a Spinnaker camera.  It implements camera.Driver
type Camera struct {
	sys   C.spinSystem
	list  C.spinCameraList
	cam   C.spinCamera
	nodes C.spinNodeMapHandle

	// bits is the configured sample depth, used to pick the pixel format
	bits int64
}

// Open initializes the SDK and the camera at index idx
func Open(idx int) (*Camera, error) {
	c := &Camera{bits: 8}
	if err := Error(int(C.spinSystemGetInstance(&c.sys))); err != nil {
		return nil, errors.Wrap(camera.ErrDeviceUnavailable, err.Error())
	}
	if err := Error(int(C.spinCameraListCreateEmpty(&c.list))); err != nil {
		C.spinSystemReleaseInstance(c.sys)
		return nil, errors.Wrap(camera.ErrDeviceUnavailable, err.Error())
	}
	if err := Error(int(C.spinSystemGetCameras(c.sys, c.list))); err != nil {
		c.release()
		return nil, errors.Wrap(camera.ErrDeviceUnavailable, err.Error())
	}
	var n C.size_t
	C.spinCameraListGetSize(c.list, &n)
	if idx < 0 || int(n) <= idx {
		c.release()
		return nil, errors.Wrapf(camera.ErrDeviceUnavailable, "camera %d requested, %d connected", idx, int(n))
	}
	if err := Error(int(C.spinCameraListGet(c.list, C.size_t(idx), &c.cam))); err != nil {
		c.release()
		return nil, errors.Wrap(camera.ErrDeviceUnavailable, err.Error())
	}
	if err := Error(int(C.spinCameraInit(c.cam))); err != nil {
		c.release()
		return nil, errors.Wrap(camera.ErrDeviceUnavailable, err.Error())
	}
	if err := Error(int(C.spinCameraGetNodeMap(c.cam, &c.nodes))); err != nil {
		c.release()
		return nil, errors.Wrap(camera.ErrDeviceUnavailable, err.Error())
	}
	return c, nil
}

func (c *Camera) release() {
	if c.cam != nil {
		C.spinCameraDeInit(c.cam)
		C.spinCameraRelease(c.cam)
		c.cam = nil
	}
	if c.list != nil {
		C.spinCameraListClear(c.list)
		C.spinCameraListDestroy(c.list)
		c.list = nil
	}
	if c.sys != nil {
		C.spinSystemReleaseInstance(c.sys)
		c.sys = nil
	}
}

// SetResolution sets the pixel format and readout window size
func (c *Camera) SetResolution(width, height int, bits int64) error {
	if bits == 0 {
		bits = 8
	}
	c.bits = bits
	err := c.setEnum("PixelFormat", pixelFormat(bits))
	if width > 0 {
		err = multierr.Append(err, c.setInt("Width", int64(width)))
	}
	if height > 0 {
		err = multierr.Append(err, c.setInt("Height", int64(height)))
	}
	return err
}

// Start begins continuous acquisition
func (c *Camera) Start() error {
	if err := c.setEnum("AcquisitionMode", "Continuous"); err != nil {
		return err
	}
	return Error(int(C.spinCameraBeginAcquisition(c.cam)))
}

// Stop ends acquisition
func (c *Camera) Stop() error {
	return Error(int(C.spinCameraEndAcquisition(c.cam)))
}

// Close releases the camera and the SDK instance
func (c *Camera) Close() error {
	c.release()
	return nil
}

// NextImage waits up to timeout for the next image, which is copied out of
// the SDK's buffer and released before return
func (c *Camera) NextImage(timeout time.Duration) (camera.RawImage, error) {
	var img C.spinImage
	ms := C.uint64_t(timeout / time.Millisecond)
	if err := Error(int(C.spinCameraGetNextImageEx(c.cam, ms, &img))); err != nil {
		return camera.RawImage{}, err
	}
	defer C.spinImageRelease(img)

	var incomplete C.bool8_t
	C.spinImageIsIncomplete(img, &incomplete)
	if incomplete != 0 {
		var status C.spinImageStatus
		C.spinImageGetStatus(img, &status)
		return camera.RawImage{Incomplete: true, Status: fmt.Sprintf("%d", int(status))}, nil
	}
	var w, h, bpp, size C.size_t
	C.spinImageGetWidth(img, &w)
	C.spinImageGetHeight(img, &h)
	C.spinImageGetBitsPerPixel(img, &bpp)
	C.spinImageGetBufferSize(img, &size)
	var data unsafe.Pointer
	if err := Error(int(C.spinImageGetData(img, &data))); err != nil {
		return camera.RawImage{}, err
	}
	bits := int(bpp)
	if bits > 8 {
		bits = 16
	}
	n := int(w) * int(h) * (bits / 8)
	if int(size) < n {
		return camera.RawImage{Incomplete: true, Status: "short buffer"}, nil
	}
	pix := C.GoBytes(data, C.int(n))
	return camera.RawImage{
		Width:        int(w),
		Height:       int(h),
		BitsPerPixel: bits,
		Pix:          pix,
		Timestamp:    time.Now(),
	}, nil
}

// Features lists the parameters this driver understands
func (c *Camera) Features() map[string]string {
	out := make(map[string]string, len(nodeNames))
	for k, v := range nodeNames {
		out[k] = v.Type
	}
	return out
}

// SetFeature sets a parameter, mapping it onto its GenICam node(s)
func (c *Camera) SetFeature(name string, value interface{}) error {
	switch name {
	case camera.ParamAutoExposure:
		mode := "Off"
		if value.(bool) {
			mode = "Continuous"
		}
		return c.setEnum("ExposureAuto", mode)
	case camera.ParamExposure:
		if err := c.setEnum("ExposureAuto", "Off"); err != nil {
			return err
		}
		return c.setFloat("ExposureTime", value.(float64))
	case camera.ParamFPS:
		if err := c.setBool("AcquisitionFrameRateEnable", true); err != nil {
			return err
		}
		return c.setFloat("AcquisitionFrameRate", value.(float64))
	case camera.ParamBinning:
		b := value.(int64)
		return multierr.Append(c.setInt("BinningHorizontal", b), c.setInt("BinningVertical", b))
	case camera.ParamADC:
		bits := value.(int64)
		entry, err := adcEnum(bits)
		if err != nil {
			return err
		}
		if err = c.setEnum("AdcBitDepth", entry); err != nil {
			return err
		}
		c.bits = bits
		return c.setEnum("PixelFormat", pixelFormat(bits))
	case camera.ParamTriggerIn:
		line := value.(int64)
		if line < 0 {
			return c.setEnum("TriggerMode", "Off")
		}
		err := c.setEnum("TriggerMode", "Off")
		err = multierr.Append(err, c.setEnum("TriggerSelector", "FrameStart"))
		err = multierr.Append(err, c.setEnum("TriggerSource", lineName(line)))
		err = multierr.Append(err, c.setEnum("TriggerActivation", "RisingEdge"))
		return multierr.Append(err, c.setEnum("TriggerMode", "On"))
	case camera.ParamTriggerOut:
		line := value.(int64)
		err := c.setEnum("LineSelector", lineName(line))
		err = multierr.Append(err, c.setEnum("LineMode", "Output"))
		return multierr.Append(err, c.setEnum("LineSource", "ExposureActive"))
	case camera.ParamTTLInvert:
		return c.setBool("LineInverter", value.(bool))
	}
	n, ok := nodeNames[name]
	if !ok {
		return fmt.Errorf("no node for %s", name)
	}
	switch n.Type {
	case "int":
		return c.setInt(n.Node, value.(int64))
	case "float":
		return c.setFloat(n.Node, value.(float64))
	case "bool":
		return c.setBool(n.Node, value.(bool))
	}
	return fmt.Errorf("unsupported type %s", n.Type)
}

// GetFeature reads a parameter from its GenICam node
func (c *Camera) GetFeature(name string) (interface{}, error) {
	n, ok := nodeNames[name]
	if !ok {
		return nil, fmt.Errorf("no node for %s", name)
	}
	switch name {
	case camera.ParamAutoExposure:
		s, err := c.getEnum(n.Node)
		return s != "Off", err
	case camera.ParamADC:
		return c.bits, nil
	case camera.ParamTriggerIn, camera.ParamTriggerOut:
		return nil, fmt.Errorf("%s is write only", name)
	}
	switch n.Type {
	case "int":
		return c.getInt(n.Node)
	case "float":
		return c.getFloat(n.Node)
	case "bool":
		return c.getBool(n.Node)
	}
	return nil, fmt.Errorf("unsupported type %s", n.Type)
}

func (c *Camera) node(name string) (C.spinNodeHandle, error) {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	var h C.spinNodeHandle
	if err := Error(int(C.spinNodeMapGetNode(c.nodes, cs, &h))); err != nil {
		return nil, errors.Wrapf(err, "node %s", name)
	}
	var avail C.bool8_t
	C.spinNodeIsAvailable(h, &avail)
	if avail == 0 {
		return nil, fmt.Errorf("node %s not available", name)
	}
	return h, nil
}

func (c *Camera) writable(name string) (C.spinNodeHandle, error) {
	h, err := c.node(name)
	if err != nil {
		return nil, err
	}
	var w C.bool8_t
	C.spinNodeIsWritable(h, &w)
	if w == 0 {
		return nil, fmt.Errorf("node %s not writable in the current mode", name)
	}
	return h, nil
}

func (c *Camera) setInt(name string, v int64) error {
	h, err := c.writable(name)
	if err != nil {
		return err
	}
	var lo, hi C.int64_t
	C.spinIntegerGetMin(h, &lo)
	C.spinIntegerGetMax(h, &hi)
	if v < int64(lo) || v > int64(hi) {
		return fmt.Errorf("%s=%d outside [%d, %d]", name, v, int64(lo), int64(hi))
	}
	return Error(int(C.spinIntegerSetValue(h, C.int64_t(v))))
}

func (c *Camera) getInt(name string) (int64, error) {
	h, err := c.node(name)
	if err != nil {
		return 0, err
	}
	var v C.int64_t
	err = Error(int(C.spinIntegerGetValue(h, &v)))
	return int64(v), err
}

func (c *Camera) setFloat(name string, v float64) error {
	h, err := c.writable(name)
	if err != nil {
		return err
	}
	var lo, hi C.double
	C.spinFloatGetMin(h, &lo)
	C.spinFloatGetMax(h, &hi)
	if v < float64(lo) || v > float64(hi) {
		return fmt.Errorf("%s=%g outside [%g, %g]", name, v, float64(lo), float64(hi))
	}
	return Error(int(C.spinFloatSetValue(h, C.double(v))))
}

func (c *Camera) getFloat(name string) (float64, error) {
	h, err := c.node(name)
	if err != nil {
		return 0, err
	}
	var v C.double
	err = Error(int(C.spinFloatGetValue(h, &v)))
	return float64(v), err
}

func (c *Camera) setBool(name string, v bool) error {
	h, err := c.writable(name)
	if err != nil {
		return err
	}
	var b C.bool8_t
	if v {
		b = 1
	}
	return Error(int(C.spinBooleanSetValue(h, b)))
}

func (c *Camera) getBool(name string) (bool, error) {
	h, err := c.node(name)
	if err != nil {
		return false, err
	}
	var b C.bool8_t
	err = Error(int(C.spinBooleanGetValue(h, &b)))
	return b != 0, err
}

func (c *Camera) setEnum(name, entry string) error {
	h, err := c.writable(name)
	if err != nil {
		return err
	}
	ce := C.CString(entry)
	defer C.free(unsafe.Pointer(ce))
	var eh C.spinNodeHandle
	if err = Error(int(C.spinEnumerationGetEntryByName(h, ce, &eh))); err != nil {
		return errors.Wrapf(err, "%s has no entry %s", name, entry)
	}
	var v C.int64_t
	if err = Error(int(C.spinEnumerationEntryGetIntValue(eh, &v))); err != nil {
		return err
	}
	return Error(int(C.spinEnumerationSetIntValue(h, v)))
}

func (c *Camera) getEnum(name string) (string, error) {
	h, err := c.node(name)
	if err != nil {
		return "", err
	}
	var eh C.spinNodeHandle
	if err = Error(int(C.spinEnumerationGetCurrentEntry(h, &eh))); err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	n := C.size_t(len(buf))
	err = Error(int(C.spinEnumerationEntryGetSymbolic(eh, (*C.char)(unsafe.Pointer(&buf[0])), &n)))
	if err != nil {
		return "", err
	}
	if n > 0 {
		n--
	}
	return string(buf[:n]), nil
}
