// Package webcam is a FrameSource for cameras driven by the host OS capture layer.
//
// Devices are reached through pion/mediadevices, which binds V4L2 on linux,
// AVFoundation on macOS and the Media Foundation stack on windows.  Frames are
// delivered as 8-bit luma.  The package registers device kind "webcam".
package webcam

import (
	"image"
	"image/draw"
	"runtime"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nasa-jpl/mscam/camera"
)

// Kind is the registry name of OS cameras
const Kind = "webcam"

func init() {
	camera.Register(Kind, func(p camera.Params, logger *zap.SugaredLogger) (camera.FrameSource, error) {
		return Open(p, logger)
	})
}

// Backend names the capture backend used on the given GOOS, or "" when
// the platform has none
func Backend(goos string) string {
	switch goos {
	case "linux":
		return "V4L2"
	case "darwin":
		return "AVFoundation"
	case "windows":
		return "MediaFoundation"
	}
	return ""
}

type readResult struct {
	img     image.Image
	release func()
	err     error
}

// Webcam is an OS-managed camera
type Webcam struct {
	mu sync.Mutex

	track  mediadevices.Track
	reader video.Reader
	log    *zap.SugaredLogger

	width, height int
	fps           float64
	label         string

	// pending carries the result of a read which outlived its caller's timeout
	pending chan readResult
	closed  bool
}

// Open opens the p.Index'th video recorder known to the OS
func Open(p camera.Params, logger *zap.SugaredLogger) (*Webcam, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	backend := Backend(runtime.GOOS)
	if backend == "" {
		return nil, errors.Wrapf(camera.ErrDeviceUnavailable, "no capture backend for %s", runtime.GOOS)
	}
	mediadevicescamera.Initialize()
	drivers := driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
	if p.Index < 0 || p.Index >= len(drivers) {
		return nil, errors.Wrapf(camera.ErrDeviceUnavailable, "camera %d requested, %d found via %s", p.Index, len(drivers), backend)
	}
	drv := drivers[p.Index]

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.StringExact(drv.ID())
			if p.Width > 0 {
				c.Width = prop.IntExact(p.Width)
			}
			if p.Height > 0 {
				c.Height = prop.IntExact(p.Height)
			}
			if p.FPS > 0 {
				c.FrameRate = prop.FloatExact(float32(p.FPS))
			}
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatI420,
				frame.FormatNV12,
				frame.FormatYUY2,
				frame.FormatUYVY,
				frame.FormatMJPEG,
				frame.FormatRGBA,
			}
		},
	})
	if err != nil {
		return nil, errors.Wrapf(camera.ErrDeviceUnavailable, "%s: %v", backend, err)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.Wrapf(camera.ErrDeviceUnavailable, "%s returned no video track", backend)
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeAll(tracks)
		return nil, errors.Wrapf(camera.ErrDeviceUnavailable, "unexpected track type %T", tracks[0])
	}
	w := &Webcam{
		track:  vt,
		reader: vt.NewReader(false),
		log:    logger,
		width:  p.Width,
		height: p.Height,
		fps:    p.FPS,
		label:  drv.Info().Label,
	}
	logger.Infow("webcam open", "backend", backend, "label", w.label, "width", p.Width, "height", p.Height, "fps", p.FPS)
	return w, nil
}

func closeAll(tracks []mediadevices.Track) {
	for _, t := range tracks {
		t.Close()
	}
}

// ReadFrame waits up to timeout for the next frame.  A read that times out
// stays in flight and its frame is returned by the following call.
func (w *Webcam) ReadFrame(timeout time.Duration) (camera.Frame, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return camera.Frame{}, camera.ErrClosed
	}
	if w.pending == nil {
		ch := make(chan readResult, 1)
		w.pending = ch
		go func(r video.Reader) {
			img, release, err := r.Read()
			ch <- readResult{img, release, err}
		}(w.reader)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-w.pending:
		w.pending = nil
		if res.err != nil {
			return camera.Frame{}, errors.Wrap(res.err, "reading webcam")
		}
		f := Luma(res.img)
		if res.release != nil {
			res.release()
		}
		f.Timestamp = time.Now()
		if w.width == 0 {
			w.width, w.height = f.Width, f.Height
		}
		if f.Width != w.width || f.Height != w.height {
			return camera.Frame{}, errors.Wrapf(camera.ErrFrameIncomplete, "got %dx%d, configured %dx%d", f.Width, f.Height, w.width, w.height)
		}
		return f, nil
	case <-timer.C:
		return camera.Frame{}, errors.Wrapf(camera.ErrFrameTimeout, "no frame within %v", timeout)
	}
}

// SetParameter accepts only values equal to the current ones; the OS
// backends do not expose sensor controls through mediadevices
func (w *Webcam) SetParameter(name string, value interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cur, err := w.get(name)
	if err != nil {
		return err
	}
	switch c := cur.(type) {
	case int64:
		if v, ok := camera.AsInt(value); ok && v == c {
			return nil
		}
	case float64:
		if v, ok := camera.AsFloat(value); ok && v == c {
			return nil
		}
	}
	w.log.Errorw("parameter rejected", "name", name, "value", value)
	return &camera.ErrParameterRejected{Name: name, Value: value, Reason: "fixed by the OS capture backend"}
}

// GetParameter returns the opened stream's properties
func (w *Webcam) GetParameter(name string) (interface{}, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.get(name)
}

func (w *Webcam) get(name string) (interface{}, error) {
	switch name {
	case camera.ParamWidth:
		return int64(w.width), nil
	case camera.ParamHeight:
		return int64(w.height), nil
	case camera.ParamFPS:
		return w.fps, nil
	case camera.ParamADC:
		return int64(8), nil
	}
	return nil, &camera.ErrParameterRejected{Name: name, Reason: "not available on OS cameras"}
}

// Close stops the track
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.track.Close()
}

// Luma converts an image to an 8-bit frame.  YCbCr images contribute their Y
// plane directly, anything else is converted through image.Gray.
func Luma(img image.Image) camera.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := camera.Frame{Width: w, Height: h, BitDepth: 8, Pix: make([]byte, w*h)}
	switch t := img.(type) {
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			row := t.YOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*w:(y+1)*w], t.Y[row:row+w])
		}
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := t.PixOffset(b.Min.X, b.Min.Y+y)
			copy(out.Pix[y*w:(y+1)*w], t.Pix[row:row+w])
		}
	default:
		g := &image.Gray{Pix: out.Pix, Stride: w, Rect: image.Rect(0, 0, w, h)}
		draw.Draw(g, g.Rect, img, b.Min, draw.Src)
	}
	return out
}
