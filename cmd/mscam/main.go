package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf"
	"github.com/pkg/errors"
	"github.com/theckman/yacspin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/mscam/acquire"
	"github.com/nasa-jpl/mscam/camera"
	"github.com/nasa-jpl/mscam/display"
	"github.com/nasa-jpl/mscam/imgrec"
	"github.com/nasa-jpl/mscam/pipeline"
	"github.com/nasa-jpl/mscam/server"
	"github.com/nasa-jpl/mscam/server/middleware/locker"

	_ "github.com/nasa-jpl/mscam/camera/sim"
	_ "github.com/nasa-jpl/mscam/spin"
	_ "github.com/nasa-jpl/mscam/webcam"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "mscam.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	if err := loadConfig(k, ConfigFileName); err != nil {
		log.Fatalf("error loading config: %v", err)
	}
}

func root() {
	str := `mscam runs a multispectral camera behind a sequenced LED light source.
Frames are grouped into one cube per illumination cycle, sorted so the first
slice is the unlit background, corrected, binned, and published over HTTP as a
composite preview.

Usage:
	mscam <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `mscam is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

When no configuration is provided, the defaults are used.  Keys are not case-sensitive.
The command mkconf generates the configuration file with the default values.

Device selects the frame source: sim, webcam, or spinnaker.  The spinnaker driver
is only available in binaries built with -tags spinnaker.

Depth is the number of illumination channels in one light source cycle, including
the dark slot.  Channels names each slice for the preview labels, and
Display.Channels picks which slices are shown; all of them when empty.

FlatField and Background are paths to FITS files.  The flat field has one plane
per channel; the background is a single frame.  Without a background the darkest
slice of each cube is subtracted.

Filter.Kind is none, highpass, runningsum, or equalizer.  Cutoffs are in Hz of
cube rate, which is Camera.FPS / Depth.

With Recorder.Enabled, every processed cube is written as FITS under
Recorder.Root in a folder per day.`
	fmt.Println(str)
}

func mkconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	err = yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("mscam version %v\n", Version)
}

func newLogger(debug bool) *zap.SugaredLogger {
	zc := zap.NewProductionConfig()
	if debug {
		zc = zap.NewDevelopmentConfig()
	}
	logger, err := zc.Build()
	if err != nil {
		log.Fatal(err)
	}
	return logger.Sugar()
}

// openSource opens the configured device behind a spinner, since SDK
// enumeration can take several seconds
func openSource(cfg config, logger *zap.SugaredLogger) (camera.FrameSource, error) {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            fmt.Sprintf(" opening %s camera", cfg.Device),
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		// no terminal, open without the spinner
		return camera.Open(cfg.Device, cfg.Camera, logger)
	}
	spinner.Start()
	src, err := camera.Open(cfg.Device, cfg.Camera, logger)
	if err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return nil, err
	}
	spinner.Stop()
	return src, nil
}

// frameShape is the size and depth the source settled on, which may differ
// from the request for webcams
func frameShape(src camera.FrameSource, p camera.Params) (w, h, bits int) {
	get := func(name string, def int) int {
		v, err := src.GetParameter(name)
		if err != nil {
			return def
		}
		if i, ok := camera.AsInt(v); ok {
			return int(i)
		}
		return def
	}
	w = get(camera.ParamWidth, p.Width)
	h = get(camera.ParamHeight, p.Height)
	bits = get(camera.ParamADC, p.BitDepth)
	if bits > 8 {
		bits = 16
	}
	return w, h, bits
}

func run() {
	cfg := config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		log.Fatal(err)
	}
	logger := newLogger(cfg.Debug)
	defer logger.Sync()

	timeout, err := cfg.readTimeout()
	if err != nil {
		logger.Fatalw("bad ReadTimeout", "err", err)
	}
	src, err := openSource(cfg, logger.Named(cfg.Device))
	if err != nil {
		logger.Fatalw("opening camera", "device", cfg.Device, "err", err)
	}
	defer src.Close()
	w, h, bits := frameShape(src, cfg.Camera)
	logger.Infow("camera open", "device", cfg.Device, "width", w, "height", h, "bits", bits)
	proc, err := cfg.processor(w, h)
	if err != nil {
		src.Close()
		logger.Fatalw("building cube processor", "err", err)
	}

	pv := &server.Preview{Source: src}
	rec := &imgrec.Recorder{Root: cfg.Recorder.Root, Prefix: cfg.Recorder.Prefix, Enabled: cfg.Recorder.Enabled}

	onCube := func(r pipeline.Result) {
		img, err := display.Compose(r.Volume, cfg.displayChannels(r.Depth), cfg.Channels, cfg.Display.Width, cfg.Display.Height)
		if err != nil {
			logger.Errorw("composing preview", "seq", r.Seq, "err", err)
		} else {
			pv.Update(img)
		}
		if !rec.IsEnabled() {
			return
		}
		fps, _ := pv.FPS()
		fn, err := rec.Save(r.Volume, imgrec.Cards(cfg.Binning, fps))
		if err != nil {
			logger.Errorw("saving cube", "seq", r.Seq, "err", err)
			return
		}
		logger.Debugw("saved cube", "seq", r.Seq, "file", fn)
	}

	p, err := pipeline.New(pipeline.Config{
		Source:    src,
		Width:     w,
		Height:    h,
		BitDepth:  bits,
		Depth:     cfg.Depth,
		Buffers:   cfg.Buffers,
		Workers:   cfg.Workers,
		Processor: proc,
		Acquire: acquire.Options{
			ReadTimeout: timeout,
			OnFPS:       pv.SetFPS,
			OnError: func(e acquire.CaptureError) {
				pv.RecordError(e.Kind, e.Err)
			},
		},
		OnCube: onCube,
		Logger: logger.Named("pipeline"),
	})
	if err != nil {
		logger.Fatalw("building pipeline", "err", err)
	}
	pv.Stats = func() interface{} { return p.Stats() }

	rt := pv.RT()
	imgrec.NewHTTPWrapper(rec).Inject(rt)
	lk := locker.New()
	locker.Inject(rt, lk)
	srv := &http.Server{Addr: cfg.Addr, Handler: server.NewRouter(rt, lk.Check)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		logger.Infow("now listening for requests", "addr", cfg.Addr)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		logger.Errorw("exiting", "err", err)
		return
	}
	logger.Info("exiting")
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
