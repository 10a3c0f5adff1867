package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"

	"github.com/nasa-jpl/mscam/camera"
	"github.com/nasa-jpl/mscam/datacube"
	"github.com/nasa-jpl/mscam/imgrec"
	"github.com/nasa-jpl/mscam/improc"
	"github.com/nasa-jpl/mscam/pipeline"
)

type recorder struct {
	// Root is the root folder to write to
	Root string `yaml:"Root"`

	// Prefix is the filename prefix to use
	Prefix string `yaml:"Prefix"`

	// Enabled turns on saving of every processed cube
	Enabled bool `yaml:"Enabled"`
}

type displayConfig struct {
	Width  int `yaml:"Width"`
	Height int `yaml:"Height"`

	// Channels are the slice indices shown, all when empty
	Channels []int `yaml:"Channels"`
}

type filter struct {
	// Kind is one of none, highpass, runningsum, equalizer
	Kind string `yaml:"Kind"`

	// Cutoff is the highpass corner in Hz of cube rate
	Cutoff float64 `yaml:"Cutoff"`

	// Delay is the runningsum window in cubes
	Delay int `yaml:"Delay"`

	LowGain    float64 `yaml:"LowGain"`
	MidGain    float64 `yaml:"MidGain"`
	HighGain   float64 `yaml:"HighGain"`
	LowCutoff  float64 `yaml:"LowCutoff"`
	HighCutoff float64 `yaml:"HighCutoff"`
}

type config struct {
	Addr   string `yaml:"Addr"`
	Debug  bool   `yaml:"Debug"`
	Device string `yaml:"Device"`

	Camera camera.Params `yaml:"Camera"`

	Depth       int    `yaml:"Depth"`
	SortStride  int    `yaml:"SortStride"`
	Binning     int    `yaml:"Binning"`
	Workers     int    `yaml:"Workers"`
	Buffers     int    `yaml:"Buffers"`
	ReadTimeout string `yaml:"ReadTimeout"`

	Channels []string      `yaml:"Channels"`
	Display  displayConfig `yaml:"Display"`
	Filter   filter        `yaml:"Filter"`

	FlatField  string `yaml:"FlatField"`
	Background string `yaml:"Background"`

	Recorder recorder `yaml:"Recorder"`
}

func defaults() config {
	const depth = 14
	names := make([]string, depth)
	for i := range names {
		names[i] = fmt.Sprintf("CH%d", i+1)
	}
	return config{
		Addr:        ":8000",
		Device:      "sim",
		Camera:      camera.DefaultParams(),
		Depth:       depth,
		SortStride:  datacube.DefaultStride,
		Binning:     1,
		Workers:     2,
		Buffers:     2,
		ReadTimeout: "1s",
		Channels:    names,
		Display:     displayConfig{Width: 1280, Height: 720},
		Filter: filter{
			Kind:       "none",
			Cutoff:     1,
			Delay:      8,
			LowGain:    1,
			MidGain:    1,
			HighGain:   1,
			LowCutoff:  0.5,
			HighCutoff: 5,
		},
		Recorder: recorder{Prefix: "cube_"},
	}
}

// loadConfig populates k with the defaults, then the file at fn if it exists
func loadConfig(k *koanf.Koanf, fn string) error {
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return err
	}
	if err := k.Load(file.Provider(fn), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such") { // file missing, who cares
			return errors.Wrapf(err, "loading %s", fn)
		}
	}
	return nil
}

// cubeRate is the cube rate used for filter design
func (c config) cubeRate() float64 {
	if c.Depth <= 0 || c.Camera.FPS <= 0 {
		return 1
	}
	return c.Camera.FPS / float64(c.Depth)
}

func (c config) temporalFilter() (improc.Filter, error) {
	fs := c.cubeRate()
	f := c.Filter
	switch strings.ToLower(f.Kind) {
	case "", "none":
		return nil, nil
	case "highpass":
		return improc.NewHighpass(fs, f.Cutoff), nil
	case "runningsum":
		return improc.NewRunningSum(f.Delay), nil
	case "equalizer":
		return improc.NewEqualizer(f.LowGain, f.MidGain, f.HighGain, f.LowCutoff, f.HighCutoff, fs), nil
	}
	return nil, errors.Errorf("unknown filter kind %q", f.Kind)
}

func readReference(fn string) (w, h, d int, planes [][]uint16, err error) {
	fid, err := os.Open(fn)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	defer fid.Close()
	return imgrec.ReadPlanes(fid)
}

// processor builds the cube processor, loading any reference files.  w and h
// are the frame size the source settled on, which reference frames must match.
func (c config) processor(w, h int) (*pipeline.Processor, error) {
	flt, err := c.temporalFilter()
	if err != nil {
		return nil, err
	}
	p := &pipeline.Processor{SortStride: c.SortStride, Binning: c.Binning, Filter: flt}
	if c.FlatField != "" {
		fw, fh, fd, planes, err := readReference(c.FlatField)
		if err != nil {
			return nil, errors.Wrap(err, "flatfield")
		}
		if fw != w || fh != h || fd != c.Depth {
			return nil, errors.Errorf("flatfield is %dx%dx%d, cubes are %dx%dx%d", fw, fh, fd, w, h, c.Depth)
		}
		p.Flat = planes
	}
	if c.Background != "" {
		bw, bh, _, planes, err := readReference(c.Background)
		if err != nil {
			return nil, errors.Wrap(err, "background")
		}
		if bw != w || bh != h {
			return nil, errors.Errorf("background is %dx%d, frames are %dx%d", bw, bh, w, h)
		}
		p.Background = planes[0]
	}
	return p, nil
}

func (c config) readTimeout() (time.Duration, error) {
	if c.ReadTimeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.ReadTimeout)
}

// displayChannels are the configured display indices that exist in a cube of
// depth d, or all of them
func (c config) displayChannels(d int) []int {
	var out []int
	for _, i := range c.Display.Channels {
		if i >= 0 && i < d {
			out = append(out, i)
		}
	}
	if len(c.Display.Channels) == 0 {
		for i := 0; i < d; i++ {
			out = append(out, i)
		}
	}
	return out
}
