package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nasa-jpl/mscam/acquire"
	"github.com/nasa-jpl/mscam/camera"
	"github.com/nasa-jpl/mscam/datacube"
)

// Result is a processed cube as delivered to Config.OnCube
type Result struct {
	Seq      uint64
	Volume   datacube.Volume
	Width    int
	Height   int
	Depth    int
	BitDepth int
}

// Config describes a pipeline
type Config struct {
	Source camera.FrameSource

	// Width, Height and BitDepth are the shape of the frames Source produces
	Width, Height, BitDepth int

	// Depth is the number of illumination channels per cube
	Depth int

	// Buffers is the size of the cube pool, at least two
	Buffers int

	// Workers is the number of cubes processed concurrently.  It is forced to
	// one when the Processor has a temporal filter.
	Workers int

	Processor *Processor

	// Acquire configures the capture loop.  Its Logger is replaced by Logger.
	Acquire acquire.Options

	// OnCube receives each processed cube.  With more than one worker results
	// may arrive out of sequence order.
	OnCube func(Result)

	Logger *zap.SugaredLogger
}

// Stats are the counters of a running pipeline
type Stats struct {
	Acquire   acquire.Stats  `json:"acquire"`
	Assembly  datacube.Stats `json:"assembly"`
	Processed uint64         `json:"processed"`
	Failed    uint64         `json:"failed"`
}

type assembler interface {
	acquire.FrameSink
	Configure(w, h, d int) error
	Stats() datacube.Stats
	Close()
}

// Pipeline is a configured acquisition and processing chain
type Pipeline struct {
	cfg  Config
	log  *zap.SugaredLogger
	loop *acquire.Loop
	asm  assembler
	next func() (datacube.Volume, bool)

	processed, failed atomic.Uint64
}

func stage[T datacube.Sample](buffers int, logger *zap.SugaredLogger) (assembler, func() (datacube.Volume, bool)) {
	a := datacube.NewAssembler[T](buffers, logger)
	return a, func() (datacube.Volume, bool) {
		c, ok := <-a.Ready()
		if !ok {
			return nil, false
		}
		return c, true
	}
}

// New validates cfg and prepares a pipeline
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline has no frame source")
	}
	if cfg.Processor == nil {
		cfg.Processor = &Processor{}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Processor.Filter != nil && cfg.Workers > 1 {
		cfg.Logger.Infow("temporal filter needs ordered cubes, using one worker", "requested", cfg.Workers)
		cfg.Workers = 1
	}
	p := &Pipeline{cfg: cfg, log: cfg.Logger}
	switch cfg.BitDepth {
	case 8:
		p.asm, p.next = stage[uint8](cfg.Buffers, cfg.Logger)
	case 16:
		p.asm, p.next = stage[uint16](cfg.Buffers, cfg.Logger)
	default:
		return nil, errors.Errorf("unsupported bit depth %d", cfg.BitDepth)
	}
	if err := p.asm.Configure(cfg.Width, cfg.Height, cfg.Depth); err != nil {
		return nil, err
	}
	opts := cfg.Acquire
	opts.Logger = cfg.Logger.Named("acquire")
	p.loop = acquire.New(cfg.Source, p.asm, opts)
	return p, nil
}

// Run captures and processes until ctx is done or the source closes
func (p *Pipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer p.asm.Close()
		return p.loop.Run(gctx)
	})
	for i := 0; i < p.cfg.Workers; i++ {
		g.Go(p.work)
	}
	p.log.Infow("pipeline running", "workers", p.cfg.Workers, "depth", p.cfg.Depth, "bits", p.cfg.BitDepth)
	err := g.Wait()
	p.log.Infow("pipeline stopped", "processed", p.processed.Load(), "failed", p.failed.Load())
	return err
}

func (p *Pipeline) work() error {
	for {
		c, ok := p.next()
		if !ok {
			return nil
		}
		v, err := p.cfg.Processor.Process(c)
		if err != nil {
			p.failed.Add(1)
			p.log.Errorw("cube processing failed", "err", err)
			continue
		}
		p.processed.Add(1)
		if p.cfg.OnCube == nil {
			continue
		}
		w, h, d := v.Dims()
		p.cfg.OnCube(Result{Seq: v.Sequence(), Volume: v, Width: w, Height: h, Depth: d, BitDepth: v.Bits()})
	}
}

// Stop ends acquisition; Run returns once queued cubes are processed
func (p *Pipeline) Stop() {
	p.loop.Stop()
}

// Stats returns a snapshot of the pipeline's counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Acquire:   p.loop.Stats(),
		Assembly:  p.asm.Stats(),
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Run builds a pipeline from cfg and runs it
func Run(ctx context.Context, cfg Config) error {
	p, err := New(cfg)
	if err != nil {
		return err
	}
	return p.Run(ctx)
}
