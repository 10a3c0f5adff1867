package datacube

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nasa-jpl/mscam/camera"
)

// ErrNotConfigured is returned by Add before Configure
var ErrNotConfigured = errors.New("assembler not configured")

// Stats are running counts kept by the Assembler
type Stats struct {
	// Frames is the number of frames written into a cube
	Frames uint64

	// Published is the number of cubes handed to the consumer
	Published uint64

	// Dropped is the number of complete cubes discarded because no free buffer
	// was available, or the ready queue was full
	Dropped uint64

	// Rejected is the number of frames refused for a shape or depth mismatch
	Rejected uint64
}

// Assembler accumulates frames into cubes of a fixed depth.
//
// The active cube is owned by the Assembler.  When its last slot is written it
// is sent on Ready and ownership passes to the receiver, who must Release it.
// Writing continues into a free cube from the pool; when the pool is empty the
// completed cube is dropped and its buffer refilled instead.
type Assembler[T Sample] struct {
	mu sync.Mutex

	log     *zap.SugaredLogger
	buffers int

	width, height, depth int

	free   chan *Cube[T]
	ready  chan *Cube[T]
	active *Cube[T]
	cursor int
	seq    uint64
	closed bool
	stats  Stats
}

// NewAssembler creates an assembler with a pool of buffers cubes, at least two
func NewAssembler[T Sample](buffers int, logger *zap.SugaredLogger) *Assembler[T] {
	if buffers < 2 {
		buffers = 2
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Assembler[T]{
		log:     logger,
		buffers: buffers,
		ready:   make(chan *Cube[T], buffers),
	}
}

// Configure allocates a fresh pool for the given shape and resets the cursor.
// Cubes from an earlier configuration remain valid for their holders.
func (a *Assembler[T]) Configure(width, height, depth int) error {
	if width <= 0 || height <= 0 || depth <= 0 {
		return errors.Errorf("invalid cube shape %dx%dx%d", width, height, depth)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("assembler closed")
	}
	a.width, a.height, a.depth = width, height, depth
	a.free = make(chan *Cube[T], a.buffers)
	for i := 0; i < a.buffers; i++ {
		c := New[T](width, height, depth)
		c.home = a.free
		if i == 0 {
			a.active = c
			continue
		}
		a.free <- c
	}
	a.cursor = 0
	a.log.Debugw("assembler configured", "width", width, "height", height, "depth", depth, "buffers", a.buffers)
	return nil
}

// Ready delivers completed cubes in submission order.  It is closed by Close.
func (a *Assembler[T]) Ready() <-chan *Cube[T] {
	return a.ready
}

// Cursor is the slot the next frame will be written to
func (a *Assembler[T]) Cursor() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

// Stats returns a snapshot of the counters
func (a *Assembler[T]) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Add copies f into the current slot and advances the cursor, publishing the
// cube when the last slot is filled
func (a *Assembler[T]) Add(f camera.Frame) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("assembler closed")
	}
	if a.active == nil {
		return ErrNotConfigured
	}
	if f.Width != a.width || f.Height != a.height || !f.Valid() {
		a.stats.Rejected++
		return errors.Wrapf(camera.ErrBufferOverrun, "frame %dx%d (%d bytes) does not fit cube %dx%d", f.Width, f.Height, len(f.Pix), a.width, a.height)
	}
	dst := a.active.Slice(a.cursor)
	switch d := any(dst).(type) {
	case []uint8:
		if f.BytesPerPixel() != 1 {
			a.stats.Rejected++
			return errors.Wrapf(camera.ErrBufferOverrun, "%d-bit frame in an 8-bit cube", f.BitDepth)
		}
		copy(d, f.Pix)
	case []uint16:
		if f.BytesPerPixel() != 2 {
			a.stats.Rejected++
			return errors.Wrapf(camera.ErrBufferOverrun, "%d-bit frame in a 16-bit cube", f.BitDepth)
		}
		for i := range d {
			d[i] = binary.LittleEndian.Uint16(f.Pix[2*i:])
		}
	}
	a.active.Stamps[a.cursor] = f.Timestamp
	a.active.BitDepth = f.BitDepth
	a.stats.Frames++
	a.cursor++
	if a.cursor == a.depth {
		a.cursor = 0
		a.publish()
	}
	return nil
}

func (a *Assembler[T]) publish() {
	var next *Cube[T]
	select {
	case next = <-a.free:
	default:
		a.stats.Dropped++
		a.log.Debugw("no free cube, dropping", "dropped", a.stats.Dropped)
		return
	}
	done := a.active
	done.Seq = a.seq
	a.seq++
	done.out.Store(true)
	select {
	case a.ready <- done:
		a.stats.Published++
	default:
		a.stats.Dropped++
		done.Release()
	}
	a.active = next
}

// Close stops accepting frames and closes the Ready channel
func (a *Assembler[T]) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true
	close(a.ready)
}
