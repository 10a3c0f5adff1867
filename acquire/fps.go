package acquire

import (
	"math"
	"time"
)

// FPS smooths the instantaneous frame rate with a 0.9/0.1 exponential average
type FPS struct {
	// Value is the current estimate.  It may be seeded before the first Tick.
	Value float64

	last time.Time
}

// Tick records a frame at now and returns the updated estimate.  The first
// tick, and any tick that does not advance time, leaves the estimate alone.
func (f *FPS) Tick(now time.Time) float64 {
	if !f.last.IsZero() {
		if dt := now.Sub(f.last); dt > 0 {
			f.Value = 0.9*f.Value + 0.1*(float64(time.Second)/float64(dt))
		}
	}
	f.last = now
	return f.Value
}

func floatBits(f float64) uint64 { return math.Float64bits(f) }

func floatFrom(b uint64) float64 { return math.Float64frombits(b) }
