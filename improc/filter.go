package improc

import (
	"math"
)

// Filter is a temporal filter applied to successive cubes, one plane per
// channel.  State is sized on the first call; later calls must pass planes
// of the same shape.
type Filter interface {
	Apply(dst, src [][]float32)
}

func zeros(src [][]float32) [][]float32 {
	out := make([][]float32, len(src))
	for i := range src {
		out[i] = make([]float32, len(src[i]))
	}
	return out
}

// ComputeAlpha gives the EMA coefficient with 3 dB attenuation at fc for
// sampling rate fs
func ComputeAlpha(fs, fc float64) float64 {
	wc := 2 * math.Pi * fc / fs
	y := 1 - math.Cos(wc)
	return -y + math.Sqrt(y*y+2*y)
}

// Highpass subtracts an exponential moving average,
// avg ← (1-α)·avg + α·x, out = x − avg
type Highpass struct {
	Alpha float32
	avg   [][]float32
}

// NewHighpass creates a high-pass filter for cube rate fs and cutoff fc
func NewHighpass(fs, fc float64) *Highpass {
	return &Highpass{Alpha: float32(ComputeAlpha(fs, fc))}
}

// Apply filters src into dst
func (h *Highpass) Apply(dst, src [][]float32) {
	if h.avg == nil {
		h.avg = zeros(src)
	}
	a := h.Alpha
	for z, plane := range src {
		avg, out := h.avg[z], dst[z]
		for i, x := range plane {
			avg[i] = (1-a)*avg[i] + a*x
			out[i] = x - avg[i]
		}
	}
}

// RunningSum is a cascaded integrator-comb moving average over Delay cubes,
// y(n) = x(n) − x(n−D) + y(n−1).  Apply emits the high-pass residual x − y/D.
type RunningSum struct {
	Delay int

	sum  [][]float32
	line [][][]float32
	pos  int
}

// NewRunningSum creates a running-sum filter of the given delay, at least one
func NewRunningSum(delay int) *RunningSum {
	if delay < 1 {
		delay = 1
	}
	return &RunningSum{Delay: delay}
}

// Apply filters src into dst
func (r *RunningSum) Apply(dst, src [][]float32) {
	if r.sum == nil {
		r.sum = zeros(src)
		r.line = make([][][]float32, r.Delay)
		for i := range r.line {
			r.line[i] = zeros(src)
		}
	}
	old := r.line[r.pos]
	d := float32(r.Delay)
	for z, plane := range src {
		sum, delayed, out := r.sum[z], old[z], dst[z]
		for i, x := range plane {
			sum[i] += x - delayed[i]
			delayed[i] = x
			out[i] = x - sum[i]/d
		}
	}
	r.pos = (r.pos + 1) % r.Delay
}

// Lowpass returns the current moving average of plane z
func (r *RunningSum) Lowpass(z int) []float32 {
	out := make([]float32, len(r.sum[z]))
	for i, s := range r.sum[z] {
		out[i] = s / float32(r.Delay)
	}
	return out
}

// vsa keeps the filter poles out of the denormal range
const vsa = 1.0 / 4294967295.0

// Equalizer is a three band equalizer built from two four-pole filters.  The
// mid band is what remains of the signal, delayed by three samples, after the
// low and high bands are removed.
type Equalizer struct {
	LowGain, MidGain, HighGain float32

	lf, hf float32

	f1, f2     [4][][]float32
	sdm1, sdm2 [][]float32
	sdm3       [][]float32
}

// NewEqualizer creates an equalizer with band edges fcLow and fcHigh for
// cube rate fs
func NewEqualizer(gainLow, gainMid, gainHigh, fcLow, fcHigh, fs float64) *Equalizer {
	return &Equalizer{
		LowGain:  float32(gainLow),
		MidGain:  float32(gainMid),
		HighGain: float32(gainHigh),
		lf:       float32(2 * math.Sin(math.Pi*fcLow/fs)),
		hf:       float32(2 * math.Sin(math.Pi*fcHigh/fs)),
	}
}

// Apply filters src into dst
func (e *Equalizer) Apply(dst, src [][]float32) {
	if e.sdm1 == nil {
		for p := 0; p < 4; p++ {
			e.f1[p] = zeros(src)
			e.f2[p] = zeros(src)
		}
		e.sdm1, e.sdm2, e.sdm3 = zeros(src), zeros(src), zeros(src)
	}
	for z, plane := range src {
		out := dst[z]
		a0, a1, a2, a3 := e.f1[0][z], e.f1[1][z], e.f1[2][z], e.f1[3][z]
		b0, b1, b2, b3 := e.f2[0][z], e.f2[1][z], e.f2[2][z], e.f2[3][z]
		s1, s2, s3 := e.sdm1[z], e.sdm2[z], e.sdm3[z]
		for i, x := range plane {
			a0[i] += e.lf*(x-a0[i]) + vsa
			a1[i] += e.lf * (a0[i] - a1[i])
			a2[i] += e.lf * (a1[i] - a2[i])
			a3[i] += e.lf * (a2[i] - a3[i])
			l := a3[i]

			b0[i] += e.hf*(x-b0[i]) + vsa
			b1[i] += e.hf * (b0[i] - b1[i])
			b2[i] += e.hf * (b1[i] - b2[i])
			b3[i] += e.hf * (b2[i] - b3[i])
			h := s3[i] - b3[i]

			m := s3[i] - (h + l)
			out[i] = l*e.LowGain + m*e.MidGain + h*e.HighGain

			s3[i], s2[i], s1[i] = s2[i], s1[i], x
		}
	}
}

// DisplayTransform compresses a band-passed value for display, sqrt(16·|x|)
func DisplayTransform(x float32) float32 {
	return float32(math.Sqrt(16 * math.Abs(float64(x))))
}
