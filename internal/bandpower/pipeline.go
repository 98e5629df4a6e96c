// Package bandpower turns a stream of scalar EEG samples into per-band power
// estimates, one Snapshot per full window of WindowSize samples.
//
// Aggregation rule (held fixed, consumers compare values numerically):
// the window is transformed with an unnormalised real DFT, X = fft.FFTReal(w),
// and the power of a band is the sum of |X[k]|^2 over every bin k in
// [0, WindowSize/2] whose frequency k*sampleRate/WindowSize lies in the band's
// half-open range. No windowing function, no detrending, no overlap.
//
// Every finite window yields finite, non-negative powers. The window is scaled
// by a power of two before the transform, which keeps the butterflies in range
// without changing any representable result, and a band whose true power
// exceeds math.MaxFloat64 saturates at math.MaxFloat64.
package bandpower

import (
	"errors"
	"fmt"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

const (
	// WindowSize is the number of samples consumed per transform.
	WindowSize = 256

	// DefaultSampleRate is the sensor sampling rate in Hz assumed when none is configured.
	// At 256 Hz each DFT bin is exactly 1 Hz wide.
	DefaultSampleRate = 256.0
)

// ErrNonFinite is returned by Ingest for NaN or infinite samples.
var ErrNonFinite = errors.New("non-finite sample")

// Pipeline accumulates samples into disjoint windows and converts each full
// window into a Snapshot. It is not safe for concurrent use; the single
// ingestion path owns it.
type Pipeline struct {
	sampleRate float64
	binBand    [WindowSize/2 + 1]int // band index per DFT bin, -1 when outside all bands

	window [WindowSize]float64
	scaled [WindowSize]float64
	fill   int

	windows uint64 // completed windows
}

// NewPipeline creates a pipeline for a sensor sampling at sampleRate Hz.
func NewPipeline(sampleRate float64) (*Pipeline, error) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return nil, fmt.Errorf("invalid sample rate %v: must be a positive finite number", sampleRate)
	}

	p := &Pipeline{sampleRate: sampleRate}
	for k := range p.binBand {
		p.binBand[k] = -1
		if b, ok := bandFor(BinFrequency(k, sampleRate)); ok {
			p.binBand[k] = int(b)
		}
	}
	return p, nil
}

// BinFrequency returns the centre frequency in Hz of DFT bin k for a WindowSize-point transform.
func BinFrequency(k int, sampleRate float64) float64 {
	return float64(k) * sampleRate / WindowSize
}

// Ingest appends v to the current window. On the call that fills the window it
// transforms the window, clears it and returns the new Snapshot; every other
// call returns nil. Non-finite samples are rejected with ErrNonFinite and do
// not touch the window.
func (p *Pipeline) Ingest(v float64) (*Snapshot, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %v", ErrNonFinite, v)
	}

	p.window[p.fill] = v
	p.fill++
	if p.fill < WindowSize {
		return nil, nil
	}

	snap := p.transform()
	p.fill = 0
	p.windows++
	return &snap, nil
}

// Fill returns the number of samples in the current, not yet transformed, window.
func (p *Pipeline) Fill() int {
	return p.fill
}

// Windows returns how many windows have been transformed so far.
func (p *Pipeline) Windows() uint64 {
	return p.windows
}

// SampleRate returns the configured sampling rate in Hz.
func (p *Pipeline) SampleRate() float64 {
	return p.sampleRate
}

// Reset discards the partially filled window.
func (p *Pipeline) Reset() {
	p.fill = 0
}

func (p *Pipeline) transform() Snapshot {
	var snap Snapshot

	var peak float64
	for _, v := range p.window {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak == 0 {
		return snap
	}

	// peak/2^exp is in [0.5, 1), so every |X[k]| stays below WindowSize.
	_, exp := math.Frexp(peak)
	for i, v := range p.window {
		p.scaled[i] = math.Ldexp(v, -exp)
	}
	coeffs := fft.FFTReal(p.scaled[:])

	for k, b := range p.binBand {
		if b < 0 {
			continue
		}
		re, im := real(coeffs[k]), imag(coeffs[k])
		snap[b] += re*re + im*im
	}
	for b := range snap {
		snap[b] = saturate(math.Ldexp(snap[b], 2*exp))
	}
	return snap
}

func saturate(v float64) float64 {
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}
