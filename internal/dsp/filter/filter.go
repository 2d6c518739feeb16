// Package filter implements the per-channel IIR conditioning chain
// (spec.md §4.3 "Filter" stage): a DC-blocking high-pass, a mains-hum
// notch, and a band-pass, each a biquad section run in Direct Form I.
// Coefficient computation follows the standard RBJ cookbook formulas;
// no pack library provides IIR filter design (gonum/dsp covers FFT and
// windowing only), so this stays on plain math.
package filter

import "math"

// biquad holds Direct Form I state for one second-order section.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

func (f *biquad) reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

func (f *biquad) step(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func highpass(cutoffHz, sampleRate, q float64) biquad {
	w0 := 2 * math.Pi * cutoffHz / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosw0) / 2 / a0,
		b1: -(1 + cosw0) / a0,
		b2: (1 + cosw0) / 2 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

func bandpass(centerHz, sampleRate, q float64) biquad {
	w0 := 2 * math.Pi * centerHz / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: alpha / a0,
		b1: 0,
		b2: -alpha / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

func notch(centerHz, sampleRate, q float64) biquad {
	w0 := 2 * math.Pi * centerHz / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: 1 / a0,
		b1: -2 * cosw0 / a0,
		b2: 1 / a0,
		a1: -2 * cosw0 / a0,
		a2: (1 - alpha) / a0,
	}
}

// Config describes the chain applied to every channel.
type Config struct {
	SampleRate    float64
	DCBlockHz     float64 // high-pass cutoff, e.g. 0.5
	MainsHz       float64 // notch center, e.g. 60 or 50
	MainsQ        float64 // notch Q, larger = narrower; 0 defaults to 30
	BandpassLowHz float64 // e.g. 1
	BandpassHighHz float64 // e.g. 100
}

// Chain runs the three-stage biquad cascade on one channel's signal.
type Chain struct {
	stages []*biquad
}

// NewChain builds a per-channel chain from cfg. Each channel in a
// pipeline gets its own Chain instance so filter state never mixes
// across channels.
func NewChain(cfg Config) *Chain {
	q := cfg.MainsQ
	if q == 0 {
		q = 30
	}
	centerBP := (cfg.BandpassLowHz + cfg.BandpassHighHz) / 2
	bw := cfg.BandpassHighHz - cfg.BandpassLowHz
	qBP := centerBP / bw

	hp := highpass(cfg.DCBlockHz, cfg.SampleRate, 0.707)
	nt := notch(cfg.MainsHz, cfg.SampleRate, q)
	bp := bandpass(centerBP, cfg.SampleRate, qBP)
	return &Chain{stages: []*biquad{&hp, &nt, &bp}}
}

// Apply filters one sample through every stage in order.
func (c *Chain) Apply(x float32) float32 {
	v := float64(x)
	for _, s := range c.stages {
		v = s.step(v)
	}
	return float32(v)
}

// Reset clears all filter history, used at session start and restart
// (spec.md §8 scenario 6) so a new session never inherits the previous
// one's transient.
func (c *Chain) Reset() {
	for _, s := range c.stages {
		s.reset()
	}
}
