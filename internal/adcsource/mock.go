package adcsource

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Waveform is one sinusoid the mock source sums into a channel's signal.
type Waveform struct {
	Channel   int
	FreqHz    float64
	AmplVolts float64
}

// MockReader implements SampleReader with a synthetic sum-of-sinusoids
// plus Gaussian noise signal, advancing its own virtual clock and
// sleeping until wall-clock catches up (spec.md §4.2 "Mock source"). It
// never blocks longer than one sample period.
type MockReader struct {
	channels   []int
	waveforms  map[int][]Waveform
	noiseVolts float64
	sampleRate int
	period     time.Duration

	rng        *rand.Rand
	virtualT0  time.Time
	sampleIdx  int64
}

// MockConfig configures the synthetic source.
type MockConfig struct {
	Channels   []int
	Waveforms  []Waveform
	NoiseVolts float64
	SampleRate int
	Seed       int64
}

// NewMockReader builds a mock reader. Seed 0 selects a fixed, reproducible
// seed so tests are deterministic.
func NewMockReader(cfg MockConfig) *MockReader {
	byChan := make(map[int][]Waveform)
	for _, w := range cfg.Waveforms {
		byChan[w.Channel] = append(byChan[w.Channel], w)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &MockReader{
		channels:   cfg.Channels,
		waveforms:  byChan,
		noiseVolts: cfg.NoiseVolts,
		sampleRate: cfg.SampleRate,
		period:     time.Duration(float64(time.Second) / float64(cfg.SampleRate)),
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Configure starts the virtual clock at the current wall-clock time.
func (m *MockReader) Configure(ctx context.Context) error {
	m.virtualT0 = time.Now()
	return nil
}

// ReadSample synthesizes one sample per channel and paces itself to the
// virtual clock, sleeping at most one sample period.
func (m *MockReader) ReadSample(ctx context.Context, out []float32) (int64, error) {
	tVirtual := m.virtualT0.Add(time.Duration(m.sampleIdx) * m.period)
	now := time.Now()
	if wait := tVirtual.Sub(now); wait > 0 {
		if wait > m.period {
			wait = m.period
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return 0, ctx.Err()
		}
	}

	tSeconds := float64(m.sampleIdx) / float64(m.sampleRate)
	for i, ch := range m.channels {
		var v float64
		for _, w := range m.waveforms[ch] {
			v += w.AmplVolts * math.Sin(2*math.Pi*w.FreqHz*tSeconds)
		}
		v += m.rng.NormFloat64() * m.noiseVolts
		out[i] = float32(v)
	}
	m.sampleIdx++
	return tVirtual.UnixNano(), nil
}

// Close is a no-op for the mock source.
func (m *MockReader) Close() error { return nil }
