// Package fft implements the FFT plugin (spec.md §4.4): a per-channel
// ring buffer accumulating filtered samples, a Hann-windowed real FFT
// emitted every hop interval. Windowing and the transform itself come
// from gonum's dsp/window and dsp/fourier sub-packages, extending the
// already-adopted gonum.org/v1/gonum module rather than
// introducing a new dependency.
package fft

import (
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

// channelRing accumulates one channel's samples across batches until a
// full window is available, then slides forward by hop samples.
type channelRing struct {
	buf         []float32 // fixed length windowLen once full
	filled      int       // samples held, grows to windowLen then stays
	totalPushed int       // lifetime sample count, used to find hop boundaries
	lastSeq     frame.FrameIndex
}

// Stage runs one FFT window/hop schedule across all channels, publishing
// an FftFrame per channel whenever the hop boundary is crossed.
type Stage struct {
	windowLen int
	hopLen    int
	sampleRate int
	rings     []channelRing
	fft       *fourier.FFT
	win       []float64
	freqHz    []float32

	emit func(*frame.FftFrame)
}

// NewStage builds an FFT stage for the given channel count. windowLen and
// hopLen are sample counts (derived from SessionConfig's millisecond
// fields via config.WindowSamples/HopSamples). emit is called once per
// channel each time a window completes.
func NewStage(channels, windowLen, hopLen, sampleRate int, emit func(*frame.FftFrame)) *Stage {
	s := &Stage{
		windowLen:  windowLen,
		hopLen:     hopLen,
		sampleRate: sampleRate,
		rings:      make([]channelRing, channels),
		fft:        fourier.NewFFT(windowLen),
		emit:       emit,
	}
	ones := make([]float64, windowLen)
	for i := range ones {
		ones[i] = 1
	}
	s.win = window.Hann(ones) // window.Hann multiplies in place; seeding with 1s yields the coefficients themselves

	nf := windowLen/2 + 1
	s.freqHz = make([]float32, nf)
	for i := range s.freqHz {
		s.freqHz[i] = float32(i) * float32(sampleRate) / float32(windowLen)
	}
	for i := range s.rings {
		s.rings[i].buf = make([]float32, windowLen)
	}
	return s
}

// Process folds one SampleBatch's channels into their rings, emitting an
// FftFrame per channel for every hop boundary crossed. It never returns
// an error: windowing/FFT failures are not part of the fault surface
// this plugin exposes (gonum's FFT does not itself fail on valid input).
func (s *Stage) Process(b *frame.SampleBatch) (*frame.SampleBatch, error) {
	for ch := 0; ch < b.Channels && ch < len(s.rings); ch++ {
		r := &s.rings[ch]
		r.lastSeq = b.Seq
		for _, v := range b.Channel(ch) {
			s.push(r, v)
			if r.filled == s.windowLen && (r.totalPushed-s.windowLen)%s.hopLen == 0 {
				s.emitWindow(ch, r)
			}
		}
	}
	return nil, nil // FFT is a terminal stage on its own bus; it does not forward batches
}

// push appends v to the ring, sliding the window left by one sample
// once it's full so buf always holds the most recent windowLen samples.
func (s *Stage) push(r *channelRing, v float32) {
	if r.filled < s.windowLen {
		r.buf[r.filled] = v
		r.filled++
	} else {
		copy(r.buf, r.buf[1:])
		r.buf[s.windowLen-1] = v
	}
	r.totalPushed++
}

func (s *Stage) emitWindow(ch int, r *channelRing) {
	windowed := make([]float64, s.windowLen)
	for i, v := range r.buf {
		windowed[i] = float64(v) * s.win[i]
	}
	coeffs := s.fft.Coefficients(nil, windowed)
	power := make([]float32, len(coeffs))
	for i, c := range coeffs {
		re, im := real(c), imag(c)
		power[i] = float32(re*re + im*im)
	}
	s.emit(&frame.FftFrame{
		SourceSeq: r.lastSeq,
		Channel:   ch,
		Power:     power,
		FreqHz:    s.freqHz,
	})
}
