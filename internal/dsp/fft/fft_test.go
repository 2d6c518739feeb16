package fft

import (
	"math"
	"testing"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

func TestStageEmitsOneFramePerWindow(t *testing.T) {
	const (
		channels   = 1
		sampleRate = 256
		windowLen  = 64
		hopLen     = 64
	)
	var emitted []*frame.FftFrame
	s := NewStage(channels, windowLen, hopLen, sampleRate, func(f *frame.FftFrame) {
		emitted = append(emitted, f)
	})

	samples := make([]float32, windowLen)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * 10 * float64(i) / sampleRate))
	}
	b := &frame.SampleBatch{Seq: 5, Channels: 1, PerChannel: windowLen, Samples: samples}

	if _, err := s.Process(b); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("emitted %d frames, want 1", len(emitted))
	}
	f := emitted[0]
	if f.Channel != 0 {
		t.Errorf("Channel = %d, want 0", f.Channel)
	}
	if f.SourceSeq != 5 {
		t.Errorf("SourceSeq = %d, want 5", f.SourceSeq)
	}
	wantBins := windowLen/2 + 1
	if len(f.Power) != wantBins || len(f.FreqHz) != wantBins {
		t.Errorf("got %d power bins / %d freq bins, want %d", len(f.Power), len(f.FreqHz), wantBins)
	}
}

// TestStageSinusoidPeaksAtItsFrequency feeds a pure 10 Hz tone at 500 Hz
// sample rate through one full 1024ms window and checks the emitted
// power spectrum's peak bin falls within one bin width of 10 Hz (spec.md
// §8 scenario 2: "FFT output for that channel exhibits a single peak in
// the bin containing f").
func TestStageSinusoidPeaksAtItsFrequency(t *testing.T) {
	const (
		channels   = 1
		sampleRate = 500
		windowMs   = 1024
		toneHz     = 10.0
	)
	windowLen := sampleRate * windowMs / 1000

	var emitted *frame.FftFrame
	s := NewStage(channels, windowLen, windowLen, sampleRate, func(f *frame.FftFrame) {
		emitted = f
	})

	samples := make([]float32, windowLen)
	for i := range samples {
		samples[i] = float32(math.Sin(2 * math.Pi * toneHz * float64(i) / sampleRate))
	}
	b := &frame.SampleBatch{Channels: channels, PerChannel: windowLen, Samples: samples}
	if _, err := s.Process(b); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if emitted == nil {
		t.Fatal("no frame emitted")
	}

	maxBin := 0
	for i, p := range emitted.Power {
		if p > emitted.Power[maxBin] {
			maxBin = i
		}
	}
	binWidthHz := float64(sampleRate) / float64(windowLen)
	peakHz := float64(emitted.FreqHz[maxBin])
	if math.Abs(peakHz-toneHz) > binWidthHz {
		t.Errorf("peak bin at %.3f Hz, want within %.3f Hz of %.1f Hz", peakHz, binWidthHz, toneHz)
	}
}

func TestStageHopSmallerThanWindowEmitsRepeatedly(t *testing.T) {
	const (
		sampleRate = 256
		windowLen  = 32
		hopLen     = 16
	)
	var emitted int
	s := NewStage(1, windowLen, hopLen, sampleRate, func(f *frame.FftFrame) { emitted++ })

	samples := make([]float32, windowLen+3*hopLen)
	b := &frame.SampleBatch{Channels: 1, PerChannel: len(samples), Samples: samples}
	if _, err := s.Process(b); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if emitted != 4 {
		t.Errorf("emitted = %d, want 4 (1 at window fill + 3 more hops)", emitted)
	}
}
