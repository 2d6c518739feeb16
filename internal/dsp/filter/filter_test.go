package filter

import (
	"math"
	"testing"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

func TestChainAttenuatesDC(t *testing.T) {
	c := NewChain(Config{
		SampleRate:     250,
		DCBlockHz:      0.5,
		MainsHz:        60,
		BandpassLowHz:  1,
		BandpassHighHz: 100,
	})
	var last float32
	for i := 0; i < 2000; i++ {
		last = c.Apply(1.0)
	}
	if math.Abs(float64(last)) > 0.05 {
		t.Errorf("steady DC input did not settle near zero after the high-pass: got %v", last)
	}
}

func TestChainResetClearsHistory(t *testing.T) {
	c := NewChain(Config{SampleRate: 250, DCBlockHz: 0.5, MainsHz: 60, BandpassLowHz: 1, BandpassHighHz: 100})
	for i := 0; i < 500; i++ {
		c.Apply(1.0)
	}
	c.Reset()
	first := c.Apply(0)
	if first != 0 {
		t.Errorf("Apply(0) after Reset = %v, want 0 (no residual history)", first)
	}
}

func TestStageProcessPreservesGeometry(t *testing.T) {
	cfg := Config{SampleRate: 250, DCBlockHz: 0.5, MainsHz: 60, BandpassLowHz: 1, BandpassHighHz: 100}
	pool := frame.NewPool(1, 2, 4)
	s := NewStage(2, cfg, pool, 4.5, []float32{24, 24})
	b := &frame.SampleBatch{
		Seq: 3, Channels: 2, PerChannel: 4,
		Samples: []float32{1, 1, 1, 1, -1, -1, -1, -1},
	}
	out, err := s.Process(b)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out == b {
		t.Fatal("Process should return a distinct output batch, not mutate its input in place")
	}
	if b.Samples[0] != 1 {
		t.Error("Process must not mutate the input batch, which other subscribers still read")
	}
	if out.Channels != 2 || out.PerChannel != 4 {
		t.Errorf("geometry changed: %dx%d", out.Channels, out.PerChannel)
	}
	if out.Seq != 3 {
		t.Errorf("Seq changed: got %d, want 3", out.Seq)
	}
}

func TestStageProcessClampsToVrefOverGain(t *testing.T) {
	// DC-block cutoff effectively disabled (near 0) so the chain's first
	// outputs for a steady huge input are still far outside +/- vref/gain
	// and must be clamped rather than forwarded raw.
	cfg := Config{SampleRate: 250, DCBlockHz: 0.001, MainsHz: 60, BandpassLowHz: 0.001, BandpassHighHz: 124}
	pool := frame.NewPool(1, 1, 8)
	s := NewStage(1, cfg, pool, 4.5, []float32{1})
	b := &frame.SampleBatch{
		Channels: 1, PerChannel: 8,
		Samples: []float32{100, 100, 100, 100, 100, 100, 100, 100},
	}
	out, err := s.Process(b)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	limit := float32(4.5) // vref=4.5, gain=1
	for i, v := range out.Channel(0) {
		if v > limit || v < -limit {
			t.Errorf("sample %d = %v, want within +/- %v", i, v, limit)
		}
	}
}
