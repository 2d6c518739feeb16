package adcsource

import (
	"context"
	"testing"
	"time"

	"github.com/Elata-Biosciences/elata-eeg/internal/bus"
	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

// TestMockSourceDenseSequenceAndTimestamps exercises spec.md §8 scenario 1
// at a reduced batch count (keeping the test fast) and checks the
// quantified invariants: dense sequence numbers and timestamps spaced by
// approximately N/sample_rate.
func TestMockSourceDenseSequenceAndTimestamps(t *testing.T) {
	const channels = 4
	const sampleRate = 250
	const batchSize = 25
	const nBatches = 4

	chanList := []int{0, 1, 2, 3}
	batchBus := bus.New[*frame.SampleBatch](8)
	errBus := bus.New[*frame.ErrorFrame](8)
	sub := batchBus.Subscribe()

	reader := NewMockReader(MockConfig{
		Channels:   chanList,
		Waveforms:  []Waveform{{Channel: 0, FreqHz: 10, AmplVolts: 1e-5}},
		NoiseVolts: 1e-7,
		SampleRate: sampleRate,
		Seed:       7,
	})
	src := NewAnySource(reader, Config{
		Channels:   chanList,
		BatchSize:  batchSize,
		SampleRate: sampleRate,
		PoolSize:   4,
		BatchBus:   batchBus,
		ErrorBus:   errBus,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	var batches []*frame.SampleBatch
	for i := 0; i < nBatches; i++ {
		select {
		case b := <-sub.C:
			batches = append(batches, b)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for batch %d", i)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Run did not return within 500ms of cancellation")
	}

	for i, b := range batches {
		if b.Seq != frame.FrameIndex(i) {
			t.Errorf("batch %d has Seq=%d, want %d", i, b.Seq, i)
		}
		if b.Channels != channels || b.PerChannel != batchSize {
			t.Errorf("batch %d geometry = %dx%d, want %dx%d", i, b.Channels, b.PerChannel, channels, batchSize)
		}
		if i > 0 {
			dt := b.TimestampNano - batches[i-1].TimestampNano
			wantNanos := float64(batchSize) / float64(sampleRate) * 1e9
			if float64(dt) < wantNanos*0.5 || float64(dt) > wantNanos*1.5 {
				t.Errorf("batch %d-%d timestamp delta = %dns, want ~%vns", i-1, i, dt, wantNanos)
			}
			if dt < 0 {
				t.Errorf("batch %d timestamp went backwards relative to batch %d", i, i-1)
			}
		}
	}
}

// TestHardwareFaultTransitionsToFailed checks that a ReadSample error
// (simulating an ID mismatch or bus fault surfaced by Configure/ReadSample)
// transitions the source to Failed and emits an ErrorFrame, with no
// further batches published (spec.md §8 scenario 4).
func TestHardwareFaultTransitionsToFailed(t *testing.T) {
	batchBus := bus.New[*frame.SampleBatch](4)
	errBus := bus.New[*frame.ErrorFrame](4)
	batchSub := batchBus.Subscribe()
	errSub := errBus.Subscribe()

	src := NewAnySource(&failingReader{}, Config{
		Channels:   []int{0},
		BatchSize:  2,
		SampleRate: 250,
		PoolSize:   2,
		BatchBus:   batchBus,
		ErrorBus:   errBus,
	})

	err := src.Run(context.Background())
	if err == nil {
		t.Fatal("Run() returned nil error, want the simulated fault")
	}
	if src.State() != StateFailed {
		t.Errorf("State() = %v, want Failed", src.State())
	}
	select {
	case ef := <-errSub.C:
		if ef.Message == "" {
			t.Error("ErrorFrame has empty message")
		}
	default:
		t.Error("expected an ErrorFrame on the error bus")
	}
	select {
	case b := <-batchSub.C:
		t.Errorf("expected no SampleBatch after a fault, got seq=%d", b.Seq)
	default:
	}
}

type failingReader struct{}

func (failingReader) Configure(ctx context.Context) error { return nil }
func (failingReader) ReadSample(ctx context.Context, out []float32) (int64, error) {
	return 0, errDeviceIDMismatch
}
func (failingReader) Close() error { return nil }

var errDeviceIDMismatch = &deviceError{"device id mismatch"}

type deviceError struct{ msg string }

func (e *deviceError) Error() string { return e.msg }
