package recorder

import (
	"fmt"
	"sync"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

// Stage implements pipeline.SinkPlugin, gating writes to an underlying
// Writer by an on/off flag the control plane toggles via WriteControl
// (spec.md's control surface, carried in internal/control).
type Stage struct {
	mu                sync.Mutex
	writer            *Writer
	enabled           bool
	samplePeriodNanos int64
}

// NewStage wraps writer, starting disabled until WriteControl(true).
// samplePeriodNanos is the inter-sample spacing at the session's
// configured sample rate (time.Second/sampleRate), used to stamp each
// sample within a batch at its true offset from the batch's first
// sample rather than collapsing the whole batch to one instant.
func NewStage(writer *Writer, samplePeriodNanos int64) *Stage {
	return &Stage{writer: writer, samplePeriodNanos: samplePeriodNanos}
}

// SetEnabled toggles recording on or off. Turning on for the first time
// creates the file and writes the header; turning off only stops
// writes, it does not close the file (a later SetEnabled(true) resumes
// appending).
func (s *Stage) SetEnabled(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on && !s.enabled {
		if s.writer.f == nil {
			if err := s.writer.CreateFile(); err != nil {
				return err
			}
		}
		if !s.writer.HeaderWritten() {
			if err := s.writer.WriteHeader(); err != nil {
				return err
			}
		}
	}
	s.enabled = on
	return nil
}

// Enabled reports the current on/off state.
func (s *Stage) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Consume writes every sample in b as one CSV row, one per
// per-channel index, when recording is enabled; otherwise it's a no-op.
func (s *Stage) Consume(b *frame.SampleBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil
	}
	row := make([]float32, b.Channels)
	for i := 0; i < b.PerChannel; i++ {
		for ch := 0; ch < b.Channels; ch++ {
			row[ch] = b.Channel(ch)[i]
		}
		tsNano := b.TimestampNano + int64(i)*s.samplePeriodNanos
		if err := s.writer.WriteRecord(tsNano, row); err != nil {
			return fmt.Errorf("recorder: write seq=%d sample=%d: %w", b.Seq, i, err)
		}
	}
	s.writer.Flush()
	return nil
}

// Close flushes and closes the underlying file.
func (s *Stage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}
