package filter

import (
	"gonum.org/v1/gonum/mat"

	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

// Stage implements pipeline.FilterPlugin: it runs one Chain per channel
// over a SampleBatch. The raw batch handed in also reaches Recorder and
// the instrumentation tap directly from the source (spec.md §4.4), so
// Process must not mutate it in place — it acquires its own output
// batch from pool and leaves the input untouched, letting the host
// release the input back to the source's pool exactly as any other
// subscriber would.
//
// The batch's flat channel-major float32 slice is viewed through a
// gonum/mat.Dense (channels × per-channel) while filtering runs, the
// same representation data_source.go and off/off_test.go
// use for sample matrices (mat.Dense wraps a row-major []float64 — here
// rows are channels and the underlying data is copied through float64
// only for the duration of one Apply call since Chain operates in
// float64).
type Stage struct {
	chains    []*Chain
	cfg       Config
	pool      *frame.Pool
	vrefVolts float32
	gains     []float32 // aligned by channel position, same order as chains
}

// NewStage builds one Chain per channel, all sharing cfg. pool supplies
// the output batches this stage produces; it must be sized for the same
// channel/per-channel geometry as the input batches. vrefVolts and gains
// (aligned by channel position) give Process the per-channel bound
// frame.Clamp enforces: values outside the physically meaningful range
// for a gain-scaled channel are clamped here, at the DSP boundary, never
// at the source (spec.md §3).
func NewStage(channels int, cfg Config, pool *frame.Pool, vrefVolts float32, gains []float32) *Stage {
	s := &Stage{cfg: cfg, pool: pool, vrefVolts: vrefVolts, gains: gains}
	for i := 0; i < channels; i++ {
		s.chains = append(s.chains, NewChain(cfg))
	}
	return s
}

// Process filters every channel's samples in b into a freshly acquired
// output batch, leaving b unmodified.
func (s *Stage) Process(b *frame.SampleBatch) (*frame.SampleBatch, error) {
	out, err := s.pool.Acquire()
	if err != nil {
		return nil, err
	}
	out.Seq = b.Seq
	out.TimestampNano = b.TimestampNano

	m := mat.NewDense(b.Channels, b.PerChannel, nil)
	for ch := 0; ch < b.Channels; ch++ {
		row := b.Channel(ch)
		for i, v := range row {
			m.Set(ch, i, float64(v))
		}
	}
	for ch := 0; ch < b.Channels && ch < len(s.chains); ch++ {
		in := m.RawRowView(ch)
		dst := out.Channel(ch)
		gain := float32(1)
		if ch < len(s.gains) && s.gains[ch] != 0 {
			gain = s.gains[ch]
		}
		for i, v := range in {
			dst[i] = frame.Clamp(s.chains[ch].Apply(float32(v)), s.vrefVolts, gain)
		}
	}
	return out, nil
}

// Reset clears every channel's filter history (session start/restart).
func (s *Stage) Reset() {
	for _, c := range s.chains {
		c.Reset()
	}
}
