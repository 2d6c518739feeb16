// Package adcsource owns the ADS1299 chip end-to-end for one session:
// power-up sequencing, channel configuration, and the DRDY-triggered
// sample loop (spec.md §4.2). It generalizes data_source.go's AnySource /
// DataSource / Start(ds) pattern from "pulse source feeding a trigger
// broker" to "sigma-delta ADC batch source feeding a frame bus".
package adcsource

import (
	"context"
	"fmt"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/Elata-Biosciences/elata-eeg/internal/bus"
	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
)

// SampleReader is the narrow capability a concrete source variant
// (hardware or mock) must supply. AnySource owns everything else: batch
// assembly, sequencing, timestamping, the drop policy, and the state
// machine (spec.md §9 "Source polymorphism": a capability interface,
// constructed once per session, no dynamic swapping).
type SampleReader interface {
	// Configure performs the start-up procedure (hardware) or prepares the
	// virtual clock (mock). Called once, from StateConfiguring.
	Configure(ctx context.Context) error
	// ReadSample blocks until one sample per enabled channel is available
	// and writes them into out (len(out) == channel count), returning the
	// host timestamp of that sample. Blocks on DRDY for hardware; blocks
	// on the virtual clock for mock.
	ReadSample(ctx context.Context, out []float32) (timestampNano int64, err error)
	// Close releases any resources (HAL handles, etc.).
	Close() error
}

// AnySource drives a SampleReader through the sample loop and publishes
// completed batches to the frame bus, implementing everything spec.md
// §4.2 describes as common to any ADC source.
type AnySource struct {
	stateBox

	reader       SampleReader
	channels     []int
	batchSize    int
	sampleRate   int
	samplePeriod time.Duration

	pool      *frame.Pool
	batchBus  *bus.Bus[*frame.SampleBatch]
	errorBus  *bus.Bus[*frame.ErrorFrame]

	nextSeq frame.FrameIndex

	dropCount      uint64
	lastDropReport time.Time

	// maxDrdyWait is 10x the batch period. The sample loop does not consult
	// it: the DRDY timeout that fails the source is HardwareReader's own,
	// 10 sample periods per DRDY wait.
	maxDrdyWait time.Duration
}

// Config bundles what AnySource needs beyond the SampleReader itself.
type Config struct {
	Channels   []int
	BatchSize  int
	SampleRate int
	PoolSize   int
	BatchBus   *bus.Bus[*frame.SampleBatch]
	ErrorBus   *bus.Bus[*frame.ErrorFrame]
}

// NewAnySource builds the common driver around a concrete SampleReader.
func NewAnySource(reader SampleReader, cfg Config) *AnySource {
	period := time.Duration(float64(time.Second) / float64(cfg.SampleRate))
	s := &AnySource{
		reader:       reader,
		channels:     cfg.Channels,
		batchSize:    cfg.BatchSize,
		sampleRate:   cfg.SampleRate,
		samplePeriod: period,
		pool:         frame.NewPool(cfg.PoolSize, len(cfg.Channels), cfg.BatchSize),
		batchBus:     cfg.BatchBus,
		errorBus:     cfg.ErrorBus,
		maxDrdyWait:  period * time.Duration(cfg.BatchSize) * 10,
	}
	s.Store(StateUninitialized)
	return s
}

// Run executes the full session lifecycle: Configure, then the sample
// loop, until ctx is cancelled or a hardware fault transitions the source
// to Failed. It mirrors data_source.go's Start(ds DataSource) driver
// goroutine, generalized to a blocking call the caller
// runs on its own goroutine (or dedicated OS thread, per spec.md §9
// "Async vs. parallel").
func (s *AnySource) Run(ctx context.Context) error {
	if !s.compareAndSwap(StateUninitialized, StateConfiguring) {
		return fmt.Errorf("adcsource: Run called more than once")
	}
	if err := s.reader.Configure(ctx); err != nil {
		s.Store(StateFailed)
		s.emitError(fmt.Sprintf("configure: %v", err))
		return err
	}
	if !s.compareAndSwap(StateConfiguring, StateRunning) {
		return fmt.Errorf("adcsource: state changed during Configure")
	}

	err := s.sampleLoop(ctx)

	if s.Load() != StateFailed {
		s.Store(StateStopping)
		s.Store(StateStopped)
	}
	s.reader.Close()
	return err
}

// sampleLoop assembles batches until cancellation or a fatal error. A
// batch is always complete before publication (spec.md §4.2).
func (s *AnySource) sampleLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if s.Load() == StateStopping {
			return nil
		}

		batch, err := s.pool.Acquire()
		if err != nil {
			// OutOfBuffers is treated identically to bus backpressure
			// (spec.md §5 "Shared resources").
			s.reportDrop()
			continue
		}
		batch.Channels = len(s.channels)
		batch.PerChannel = s.batchSize

		var firstTs int64
		row := make([]float32, len(s.channels))
		for i := 0; i < s.batchSize; i++ {
			ts, err := s.reader.ReadSample(ctx, row)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.Store(StateFailed)
				s.emitError(fmt.Sprintf("hardware fault: %v", err))
				return err
			}
			if i == 0 {
				firstTs = ts
			}
			for ch := range row {
				batch.Samples[ch*s.batchSize+i] = row[ch]
			}
		}

		batch.Seq = s.nextSeq
		batch.TimestampNano = firstTs
		s.nextSeq++

		s.publish(batch)
	}
}

// publish hands a completed batch to the bus, applying the drop policy
// (spec.md §4.2 "Drop policy") and committing the batch's reference count
// to whatever subset of subscribers actually received it.
func (s *AnySource) publish(batch *frame.SampleBatch) {
	n := s.batchBus.NSubscribers()
	if n == 0 {
		s.pool.Commit(batch, 0)
		return
	}
	blocked := s.batchBus.Publish(batch)
	delivered := n - len(blocked)
	s.pool.Commit(batch, delivered)
	if len(blocked) > 0 {
		s.reportDrop()
	}
}

// reportDrop increments the drop counter and emits at most one
// ErrorFrame per second (spec.md §4.2).
func (s *AnySource) reportDrop() {
	s.dropCount++
	now := time.Now()
	if now.Sub(s.lastDropReport) < time.Second {
		return
	}
	s.lastDropReport = now
	s.emitError(fmt.Sprintf("backpressure: dropped %d batches", s.dropCount))
}

func (s *AnySource) emitError(msg string) {
	if s.errorBus == nil {
		return
	}
	s.errorBus.Publish(&frame.ErrorFrame{At: time.Now(), Message: msg})
}

// Stop requests cancellation cooperatively observed by the sample loop;
// callers normally cancel the context passed to Run instead, but Stop is
// kept for parity with data_source.go's DataSource.Stop and for use from the
// RPC control surface.
func (s *AnySource) Stop() error {
	st := s.Load()
	if st != StateRunning {
		return fmt.Errorf("adcsource: not running (state=%s)", st)
	}
	s.Store(StateStopping)
	return nil
}

// DumpState returns a verbose dump of the source's internal counters for
// fault diagnosis, in data_source.go's spew.Sdump idiom.
func (s *AnySource) DumpState() string {
	return spew.Sdump(struct {
		State     State
		NextSeq   frame.FrameIndex
		DropCount uint64
	}{s.Load(), s.nextSeq, s.dropCount})
}

// State reports the current lifecycle state.
func (s *AnySource) State() State { return s.Load() }

// Pool exposes the raw batch pool so downstream subscribers (Filter,
// Recorder) can release batches back to the same pool that acquired
// them, rather than each holding their own.
func (s *AnySource) Pool() *frame.Pool { return s.pool }

// Channels returns the enabled channel indices for this session.
func (s *AnySource) Channels() []int { return s.channels }
