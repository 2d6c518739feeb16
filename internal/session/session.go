// Package session wires the whole acquisition pipeline together for one
// run: HAL → ADC Source → Frame Bus → {Filter → Bus → FFT, Recorder} →
// Wire Publisher, plus the optional instrumentation tap and the RPC
// control surface. It adapts rpc_server.go's SourceControl.Start/Stop
// re-armability into a Session value built by New for one run; a restart
// across reconfiguration (spec.md §8 scenario 6) builds a new Session,
// whose source numbers batches from 0 again. Run does not repeat on a
// used Session: its source refuses a second Run.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Elata-Biosciences/elata-eeg/internal/adcsource"
	"github.com/Elata-Biosciences/elata-eeg/internal/bus"
	"github.com/Elata-Biosciences/elata-eeg/internal/config"
	"github.com/Elata-Biosciences/elata-eeg/internal/control"
	"github.com/Elata-Biosciences/elata-eeg/internal/dsp/fft"
	"github.com/Elata-Biosciences/elata-eeg/internal/dsp/filter"
	"github.com/Elata-Biosciences/elata-eeg/internal/dsp/recorder"
	"github.com/Elata-Biosciences/elata-eeg/internal/frame"
	"github.com/Elata-Biosciences/elata-eeg/internal/hal"
	"github.com/Elata-Biosciences/elata-eeg/internal/pipeline"
	"github.com/Elata-Biosciences/elata-eeg/internal/publisher"
	"github.com/Elata-Biosciences/elata-eeg/internal/tap"
	"github.com/Elata-Biosciences/elata-eeg/internal/wire"
)

// Session owns one complete run of the pipeline for one SessionConfig.
// It satisfies control.Session so internal/control can drive Stop and
// WriteControl without importing this package.
type Session struct {
	cfg *config.SessionConfig

	source        *adcsource.AnySource
	filterHost    *pipeline.PluginHost
	fftHost       *pipeline.PluginHost
	recorderStage *recorder.Stage
	recorderHost  *pipeline.SinkHost
	pub           *publisher.Publisher
	tap           *tap.Tap

	batchBus    *bus.Bus[*frame.SampleBatch]
	filteredBus *bus.Bus[*frame.SampleBatch]
	fftBus      *bus.Bus[*frame.FftFrame]
	errorBus    *bus.Bus[*frame.ErrorFrame]

	rawPool      *frame.Pool
	filteredPool *frame.Pool

	ctl *control.SessionControl

	cancel context.CancelFunc
	samplesEmitted int64
	mu             sync.Mutex
}

// New builds a Session from cfg. The pipeline's goroutines start only in
// Run, but New already opens the HAL (SPI port and GPIO lines) for a
// hardware source and binds the tap's PUB socket when ZMQPubEndpoint is
// set.
func New(cfg *config.SessionConfig, ctl *control.SessionControl) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, ctl: ctl}

	s.batchBus = bus.New[*frame.SampleBatch](cfg.QueueCapacity)
	s.filteredBus = bus.New[*frame.SampleBatch](cfg.QueueCapacity)
	s.fftBus = bus.New[*frame.FftFrame](cfg.QueueCapacity)
	s.errorBus = bus.New[*frame.ErrorFrame](cfg.QueueCapacity)

	reader, err := buildReader(cfg)
	if err != nil {
		return nil, err
	}
	s.source = adcsource.NewAnySource(reader, adcsource.Config{
		Channels:   cfg.Channels,
		BatchSize:  cfg.BatchSize,
		SampleRate: cfg.SampleRateHz,
		PoolSize:   cfg.QueueCapacity,
		BatchBus:   s.batchBus,
		ErrorBus:   s.errorBus,
	})
	// rawPool is the source's own pool: Filter, Recorder, and the tap's
	// inline mirror all read the same raw batch concurrently, so every
	// downstream subscriber must release back into the pool that
	// actually acquired it rather than a pool of its own. filteredPool
	// owns Filter's own output batches, which only the FFT stage and the
	// wire publisher ever see.
	rawPool := s.source.Pool()
	filteredPool := frame.NewPool(cfg.QueueCapacity, len(cfg.Channels), cfg.BatchSize)
	s.rawPool = rawPool
	s.filteredPool = filteredPool

	gains := make([]float32, len(cfg.Channels))
	for i, ch := range cfg.Channels {
		gains[i] = float32(cfg.Gain(ch))
	}
	filterStage := filter.NewStage(len(cfg.Channels), filter.Config{
		SampleRate:     float64(cfg.SampleRateHz),
		DCBlockHz:      0.5,
		MainsHz:        60,
		BandpassLowHz:  1,
		BandpassHighHz: float64(cfg.SampleRateHz) / 2.5,
	}, filteredPool, float32(cfg.VrefVolts), gains)
	s.filterHost = pipeline.NewPluginHost("filter", filterStage, cfg.QueueCapacity, s.filteredBus, s.errorBus, rawPool, filteredPool)

	fftStage := fft.NewStage(len(cfg.Channels), cfg.WindowSamples(), cfg.HopSamples(), cfg.SampleRateHz, func(f *frame.FftFrame) {
		s.fftBus.Publish(f)
	})
	s.fftHost = pipeline.NewPluginHost("fft", fftAdapter{fftStage}, cfg.QueueCapacity, noForwardBus{}, s.errorBus, filteredPool, filteredPool)

	w := recorder.NewWriter(recorderPath(cfg, time.Now()), cfg.Channels)
	samplePeriodNanos := int64(time.Second) / int64(cfg.SampleRateHz)
	s.recorderStage = recorder.NewStage(w, samplePeriodNanos)
	s.recorderHost = pipeline.NewSinkHost("recorder", s.recorderStage, cfg.QueueCapacity, s.errorBus, rawPool)

	s.pub = publisher.New(wire.ConfigHandshake{
		SampleRate:    cfg.SampleRateHz,
		Channels:      cfg.Channels,
		BatchSize:     cfg.BatchSize,
		FFTWindowMs:   cfg.FFTWindowMs,
		FFTHopMs:      cfg.FFTHopMs,
		SchemaVersion: wire.SchemaVersion,
	})

	if cfg.ZMQPubEndpoint != "" {
		t, err := tap.New(cfg.ZMQPubEndpoint)
		if err != nil {
			log.Printf("session: instrumentation tap disabled: %v", err)
		} else {
			s.tap = t
		}
	}

	return s, nil
}

// recorderPath names the CSV file session_<ISO8601>.csv (spec.md §6.3),
// stamped with the session's start time so a restart (spec.md §8
// scenario 6) writes a new file instead of truncating the prior run's
// recording.
func recorderPath(cfg *config.SessionConfig, startedAt time.Time) string {
	return fmt.Sprintf("%s/session_%s.csv", cfg.RecorderDir, startedAt.UTC().Format("20060102T150405Z"))
}

func buildReader(cfg *config.SessionConfig) (adcsource.SampleReader, error) {
	switch cfg.Source {
	case config.SourceMock:
		var waveforms []adcsource.Waveform
		for _, w := range cfg.MockWaveforms {
			waveforms = append(waveforms, adcsource.Waveform{Channel: w.Channel, FreqHz: w.FreqHz, AmplVolts: w.AmplVolts})
		}
		return adcsource.NewMockReader(adcsource.MockConfig{
			Channels:   cfg.Channels,
			Waveforms:  waveforms,
			NoiseVolts: cfg.MockNoiseVolts,
			SampleRate: cfg.SampleRateHz,
		}), nil
	case config.SourceHardware:
		h, err := hal.NewPeriphHAL(hal.PeriphConfig{
			SPIDevice:  cfg.SPIDevice,
			DrdyPin:    cfg.DrdyPin,
			ResetPin:   cfg.ResetPin,
			DrdyChip:   cfg.DrdyChip,
			DrdyOffset: cfg.DrdyOffset,
		})
		if err != nil {
			return nil, fmt.Errorf("session: open HAL: %w", err)
		}
		gains := make(map[int]float64, len(cfg.GainByChannel))
		for ch, g := range cfg.GainByChannel {
			gains[ch] = float64(g)
		}
		return adcsource.NewHardwareReader(h, adcsource.HardwareConfig{
			Channels:   cfg.Channels,
			GainByChan: gains,
			VrefVolts:  cfg.VrefVolts,
			SampleRate: cfg.SampleRateHz,
		}), nil
	default:
		return nil, fmt.Errorf("session: unknown source kind %q", cfg.Source)
	}
}

// fftAdapter lets fft.Stage (which has no error return on its own, by
// design) satisfy pipeline.FilterPlugin.
type fftAdapter struct{ s *fft.Stage }

func (a fftAdapter) Process(b *frame.SampleBatch) (*frame.SampleBatch, error) {
	return a.s.Process(b)
}

// noForwardBus discards everything published to it — used for the FFT
// plugin host, which never forwards a SampleBatch (it emits FftFrames
// through its own callback instead).
type noForwardBus struct{}

func (noForwardBus) Publish(*frame.SampleBatch) []int { return nil }
func (noForwardBus) NSubscribers() int                { return 0 }

// Run wires and drives one full session: it subscribes the downstream
// stages to their buses, starts every plugin goroutine, and runs the
// source until ctx is cancelled or a fault occurs. A Session runs once:
// a restart (spec.md §8 scenario 6) builds a new Session with New, whose
// sequence numbering starts at 0. Calling Run again on a used Session
// fails, because its source refuses a second Run (internal/session never
// resets a used Session's counters itself).
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if s.ctl != nil {
		s.ctl.Attach(s)
		defer s.ctl.Detach()
	}

	// Filter and Recorder both subscribe directly to the raw batch bus
	// (spec.md §4.4), so each gets its own Subscribe() — the bus and the
	// source's pool.Commit(batch, delivered) size each raw batch's
	// refcount to the number of real subscribers, and each subscriber
	// releases its own share exactly once.
	filterRawSub := s.batchBus.Subscribe()
	recorderRawSub := s.batchBus.Subscribe()
	filteredSub := s.filteredBus.Subscribe()
	fftSub := s.fftBus.Subscribe()
	errSub := s.errorBus.Subscribe()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.filterHost.Run(ctx) }()
	go func() { defer wg.Done(); s.recorderHost.Run(ctx) }()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-filterRawSub.C:
				atomic.AddInt64(&s.samplesEmitted, int64(b.PerChannel))
				if s.ctl != nil {
					s.ctl.RecordBatch()
				}
				if s.tap != nil {
					s.tap.MirrorBatch(b)
				}
				if !s.filterHost.Enqueue(b) {
					s.rawPool.Release(b)
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case b := <-recorderRawSub.C:
				if !s.recorderHost.Enqueue(b) {
					s.rawPool.Release(b)
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.fftHost.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-filteredSub.C:
				s.pub.BroadcastSamples(f)
				if !s.fftHost.Enqueue(f) {
					s.filteredPool.Release(f)
				}
			}
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-fftSub.C:
				now := time.Now().UnixNano()
				s.pub.BroadcastFFT(now, f)
			}
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ef := <-errSub.C:
				s.pub.BroadcastError(ef)
				if s.tap != nil {
					s.tap.MirrorError(ef)
				}
			}
		}
	}()

	err := s.source.Run(ctx)
	cancel()
	wg.Wait()
	filterRawSub.Unsubscribe()
	recorderRawSub.Unsubscribe()
	filteredSub.Unsubscribe()
	fftSub.Unsubscribe()
	errSub.Unsubscribe()
	s.recorderStage.Close()
	s.tap.Close()
	return err
}

// Stop cancels the running session. Implements control.Session.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SetRecording toggles the CSV recorder on or off. Implements
// control.Session.
func (s *Session) SetRecording(on bool) error {
	return s.recorderStage.SetEnabled(on)
}

// Status reports current session status. Implements control.Session.
func (s *Session) Status() control.Status {
	return control.Status{
		Running:        s.source.State() == adcsource.StateRunning,
		SourceKind:     string(s.cfg.Source),
		Channels:       len(s.cfg.Channels),
		SampleRate:     s.cfg.SampleRateHz,
		RecordEnabled:  s.recorderStage.Enabled(),
		SamplesEmitted: atomic.LoadInt64(&s.samplesEmitted),
	}
}

// Publisher exposes the WebSocket handler for cmd/eeg-core to mount on
// an http.ServeMux.
func (s *Session) Publisher() *publisher.Publisher { return s.pub }
