package adcsource

import (
	"context"
	"fmt"
	"time"

	"github.com/Elata-Biosciences/elata-eeg/internal/hal"
)

// HardwareReader drives a real ADS1299 chip through the HAL. It implements
// SampleReader; AnySource owns batching, sequencing, and the drop policy.
type HardwareReader struct {
	h            hal.HAL
	channels     []int
	gainByChan   map[int]float64
	gainPerIndex []float32 // resolved gain, aligned to channels[i]
	vrefVolts    float32
	samplePeriod time.Duration

	dataBuf []byte
}

// HardwareConfig names the enabled channels and their gains for the
// start-up procedure (spec.md §4.2).
type HardwareConfig struct {
	Channels     []int
	GainByChan   map[int]float64 // PGA gain, one of 1/2/4/6/8/12/24
	VrefVolts    float64
	SampleRate   int
	SampleCode   byte // not read: Configure derives the CONFIG1 data-rate code from SampleRate
}

// NewHardwareReader constructs a reader bound to an already-opened HAL.
func NewHardwareReader(h hal.HAL, cfg HardwareConfig) *HardwareReader {
	return &HardwareReader{
		h:            h,
		channels:     cfg.Channels,
		gainByChan:   cfg.GainByChan,
		vrefVolts:    float32(cfg.VrefVolts),
		samplePeriod: time.Duration(float64(time.Second) / float64(cfg.SampleRate)),
		dataBuf:      make([]byte, 3+3*8), // sized for up to 8 channels; sliced per-read
	}
}

// gainFor returns the configured PGA gain for ch, defaulting to 24 (the
// ADS1299 power-on default) when unset.
func (r *HardwareReader) gainFor(ch int) float64 {
	if g, ok := r.gainByChan[ch]; ok {
		return g
	}
	return 24
}

var cfg1SampleCodeDefault byte = 0x06 // 250 SPS, config's default sample_rate_hz

// Configure runs the ADS1299 start-up procedure (spec.md §4.2):
// reset, SDATAC, CONFIG1/2/3, per-channel CHnSET, ID verification,
// START + RDATAC.
func (r *HardwareReader) Configure(ctx context.Context) error {
	if err := r.h.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := r.h.SendCommand(hal.CmdSDATAC); err != nil {
		return fmt.Errorf("SDATAC: %w", err)
	}

	dataRateCodes := map[int]byte{
		16000: 0x00, 8000: 0x01, 4000: 0x02, 2000: 0x03,
		1000: 0x04, 500: 0x05, 250: cfg1SampleCodeDefault,
	}
	cfg1, ok := dataRateCodes[int(time.Second/r.samplePeriod)]
	if !ok {
		return fmt.Errorf("CONFIG1: no data-rate code for sample period %v", r.samplePeriod)
	}
	if err := r.h.WriteRegister(hal.RegCONFIG1, cfg1); err != nil {
		return fmt.Errorf("CONFIG1: %w", err)
	}
	const config2TestSignalDefaults = 0xC0
	if err := r.h.WriteRegister(hal.RegCONFIG2, config2TestSignalDefaults); err != nil {
		return fmt.Errorf("CONFIG2: %w", err)
	}
	const config3InternalRefBiasEnabled = 0xE0
	if err := r.h.WriteRegister(hal.RegCONFIG3, config3InternalRefBiasEnabled); err != nil {
		return fmt.Errorf("CONFIG3: %w", err)
	}

	enabled := make(map[int]bool, len(r.channels))
	for _, ch := range r.channels {
		enabled[ch] = true
	}
	r.gainPerIndex = make([]float32, len(r.channels))
	for i, ch := range r.channels {
		r.gainPerIndex[i] = float32(r.gainFor(ch))
	}
	for ch := 0; ch < 8; ch++ {
		addr := hal.RegCH1SET + byte(ch)
		var value byte
		if enabled[ch] {
			gainCode, err := hal.CHnSetGainCode(r.gainFor(ch))
			if err != nil {
				return err
			}
			value = gainCode | hal.CHnSetNormalInput
		} else {
			value = hal.CHnSetPoweredDown
		}
		if err := r.h.WriteRegister(addr, value); err != nil {
			return fmt.Errorf("CH%dSET: %w", ch, err)
		}
	}

	id, err := r.h.ReadRegister(hal.RegID)
	if err != nil {
		return fmt.Errorf("read ID register: %w", err)
	}
	if id&hal.IDFamilyMask != hal.IDFamilyExpected {
		return fmt.Errorf("device id mismatch: got 0x%02x, want family 0x%02x", id, hal.IDFamilyExpected)
	}

	if err := r.h.SendCommand(hal.CmdSTART); err != nil {
		return fmt.Errorf("START: %w", err)
	}
	if err := r.h.SendCommand(hal.CmdRDATAC); err != nil {
		return fmt.Errorf("RDATAC: %w", err)
	}
	return nil
}

// ReadSample implements SampleReader: await DRDY, read status+data bytes,
// decode each channel's 24-bit two's-complement sample to volts.
func (r *HardwareReader) ReadSample(ctx context.Context, out []float32) (int64, error) {
	timeout := r.samplePeriod * 10
	var res hal.DrdyResult
	var err error
	if ph, ok := r.h.(interface {
		AwaitDrdyContext(context.Context, time.Duration) (hal.DrdyResult, error)
	}); ok {
		res, err = ph.AwaitDrdyContext(ctx, timeout)
	} else {
		res, err = r.h.AwaitDrdy(timeout)
	}
	if err != nil {
		return 0, err
	}
	switch res {
	case hal.Cancelled:
		return 0, fmt.Errorf("cancelled waiting for DRDY")
	case hal.TimedOut:
		return 0, fmt.Errorf("DRDY timeout after %v", timeout)
	}

	n := len(out)
	buf := r.dataBuf[:3+3*n]
	if err := r.h.ReadData(buf); err != nil {
		return 0, err
	}
	now := time.Now().UnixNano()

	for ch := 0; ch < n; ch++ {
		off := 3 + 3*ch
		raw := int32(buf[off])<<16 | int32(buf[off+1])<<8 | int32(buf[off+2])
		if raw&0x800000 != 0 { // sign-extend 24-bit two's complement
			raw |= -1 << 24
		}
		out[ch] = float32(raw) / float32(1<<23) * r.vrefVolts / r.gainPerIndex[ch]
	}
	return now, nil
}

// Close sends SDATAC and closes the HAL.
func (r *HardwareReader) Close() error {
	r.h.SendCommand(hal.CmdSDATAC)
	return r.h.Close()
}
