package hal

import (
	"context"
	"fmt"
	"io"
	"time"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// drdyWaiter is the narrow edge-wait contract PeriphHAL needs from its
// DRDY pin, satisfied by both periph's gpio.PinIn and the go-gpiocdev
// backed cdevDrdyPin, so AwaitDrdy works identically against either.
type drdyWaiter interface {
	WaitForEdge(timeout time.Duration) bool
}

// PeriphHAL implements HAL on top of periph.io's SPI and GPIO conn
// interfaces. It is the "hardware variant" behind the ADC source's single
// DataSource abstraction (spec.md §9 "Source polymorphism").
type PeriphHAL struct {
	port       spi.PortCloser
	conn       spi.Conn
	drdy       drdyWaiter
	drdyCloser io.Closer // non-nil only for the go-gpiocdev backend
	resetPin   gpio.PinIO
	clockHz    int64
}

// PeriphConfig names the SPI device and GPIO pins by the strings periph's
// registries accept (e.g. "/dev/spidev0.0", "GPIO25"). When DrdyChip is
// non-empty, DRDY is served by go-gpiocdev's character-device backend
// (chip name, e.g. "gpiochip0", and line offset) instead of periph's
// sysfs-backed gpioreg, for platforms where /sys/class/gpio is
// unavailable but /dev/gpiochipN is.
type PeriphConfig struct {
	SPIDevice  string
	DrdyPin    string
	ResetPin   string
	ClockHz    int64 // ADS1299 f_clk, default 2.048 MHz if zero
	DrdyChip   string
	DrdyOffset int
}

// NewPeriphHAL opens the SPI port and GPIO pins and initializes periph's
// host drivers. Callers must call Close when the session ends.
func NewPeriphHAL(cfg PeriphConfig) (*PeriphHAL, error) {
	if _, err := host.Init(); err != nil {
		return nil, &BusError{Kind: KindIO, Detail: fmt.Sprintf("host.Init: %v", err)}
	}
	port, err := spireg.Open(cfg.SPIDevice)
	if err != nil {
		return nil, &BusError{Kind: KindIO, Detail: fmt.Sprintf("spireg.Open(%s): %v", cfg.SPIDevice, err)}
	}
	conn, err := port.Connect(physic.MegaHertz*4, spi.Mode1, 8)
	if err != nil {
		port.Close()
		return nil, &BusError{Kind: KindIO, Detail: fmt.Sprintf("spi.Connect: %v", err)}
	}

	var drdy drdyWaiter
	var drdyCloser io.Closer
	if cfg.DrdyChip != "" {
		cdev, err := NewCdevDrdy(cfg.DrdyChip, cfg.DrdyOffset)
		if err != nil {
			port.Close()
			return nil, err
		}
		drdy = cdev
		drdyCloser = cdev
	} else {
		pin := gpioreg.ByName(cfg.DrdyPin)
		if pin == nil {
			port.Close()
			return nil, &BusError{Kind: KindIO, Detail: fmt.Sprintf("unknown DRDY pin %q", cfg.DrdyPin)}
		}
		if err := pin.In(gpio.PullUp, gpio.FallingEdge); err != nil {
			port.Close()
			return nil, &BusError{Kind: KindIO, Detail: fmt.Sprintf("drdy.In: %v", err)}
		}
		drdy = pin
	}

	reset := gpioreg.ByName(cfg.ResetPin)
	if reset == nil {
		port.Close()
		return nil, &BusError{Kind: KindIO, Detail: fmt.Sprintf("unknown reset pin %q", cfg.ResetPin)}
	}
	clockHz := cfg.ClockHz
	if clockHz == 0 {
		clockHz = 2_048_000
	}
	return &PeriphHAL{port: port, conn: conn, drdy: drdy, drdyCloser: drdyCloser, resetPin: reset, clockHz: clockHz}, nil
}

// ReadRegister implements HAL.
func (h *PeriphHAL) ReadRegister(addr byte) (byte, error) {
	const readOpcode = 0x20
	w := []byte{readOpcode | (addr & 0x1F), 0x00, 0x00}
	r := make([]byte, len(w))
	if err := h.conn.Tx(w, r); err != nil {
		return 0, &BusError{Kind: KindIO, Detail: err.Error()}
	}
	return r[2], nil
}

// WriteRegister implements HAL.
func (h *PeriphHAL) WriteRegister(addr, value byte) error {
	const writeOpcode = 0x40
	w := []byte{writeOpcode | (addr & 0x1F), 0x00, value}
	if err := h.conn.Tx(w, nil); err != nil {
		return &BusError{Kind: KindIO, Detail: err.Error()}
	}
	return nil
}

// SendCommand implements HAL.
func (h *PeriphHAL) SendCommand(opcode byte) error {
	if err := h.conn.Tx([]byte{opcode}, nil); err != nil {
		return &BusError{Kind: KindIO, Detail: err.Error()}
	}
	return nil
}

// ReadData implements HAL. buf must already be sized to 3+3*activeChannels;
// ReadData performs no interpretation of the bytes it reads.
func (h *PeriphHAL) ReadData(buf []byte) error {
	if err := h.conn.Tx(nil, buf); err != nil {
		return &BusError{Kind: KindIO, Detail: err.Error()}
	}
	return nil
}

// AwaitDrdy implements HAL using the DRDY backend's edge-triggered
// WaitForEdge (periph's PinIn or the go-gpiocdev line).
func (h *PeriphHAL) AwaitDrdy(timeout time.Duration) (DrdyResult, error) {
	if h.drdy.WaitForEdge(timeout) {
		return Ready, nil
	}
	return TimedOut, nil
}

// AwaitDrdyContext is a context-aware variant used by the sample loop so
// cancellation is observed even mid-wait, per the 250ms shutdown bound in
// spec.md §5. periph's WaitForEdge has no context parameter, so this polls
// it in 20ms slices, checking ctx between slices, until timeout elapses.
func (h *PeriphHAL) AwaitDrdyContext(ctx context.Context, timeout time.Duration) (DrdyResult, error) {
	const slice = 20 * time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-ctx.Done():
			return Cancelled, nil
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return TimedOut, nil
		}
		wait := slice
		if remaining < wait {
			wait = remaining
		}
		if h.drdy.WaitForEdge(wait) {
			return Ready, nil
		}
	}
}

// Reset implements HAL: asserts reset low, waits >= 2^18/f_clk, releases.
func (h *PeriphHAL) Reset() error {
	out, ok := h.resetPin.(gpio.PinOut)
	if !ok {
		return &BusError{Kind: KindIO, Detail: "reset pin does not support output"}
	}
	if err := out.Out(gpio.Low); err != nil {
		return &BusError{Kind: KindIO, Detail: err.Error()}
	}
	settle := time.Duration(float64(1<<18) / float64(h.clockHz) * float64(time.Second))
	time.Sleep(settle)
	if err := out.Out(gpio.High); err != nil {
		return &BusError{Kind: KindIO, Detail: err.Error()}
	}
	time.Sleep(settle)
	return nil
}

// Close implements HAL.
func (h *PeriphHAL) Close() error {
	if h.drdyCloser != nil {
		h.drdyCloser.Close()
	}
	return h.port.Close()
}
