package hal

import (
	"fmt"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// cdevDrdyPin adapts a Linux GPIO character-device line (via go-gpiocdev)
// to the narrow edge-wait behavior PeriphHAL needs from its DRDY pin. It
// is selected instead of periph's sysfs-backed gpio.PinIO on platforms
// where /sys/class/gpio is unavailable but /dev/gpiochipN is.
type cdevDrdyPin struct {
	line    *gpiocdev.Line
	edges   chan struct{}
}

// newCdevDrdyPin opens offset on chip (e.g. "gpiochip0") and requests
// falling-edge events, matching the ADS1299's active-low DRDY polarity.
func newCdevDrdyPin(chip string, offset int) (*cdevDrdyPin, error) {
	p := &cdevDrdyPin{edges: make(chan struct{}, 1)}
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithFallingEdge,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			select {
			case p.edges <- struct{}{}:
			default:
				// An edge is already pending acknowledgement; WaitForEdge's
				// contract allows coalescing multiple edges between calls.
			}
		}),
	)
	if err != nil {
		return nil, &BusError{Kind: KindIO, Detail: fmt.Sprintf("gpiocdev.RequestLine(%s,%d): %v", chip, offset, err)}
	}
	p.line = line
	return p, nil
}

// WaitForEdge blocks until a falling edge is observed or timeout elapses,
// mirroring periph's gpio.PinIn.WaitForEdge so PeriphHAL.AwaitDrdy can use
// either backend interchangeably.
func (p *cdevDrdyPin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *cdevDrdyPin) Close() error {
	return p.line.Close()
}

// NewCdevDrdy opens a DRDY line on a GPIO character device. It satisfies
// the same WaitForEdge(timeout) bool shape as periph's gpio.PinIn, so HAL
// construction code can select it as an alternate DRDY source without
// changing PeriphHAL.AwaitDrdy.
func NewCdevDrdy(chip string, offset int) (interface {
	WaitForEdge(time.Duration) bool
	Close() error
}, error) {
	return newCdevDrdyPin(chip, offset)
}
