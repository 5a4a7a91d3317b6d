package sensor

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// The SPI0 peripheral is shared by every device on it; chip select picks
// the device for each transfer.
var (
	spiMu    sync.Mutex
	spiUsers int
	spiSpeed int
)

// RPIOSPI is an SPI device on the Raspberry Pi SPI0 peripheral using go-rpio.
type RPIOSPI struct {
	chipSelect uint8
	closed     bool
}

// OpenRPIOSPI maps the GPIO registers and starts SPI0 in mode 1
// (CPOL=0, CPHA=1), as required by the MAX31865. Several devices may be
// opened on different chip select lines; the first one sets the clock.
func OpenRPIOSPI(chipSelect uint8, speedHz int) (*RPIOSPI, error) {
	spiMu.Lock()
	defer spiMu.Unlock()

	if spiUsers == 0 {
		if err := rpio.Open(); err != nil {
			return nil, fmt.Errorf("open rpio: %w", err)
		}
		if err := rpio.SpiBegin(rpio.Spi0); err != nil {
			rpio.Close()
			return nil, fmt.Errorf("begin spi0: %w", err)
		}
		rpio.SpiSpeed(speedHz)
		rpio.SpiMode(0, 1)
		spiSpeed = speedHz
	} else if speedHz != spiSpeed {
		return nil, fmt.Errorf("spi0 already running at %d Hz, cannot use %d Hz", spiSpeed, speedHz)
	}
	spiUsers++
	return &RPIOSPI{chipSelect: chipSelect}, nil
}

// Exchange performs a full-duplex transfer in place.
func (s *RPIOSPI) Exchange(buf []byte) {
	spiMu.Lock()
	defer spiMu.Unlock()
	rpio.SpiChipSelect(s.chipSelect)
	rpio.SpiExchange(buf)
}

// Close releases the device. The last one stops SPI and unmaps the registers.
func (s *RPIOSPI) Close() error {
	spiMu.Lock()
	defer spiMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	spiUsers--
	if spiUsers > 0 {
		return nil
	}
	rpio.SpiEnd(rpio.Spi0)
	return rpio.Close()
}
