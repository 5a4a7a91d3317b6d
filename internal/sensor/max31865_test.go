package sensor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeSPI models the MAX31865 register file.
type fakeSPI struct {
	regs     [8]byte
	oneShots int
}

func (f *fakeSPI) Exchange(buf []byte) {
	addr := buf[0]
	if addr&writeFlag != 0 {
		reg := addr &^ writeFlag
		for i, v := range buf[1:] {
			f.regs[int(reg)+i] = v
		}
		if reg == regConfig && buf[1]&cfgOneShot != 0 {
			f.oneShots++
			f.regs[regConfig] &^= cfgOneShot
		}
		return
	}
	for i := 1; i < len(buf); i++ {
		buf[i] = f.regs[int(addr)+i-1]
	}
}

func (f *fakeSPI) setRTD(resistance, ref float64) {
	raw := uint16(resistance/ref*32768) << 1
	f.regs[regRTDMSB] = byte(raw >> 8)
	f.regs[regRTDMSB+1] = byte(raw)
}

func newTestMAX31865(t *testing.T, cfg MAX31865Config) (*MAX31865, *fakeSPI) {
	t.Helper()
	spi := &fakeSPI{}
	m, err := NewMAX31865(spi, cfg)
	require.NoError(t, err)
	m.sleep = func(time.Duration) {}
	return m, spi
}

func TestNewMAX31865Wires(t *testing.T) {
	_, spi := newTestMAX31865(t, MAX31865Config{Wires: 3, RefResistor: 430, RTDNominal: 100})
	require.NotZero(t, spi.regs[regConfig]&cfg3Wire)

	_, spi = newTestMAX31865(t, DefaultMAX31865Config())
	require.Zero(t, spi.regs[regConfig]&cfg3Wire)

	_, err := NewMAX31865(&fakeSPI{}, MAX31865Config{Wires: 5, RefResistor: 430, RTDNominal: 100})
	require.ErrorIs(t, err, errInvalidWires)

	_, err = NewMAX31865(&fakeSPI{}, MAX31865Config{Wires: 2})
	require.Error(t, err)
}

func TestMAX31865Read(t *testing.T) {
	m, spi := newTestMAX31865(t, DefaultMAX31865Config())
	spi.setRTD(107.79, 430)

	v, err := m.Read()
	require.NoError(t, err)
	require.InDelta(t, 20.0, v, 0.1)
	require.Equal(t, 1, spi.oneShots)
	require.Zero(t, spi.regs[regConfig]&cfgBias, "bias is switched off after conversion")
}

func TestMAX31865Fault(t *testing.T) {
	m, spi := newTestMAX31865(t, DefaultMAX31865Config())
	spi.regs[regRTDMSB+1] = 0x01
	spi.regs[regFaultStat] = 0x80

	_, err := m.Read()
	var fault *FaultError
	require.True(t, errors.As(err, &fault))
	require.Equal(t, byte(0x80), fault.Status)
	require.Contains(t, err.Error(), "0x80")
}

func TestRTDToCelsius(t *testing.T) {
	require.InDelta(t, 0.0, RTDToCelsius(100.0, 100), 1e-6)
	require.InDelta(t, 100.0, RTDToCelsius(138.5055, 100), 1e-3)
	require.InDelta(t, 0.0, RTDToCelsius(1000.0, 1000), 1e-6)
	// Below zero uses the polynomial fit.
	require.InDelta(t, -20.0, RTDToCelsius(92.16, 100), 0.1)
}
