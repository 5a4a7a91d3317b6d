package sensor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MAX31865 registers and configuration bits.
const (
	regConfig    = 0x00
	regRTDMSB    = 0x01
	regFaultStat = 0x07

	cfgBias      = 0x80
	cfgModeAuto  = 0x40
	cfgOneShot   = 0x20
	cfg3Wire     = 0x10
	cfgFaultStat = 0x02
	cfgFilt50Hz  = 0x01

	writeFlag = 0x80
)

// Callendar-Van Dusen coefficients for platinum RTDs.
const (
	rtdA = 3.9083e-3
	rtdB = -5.775e-7
)

// SPI is a full-duplex SPI transfer. The buffer is sent and overwritten with
// the bytes received.
type SPI interface {
	Exchange(buf []byte)
}

// MAX31865Config describes the RTD wiring and reference values.
type MAX31865Config struct {
	Wires       int     // 2, 3 or 4
	RefResistor float64 // ohms
	RTDNominal  float64 // ohms at 0 °C, 100 for PT100
	Filter50Hz  bool
}

// DefaultMAX31865Config is a 2-wire PT100 with a 430 Ω reference.
func DefaultMAX31865Config() MAX31865Config {
	return MAX31865Config{Wires: 2, RefResistor: 430.0, RTDNominal: 100.0}
}

// FaultError reports a non-zero MAX31865 fault status register.
type FaultError struct {
	Status byte
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("max31865: fault status 0x%02x", e.Status)
}

var errInvalidWires = errors.New("max31865: number of wires must be 2, 3 or 4")

// MAX31865 reads a platinum RTD through a MAX31865 converter using one-shot conversions.
type MAX31865 struct {
	spi   SPI
	cfg   MAX31865Config
	sleep func(time.Duration)
}

// NewMAX31865 configures the converter on the given SPI device.
func NewMAX31865(spi SPI, cfg MAX31865Config) (*MAX31865, error) {
	if cfg.Wires != 2 && cfg.Wires != 3 && cfg.Wires != 4 {
		return nil, errInvalidWires
	}
	if cfg.RefResistor <= 0 || cfg.RTDNominal <= 0 {
		return nil, errors.New("max31865: reference and nominal resistance must be positive")
	}

	m := &MAX31865{spi: spi, cfg: cfg, sleep: time.Sleep}

	config := m.readRegister(regConfig)
	if cfg.Wires == 3 {
		config |= cfg3Wire
	} else {
		config &^= cfg3Wire
	}
	if cfg.Filter50Hz {
		config |= cfgFilt50Hz
	} else {
		config &^= cfgFilt50Hz
	}
	config &^= cfgBias | cfgModeAuto
	m.writeRegister(regConfig, config)
	return m, nil
}

// Read performs a one-shot conversion and returns the temperature in Celsius.
func (m *MAX31865) Read() (float64, error) {
	r, err := m.Resistance()
	if err != nil {
		return 0, err
	}
	return RTDToCelsius(r, m.cfg.RTDNominal), nil
}

// Resistance performs a one-shot conversion and returns the RTD resistance in ohms.
func (m *MAX31865) Resistance() (float64, error) {
	m.clearFault()

	config := m.readRegister(regConfig)
	m.writeRegister(regConfig, config|cfgBias)
	m.sleep(10 * time.Millisecond)

	config = m.readRegister(regConfig)
	m.writeRegister(regConfig, config|cfgOneShot)
	m.sleep(65 * time.Millisecond)

	buf := []byte{regRTDMSB, 0, 0}
	m.spi.Exchange(buf)
	raw := uint16(buf[1])<<8 | uint16(buf[2])

	// Bias off between conversions to limit self-heating.
	config = m.readRegister(regConfig)
	m.writeRegister(regConfig, config&^cfgBias)

	if raw&0x01 != 0 {
		status := m.readRegister(regFaultStat)
		m.clearFault()
		return 0, &FaultError{Status: status}
	}

	return float64(raw>>1) * m.cfg.RefResistor / 32768.0, nil
}

func (m *MAX31865) clearFault() {
	config := m.readRegister(regConfig)
	config &^= 0x2c
	m.writeRegister(regConfig, config|cfgFaultStat)
}

func (m *MAX31865) readRegister(reg byte) byte {
	buf := []byte{reg &^ writeFlag, 0}
	m.spi.Exchange(buf)
	return buf[1]
}

func (m *MAX31865) writeRegister(reg, value byte) {
	m.spi.Exchange([]byte{reg | writeFlag, value})
}

// RTDToCelsius converts a platinum RTD resistance to Celsius using the
// Callendar-Van Dusen equation, falling back to a polynomial fit below 0 °C.
func RTDToCelsius(resistance, nominal float64) float64 {
	z1 := -rtdA
	z2 := rtdA*rtdA - 4*rtdB
	z3 := 4 * rtdB / nominal
	z4 := 2 * rtdB

	temp := (math.Sqrt(z2+z3*resistance) + z1) / z4
	if temp >= 0 {
		return temp
	}

	rt := resistance / nominal * 100
	return -242.02 +
		2.2228*rt +
		2.5859e-3*math.Pow(rt, 2) -
		4.8260e-6*math.Pow(rt, 3) -
		2.8183e-8*math.Pow(rt, 4) +
		1.5243e-10*math.Pow(rt, 5)
}
