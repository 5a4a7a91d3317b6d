package sensor

import "errors"

// Fake is a test double that returns scripted temperatures.
type Fake struct {
	// Values contains scripted temperatures. Each call to Read consumes
	// the next value; the last value repeats once exhausted.
	Values []float64
	// ReadError, if set, will be returned by Read.
	ReadError error

	index int
}

// NewFake creates a Fake with the given values.
func NewFake(values ...float64) *Fake {
	return &Fake{Values: values}
}

// Read returns the next scripted value.
func (f *Fake) Read() (float64, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Values) == 0 {
		return 0, errors.New("no values configured")
	}
	v := f.Values[f.index]
	if f.index < len(f.Values)-1 {
		f.index++
	}
	return v, nil
}

// Reset rewinds to the first value.
func (f *Fake) Reset() {
	f.index = 0
}
