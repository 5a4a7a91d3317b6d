package relay

import "time"

// Fake is a test double that records relay commands.
type Fake struct {
	// OnCalls and OffCalls count successful commands.
	OnCalls  int
	OffCalls int
	// ElapsedOverride, if non-zero, is returned by Elapsed instead of the
	// time measured from the last command.
	ElapsedOverride time.Duration
	// OnError and OffError, if set, are returned by On and Off.
	OnError  error
	OffError error
	// Closed tracks if Close was called.
	Closed bool
	// Now supplies the clock; defaults to time.Now.
	Now func() time.Time

	on      bool
	changed time.Time
}

// NewFake creates an off Fake whose timer starts now.
func NewFake() *Fake {
	f := &Fake{Now: time.Now}
	f.changed = f.Now()
	return f
}

// On records an on command.
func (f *Fake) On() error {
	if f.OnError != nil {
		return f.OnError
	}
	f.OnCalls++
	f.set(true)
	return nil
}

// Off records an off command.
func (f *Fake) Off() error {
	if f.OffError != nil {
		return f.OffError
	}
	f.OffCalls++
	f.set(false)
	return nil
}

func (f *Fake) set(on bool) {
	f.on = on
	f.changed = f.Now()
}

// IsOn reports the last commanded state.
func (f *Fake) IsOn() bool {
	return f.on
}

// Elapsed returns ElapsedOverride when set, otherwise the time since the last command.
func (f *Fake) Elapsed() time.Duration {
	if f.ElapsedOverride != 0 {
		return f.ElapsedOverride
	}
	return f.Now().Sub(f.changed)
}

// Close marks the relay as closed and switches it off.
func (f *Fake) Close() error {
	f.on = false
	f.Closed = true
	return nil
}

// Reset clears recorded calls and errors.
func (f *Fake) Reset() {
	f.OnCalls = 0
	f.OffCalls = 0
	f.ElapsedOverride = 0
	f.OnError = nil
	f.OffError = nil
	f.Closed = false
	f.on = false
	f.changed = f.Now()
}
