package sensor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlotEmpty(t *testing.T) {
	var s Slot
	_, ok := s.Load()
	require.False(t, ok)
}

func TestSlotStoreLoad(t *testing.T) {
	var s Slot
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Store(Reading{Celsius: 19.5, Gravity: 1.05, Time: now})

	r, ok := s.Load()
	require.True(t, ok)
	require.Equal(t, 19.5, r.Celsius)
	require.Equal(t, 1.05, r.Gravity)
	require.True(t, r.Time.Equal(now))
}

func TestSlotConcurrentReaders(t *testing.T) {
	var s Slot
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Store(Reading{Celsius: float64(i), Gravity: float64(i)})
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				if got, ok := s.Load(); ok && got.Celsius != got.Gravity {
					t.Errorf("torn read: %+v", got)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestOffset(t *testing.T) {
	src := WithOffset(NewFake(20.0), -0.25)
	v, err := src.Read()
	require.NoError(t, err)
	require.InDelta(t, 19.75, v, 1e-9)

	f := NewFake(1)
	require.Same(t, f, WithOffset(f, 0))
}

func TestOffsetPropagatesError(t *testing.T) {
	f := NewFake()
	f.ReadError = errors.New("simulated error")

	_, err := WithOffset(f, 1).Read()
	require.EqualError(t, err, "simulated error")
}

func TestFakeRead(t *testing.T) {
	f := NewFake(1, 2)

	for _, want := range []float64{1, 2, 2} {
		v, err := f.Read()
		require.NoError(t, err)
		require.Equal(t, want, v)
	}

	f.Reset()
	v, _ := f.Read()
	require.Equal(t, 1.0, v)

	_, err := NewFake().Read()
	require.Error(t, err)
}
