package sampler

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/hwstress/pkg/hw"
	"github.com/itohio/hwstress/pkg/metrics"
)

func TestSample_String(t *testing.T) {
	assert.Equal(t, "ERR", Failure.String())
	assert.True(t, Failure.Failed())
	assert.Equal(t, "42.00", Sample{Value: 42, OK: true}.String())
	assert.Equal(t, "10.56", Sample{Value: 10.5593, OK: true}.String())
}

func TestSampler_ConstantSource(t *testing.T) {
	s := New(hw.NewConstantSource(42), WithLimit(10))
	require.NoError(t, s.Start(10*time.Millisecond))

	require.Eventually(t, func() bool { return s.Count() >= 1 }, time.Second, time.Millisecond)
	count := s.Stop()

	assert.GreaterOrEqual(t, count, 1)
	assert.LessOrEqual(t, count, 10)
	latest := s.Latest()
	assert.False(t, latest.Failed())
	assert.Equal(t, 42.0, latest.Value)
	assert.Greater(t, s.Duration(), time.Duration(0))
}

func TestSampler_StartStopImmediately(t *testing.T) {
	for _, interval := range []time.Duration{time.Millisecond, 100 * time.Millisecond, time.Second} {
		s := New(hw.NewConstantSource(1))
		require.NoError(t, s.Start(interval))
		count := s.Stop()
		assert.GreaterOrEqual(t, count, 0)
		assert.LessOrEqual(t, count, 1, "interval %v", interval)
	}
}

func TestSampler_StopIdempotent(t *testing.T) {
	s := New(hw.NewConstantSource(1))
	assert.Equal(t, 0, s.Stop(), "stop before start")

	require.NoError(t, s.Start(time.Millisecond))
	require.Eventually(t, func() bool { return s.Count() > 0 }, time.Second, time.Millisecond)
	assert.Greater(t, s.Stop(), 0)
	assert.Equal(t, 0, s.Stop())
	assert.False(t, s.Running())
}

func TestSampler_AlreadyRunning(t *testing.T) {
	s := New(hw.NewConstantSource(1))
	require.NoError(t, s.Start(time.Millisecond))
	defer s.Stop()

	err := s.Start(time.Millisecond)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
}

func TestSampler_InvalidInterval(t *testing.T) {
	s := New(hw.NewConstantSource(1))
	assert.True(t, errors.Is(s.Start(0), ErrInvalidInterval))
	assert.True(t, errors.Is(s.Start(-time.Second), ErrInvalidInterval))
	assert.False(t, s.Running())
}

func TestSampler_Restart(t *testing.T) {
	s := New(hw.NewConstantSource(1), WithLimit(3))
	require.NoError(t, s.Start(time.Millisecond))
	require.Eventually(t, func() bool { return s.Count() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 3, s.Stop())

	require.NoError(t, s.Start(time.Millisecond))
	require.Eventually(t, func() bool { return s.Count() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 3, s.Stop())
}

func TestSampler_Monotonic(t *testing.T) {
	s := New(hw.NewConstantSource(1))
	require.NoError(t, s.Start(100*time.Microsecond))
	defer s.Stop()

	last := 0
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		c := s.Count()
		require.GreaterOrEqual(t, c, last)
		last = c
	}
	assert.Greater(t, last, 0)
}

func TestSampler_LatestBeforeSampling(t *testing.T) {
	s := New(hw.NewConstantSource(1))
	assert.True(t, s.Latest().Failed())
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, time.Duration(0), s.Duration())
	assert.Equal(t, time.Duration(0), s.Elapsed())
}

func TestSampler_TransientFailureKeepsLooping(t *testing.T) {
	src := hw.NewConstantSource(7)
	src.FailNext(3)

	m := metrics.New(nil)
	s := New(src, WithMetrics(m))
	require.NoError(t, s.Start(time.Millisecond))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Count() >= 2 }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, src.Reads(), 5)
	assert.Equal(t, 7.0, s.Latest().Value)
	assert.True(t, errors.Is(s.LastError(), hw.ErrTransientIO))
}

func TestSampler_UnavailableHardware(t *testing.T) {
	s := New(hw.Unavailable{})
	require.NoError(t, s.Start(time.Millisecond), "start never fails on missing hardware")

	time.Sleep(10 * time.Millisecond)
	assert.True(t, s.Latest().Failed())
	assert.Equal(t, 0, s.Stop())
	assert.True(t, errors.Is(s.LastError(), hw.ErrHardwareUnavailable))
}

func TestSampler_FailureMarkerAfterSuccess(t *testing.T) {
	src := hw.NewConstantSource(3)
	s := New(src)
	require.NoError(t, s.Start(time.Millisecond))
	defer s.Stop()

	require.Eventually(t, func() bool { return s.Count() > 0 }, time.Second, time.Millisecond)
	src.FailAll(true)
	require.Eventually(t, func() bool { return s.Latest().Failed() }, time.Second, time.Millisecond)
}

func TestSampler_Held(t *testing.T) {
	src := hw.NewMockSource(nil)
	src.SetValueFunc(func(n int) float64 { return float64(n) })

	s := New(src, WithHeld(3), WithLimit(5))
	require.NoError(t, s.Start(time.Millisecond))
	require.Eventually(t, func() bool { return s.Count() == 5 }, time.Second, time.Millisecond)
	s.Stop()

	assert.Equal(t, []float64{2, 3, 4}, s.Held())
	sum, err := s.Summary()
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 2.0, sum.Min)
	assert.Equal(t, 4.0, sum.Max)
	assert.Equal(t, 3.0, sum.Mean)
	assert.Equal(t, 3.0, sum.TrimmedMean)
}

// blockingSource blocks every read until released.
type blockingSource struct {
	release chan struct{}
}

func (b *blockingSource) Read() (float64, error) {
	<-b.release
	return 1, nil
}

func TestSampler_StopWaitsForRead(t *testing.T) {
	src := &blockingSource{release: make(chan struct{})}
	s := New(src)
	require.NoError(t, s.Start(time.Millisecond))

	stopped := make(chan int)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a read was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	close(src.release)
	select {
	case count := <-stopped:
		assert.LessOrEqual(t, count, 1)
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after read completed")
	}
}
