package stress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/hwstress/pkg/config"
	"github.com/itohio/hwstress/pkg/hw"
	"github.com/itohio/hwstress/pkg/metrics"
	"github.com/itohio/hwstress/pkg/sampler"
	"github.com/itohio/hwstress/pkg/sequencer"
)

func adcConfig(duration time.Duration) config.ADCTestConfig {
	return config.ADCTestConfig{
		Requests: 100,
		Period:   time.Second,
		Held:     1,
		Refresh:  10 * time.Millisecond,
		Duration: duration,
	}
}

func gauge(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		require.Len(t, f.GetMetric(), 1)
		m := f.GetMetric()[0]
		if m.GetGauge() != nil {
			return m.GetGauge().GetValue()
		}
		return m.GetCounter().GetValue()
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestADCRunner_Duration(t *testing.T) {
	var (
		mu    sync.Mutex
		ticks []ADCTick
	)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s := sampler.New(hw.NewConstantSource(5), sampler.WithMetrics(m))
	r := NewADCRunner(s, adcConfig(200*time.Millisecond),
		WithADCMetrics(m),
		OnADCTick(func(t ADCTick) {
			mu.Lock()
			ticks = append(ticks, t)
			mu.Unlock()
		}),
	)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BusOK, res.Status)
	assert.NoError(t, res.Err)
	assert.Greater(t, res.Received, 0)
	assert.GreaterOrEqual(t, res.Duration, 200*time.Millisecond)
	assert.InDelta(t, 20, res.Requests, 5)
	assert.False(t, s.Running())
	assert.Equal(t, float64(res.Missed), gauge(t, reg, "hwstress_missed_samples"))
	assert.Equal(t, float64(res.Received), gauge(t, reg, "hwstress_samples_total"))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, ticks)
	for i := 1; i < len(ticks); i++ {
		assert.GreaterOrEqual(t, ticks[i].Count, ticks[i-1].Count)
	}
	assert.Equal(t, 100, ticks[0].Requests)
}

func TestADCRunner_Cancel(t *testing.T) {
	s := sampler.New(hw.NewConstantSource(5))
	r := NewADCRunner(s, adcConfig(0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan ADCResult)
	go func() {
		res, err := r.Run(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	select {
	case res := <-done:
		assert.Equal(t, BusOK, res.Status)
		assert.Greater(t, res.Received, 0)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop on cancel")
	}
}

func TestADCRunner_BusFailure(t *testing.T) {
	s := sampler.New(hw.Unavailable{})
	r := NewADCRunner(s, adcConfig(5*time.Second))

	start := time.Now()
	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, BusFailed, res.Status)
	assert.Equal(t, 0, res.Received)
	assert.ErrorIs(t, res.Err, hw.ErrHardwareUnavailable)
	assert.Contains(t, res.String(), "bus=FAILED")
}

func TestADCRunner_FailureAfterSuccess(t *testing.T) {
	src := hw.NewConstantSource(1)
	s := sampler.New(src)
	r := NewADCRunner(s, adcConfig(0), OnADCTick(func(t ADCTick) {
		if t.Count >= 3 {
			src.FailAll(true)
		}
	}))

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BusFailed, res.Status)
	assert.GreaterOrEqual(t, res.Received, 3)
	assert.ErrorIs(t, res.Err, hw.ErrTransientIO)
}

func TestADCRunner_AlreadyRunning(t *testing.T) {
	s := sampler.New(hw.NewConstantSource(1))
	require.NoError(t, s.Start(time.Millisecond))
	defer s.Stop()

	_, err := NewADCRunner(s, adcConfig(0)).Run(context.Background())
	assert.ErrorIs(t, err, sampler.ErrAlreadyRunning)
}

func mcpConfig() config.MCPTestConfig {
	return config.MCPTestConfig{Refresh: 5 * time.Millisecond}
}

func TestMCPRunner_Complete(t *testing.T) {
	for _, name := range []string{
		sequencer.SequenceRunCycle,
		sequencer.SequenceFunctionalityTest,
		sequencer.SequenceTestMode,
		sequencer.SequenceLeakTest,
	} {
		t.Run(name, func(t *testing.T) {
			bank := hw.NewMockBank(nil, nil)
			seq := sequencer.New(bank)

			var ticks int
			r := NewMCPRunner(seq, mcpConfig(), OnMCPTick(func(sequencer.Status) { ticks++ }))
			res, err := r.Run(context.Background(), name)
			require.NoError(t, err)

			assert.Equal(t, BusOK, res.Status)
			assert.Empty(t, res.Reason)
			assert.NotEmpty(t, res.Function)
			assert.Greater(t, ticks, 0)
			assert.False(t, bank.Output(hw.PinMotor))
		})
	}
}

func TestMCPRunner_Repeat(t *testing.T) {
	seq := sequencer.New(hw.NewMockBank(nil, nil))
	cfg := mcpConfig()
	cfg.CycleDelay = 20 * time.Millisecond

	for i := 0; i < 2; i++ {
		start := time.Now()
		res, err := NewMCPRunner(seq, cfg).Run(context.Background(), sequencer.SequenceTestMode)
		require.NoError(t, err)
		assert.Equal(t, BusOK, res.Status)
		assert.GreaterOrEqual(t, time.Since(start), 6*cfg.CycleDelay, "run %d waited for its own completion", i)
	}
}

func TestMCPRunner_BusFailure(t *testing.T) {
	seq := sequencer.New(hw.Unavailable{})
	res, err := NewMCPRunner(seq, mcpConfig()).Run(context.Background(), sequencer.SequenceRunCycle)
	require.NoError(t, err)

	assert.Equal(t, BusFailed, res.Status)
	assert.Equal(t, "bus failure", res.Reason)
	assert.Equal(t, "Run Cycle", res.Function)
}

func TestMCPRunner_Cancel(t *testing.T) {
	bank := hw.NewMockBank(nil, nil)
	seq := sequencer.New(bank)
	cfg := mcpConfig()
	cfg.CycleDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := NewMCPRunner(seq, cfg).Run(ctx, sequencer.SequenceRunCycle)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, BusOK, res.Status)
	assert.Equal(t, "cancelled", res.Reason)
	for _, pin := range sequencer.MonitoredPins {
		assert.False(t, bank.Output(pin), pin)
	}
}

func TestMCPRunner_UnknownSequence(t *testing.T) {
	seq := sequencer.New(hw.NewMockBank(nil, nil))
	_, err := NewMCPRunner(seq, mcpConfig()).Run(context.Background(), "nope")
	assert.ErrorIs(t, err, sequencer.ErrUnknownSequence)
}
