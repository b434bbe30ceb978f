package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/hwstress/pkg/config"
	"github.com/itohio/hwstress/pkg/logging"
	"github.com/itohio/hwstress/pkg/sequencer"
)

func TestApplyOverrides(t *testing.T) {
	cmd, err := app.Parse([]string{"--mock", "--log-level", "debug", "adc", "--requests", "10", "--period", "500ms", "--duration", "2s"})
	require.NoError(t, err)
	assert.Equal(t, adcCmd.FullCommand(), cmd)

	cfg := config.Default()
	applyOverrides(cfg)

	assert.Equal(t, config.BackendMock, cfg.ADC.Backend)
	assert.Equal(t, config.BackendMock, cfg.MCP.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 10, cfg.ADCTest.Requests)
	assert.Equal(t, 500*time.Millisecond, cfg.ADCTest.Period)
	assert.Equal(t, 2*time.Second, cfg.ADCTest.Duration)
	assert.Equal(t, 1, cfg.ADCTest.Held, "unset flags keep the configured value")
	assert.Equal(t, config.Default().MCPTest, cfg.MCPTest)
}

func TestParseSequence(t *testing.T) {
	_, err := app.Parse([]string{"mcp", "leak-test", "--cycle-delay", "0s"})
	require.NoError(t, err)
	assert.Equal(t, sequencer.SequenceLeakTest, sequences[*mcpSequence])

	_, err = app.Parse([]string{"mcp", "spin"})
	assert.Error(t, err)
}

func mockConfig() *config.Config {
	cfg := config.Default()
	cfg.ADC.Backend = config.BackendMock
	cfg.MCP.Backend = config.BackendMock
	cfg.ADCTest.Duration = 100 * time.Millisecond
	cfg.ADCTest.Held = 3
	cfg.MCPTest.CycleDelay = 0
	return cfg
}

func TestRunADC_Mock(t *testing.T) {
	a := newApp(mockConfig(), logging.Discard())
	defer a.close()

	var out bytes.Buffer
	ok, err := a.runADC(context.Background(), &out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), "bus=OK")
	assert.Contains(t, out.String(), "held: n=3")
}

func TestRunMCP_Mock(t *testing.T) {
	a := newApp(mockConfig(), logging.Discard())
	defer a.close()

	var out bytes.Buffer
	ok, err := a.runMCP(context.Background(), &out, sequencer.SequenceLeakTest)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, out.String(), `function="Leak Test" bus=OK`)
	assert.Contains(t, out.String(), "inputs: panel_power=off tls=off")
}

func TestServeMetrics(t *testing.T) {
	cfg := mockConfig()
	cfg.Metrics.Listen = "127.0.0.1:0"

	a := newApp(cfg, logging.Discard())
	require.NoError(t, a.serveMetrics())
	assert.NotNil(t, a.srv)
	a.close()
	assert.Nil(t, a.srv)
}

func TestPinsLabel(t *testing.T) {
	assert.Equal(t, "a=on b=off", pinsLabel(map[string]bool{"b": false, "a": true}))
	assert.Equal(t, "", heldSuffix([]float64{1}))
	assert.Equal(t, "  held=[1.00 2.50]", heldSuffix([]float64{1, 2.5}))
	assert.Equal(t, "-", modeLabel(sequencer.Status{}))
}
