package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/itohio/hwstress/pkg/config"
	"github.com/itohio/hwstress/pkg/logging"
	"github.com/itohio/hwstress/pkg/sequencer"
)

var (
	app         = kingpin.New("hwstress", "Stress test for the relay board ADC and I/O expander.")
	configFlag  = app.Flag("config", "Configuration file path.").Default("config.yaml").String()
	mockFlag    = app.Flag("mock", "Use simulated hardware instead of the I2C bus.").Bool()
	levelFlag   = app.Flag("log-level", "Log level override (debug, info, warn, error).").String()
	metricsFlag = app.Flag("metrics-addr", "Serve Prometheus metrics on this address, e.g. :9100.").String()

	adcCmd      = app.Command("adc", "Sample the ADC at the requested rate.")
	adcRequests = adcCmd.Flag("requests", "Readings per period, 0 keeps the configured value.").Default("0").Int()
	adcPeriod   = adcCmd.Flag("period", "Sampling period, negative keeps the configured value.").Default("-1s").Duration()
	adcHeld     = adcCmd.Flag("held", "Readings kept for the held summary, 0 keeps the configured value.").Default("0").Int()
	adcDuration = adcCmd.Flag("duration", "Stop after this long, negative keeps the configured value, 0 runs until interrupted.").Default("-1s").Duration()

	mcpCmd        = app.Command("mcp", "Drive the relays through a test sequence.")
	mcpSequence   = mcpCmd.Arg("sequence", "Sequence to run.").Required().Enum("run-cycle", "functionality-test", "test-mode", "leak-test")
	mcpPinDelay   = mcpCmd.Flag("pin-delay", "Delay between pin writes, negative keeps the configured value.").Default("-1s").Duration()
	mcpCycleDelay = mcpCmd.Flag("cycle-delay", "Delay between modes, negative keeps the configured value.").Default("-1s").Duration()
)

var sequences = map[string]string{
	"run-cycle":          sequencer.SequenceRunCycle,
	"functionality-test": sequencer.SequenceFunctionalityTest,
	"test-mode":          sequencer.SequenceTestMode,
	"leak-test":          sequencer.SequenceLeakTest,
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(cmd, cfg, log))
}

// run executes the selected test and returns the process exit code: 0 when
// the bus status is OK, 1 when it is FAILED and 2 when the test could not
// start.
func run(cmd string, cfg *config.Config, log *logrus.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, log)
	defer a.close()

	if err := a.serveMetrics(); err != nil {
		log.WithError(err).Error("Metrics endpoint failed")
		return 2
	}

	var (
		ok  bool
		err error
	)
	switch cmd {
	case adcCmd.FullCommand():
		ok, err = a.runADC(ctx, os.Stdout)
	case mcpCmd.FullCommand():
		ok, err = a.runMCP(ctx, os.Stdout, sequences[*mcpSequence])
	}
	if err != nil {
		log.WithError(err).Error("Test could not start")
		return 2
	}
	if !ok {
		return 1
	}
	return 0
}

// applyOverrides copies command line values over the loaded configuration.
func applyOverrides(cfg *config.Config) {
	if *mockFlag {
		cfg.ADC.Backend = config.BackendMock
		cfg.MCP.Backend = config.BackendMock
	}
	if *levelFlag != "" {
		cfg.Log.Level = *levelFlag
	}
	if *metricsFlag != "" {
		cfg.Metrics.Listen = *metricsFlag
	}

	if *adcRequests > 0 {
		cfg.ADCTest.Requests = *adcRequests
	}
	if *adcPeriod >= 0 {
		cfg.ADCTest.Period = *adcPeriod
	}
	if *adcHeld > 0 {
		cfg.ADCTest.Held = *adcHeld
	}
	if *adcDuration >= 0 {
		cfg.ADCTest.Duration = *adcDuration
	}

	if *mcpPinDelay >= 0 {
		cfg.MCPTest.PinDelay = *mcpPinDelay
	}
	if *mcpCycleDelay >= 0 {
		cfg.MCPTest.CycleDelay = *mcpCycleDelay
	}
}
