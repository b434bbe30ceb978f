package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/itohio/hwstress/pkg/config"
	"github.com/itohio/hwstress/pkg/hw"
	"github.com/itohio/hwstress/pkg/metrics"
	"github.com/itohio/hwstress/pkg/sampler"
	"github.com/itohio/hwstress/pkg/sequencer"
	"github.com/itohio/hwstress/pkg/stress"
)

// printInterval throttles live status lines; the runners poll faster.
const printInterval = 500 * time.Millisecond

type application struct {
	cfg     *config.Config
	log     *logrus.Logger
	reg     *prometheus.Registry
	metrics *metrics.Collector
	srv     *http.Server
	closers []io.Closer
}

func newApp(cfg *config.Config, log *logrus.Logger) *application {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	return &application{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		metrics: metrics.New(reg),
	}
}

// serveMetrics starts the Prometheus endpoint when one is configured.
func (a *application) serveMetrics() error {
	if a.cfg.Metrics.Listen == "" {
		return nil
	}

	ln, err := net.Listen("tcp", a.cfg.Metrics.Listen)
	if err != nil {
		return errors.Wrapf(err, "listen %s", a.cfg.Metrics.Listen)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.reg, promhttp.HandlerOpts{}))
	a.srv = &http.Server{Handler: mux}

	go func() {
		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Warn("Metrics server exited")
		}
	}()
	a.log.WithField("addr", ln.Addr().String()).Info("Serving metrics")
	return nil
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.WithError(err).Warn("Close failed")
		}
	}
	a.closers = nil

	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		a.srv.Shutdown(ctx)
		a.srv = nil
	}
}

func (a *application) runADC(ctx context.Context, out io.Writer) (bool, error) {
	src, closer := hw.OpenSource(a.cfg, a.log)
	a.closers = append(a.closers, closer)
	if _, failed := src.(hw.Unavailable); failed && a.cfg.ADC.Backend == config.BackendSerial {
		if ports, err := hw.SerialPorts(); err == nil {
			a.log.WithField("ports", strings.Join(ports, ",")).Info("Available serial ports")
		}
	}

	s := sampler.New(src,
		sampler.WithLogger(a.log),
		sampler.WithMetrics(a.metrics),
		sampler.WithHeld(a.cfg.ADCTest.Held),
	)

	var last time.Time
	r := stress.NewADCRunner(s, a.cfg.ADCTest,
		stress.WithADCLogger(a.log),
		stress.WithADCMetrics(a.metrics),
		stress.OnADCTick(func(t stress.ADCTick) {
			if time.Since(last) < printInterval {
				return
			}
			last = time.Now()
			fmt.Fprintf(out, "%6.1fs  reading=%s  count=%d  expected=%d  missed=%d%s\n",
				t.Elapsed.Seconds(), t.Latest, t.Count, t.Report.Expected, t.Report.Missed, heldSuffix(t.Held))
		}),
	)

	res, err := r.Run(ctx)
	if err != nil {
		return false, err
	}

	fmt.Fprintln(out, res)
	if sum, err := s.Summary(); err == nil && sum.Count > 1 {
		fmt.Fprintf(out, "held: n=%d min=%.2f max=%.2f mean=%.2f trimmed=%.2f\n",
			sum.Count, sum.Min, sum.Max, sum.Mean, sum.TrimmedMean)
	}
	return res.Status == stress.BusOK, nil
}

func heldSuffix(held []float64) string {
	if len(held) < 2 {
		return ""
	}
	vals := make([]string, len(held))
	for i, v := range held {
		vals[i] = fmt.Sprintf("%.2f", v)
	}
	return "  held=[" + strings.Join(vals, " ") + "]"
}

func (a *application) runMCP(ctx context.Context, out io.Writer, name string) (bool, error) {
	bank, closer := hw.OpenBank(a.cfg, a.log)
	a.closers = append(a.closers, closer)

	seq := sequencer.New(bank,
		sequencer.WithLogger(a.log),
		sequencer.WithMetrics(a.metrics),
	)

	var (
		last     time.Time
		lastMode string
	)
	r := stress.NewMCPRunner(seq, a.cfg.MCPTest,
		stress.WithMCPLogger(a.log),
		stress.OnMCPTick(func(st sequencer.Status) {
			if st.Mode == lastMode && time.Since(last) < printInterval {
				return
			}
			last, lastMode = time.Now(), st.Mode
			fmt.Fprintf(out, "%s  mode=%s  pin_delay=%v  cycle_delay=%v  %s\n",
				st.Function, modeLabel(st), st.Timing.PinDelay, st.Timing.CycleDelay, pinsLabel(st.Pins))
		}),
	)

	res, err := r.Run(ctx, name)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(out, res)

	if seq.Available() {
		if in, err := seq.InputValues(); err == nil {
			fmt.Fprintf(out, "inputs: %s\n", pinsLabel(in))
		} else {
			a.log.WithError(err).Warn("Input read failed")
		}
	}
	return res.Status == stress.BusOK, nil
}

func modeLabel(st sequencer.Status) string {
	if !st.HasMode {
		return "-"
	}
	return st.Mode
}

func pinsLabel(pins map[string]bool) string {
	names := make([]string, 0, len(pins))
	for name := range pins {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		v := "off"
		if pins[name] {
			v = "on"
		}
		parts[i] = name + "=" + v
	}
	return strings.Join(parts, " ")
}
