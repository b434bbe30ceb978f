// Package stress runs the hardware stress tests. A runner starts the
// sampler or sequencer, polls it at a fixed refresh rate independent of the
// hardware rate, and turns what it observes into a pass/fail result.
package stress

import (
	"fmt"
	"time"
)

// BusStatus is the verdict of a finished test.
type BusStatus string

const (
	BusOK     BusStatus = "OK"
	BusFailed BusStatus = "FAILED"
)

// DefaultRefresh is used when a runner is given no refresh interval.
const DefaultRefresh = time.Second / 30

func refreshOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultRefresh
	}
	return d
}

// ADCResult summarises a finished sampling test.
type ADCResult struct {
	Requests int // readings the configured rate asked for over Duration
	Received int
	Missed   int
	Duration time.Duration
	Status   BusStatus
	Err      error // last read error when Status is BusFailed
}

func (r ADCResult) String() string {
	return fmt.Sprintf("requests=%d received=%d missed=%d duration=%.2fs bus=%s",
		r.Requests, r.Received, r.Missed, r.Duration.Seconds(), r.Status)
}

// MCPResult summarises a finished sequencing test.
type MCPResult struct {
	Function string
	Status   BusStatus
	Reason   string
}

func (r MCPResult) String() string {
	if r.Reason != "" {
		return fmt.Sprintf("function=%q bus=%s (%s)", r.Function, r.Status, r.Reason)
	}
	return fmt.Sprintf("function=%q bus=%s", r.Function, r.Status)
}
