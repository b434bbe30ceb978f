// Package accounting reconciles a requested sampling rate with the number
// of samples actually taken.
package accounting

import (
	"math"
	"time"
)

// Tolerance is the band, in samples, within which a shortfall or surplus is
// reported as zero.
const Tolerance = 2

// Report is a derived missed-sample figure for one refresh tick.
type Report struct {
	Expected int
	Actual   int
	Missed   int
}

// ExpectedCount returns how many samples a test asking for total readings
// every period should have taken after elapsed, assuming uniform pacing.
func ExpectedCount(elapsed, period time.Duration, total int) float64 {
	if period <= 0 {
		return 0
	}
	return elapsed.Seconds() / period.Seconds() * float64(total)
}

// Missed returns round(expected) - actual, or 0 when the difference lies
// within Tolerance. A negative value means more samples than expected.
func Missed(expected float64, actual int) int {
	diff := int(math.Round(expected)) - actual
	if diff >= -Tolerance && diff <= Tolerance {
		return 0
	}
	return diff
}

// Reconcile builds a Report for the given elapsed time and actual count.
func Reconcile(elapsed, period time.Duration, total, actual int) Report {
	expected := ExpectedCount(elapsed, period, total)
	return Report{
		Expected: int(math.Round(expected)),
		Actual:   actual,
		Missed:   Missed(expected, actual),
	}
}
