package accounting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpectedCount(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		period  time.Duration
		total   int
		want    float64
	}{
		{"one period", time.Second, time.Second, 60, 60},
		{"half period", 500 * time.Millisecond, time.Second, 60, 30},
		{"several periods", 10 * time.Second, 2 * time.Second, 10, 50},
		{"nothing elapsed", 0, time.Second, 60, 0},
		{"zero period", time.Second, 0, 60, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ExpectedCount(tt.elapsed, tt.period, tt.total), 1e-9)
		})
	}
}

func TestMissed(t *testing.T) {
	tests := []struct {
		expected float64
		actual   int
		want     int
	}{
		{100, 99, 0},
		{100, 90, 10},
		{100, 101, 0},
		{100, 102, 0},
		{100, 98, 0},
		{100, 97, 3},
		{100, 105, -5},
		{99.6, 97, 3},
		{99.4, 97, 0},
		{0, 0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Missed(tt.expected, tt.actual), "expected=%v actual=%d", tt.expected, tt.actual)
	}
}

func TestReconcile(t *testing.T) {
	r := Reconcile(2*time.Second, time.Second, 50, 80)
	assert.Equal(t, Report{Expected: 100, Actual: 80, Missed: 20}, r)

	r = Reconcile(2*time.Second, time.Second, 50, 99)
	assert.Equal(t, Report{Expected: 100, Actual: 99, Missed: 0}, r)
}
