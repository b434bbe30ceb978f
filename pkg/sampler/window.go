package sampler

import (
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Window holds the most recent successful readings, oldest first.
type Window struct {
	size   int
	values []float64
}

// Summary describes the readings held in a Window.
type Summary struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
	// TrimmedMean drops one minimum and one maximum when more than two
	// readings are held, and equals Mean otherwise.
	TrimmedMean float64
}

// NewWindow creates a window holding up to size readings.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		size:   size,
		values: make([]float64, 0, size),
	}
}

// Add appends v, evicting the oldest reading when full.
func (w *Window) Add(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
}

// Values returns a copy of the held readings.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Len returns the number of held readings.
func (w *Window) Len() int {
	return len(w.values)
}

// Reset drops all readings.
func (w *Window) Reset() {
	w.values = w.values[:0]
}

// Summary computes statistics over the held readings.
func (w *Window) Summary() (Summary, error) {
	if len(w.values) == 0 {
		return Summary{}, errors.New("window is empty")
	}

	data := stats.Float64Data(w.values)
	min, err := stats.Min(data)
	if err != nil {
		return Summary{}, errors.Wrap(err, "min")
	}
	max, err := stats.Max(data)
	if err != nil {
		return Summary{}, errors.Wrap(err, "max")
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return Summary{}, errors.Wrap(err, "mean")
	}

	trimmed := mean
	if len(w.values) > 2 {
		sorted := w.Values()
		sort.Float64s(sorted)
		trimmed, err = stats.Mean(sorted[1 : len(sorted)-1])
		if err != nil {
			return Summary{}, errors.Wrap(err, "trimmed mean")
		}
	}

	return Summary{
		Count:       len(w.values),
		Min:         min,
		Max:         max,
		Mean:        mean,
		TrimmedMean: trimmed,
	}, nil
}
