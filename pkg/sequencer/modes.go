package sequencer

import (
	"time"

	"github.com/pkg/errors"

	"github.com/itohio/hwstress/pkg/hw"
)

// Built-in mode names.
const (
	ModeRun   = "run"
	ModeRest  = "rest"
	ModePurge = "purge"
	ModeBurp  = "burp"
	ModeBleed = "bleed"
	ModeLeak  = "leak"

	// ModeComplete is reported once a run has finished and outputs are at rest.
	// It never names a real mode.
	ModeComplete = "Complete"
)

// Built-in sequence names.
const (
	SequenceRunCycle          = "run_cycle"
	SequenceFunctionalityTest = "functionality_test"
	SequenceTestMode          = "test_mode"
	SequenceLeakTest          = "leak_test"
)

// MonitoredPins are the outputs reported by PinValues, in display order.
var MonitoredPins = []string{hw.PinMotor, hw.PinV1, hw.PinV2, hw.PinV5}

// PinValue is one pin assignment within a mode.
type PinValue struct {
	Pin   string
	Value bool
}

// Mode is a named, ordered set of pin assignments. Pins not listed keep
// their level.
type Mode struct {
	Name string
	Pins []PinValue
}

// Sequence is an ordered list of mode names. Function is the label shown
// while it runs.
type Sequence struct {
	Name     string
	Function string
	Modes    []string
}

// Timing holds the delays of one run.
type Timing struct {
	PinDelay   time.Duration // between successive pin writes within a mode
	CycleDelay time.Duration // between successive modes
}

func (t Timing) validate() error {
	if t.PinDelay < 0 || t.CycleDelay < 0 {
		return errors.Wrapf(ErrInvalidTiming, "pin delay %v, cycle delay %v", t.PinDelay, t.CycleDelay)
	}
	return nil
}

func mode(name string, motor, v1, v2, v5 bool) Mode {
	return Mode{
		Name: name,
		Pins: []PinValue{
			{hw.PinMotor, motor},
			{hw.PinV1, v1},
			{hw.PinV2, v2},
			{hw.PinV5, v5},
		},
	}
}

// BuiltinModes returns the relay board mode table.
func BuiltinModes() []Mode {
	return []Mode{
		mode(ModeRun, true, true, false, true),
		mode(ModeRest, false, false, false, false),
		mode(ModePurge, true, false, true, false),
		mode(ModeBurp, false, false, false, true),
		mode(ModeBleed, false, false, true, true),
		mode(ModeLeak, false, true, true, true),
	}
}

// repeat returns modes concatenated n times.
func repeat(n int, modes ...string) []string {
	out := make([]string, 0, n*len(modes))
	for i := 0; i < n; i++ {
		out = append(out, modes...)
	}
	return out
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// BuiltinSequences returns the sequences behind the test entry points.
func BuiltinSequences() []Sequence {
	return []Sequence{
		{
			Name:     SequenceRunCycle,
			Function: "Run Cycle",
			Modes: concat(
				[]string{ModeRun, ModeRest},
				repeat(6, ModePurge, ModeBurp),
				[]string{ModeRest},
			),
		},
		{
			Name:     SequenceFunctionalityTest,
			Function: "Functionality Test",
			Modes:    concat(repeat(5, ModeRun, ModePurge), []string{ModeRest}),
		},
		{
			Name:     SequenceTestMode,
			Function: "Test Mode",
			Modes:    concat(repeat(2, ModeRun, ModeRest), []string{ModePurge, ModeBleed}),
		},
		{
			Name:     SequenceLeakTest,
			Function: "Leak Test",
			Modes:    []string{ModeLeak},
		},
	}
}
