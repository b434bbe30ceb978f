package stress

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/hwstress/pkg/config"
	"github.com/itohio/hwstress/pkg/logging"
	"github.com/itohio/hwstress/pkg/sequencer"
)

// MCPRunner drives one relay sequence test.
type MCPRunner struct {
	seq    *sequencer.Sequencer
	cfg    config.MCPTestConfig
	log    logrus.FieldLogger
	onTick func(sequencer.Status)
}

// MCPOption configures an MCPRunner.
type MCPOption func(*MCPRunner)

// WithMCPLogger sets the logger.
func WithMCPLogger(log logrus.FieldLogger) MCPOption {
	return func(r *MCPRunner) { r.log = log }
}

// OnMCPTick registers a callback invoked on the polling goroutine once per
// refresh.
func OnMCPTick(fn func(sequencer.Status)) MCPOption {
	return func(r *MCPRunner) { r.onTick = fn }
}

// NewMCPRunner binds a runner to seq.
func NewMCPRunner(seq *sequencer.Sequencer, cfg config.MCPTestConfig, opts ...MCPOption) *MCPRunner {
	r := &MCPRunner{seq: seq, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logging.Discard()
	}
	r.log = r.log.WithField("component", "mcp_test")
	return r
}

// Run starts the named sequence and polls it until it completes, ctx is
// done, or the bus is found missing. Outputs are at rest when Run returns.
// Only usage errors from starting the sequence are returned.
func (r *MCPRunner) Run(ctx context.Context, name string) (MCPResult, error) {
	timing := sequencer.Timing{PinDelay: r.cfg.PinDelay, CycleDelay: r.cfg.CycleDelay}
	if err := r.seq.Start(name, timing); err != nil {
		return MCPResult{}, err
	}
	defer r.seq.Cancel()

	res := MCPResult{Function: r.seq.Status().Function, Status: BusOK}
	log := r.log.WithField("sequence", name)
	log.Info("MCP test started")

	ticker := time.NewTicker(refreshOrDefault(r.cfg.Refresh))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.seq.Cancel()
			res.Reason = "cancelled"
			log.Info("MCP test cancelled")
			return res, nil

		case <-ticker.C:
			st := r.seq.Status()
			if r.onTick != nil {
				r.onTick(st)
			}

			switch {
			case !st.HasMode && !r.seq.Available():
				res.Status = BusFailed
				res.Reason = "bus failure"
				log.Error("MCP test failed, relay bank unavailable")
				return res, nil

			case st.HasMode && st.Mode == sequencer.ModeComplete:
				log.Info("MCP test finished")
				return res, nil
			}
		}
	}
}
