package adapter

import (
	"time"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/hostsys/internal/probe"
)

// HealthOptions tunes RegisterProbes.
type HealthOptions struct {
	// Timeout bounds each readiness check.
	Timeout time.Duration
	// MaxGoroutines fails liveness once exceeded. Zero disables the check.
	MaxGoroutines int
}

// RegisterProbes adds a readiness check per required probe and a goroutine
// liveness check to h. Optional probes are not registered; an unsupported
// capability must not make the process unready.
func RegisterProbes(h healthcheck.Handler, probes []probe.Probe, opts HealthOptions) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	for _, p := range probes {
		if !p.Required {
			continue
		}
		h.AddReadinessCheck(p.Name, healthcheck.Timeout(p.Check, opts.Timeout))
	}
	if opts.MaxGoroutines > 0 {
		h.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(opts.MaxGoroutines))
	}
}
