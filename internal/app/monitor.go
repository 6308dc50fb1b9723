package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor detects connections that died without a clean leave and reclaims
// their room membership. Probes are fire-and-forget; responses come back
// through Registry.MarkAlive. Eviction reuses the router's public leave
// path, so a race with an in-flight explicit leave cannot double-broadcast.
type Monitor struct {
	Registry *Registry
	Router   *Router
	Interval time.Duration
	Timeout  time.Duration
}

func NewMonitor(reg *Registry, rt *Router, interval, timeout time.Duration) *Monitor {
	return &Monitor{Registry: reg, Router: rt, Interval: interval, Timeout: timeout}
}

// Run sweeps on a fixed interval until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	log.Info().Str("module", "app.monitor").Dur("interval", m.Interval).Dur("timeout", m.Timeout).Msg("liveness monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.monitor").Msg("liveness monitor stopped")
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Sweep evicts every stale connection and probes the rest.
func (m *Monitor) Sweep() {
	stale := make(map[string]bool, 4)
	for _, sid := range m.Registry.Stale(m.Timeout) {
		stale[string(sid)] = true
		log.Warn().Str("module", "app.monitor").Str("sid", string(sid)).Msg("evicting unresponsive connection")
		m.Router.Evict(sid)
	}
	for _, sid := range m.Registry.Handles() {
		if stale[string(sid)] {
			continue
		}
		if err := m.Registry.Probe(sid); err != nil {
			log.Debug().Str("module", "app.monitor").Str("sid", string(sid)).Err(err).Msg("probe failed")
		}
	}
}
