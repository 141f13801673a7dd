package storage

import (
	"context"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/wire"
)

// Monitor sweeps the fleet on a fixed interval, pinging each active server
// on its control channel. A server silent for longer than the window, or one
// whose ping fails, transitions to Failed; a successful ping on a previously
// failed record transitions it back to Active.
type Monitor struct {
	mgr      *Manager
	interval time.Duration
	window   time.Duration
	rec      FailureRecorder
}

// FailureRecorder counts heartbeat failures. Optional; nil disables.
type FailureRecorder interface {
	RecordHeartbeatFailure(ssid string)
}

// NewMonitor builds a heartbeat monitor over mgr.
func NewMonitor(mgr *Manager, interval, window time.Duration) *Monitor {
	return &Monitor{mgr: mgr, interval: interval, window: window}
}

// WithRecorder attaches a failure recorder and returns the monitor.
func (m *Monitor) WithRecorder(rec FailureRecorder) *Monitor {
	m.rec = rec
	return m
}

// Run sweeps until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep runs one pass over the fleet. Channel handles are snapshotted under
// the manager lock; the pings themselves run lock-free.
func (m *Monitor) Sweep() {
	now := m.mgr.clock()

	type probe struct {
		id string
		ch Channel
	}

	m.mgr.mu.RLock()
	var stale []string
	var probes []probe
	for id, r := range m.mgr.servers {
		if !r.Active {
			continue
		}
		if now.Sub(r.LastHeartbeat) > m.window {
			stale = append(stale, id)
			continue
		}
		if r.channel == nil {
			stale = append(stale, id)
			continue
		}
		probes = append(probes, probe{id: id, ch: r.channel})
	}
	m.mgr.mu.RUnlock()

	for _, id := range stale {
		logger.Warn("storage server heartbeat stale", logger.KeySSID, id)
		m.recordFailure(id)
		m.mgr.MarkFailed(id)
	}

	for _, p := range probes {
		resp, err := p.ch.Call(&wire.Message{Type: wire.MsgHeartbeat})
		if err != nil || !resp.Status.OK() {
			if err != nil {
				logger.Warn("storage server heartbeat failed",
					logger.KeySSID, p.id, logger.KeyError, err.Error())
			} else {
				logger.Warn("storage server heartbeat rejected",
					logger.KeySSID, p.id, logger.KeyStatus, uint32(resp.Status))
			}
			m.recordFailure(p.id)
			m.mgr.MarkFailed(p.id)
			continue
		}
		m.mgr.markAlive(p.id)
	}
}

func (m *Monitor) recordFailure(id string) {
	if m.rec != nil {
		m.rec.RecordHeartbeatFailure(id)
	}
}
