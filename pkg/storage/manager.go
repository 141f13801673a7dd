// Package storage tracks the storage server fleet: registration and
// reconnection, the persistent control channel per server, and the heartbeat
// state machine that drives Active/Failed transitions.
package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/wire"
)

// Channel is the control-channel surface the manager needs. ControlChannel
// is the production implementation; tests substitute fakes.
type Channel interface {
	Call(*wire.Message) (*wire.Message, error)
	Send(*wire.Message) error
	Close() error
}

// ErrNoActiveServer is returned when an operation needs a storage server and
// none is active.
var ErrNoActiveServer = fmt.Errorf("no active storage server")

// Server is a point-in-time copy of a storage server record.
type Server struct {
	ID         string
	Addr       string
	NMPort     uint32
	ClientPort uint32

	Active        bool
	Failed        bool
	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Endpoint returns the address clients connect to for bulk I/O.
func (s Server) Endpoint() (addr string, port uint32) {
	return s.Addr, s.ClientPort
}

// record is the mutable per-server state, guarded by the manager mutex. The
// channel handle is snapshotted out before any I/O; the mutex is never held
// across a network call.
type record struct {
	Server
	channel Channel
}

// Manager owns the storage server list. Records persist across disconnects
// and are never removed within a process run.
type Manager struct {
	mu      sync.RWMutex
	servers map[string]*record
	clock   func() time.Time
}

// NewManager returns an empty fleet.
func NewManager() *Manager {
	return &Manager{
		servers: make(map[string]*record),
		clock:   time.Now,
	}
}

// Register applies a REGISTER_SS payload. A new id inserts a record; a known
// id is a reconnect: endpoint fields are updated in place, the server is
// marked active, and any previous channel is closed before the new one is
// installed. Returns whether this was a reconnect.
func (m *Manager) Register(reg *wire.SSRegistration, ch Channel) (reconnect bool) {
	now := m.clock()

	m.mu.Lock()
	r, known := m.servers[reg.ID]
	if !known {
		r = &record{Server: Server{ID: reg.ID, RegisteredAt: now}}
		m.servers[reg.ID] = r
	}
	old := r.channel
	r.Addr = reg.Addr
	r.NMPort = reg.NMPort
	r.ClientPort = reg.ClientPort
	r.Active = true
	r.Failed = false
	r.LastHeartbeat = now
	r.channel = ch
	m.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return known
}

// Get returns a copy of the record for id.
func (m *Manager) Get(id string) (Server, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.servers[id]
	if !ok {
		return Server{}, false
	}
	return r.Server, true
}

// Channel returns the control channel for id when the server is active.
// Callers do their I/O on the returned handle with no manager lock held.
func (m *Manager) Channel(id string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.servers[id]
	if !ok || !r.Active || r.channel == nil {
		return nil, false
	}
	return r.channel, true
}

// FirstActive returns the active server with the lexically smallest id, the
// default CREATE target when the client names none.
func (m *Manager) FirstActive() (Server, bool) {
	active := m.ActiveServers()
	if len(active) == 0 {
		return Server{}, false
	}
	return active[0], true
}

// ActiveServers returns copies of every active record, sorted by id.
func (m *Manager) ActiveServers() []Server {
	m.mu.RLock()
	out := make([]Server, 0, len(m.servers))
	for _, r := range m.servers {
		if r.Active {
			out = append(out, r.Server)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// List returns copies of every record, sorted by id.
func (m *Manager) List() []Server {
	m.mu.RLock()
	out := make([]Server, 0, len(m.servers))
	for _, r := range m.servers {
		out = append(out, r.Server)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkFailed transitions id to Failed and closes its channel. A failed
// server is never removed; it recovers on a successful heartbeat over a
// fresh registration.
func (m *Manager) MarkFailed(id string) {
	m.mu.Lock()
	r, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	ch := r.channel
	r.channel = nil
	r.Active = false
	r.Failed = true
	m.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	logger.Warn("storage server marked failed", logger.KeySSID, id)
}

// markAlive records a successful heartbeat, transitioning a previously
// failed server back to Active.
func (m *Manager) markAlive(id string) {
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.servers[id]
	if !ok {
		return
	}
	if r.Failed {
		logger.Info("storage server recovered", logger.KeySSID, id)
	}
	r.Active = true
	r.Failed = false
	r.LastHeartbeat = now
}

// Shutdown sends SHUTDOWN on every active control channel and closes all
// channels.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	channels := make(map[string]Channel)
	for id, r := range m.servers {
		if r.channel != nil {
			channels[id] = r.channel
			r.channel = nil
		}
		r.Active = false
	}
	m.mu.Unlock()

	for id, ch := range channels {
		if err := ch.Send(&wire.Message{Type: wire.MsgShutdown}); err != nil {
			logger.Debug("shutdown notification failed", logger.KeySSID, id, logger.KeyError, err.Error())
		}
		ch.Close()
	}
}
