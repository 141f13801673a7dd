package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/driftfs/driftfs/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel is an in-process control channel for tests.
type fakeChannel struct {
	mu     sync.Mutex
	calls  []*wire.Message
	sends  []*wire.Message
	closed bool

	// respond builds the reply for a Call; nil means a plain ACK.
	respond func(*wire.Message) (*wire.Message, error)
}

func (f *fakeChannel) Call(m *wire.Message) (*wire.Message, error) {
	f.mu.Lock()
	f.calls = append(f.calls, m)
	closed := f.closed
	f.mu.Unlock()

	if closed {
		return nil, errors.New("channel closed")
	}
	if f.respond != nil {
		return f.respond(m)
	}
	return m.Reply(wire.StatusAck, ""), nil
}

func (f *fakeChannel) Send(m *wire.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("channel closed")
	}
	f.sends = append(f.sends, m)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) sentTypes() []wire.MsgType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.MsgType, len(f.sends))
	for i, m := range f.sends {
		out[i] = m.Type
	}
	return out
}

func registration(id string) *wire.SSRegistration {
	return &wire.SSRegistration{ID: id, Addr: "10.0.0.1", NMPort: 9100, ClientPort: 9101}
}

func TestRegister_New(t *testing.T) {
	m := NewManager()

	reconnect := m.Register(registration("ss1"), &fakeChannel{})
	assert.False(t, reconnect)

	s, ok := m.Get("ss1")
	require.True(t, ok)
	assert.True(t, s.Active)
	assert.False(t, s.Failed)
	assert.Equal(t, "10.0.0.1", s.Addr)
	assert.False(t, s.LastHeartbeat.IsZero())
}

func TestRegister_OneRecordPerID(t *testing.T) {
	m := NewManager()
	old := &fakeChannel{}

	m.Register(registration("ss1"), old)

	updated := registration("ss1")
	updated.Addr = "10.0.0.2"
	reconnect := m.Register(updated, &fakeChannel{})

	assert.True(t, reconnect)
	assert.Len(t, m.List(), 1)
	assert.True(t, old.closed, "stale channel closed on reconnect")

	s, _ := m.Get("ss1")
	assert.Equal(t, "10.0.0.2", s.Addr)
}

func TestRegister_ReconnectClearsFailed(t *testing.T) {
	m := NewManager()
	m.Register(registration("ss1"), &fakeChannel{})
	m.MarkFailed("ss1")

	s, _ := m.Get("ss1")
	require.True(t, s.Failed)

	m.Register(registration("ss1"), &fakeChannel{})
	s, _ = m.Get("ss1")
	assert.True(t, s.Active)
	assert.False(t, s.Failed)
}

func TestMarkFailed(t *testing.T) {
	m := NewManager()
	ch := &fakeChannel{}
	m.Register(registration("ss1"), ch)

	m.MarkFailed("ss1")

	s, ok := m.Get("ss1")
	require.True(t, ok, "failed servers are never removed")
	assert.False(t, s.Active)
	assert.True(t, s.Failed)
	assert.True(t, ch.closed)

	_, ok = m.Channel("ss1")
	assert.False(t, ok)
}

func TestFirstActive_SmallestID(t *testing.T) {
	m := NewManager()

	_, ok := m.FirstActive()
	assert.False(t, ok)

	m.Register(registration("ss2"), &fakeChannel{})
	m.Register(registration("ss1"), &fakeChannel{})
	m.Register(registration("ss3"), &fakeChannel{})
	m.MarkFailed("ss1")

	s, ok := m.FirstActive()
	require.True(t, ok)
	assert.Equal(t, "ss2", s.ID)
}

func TestActiveServers(t *testing.T) {
	m := NewManager()
	m.Register(registration("ss1"), &fakeChannel{})
	m.Register(registration("ss2"), &fakeChannel{})
	m.MarkFailed("ss2")

	active := m.ActiveServers()
	require.Len(t, active, 1)
	assert.Equal(t, "ss1", active[0].ID)

	assert.Len(t, m.List(), 2)
}

func TestShutdown_NotifiesAll(t *testing.T) {
	m := NewManager()
	ch1 := &fakeChannel{}
	ch2 := &fakeChannel{}
	m.Register(registration("ss1"), ch1)
	m.Register(registration("ss2"), ch2)

	m.Shutdown()

	assert.Equal(t, []wire.MsgType{wire.MsgShutdown}, ch1.sentTypes())
	assert.Equal(t, []wire.MsgType{wire.MsgShutdown}, ch2.sentTypes())
	assert.True(t, ch1.closed)
	assert.True(t, ch2.closed)

	for _, s := range m.List() {
		assert.False(t, s.Active)
	}
}

func TestEndpoint(t *testing.T) {
	s := Server{Addr: "10.0.0.7", NMPort: 9100, ClientPort: 9101}
	addr, port := s.Endpoint()
	assert.Equal(t, "10.0.0.7", addr)
	assert.Equal(t, uint32(9101), port)
}

func TestMonitor_PingKeepsAlive(t *testing.T) {
	m := NewManager()
	ch := &fakeChannel{}
	m.Register(registration("ss1"), ch)

	before, _ := m.Get("ss1")

	m.clock = func() time.Time { return before.LastHeartbeat.Add(5 * time.Second) }
	NewMonitor(m, 10*time.Second, 60*time.Second).Sweep()

	after, _ := m.Get("ss1")
	assert.True(t, after.Active)
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat))

	ch.mu.Lock()
	defer ch.mu.Unlock()
	require.Len(t, ch.calls, 1)
	assert.Equal(t, wire.MsgHeartbeat, ch.calls[0].Type)
}

func TestMonitor_StaleWindowFails(t *testing.T) {
	m := NewManager()
	ch := &fakeChannel{}
	m.Register(registration("ss1"), ch)

	s, _ := m.Get("ss1")
	m.clock = func() time.Time { return s.LastHeartbeat.Add(61 * time.Second) }

	NewMonitor(m, 10*time.Second, 60*time.Second).Sweep()

	after, _ := m.Get("ss1")
	assert.False(t, after.Active)
	assert.True(t, after.Failed)
	assert.True(t, ch.closed)
}

func TestMonitor_PingErrorFails(t *testing.T) {
	m := NewManager()
	ch := &fakeChannel{respond: func(*wire.Message) (*wire.Message, error) {
		return nil, errors.New("broken pipe")
	}}
	m.Register(registration("ss1"), ch)

	NewMonitor(m, 10*time.Second, 60*time.Second).Sweep()

	after, _ := m.Get("ss1")
	assert.True(t, after.Failed)
}

func TestMonitor_SkipsInactive(t *testing.T) {
	m := NewManager()
	ch := &fakeChannel{}
	m.Register(registration("ss1"), ch)
	m.MarkFailed("ss1")

	NewMonitor(m, 10*time.Second, 60*time.Second).Sweep()

	ch.mu.Lock()
	defer ch.mu.Unlock()
	assert.Empty(t, ch.calls, "failed servers are not pinged")
}
