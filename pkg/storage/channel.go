package storage

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/driftfs/driftfs/pkg/wire"
)

// ControlChannel is the persistent connection the naming server holds to a
// registered storage server. It carries both proxied commands and heartbeat
// pings, so every send+recv exchange is serialised under one mutex: a
// dispatcher proxying a request and the heartbeat monitor never interleave
// frames.
type ControlChannel struct {
	mu   sync.Mutex
	conn *wire.Conn
}

// NewControlChannel wraps an accepted connection. timeout bounds each
// individual read and write on the channel.
func NewControlChannel(raw net.Conn, timeout time.Duration) *ControlChannel {
	return &ControlChannel{conn: wire.NewConn(raw, timeout)}
}

// Call performs one request/response exchange. The channel stays locked for
// the full round trip.
func (c *ControlChannel) Call(m *wire.Message) (*wire.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.Write(m); err != nil {
		return nil, fmt.Errorf("control send %s: %w", m.Type, err)
	}
	resp, err := c.conn.Read()
	if err != nil {
		return nil, fmt.Errorf("control recv %s: %w", m.Type, err)
	}
	return resp, nil
}

// Send writes one message without waiting for a reply. Used for
// fire-and-forget traffic: MOVE notifications, REPLICATE fan-out, SHUTDOWN.
func (c *ControlChannel) Send(m *wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.Write(m); err != nil {
		return fmt.Errorf("control send %s: %w", m.Type, err)
	}
	return nil
}

// Close closes the underlying connection. In-flight calls fail with a read
// or write error.
func (c *ControlChannel) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the storage server's peer address.
func (c *ControlChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
