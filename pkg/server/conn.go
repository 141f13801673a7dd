package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/registry"
	"github.com/driftfs/driftfs/pkg/storage"
	"github.com/driftfs/driftfs/pkg/wire"
)

// connection is one accepted socket. The first message decides its role: a
// REGISTER_CLIENT starts a request loop, a REGISTER_SS hands the socket over
// to the fleet manager as a control channel. Anything else is rejected.
type connection struct {
	id    string
	raw   net.Conn
	wc    *wire.Conn
	dsp   *Dispatcher
	fleet *storage.Manager
	rec   metrics.Recorder
}

func newConnection(id string, raw net.Conn, dsp *Dispatcher, fleet *storage.Manager, rec metrics.Recorder) *connection {
	return &connection{
		id:    id,
		raw:   raw,
		wc:    wire.NewConn(raw, 0),
		dsp:   dsp,
		fleet: fleet,
		rec:   rec,
	}
}

// serve runs the connection to completion. It reports whether ownership of
// the socket moved to the fleet manager; the caller must not close it then.
func (c *connection) serve() (handoff bool) {
	first, err := c.wc.Read()
	if err != nil {
		logger.Debug("connection closed before registration",
			logger.KeyConnID, c.id, logger.KeyError, err.Error())
		return false
	}

	switch first.Type {
	case wire.MsgRegisterSS:
		return c.registerStorageServer(first)
	case wire.MsgRegisterClient:
		c.serveClient(first)
		return false
	default:
		c.wc.Write(first.Reply(wire.StatusInvalidRequest,
			"connection must start with REGISTER_CLIENT or REGISTER_SS"))
		return false
	}
}

// registerStorageServer applies a REGISTER_SS payload, replies, and hands the
// socket to the fleet manager. The reply is written before the channel is
// installed so no heartbeat can interleave with it.
func (c *connection) registerStorageServer(m *wire.Message) bool {
	reg, err := wire.DecodeRegistration(m.Data)
	if err != nil {
		logger.Warn("storage server registration rejected",
			logger.KeyConnID, c.id, logger.KeyError, err.Error())
		c.wc.Write(m.Reply(wire.StatusInvalidRequest, err.Error()))
		return false
	}

	if reg.Addr == "" {
		reg.Addr = remoteIP(c.raw)
	}

	// every announced copy on the server is fresher than ours
	accepted, known := c.dsp.reg.AdoptFiles(reg.ID, reg.Files)
	c.dsp.evictCache(accepted)

	text := fmt.Sprintf("registered %s: %d files announced, %d adopted",
		reg.ID, len(reg.Files), len(accepted)-known)
	if err := c.wc.Write(m.Reply(wire.StatusOK, text)); err != nil {
		logger.Warn("storage server registration reply failed",
			logger.KeySSID, reg.ID, logger.KeyError, err.Error())
		return false
	}

	ch := storage.NewControlChannel(c.raw, c.dsp.callTimeout)
	reconnect := c.fleet.Register(reg, ch)
	c.updateFleetGauges()

	logger.Info("storage server registered",
		logger.KeySSID, reg.ID,
		logger.KeySSAddr, fmt.Sprintf("%s:%d", reg.Addr, reg.ClientPort),
		logger.KeyFiles, len(reg.Files),
		"reconnect", reconnect)
	return true
}

// serveClient runs the login handshake and then the request loop until the
// peer disconnects or shutdown interrupts the read.
func (c *connection) serveClient(m *wire.Message) {
	username := m.Username
	ip := remoteIP(c.raw)

	if err := c.dsp.reg.Login(username, ip); err != nil {
		status := wire.StatusInvalidRequest
		if errors.Is(err, registry.ErrAlreadyLoggedIn) {
			status = wire.StatusFileLocked
		}
		logger.Info("login rejected",
			logger.KeyUsername, username,
			logger.KeyClientIP, ip,
			logger.KeyError, err.Error())
		c.wc.Write(m.Reply(status, err.Error()))
		return
	}
	defer c.dsp.reg.Logout(username)

	logger.Info("client logged in",
		logger.KeyUsername, username, logger.KeyClientIP, ip)
	if err := c.wc.Write(m.Reply(wire.StatusOK,
		fmt.Sprintf("welcome to driftfs, %s", username))); err != nil {
		return
	}

	for {
		req, err := c.wc.Read()
		if err != nil {
			logger.Info("client disconnected",
				logger.KeyUsername, username, logger.KeyClientIP, ip)
			return
		}

		if req.Type == wire.MsgRegisterClient || req.Type == wire.MsgRegisterSS {
			if err := c.wc.Write(req.Reply(wire.StatusInvalidRequest, "session already registered")); err != nil {
				return
			}
			continue
		}

		resp := c.dsp.Handle(username, req)
		if err := c.wc.Write(resp); err != nil {
			logger.Warn("response write failed",
				logger.KeyUsername, username, logger.KeyError, err.Error())
			return
		}
	}
}

func (c *connection) updateFleetGauges() {
	if c.rec == nil {
		return
	}
	c.rec.SetStorageServers(len(c.fleet.ActiveServers()), len(c.fleet.List()))
}

// remoteIP strips the port from the peer address.
func remoteIP(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
