// Package server implements the naming server's TCP dispatcher: the accept
// loop, the per-connection protocol workers, the operation handlers, the
// read-path fallback engine, and the console watcher.
package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/storage"
)

// Server accepts client and storage server connections on a single TCP port
// and dispatches them to protocol workers. At most MaxClients connections are
// served concurrently; further accepts wait for a slot.
type Server struct {
	cfg   config.ServerConfig
	dsp   *Dispatcher
	fleet *storage.Manager
	rec   metrics.Recorder

	listener   net.Listener
	listenerMu sync.RWMutex

	connSemaphore chan struct{}
	activeConns   sync.WaitGroup
	connCount     atomic.Int32

	// tracked maps connection id to the raw conn for deadline interruption
	// and force close. Storage server sockets leave the map on handoff to
	// the fleet manager.
	tracked sync.Map

	shutdownOnce sync.Once
	shuttingDown atomic.Bool
	shutdownCh   chan struct{}

	// ListenerReady is closed once the listener is bound. Tests use it to
	// avoid connecting before the port is open.
	ListenerReady chan struct{}
}

// New builds a server around the dispatcher. rec may be nil.
func New(cfg config.ServerConfig, dsp *Dispatcher, fleet *storage.Manager, rec metrics.Recorder) *Server {
	return &Server{
		cfg:           cfg,
		dsp:           dsp,
		fleet:         fleet,
		rec:           rec,
		connSemaphore: make(chan struct{}, cfg.MaxClients),
		shutdownCh:    make(chan struct{}),
		ListenerReady: make(chan struct{}),
	}
}

// Addr returns the bound listener address, valid after ListenerReady closes.
func (s *Server) Addr() net.Addr {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve binds the listener and accepts connections until Stop is called. It
// returns after the graceful drain completes.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", s.cfg.Port, err)
	}

	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	close(s.ListenerReady)

	logger.Info("naming server listening",
		"port", s.cfg.Port,
		"max_clients", s.cfg.MaxClients)

	for {
		// A full semaphore blocks the accept loop; pending connections sit
		// in the listen backlog until a served connection closes.
		select {
		case s.connSemaphore <- struct{}{}:
		case <-s.shutdownCh:
			s.drain()
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.connSemaphore
			if s.shuttingDown.Load() || errors.Is(err, net.ErrClosed) {
				s.drain()
				return nil
			}
			logger.Error("accept failed", logger.KeyError, err.Error())
			continue
		}

		s.startWorker(conn)
	}
}

// Stop initiates shutdown: the listener closes and blocked reads on every
// tracked connection are interrupted so workers exit. Serve returns once the
// drain finishes.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		s.shuttingDown.Store(true)
		close(s.shutdownCh)

		s.listenerMu.RLock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.listenerMu.RUnlock()
	})
}

func (s *Server) startWorker(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	id := uuid.NewString()
	s.tracked.Store(id, conn)
	s.activeConns.Add(1)
	count := s.connCount.Add(1)
	if s.rec != nil {
		s.rec.RecordConnectionAccepted()
		s.rec.SetActiveClients(count)
	}
	logger.Debug("connection accepted",
		logger.KeyConnID, id,
		logger.KeyClientIP, conn.RemoteAddr().String(),
		"active", count)

	go func() {
		handoff := false
		defer func() {
			if !handoff {
				conn.Close()
			}
			s.tracked.Delete(id)
			<-s.connSemaphore
			count := s.connCount.Add(-1)
			if s.rec != nil {
				s.rec.RecordConnectionClosed()
				s.rec.SetActiveClients(count)
			}
			s.activeConns.Done()
		}()

		w := newConnection(id, conn, s.dsp, s.fleet, s.rec)
		handoff = w.serve()
	}()
}

// drain waits for active workers to finish, bounded by ShutdownTimeout.
// Connections still open after the timeout are force-closed.
func (s *Server) drain() {
	s.interruptBlockingReads()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all connections drained")
	case <-time.After(s.cfg.ShutdownTimeout):
		logger.Warn("drain timed out, force closing connections",
			"timeout", s.cfg.ShutdownTimeout.String())
		s.forceCloseConnections()
		<-done
	}
}

// interruptBlockingReads expires the read deadline on every tracked
// connection so workers blocked in a read observe the shutdown.
func (s *Server) interruptBlockingReads() {
	now := time.Now()
	s.tracked.Range(func(_, v any) bool {
		if conn, ok := v.(net.Conn); ok {
			conn.SetReadDeadline(now)
		}
		return true
	})
}

func (s *Server) forceCloseConnections() {
	s.tracked.Range(func(id, v any) bool {
		if conn, ok := v.(net.Conn); ok {
			conn.Close()
			if s.rec != nil {
				s.rec.RecordConnectionForceClosed()
			}
			logger.Warn("connection force closed", logger.KeyConnID, id)
		}
		return true
	})
}
