package server

import (
	"errors"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/metrics"
	"github.com/driftfs/driftfs/pkg/registry"
	"github.com/driftfs/driftfs/pkg/storage"
	"github.com/driftfs/driftfs/pkg/wire"
)

// Dispatcher routes authenticated client requests to their handlers. It holds
// no per-connection state; one instance serves every worker.
type Dispatcher struct {
	reg   *registry.Registry
	fleet *storage.Manager
	rec   metrics.Recorder

	paths       config.PathsConfig
	execCfg     config.ExecConfig
	callTimeout time.Duration
}

// NewDispatcher wires the dispatcher. rec may be nil.
func NewDispatcher(reg *registry.Registry, fleet *storage.Manager, cfg *config.Config, rec metrics.Recorder) *Dispatcher {
	return &Dispatcher{
		reg:         reg,
		fleet:       fleet,
		rec:         rec,
		paths:       cfg.Paths,
		execCfg:     cfg.Exec,
		callTimeout: cfg.Server.SSCallTimeout,
	}
}

// Handle processes one request from user and returns the response to write
// back. It never returns nil.
func (d *Dispatcher) Handle(user string, m *wire.Message) *wire.Message {
	start := time.Now()
	resp := d.dispatch(user, m)

	elapsed := time.Since(start)
	if d.rec != nil {
		d.rec.RecordRequest(m.Type.String(), resp.Status.String(), elapsed)
	}
	logger.Debug("request handled",
		logger.KeyOperation, m.Type.String(),
		logger.KeyUsername, user,
		logger.KeyStatus, resp.Status.String(),
		logger.KeyDurationMs, elapsed.Milliseconds())
	return resp
}

func (d *Dispatcher) dispatch(user string, m *wire.Message) *wire.Message {
	switch m.Type {
	case wire.MsgCreate:
		return d.handleCreate(user, m)
	case wire.MsgRead, wire.MsgStream:
		return d.handleRead(user, m)
	case wire.MsgWrite, wire.MsgUndo:
		return d.handleWrite(user, m)
	case wire.MsgDelete:
		return d.handleDelete(user, m)
	case wire.MsgInfo:
		return d.handleInfo(user, m)
	case wire.MsgView:
		return d.handleView(user, m)
	case wire.MsgExec:
		return d.handleExec(user, m)
	case wire.MsgSearch:
		return d.handleSearch(user, m)
	case wire.MsgCreateFolder:
		return d.handleCreateFolder(user, m)
	case wire.MsgViewFolder:
		return d.handleViewFolder(user, m)
	case wire.MsgMove:
		return d.handleMove(user, m)
	case wire.MsgCheckpoint:
		return d.handleCheckpoint(user, m)
	case wire.MsgViewCheckpoint:
		return d.handleViewCheckpoint(user, m)
	case wire.MsgRevert:
		return d.handleRevert(user, m)
	case wire.MsgListCheckpoints:
		return d.handleListCheckpoints(user, m)
	case wire.MsgAddAccess:
		return d.handleAddAccess(user, m)
	case wire.MsgRemAccess:
		return d.handleRemAccess(user, m)
	case wire.MsgRequestAccess:
		return d.handleRequestAccess(user, m)
	case wire.MsgViewRequests:
		return d.handleViewRequests(user, m)
	case wire.MsgRespondRequest:
		return d.handleRespondRequest(user, m)
	case wire.MsgListUsers:
		return d.handleListUsers(user, m)
	case wire.MsgListSS:
		return d.handleListSS(m)
	default:
		return m.Reply(wire.StatusInvalidRequest, "unsupported operation")
	}
}

// fail maps a registry or storage error to its wire status.
func (d *Dispatcher) fail(m *wire.Message, err error) *wire.Message {
	return m.Reply(statusFor(err), err.Error())
}

func statusFor(err error) wire.Status {
	switch {
	case errors.Is(err, registry.ErrFileNotFound):
		return wire.StatusFileNotFound
	case errors.Is(err, registry.ErrFileExists),
		errors.Is(err, registry.ErrCheckpointExists),
		errors.Is(err, registry.ErrDuplicateRequest):
		return wire.StatusFileExists
	case errors.Is(err, registry.ErrPermissionDenied):
		return wire.StatusPermissionDenied
	case errors.Is(err, registry.ErrFolderNotFound):
		return wire.StatusFolderNotFound
	case errors.Is(err, registry.ErrFolderExists):
		return wire.StatusFolderExists
	case errors.Is(err, registry.ErrCheckpointNotFound):
		return wire.StatusCheckpointNotFound
	case errors.Is(err, registry.ErrRequestNotFound):
		return wire.StatusRequestNotFound
	case errors.Is(err, registry.ErrAlreadyLoggedIn):
		return wire.StatusFileLocked
	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, registry.ErrInvalidRequest),
		errors.Is(err, registry.ErrUserNotFound):
		return wire.StatusInvalidRequest
	case errors.Is(err, storage.ErrNoActiveServer):
		return wire.StatusSSUnavailable
	default:
		return wire.StatusServerError
	}
}

// accessFromFlags decodes the read/write bits shared by ADD_ACCESS and
// REQUESTACCESS.
func accessFromFlags(flags uint32) registry.Access {
	return registry.Access{
		Read:  flags&wire.AccessRead != 0,
		Write: flags&wire.AccessWrite != 0,
	}
}

func (d *Dispatcher) recordFallback(source string) {
	if d.rec != nil {
		d.rec.RecordFallback(source)
	}
}
