package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/registry"
	"github.com/driftfs/driftfs/pkg/wire"
)

// handleExec fetches a script the caller can read and runs it under the
// configured shell on the naming server host, returning the combined output.
func (d *Dispatcher) handleExec(user string, m *wire.Message) *wire.Message {
	if !d.execCfg.Enabled {
		return m.Reply(wire.StatusPermissionDenied, "remote execution is disabled")
	}

	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}
	acc, err := d.reg.CheckPermission(f.Name, user)
	if err != nil {
		return d.fail(m, err)
	}
	if !acc.Read {
		return m.Reply(wire.StatusPermissionDenied,
			fmt.Sprintf("you do not have read access to %s", f.Name))
	}

	script, err := d.fetchContent(&f, user)
	if err != nil {
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("cannot fetch %s: %v", f.Name, err))
	}

	start := time.Now()
	out, runErr := d.runScript(script)
	logger.Info("script executed",
		logger.KeyFilename, f.Name,
		logger.KeyUsername, user,
		logger.KeyDurationMs, time.Since(start).Milliseconds(),
		"failed", runErr != nil)

	if len(out) > wire.MaxDataLen {
		out = out[:wire.MaxDataLen]
	}
	if runErr != nil {
		resp := m.Reply(wire.StatusServerError, "")
		resp.Data = append([]byte(runErr.Error()+"\n"), out...)
		if len(resp.Data) > wire.MaxDataLen {
			resp.Data = resp.Data[:wire.MaxDataLen]
		}
		return resp
	}

	resp := m.Reply(wire.StatusOK, "")
	resp.Data = out
	return resp
}

// fetchContent obtains the file bytes, preferring the home server over local
// copies. The server fetch uses a one-shot connection to its client port
// rather than the control channel, keeping bulk bytes off the heartbeat path.
func (d *Dispatcher) fetchContent(f *registry.FileInfo, user string) ([]byte, error) {
	if s, ok := d.fleet.Get(f.SSID); ok && s.Active {
		data, err := d.fetchFromServer(s.Addr, s.ClientPort, f.Name, user)
		if err == nil {
			return data, nil
		}
		logger.Debug("content fetch from server failed",
			logger.KeySSID, f.SSID, logger.KeyError, err.Error())
	}

	if data, source, ok := d.localContent(f); ok {
		logger.Debug("content fetched locally",
			logger.KeyFilename, f.Name, logger.KeySource, source)
		return data, nil
	}
	return nil, fmt.Errorf("no storage server, cache, or backup copy available")
}

func (d *Dispatcher) fetchFromServer(addr string, port uint32, name, user string) ([]byte, error) {
	raw, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", addr, port), d.callTimeout)
	if err != nil {
		return nil, err
	}
	defer raw.Close()

	wc := wire.NewConn(raw, d.callTimeout)
	if err := wc.Write(&wire.Message{Type: wire.MsgRead, Filename: name, Username: user}); err != nil {
		return nil, err
	}
	resp, err := wc.Read()
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusData {
		return nil, fmt.Errorf("storage server answered %s", resp.Status)
	}
	return resp.Data, nil
}

// runScript writes the bytes to an owner-only temp file and executes it,
// stderr folded into stdout, bounded by the configured timeout.
func (d *Dispatcher) runScript(script []byte) ([]byte, error) {
	tmp, err := os.CreateTemp("", "driftns-exec-*.sh")
	if err != nil {
		return nil, fmt.Errorf("create script file: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(script); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write script file: %w", err)
	}
	if err := tmp.Chmod(0700); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("chmod script file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close script file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.execCfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.execCfg.Shell, path)
	out, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return out, fmt.Errorf("script timed out after %s", d.execCfg.Timeout)
	}
	return out, err
}
