package server

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftfs/driftfs/pkg/config"
	"github.com/driftfs/driftfs/pkg/registry"
	"github.com/driftfs/driftfs/pkg/storage"
	"github.com/driftfs/driftfs/pkg/wire"
)

// startServer runs a server on an ephemeral port and returns it with its
// backing registry, fleet, and config. Serve's error surfaces on done.
func startServer(t *testing.T) (*Server, *registry.Registry, *storage.Manager, *config.Config, chan error) {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Server.Port = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	base := t.TempDir()
	cfg.Paths.CacheDir = filepath.Join(base, "cache")
	cfg.Paths.BackupsDir = filepath.Join(base, "backups")

	reg := registry.New()
	fleet := storage.NewManager()
	srv := New(cfg.Server, NewDispatcher(reg, fleet, cfg, nil), fleet, nil)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	select {
	case <-srv.ListenerReady:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not come up")
	}

	t.Cleanup(func() {
		srv.Stop()
		// done may already have been drained by the test body
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
	})
	return srv, reg, fleet, cfg, done
}

func dialServer(t *testing.T, srv *Server) *wire.Conn {
	t.Helper()
	raw, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return wire.NewConn(raw, 2*time.Second)
}

// loginClient performs the REGISTER_CLIENT handshake.
func loginClient(t *testing.T, srv *Server, username string) *wire.Conn {
	t.Helper()
	wc := dialServer(t, srv)
	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgRegisterClient, Username: username}))
	resp, err := wc.Read()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.Status)
	return wc
}

func TestServer_ClientLoginAndRequest(t *testing.T) {
	srv, reg, fleet, _, _ := startServer(t)
	fleet.Register(&wire.SSRegistration{ID: "ss-1", Addr: "10.0.0.1", ClientPort: 9001}, &fakeChannel{})
	require.NoError(t, reg.CreateFile("notes.txt", "alice", "ss-1", ""))

	wc := loginClient(t, srv, "alice")

	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgRead, Filename: "notes.txt"}))
	resp, err := wc.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSSInfo, resp.Status)
	assert.Equal(t, "10.0.0.1", resp.SSAddr)
}

func TestServer_WelcomeText(t *testing.T) {
	srv, _, _, _, _ := startServer(t)

	wc := dialServer(t, srv)
	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgRegisterClient, Username: "alice"}))
	resp, err := wc.Read()
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.Status)
	assert.Contains(t, resp.Text(), "welcome")
	assert.Contains(t, resp.Text(), "alice")
}

func TestServer_SecondLoginRejected(t *testing.T) {
	srv, _, _, _, _ := startServer(t)

	loginClient(t, srv, "alice")

	wc := dialServer(t, srv)
	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgRegisterClient, Username: "alice"}))
	resp, err := wc.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusFileLocked, resp.Status)
	assert.Contains(t, resp.Text(), "already logged in")
}

func TestServer_LogoutFreesSession(t *testing.T) {
	srv, reg, _, _, _ := startServer(t)

	wc := dialServer(t, srv)
	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgRegisterClient, Username: "alice"}))
	_, err := wc.Read()
	require.NoError(t, err)
	wc.Close()

	require.Eventually(t, func() bool {
		return len(reg.Sessions()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	loginClient(t, srv, "alice")
}

func TestServer_FirstMessageMustRegister(t *testing.T) {
	srv, _, _, _, _ := startServer(t)

	wc := dialServer(t, srv)
	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgView}))
	resp, err := wc.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInvalidRequest, resp.Status)
}

func TestServer_DoubleRegistrationRejectedInSession(t *testing.T) {
	srv, _, _, _, _ := startServer(t)

	wc := loginClient(t, srv, "alice")
	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgRegisterClient, Username: "eve"}))
	resp, err := wc.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInvalidRequest, resp.Status)
}

func TestServer_StorageServerRegistrationAndHandoff(t *testing.T) {
	srv, reg, fleet, _, _ := startServer(t)

	raw, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	payload, err := wire.EncodeRegistration(&wire.SSRegistration{
		ID:         "ss-1",
		Addr:       "127.0.0.1",
		NMPort:     9000,
		ClientPort: 9001,
		Files:      []string{"preexisting.txt"},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteMessage(raw, &wire.Message{Type: wire.MsgRegisterSS, Data: payload}))

	resp, err := wire.ReadMessage(raw)
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.Status)

	s, ok := fleet.Get("ss-1")
	require.True(t, ok)
	assert.True(t, s.Active)

	// announced file adopted under the system owner
	f, err := reg.GetFile("preexisting.txt")
	require.NoError(t, err)
	assert.Equal(t, registry.SystemOwner, f.Owner)

	// the socket is now the control channel: a client CREATE arrives here
	go func() {
		for {
			m, err := wire.ReadMessage(raw)
			if err != nil {
				return
			}
			if err := wire.WriteMessage(raw, m.Reply(wire.StatusOK, "")); err != nil {
				return
			}
		}
	}()

	wc := loginClient(t, srv, "alice")
	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgCreate, Filename: "fresh.txt"}))
	created, err := wc.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOK, created.Status)

	f, err = reg.GetFile("fresh.txt")
	require.NoError(t, err)
	assert.Equal(t, "ss-1", f.SSID)
}

func TestServer_RegistrationEvictsAnnouncedCacheCopies(t *testing.T) {
	srv, reg, _, cfg, _ := startServer(t)

	// a cached copy from a prior run, unknown to the registry
	require.NoError(t, os.MkdirAll(cfg.Paths.CacheDir, 0755))
	stale := filepath.Join(cfg.Paths.CacheDir, "orphan.txt")
	require.NoError(t, os.WriteFile(stale, []byte("stale bytes"), 0644))

	raw, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	payload, err := wire.EncodeRegistration(&wire.SSRegistration{
		ID:         "ss-1",
		Addr:       "127.0.0.1",
		ClientPort: 9001,
		Files:      []string{"orphan.txt"},
	})
	require.NoError(t, err)
	require.NoError(t, wire.WriteMessage(raw, &wire.Message{Type: wire.MsgRegisterSS, Data: payload}))

	resp, err := wire.ReadMessage(raw)
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.Status)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "announced files lose their cached copies")

	_, err = reg.GetFile("orphan.txt")
	assert.NoError(t, err)
}

func TestServer_MalformedSSRegistrationRejected(t *testing.T) {
	srv, _, fleet, _, _ := startServer(t)

	wc := dialServer(t, srv)
	require.NoError(t, wc.Write(&wire.Message{Type: wire.MsgRegisterSS, Data: []byte("not xdr")}))
	resp, err := wc.Read()
	require.NoError(t, err)
	assert.Equal(t, wire.StatusInvalidRequest, resp.Status)
	assert.Empty(t, fleet.List())
}

func TestServer_GracefulStop(t *testing.T) {
	srv, _, _, _, done := startServer(t)

	wc := loginClient(t, srv, "alice")

	srv.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after stop")
	}

	// the drained connection is unusable afterwards
	_ = wc.Write(&wire.Message{Type: wire.MsgView})
	_, err := wc.Read()
	assert.Error(t, err)
}

func TestWatchConsole(t *testing.T) {
	fired := false
	WatchConsole(strings.NewReader("status\n\nshutdown\n"), func() { fired = true })
	assert.True(t, fired, "SHUTDOWN line fires the callback case-insensitively")
}

func TestWatchConsole_EOFWithoutCommand(t *testing.T) {
	fired := false
	WatchConsole(strings.NewReader("noop\n"), func() { fired = true })
	assert.False(t, fired)
}
