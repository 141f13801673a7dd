package storage

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/driftfs/driftfs/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoPeer answers every received message with an ACK carrying the request
// type name, until the connection closes.
func echoPeer(t *testing.T, conn net.Conn) {
	t.Helper()
	go func() {
		for {
			m, err := wire.ReadMessage(conn)
			if err != nil {
				return
			}
			if err := wire.WriteMessage(conn, m.Reply(wire.StatusAck, m.Type.String())); err != nil {
				return
			}
		}
	}()
}

func TestControlChannel_Call(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	echoPeer(t, server)

	ch := NewControlChannel(client, 0)

	resp, err := ch.Call(&wire.Message{Type: wire.MsgHeartbeat})
	require.NoError(t, err)
	assert.Equal(t, wire.StatusAck, resp.Status)
	assert.Equal(t, "HEARTBEAT", resp.Text())
}

func TestControlChannel_SerialisesConcurrentCalls(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	echoPeer(t, server)

	ch := NewControlChannel(client, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(mt wire.MsgType) {
			defer wg.Done()
			resp, err := ch.Call(&wire.Message{Type: mt})
			if assert.NoError(t, err) {
				// each caller gets the reply to its own request
				assert.Equal(t, mt.String(), resp.Text())
			}
		}(wire.MsgType(10 + i))
	}
	wg.Wait()
}

func TestControlChannel_CallAfterClose(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	ch := NewControlChannel(client, 0)
	require.NoError(t, ch.Close())

	_, err := ch.Call(&wire.Message{Type: wire.MsgHeartbeat})
	assert.Error(t, err)
}

func TestControlChannel_Timeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	// peer never replies

	ch := NewControlChannel(client, 50*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Call(&wire.Message{Type: wire.MsgHeartbeat})
		done <- err
	}()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not time out")
	}
}
