package wire_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/driftfs/driftfs/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	t.Parallel()

	msg := &wire.Message{
		Type:          wire.MsgCheckpoint,
		Username:      "alice",
		Filename:      "notes.txt",
		Folder:        "docs/2026",
		CheckpointTag: "v1",
		RequestID:     42,
		SentenceNum:   3,
		WordIndex:     -1,
		Flags:         wire.AccessRead | wire.AccessWrite,
		Status:        wire.StatusOK,
		SSAddr:        "10.0.0.7",
		SSPort:        9101,
		Data:          []byte("payload bytes"),
	}

	var buf bytes.Buffer
	require.NoError(t, wire.WriteMessage(&buf, msg))

	got, err := wire.ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, msg, got)
}

func TestReadMessage_CleanEOF(t *testing.T) {
	t.Parallel()

	_, err := wire.ReadMessage(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestReadMessage_TruncatedFrame(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, wire.WriteMessage(&buf, &wire.Message{Type: wire.MsgView}))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := wire.ReadMessage(bytes.NewReader(truncated))
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestReadMessage_RejectsOversizedFrame(t *testing.T) {
	t.Parallel()

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], wire.MaxFrameLen+1)

	_, err := wire.ReadMessage(bytes.NewReader(prefix[:]))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestReadMessage_RejectsOversizedFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *wire.Message
	}{
		{"long username", &wire.Message{Type: wire.MsgRead, Username: strings.Repeat("u", wire.MaxNameLen+1)}},
		{"long folder", &wire.Message{Type: wire.MsgMove, Folder: strings.Repeat("d/", wire.MaxPathLen)}},
		{"long payload", &wire.Message{Type: wire.MsgWrite, Data: bytes.Repeat([]byte{'x'}, wire.MaxDataLen+1)}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			require.NoError(t, wire.WriteMessage(&buf, tt.msg))
			_, err := wire.ReadMessage(&buf)
			assert.Error(t, err)
		})
	}
}

func TestRegistrationRoundTrip(t *testing.T) {
	t.Parallel()

	reg := &wire.SSRegistration{
		ID:         "ss1",
		Addr:       "192.168.1.20",
		NMPort:     9100,
		ClientPort: 9101,
		Files:      []string{"a.txt", "b.txt"},
	}

	data, err := wire.EncodeRegistration(reg)
	require.NoError(t, err)

	got, err := wire.DecodeRegistration(data)
	require.NoError(t, err)
	assert.Equal(t, reg, got)
}

func TestDecodeRegistration_RejectsEmptyID(t *testing.T) {
	t.Parallel()

	data, err := wire.EncodeRegistration(&wire.SSRegistration{Addr: "10.0.0.1"})
	require.NoError(t, err)

	_, err = wire.DecodeRegistration(data)
	assert.Error(t, err)
}

func TestDecodeRegistration_RejectsReservedID(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"ss:1", "ss/1", "..", "ss\n1"} {
		data, err := wire.EncodeRegistration(&wire.SSRegistration{ID: id, Addr: "10.0.0.1"})
		require.NoError(t, err)

		_, err = wire.DecodeRegistration(data)
		assert.Error(t, err, "id %q must be rejected", id)
	}
}

func TestRegisterSSPayloadMayExceedDataLimit(t *testing.T) {
	t.Parallel()

	files := make([]string, 512)
	for i := range files {
		files[i] = strings.Repeat("f", 64)
	}
	data, err := wire.EncodeRegistration(&wire.SSRegistration{ID: "ss1", Addr: "10.0.0.1", Files: files})
	require.NoError(t, err)
	require.Greater(t, len(data), wire.MaxDataLen)

	var buf bytes.Buffer
	require.NoError(t, wire.WriteMessage(&buf, &wire.Message{Type: wire.MsgRegisterSS, Data: data}))
	got, err := wire.ReadMessage(&buf)
	require.NoError(t, err)

	decoded, err := wire.DecodeRegistration(got.Data)
	require.NoError(t, err)
	assert.Len(t, decoded.Files, 512)
}

func TestStatusOK(t *testing.T) {
	t.Parallel()

	assert.True(t, wire.StatusOK.OK())
	assert.True(t, wire.StatusSSInfo.OK())
	assert.False(t, wire.StatusFileNotFound.OK())
	assert.False(t, wire.StatusSSUnavailable.OK())
}

func TestReply_EchoesIdentity(t *testing.T) {
	t.Parallel()

	req := &wire.Message{
		Type:     wire.MsgDelete,
		Username: "bob",
		Filename: "plan.doc",
	}
	resp := req.Reply(wire.StatusPermissionDenied, "only the owner can delete a file")

	assert.Equal(t, wire.MsgDelete, resp.Type)
	assert.Equal(t, "bob", resp.Username)
	assert.Equal(t, "plan.doc", resp.Filename)
	assert.Equal(t, wire.StatusPermissionDenied, resp.Status)
	assert.Equal(t, "only the owner can delete a file", resp.Text())
}
