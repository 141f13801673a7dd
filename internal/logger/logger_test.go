package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	Info("client registered", KeyUsername, "alice", KeyClientIP, "10.0.0.5")

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "client registered")
	assert.Contains(t, out, "username=alice")
	assert.Contains(t, out, "client_ip=10.0.0.5")
	assert.NotContains(t, out, "\033[", "color disabled")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("storage server registered", KeySSID, "ss1", KeyFiles, 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "storage server registered", record["msg"])
	assert.Equal(t, "ss1", record["ss_id"])
	assert.Equal(t, float64(3), record["files"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("dropped")
	Info("dropped too")
	Warn("kept")
	Error("kept as well")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept")
	assert.Contains(t, out, "kept as well")
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "ERROR", "text", false)

	SetLevel("NOISY")
	Info("still filtered")
	assert.Empty(t, buf.String())
}

func TestColorOutput(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", true)

	Info("colored")
	assert.Contains(t, buf.String(), colorGreen)
}

func TestWithBindsAttrs(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	l := With(KeyConnID, "c-42")
	l.Info("handling request", KeyOperation, "READ")

	out := buf.String()
	assert.Contains(t, out, "conn_id=c-42")
	assert.Contains(t, out, "operation=READ")
}

func TestErrAttr(t *testing.T) {
	attr := Err(errors.New("boom"))
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, "boom", attr.Value.String())

	assert.True(t, Err(nil).Equal(slog.Attr{}))
}

func TestFormatValueKinds(t *testing.T) {
	assert.Equal(t, "42", formatValue(slog.IntValue(42).Resolve()))
	assert.Equal(t, "true", formatValue(slog.BoolValue(true)))
	assert.Equal(t, "1.500", formatValue(slog.Float64Value(1.5)))
	assert.True(t, strings.HasPrefix(formatValue(slog.StringValue("plain")), "plain"))
}
