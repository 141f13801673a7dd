package logger

import "log/slog"

// Standard field keys for structured logging. Every component logs with these
// keys so records can be correlated across the dispatcher, the registry, and
// the storage-server layer.
const (
	// Operation and outcome
	KeyOperation  = "operation"   // wire operation name: CREATE, READ, ...
	KeyStatus     = "status"      // numeric wire status code
	KeyStatusMsg  = "status_msg"  // wire status name
	KeyError      = "error"       // error message
	KeyDurationMs = "duration_ms" // operation duration in milliseconds

	// Principals and connections
	KeyUsername = "username"  // client username
	KeyClientIP = "client_ip" // peer address
	KeyConnID   = "conn_id"   // per-connection trace id

	// Namespace
	KeyFilename   = "filename"   // file name
	KeyFolder     = "folder"     // folder path
	KeyCheckpoint = "checkpoint" // checkpoint tag
	KeyRequestID  = "request_id" // access-request id

	// Storage servers
	KeySSID    = "ss_id"    // storage server id
	KeySSAddr  = "ss_addr"  // storage server endpoint
	KeyFiles   = "files"    // file count
	KeySource  = "source"   // read-path source: ss, cache, backup, failover
	KeyPattern = "pattern"  // search term
	KeyEntries = "entries"  // result count
	KeyPath    = "path"     // local filesystem path
)

// Err returns a slog.Attr for an error, empty when err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr for a wire operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Username returns a slog.Attr for the requesting user.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Filename returns a slog.Attr for a file name.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// SSID returns a slog.Attr for a storage server id.
func SSID(id string) slog.Attr {
	return slog.String(KeySSID, id)
}

// ClientIP returns a slog.Attr for the peer address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}
