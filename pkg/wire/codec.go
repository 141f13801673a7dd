package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/driftfs/driftfs/pkg/bufpool"
)

// MaxFrameLen bounds a single framed message on the wire. It is sized for a
// REGISTER_SS payload carrying MaxSSFiles maximum-length filenames; ordinary
// requests are far smaller and additionally bounded by MaxDataLen at the
// handler layer.
const MaxFrameLen = 1 << 19 // 512 KiB

// Framing: a uint32 big-endian length prefix followed by the XDR-encoded
// message body (RFC 4506). The prefix lets readers reject oversized frames
// before decoding.

// WriteMessage encodes m and writes one framed message to w.
func WriteMessage(w io.Writer, m *Message) error {
	var body bytes.Buffer
	if _, err := xdr.Marshal(&body, m); err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if body.Len() > MaxFrameLen {
		return fmt.Errorf("message of %d bytes exceeds frame limit %d", body.Len(), MaxFrameLen)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(body.Len()))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame prefix: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r. It returns io.EOF unwrapped
// when the peer closed the connection cleanly between frames, so callers can
// distinguish an orderly hangup from a truncated frame.
func ReadMessage(r io.Reader) (*Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameLen {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", length, MaxFrameLen)
	}

	// The staging buffer is pooled; the decoder copies everything it keeps.
	body := bufpool.Get(int(length))
	defer bufpool.Put(body)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	var m Message
	if _, err := xdr.Unmarshal(bytes.NewReader(body), &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := validateMessage(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// validateMessage enforces field bounds after decoding. The frame limit alone
// is not enough: a single oversized string inside a small frame cannot occur,
// but a legal frame can still carry fields longer than the protocol allows.
func validateMessage(m *Message) error {
	if len(m.Username) > MaxNameLen {
		return fmt.Errorf("username exceeds %d bytes", MaxNameLen)
	}
	if len(m.Filename) > MaxNameLen {
		return fmt.Errorf("filename exceeds %d bytes", MaxNameLen)
	}
	if len(m.CheckpointTag) > MaxNameLen {
		return fmt.Errorf("checkpoint tag exceeds %d bytes", MaxNameLen)
	}
	if len(m.Folder) > MaxPathLen {
		return fmt.Errorf("folder path exceeds %d bytes", MaxPathLen)
	}
	// REGISTER_SS carries an encoded SSRegistration in Data and may exceed
	// the ordinary payload bound.
	if m.Type != MsgRegisterSS && len(m.Data) > MaxDataLen {
		return fmt.Errorf("payload of %d bytes exceeds %d", len(m.Data), MaxDataLen)
	}
	return nil
}

// EncodeRegistration encodes an SSRegistration for transport in Message.Data.
func EncodeRegistration(reg *SSRegistration) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, reg); err != nil {
		return nil, fmt.Errorf("encode registration: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeRegistration decodes and validates an SSRegistration from a
// REGISTER_SS payload.
func DecodeRegistration(data []byte) (*SSRegistration, error) {
	var reg SSRegistration
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &reg); err != nil {
		return nil, fmt.Errorf("decode registration: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Conn wraps a net.Conn with message framing and optional per-call deadlines.
// It performs no internal locking; callers that share a Conn across
// goroutines must serialise access themselves (see storage.ControlChannel).
type Conn struct {
	raw     net.Conn
	timeout time.Duration
}

// NewConn wraps raw. timeout, when non-zero, bounds each individual read and
// write; zero means block indefinitely.
func NewConn(raw net.Conn, timeout time.Duration) *Conn {
	return &Conn{raw: raw, timeout: timeout}
}

// Read receives the next framed message.
func (c *Conn) Read() (*Message, error) {
	if c.timeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return nil, err
		}
	}
	return ReadMessage(c.raw)
}

// Write sends one framed message.
func (c *Conn) Write(m *Message) error {
	if c.timeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	return WriteMessage(c.raw, m)
}

// SetReadDeadline exposes the underlying deadline for shutdown interruption.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.raw.SetReadDeadline(t) }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.raw.Close() }
