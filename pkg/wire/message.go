// Package wire defines the control message exchanged between clients, the
// naming server, and storage servers, together with its framed XDR codec.
//
// A single fixed-layout message carries every operation; the Type field
// discriminates. Responses reuse the same layout with Status set.
package wire

import (
	"fmt"
	"strings"
)

// MsgType discriminates the operation carried by a Message.
type MsgType uint32

const (
	MsgRegisterSS     MsgType = 1
	MsgRegisterClient MsgType = 2

	MsgCreate          MsgType = 10
	MsgRead            MsgType = 11
	MsgWrite           MsgType = 12
	MsgDelete          MsgType = 13
	MsgView            MsgType = 14
	MsgInfo            MsgType = 15
	MsgStream          MsgType = 16
	MsgListUsers       MsgType = 17
	MsgAddAccess       MsgType = 18
	MsgRemAccess       MsgType = 19
	MsgExec            MsgType = 20
	MsgUndo            MsgType = 21
	MsgSearch          MsgType = 22
	MsgCreateFolder    MsgType = 23
	MsgMove            MsgType = 24
	MsgViewFolder      MsgType = 25
	MsgCheckpoint      MsgType = 26
	MsgViewCheckpoint  MsgType = 27
	MsgRevert          MsgType = 28
	MsgListCheckpoints MsgType = 29
	MsgRequestAccess   MsgType = 30
	MsgViewRequests    MsgType = 31
	MsgRespondRequest  MsgType = 32
	MsgHeartbeat       MsgType = 33
	MsgShutdown        MsgType = 34
	MsgReplicate       MsgType = 35
	MsgListSS          MsgType = 36
)

// String returns the wire name of the message type, used in logs and metrics.
func (t MsgType) String() string {
	switch t {
	case MsgRegisterSS:
		return "REGISTER_SS"
	case MsgRegisterClient:
		return "REGISTER_CLIENT"
	case MsgCreate:
		return "CREATE"
	case MsgRead:
		return "READ"
	case MsgWrite:
		return "WRITE"
	case MsgDelete:
		return "DELETE"
	case MsgView:
		return "VIEW"
	case MsgInfo:
		return "INFO"
	case MsgStream:
		return "STREAM"
	case MsgListUsers:
		return "LIST_USERS"
	case MsgAddAccess:
		return "ADD_ACCESS"
	case MsgRemAccess:
		return "REM_ACCESS"
	case MsgExec:
		return "EXEC"
	case MsgUndo:
		return "UNDO"
	case MsgSearch:
		return "SEARCH"
	case MsgCreateFolder:
		return "CREATEFOLDER"
	case MsgMove:
		return "MOVE"
	case MsgViewFolder:
		return "VIEWFOLDER"
	case MsgCheckpoint:
		return "CHECKPOINT"
	case MsgViewCheckpoint:
		return "VIEWCHECKPOINT"
	case MsgRevert:
		return "REVERT"
	case MsgListCheckpoints:
		return "LISTCHECKPOINTS"
	case MsgRequestAccess:
		return "REQUESTACCESS"
	case MsgViewRequests:
		return "VIEWREQUESTS"
	case MsgRespondRequest:
		return "RESPONDREQUEST"
	case MsgHeartbeat:
		return "HEARTBEAT"
	case MsgShutdown:
		return "SHUTDOWN"
	case MsgReplicate:
		return "REPLICATE"
	case MsgListSS:
		return "LIST_SS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint32(t))
	}
}

// Status is the response code carried in Message.Status.
type Status uint32

const (
	StatusOK     Status = 200 // RESP_SUCCESS
	StatusSSInfo Status = 201 // RESP_SS_INFO: SSIP/SSPort carry the endpoint
	StatusData   Status = 202 // RESP_DATA: storage server payload replies
	StatusAck    Status = 203 // RESP_ACK

	StatusInvalidRequest     Status = 400
	StatusPermissionDenied   Status = 403
	StatusFileNotFound       Status = 404
	StatusFileExists         Status = 409
	StatusFileLocked         Status = 423
	StatusFolderNotFound     Status = 424
	StatusFolderExists       Status = 425
	StatusCheckpointNotFound Status = 426
	StatusRequestNotFound    Status = 428
	StatusServerError        Status = 500
	StatusSSUnavailable      Status = 503
)

// OK reports whether the status is a success code.
func (s Status) OK() bool { return s >= 200 && s < 300 }

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "SUCCESS"
	case StatusSSInfo:
		return "SS_INFO"
	case StatusData:
		return "DATA"
	case StatusAck:
		return "ACK"
	case StatusInvalidRequest:
		return "INVALID_REQUEST"
	case StatusPermissionDenied:
		return "PERMISSION_DENIED"
	case StatusFileNotFound:
		return "FILE_NOT_FOUND"
	case StatusFileExists:
		return "FILE_EXISTS"
	case StatusFileLocked:
		return "FILE_LOCKED"
	case StatusFolderNotFound:
		return "FOLDER_NOT_FOUND"
	case StatusFolderExists:
		return "FOLDER_EXISTS"
	case StatusCheckpointNotFound:
		return "CHECKPOINT_NOT_FOUND"
	case StatusRequestNotFound:
		return "REQUEST_NOT_FOUND"
	case StatusServerError:
		return "SERVER_ERROR"
	case StatusSSUnavailable:
		return "SS_UNAVAILABLE"
	default:
		return fmt.Sprintf("STATUS(%d)", uint32(s))
	}
}

// Access flag bits used by ADD_ACCESS, REQUESTACCESS, and RESPONDREQUEST.
const (
	AccessRead  = 1
	AccessWrite = 2
)

// View flag bits.
const (
	ViewAll    = 1 // list every file, annotating inaccessible ones
	ViewDetail = 2 // include owner, size, word and char counts
)

// Limits on variable-length fields. Oversized messages are rejected by the
// codec before any allocation proportional to the claimed size.
const (
	MaxNameLen = 256  // filenames, usernames, checkpoint tags
	MaxPathLen = 512  // folder paths
	MaxDataLen = 4096 // Data payload
	MaxSSFiles = 1024 // filenames in one REGISTER_SS payload
)

// Message is the single control frame used on every connection. All
// operations populate a subset of the fields; the rest stay zero.
//
// Responses echo the request with Status (and for SS redirects SSAddr/SSPort)
// filled in. Human-readable result text travels in Data.
type Message struct {
	Type     MsgType
	Username string
	Filename string
	Folder   string

	CheckpointTag string
	RequestID     uint32
	SentenceNum   int32
	WordIndex     int32
	Flags         uint32

	Status Status
	SSAddr string
	SSPort uint32

	Data []byte
}

// Text returns the payload as a string.
func (m *Message) Text() string { return string(m.Data) }

// SetText replaces the payload with s.
func (m *Message) SetText(s string) { m.Data = []byte(s) }

// Reply builds a response to m with the given status and text payload. The
// identifying fields of the request are echoed so clients can correlate.
func (m *Message) Reply(status Status, text string) *Message {
	return &Message{
		Type:          m.Type,
		Username:      m.Username,
		Filename:      m.Filename,
		Folder:        m.Folder,
		CheckpointTag: m.CheckpointTag,
		RequestID:     m.RequestID,
		Status:        status,
		Data:          []byte(text),
	}
}

// SSInfoReply builds a RESP_SS_INFO redirect pointing the client at a storage
// server endpoint for direct bulk I/O.
func (m *Message) SSInfoReply(addr string, port int, text string) *Message {
	r := m.Reply(StatusSSInfo, text)
	r.SSAddr = addr
	r.SSPort = uint32(port)
	return r
}

// SSRegistration is the payload of a REGISTER_SS message, XDR-encoded into
// Message.Data. Files lists the names the storage server already hosts.
type SSRegistration struct {
	ID         string
	Addr       string
	NMPort     uint32
	ClientPort uint32
	Files      []string
}

// Validate checks field bounds before the registration is applied. The id is
// held to the same reserved-character rules as filenames: it becomes a
// registry field and an on-disk path element.
func (r *SSRegistration) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("storage server id is empty")
	}
	if len(r.ID) > MaxNameLen {
		return fmt.Errorf("storage server id exceeds %d bytes", MaxNameLen)
	}
	if strings.ContainsAny(r.ID, ":/\\\n") || r.ID == "." || r.ID == ".." {
		return fmt.Errorf("storage server id contains reserved characters")
	}
	if len(r.Files) > MaxSSFiles {
		return fmt.Errorf("registration lists %d files, limit is %d", len(r.Files), MaxSSFiles)
	}
	for _, f := range r.Files {
		if f == "" || len(f) > MaxNameLen {
			return fmt.Errorf("invalid filename in registration: %q", f)
		}
	}
	return nil
}
