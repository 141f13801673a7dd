// Package registry is the naming server's authoritative in-memory metadata
// store: files with their ACLs, checkpoints and access requests, folders,
// users, active sessions, and the bounded search memo.
//
// Locking is split into independent domains so unrelated operations never
// contend: the file table (which also covers per-file ACL, checkpoint,
// request, and folder-field mutation), the folder table, users, sessions,
// the access-request id counter, and the search memo each have their own
// mutex. The only nested acquisition is file table then request counter.
// No lock is ever held across network I/O; callers copy what they need and
// release before talking to a storage server.
package registry

import (
	"sync"
	"time"
)

// SystemOwner is assigned to files discovered through a storage server
// registration that the registry has never seen. Such files have no ACL, so
// nobody can read them until ownership is overridden.
const SystemOwner = "system"

// Access is a pair of capability flags. Write implies read everywhere the
// registry grants it.
type Access struct {
	Read  bool
	Write bool
}

// Checkpoint is a named snapshot of a file's bytes held on the storage
// server. The tag is the user-visible handle, unique per file.
type Checkpoint struct {
	Tag       string
	Creator   string
	CreatedAt time.Time
	Size      int64
}

// RequestStatus is the lifecycle state of an AccessRequest.
type RequestStatus int

const (
	RequestPending RequestStatus = iota
	RequestApproved
	RequestDenied
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "PENDING"
	case RequestApproved:
		return "APPROVED"
	case RequestDenied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

// AccessRequest is a non-owner's petition for access to a file. Terminal
// records stay in the list for audit and are immutable.
type AccessRequest struct {
	ID          uint32
	Requester   string
	Access      Access
	RequestedAt time.Time
	Status      RequestStatus
}

// file is the authoritative per-file record. It is only ever touched under
// the file-table mutex; the exported API hands out copies.
type file struct {
	name   string
	owner  string
	ssid   string
	folder string

	createdAt  time.Time
	modifiedAt time.Time
	accessedAt time.Time

	size  int64
	words int64
	chars int64

	acl         map[string]Access
	checkpoints []Checkpoint
	requests    []AccessRequest
}

// FileInfo is a point-in-time copy of a file record.
type FileInfo struct {
	Name   string
	Owner  string
	SSID   string
	Folder string

	CreatedAt  time.Time
	ModifiedAt time.Time
	AccessedAt time.Time

	Size  int64
	Words int64
	Chars int64

	ACL map[string]Access
}

// Folder is a namespace grouping. File membership lives on the file record;
// a folder with no referencing files is simply empty.
type Folder struct {
	Path      string
	Owner     string
	CreatedAt time.Time
}

// User is created on first login and never deleted.
type User struct {
	Username     string
	RegisteredAt time.Time
}

// Session is an active login. At most one exists per username.
type Session struct {
	Username string
	ClientIP string
	LoginAt  time.Time
}

// Registry is the metadata store. The zero value is not usable; call New.
type Registry struct {
	filesMu sync.RWMutex
	files   map[string]*file

	foldersMu sync.RWMutex
	folders   map[string]*Folder

	usersMu sync.RWMutex
	users   map[string]*User

	sessionsMu sync.Mutex
	sessions   map[string]*Session

	// requestMu guards the process-wide monotonic request id. Lock order:
	// filesMu before requestMu, never the reverse.
	requestMu     sync.Mutex
	nextRequestID uint32

	searchMu sync.Mutex
	search   *searchCache

	clock func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		files:    make(map[string]*file),
		folders:  make(map[string]*Folder),
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		search:   newSearchCache(searchCacheEntries),
		clock:    time.Now,
	}
}

func (f *file) snapshot() FileInfo {
	acl := make(map[string]Access, len(f.acl))
	for u, a := range f.acl {
		acl[u] = a
	}
	return FileInfo{
		Name:       f.name,
		Owner:      f.owner,
		SSID:       f.ssid,
		Folder:     f.folder,
		CreatedAt:  f.createdAt,
		ModifiedAt: f.modifiedAt,
		AccessedAt: f.accessedAt,
		Size:       f.size,
		Words:      f.words,
		Chars:      f.chars,
		ACL:        acl,
	}
}

// access resolves u's capabilities on f. The owner has implicit full access
// and is never stored in the ACL.
func (f *file) access(u string) Access {
	if u == f.owner {
		return Access{Read: true, Write: true}
	}
	a := f.acl[u]
	if a.Write {
		a.Read = true
	}
	return a
}
