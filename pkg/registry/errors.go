package registry

import "errors"

// Sentinel errors returned by the metadata store. The dispatcher maps them to
// wire status codes at the reply boundary.
var (
	ErrFileNotFound       = errors.New("file not found")
	ErrFileExists         = errors.New("file already exists")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrFolderNotFound     = errors.New("folder not found")
	ErrFolderExists       = errors.New("folder already exists")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointExists   = errors.New("checkpoint tag already exists")
	ErrRequestNotFound    = errors.New("access request not found")
	ErrDuplicateRequest   = errors.New("pending access request already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrAlreadyLoggedIn    = errors.New("user already logged in")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidRequest     = errors.New("invalid request")
)
