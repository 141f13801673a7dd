package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftfs/driftfs/pkg/wire"
)

// validateFileName rejects names that cannot survive the registry file
// format, the wire limits, or use as a single on-disk path element.
func validateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty filename", ErrInvalidName)
	}
	if len(name) > wire.MaxNameLen {
		return fmt.Errorf("%w: filename exceeds %d bytes", ErrInvalidName, wire.MaxNameLen)
	}
	if strings.ContainsAny(name, ":/\\\n") {
		return fmt.Errorf("%w: filename contains reserved characters", ErrInvalidName)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: filename is reserved", ErrInvalidName)
	}
	return nil
}

// CreateFile inserts a new file record owned by owner and homed on ssid.
// The search memo is invalidated. Folder membership is recorded as given;
// the caller is responsible for having resolved the folder first.
func (r *Registry) CreateFile(name, owner, ssid, folder string) error {
	if err := validateFileName(name); err != nil {
		return err
	}

	now := r.clock()

	r.filesMu.Lock()
	if _, ok := r.files[name]; ok {
		r.filesMu.Unlock()
		return fmt.Errorf("%w: %s", ErrFileExists, name)
	}
	r.files[name] = &file{
		name:       name,
		owner:      owner,
		ssid:       ssid,
		folder:     folder,
		createdAt:  now,
		modifiedAt: now,
		accessedAt: now,
		acl:        make(map[string]Access),
	}
	r.filesMu.Unlock()

	r.InvalidateSearch()
	return nil
}

// DeleteFile removes name after verifying caller is the owner. ACLs,
// checkpoints, and requests die with the record. The search memo is
// invalidated.
func (r *Registry) DeleteFile(name, caller string) error {
	r.filesMu.Lock()
	f, ok := r.files[name]
	if !ok {
		r.filesMu.Unlock()
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if f.owner != caller {
		r.filesMu.Unlock()
		return fmt.Errorf("%w: only the owner can delete %s", ErrPermissionDenied, name)
	}
	delete(r.files, name)
	r.filesMu.Unlock()

	r.InvalidateSearch()
	return nil
}

// GetFile returns a copy of the file record.
func (r *Registry) GetFile(name string) (FileInfo, error) {
	r.filesMu.RLock()
	defer r.filesMu.RUnlock()

	f, ok := r.files[name]
	if !ok {
		return FileInfo{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return f.snapshot(), nil
}

// FileCount returns the number of registered files.
func (r *Registry) FileCount() int {
	r.filesMu.RLock()
	defer r.filesMu.RUnlock()
	return len(r.files)
}

// ListFiles returns copies of every file record, sorted by name.
func (r *Registry) ListFiles() []FileInfo {
	r.filesMu.RLock()
	out := make([]FileInfo, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f.snapshot())
	}
	r.filesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListFolderFiles returns copies of the files whose folder field matches
// exactly. An empty folder lists the root.
func (r *Registry) ListFolderFiles(folder string) []FileInfo {
	r.filesMu.RLock()
	var out []FileInfo
	for _, f := range r.files {
		if f.folder == folder {
			out = append(out, f.snapshot())
		}
	}
	r.filesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TouchModified bumps the modification and access timestamps.
func (r *Registry) TouchModified(name string) error {
	now := r.clock()
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	f.modifiedAt = now
	f.accessedAt = now
	return nil
}

// TouchAccessed bumps the access timestamp.
func (r *Registry) TouchAccessed(name string) error {
	now := r.clock()
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	f.accessedAt = now
	return nil
}

// UpdateStats refreshes the cached size, word, and char counts.
func (r *Registry) UpdateStats(name string, size, words, chars int64) error {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	f.size = size
	f.words = words
	f.chars = chars
	return nil
}

// SetFileSS re-points name's home storage server. Used by failover and by
// re-registration.
func (r *Registry) SetFileSS(name, ssid string) error {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	f.ssid = ssid
	return nil
}

// SetFileFolder moves name into folder after verifying caller has write
// access. Folder existence is the caller's concern (folder-table domain).
func (r *Registry) SetFileFolder(name, caller, folder string) error {
	now := r.clock()
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if !f.access(caller).Write {
		return fmt.Errorf("%w: %s cannot move %s", ErrPermissionDenied, caller, name)
	}
	f.folder = folder
	f.modifiedAt = now
	return nil
}

// AdoptFiles applies a storage server's announced file list. Unknown names
// are inserted with the system owner; known names keep their owner, ACLs,
// and metadata with only the home server re-asserted. It returns the names
// that passed validation, which the caller evicts from the read cache because
// the server's copy is fresher, and how many of them already existed.
func (r *Registry) AdoptFiles(ssid string, names []string) (accepted []string, known int) {
	now := r.clock()

	r.filesMu.Lock()
	for _, name := range names {
		if validateFileName(name) != nil {
			continue
		}
		accepted = append(accepted, name)
		if f, ok := r.files[name]; ok {
			f.ssid = ssid
			known++
			continue
		}
		r.files[name] = &file{
			name:       name,
			owner:      SystemOwner,
			ssid:       ssid,
			createdAt:  now,
			modifiedAt: now,
			accessedAt: now,
			acl:        make(map[string]Access),
		}
	}
	r.filesMu.Unlock()

	if len(accepted) > 0 {
		r.InvalidateSearch()
	}
	return accepted, known
}
