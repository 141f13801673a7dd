package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftfs/driftfs/pkg/wire"
)

// normalizeFolder canonicalises a folder path: forward-slash delimited, no
// leading, trailing, or doubled separators.
func normalizeFolder(path string) (string, error) {
	if len(path) > wire.MaxPathLen {
		return "", fmt.Errorf("%w: folder path exceeds %d bytes", ErrInvalidName, wire.MaxPathLen)
	}
	if strings.ContainsAny(path, ":\n") {
		return "", fmt.Errorf("%w: folder path contains reserved characters", ErrInvalidName)
	}

	parts := strings.Split(path, "/")
	cleaned := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		cleaned = append(cleaned, p)
	}
	return strings.Join(cleaned, "/"), nil
}

// CreateFolder records path and any missing ancestors under owner. It fails
// with ErrFolderExists when the full path is already present; newly created
// paths (deepest last) are returned.
func (r *Registry) CreateFolder(path, owner string) ([]string, error) {
	norm, err := normalizeFolder(path)
	if err != nil {
		return nil, err
	}
	if norm == "" {
		return nil, fmt.Errorf("%w: empty folder path", ErrInvalidName)
	}

	now := r.clock()

	r.foldersMu.Lock()
	defer r.foldersMu.Unlock()

	if _, ok := r.folders[norm]; ok {
		return nil, fmt.Errorf("%w: %s", ErrFolderExists, norm)
	}

	var created []string
	parts := strings.Split(norm, "/")
	for i := range parts {
		prefix := strings.Join(parts[:i+1], "/")
		if _, ok := r.folders[prefix]; ok {
			continue
		}
		r.folders[prefix] = &Folder{Path: prefix, Owner: owner, CreatedAt: now}
		created = append(created, prefix)
	}
	return created, nil
}

// FolderExists reports whether path is a known folder. The empty path is the
// root and always exists.
func (r *Registry) FolderExists(path string) bool {
	norm, err := normalizeFolder(path)
	if err != nil {
		return false
	}
	if norm == "" {
		return true
	}

	r.foldersMu.RLock()
	defer r.foldersMu.RUnlock()
	_, ok := r.folders[norm]
	return ok
}

// Folders returns every folder record sorted by path.
func (r *Registry) Folders() []Folder {
	r.foldersMu.RLock()
	out := make([]Folder, 0, len(r.folders))
	for _, f := range r.folders {
		out = append(out, *f)
	}
	r.foldersMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
