package registry

import (
	"fmt"
	"strings"

	"github.com/driftfs/driftfs/pkg/wire"
)

// AddCheckpoint records a named snapshot of name. The caller needs write
// access and the tag must be unique for the file. The size recorded is the
// file's current cached size.
func (r *Registry) AddCheckpoint(name, caller, tag string) error {
	if tag == "" || len(tag) > wire.MaxNameLen || strings.ContainsAny(tag, ":\n") {
		return fmt.Errorf("%w: bad checkpoint tag", ErrInvalidName)
	}

	now := r.clock()

	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if !f.access(caller).Write {
		return fmt.Errorf("%w: %s cannot checkpoint %s", ErrPermissionDenied, caller, name)
	}
	for _, cp := range f.checkpoints {
		if cp.Tag == tag {
			return fmt.Errorf("%w: %s@%s", ErrCheckpointExists, name, tag)
		}
	}

	f.checkpoints = append(f.checkpoints, Checkpoint{
		Tag:       tag,
		Creator:   caller,
		CreatedAt: now,
		Size:      f.size,
	})
	return nil
}

// GetCheckpoint returns the checkpoint with the given tag. The caller needs
// read access.
func (r *Registry) GetCheckpoint(name, caller, tag string) (Checkpoint, error) {
	r.filesMu.RLock()
	defer r.filesMu.RUnlock()

	f, ok := r.files[name]
	if !ok {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if !f.access(caller).Read {
		return Checkpoint{}, fmt.Errorf("%w: %s cannot read %s", ErrPermissionDenied, caller, name)
	}
	for _, cp := range f.checkpoints {
		if cp.Tag == tag {
			return cp, nil
		}
	}
	return Checkpoint{}, fmt.Errorf("%w: %s@%s", ErrCheckpointNotFound, name, tag)
}

// ListCheckpoints returns the checkpoint catalog in creation order. The
// caller needs read access.
func (r *Registry) ListCheckpoints(name, caller string) ([]Checkpoint, error) {
	r.filesMu.RLock()
	defer r.filesMu.RUnlock()

	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if !f.access(caller).Read {
		return nil, fmt.Errorf("%w: %s cannot read %s", ErrPermissionDenied, caller, name)
	}

	out := make([]Checkpoint, len(f.checkpoints))
	copy(out, f.checkpoints)
	return out, nil
}
