package registry

import "fmt"

// CheckPermission resolves user's capabilities on name. The owner has
// implicit full access; for everyone else write implies read.
func (r *Registry) CheckPermission(name, user string) (Access, error) {
	r.filesMu.RLock()
	defer r.filesMu.RUnlock()

	f, ok := r.files[name]
	if !ok {
		return Access{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return f.access(user), nil
}

// AddAccess upserts an ACL entry for target on name. Only the owner may
// grant, and never to themselves: owner access is implicit and the owner is
// never stored in the ACL. Granting write grants read.
func (r *Registry) AddAccess(name, caller, target string, access Access) error {
	if err := validateUsername(target); err != nil {
		return err
	}
	if access.Write {
		access.Read = true
	}
	if !access.Read {
		return fmt.Errorf("%w: no capability requested", ErrInvalidRequest)
	}

	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if f.owner != caller {
		return fmt.Errorf("%w: only the owner can grant access to %s", ErrPermissionDenied, name)
	}
	if target == f.owner {
		return fmt.Errorf("%w: owner access is implicit", ErrInvalidRequest)
	}

	f.acl[target] = access
	return nil
}

// RemoveAccess drops target's ACL entry on name. Only the owner may revoke,
// and the owner's own implicit access cannot be removed.
func (r *Registry) RemoveAccess(name, caller, target string) error {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if f.owner != caller {
		return fmt.Errorf("%w: only the owner can revoke access to %s", ErrPermissionDenied, name)
	}
	if target == f.owner {
		return fmt.Errorf("%w: cannot revoke the owner", ErrInvalidRequest)
	}

	delete(f.acl, target)
	return nil
}
