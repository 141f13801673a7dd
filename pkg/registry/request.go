package registry

import "fmt"

// SubmitRequest appends a pending access request from requester on name and
// returns its id. Owners cannot request access to their own files, and at
// most one pending request exists per (file, requester) pair. IDs are
// strictly increasing across the process lifetime.
func (r *Registry) SubmitRequest(name, requester string, access Access) (uint32, error) {
	if access.Write {
		access.Read = true
	}
	if !access.Read {
		return 0, fmt.Errorf("%w: no capability requested", ErrInvalidRequest)
	}

	now := r.clock()

	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if f.owner == requester {
		return 0, fmt.Errorf("%w: %s already owns %s", ErrInvalidRequest, requester, name)
	}
	for _, req := range f.requests {
		if req.Requester == requester && req.Status == RequestPending {
			return 0, fmt.Errorf("%w: %s on %s", ErrDuplicateRequest, requester, name)
		}
	}

	// Lock order: file table, then the request id counter.
	r.requestMu.Lock()
	r.nextRequestID++
	id := r.nextRequestID
	r.requestMu.Unlock()

	f.requests = append(f.requests, AccessRequest{
		ID:          id,
		Requester:   requester,
		Access:      access,
		RequestedAt: now,
		Status:      RequestPending,
	})
	return id, nil
}

// PendingRequests lists the pending requests on name. Only the owner may
// view them; terminal records are kept for audit but not listed.
func (r *Registry) PendingRequests(name, caller string) ([]AccessRequest, error) {
	r.filesMu.RLock()
	defer r.filesMu.RUnlock()

	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if f.owner != caller {
		return nil, fmt.Errorf("%w: only the owner can view requests on %s", ErrPermissionDenied, name)
	}

	var out []AccessRequest
	for _, req := range f.requests {
		if req.Status == RequestPending {
			out = append(out, req)
		}
	}
	return out, nil
}

// RespondRequest resolves the pending request with the given id on name.
// Only the owner may respond, and only once: a terminal request behaves as
// if it does not exist. Approval upserts the requested ACL entry.
func (r *Registry) RespondRequest(name, caller string, id uint32, approve bool) (AccessRequest, error) {
	r.filesMu.Lock()
	defer r.filesMu.Unlock()

	f, ok := r.files[name]
	if !ok {
		return AccessRequest{}, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	if f.owner != caller {
		return AccessRequest{}, fmt.Errorf("%w: only the owner can respond to requests on %s", ErrPermissionDenied, name)
	}

	for i := range f.requests {
		req := &f.requests[i]
		if req.ID != id || req.Status != RequestPending {
			continue
		}
		if approve {
			req.Status = RequestApproved
			f.acl[req.Requester] = req.Access
		} else {
			req.Status = RequestDenied
		}
		return *req, nil
	}
	return AccessRequest{}, fmt.Errorf("%w: id %d on %s", ErrRequestNotFound, id, name)
}
