package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftfs/driftfs/pkg/wire"
)

// validateUsername rejects names the registry file format or the wire limits
// cannot carry. The reserved set matches validateFileName.
func validateUsername(name string) error {
	if name == "" || name == SystemOwner {
		return fmt.Errorf("%w: bad username", ErrInvalidName)
	}
	if len(name) > wire.MaxNameLen {
		return fmt.Errorf("%w: username exceeds %d bytes", ErrInvalidName, wire.MaxNameLen)
	}
	if strings.ContainsAny(name, ":/\\\n") {
		return fmt.Errorf("%w: username contains reserved characters", ErrInvalidName)
	}
	return nil
}

// Login records an active session for username from clientIP, creating the
// user on first sight. A second login while a session is active fails with
// ErrAlreadyLoggedIn; the error text names the prior address and login time.
func (r *Registry) Login(username, clientIP string) error {
	if err := validateUsername(username); err != nil {
		return err
	}

	now := r.clock()

	r.usersMu.Lock()
	if _, ok := r.users[username]; !ok {
		r.users[username] = &User{Username: username, RegisteredAt: now}
	}
	r.usersMu.Unlock()

	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()

	if s, ok := r.sessions[username]; ok {
		return fmt.Errorf("%w: %s from %s since %s",
			ErrAlreadyLoggedIn, username, s.ClientIP, s.LoginAt.Format("2006-01-02 15:04:05"))
	}
	r.sessions[username] = &Session{Username: username, ClientIP: clientIP, LoginAt: now}
	return nil
}

// Logout removes username's active session. The user record is retained.
func (r *Registry) Logout(username string) {
	r.sessionsMu.Lock()
	delete(r.sessions, username)
	r.sessionsMu.Unlock()
}

// UserExists reports whether username has ever logged in.
func (r *Registry) UserExists(username string) bool {
	r.usersMu.RLock()
	defer r.usersMu.RUnlock()
	_, ok := r.users[username]
	return ok
}

// Users returns every registered user sorted by name.
func (r *Registry) Users() []User {
	r.usersMu.RLock()
	out := make([]User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	r.usersMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Sessions returns the active sessions sorted by username.
func (r *Registry) Sessions() []Session {
	r.sessionsMu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	r.sessionsMu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
