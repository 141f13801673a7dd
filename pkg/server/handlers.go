package server

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/registry"
	"github.com/driftfs/driftfs/pkg/storage"
	"github.com/driftfs/driftfs/pkg/wire"
)

const timeFormat = "2006-01-02 15:04:05"

// handleCreate places a new file. The payload may name the target storage
// server; otherwise the active server with the smallest id is used. The
// storage server must acknowledge before the record is inserted, and the
// create is then fanned out to the remaining active servers as replication.
func (d *Dispatcher) handleCreate(user string, m *wire.Message) *wire.Message {
	name := m.Filename
	if _, err := d.reg.GetFile(name); err == nil {
		return m.Reply(wire.StatusFileExists, fmt.Sprintf("file %s already exists", name))
	}

	folder := m.Folder
	if folder != "" && !d.reg.FolderExists(folder) {
		return m.Reply(wire.StatusFolderNotFound, fmt.Sprintf("folder %s does not exist", folder))
	}

	var target storage.Server
	if ssid := strings.TrimSpace(m.Text()); ssid != "" {
		s, ok := d.fleet.Get(ssid)
		if !ok || !s.Active {
			return m.Reply(wire.StatusSSUnavailable, fmt.Sprintf("storage server %s is not active", ssid))
		}
		target = s
	} else {
		s, ok := d.fleet.FirstActive()
		if !ok {
			return d.fail(m, storage.ErrNoActiveServer)
		}
		target = s
	}

	ch, ok := d.fleet.Channel(target.ID)
	if !ok {
		return d.fail(m, storage.ErrNoActiveServer)
	}

	fwd := *m
	fwd.Username = user
	fwd.Data = nil
	resp, err := ch.Call(&fwd)
	if err != nil {
		d.fleet.MarkFailed(target.ID)
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("storage server %s did not respond", target.ID))
	}
	if !resp.Status.OK() {
		return resp
	}

	if err := d.reg.CreateFile(name, user, target.ID, folder); err != nil {
		return d.fail(m, err)
	}

	go d.replicate(&fwd, target)

	logger.Info("file created",
		logger.KeyFilename, name,
		logger.KeyUsername, user,
		logger.KeySSID, target.ID)
	return m.Reply(wire.StatusOK, fmt.Sprintf("file %s created on %s", name, target.ID))
}

// replicate re-tags a successful create as REPLICATE and sends it to every
// other active server, pointing them at the source for the content. Replies
// are not awaited; replication is best effort.
func (d *Dispatcher) replicate(m *wire.Message, source storage.Server) {
	for _, s := range d.fleet.ActiveServers() {
		if s.ID == source.ID {
			continue
		}
		ch, ok := d.fleet.Channel(s.ID)
		if !ok {
			continue
		}
		rep := *m
		rep.Type = wire.MsgReplicate
		rep.SSAddr = source.Addr
		rep.SSPort = source.ClientPort
		if err := ch.Send(&rep); err != nil {
			logger.Debug("replication send failed",
				logger.KeyFilename, m.Filename,
				logger.KeySSID, s.ID,
				logger.KeyError, err.Error())
		}
	}
}

// handleRead serves READ and STREAM. When the file's home server is active
// the client is redirected to it; otherwise the read falls back to the local
// cache, the server's backup tree, and finally failover reassignment.
func (d *Dispatcher) handleRead(user string, m *wire.Message) *wire.Message {
	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}
	acc, err := d.reg.CheckPermission(f.Name, user)
	if err != nil {
		return d.fail(m, err)
	}
	if !acc.Read {
		return m.Reply(wire.StatusPermissionDenied,
			fmt.Sprintf("you do not have read access to %s", f.Name))
	}

	if s, ok := d.fleet.Get(f.SSID); ok && s.Active {
		d.reg.TouchAccessed(f.Name)
		return m.SSInfoReply(s.Addr, int(s.ClientPort),
			fmt.Sprintf("served by %s", s.ID))
	}

	return d.fallbackRead(m, f)
}

// handleWrite serves WRITE and UNDO. Writes never fall back: a file whose
// home server is down is read-only until the server recovers.
func (d *Dispatcher) handleWrite(user string, m *wire.Message) *wire.Message {
	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}
	acc, err := d.reg.CheckPermission(f.Name, user)
	if err != nil {
		return d.fail(m, err)
	}
	if !acc.Write {
		return m.Reply(wire.StatusPermissionDenied,
			fmt.Sprintf("you do not have write access to %s", f.Name))
	}

	s, ok := d.fleet.Get(f.SSID)
	if !ok || !s.Active {
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("storage server %s is unavailable; %s is read-only until it recovers", f.SSID, f.Name))
	}

	d.reg.TouchModified(f.Name)
	return m.SSInfoReply(s.Addr, int(s.ClientPort), fmt.Sprintf("served by %s", s.ID))
}

// handleDelete removes a file, owner only. The home server must acknowledge
// the delete before the record goes away.
func (d *Dispatcher) handleDelete(user string, m *wire.Message) *wire.Message {
	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}
	if f.Owner != user {
		return m.Reply(wire.StatusPermissionDenied,
			fmt.Sprintf("only the owner can delete %s", f.Name))
	}

	ch, ok := d.fleet.Channel(f.SSID)
	if !ok {
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("storage server %s is unavailable", f.SSID))
	}

	fwd := *m
	fwd.Username = user
	resp, err := ch.Call(&fwd)
	if err != nil {
		d.fleet.MarkFailed(f.SSID)
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("storage server %s did not respond", f.SSID))
	}
	if !resp.Status.OK() && resp.Status != wire.StatusFileNotFound {
		return resp
	}

	if err := d.reg.DeleteFile(f.Name, user); err != nil {
		return d.fail(m, err)
	}
	d.evictCache([]string{f.Name})

	logger.Info("file deleted",
		logger.KeyFilename, f.Name, logger.KeyUsername, user)
	return m.Reply(wire.StatusOK, fmt.Sprintf("file %s deleted", f.Name))
}

// handleInfo returns a formatted metadata report, refreshing the stored
// size/word/char stats from the home server or a local copy first.
func (d *Dispatcher) handleInfo(user string, m *wire.Message) *wire.Message {
	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}
	acc, err := d.reg.CheckPermission(f.Name, user)
	if err != nil {
		return d.fail(m, err)
	}
	if !acc.Read {
		return m.Reply(wire.StatusPermissionDenied,
			fmt.Sprintf("you do not have read access to %s", f.Name))
	}

	d.refreshStats(&f)

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", f.Name)
	fmt.Fprintf(&b, "Folder: /%s\n", f.Folder)
	fmt.Fprintf(&b, "Owner: %s\n", f.Owner)
	fmt.Fprintf(&b, "Size: %d bytes, Words: %d, Chars: %d\n", f.Size, f.Words, f.Chars)
	fmt.Fprintf(&b, "Created: %s\n", f.CreatedAt.Format(timeFormat))
	fmt.Fprintf(&b, "Modified: %s\n", f.ModifiedAt.Format(timeFormat))
	fmt.Fprintf(&b, "Accessed: %s\n", f.AccessedAt.Format(timeFormat))

	if s, ok := d.fleet.Get(f.SSID); ok {
		state := "active"
		if !s.Active {
			state = "failed"
		}
		fmt.Fprintf(&b, "Storage: %s (%s:%d, %s)\n", s.ID, s.Addr, s.ClientPort, state)
	} else {
		fmt.Fprintf(&b, "Storage: %s (unregistered)\n", f.SSID)
	}

	fmt.Fprintf(&b, "Your access: %s\n", accessLabel(f, user))
	if f.Owner == user {
		b.WriteString("Shared with: " + sharedWith(f) + "\n")
	}

	return m.Reply(wire.StatusOK, b.String())
}

// refreshStats asks the home server for current size:words:chars, falling
// back to recounting a cached or backup copy. Failures leave the stored
// stats untouched.
func (d *Dispatcher) refreshStats(f *registry.FileInfo) {
	if ch, ok := d.fleet.Channel(f.SSID); ok {
		fwd := wire.Message{Type: wire.MsgInfo, Filename: f.Name, Username: f.Owner}
		resp, err := ch.Call(&fwd)
		if err != nil {
			d.fleet.MarkFailed(f.SSID)
		} else if resp.Status.OK() {
			var size, words, chars int64
			if n, _ := fmt.Sscanf(resp.Text(), "%d:%d:%d", &size, &words, &chars); n == 3 {
				d.reg.UpdateStats(f.Name, size, words, chars)
				f.Size, f.Words, f.Chars = size, words, chars
			}
			return
		}
	}

	if data, _, ok := d.localContent(f); ok {
		size, words, chars := computeStats(data)
		d.reg.UpdateStats(f.Name, size, words, chars)
		f.Size, f.Words, f.Chars = size, words, chars
	}
}

// handleView lists files. Flag bit 0 includes files the caller cannot read,
// annotated; bit 1 adds owner, stats, and an access indicator, refreshing
// stats opportunistically over the home server channels.
func (d *Dispatcher) handleView(user string, m *wire.Message) *wire.Message {
	all := m.Flags&wire.ViewAll != 0
	detail := m.Flags&wire.ViewDetail != 0

	files := d.reg.ListFiles()

	var b strings.Builder
	shown := 0
	for i := range files {
		f := files[i]
		readable := f.Owner == user || f.ACL[user].Read

		if !readable && !all {
			continue
		}
		shown++

		if !detail {
			b.WriteString(f.Name)
			if !readable {
				b.WriteString(" (no access)")
			}
			b.WriteByte('\n')
			continue
		}

		if readable {
			d.refreshStats(&f)
		}
		fmt.Fprintf(&b, "%s  owner=%s size=%d words=%d chars=%d access=%s folder=/%s\n",
			f.Name, f.Owner, f.Size, f.Words, f.Chars, accessMarker(f, user), f.Folder)
	}

	if shown == 0 {
		return m.Reply(wire.StatusOK, "no files visible")
	}
	return m.Reply(wire.StatusOK, b.String())
}

// handleSearch runs a memoised case-insensitive substring search over the
// filenames the caller can read.
func (d *Dispatcher) handleSearch(user string, m *wire.Message) *wire.Message {
	query := m.Filename
	if query == "" {
		query = strings.TrimSpace(m.Text())
	}
	if query == "" {
		return m.Reply(wire.StatusInvalidRequest, "empty search pattern")
	}

	results, hit := d.reg.Search(user, query)
	if d.rec != nil {
		d.rec.RecordSearch(hit)
	}
	logger.Debug("search",
		logger.KeyUsername, user,
		logger.KeyPattern, query,
		logger.KeyEntries, len(results),
		"memo_hit", hit)

	if len(results) == 0 {
		return m.Reply(wire.StatusOK, fmt.Sprintf("no files match %q", query))
	}
	return m.Reply(wire.StatusOK, strings.Join(results, "\n")+"\n")
}

// handleCreateFolder creates a folder path with any missing ancestors, then
// forwards the mkdir to one active server without waiting for a reply.
func (d *Dispatcher) handleCreateFolder(user string, m *wire.Message) *wire.Message {
	created, err := d.reg.CreateFolder(m.Folder, user)
	if err != nil {
		return d.fail(m, err)
	}

	if s, ok := d.fleet.FirstActive(); ok {
		if ch, chOK := d.fleet.Channel(s.ID); chOK {
			fwd := *m
			fwd.Username = user
			fwd.Data = nil
			if err := ch.Send(&fwd); err != nil {
				logger.Debug("folder forward failed",
					logger.KeySSID, s.ID, logger.KeyError, err.Error())
			}
		}
	}

	logger.Info("folder created",
		logger.KeyFolder, m.Folder, logger.KeyUsername, user)
	return m.Reply(wire.StatusOK, "created: "+strings.Join(created, ", "))
}

// handleViewFolder lists the files directly inside a folder that the caller
// can read.
func (d *Dispatcher) handleViewFolder(user string, m *wire.Message) *wire.Message {
	if !d.reg.FolderExists(m.Folder) {
		return m.Reply(wire.StatusFolderNotFound,
			fmt.Sprintf("folder %s does not exist", m.Folder))
	}

	var b strings.Builder
	n := 0
	for _, f := range d.reg.ListFolderFiles(m.Folder) {
		if f.Owner != user && !f.ACL[user].Read {
			continue
		}
		b.WriteString(f.Name)
		b.WriteByte('\n')
		n++
	}

	if n == 0 {
		return m.Reply(wire.StatusOK, "folder is empty")
	}
	return m.Reply(wire.StatusOK, b.String())
}

// handleMove changes a file's folder and forwards the move to its home
// server without waiting for a reply.
func (d *Dispatcher) handleMove(user string, m *wire.Message) *wire.Message {
	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}
	if m.Folder != "" && !d.reg.FolderExists(m.Folder) {
		return m.Reply(wire.StatusFolderNotFound,
			fmt.Sprintf("folder %s does not exist", m.Folder))
	}

	if err := d.reg.SetFileFolder(f.Name, user, m.Folder); err != nil {
		return d.fail(m, err)
	}

	if ch, ok := d.fleet.Channel(f.SSID); ok {
		fwd := *m
		fwd.Username = user
		if err := ch.Send(&fwd); err != nil {
			logger.Debug("move forward failed",
				logger.KeySSID, f.SSID, logger.KeyError, err.Error())
		}
	}

	return m.Reply(wire.StatusOK,
		fmt.Sprintf("file %s moved to /%s", f.Name, m.Folder))
}

// handleCheckpoint records a named snapshot and asks the home server to
// capture the bytes. The record is kept even if the capture call fails; the
// server reconciles on its next registration.
func (d *Dispatcher) handleCheckpoint(user string, m *wire.Message) *wire.Message {
	if err := d.reg.AddCheckpoint(m.Filename, user, m.CheckpointTag); err != nil {
		return d.fail(m, err)
	}

	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}
	if ch, ok := d.fleet.Channel(f.SSID); ok {
		fwd := *m
		fwd.Username = user
		if resp, err := ch.Call(&fwd); err != nil {
			d.fleet.MarkFailed(f.SSID)
			logger.Warn("checkpoint capture failed",
				logger.KeyFilename, f.Name,
				logger.KeyCheckpoint, m.CheckpointTag,
				logger.KeyError, err.Error())
		} else if !resp.Status.OK() {
			logger.Warn("checkpoint capture rejected",
				logger.KeyFilename, f.Name,
				logger.KeyCheckpoint, m.CheckpointTag,
				logger.KeyStatus, resp.Status.String())
		}
	}

	return m.Reply(wire.StatusOK,
		fmt.Sprintf("checkpoint %q recorded for %s", m.CheckpointTag, m.Filename))
}

// handleViewCheckpoint proxies a snapshot read from the home server.
func (d *Dispatcher) handleViewCheckpoint(user string, m *wire.Message) *wire.Message {
	if _, err := d.reg.GetCheckpoint(m.Filename, user, m.CheckpointTag); err != nil {
		return d.fail(m, err)
	}
	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}

	ch, ok := d.fleet.Channel(f.SSID)
	if !ok {
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("storage server %s is unavailable", f.SSID))
	}

	fwd := *m
	fwd.Username = user
	resp, err := ch.Call(&fwd)
	if err != nil {
		d.fleet.MarkFailed(f.SSID)
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("storage server %s did not respond", f.SSID))
	}
	return resp
}

// handleRevert restores a file to a checkpoint, write access required.
func (d *Dispatcher) handleRevert(user string, m *wire.Message) *wire.Message {
	acc, err := d.reg.CheckPermission(m.Filename, user)
	if err != nil {
		return d.fail(m, err)
	}
	if !acc.Write {
		return m.Reply(wire.StatusPermissionDenied,
			fmt.Sprintf("you do not have write access to %s", m.Filename))
	}
	if _, err := d.reg.GetCheckpoint(m.Filename, user, m.CheckpointTag); err != nil {
		return d.fail(m, err)
	}

	f, err := d.reg.GetFile(m.Filename)
	if err != nil {
		return d.fail(m, err)
	}
	ch, ok := d.fleet.Channel(f.SSID)
	if !ok {
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("storage server %s is unavailable", f.SSID))
	}

	fwd := *m
	fwd.Username = user
	resp, err := ch.Call(&fwd)
	if err != nil {
		d.fleet.MarkFailed(f.SSID)
		return m.Reply(wire.StatusSSUnavailable,
			fmt.Sprintf("storage server %s did not respond", f.SSID))
	}
	if !resp.Status.OK() {
		return resp
	}

	d.reg.TouchModified(f.Name)
	d.evictCache([]string{f.Name})
	logger.Info("file reverted",
		logger.KeyFilename, f.Name,
		logger.KeyCheckpoint, m.CheckpointTag,
		logger.KeyUsername, user)
	return m.Reply(wire.StatusOK,
		fmt.Sprintf("file %s reverted to %q", f.Name, m.CheckpointTag))
}

func (d *Dispatcher) handleListCheckpoints(user string, m *wire.Message) *wire.Message {
	cps, err := d.reg.ListCheckpoints(m.Filename, user)
	if err != nil {
		return d.fail(m, err)
	}
	if len(cps) == 0 {
		return m.Reply(wire.StatusOK, "no checkpoints")
	}

	var b strings.Builder
	for _, cp := range cps {
		fmt.Fprintf(&b, "%s  by %s at %s, %d bytes\n",
			cp.Tag, cp.Creator, cp.CreatedAt.Format(timeFormat), cp.Size)
	}
	return m.Reply(wire.StatusOK, b.String())
}

// handleAddAccess grants read or write access, owner only. The grantee is
// named in the payload and must be a known user.
func (d *Dispatcher) handleAddAccess(user string, m *wire.Message) *wire.Message {
	target := strings.TrimSpace(m.Text())
	if target == "" {
		return m.Reply(wire.StatusInvalidRequest, "no grantee named")
	}
	if !d.reg.UserExists(target) {
		return m.Reply(wire.StatusInvalidRequest,
			fmt.Sprintf("unknown user %s", target))
	}

	acc := accessFromFlags(m.Flags)
	if err := d.reg.AddAccess(m.Filename, user, target, acc); err != nil {
		return d.fail(m, err)
	}

	logger.Info("access granted",
		logger.KeyFilename, m.Filename,
		logger.KeyUsername, user,
		"grantee", target,
		"write", acc.Write)
	return m.Reply(wire.StatusOK,
		fmt.Sprintf("%s granted %s on %s", target, accessName(acc), m.Filename))
}

func (d *Dispatcher) handleRemAccess(user string, m *wire.Message) *wire.Message {
	target := strings.TrimSpace(m.Text())
	if target == "" {
		return m.Reply(wire.StatusInvalidRequest, "no user named")
	}
	if err := d.reg.RemoveAccess(m.Filename, user, target); err != nil {
		return d.fail(m, err)
	}
	return m.Reply(wire.StatusOK,
		fmt.Sprintf("access for %s revoked on %s", target, m.Filename))
}

// handleRequestAccess files an access request with the owner. The assigned
// request id is echoed in the reply.
func (d *Dispatcher) handleRequestAccess(user string, m *wire.Message) *wire.Message {
	id, err := d.reg.SubmitRequest(m.Filename, user, accessFromFlags(m.Flags))
	if err != nil {
		return d.fail(m, err)
	}

	resp := m.Reply(wire.StatusOK,
		fmt.Sprintf("request %d submitted for %s", id, m.Filename))
	resp.RequestID = id
	return resp
}

func (d *Dispatcher) handleViewRequests(user string, m *wire.Message) *wire.Message {
	reqs, err := d.reg.PendingRequests(m.Filename, user)
	if err != nil {
		return d.fail(m, err)
	}
	if len(reqs) == 0 {
		return m.Reply(wire.StatusOK, "no pending requests")
	}

	var b strings.Builder
	for _, req := range reqs {
		fmt.Fprintf(&b, "#%d  %s wants %s, requested %s\n",
			req.ID, req.Requester, accessName(req.Access),
			req.RequestedAt.Format(timeFormat))
	}
	return m.Reply(wire.StatusOK, b.String())
}

// handleRespondRequest approves (flag bit 0 set) or denies a pending request.
func (d *Dispatcher) handleRespondRequest(user string, m *wire.Message) *wire.Message {
	approve := m.Flags&1 != 0
	req, err := d.reg.RespondRequest(m.Filename, user, m.RequestID, approve)
	if err != nil {
		return d.fail(m, err)
	}

	verdict := "denied"
	if approve {
		verdict = "approved"
	}
	logger.Info("access request resolved",
		logger.KeyFilename, m.Filename,
		logger.KeyRequestID, req.ID,
		"requester", req.Requester,
		"verdict", verdict)
	return m.Reply(wire.StatusOK,
		fmt.Sprintf("request %d %s for %s", req.ID, verdict, req.Requester))
}

func (d *Dispatcher) handleListUsers(user string, m *wire.Message) *wire.Message {
	online := make(map[string]registry.Session)
	for _, s := range d.reg.Sessions() {
		online[s.Username] = s
	}

	var b strings.Builder
	for _, u := range d.reg.Users() {
		if s, ok := online[u.Username]; ok {
			fmt.Fprintf(&b, "%s  online since %s (%s)\n",
				u.Username, s.LoginAt.Format(timeFormat), s.ClientIP)
		} else {
			fmt.Fprintf(&b, "%s  offline\n", u.Username)
		}
	}
	if b.Len() == 0 {
		return m.Reply(wire.StatusOK, "no registered users")
	}
	return m.Reply(wire.StatusOK, b.String())
}

func (d *Dispatcher) handleListSS(m *wire.Message) *wire.Message {
	servers := d.fleet.List()
	if d.rec != nil {
		d.rec.SetStorageServers(len(d.fleet.ActiveServers()), len(servers))
	}
	if len(servers) == 0 {
		return m.Reply(wire.StatusOK, "no storage servers registered")
	}

	var b strings.Builder
	for _, s := range servers {
		state := "ACTIVE"
		if !s.Active {
			state = "FAILED"
		}
		fmt.Fprintf(&b, "%s  %s:%d  %s  last heartbeat %s\n",
			s.ID, s.Addr, s.ClientPort, state,
			s.LastHeartbeat.Format(timeFormat))
	}
	return m.Reply(wire.StatusOK, b.String())
}

// accessLabel names the caller's effective rights on f.
func accessLabel(f registry.FileInfo, user string) string {
	switch {
	case f.Owner == user:
		return "owner"
	case f.ACL[user].Write:
		return "read-write"
	case f.ACL[user].Read:
		return "read-only"
	default:
		return "none"
	}
}

// accessMarker is the single-character form used by detailed VIEW listings.
func accessMarker(f registry.FileInfo, user string) string {
	switch {
	case f.Owner == user:
		return "O"
	case f.ACL[user].Write:
		return "W"
	case f.ACL[user].Read:
		return "R"
	default:
		return "-"
	}
}

func accessName(acc registry.Access) string {
	if acc.Write {
		return "read-write"
	}
	return "read-only"
}

// sharedWith renders the ACL for the owner's INFO report.
func sharedWith(f registry.FileInfo) string {
	if len(f.ACL) == 0 {
		return "nobody"
	}
	names := make([]string, 0, len(f.ACL))
	for u := range f.ACL {
		names = append(names, u)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, u := range names {
		mode := "r"
		if f.ACL[u].Write {
			mode = "rw"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", u, mode))
	}
	return strings.Join(parts, ", ")
}
