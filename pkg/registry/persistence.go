package registry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// registryVersion tags the on-disk format.
const registryVersion = "REGISTRY_V1"

// Save serialises the file table to path as a line-oriented text registry:
// a version line, the file count, then per file a FILE record, its ACL
// lines, and END. Folders, checkpoints, requests, sessions, and the search
// memo are deliberately not persisted. The write goes through a temp file
// and rename so a crash mid-save never corrupts the previous registry.
func (r *Registry) Save(path string) error {
	r.filesMu.RLock()
	snapshots := make([]FileInfo, 0, len(r.files))
	for _, f := range r.files {
		snapshots = append(snapshots, f.snapshot())
	}
	r.filesMu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Name < snapshots[j].Name })

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create registry directory: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".registry-*")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintln(w, registryVersion)
	fmt.Fprintln(w, len(snapshots))

	for _, f := range snapshots {
		fmt.Fprintf(w, "FILE:%s:%s:%s:%d:%d:%d:%d:%d:%d\n",
			f.Name, f.Owner, f.SSID,
			f.CreatedAt.Unix(), f.ModifiedAt.Unix(), f.AccessedAt.Unix(),
			f.Size, f.Words, f.Chars)

		users := make([]string, 0, len(f.ACL))
		for u := range f.ACL {
			users = append(users, u)
		}
		sort.Strings(users)
		for _, u := range users {
			a := f.ACL[u]
			fmt.Fprintf(w, "ACL:%s:%d:%d\n", u, boolBit(a.Read), boolBit(a.Write))
		}
		fmt.Fprintln(w, "END")
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// Load replays a registry file into the store, replacing any current file
// records. A missing file is not an error: the server simply starts empty.
func (r *Registry) Load(path string) error {
	fh, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open registry: %w", err)
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return fmt.Errorf("registry %s: missing version line", path)
	}
	if v := strings.TrimSpace(scanner.Text()); v != registryVersion {
		return fmt.Errorf("registry %s: unsupported version %q", path, v)
	}
	if !scanner.Scan() {
		return fmt.Errorf("registry %s: missing file count", path)
	}
	count, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || count < 0 {
		return fmt.Errorf("registry %s: bad file count %q", path, scanner.Text())
	}

	files := make(map[string]*file, count)
	var current *file

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "FILE:"):
			f, err := parseFileLine(line)
			if err != nil {
				return fmt.Errorf("registry %s: %w", path, err)
			}
			files[f.name] = f
			current = f
		case strings.HasPrefix(line, "ACL:"):
			if current == nil {
				return fmt.Errorf("registry %s: ACL line outside FILE block", path)
			}
			user, access, err := parseACLLine(line)
			if err != nil {
				return fmt.Errorf("registry %s: %w", path, err)
			}
			if user != current.owner {
				current.acl[user] = access
			}
		case line == "END":
			current = nil
		default:
			return fmt.Errorf("registry %s: unrecognised line %q", path, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	if len(files) != count {
		return fmt.Errorf("registry %s: header says %d files, found %d", path, count, len(files))
	}

	r.filesMu.Lock()
	r.files = files
	r.filesMu.Unlock()

	r.InvalidateSearch()
	return nil
}

// parseFileLine parses
// FILE:name:owner:ssid:created:modified:accessed:size:words:chars
func parseFileLine(line string) (*file, error) {
	fields := strings.Split(strings.TrimPrefix(line, "FILE:"), ":")
	if len(fields) != 9 {
		return nil, fmt.Errorf("malformed FILE line %q", line)
	}
	if err := validateFileName(fields[0]); err != nil {
		return nil, err
	}

	nums := make([]int64, 6)
	for i, raw := range fields[3:] {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed FILE line %q: %w", line, err)
		}
		nums[i] = n
	}

	return &file{
		name:       fields[0],
		owner:      fields[1],
		ssid:       fields[2],
		createdAt:  time.Unix(nums[0], 0),
		modifiedAt: time.Unix(nums[1], 0),
		accessedAt: time.Unix(nums[2], 0),
		size:       nums[3],
		words:      nums[4],
		chars:      nums[5],
		acl:        make(map[string]Access),
	}, nil
}

// parseACLLine parses ACL:user:r:w
func parseACLLine(line string) (string, Access, error) {
	fields := strings.Split(strings.TrimPrefix(line, "ACL:"), ":")
	if len(fields) != 3 || fields[0] == "" {
		return "", Access{}, fmt.Errorf("malformed ACL line %q", line)
	}
	access := Access{Read: fields[1] == "1", Write: fields[2] == "1"}
	if access.Write {
		access.Read = true
	}
	return fields[0], access, nil
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}
