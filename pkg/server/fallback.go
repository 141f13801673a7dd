package server

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/driftfs/driftfs/internal/logger"
	"github.com/driftfs/driftfs/pkg/registry"
	"github.com/driftfs/driftfs/pkg/storage"
	"github.com/driftfs/driftfs/pkg/wire"
)

// fallbackRead serves a read whose home server is down. The chain is: local
// cache, the server's backup tree (promoting a hit into the cache), and
// finally reassignment to another active server holding a replica. Each
// outcome is counted by source.
func (d *Dispatcher) fallbackRead(m *wire.Message, f registry.FileInfo) *wire.Message {
	if data, ok := d.readCache(f.Name); ok {
		d.recordFallback("cache")
		d.reg.TouchAccessed(f.Name)
		logger.Info("read served from cache",
			logger.KeyFilename, f.Name, logger.KeySSID, f.SSID)
		resp := m.Reply(wire.StatusOK, "")
		resp.Data = data
		return resp
	}

	if data, ok := d.readBackup(f.SSID, f.Name); ok {
		d.recordFallback("backup")
		d.writeCache(f.Name, data)
		d.reg.TouchAccessed(f.Name)
		logger.Info("read served from backup",
			logger.KeyFilename, f.Name, logger.KeySSID, f.SSID)
		resp := m.Reply(wire.StatusOK, "")
		resp.Data = data
		return resp
	}

	if s, ok := d.failoverTarget(f.SSID); ok {
		d.recordFallback("failover")
		d.reg.SetFileSS(f.Name, s.ID)
		d.reg.TouchAccessed(f.Name)
		logger.Warn("file failed over",
			logger.KeyFilename, f.Name,
			"from", f.SSID,
			"to", s.ID)
		return m.SSInfoReply(s.Addr, int(s.ClientPort),
			"reassigned to "+s.ID)
	}

	d.recordFallback("none")
	return m.Reply(wire.StatusSSUnavailable,
		"no storage server, cache, or backup can serve "+f.Name)
}

// failoverTarget picks the active server with the smallest id other than the
// failed one.
func (d *Dispatcher) failoverTarget(exclude string) (storage.Server, bool) {
	for _, s := range d.fleet.ActiveServers() {
		if s.ID != exclude {
			return s, true
		}
	}
	return storage.Server{}, false
}

// localContent returns file bytes from the cache or the backup tree, used
// when stats must be recomputed or a script fetched without the home server.
func (d *Dispatcher) localContent(f *registry.FileInfo) (data []byte, source string, ok bool) {
	if data, ok := d.readCache(f.Name); ok {
		return data, "cache", true
	}
	if data, ok := d.readBackup(f.SSID, f.Name); ok {
		return data, "backup", true
	}
	return nil, "", false
}

func (d *Dispatcher) cachePath(name string) string {
	return filepath.Join(d.paths.CacheDir, name)
}

func (d *Dispatcher) backupPath(ssid, name string) string {
	return filepath.Join(d.paths.BackupsDir, ssid, name)
}

func (d *Dispatcher) readCache(name string) ([]byte, bool) {
	data, err := os.ReadFile(d.cachePath(name))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Debug("cache read failed",
				logger.KeyFilename, name, logger.KeyError, err.Error())
		}
		return nil, false
	}
	return data, true
}

func (d *Dispatcher) readBackup(ssid, name string) ([]byte, bool) {
	data, err := os.ReadFile(d.backupPath(ssid, name))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Debug("backup read failed",
				logger.KeyFilename, name, logger.KeyError, err.Error())
		}
		return nil, false
	}
	return data, true
}

func (d *Dispatcher) writeCache(name string, data []byte) {
	if err := os.MkdirAll(d.paths.CacheDir, 0755); err != nil {
		logger.Warn("cache dir create failed", logger.KeyError, err.Error())
		return
	}
	if err := os.WriteFile(d.cachePath(name), data, 0644); err != nil {
		logger.Warn("cache write failed",
			logger.KeyFilename, name, logger.KeyError, err.Error())
		return
	}
	d.trimCache(name)
}

// trimCache evicts the oldest cache entries until the directory fits the
// configured limit. The entry named keep survives the pass; it was just
// written and is the one about to be served.
func (d *Dispatcher) trimCache(keep string) {
	limit := d.paths.CacheLimit.Int64()
	if limit <= 0 {
		return
	}

	entries, err := os.ReadDir(d.paths.CacheDir)
	if err != nil {
		return
	}

	type cached struct {
		name  string
		size  int64
		mtime time.Time
	}
	var files []cached
	var total int64
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, cached{e.Name(), info.Size(), info.ModTime()})
		total += info.Size()
	}
	if total <= limit {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	for _, f := range files {
		if total <= limit {
			break
		}
		if f.name == keep {
			continue
		}
		if err := os.Remove(filepath.Join(d.paths.CacheDir, f.name)); err == nil {
			total -= f.size
			logger.Debug("cache entry evicted",
				logger.KeyFilename, f.name, "size", f.size)
		}
	}
}

// evictCache removes cached copies that a re-registering server superseded.
func (d *Dispatcher) evictCache(names []string) {
	for _, name := range names {
		if err := os.Remove(d.cachePath(name)); err != nil && !os.IsNotExist(err) {
			logger.Debug("cache evict failed",
				logger.KeyFilename, name, logger.KeyError, err.Error())
		}
	}
}

// computeStats counts bytes, whitespace-separated words, and runes.
func computeStats(data []byte) (size, words, chars int64) {
	text := string(data)
	return int64(len(data)),
		int64(len(strings.Fields(text))),
		int64(utf8.RuneCountInString(text))
}
