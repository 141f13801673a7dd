package server

import (
	"bufio"
	"io"
	"strings"

	"github.com/driftfs/driftfs/internal/logger"
)

// WatchConsole reads operator commands from r, one per line, and invokes
// shutdown on SHUTDOWN. It returns when r reaches EOF or the command fires.
// Blank lines are ignored; anything else is logged and skipped.
func WatchConsole(r io.Reader, shutdown func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "SHUTDOWN") {
			logger.Info("shutdown requested from console")
			shutdown()
			return
		}
		logger.Warn("unknown console command", "command", line)
	}
}
