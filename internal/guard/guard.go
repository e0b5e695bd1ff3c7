// Package guard enforces one agent process per data directory through an
// exclusive marker file.
package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/spyglass-apm/spyglass/internal/core"
	"github.com/spyglass-apm/spyglass/internal/logging"
)

// LockFileName is the marker file inside the data directory.
const LockFileName = "spyglass.lock"

// ownerInfo represents marker file contents.
type ownerInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Guard holds the exclusive claim on a data directory. It is held for the
// process lifetime and released only on explicit shutdown.
type Guard struct {
	path string
	pid  int
	log  *logging.Logger

	mu       sync.Mutex
	released bool
}

// Acquire claims dataDir for this process. The claim is non-blocking: a live
// owner produces an immediate lock conflict carrying the owner pid. A marker
// left by a dead process is taken over.
func Acquire(dataDir string, log *logging.Logger) (*Guard, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	path := filepath.Join(dataDir, LockFileName)

	// Check for an existing marker
	if data, err := os.ReadFile(path); err == nil {
		var info ownerInfo
		if err := json.Unmarshal(data, &info); err == nil {
			if pidAlive(info.PID) {
				return nil, core.ErrLockConflict(dataDir, info.PID)
			}
			log.Info("removing marker left by dead process",
				"path", path, "pid", info.PID, "acquiredAt", info.AcquiredAt)
		} else {
			log.Warn("removing unreadable lock marker", "path", path, "error", err)
		}
		os.Remove(path)
	}

	hostname, _ := os.Hostname()
	info := ownerInfo{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshaling owner info: %w", err)
	}

	// Create marker file exclusively
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, core.ErrLockConflict(dataDir, 0)
		}
		return nil, fmt.Errorf("creating lock marker: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing lock marker: %w", err)
	}

	log.Debug("data directory claimed", "path", path, "pid", info.PID)
	return &Guard{path: path, pid: info.PID, log: log}, nil
}

// Release gives up the claim. Releasing twice is a no-op; a marker now owned
// by a different process is left in place and reported.
func (g *Guard) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.released {
		return nil
	}

	data, err := os.ReadFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			g.released = true
			return nil
		}
		return fmt.Errorf("reading lock marker: %w", err)
	}

	var info ownerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("parsing lock marker: %w", err)
	}
	if info.PID != g.pid {
		return core.ErrState(core.CodeLockReleaseDenied,
			fmt.Sprintf("lock marker owned by pid %d, not %d", info.PID, g.pid))
	}

	if err := os.Remove(g.path); err != nil {
		return fmt.Errorf("removing lock marker: %w", err)
	}
	g.released = true
	g.log.Debug("data directory released", "path", g.path)
	return nil
}

// Path returns the marker file path.
func (g *Guard) Path() string {
	return g.path
}

// pidAlive probes whether a process with pid is running. A failed probe
// counts as alive.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return exists
}
