package monitor

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessFinder locates the mover process. The default implementation
// checks a pid file first, then falls back to scanning the process
// table; tests substitute a stub.
type ProcessFinder interface {
	Find(ctx context.Context) (pid int32, running bool, err error)
}

type procFinder struct {
	pidFile string
	name    string
}

// NewProcessFinder builds the default finder. name must be non-empty;
// pidFile may be empty.
func NewProcessFinder(pidFile, name string) ProcessFinder {
	return &procFinder{pidFile: pidFile, name: name}
}

func (f *procFinder) Find(ctx context.Context) (int32, bool, error) {
	if pid, ok := f.fromPidFile(ctx); ok {
		return pid, true, nil
	}
	return f.scan(ctx)
}

// fromPidFile returns the pid file's process when it is alive and still
// the mover. A stale or mismatched pid file is silently ignored.
func (f *procFinder) fromPidFile(ctx context.Context) (int32, bool) {
	if f.pidFile == "" {
		return 0, false
	}
	b, err := os.ReadFile(f.pidFile)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 32)
	if err != nil || n <= 0 {
		return 0, false
	}
	pid := int32(n)
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, false
	}
	name, err := p.NameWithContext(ctx)
	if err != nil || !matchesName(name, f.name) {
		return 0, false
	}
	return pid, true
}

func (f *procFinder) scan(ctx context.Context) (int32, bool, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, false, err
	}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if matchesName(name, f.name) {
			return p.Pid, true, nil
		}
	}
	return 0, false, nil
}

// matchesName compares process names case-insensitively. The mover on
// Unraid is a shell script, so the name may surface as the interpreter
// with the script as an argument; an exact base-name match is what we
// key on.
func matchesName(got, want string) bool {
	return strings.EqualFold(strings.TrimSpace(got), want)
}
