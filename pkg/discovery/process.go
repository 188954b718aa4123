//go:build linux

package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrPIDNotFound means no running process's executable resolves to the
// requested binary path.
var ErrPIDNotFound = errors.New("discovery: pid not found")

// ErrAmbiguousPID means more than one running process's executable
// resolves to the requested binary path.
var ErrAmbiguousPID = errors.New("discovery: multiple pids found")

// ErrThreadNotFound means no thread in the target process has the
// requested comm name.
var ErrThreadNotFound = errors.New("discovery: thread not found")

// FindPID enumerates /proc/*/exe symlinks and returns the unique pid
// whose executable resolves to binPath. It fails on zero or multiple
// matches (spec.md §4.1).
func FindPID(binPath string) (int, error) {
	binPath, err := filepath.Abs(binPath)
	if err != nil {
		return 0, fmt.Errorf("discovery: resolve %s: %w", binPath, err)
	}

	entries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, fmt.Errorf("discovery: read /proc: %w", err)
	}

	var candidates []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		exe, err := os.Readlink(filepath.Join("/proc", e.Name(), "exe"))
		if err != nil {
			continue
		}
		if exe == binPath {
			candidates = append(candidates, pid)
		}
	}

	switch len(candidates) {
	case 0:
		return 0, ErrPIDNotFound
	case 1:
		return candidates[0], nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrAmbiguousPID, candidates)
	}
}

// FindThread enumerates /proc/<pid>/task/*/comm and returns the tid whose
// trimmed comm equals name.
func FindThread(pid int, name string) (int, error) {
	taskDir := filepath.Join("/proc", strconv.Itoa(pid), "task")
	entries, err := os.ReadDir(taskDir)
	if err != nil {
		return 0, fmt.Errorf("discovery: read %s: %w", taskDir, err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(taskDir, e.Name(), "comm"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(comm)) == name {
			return tid, nil
		}
	}

	return 0, fmt.Errorf("%w: %s in pid %d", ErrThreadNotFound, name, pid)
}
