//go:build !windows

package processstate

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// IsProcessRunning reports whether pid names a live process.
// A process owned by another user (EPERM) counts as running.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("PID must be positive", nil).WithContext("pid", pid)
	}

	// FindProcess always succeeds on Unix; signal 0 probes existence
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil:
		return true, nil
	case stderrors.Is(err, os.ErrProcessDone), stderrors.Is(err, syscall.ESRCH):
		return false, nil
	case stderrors.Is(err, syscall.EPERM):
		return true, nil
	}
	return false, errors.NewProcessError("failed to probe process", err).WithContext("pid", pid)
}
