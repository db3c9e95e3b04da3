//go:build windows

package processstate

import (
	"syscall"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

const (
	stillActive                    = 259
	processQueryLimitedInformation = 0x1000
	errorInvalidParameter          = syscall.Errno(87)
)

// IsProcessRunning reports whether pid names a live process
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, errors.NewValidationError("PID must be positive", nil).WithContext("pid", pid)
	}

	handle, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		// OpenProcess rejects PIDs that do not exist with ERROR_INVALID_PARAMETER
		if err == errorInvalidParameter {
			return false, nil
		}
		return false, errors.NewProcessError("failed to open process", err).WithContext("pid", pid)
	}
	defer syscall.CloseHandle(handle)

	var exitCode uint32
	if err := syscall.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false, errors.NewProcessError("failed to query exit code", err).WithContext("pid", pid)
	}
	return exitCode == stillActive, nil
}
