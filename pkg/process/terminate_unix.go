//go:build !windows

package process

import (
	stderrors "errors"
	"syscall"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// SendTerminationSignal sends SIGTERM to the process group led by pid,
// falling back to the process itself when the group is already gone
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("PID must be positive", nil).WithContext("pid", pid)
	}
	err := syscall.Kill(-pid, syscall.SIGTERM)
	if err == nil {
		return nil
	}
	if stderrors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, syscall.SIGTERM)
		if err == nil || stderrors.Is(err, syscall.ESRCH) {
			return nil
		}
	}
	return errors.NewProcessError("failed to send SIGTERM", err).WithContext("pid", pid)
}

// SendKillSignal sends SIGKILL to the process group led by pid
func SendKillSignal(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("PID must be positive", nil).WithContext("pid", pid)
	}
	err := syscall.Kill(-pid, syscall.SIGKILL)
	if err == nil {
		return nil
	}
	if stderrors.Is(err, syscall.ESRCH) {
		err = syscall.Kill(pid, syscall.SIGKILL)
		if err == nil || stderrors.Is(err, syscall.ESRCH) {
			return nil
		}
	}
	return errors.NewProcessError("failed to send SIGKILL", err).WithContext("pid", pid)
}
