//go:build windows

package process

import (
	"os/exec"
	"strconv"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// SendTerminationSignal force-kills the process tree rooted at pid.
// Console children such as npm and python do not reliably honour Ctrl+Break, so taskkill /t is used.
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("PID must be positive", nil).WithContext("pid", pid)
	}
	output, err := exec.Command("taskkill", "/pid", strconv.Itoa(pid), "/f", "/t").CombinedOutput()
	if err != nil {
		return errors.NewProcessError("taskkill failed", err).
			WithContext("pid", pid).
			WithContext("output", string(output))
	}
	return nil
}

// SendKillSignal is the same forced tree kill as SendTerminationSignal
func SendKillSignal(pid int) error {
	return SendTerminationSignal(pid)
}
