package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-launcher/pkg/errors"
)

// ValidatePID validates PID value
func ValidatePID(pidStr string) (int, error) {
	if pidStr == "" {
		return 0, errors.NewValidationError("PID cannot be empty", nil)
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID format: "+pidStr, err)
	}

	if pid <= 0 {
		return 0, errors.NewValidationError("PID must be positive: "+pidStr, nil)
	}

	return pid, nil
}

// ValidateExecutionConfig validates execution configuration.
// Bare command names are looked up in PATH, paths are resolved against the working directory.
func ValidateExecutionConfig(config ExecutionConfig) error {
	if config.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required", nil)
	}

	if config.WorkingDirectory != "" {
		if info, err := os.Stat(config.WorkingDirectory); err != nil {
			return errors.NewValidationError("working directory not accessible: "+config.WorkingDirectory, err)
		} else if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+config.WorkingDirectory, nil)
		}
	}

	if err := checkExecutable(config.ExecutablePath, config.WorkingDirectory); err != nil {
		return err
	}

	for _, env := range config.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil)
		}
	}

	if config.WaitDelay < 0 {
		return errors.NewValidationError("wait delay cannot be negative", nil)
	}

	return nil
}

func checkExecutable(path, workDir string) error {
	if !strings.ContainsAny(path, `/\`) {
		if _, err := exec.LookPath(path); err != nil {
			return errors.NewValidationError("executable not found in PATH: "+path, err)
		}
		return nil
	}

	resolved := path
	if !filepath.IsAbs(path) && workDir != "" {
		resolved = filepath.Join(workDir, path)
	}
	if _, err := os.Stat(resolved); err != nil {
		return errors.NewValidationError("executable not found: "+path, err)
	}
	return nil
}
