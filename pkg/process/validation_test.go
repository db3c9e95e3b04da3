package process

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestValidatePID(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  int
		shouldErr bool
	}{
		{"valid", "1234", 1234, false},
		{"empty", "", 0, true},
		{"not a number", "abc", 0, true},
		{"zero", "0", 0, true},
		{"negative", "-7", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pid, err := ValidatePID(tt.input)
			if tt.shouldErr {
				assert.True(t, errors.IsValidationError(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, pid)
		})
	}
}

func TestValidateExecutionConfig(t *testing.T) {
	shell := "sh"
	if runtime.GOOS == "windows" {
		shell = "cmd"
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "fixed_server.py")
	if err := os.WriteFile(script, []byte("print('x')\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		config    ExecutionConfig
		shouldErr bool
	}{
		{
			name:   "command from PATH",
			config: ExecutionConfig{ExecutablePath: shell, WorkingDirectory: dir},
		},
		{
			name:   "relative path inside working directory",
			config: ExecutionConfig{ExecutablePath: "." + string(filepath.Separator) + "fixed_server.py", WorkingDirectory: dir},
		},
		{
			name:   "absolute path",
			config: ExecutionConfig{ExecutablePath: script, Environment: []string{"PORT=3000"}, WaitDelay: time.Second},
		},
		{
			name:      "empty executable",
			config:    ExecutionConfig{},
			shouldErr: true,
		},
		{
			name:      "unknown command",
			config:    ExecutionConfig{ExecutablePath: "definitely-not-a-real-binary-hsu"},
			shouldErr: true,
		},
		{
			name:      "missing working directory",
			config:    ExecutionConfig{ExecutablePath: shell, WorkingDirectory: filepath.Join(dir, "missing")},
			shouldErr: true,
		},
		{
			name:      "working directory is a file",
			config:    ExecutionConfig{ExecutablePath: shell, WorkingDirectory: script},
			shouldErr: true,
		},
		{
			name:      "bad environment entry",
			config:    ExecutionConfig{ExecutablePath: shell, Environment: []string{"PORT"}},
			shouldErr: true,
		},
		{
			name:      "negative wait delay",
			config:    ExecutionConfig{ExecutablePath: shell, WaitDelay: -time.Second},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionConfig(tt.config)
			if tt.shouldErr {
				assert.True(t, errors.IsValidationError(err), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
