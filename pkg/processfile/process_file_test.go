package processfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/core-tools/hsu-launcher/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ProcessFileMockLogger is a simple mock implementation of Logger for testing
type ProcessFileMockLogger struct{}

func (m *ProcessFileMockLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (m *ProcessFileMockLogger) Debugf(format string, args ...interface{})               {}
func (m *ProcessFileMockLogger) Infof(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Warnf(format string, args ...interface{})                {}
func (m *ProcessFileMockLogger) Errorf(format string, args ...interface{})               {}

func newTestManager(t *testing.T) *ProcessFileManager {
	return NewProcessFileManager(ProcessFileConfig{
		BaseDirectory: filepath.Join(t.TempDir(), ".launcher"),
	}, &ProcessFileMockLogger{})
}

func TestNewProcessFileManager_WithDefaults(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, &ProcessFileMockLogger{})

	assert.Equal(t, DefaultAppName, manager.config.AppName)
	assert.Equal(t, DefaultAppName, filepath.Base(manager.Directory()))
}

func TestGeneratePaths(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: "state"}, &ProcessFileMockLogger{})

	assert.Equal(t, filepath.Join("state", "backend.pid"), manager.GeneratePIDFilePath("backend"))
	assert.Equal(t, filepath.Join("state", "frontend.port"), manager.GeneratePortFilePath("frontend"))
}

func TestWriteAndReadProcessFiles(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.WritePIDFile("backend", 4242))
	require.NoError(t, manager.WritePortFile("backend", 9002))

	pid, err := manager.ReadPIDFile("backend")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	port, err := manager.ReadPortFile("backend")
	require.NoError(t, err)
	assert.Equal(t, 9002, port)

	content, err := os.ReadFile(manager.GeneratePIDFilePath("backend"))
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(content))
}

func TestReadPIDFile_Errors(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.ReadPIDFile("backend")
	assert.True(t, errors.IsNotFoundError(err))

	require.NoError(t, ValidateProcessFileDirectory(manager.GeneratePIDFilePath("backend")))
	require.NoError(t, os.WriteFile(manager.GeneratePIDFilePath("backend"), []byte("not-a-pid\n"), 0o644))
	_, err = manager.ReadPIDFile("backend")
	assert.True(t, errors.IsValidationError(err))

	require.NoError(t, os.WriteFile(manager.GeneratePIDFilePath("backend"), []byte("-5\n"), 0o644))
	_, err = manager.ReadPIDFile("backend")
	assert.True(t, errors.IsValidationError(err))
}

func TestListAndRemove(t *testing.T) {
	manager := newTestManager(t)

	records, err := manager.List()
	require.NoError(t, err)
	assert.Empty(t, records, "missing directory lists nothing")

	require.NoError(t, manager.WritePIDFile("frontend", 200))
	require.NoError(t, manager.WritePortFile("frontend", 3000))
	require.NoError(t, manager.WritePIDFile("backend", 100))
	require.NoError(t, os.WriteFile(filepath.Join(manager.Directory(), "broken.pid"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(manager.Directory(), "notes.txt"), []byte("x"), 0o644))

	records, err = manager.List()
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Name: "backend", PID: 100},
		{Name: "frontend", PID: 200, Port: 3000},
	}, records)

	require.NoError(t, manager.Remove("frontend"))
	require.NoError(t, manager.Remove("frontend"), "removing twice is fine")

	records, err = manager.List()
	require.NoError(t, err)
	assert.Equal(t, []Record{{Name: "backend", PID: 100}}, records)
}

func TestValidateProcessFileDirectory_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	err := ValidateProcessFileDirectory(filepath.Join(file, "backend.pid"))
	assert.True(t, errors.IsValidationError(err))
}
