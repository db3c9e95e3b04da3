package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
)

// Default application name used for the per-user state directory
const DefaultAppName = "hsu-launcher"

const (
	pidFileExt  = ".pid"
	portFileExt = ".port"
)

// ProcessFileConfig holds configuration for the launcher's PID and port files
type ProcessFileConfig struct {
	// Base directory for process files. If empty, a per-user directory is used
	BaseDirectory string

	// Application name for the per-user subdirectory
	AppName string
}

// ProcessFileManager records which processes the launcher started and on which ports
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// Directory returns the directory that holds the process files
func (m *ProcessFileManager) Directory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}
	return filepath.Join(userStateDirectory(), m.config.AppName)
}

func (m *ProcessFileManager) GeneratePIDFilePath(name string) string {
	return filepath.Join(m.Directory(), name+pidFileExt)
}

func (m *ProcessFileManager) GeneratePortFilePath(name string) string {
	return filepath.Join(m.Directory(), name+portFileExt)
}

// WritePIDFile writes the PID of the named process
func (m *ProcessFileManager) WritePIDFile(name string, pid int) error {
	path := m.GeneratePIDFilePath(name)
	if err := m.writeNumber(path, pid); err != nil {
		m.logger.Errorf("Failed to write PID file, name: %s, pid: %d, path: %s, error: %v", name, pid, path, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", path).WithContext("pid", pid)
	}
	m.logger.Debugf("PID file written, name: %s, pid: %d, path: %s", name, pid, path)
	return nil
}

// WritePortFile writes the port the named process was started on
func (m *ProcessFileManager) WritePortFile(name string, port int) error {
	path := m.GeneratePortFilePath(name)
	if err := m.writeNumber(path, port); err != nil {
		m.logger.Errorf("Failed to write port file, name: %s, port: %d, path: %s, error: %v", name, port, path, err)
		return errors.NewIOError("failed to write port file", err).WithContext("port_file", path).WithContext("port", port)
	}
	m.logger.Debugf("Port file written, name: %s, port: %d, path: %s", name, port, path)
	return nil
}

func (m *ProcessFileManager) ReadPIDFile(name string) (int, error) {
	return m.readNumber(m.GeneratePIDFilePath(name), "PID")
}

func (m *ProcessFileManager) ReadPortFile(name string) (int, error) {
	return m.readNumber(m.GeneratePortFilePath(name), "port")
}

// Remove deletes both process files of name; missing files are not an error
func (m *ProcessFileManager) Remove(name string) error {
	collection := errors.NewErrorCollection()
	for _, path := range []string{m.GeneratePIDFilePath(name), m.GeneratePortFilePath(name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			collection.Add(errors.NewIOError("failed to remove process file", err).WithContext("path", path))
		}
	}
	if collection.HasErrors() {
		m.logger.Warnf("Failed to remove process files, name: %s, error: %v", name, collection)
	}
	return collection.ToError()
}

// Record is one process recorded by a launcher run
type Record struct {
	Name string
	PID  int
	Port int // zero when no port file exists
}

// List returns every readable PID file record, sorted by name
func (m *ProcessFileManager) List() ([]Record, error) {
	entries, err := os.ReadDir(m.Directory())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewIOError("failed to list process files", err).WithContext("directory", m.Directory())
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != pidFileExt {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), pidFileExt)
		pid, err := m.ReadPIDFile(name)
		if err != nil {
			m.logger.Warnf("Skipping unreadable PID file, name: %s, error: %v", name, err)
			continue
		}
		port, _ := m.ReadPortFile(name)
		records = append(records, Record{Name: name, PID: pid, Port: port})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (m *ProcessFileManager) writeNumber(path string, value int) error {
	if err := ValidateProcessFileDirectory(path); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", value)), 0o644)
}

func (m *ProcessFileManager) readNumber(path, kind string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError(kind+" file not found", err).WithContext("path", path)
		}
		return 0, errors.NewIOError("failed to read "+kind+" file", err).WithContext("path", path)
	}

	text := strings.TrimSpace(string(content))
	value, err := process.ValidatePID(text)
	if err != nil {
		return 0, errors.NewValidationError("invalid "+kind+" in file", err).WithContext("path", path).WithContext("content", text)
	}
	return value, nil
}

// ValidateProcessFileDirectory makes sure the parent directory of path exists and is a directory
func ValidateProcessFileDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access process file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.NewIOError("failed to create process file directory", err).WithContext("directory", dir)
		}
		return nil
	}
	if !info.IsDir() {
		return errors.NewValidationError("process file parent is not a directory", nil).WithContext("path", dir)
	}
	return nil
}

// userStateDirectory returns the per-user runtime directory
func userStateDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return localAppData
		}
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			return filepath.Join(userProfile, "AppData", "Local")
		}
		return os.TempDir()

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")

	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}
