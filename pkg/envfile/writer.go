// Package envfile patches KEY=VALUE environment files read by the backend and frontend.
package envfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/gofrs/flock"
)

const (
	KeyPort   = "PORT"
	KeyAPIURL = "REACT_APP_API_URL"

	DefaultAPIHost = "localhost"

	lockRetryInterval  = 50 * time.Millisecond
	defaultLockTimeout = 5 * time.Second
)

type WriterOptions struct {
	APIHost     string
	LockTimeout time.Duration
}

// Writer rewrites env files under an exclusive lock using temp-file-then-rename
type Writer struct {
	options WriterOptions
	logger  logging.Logger
}

func NewWriter(options WriterOptions, logger logging.Logger) *Writer {
	if options.APIHost == "" {
		options.APIHost = DefaultAPIHost
	}
	if options.LockTimeout <= 0 {
		options.LockTimeout = defaultLockTimeout
	}
	return &Writer{options: options, logger: logger}
}

// APIURL is the backend address handed to the frontend
func (w *Writer) APIURL(backendPort int) string {
	return fmt.Sprintf("http://%s:%d", w.options.APIHost, backendPort)
}

// BackendValues are the assignments written to the backend env file
func (w *Writer) BackendValues(port int) []KeyValue {
	return []KeyValue{{Key: KeyPort, Value: strconv.Itoa(port)}}
}

// FrontendValues are the assignments written to the frontend env file
func (w *Writer) FrontendValues(port, backendPort int) []KeyValue {
	return []KeyValue{
		{Key: KeyPort, Value: strconv.Itoa(port)},
		{Key: KeyAPIURL, Value: w.APIURL(backendPort)},
	}
}

func (w *Writer) WriteBackendPort(ctx context.Context, path string, port int) error {
	if err := w.SetValues(ctx, path, w.BackendValues(port)); err != nil {
		return err
	}
	w.logger.Infof("Backend env updated, path: %s, port: %d", path, port)
	return nil
}

func (w *Writer) WriteFrontendConfig(ctx context.Context, path string, port, backendPort int) error {
	if err := w.SetValues(ctx, path, w.FrontendValues(port, backendPort)); err != nil {
		return err
	}
	w.logger.Infof("Frontend env updated, path: %s, port: %d, api url: %s", path, port, w.APIURL(backendPort))
	return nil
}

// SetValues patches values into the file at path, creating it when missing
func (w *Writer) SetValues(ctx context.Context, path string, values []KeyValue) error {
	lockCtx, cancel := context.WithTimeout(ctx, w.options.LockTimeout)
	defer cancel()

	lock, err := acquireLock(lockCtx, path+".lock")
	if err != nil {
		return errors.NewConfigWriteError("failed to lock env file", err).WithContext("path", path)
	}
	defer func() {
		if err := lock.Close(); err != nil {
			w.logger.Debugf("Failed to release env file lock, path: %s, error: %v", lock.Path(), err)
		}
	}()

	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.NewConfigWriteError("failed to read env file", err).WithContext("path", path)
	}

	patched := Patch(string(content), values)
	if patched == string(content) {
		w.logger.Debugf("Env file already up to date, path: %s", path)
		return nil
	}

	if err := writeAtomic(path, []byte(patched)); err != nil {
		return errors.NewConfigWriteError("failed to write env file", err).WithContext("path", path)
	}
	return nil
}

// ReadValue returns the value of key in the env file at path
func ReadValue(path, key string) (string, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.NewIOError("failed to read env file", err).WithContext("path", path)
	}
	value, found := Lookup(string(content), key)
	return value, found, nil
}

// acquireLock retries until the lock is held or ctx is done.
// The lock file stays on disk so a concurrent holder never loses its inode.
func acquireLock(ctx context.Context, lockPath string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}
	fl := flock.New(lockPath)

	locked, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquiring file lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("acquiring file lock %s: lock not acquired", lockPath)
	}
	return fl, nil
}

// writeAtomic writes data to a temp file beside path and renames it into place
func writeAtomic(path string, data []byte) (retErr error) {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
