package envfile

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// Expectation is the content a launched process was started against
type Expectation struct {
	Path   string
	Values []KeyValue
}

// DriftFunc is called when a watched key no longer holds the launched value.
// actual is empty and found is false when the key was removed.
type DriftFunc func(path, key, expected, actual string, found bool)

// Watcher reports edits to env files after the processes have been started.
// Running processes keep their old configuration, so drift means a restart is needed to pick it up.
type Watcher struct {
	watcher  *fsnotify.Watcher
	expected map[string][]KeyValue
	onDrift  DriftFunc
	logger   logging.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWatcher watches the parent directories of the expected files, so rename-based saves are seen too
func NewWatcher(expectations []Expectation, onDrift DriftFunc, logger logging.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.NewIOError("failed to create env file watcher", err)
	}

	w := &Watcher{
		watcher:  fsWatcher,
		expected: make(map[string][]KeyValue),
		onDrift:  onDrift,
		logger:   logger,
	}

	dirs := make(map[string]bool)
	for _, expectation := range expectations {
		path, err := filepath.Abs(expectation.Path)
		if err != nil {
			fsWatcher.Close()
			return nil, errors.NewIOError("failed to resolve env file path", err).WithContext("path", expectation.Path)
		}
		w.expected[path] = expectation.Values
		dir := filepath.Dir(path)
		if dirs[dir] {
			continue
		}
		if err := fsWatcher.Add(dir); err != nil {
			fsWatcher.Close()
			return nil, errors.NewIOError("failed to watch env file directory", err).WithContext("dir", dir)
		}
		dirs[dir] = true
	}
	return w, nil
}

func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		_ = w.watcher.Close()
	})
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			path := filepath.Clean(event.Name)
			if _, watched := w.expected[path]; watched {
				w.Check(path)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Env file watcher error: %v", err)
		}
	}
}

// Check compares the file at path against its expectation and reports every drifted key
func (w *Watcher) Check(path string) {
	values := w.expected[path]
	for _, kv := range values {
		actual, found, err := ReadValue(path, kv.Key)
		if err != nil {
			w.logger.Warnf("Failed to re-read env file, path: %s, error: %v", path, err)
			return
		}
		if found && actual == kv.Value {
			continue
		}
		w.logger.Warnf("Env file changed after launch, path: %s, key: %s, launched with: %q, now: %q (restart to apply)",
			path, kv.Key, kv.Value, actual)
		if w.onDrift != nil {
			w.onDrift(path, kv.Key, kv.Value, actual, found)
		}
	}
}
