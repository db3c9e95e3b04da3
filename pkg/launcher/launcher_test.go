package launcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/envfile"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/inspect"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/resolver"
	"github.com/core-tools/hsu-launcher/pkg/supervisor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mutex sync.Mutex
	buf   bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.buf.String()
}

// scriptedHandle prints its lines and then runs until terminated
type scriptedHandle struct {
	pid        int
	stdoutR    *io.PipeReader
	stdoutW    *io.PipeWriter
	stderrR    *io.PipeReader
	stderrW    *io.PipeWriter
	done       chan struct{}
	once       sync.Once
	terminated bool
	mutex      sync.Mutex
}

func newScriptedHandle(pid int, lines []string) *scriptedHandle {
	h := &scriptedHandle{pid: pid, done: make(chan struct{})}
	h.stdoutR, h.stdoutW = io.Pipe()
	h.stderrR, h.stderrW = io.Pipe()
	go func() {
		for _, line := range lines {
			if _, err := fmt.Fprintln(h.stdoutW, line); err != nil {
				return
			}
		}
	}()
	return h
}

func (h *scriptedHandle) PID() int              { return h.pid }
func (h *scriptedHandle) Stdout() io.Reader     { return h.stdoutR }
func (h *scriptedHandle) Stderr() io.Reader     { return h.stderrR }
func (h *scriptedHandle) Done() <-chan struct{} { return h.done }

func (h *scriptedHandle) Wait() error {
	<-h.done
	return nil
}

func (h *scriptedHandle) Terminate() error {
	h.mutex.Lock()
	h.terminated = true
	h.mutex.Unlock()
	h.once.Do(func() {
		h.stdoutW.Close()
		h.stderrW.Close()
		close(h.done)
	})
	return nil
}

func (h *scriptedHandle) Kill() error {
	return h.Terminate()
}

func (h *scriptedHandle) Terminated() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.terminated
}

type fakeSpawner struct {
	mutex   sync.Mutex
	lines   map[string][]string
	configs map[string]process.ExecutionConfig
	handles map[string]*scriptedHandle
	nextPID int
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{
		lines: map[string][]string{
			"backend":  {"Starting Multi-LLM Lawyer Bot server", "Server running at http://localhost:9002"},
			"frontend": {"Compiling...", "webpack compiled successfully"},
		},
		configs: map[string]process.ExecutionConfig{},
		handles: map[string]*scriptedHandle{},
		nextPID: 5000,
	}
}

func (f *fakeSpawner) Spawn(ctx context.Context, id string, execution process.ExecutionConfig) (process.Handle, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.nextPID++
	h := newScriptedHandle(f.nextPID, f.lines[id])
	f.configs[id] = execution
	f.handles[id] = h
	return h, nil
}

func (f *fakeSpawner) spawned() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	var names []string
	for name := range f.handles {
		names = append(names, name)
	}
	return names
}

type busyPorts map[int]bool

func (b busyPorts) IsAvailable(port int) bool { return !b[port] }

type fakeInspector struct {
	mutex  sync.Mutex
	owners map[int]int
	names  map[int]string
	killed []int
}

func (f *fakeInspector) FindProcessOnPort(ctx context.Context, port int) (int, bool) {
	pid, ok := f.owners[port]
	return pid, ok
}

func (f *fakeInspector) TerminateProcess(ctx context.Context, pid int) bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.killed = append(f.killed, pid)
	return true
}

func (f *fakeInspector) Owner(ctx context.Context, port int) (*inspect.PortOwner, bool) {
	pid, ok := f.owners[port]
	if !ok {
		return nil, false
	}
	return &inspect.PortOwner{Port: port, PID: pid, Name: f.ProcessName(ctx, pid)}, true
}

func (f *fakeInspector) ProcessName(ctx context.Context, pid int) string {
	if name, ok := f.names[pid]; ok {
		return name
	}
	return "Unknown"
}

type healthyChecker struct{}

func (healthyChecker) Check(ctx context.Context, url string) (bool, string) { return true, "ok" }

type failingChooser struct{ t *testing.T }

func (c failingChooser) Choose(ctx context.Context, conflicts []resolver.Conflict) (resolver.Strategy, error) {
	c.t.Errorf("unexpected prompt for %v", conflicts)
	return resolver.StrategyAbort, nil
}

func okRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return []byte("v1.0.0\n"), nil
}

func newProjectRoot(t *testing.T) string {
	root := t.TempDir()
	for _, file := range []string{"backend/requirements.txt", "frontend/package.json", "package.json"} {
		path := filepath.Join(root, file)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("x\n"), 0o644))
	}
	return root
}

type testLauncher struct {
	*Launcher
	root      string
	out       *syncBuffer
	spawner   *fakeSpawner
	inspector *fakeInspector
}

func newTestLauncher(t *testing.T, busy busyPorts) *testLauncher {
	root := newProjectRoot(t)
	config := DefaultConfig("linux")
	config.Shutdown.GraceDelay = 0
	config.Health.Interval = time.Millisecond
	config.Health.LivenessInterval = time.Hour

	l := NewLauncher(config, root, logging.NewNopLogger())
	out := &syncBuffer{}
	spawner := newFakeSpawner()
	inspector := &fakeInspector{owners: map[int]int{}, names: map[int]string{}}

	l.SetOutput(out)
	l.SetProber(busy)
	l.SetInspector(inspector)
	l.SetChooser(failingChooser{t: t})
	l.SetSpawner(spawner)
	l.SetChecker(healthyChecker{})
	l.SetCommandRunner(okRunner)
	l.SetSettleSleep(func(ctx context.Context, d time.Duration) error { return nil })
	l.SetProcessChecker(func(pid int) (bool, error) { return false, nil })

	return &testLauncher{Launcher: l, root: root, out: out, spawner: spawner, inspector: inspector}
}

// runUntilReady runs the launcher until the summary is printed, then stops it
func (tl *testLauncher) runUntilReady(t *testing.T, options Options) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- tl.Run(ctx, options) }()

	require.Eventually(t, func() bool {
		return strings.Contains(tl.out.String(), "Press Ctrl+C to stop the servers")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("launcher did not stop")
	}
}

func readEnv(t *testing.T, path string) string {
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(content)
}

func TestRun_DefaultPortsFree(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	tl.runUntilReady(t, Options{})

	assert.Equal(t, "PORT=9002\n", readEnv(t, filepath.Join(tl.root, "backend/.env")))
	assert.Equal(t, "PORT=3000\nREACT_APP_API_URL=http://localhost:9002\n", readEnv(t, filepath.Join(tl.root, "frontend/.env")))
	assert.Empty(t, tl.inspector.killed)

	assert.ElementsMatch(t, []string{"backend", "frontend"}, tl.spawner.spawned())
	for _, h := range tl.spawner.handles {
		assert.True(t, h.Terminated(), "every child is stopped on the way out")
	}

	frontend := tl.spawner.configs["frontend"]
	assert.Equal(t, filepath.Join(tl.root, "frontend"), frontend.WorkingDirectory)
	assert.Contains(t, frontend.Environment, "PORT=3000")
	assert.Equal(t, "npm", frontend.ExecutablePath)
	assert.Empty(t, tl.spawner.configs["backend"].Environment)

	out := tl.out.String()
	assert.Contains(t, out, "[backend] Server running at http://localhost:9002")
	assert.Contains(t, out, "http://localhost:3000")
	assert.Contains(t, out, "http://localhost:9002/api/health")
	assert.Contains(t, out, "http://localhost:9002/docs")

	records, err := tl.processFiles.List()
	require.NoError(t, err)
	assert.Empty(t, records, "process records are removed on shutdown")
}

func TestRun_BackendOnly(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	tl.runUntilReady(t, Options{BackendOnly: true})

	assert.Equal(t, []string{"backend"}, tl.spawner.spawned())
	assert.NotContains(t, tl.out.String(), "Frontend App")
	assert.FileExists(t, filepath.Join(tl.root, "frontend/.env"), "both env files are written")
}

func TestRun_AlternativePortWhenBackendBusy(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{9000: true, 9001: true, 9002: true})
	tl.runUntilReady(t, Options{OnConflict: resolver.StrategyAlternative})

	assert.Equal(t, "PORT=9003\n", readEnv(t, filepath.Join(tl.root, "backend/.env")))
	assert.Contains(t, readEnv(t, filepath.Join(tl.root, "frontend/.env")), "REACT_APP_API_URL=http://localhost:9003")
	assert.Empty(t, tl.inspector.killed)
}

func TestRun_AutoKill(t *testing.T) {
	busy := busyPorts{3000: true}
	tl := newTestLauncher(t, busy)
	tl.inspector.owners[3000] = 4242
	tl.SetSettleSleep(func(ctx context.Context, d time.Duration) error {
		delete(busy, 3000)
		return nil
	})

	tl.runUntilReady(t, Options{AutoKill: true})

	assert.Equal(t, []int{4242}, tl.inspector.killed)
	assert.Contains(t, tl.spawner.configs["frontend"].Environment, "PORT=3000")
}

func TestRun_AbortIsClean(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{9002: true})

	err := tl.Run(context.Background(), Options{OnConflict: resolver.StrategyAbort})
	require.Error(t, err)
	assert.True(t, errors.IsAbortedError(err))
	assert.Equal(t, 0, ExitCode(err))
	assert.Empty(t, tl.spawner.spawned())
	assert.NoFileExists(t, filepath.Join(tl.root, "backend/.env"))
}

func TestRun_PreflightMissingFile(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	require.NoError(t, os.Remove(filepath.Join(tl.root, "frontend/package.json")))

	err := tl.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsPreflightError(err))
	assert.Contains(t, err.Error(), "frontend/package.json")
	assert.Equal(t, 1, ExitCode(err))
}

func TestRun_MissingDependencies(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	tl.SetCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "node" || name == "python3" {
			return nil, fmt.Errorf("executable file not found in $PATH")
		}
		return []byte("10.2.0\n"), nil
	})

	err := tl.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsPreflightError(err))
	assert.Contains(t, err.Error(), "Node.js, Python")
	assert.Contains(t, tl.out.String(), "npm is available 10.2.0")
	assert.Empty(t, tl.spawner.spawned())
}

func TestRun_DependencyCheckTimeout(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	tl.config.Preflight.CheckTimeout = 50 * time.Millisecond
	tl.SetCommandRunner(func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "python3" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []byte("v20.11.0\n"), nil
	})

	err := tl.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "Python")
	assert.Contains(t, tl.out.String(), "Python did not answer within 50ms")
	assert.Empty(t, tl.spawner.spawned())
}

func TestRun_StartupFailureStopsStartedProcesses(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	tl.config.Frontend.StartupTimeout = 50 * time.Millisecond
	tl.spawner.lines["frontend"] = []string{"Compiling..."}

	err := tl.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsStartupTimeoutError(err))
	assert.Equal(t, 1, ExitCode(err))

	for name, h := range tl.spawner.handles {
		assert.True(t, h.Terminated(), "%s must be stopped", name)
	}
}

func TestRun_ConfigWriteFailureIsNotFatal(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	// a directory where the file should be makes the write fail
	require.NoError(t, os.MkdirAll(filepath.Join(tl.root, "backend/.env"), 0o755))

	tl.runUntilReady(t, Options{BackendOnly: true})
	assert.Equal(t, []string{"backend"}, tl.spawner.spawned())
}

func TestRun_ConfigWriteFailureIsFatalWhenStrict(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	tl.config.StrictConfig = true
	require.NoError(t, os.MkdirAll(filepath.Join(tl.root, "frontend/.env"), 0o755))

	err := tl.Run(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsConfigWriteError(err))
	assert.Equal(t, 1, ExitCode(err))
	assert.Empty(t, tl.spawner.spawned(), "nothing starts after a strict write failure")

	content, err := os.ReadFile(filepath.Join(tl.root, "backend/.env"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "PORT=9002", "the other file is still written")
}

func TestShutdown_ReleasesSignalsFirst(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	sup := supervisor.NewSupervisor(supervisor.NewRegistry(), tl.spawner, logging.NewNopLogger())

	released := false
	tl.shutdown(sup, func() { released = true })
	assert.True(t, released)
}

func TestWarnStaleProcesses(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	require.NoError(t, tl.processFiles.WritePIDFile("backend", 111))
	require.NoError(t, tl.processFiles.WritePIDFile("frontend", 222))

	tl.SetProcessChecker(func(pid int) (bool, error) { return pid == 111, nil })
	tl.warnStaleProcesses()

	records, err := tl.processFiles.List()
	require.NoError(t, err)
	require.Len(t, records, 1, "records of dead processes are dropped")
	assert.Equal(t, "backend", records[0].Name)
}

func TestProcessSpec(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})

	spec := tl.processSpec(domain.RoleFrontend, tl.config.Frontend, 3005)
	assert.Equal(t, "frontend", spec.Name)
	assert.Equal(t, 3005, spec.Port)
	assert.Equal(t, []string{"PORT=3005"}, spec.Execution.Environment)
	assert.True(t, spec.Readiness.Ready("  On Your Network: http://localhost:3005", "stdout"))
	assert.False(t, spec.Readiness.Ready("webpack compiled", "stderr"))
	assert.Empty(t, tl.config.Frontend.Execution.Environment, "config is not mutated")
}

func TestAccessPoints(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	ports := domain.PortAssignment{Backend: 9005, Frontend: 3002}

	assert.Equal(t, []AccessPoint{
		{Name: "Frontend App", URL: "http://localhost:3002"},
		{Name: "Backend API", URL: "http://localhost:9005"},
		{Name: "Health Check", URL: "http://localhost:9005/api/health"},
		{Name: "API Docs", URL: "http://localhost:9005/docs"},
	}, tl.AccessPoints(ports, false))
	assert.Len(t, tl.AccessPoints(ports, true), 3)
}

func TestOnEnvDriftCountsMetric(t *testing.T) {
	tl := newTestLauncher(t, busyPorts{})
	tl.onEnvDrift("frontend/.env", envfile.KeyPort, "3000", "3100", true)
	tl.onEnvDrift("frontend/.env", envfile.KeyPort, "3000", "", false)

	families, err := tl.Metrics().Registry().Gather()
	require.NoError(t, err)
	found := false
	for _, family := range families {
		if family.GetName() == "launcher_env_drift_total" {
			found = true
			assert.Equal(t, float64(2), family.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}
