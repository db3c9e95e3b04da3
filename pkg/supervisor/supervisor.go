package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/process"
)

const (
	DefaultStartupTimeout = 30 * time.Second
	// DefaultKillGrace is how long Shutdown waits after SIGTERM before sending SIGKILL
	DefaultKillGrace = 5 * time.Second

	maxLineSize = 1024 * 1024
)

// ProcessSpec describes one process to launch
type ProcessSpec struct {
	Name           string
	Port           int
	Execution      process.ExecutionConfig
	Readiness      ReadinessPredicate
	StartupTimeout time.Duration
}

// Spawner starts OS processes
type Spawner interface {
	Spawn(ctx context.Context, id string, execution process.ExecutionConfig) (process.Handle, error)
}

// ProcessRecorder persists which processes are running, so later runs can spot leftovers
type ProcessRecorder interface {
	WritePIDFile(name string, pid int) error
	WritePortFile(name string, port int) error
	Remove(name string) error
}

var startSeq atomic.Uint64

// ManagedProcess is a child started by the supervisor
type ManagedProcess struct {
	Name      string
	Port      int
	StartedAt time.Time

	seq    uint64
	handle process.Handle
	mutex  sync.Mutex
	state  State
}

func (p *ManagedProcess) State() State {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

func (p *ManagedProcess) PID() int {
	handle := p.getHandle()
	if handle == nil {
		return 0
	}
	return handle.PID()
}

// Done is closed when the process has exited; nil before the process was spawned
func (p *ManagedProcess) Done() <-chan struct{} {
	handle := p.getHandle()
	if handle == nil {
		return nil
	}
	return handle.Done()
}

func (p *ManagedProcess) getHandle() process.Handle {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.handle
}

func (p *ManagedProcess) setHandle(handle process.Handle) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.handle = handle
	p.StartedAt = time.Now()
}

// setState applies a legal transition and returns the previous state
func (p *ManagedProcess) setState(to State) (State, bool) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	from := p.state
	if !canTransition(from, to) {
		return from, false
	}
	p.state = to
	return from, true
}

type Supervisor struct {
	registry *Registry
	spawner  Spawner
	recorder ProcessRecorder
	observer StateObserver
	logger   logging.Logger

	output      io.Writer
	outputMutex sync.Mutex
	killGrace   time.Duration

	wg sync.WaitGroup
}

func NewSupervisor(registry *Registry, spawner Spawner, logger logging.Logger) *Supervisor {
	return &Supervisor{
		registry: registry,
		spawner:  spawner,
		logger:   logger,
		output:    os.Stdout,
		killGrace: DefaultKillGrace,
	}
}

// SetOutput sets where child output lines are forwarded
func (s *Supervisor) SetOutput(w io.Writer) {
	s.output = w
}

func (s *Supervisor) SetKillGrace(grace time.Duration) {
	if grace > 0 {
		s.killGrace = grace
	}
}

func (s *Supervisor) SetRecorder(recorder ProcessRecorder) {
	s.recorder = recorder
}

func (s *Supervisor) SetObserver(observer StateObserver) {
	s.observer = observer
}

func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Start launches spec and blocks until its readiness predicate matches.
// It fails when the process exits first, when the startup timeout elapses, or when ctx ends.
// A process that failed to become ready stays tracked so Shutdown still stops it.
func (s *Supervisor) Start(ctx context.Context, spec ProcessSpec) (*ManagedProcess, error) {
	if spec.Name == "" {
		return nil, errors.NewValidationError("process name is required", nil)
	}
	if spec.Readiness == nil {
		return nil, errors.NewValidationError("readiness predicate is required", nil).WithContext("name", spec.Name)
	}
	timeout := spec.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}

	mp := &ManagedProcess{
		Name:  spec.Name,
		Port:  spec.Port,
		seq:   startSeq.Add(1),
		state: StateNotStarted,
	}
	if err := s.registry.Register(mp); err != nil {
		return nil, err
	}

	s.logger.Infof("Starting %s: %s", spec.Name, spec.Execution.CommandLine())

	handle, err := s.spawner.Spawn(ctx, spec.Name, spec.Execution)
	if err != nil {
		s.registry.Remove(mp)
		return nil, errors.NewProcessError("failed to spawn "+spec.Name, err).WithContext("name", spec.Name)
	}
	mp.setHandle(handle)
	s.transition(mp, StateStarting)
	s.record(mp)

	ready := make(chan struct{})
	var readyOnce sync.Once
	onLine := func(line string, stream Stream) {
		if mp.State() == StateStarting && spec.Readiness.Ready(line, stream) {
			readyOnce.Do(func() { close(ready) })
		}
	}

	s.wg.Add(3)
	go s.forward(mp, handle.Stdout(), StreamStdout, onLine)
	go s.forward(mp, handle.Stderr(), StreamStderr, onLine)
	go s.watch(mp)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		s.transition(mp, StateReady)
		s.logger.Infof("%s is ready, pid: %d, startup: %v", spec.Name, mp.PID(), time.Since(mp.StartedAt).Round(time.Millisecond))
		return mp, nil
	case <-handle.Done():
		code := process.ExitCode(handle.Wait())
		return nil, errors.NewProcessExitError(fmt.Sprintf("%s exited before becoming ready (code %d)", spec.Name, code), handle.Wait()).
			WithContext("name", spec.Name).
			WithContext("exit_code", code)
	case <-timer.C:
		return nil, errors.NewStartupTimeoutError(fmt.Sprintf("%s did not become ready within %v", spec.Name, timeout), nil).
			WithContext("name", spec.Name).
			WithContext("timeout", timeout)
	case <-ctx.Done():
		return nil, errors.NewCancelledError("startup of "+spec.Name+" cancelled", ctx.Err())
	}
}

// Shutdown tries to terminate every tracked process, whatever its state.
// A failing or panicking termination does not stop the others; all failures are returned together.
// It then waits, bounded by ctx, for the processes and their output to drain.
// Processes still running after the kill grace period, or at the ctx deadline, get SIGKILL.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	processes := s.registry.Snapshot()
	if len(processes) > 0 {
		s.logger.Infof("Stopping %d process(es)", len(processes))
	}

	collection := errors.NewErrorCollection()
	for _, p := range processes {
		// marked first so the exit that follows is not reported as unexpected
		s.transition(p, StateKilled)
		if err := s.terminate(p); err != nil {
			s.logger.Errorf("Failed to stop %s, pid: %d, error: %v", p.Name, p.PID(), err)
			collection.Add(err)
		} else {
			s.logger.Infof("Stopped %s, pid: %d", p.Name, p.PID())
		}
		s.registry.Remove(p)
		s.forget(p)
	}

	grace := time.NewTimer(s.killGrace)
	defer grace.Stop()
	killed := false
	for _, p := range processes {
		done := p.Done()
		if done == nil {
			continue
		}
	wait:
		for {
			select {
			case <-done:
				break wait
			case <-grace.C:
				killed = true
				s.killRemaining(processes, collection)
			case <-ctx.Done():
				s.logger.Warnf("%s did not exit before the shutdown deadline, pid: %d", p.Name, p.PID())
				if !killed {
					s.killRemaining(processes, collection)
				}
				return collection.ToError()
			}
		}
	}

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warnf("Child output did not drain before the shutdown deadline")
	}

	return collection.ToError()
}

func (s *Supervisor) terminate(p *ManagedProcess) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(fmt.Sprintf("panic while terminating %s: %v", p.Name, r), nil).
				WithContext("name", p.Name)
		}
	}()
	handle := p.getHandle()
	if handle == nil {
		return nil
	}
	if err := handle.Terminate(); err != nil {
		return errors.NewProcessError("failed to terminate "+p.Name, err).WithContext("name", p.Name).WithContext("pid", p.PID())
	}
	return nil
}

// killRemaining sends SIGKILL to every process that ignored SIGTERM
func (s *Supervisor) killRemaining(processes []*ManagedProcess, collection *errors.ErrorCollection) {
	for _, p := range processes {
		done := p.Done()
		if done == nil {
			continue
		}
		select {
		case <-done:
			continue
		default:
		}
		s.logger.Warnf("%s ignored SIGTERM, killing it, pid: %d", p.Name, p.PID())
		if err := s.kill(p); err != nil {
			s.logger.Errorf("Failed to kill %s, pid: %d, error: %v", p.Name, p.PID(), err)
			collection.Add(err)
		}
	}
}

func (s *Supervisor) kill(p *ManagedProcess) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewInternalError(fmt.Sprintf("panic while killing %s: %v", p.Name, r), nil).
				WithContext("name", p.Name)
		}
	}()
	if err := p.getHandle().Kill(); err != nil {
		return errors.NewProcessError("failed to kill "+p.Name, err).WithContext("name", p.Name).WithContext("pid", p.PID())
	}
	return nil
}

// watch reports an exit that nobody asked for
func (s *Supervisor) watch(p *ManagedProcess) {
	defer s.wg.Done()
	handle := p.getHandle()
	<-handle.Done()
	waitErr := handle.Wait()

	from, changed := p.setState(StateExited)
	if !changed {
		return
	}
	s.notify(p.Name, from, StateExited)

	exitErr := errors.NewProcessExitError(fmt.Sprintf("%s exited with code %d", p.Name, process.ExitCode(waitErr)), waitErr)
	if from == StateReady {
		s.logger.Warnf("%s stopped unexpectedly, it will not be restarted: %v", p.Name, exitErr)
	} else {
		s.logger.Errorf("%s stopped during startup: %v", p.Name, exitErr)
	}
	s.registry.Remove(p)
	s.forget(p)
}

func (s *Supervisor) forward(p *ManagedProcess, r io.Reader, stream Stream, onLine func(string, Stream)) {
	defer s.wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
		advance, token, err := bufio.ScanLines(data, atEOF)
		if advance == 0 && token == nil && err == nil && len(data) > 0 {
			// a prompt-style marker may never get its newline while the child keeps running
			onLine(string(data), stream)
		}
		return advance, token, err
	})
	for scanner.Scan() {
		line := scanner.Text()
		s.printLine(p.Name, line)
		onLine(line, stream)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Debugf("Stopped reading %s %s: %v", p.Name, stream, err)
		// keep the pipe drained so the child never blocks on a full buffer
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *Supervisor) printLine(name, line string) {
	s.outputMutex.Lock()
	defer s.outputMutex.Unlock()
	fmt.Fprintf(s.output, "[%s] %s\n", name, line)
}

func (s *Supervisor) transition(p *ManagedProcess, to State) {
	from, changed := p.setState(to)
	if !changed {
		return
	}
	s.logger.Debugf("Process state changed, name: %s, %s->%s", p.Name, from, to)
	s.notify(p.Name, from, to)
}

func (s *Supervisor) notify(name string, from, to State) {
	if s.observer != nil {
		s.observer(name, from, to)
	}
}

func (s *Supervisor) record(p *ManagedProcess) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.WritePIDFile(p.Name, p.PID()); err != nil {
		s.logger.Warnf("Failed to record %s pid: %v", p.Name, err)
	}
	if p.Port > 0 {
		if err := s.recorder.WritePortFile(p.Name, p.Port); err != nil {
			s.logger.Warnf("Failed to record %s port: %v", p.Name, err)
		}
	}
}

func (s *Supervisor) forget(p *ManagedProcess) {
	if s.recorder == nil {
		return
	}
	_ = s.recorder.Remove(p.Name)
}
