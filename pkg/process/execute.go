package process

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// CommandLine renders the command for log messages
func (c ExecutionConfig) CommandLine() string {
	return strings.TrimSpace(c.ExecutablePath + " " + strings.Join(c.Args, " "))
}

// Handle is a started child process.
// Stdout and Stderr reach EOF once the process has exited and its output is drained.
type Handle interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits; it may be called any number of times
	Wait() error
	// Done is closed when the process has exited
	Done() <-chan struct{}
	// Terminate asks the whole process tree to stop
	Terminate() error
	// Kill stops the whole process tree without giving it a chance to clean up
	Kill() error
}

// ExecSpawner starts real OS processes in their own process group
type ExecSpawner struct {
	logger logging.Logger
}

func NewExecSpawner(logger logging.Logger) *ExecSpawner {
	return &ExecSpawner{logger: logger}
}

func (s *ExecSpawner) Spawn(ctx context.Context, id string, execution ExecutionConfig) (Handle, error) {
	if ctx == nil {
		s.logger.Errorf("Context cannot be nil, id: %s", id)
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		s.logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
	}

	s.logger.Debugf("Executing process, id: %s, command: '%s', working directory: '%s'",
		id, execution.CommandLine(), execution.WorkingDirectory)

	// The child's lifetime is bound to explicit termination, not to ctx
	cmd := exec.Command(execution.ExecutablePath, execution.Args...)
	cmd.Dir = execution.WorkingDirectory
	cmd.Env = append(os.Environ(), execution.Environment...)

	setupProcessAttributes(cmd)

	// wait after the process exits for its output to drain before closing the pipes
	cmd.WaitDelay = execution.WaitDelay

	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter

	if err := cmd.Start(); err != nil {
		stdoutWriter.Close()
		stderrWriter.Close()
		return nil, errors.NewProcessError("failed to start the process", err).
			WithContext("id", id).
			WithContext("executable_path", execution.ExecutablePath)
	}

	s.logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)

	h := &execHandle{
		cmd:    cmd,
		stdout: stdoutReader,
		stderr: stderrReader,
		done:   make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		stdoutWriter.Close()
		stderrWriter.Close()
		h.mutex.Lock()
		h.waitErr = err
		h.mutex.Unlock()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	stdout  io.Reader
	stderr  io.Reader
	done    chan struct{}
	mutex   sync.Mutex
	waitErr error
}

func (h *execHandle) PID() int              { return h.cmd.Process.Pid }
func (h *execHandle) Stdout() io.Reader     { return h.stdout }
func (h *execHandle) Stderr() io.Reader     { return h.stderr }
func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) Wait() error {
	<-h.done
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.waitErr
}

func (h *execHandle) Terminate() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	return SendTerminationSignal(h.PID())
}

func (h *execHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	return SendKillSignal(h.PID())
}

// ExitCode extracts the exit status from a Wait error; -1 when it is unknown
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
