// Package inspect finds and kills the OS processes that hold TCP ports.
// It shells out to the platform tools (lsof, kill and ps on POSIX; netstat, taskkill and tasklist on Windows).
package inspect

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/core-tools/hsu-launcher/pkg/logging"
)

// UnknownProcessName is reported when the process name cannot be determined
const UnknownProcessName = "Unknown"

// CommandRunner runs an external command and returns its standard output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PortOwner describes the process listening on a port
type PortOwner struct {
	Port int
	PID  int
	Name string
}

type Inspector struct {
	run    CommandRunner
	goos   string
	logger logging.Logger
}

func NewInspector(logger logging.Logger) *Inspector {
	return NewInspectorWithRunner(ExecRunner, runtime.GOOS, logger)
}

// NewInspectorWithRunner creates an inspector that issues the command set of goos through run
func NewInspectorWithRunner(run CommandRunner, goos string, logger logging.Logger) *Inspector {
	return &Inspector{
		run:    run,
		goos:   goos,
		logger: logger,
	}
}

func (i *Inspector) windows() bool {
	return i.goos == "windows"
}

// FindProcessOnPort returns the PID listening on port.
// A failed lookup command, empty output and unparsable output all report false.
func (i *Inspector) FindProcessOnPort(ctx context.Context, port int) (int, bool) {
	var (
		output []byte
		err    error
	)
	if i.windows() {
		output, err = i.run(ctx, "netstat", "-ano")
	} else {
		output, err = i.run(ctx, "lsof", "-nP", "-iTCP:"+strconv.Itoa(port), "-sTCP:LISTEN", "-t")
	}
	if err != nil {
		i.logger.Debugf("Port owner lookup failed, port: %d, error: %v", port, err)
		return 0, false
	}

	var (
		pid   int
		found bool
	)
	if i.windows() {
		pid, found = parseNetstatListener(string(output), port)
	} else {
		pid, found = parseLsofPID(string(output))
	}
	if found {
		i.logger.Debugf("Found process on port, port: %d, pid: %d", port, pid)
	}
	return pid, found
}

// TerminateProcess force-kills pid and reports whether the kill command succeeded.
// It does not distinguish a missing process from a refused kill.
func (i *Inspector) TerminateProcess(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	var err error
	if i.windows() {
		_, err = i.run(ctx, "taskkill", "/F", "/PID", strconv.Itoa(pid))
	} else {
		_, err = i.run(ctx, "kill", "-9", strconv.Itoa(pid))
	}
	if err != nil {
		i.logger.Warnf("Failed to kill process, pid: %d, error: %v", pid, err)
		return false
	}
	i.logger.Infof("Killed process, pid: %d", pid)
	return true
}

// ProcessName returns the executable name of pid, or UnknownProcessName
func (i *Inspector) ProcessName(ctx context.Context, pid int) string {
	var (
		output []byte
		err    error
		name   string
	)
	if i.windows() {
		output, err = i.run(ctx, "tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/FO", "CSV", "/NH")
		if err == nil {
			name = parseTasklistCSV(string(output))
		}
	} else {
		output, err = i.run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=")
		if err == nil {
			name = parsePsComm(string(output))
		}
	}
	if name == "" {
		return UnknownProcessName
	}
	return name
}

// Owner resolves the process listening on port together with its name
func (i *Inspector) Owner(ctx context.Context, port int) (*PortOwner, bool) {
	pid, found := i.FindProcessOnPort(ctx, port)
	if !found {
		return nil, false
	}
	return &PortOwner{
		Port: port,
		PID:  pid,
		Name: i.ProcessName(ctx, pid),
	}, true
}
