// Package launcher starts the backend and frontend of the Private Lawyer Bot on free ports.
package launcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/envfile"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/inspect"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/metrics"
	"github.com/core-tools/hsu-launcher/pkg/monitoring"
	"github.com/core-tools/hsu-launcher/pkg/portprobe"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/processfile"
	"github.com/core-tools/hsu-launcher/pkg/processstate"
	"github.com/core-tools/hsu-launcher/pkg/prompt"
	"github.com/core-tools/hsu-launcher/pkg/resolver"
	"github.com/core-tools/hsu-launcher/pkg/supervisor"
)

// Options are the per-run switches taken from the command line
type Options struct {
	AutoKill    bool
	BackendOnly bool
	// OnConflict preselects the answer to the conflict menu; empty or "ask" prompts
	OnConflict resolver.Strategy
}

// PortInspector finds, names and kills port owners
type PortInspector interface {
	resolver.ProcessInspector
	ProcessName(ctx context.Context, pid int) string
	Owner(ctx context.Context, port int) (*inspect.PortOwner, bool)
}

type Launcher struct {
	config *LauncherConfig
	root   string
	logger logging.Logger
	out    io.Writer

	prober     portprobe.Prober
	inspector  PortInspector
	chooser    resolver.Chooser
	spawner    supervisor.Spawner
	checker    monitoring.Checker
	runCommand inspect.CommandRunner
	isRunning  func(pid int) (bool, error)
	settle     resolver.SleepFunc

	envWriter    *envfile.Writer
	processFiles *processfile.ProcessFileManager
	metrics      *metrics.Collector
}

// NewLauncher wires the real prober, inspector, prompt and process spawner.
// Relative paths in config are resolved against root.
func NewLauncher(config *LauncherConfig, root string, logger logging.Logger) *Launcher {
	if root == "" {
		root = "."
	}
	return &Launcher{
		config:     config,
		root:       root,
		logger:     logger,
		out:        os.Stdout,
		prober:     portprobe.TCPProber{},
		inspector:  inspect.NewInspector(logging.WithPrefix(logger, "inspect")),
		chooser:    prompt.NewReadlineChooser(),
		spawner:    process.NewExecSpawner(logging.WithPrefix(logger, "process")),
		checker:    monitoring.NewHTTPChecker(config.Health.Timeout),
		runCommand: inspect.ExecRunner,
		isRunning:  processstate.IsProcessRunning,
		envWriter: envfile.NewWriter(envfile.WriterOptions{
			APIHost: config.Ports.APIHost,
		}, logging.WithPrefix(logger, "envfile")),
		processFiles: processfile.NewProcessFileManager(processfile.ProcessFileConfig{
			BaseDirectory: resolvePath(root, config.StateDir),
		}, logging.WithPrefix(logger, "processfile")),
		metrics: metrics.NewCollector(metrics.DefaultNamespace),
	}
}

func (l *Launcher) SetOutput(w io.Writer)                      { l.out = w }
func (l *Launcher) SetProber(prober portprobe.Prober)          { l.prober = prober }
func (l *Launcher) SetInspector(inspector PortInspector)       { l.inspector = inspector }
func (l *Launcher) SetChooser(chooser resolver.Chooser)        { l.chooser = chooser }
func (l *Launcher) SetSpawner(spawner supervisor.Spawner)      { l.spawner = spawner }
func (l *Launcher) SetChecker(checker monitoring.Checker)      { l.checker = checker }
func (l *Launcher) SetCommandRunner(run inspect.CommandRunner) { l.runCommand = run }
func (l *Launcher) SetSettleSleep(sleep resolver.SleepFunc)    { l.settle = sleep }

func (l *Launcher) SetProcessChecker(isRunning func(pid int) (bool, error)) {
	l.isRunning = isRunning
}

func (l *Launcher) Metrics() *metrics.Collector {
	return l.metrics
}

// Run launches the stack and blocks until ctx ends or SIGINT/SIGTERM arrives.
// Every process started before a failure is stopped before Run returns.
func (l *Launcher) Run(ctx context.Context, options Options) error {
	cfg := l.config
	l.logger.Infof("Smart launcher for Private Lawyer Bot starting, root: %s", l.root)

	if err := l.Preflight(); err != nil {
		return err
	}
	if err := l.CheckDependencies(ctx); err != nil {
		return err
	}
	l.warnStaleProcesses()

	ports, err := l.resolvePorts(ctx, options)
	if err != nil {
		return err
	}
	l.logger.Infof("Using ports, %s", ports)

	backendEnv := resolvePath(l.root, cfg.Backend.EnvFile)
	frontendEnv := resolvePath(l.root, cfg.Frontend.EnvFile)
	if err := l.writeEnvFiles(ctx, ports, backendEnv, frontendEnv); err != nil && cfg.StrictConfig {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Address != "" {
		if _, err := l.metrics.Serve(ctx, cfg.Metrics.Address, l.logger); err != nil {
			l.logger.Warnf("Metrics disabled: %v", err)
		}
	}

	sup := supervisor.NewSupervisor(supervisor.NewRegistry(), l.spawner, logging.WithPrefix(l.logger, "supervisor"))
	sup.SetOutput(l.out)
	sup.SetKillGrace(l.config.Shutdown.KillGrace)
	sup.SetRecorder(l.processFiles)
	sup.SetObserver(func(name string, from, to supervisor.State) {
		l.metrics.ProcessStateTransition(name, string(from), string(to))
	})
	defer l.shutdown(sup, stop)

	if _, err := sup.Start(ctx, l.processSpec(domain.RoleBackend, cfg.Backend, ports.Backend)); err != nil {
		return err
	}
	if !options.BackendOnly {
		if _, err := sup.Start(ctx, l.processSpec(domain.RoleFrontend, cfg.Frontend, ports.Frontend)); err != nil {
			return err
		}
	}

	attempts := cfg.Health.Attempts
	if options.BackendOnly {
		attempts = cfg.Health.BackendOnlyTries
	}
	healthURL := l.healthURL(ports.Backend)
	if !monitoring.WaitHealthy(ctx, l.checker, healthURL, monitoring.WaitOptions{
		Attempts: attempts,
		Interval: cfg.Health.Interval,
	}, l.logger) {
		l.logger.Warnf("Servers may still be starting up")
	}
	if ctx.Err() != nil {
		return nil
	}

	l.printSummary(ports, options)

	liveness := monitoring.NewLivenessMonitor(l.checker, healthURL, cfg.Health.LivenessInterval, logging.WithPrefix(l.logger, "liveness"))
	liveness.SetSnapshotCallback(l.metrics.HealthSnapshot)
	if err := liveness.Start(ctx); err != nil {
		l.logger.Warnf("Liveness monitoring disabled: %v", err)
	} else {
		defer liveness.Stop()
	}

	watcher, err := envfile.NewWatcher([]envfile.Expectation{
		{Path: backendEnv, Values: l.envWriter.BackendValues(ports.Backend)},
		{Path: frontendEnv, Values: l.envWriter.FrontendValues(ports.Frontend, ports.Backend)},
	}, l.onEnvDrift, logging.WithPrefix(l.logger, "envwatch"))
	if err != nil {
		l.logger.Warnf("Env file watching disabled: %v", err)
	} else {
		watcher.Start(ctx)
		defer watcher.Stop()
	}

	<-ctx.Done()
	return nil
}

func (l *Launcher) resolvePorts(ctx context.Context, options Options) (domain.PortAssignment, error) {
	cfg := l.config

	chooser := l.chooser
	switch options.OnConflict {
	case "", resolver.StrategyAsk:
	default:
		chooser = resolver.FixedChooser(options.OnConflict)
	}

	r := resolver.NewResolver(l.prober, l.inspector, chooser, resolver.Options{
		BackendRange:  cfg.Ports.BackendRange,
		FrontendRange: cfg.Ports.FrontendRange,
		SettleDelay:   cfg.Ports.SettleDelay,
	}, logging.WithPrefix(l.logger, "resolver"))
	if l.settle != nil {
		r.SetSleep(l.settle)
	}
	r.SetObserver(func(role domain.Role, resolution resolver.Strategy) {
		l.metrics.PortResolution(role, string(resolution))
	})

	return r.Resolve(ctx, domain.PortAssignment{
		Backend:  cfg.Ports.Backend,
		Frontend: cfg.Ports.Frontend,
	}, options.AutoKill)
}

// writeEnvFiles writes both files before anything is spawned.
// Both writes are attempted; the first failure is returned.
func (l *Launcher) writeEnvFiles(ctx context.Context, ports domain.PortAssignment, backendEnv, frontendEnv string) error {
	var first error
	if err := l.envWriter.WriteBackendPort(ctx, backendEnv, ports.Backend); err != nil {
		l.logger.Errorf("Failed to update backend port: %v", err)
		first = err
	}
	if err := l.envWriter.WriteFrontendConfig(ctx, frontendEnv, ports.Frontend, ports.Backend); err != nil {
		l.logger.Errorf("Failed to update frontend config: %v", err)
		if first == nil {
			first = err
		}
	}
	return first
}

func (l *Launcher) processSpec(role domain.Role, service ServiceConfig, port int) supervisor.ProcessSpec {
	execution := service.Execution
	execution.WorkingDirectory = resolvePath(l.root, execution.WorkingDirectory)
	execution.Environment = append([]string(nil), execution.Environment...)
	if service.PortEnv {
		execution.Environment = append(execution.Environment, envfile.KeyPort+"="+strconv.Itoa(port))
	}

	return supervisor.ProcessSpec{
		Name:           string(role),
		Port:           port,
		Execution:      execution,
		Readiness:      supervisor.NewMarkerReadiness(port, service.ReadinessMarkers...).OnStreams(service.ReadinessStreams...),
		StartupTimeout: service.StartupTimeout,
	}
}

// shutdown restores default signal handling first, so a second Ctrl+C ends the launcher at once
func (l *Launcher) shutdown(sup *supervisor.Supervisor, releaseSignals func()) {
	releaseSignals()
	if sup.Registry().Len() > 0 {
		fmt.Fprintln(l.out, "Shutting down servers...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.config.Shutdown.Timeout)
	defer cancel()
	if err := sup.Shutdown(ctx); err != nil {
		l.logger.Errorf("Shutdown finished with errors: %v", err)
	}

	if l.config.Shutdown.GraceDelay > 0 {
		time.Sleep(l.config.Shutdown.GraceDelay)
	}
	l.logger.Infof("Goodbye!")
}

// warnStaleProcesses reports children a previous run left behind and drops records of dead ones
func (l *Launcher) warnStaleProcesses() {
	records, err := l.processFiles.List()
	if err != nil {
		l.logger.Debugf("Could not read process records: %v", err)
		return
	}
	for _, record := range records {
		running, err := l.isRunning(record.PID)
		if err != nil {
			l.logger.Debugf("Could not check %s, pid: %d, error: %v", record.Name, record.PID, err)
			continue
		}
		if !running {
			_ = l.processFiles.Remove(record.Name)
			continue
		}
		l.logger.Warnf("A %s started by an earlier run is still alive, pid: %d, port: %d", record.Name, record.PID, record.Port)
	}
}

func (l *Launcher) onEnvDrift(path, key, expected, actual string, found bool) {
	l.metrics.EnvDrift(key)
	if !found {
		l.logger.Warnf("%s no longer sets %s; running servers still use %s, restart to apply", path, key, expected)
		return
	}
	l.logger.Warnf("%s changed %s from %s to %s; running servers still use the old value, restart to apply", path, key, expected, actual)
}

func (l *Launcher) healthURL(backendPort int) string {
	return l.envWriter.APIURL(backendPort) + l.config.Health.Path
}

// resolvePath joins relative paths to root
func resolvePath(root, path string) string {
	if path == "" {
		return root
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// ExitCode maps the result of Run to the process exit status
func ExitCode(err error) int {
	return errors.ExitCode(err)
}

func isWindows() bool {
	return runtime.GOOS == "windows"
}
