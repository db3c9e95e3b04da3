package launcher

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/monitoring"
	"github.com/core-tools/hsu-launcher/pkg/portprobe"
	"github.com/core-tools/hsu-launcher/pkg/process"
	"github.com/core-tools/hsu-launcher/pkg/resolver"
	"github.com/core-tools/hsu-launcher/pkg/supervisor"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBackendPort  = 9002
	DefaultFrontendPort = 3000
	DefaultStateDir     = ".launcher"

	defaultGraceDelay      = time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultCheckTimeout    = 10 * time.Second
)

// LauncherConfig represents the top-level configuration file structure
type LauncherConfig struct {
	Ports       PortsConfig                      `yaml:"ports"`
	Backend     ServiceConfig                    `yaml:"backend"`
	Frontend    ServiceConfig                    `yaml:"frontend"`
	Preflight   PreflightConfig                  `yaml:"preflight"`
	Health      monitoring.HealthCheckRunOptions `yaml:"health"`
	Shutdown    ShutdownConfig                   `yaml:"shutdown"`
	StatusPorts []StatusPort                     `yaml:"status_ports,omitempty"`
	StateDir    string                           `yaml:"state_dir,omitempty"`
	Logging     logging.ZapConfig                `yaml:"logging"`
	Metrics     MetricsConfig                    `yaml:"metrics,omitempty"`
	// StrictConfig makes a failed env file write abort the launch
	StrictConfig bool `yaml:"strict_config,omitempty"`
}

type PortsConfig struct {
	Backend       int                `yaml:"backend"`
	Frontend      int                `yaml:"frontend"`
	BackendRange  resolver.PortRange `yaml:"backend_range"`
	FrontendRange resolver.PortRange `yaml:"frontend_range"`
	SettleDelay   time.Duration      `yaml:"settle_delay,omitempty"`
	APIHost       string             `yaml:"api_host,omitempty"`
}

// ServiceConfig describes how one of the two children is started and configured
type ServiceConfig struct {
	Execution        process.ExecutionConfig `yaml:"execution"`
	EnvFile          string                  `yaml:"env_file"`
	ReadinessMarkers []string                `yaml:"readiness_markers"`
	ReadinessStreams []supervisor.Stream     `yaml:"readiness_streams,omitempty"`
	StartupTimeout   time.Duration           `yaml:"startup_timeout,omitempty"`
	// PortEnv passes PORT=<port> to the child environment
	PortEnv bool `yaml:"port_env,omitempty"`
}

type PreflightConfig struct {
	RequiredFiles []string          `yaml:"required_files"`
	Dependencies  []DependencyCheck `yaml:"dependencies"`
	CheckTimeout  time.Duration     `yaml:"check_timeout,omitempty"`
}

// DependencyCheck is a command that must succeed for a tool to count as installed
type DependencyCheck struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

type ShutdownConfig struct {
	GraceDelay time.Duration `yaml:"grace_delay,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	// KillGrace is how long a child may ignore SIGTERM before it is killed
	KillGrace time.Duration `yaml:"kill_grace,omitempty"`
}

type StatusPort struct {
	Port    int    `yaml:"port"`
	Service string `yaml:"service"`
}

type MetricsConfig struct {
	Address string `yaml:"address,omitempty"`
}

// DefaultConfig is the stock Private Lawyer Bot layout for the given OS
func DefaultConfig(goos string) *LauncherConfig {
	python := "python3"
	npm := "npm"
	if goos == "windows" {
		python = "python"
		npm = "npm.cmd"
	}

	return &LauncherConfig{
		Ports: PortsConfig{
			Backend:       DefaultBackendPort,
			Frontend:      DefaultFrontendPort,
			BackendRange:  resolver.DefaultOptions().BackendRange,
			FrontendRange: resolver.DefaultOptions().FrontendRange,
			SettleDelay:   resolver.DefaultOptions().SettleDelay,
		},
		Backend: ServiceConfig{
			Execution: process.ExecutionConfig{
				ExecutablePath:   python,
				Args:             []string{"fixed_server.py"},
				WorkingDirectory: "backend",
			},
			EnvFile: "backend/.env",
			ReadinessMarkers: []string{
				"Server running at",
				"Starting Multi-LLM Lawyer Bot server",
				"Health check endpoint:",
				"Available LLM providers:",
			},
			StartupTimeout: supervisor.DefaultStartupTimeout,
		},
		Frontend: ServiceConfig{
			Execution: process.ExecutionConfig{
				ExecutablePath:   npm,
				Args:             []string{"start"},
				WorkingDirectory: "frontend",
			},
			EnvFile: "frontend/.env",
			ReadinessMarkers: []string{
				"webpack compiled",
				"Local:",
				"localhost:" + supervisor.PortPlaceholder,
			},
			ReadinessStreams: []supervisor.Stream{supervisor.StreamStdout},
			StartupTimeout:   supervisor.DefaultStartupTimeout,
			PortEnv:          true,
		},
		Preflight: PreflightConfig{
			RequiredFiles: []string{
				"backend/requirements.txt",
				"frontend/package.json",
				"package.json",
			},
			Dependencies: []DependencyCheck{
				{Name: "Node.js", Command: "node", Args: []string{"--version"}},
				{Name: "npm", Command: npm, Args: []string{"--version"}},
				{Name: "Python", Command: python, Args: []string{"--version"}},
			},
			CheckTimeout: defaultCheckTimeout,
		},
		Health: monitoring.DefaultHealthCheckRunOptions(),
		Shutdown: ShutdownConfig{
			GraceDelay: defaultGraceDelay,
			Timeout:    defaultShutdownTimeout,
			KillGrace:  supervisor.DefaultKillGrace,
		},
		StatusPorts: DefaultStatusPorts(),
		StateDir:    DefaultStateDir,
		Logging:     logging.DefaultZapConfig(),
	}
}

// DefaultStatusPorts are the well-known development ports covered by the status report
func DefaultStatusPorts() []StatusPort {
	return []StatusPort{
		{Port: 3000, Service: "Frontend Dev Server (React)"},
		{Port: 3001, Service: "Frontend Alt Port"},
		{Port: 3003, Service: "Frontend Alt Port 2"},
		{Port: 4000, Service: "Node.js Alt Port"},
		{Port: 5000, Service: "Flask/Python Dev Server"},
		{Port: 5173, Service: "Vite Dev Server"},
		{Port: 8000, Service: "Backend Alt Port"},
		{Port: 8080, Service: "HTTP Alt Port"},
		{Port: 9000, Service: "Backend Alt Port"},
		{Port: 9001, Service: "Backend Alt Port"},
		{Port: 9002, Service: "Backend API (Default)"},
	}
}

// LoadConfigFromFile reads a YAML file on top of the defaults; unknown keys are rejected
func LoadConfigFromFile(filename string) (*LauncherConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}
	return parseConfig(data, runtime.GOOS, filename)
}

func parseConfig(data []byte, goos, filename string) (*LauncherConfig, error) {
	config := DefaultConfig(goos)

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	setConfigDefaults(config, goos)
	return config, nil
}

// setConfigDefaults fills values an explicit YAML file may have zeroed
func setConfigDefaults(config *LauncherConfig, goos string) {
	defaults := DefaultConfig(goos)

	if config.Ports.Backend == 0 {
		config.Ports.Backend = defaults.Ports.Backend
	}
	if config.Ports.Frontend == 0 {
		config.Ports.Frontend = defaults.Ports.Frontend
	}
	if config.Ports.BackendRange == (resolver.PortRange{}) {
		config.Ports.BackendRange = defaults.Ports.BackendRange
	}
	if config.Ports.FrontendRange == (resolver.PortRange{}) {
		config.Ports.FrontendRange = defaults.Ports.FrontendRange
	}

	for _, service := range []*ServiceConfig{&config.Backend, &config.Frontend} {
		if service.StartupTimeout == 0 {
			service.StartupTimeout = supervisor.DefaultStartupTimeout
		}
	}

	if config.Preflight.CheckTimeout == 0 {
		config.Preflight.CheckTimeout = defaultCheckTimeout
	}

	health := &config.Health
	if health.Path == "" {
		health.Path = defaults.Health.Path
	}
	if health.Timeout == 0 {
		health.Timeout = defaults.Health.Timeout
	}
	if health.Attempts == 0 {
		health.Attempts = defaults.Health.Attempts
	}
	if health.BackendOnlyTries == 0 {
		health.BackendOnlyTries = defaults.Health.BackendOnlyTries
	}
	if health.Interval == 0 {
		health.Interval = defaults.Health.Interval
	}
	if health.LivenessInterval == 0 {
		health.LivenessInterval = defaults.Health.LivenessInterval
	}

	if config.Shutdown.Timeout == 0 {
		config.Shutdown.Timeout = defaultShutdownTimeout
	}
	if config.Shutdown.KillGrace == 0 {
		config.Shutdown.KillGrace = supervisor.DefaultKillGrace
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Logging.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Logging.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Logging.Output
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *LauncherConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validatePortsConfig(config.Ports); err != nil {
		return errors.NewValidationError("invalid ports configuration", err)
	}

	if err := validateServiceConfig(config.Backend); err != nil {
		return errors.NewValidationError("invalid backend configuration", err)
	}
	if err := validateServiceConfig(config.Frontend); err != nil {
		return errors.NewValidationError("invalid frontend configuration", err)
	}

	for i, check := range config.Preflight.Dependencies {
		if check.Name == "" || check.Command == "" {
			return errors.NewValidationError(fmt.Sprintf("dependency check %d needs a name and a command", i), nil)
		}
	}

	if err := monitoring.ValidateHealthCheckRunOptions(config.Health); err != nil {
		return errors.NewValidationError("invalid health configuration", err)
	}

	if config.Shutdown.GraceDelay < 0 || config.Shutdown.Timeout < 0 || config.Shutdown.KillGrace < 0 {
		return errors.NewValidationError("shutdown delays cannot be negative", nil)
	}
	if config.Shutdown.KillGrace >= config.Shutdown.Timeout {
		return errors.NewValidationError("shutdown kill grace must be shorter than the shutdown timeout", nil).
			WithContext("kill_grace", config.Shutdown.KillGrace).
			WithContext("timeout", config.Shutdown.Timeout)
	}

	for _, status := range config.StatusPorts {
		if !validPort(status.Port) {
			return errors.NewValidationError("invalid status port", nil).WithContext("port", status.Port)
		}
	}

	return nil
}

func validatePortsConfig(ports PortsConfig) error {
	if !validPort(ports.Backend) || !validPort(ports.Frontend) {
		return errors.NewValidationError("ports must be between 1 and 65535", nil).
			WithContext("backend", ports.Backend).
			WithContext("frontend", ports.Frontend)
	}
	if ports.Backend == ports.Frontend {
		return errors.NewValidationError("backend and frontend ports must differ", nil).WithContext("port", ports.Backend)
	}
	for _, r := range []resolver.PortRange{ports.BackendRange, ports.FrontendRange} {
		if !validPort(r.Start) || !validPort(r.End) || r.Start > r.End {
			return errors.NewValidationError(fmt.Sprintf("invalid port range %d-%d", r.Start, r.End), nil)
		}
	}
	if ports.SettleDelay < 0 {
		return errors.NewValidationError("settle delay cannot be negative", nil)
	}
	return nil
}

func validateServiceConfig(service ServiceConfig) error {
	if service.Execution.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required", nil)
	}
	if service.EnvFile == "" {
		return errors.NewValidationError("env file is required", nil)
	}
	if len(service.ReadinessMarkers) == 0 {
		return errors.NewValidationError("at least one readiness marker is required", nil)
	}
	for _, stream := range service.ReadinessStreams {
		if stream != supervisor.StreamStdout && stream != supervisor.StreamStderr {
			return errors.NewValidationError("unknown readiness stream: "+string(stream), nil)
		}
	}
	if service.StartupTimeout < 0 {
		return errors.NewValidationError("startup timeout cannot be negative", nil)
	}
	return nil
}

func validPort(port int) bool {
	return port >= portprobe.MinPort && port <= portprobe.MaxPort
}
