package main

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/launcher"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/resolver"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Kill           bool   `short:"k" long:"kill" description:"Kill processes holding the preferred ports"`
	BackendOnly    bool   `short:"b" long:"backend-only" description:"Start only the backend server"`
	Config         string `short:"c" long:"config" description:"YAML configuration file"`
	Root           string `long:"root" default:"." description:"Project root directory"`
	OnConflict     string `long:"on-conflict" default:"ask" choice:"ask" choice:"kill" choice:"alternative" choice:"abort" description:"Answer to give when ports are taken"`
	Status         bool   `short:"s" long:"status" description:"Show which well-known ports are in use and exit"`
	LogLevel       string `long:"log-level" description:"Log level (debug, info, warn, error)"`
	LogFormat      string `long:"log-format" choice:"console" choice:"json" description:"Log encoding"`
	MetricsAddress string `long:"metrics-address" description:"Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	var opts flagOptions
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	parser.Usage = "[OPTIONS]\n\nSmart launcher for the Private Lawyer Bot: resolves port conflicts, writes env files and starts the backend and frontend."
	_, err := parser.ParseArgs(argv)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(flagsErr.Message)
			return 0
		}
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		return 1
	}

	config, err := loadConfig(opts)
	if err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		return 1
	}

	logger, syncLogger, err := logging.NewZapLogger("launcher", config.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		return 1
	}
	defer syncLogger()

	l := launcher.NewLauncher(config, opts.Root, logger)
	ctx := context.Background()

	if opts.Status {
		if err := l.Status(ctx, os.Stdout); err != nil {
			logger.Errorf("Status check failed: %v", err)
			return 1
		}
		return 0
	}

	strategy, err := resolver.ParseStrategy(opts.OnConflict)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}

	err = l.Run(ctx, launcher.Options{
		AutoKill:    opts.Kill,
		BackendOnly: opts.BackendOnly,
		OnConflict:  strategy,
	})
	switch {
	case err == nil:
	case errors.IsAbortedError(err) || errors.IsCancelledError(err):
		logger.Infof("Exiting: %v", err)
	case errors.IsFatal(err):
		logger.Errorf("Fatal error: %v", err)
		logger.Warnf("Run with --status to see which processes hold the ports")
	default:
		logger.Errorf("Launch stopped: %v", err)
	}
	return launcher.ExitCode(err)
}

func loadConfig(opts flagOptions) (*launcher.LauncherConfig, error) {
	config := launcher.DefaultConfig(runtime.GOOS)
	if opts.Config != "" {
		var err error
		if config, err = launcher.LoadConfigFromFile(opts.Config); err != nil {
			return nil, err
		}
	}

	if opts.LogLevel != "" {
		config.Logging.Level = opts.LogLevel
	}
	if opts.LogFormat != "" {
		config.Logging.Format = opts.LogFormat
	}
	if opts.MetricsAddress != "" {
		config.Metrics.Address = opts.MetricsAddress
	}

	if err := launcher.ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}
