package launcher

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/errors"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/sync/errgroup"
)

// Preflight checks that the project files the children need are present
func (l *Launcher) Preflight() error {
	l.logger.Infof("Running preflight checks...")

	for _, file := range l.config.Preflight.RequiredFiles {
		path := resolvePath(l.root, file)
		if _, err := os.Stat(path); err != nil {
			return errors.NewPreflightError("required file missing: "+file, err).WithContext("path", path)
		}
	}

	fmt.Fprintln(l.out, text.FgGreen.Sprint("✓ Preflight checks passed"))
	return nil
}

// CheckDependencies runs every version command concurrently and reports all missing tools at once.
// Tools that did not answer within the check timeout are reported as a timeout instead.
func (l *Launcher) CheckDependencies(ctx context.Context) error {
	checks := l.config.Preflight.Dependencies
	if len(checks) == 0 {
		return nil
	}

	stop := l.startSpinner(" Checking dependencies...")

	ctx, cancel := context.WithTimeout(ctx, l.config.Preflight.CheckTimeout)
	defer cancel()

	versions := make([]string, len(checks))
	failures := make([]error, len(checks))
	timedOut := make([]bool, len(checks))
	var mutex sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, check := range checks {
		i, check := i, check
		g.Go(func() error {
			output, err := l.runCommand(gctx, check.Command, check.Args...)
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				failures[i] = err
				timedOut[i] = gctx.Err() != nil
				return nil
			}
			versions[i] = firstLine(string(output))
			return nil
		})
	}
	_ = g.Wait()
	stop()

	var missing, slow []string
	for i, check := range checks {
		if timedOut[i] {
			l.logger.Debugf("%s check timed out: %v", check.Name, failures[i])
			fmt.Fprintln(l.out, text.FgRed.Sprintf("✗ %s did not answer within %v", check.Name, l.config.Preflight.CheckTimeout))
			slow = append(slow, check.Name)
			continue
		}
		if failures[i] != nil {
			l.logger.Debugf("%s check failed: %v", check.Name, failures[i])
			fmt.Fprintln(l.out, text.FgRed.Sprintf("✗ %s is not available", check.Name))
			missing = append(missing, check.Name)
			continue
		}
		fmt.Fprintln(l.out, text.FgGreen.Sprintf("✓ %s is available %s", check.Name, versions[i]))
	}

	if len(missing) == 0 && len(slow) > 0 {
		return errors.NewTimeoutError(strings.Join(slow, ", ")+" did not answer the version check", ctx.Err()).
			WithContext("timeout", l.config.Preflight.CheckTimeout)
	}
	missing = append(missing, slow...)
	if len(missing) > 0 {
		return errors.NewPreflightError(strings.Join(missing, ", ")+" required but not found", nil).
			WithContext("missing", missing)
	}
	return nil
}

// startSpinner animates only on a real terminal file; the returned func stops it
func (l *Launcher) startSpinner(suffix string) func() {
	file, ok := l.out.(*os.File)
	if !ok {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriterFile(file))
	s.Suffix = suffix
	s.Start()
	return s.Stop
}

func firstLine(output string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(line)
}
