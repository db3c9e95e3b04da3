package monitoring

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/logging"

	"k8s.io/apimachinery/pkg/util/wait"
)

const (
	DefaultHealthPath       = "/api/health"
	DefaultRequestTimeout   = 2 * time.Second
	DefaultAttempts         = 30
	DefaultBackendOnlyTries = 20
	DefaultInterval         = time.Second
	DefaultLivenessInterval = 30 * time.Second
)

type HealthCheckRunOptions struct {
	Path             string        `yaml:"path,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
	Attempts         int           `yaml:"attempts,omitempty"`
	BackendOnlyTries int           `yaml:"backend_only_attempts,omitempty"`
	Interval         time.Duration `yaml:"interval,omitempty"`
	LivenessInterval time.Duration `yaml:"liveness_interval,omitempty"`
}

func DefaultHealthCheckRunOptions() HealthCheckRunOptions {
	return HealthCheckRunOptions{
		Path:             DefaultHealthPath,
		Timeout:          DefaultRequestTimeout,
		Attempts:         DefaultAttempts,
		BackendOnlyTries: DefaultBackendOnlyTries,
		Interval:         DefaultInterval,
		LivenessInterval: DefaultLivenessInterval,
	}
}

// Checker probes a health endpoint once
type Checker interface {
	Check(ctx context.Context, url string) (bool, string)
}

// HTTPChecker treats only a 200 response as healthy
type HTTPChecker struct {
	client *http.Client
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPChecker{client: &http.Client{Timeout: timeout}}
}

func (c *HTTPChecker) Check(ctx context.Context, url string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Sprintf("Failed to create HTTP request: %v", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return true, fmt.Sprintf("HTTP health check passed: %s", resp.Status)
	}
	return false, fmt.Sprintf("HTTP health check failed: %s", resp.Status)
}

type WaitOptions struct {
	Attempts int
	Interval time.Duration
}

var errAttemptsExhausted = stderrors.New("health check attempts exhausted")

// WaitHealthy polls url until it reports healthy, the attempts run out, or ctx ends.
// The first attempt is made immediately.
func WaitHealthy(ctx context.Context, checker Checker, url string, options WaitOptions, logger logging.Logger) bool {
	if options.Attempts <= 0 {
		options.Attempts = DefaultAttempts
	}
	if options.Interval <= 0 {
		options.Interval = DefaultInterval
	}

	logger.Infof("Waiting for %s to become healthy, attempts: %d, interval: %v", url, options.Attempts, options.Interval)

	attempt := 0
	err := wait.PollUntilContextCancel(ctx, options.Interval, true, func(pollCtx context.Context) (bool, error) {
		attempt++
		healthy, message := checker.Check(pollCtx, url)
		if healthy {
			logger.Infof("Health check passed, url: %s, attempt: %d", url, attempt)
			return true, nil
		}
		logger.Debugf("Health check attempt %d/%d failed, url: %s, message: %s", attempt, options.Attempts, url, message)
		if attempt >= options.Attempts {
			return false, errAttemptsExhausted
		}
		return false, nil
	})
	if err != nil {
		logger.Warnf("Health check did not pass, url: %s, attempts: %d, error: %v", url, attempt, err)
		return false
	}
	return true
}
