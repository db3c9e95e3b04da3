package monitoring

import "github.com/core-tools/hsu-launcher/pkg/errors"

// ValidateHealthCheckRunOptions validates health check run options
func ValidateHealthCheckRunOptions(options HealthCheckRunOptions) error {
	if options.Path == "" || options.Path[0] != '/' {
		return errors.NewValidationError("health check path must start with '/'", nil).WithContext("path", options.Path)
	}

	if options.Timeout <= 0 {
		return errors.NewValidationError("health check timeout must be positive", nil)
	}

	if options.Interval <= 0 {
		return errors.NewValidationError("health check interval must be positive", nil)
	}

	if options.Attempts < 1 || options.BackendOnlyTries < 1 {
		return errors.NewValidationError("health check attempts must be at least 1", nil)
	}

	if options.LivenessInterval <= 0 {
		return errors.NewValidationError("liveness interval must be positive", nil)
	}

	if options.Timeout >= options.LivenessInterval {
		return errors.NewValidationError("health check timeout must be less than liveness interval", nil)
	}

	return nil
}
