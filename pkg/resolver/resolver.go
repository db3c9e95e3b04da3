package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
	"github.com/core-tools/hsu-launcher/pkg/portprobe"
)

// Strategy is the way a set of port conflicts gets settled
type Strategy string

const (
	StrategyUseDesired  Strategy = "use-desired"
	StrategyKill        Strategy = "kill"
	StrategyAlternative Strategy = "alternative"
	StrategyAbort       Strategy = "abort"
	StrategyAsk         Strategy = "ask"
)

// ParseStrategy accepts the strategies an operator may preselect
func ParseStrategy(value string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(value))); s {
	case StrategyAsk, StrategyKill, StrategyAlternative, StrategyAbort:
		return s, nil
	}
	return "", errors.NewValidationError("unknown conflict strategy: "+value, nil)
}

// Conflict is a desired port that is already taken
type Conflict struct {
	Role domain.Role
	Port int
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s port %d", c.Role, c.Port)
}

// PortRange is an inclusive range searched for alternative ports
type PortRange struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// ProcessInspector locates and kills port owners
type ProcessInspector interface {
	FindProcessOnPort(ctx context.Context, port int) (int, bool)
	TerminateProcess(ctx context.Context, pid int) bool
}

// Chooser picks a strategy when conflicts cannot be settled automatically
type Chooser interface {
	Choose(ctx context.Context, conflicts []Conflict) (Strategy, error)
}

// FixedChooser always answers with the same strategy
type FixedChooser Strategy

func (f FixedChooser) Choose(ctx context.Context, conflicts []Conflict) (Strategy, error) {
	return Strategy(f), nil
}

// Observer is notified of every conflict and the strategy that settled it
type Observer func(role domain.Role, resolution Strategy)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	BackendRange  PortRange
	FrontendRange PortRange
	SettleDelay   time.Duration
}

// DefaultOptions mirrors the stock backend and frontend layout
func DefaultOptions() Options {
	return Options{
		BackendRange:  PortRange{Start: 9000, End: 9999},
		FrontendRange: PortRange{Start: 3000, End: 3999},
		SettleDelay:   2 * time.Second,
	}
}

type Resolver struct {
	prober    portprobe.Prober
	inspector ProcessInspector
	chooser   Chooser
	options   Options
	sleep     SleepFunc
	observer  Observer
	logger    logging.Logger
}

func NewResolver(prober portprobe.Prober, inspector ProcessInspector, chooser Chooser, options Options, logger logging.Logger) *Resolver {
	return &Resolver{
		prober:    prober,
		inspector: inspector,
		chooser:   chooser,
		options:   options,
		sleep:     sleepContext,
		logger:    logger,
	}
}

func (r *Resolver) SetSleep(sleep SleepFunc) {
	r.sleep = sleep
}

func (r *Resolver) SetObserver(observer Observer) {
	r.observer = observer
}

// DecideResolutionStrategy is the pure part of conflict handling:
// no conflicts keeps the desired ports, auto-kill kills, anything else needs a choice.
func DecideResolutionStrategy(conflicts []Conflict, autoKill bool) Strategy {
	if len(conflicts) == 0 {
		return StrategyUseDesired
	}
	if autoKill {
		return StrategyKill
	}
	return StrategyAsk
}

// Resolve returns the ports to launch with.
// Free desired ports are returned untouched. With autoKill the owners are killed first and
// the ports re-probed; whatever is still blocked goes to the chooser.
func (r *Resolver) Resolve(ctx context.Context, desired domain.PortAssignment, autoKill bool) (domain.PortAssignment, error) {
	r.logger.Infof("Checking port availability, %s", desired)

	conflicts := r.findConflicts(desired)
	strategy := DecideResolutionStrategy(conflicts, autoKill)

	switch strategy {
	case StrategyUseDesired:
		r.logger.Infof("All desired ports are available, %s", desired)
		return desired, nil
	case StrategyKill:
		r.logger.Warnf("Port conflicts detected, auto-killing owners: %s", describe(conflicts))
		if err := r.killAndSettle(ctx, conflicts); err != nil {
			return domain.PortAssignment{}, err
		}
		remaining := r.findConflicts(desired)
		if len(remaining) == 0 {
			r.observe(conflicts, StrategyKill)
			r.logger.Infof("Ports freed, %s", desired)
			return desired, nil
		}
		r.logger.Warnf("Ports still in use after auto-kill: %s", describe(remaining))
		conflicts = remaining
	}

	choice, err := r.chooser.Choose(ctx, conflicts)
	if err != nil {
		return domain.PortAssignment{}, errors.NewInternalError("failed to choose conflict strategy", err)
	}
	r.logger.Infof("Conflict strategy chosen: %s", choice)

	return r.apply(ctx, desired, conflicts, choice)
}

func (r *Resolver) apply(ctx context.Context, desired domain.PortAssignment, conflicts []Conflict, choice Strategy) (domain.PortAssignment, error) {
	switch choice {
	case StrategyKill:
		if err := r.killAndSettle(ctx, conflicts); err != nil {
			return domain.PortAssignment{}, err
		}
		if remaining := r.findConflicts(desired); len(remaining) > 0 {
			return domain.PortAssignment{}, errors.NewPortResolutionError(
				"ports still in use after killing their owners: "+describe(remaining), nil)
		}
		r.observe(conflicts, StrategyKill)
		return desired, nil

	case StrategyAlternative:
		resolved, err := r.findAlternatives(desired, conflicts)
		if err != nil {
			return domain.PortAssignment{}, err
		}
		r.observe(conflicts, StrategyAlternative)
		r.logger.Infof("Using alternative ports, %s", resolved)
		return resolved, nil

	default:
		r.observe(conflicts, StrategyAbort)
		return domain.PortAssignment{}, errors.NewAbortedError("port conflicts left for manual handling: "+describe(conflicts), nil)
	}
}

func (r *Resolver) findConflicts(ports domain.PortAssignment) []Conflict {
	var conflicts []Conflict
	for _, role := range domain.Roles {
		port := ports.Port(role)
		if !r.prober.IsAvailable(port) {
			r.logger.Warnf("Port %d (%s) is in use", port, role)
			conflicts = append(conflicts, Conflict{Role: role, Port: port})
		}
	}
	return conflicts
}

// killAndSettle kills each conflicting port's owner once, then waits for the OS to release the ports
func (r *Resolver) killAndSettle(ctx context.Context, conflicts []Conflict) error {
	for _, conflict := range conflicts {
		pid, found := r.inspector.FindProcessOnPort(ctx, conflict.Port)
		if !found {
			r.logger.Warnf("Could not identify the process on port %d", conflict.Port)
			continue
		}
		r.logger.Infof("Killing process on port %d, pid: %d", conflict.Port, pid)
		if !r.inspector.TerminateProcess(ctx, pid) {
			r.logger.Warnf("Failed to kill process on port %d, pid: %d", conflict.Port, pid)
		}
	}
	return r.sleep(ctx, r.options.SettleDelay)
}

func (r *Resolver) findAlternatives(desired domain.PortAssignment, conflicts []Conflict) (domain.PortAssignment, error) {
	resolved := desired
	for _, conflict := range conflicts {
		other := otherRole(conflict.Role)
		taken := resolved.Port(other)
		prober := portprobe.ProberFunc(func(port int) bool {
			return port != taken && r.prober.IsAvailable(port)
		})

		portRange := r.rangeFor(conflict.Role)
		port, err := portprobe.FindAvailablePort(prober, portRange.Start, portRange.End)
		if err != nil {
			return domain.PortAssignment{}, errors.NewPortResolutionError(
				fmt.Sprintf("no alternative %s port", conflict.Role), err).
				WithContext("role", string(conflict.Role))
		}
		r.logger.Infof("Alternative %s port: %d", conflict.Role, port)
		resolved = resolved.WithPort(conflict.Role, port)
	}
	return resolved, nil
}

func (r *Resolver) rangeFor(role domain.Role) PortRange {
	if role == domain.RoleFrontend {
		return r.options.FrontendRange
	}
	return r.options.BackendRange
}

func (r *Resolver) observe(conflicts []Conflict, resolution Strategy) {
	if r.observer == nil {
		return
	}
	for _, conflict := range conflicts {
		r.observer(conflict.Role, resolution)
	}
}

func otherRole(role domain.Role) domain.Role {
	if role == domain.RoleFrontend {
		return domain.RoleBackend
	}
	return domain.RoleFrontend
}

func describe(conflicts []Conflict) string {
	parts := make([]string, 0, len(conflicts))
	for _, conflict := range conflicts {
		parts = append(parts, conflict.String())
	}
	return strings.Join(parts, ", ")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.NewCancelledError("port settle wait cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}
