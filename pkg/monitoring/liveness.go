package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-launcher/pkg/domain"
	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

type HealthCheckStatus string

const (
	HealthCheckStatusUnknown   HealthCheckStatus = "unknown"
	HealthCheckStatusHealthy   HealthCheckStatus = "healthy"
	HealthCheckStatusDegraded  HealthCheckStatus = "degraded"
	HealthCheckStatusUnhealthy HealthCheckStatus = "unhealthy"
)

type HealthCheckState struct {
	Status               HealthCheckStatus
	LastCheck            time.Time
	Message              string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// SnapshotCallback receives every liveness result
type SnapshotCallback func(snapshot domain.HealthSnapshot)

// LivenessMonitor periodically checks the backend after startup.
// It only reports; nothing is restarted.
type LivenessMonitor struct {
	checker  Checker
	url      string
	interval time.Duration
	logger   logging.Logger

	mutex      sync.Mutex
	state      HealthCheckState
	onSnapshot SnapshotCallback

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewLivenessMonitor(checker Checker, url string, interval time.Duration, logger logging.Logger) *LivenessMonitor {
	return &LivenessMonitor{
		checker:  checker,
		url:      url,
		interval: interval,
		logger:   logger,
		state:    HealthCheckState{Status: HealthCheckStatusUnknown},
		stopChan: make(chan struct{}),
	}
}

func (m *LivenessMonitor) SetSnapshotCallback(callback SnapshotCallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onSnapshot = callback
}

func (m *LivenessMonitor) Start(ctx context.Context) error {
	if m.interval <= 0 {
		return errors.NewValidationError("liveness interval must be positive", nil).WithContext("interval", m.interval)
	}
	m.logger.Infof("Starting liveness monitor, url: %s, interval: %v", m.url, m.interval)

	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

// Stop is safe to call more than once
func (m *LivenessMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

func (m *LivenessMonitor) State() HealthCheckState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

func (m *LivenessMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCheck(ctx)
		case <-ctx.Done():
			m.logger.Debugf("Liveness monitor stopping, context done")
			return
		case <-m.stopChan:
			m.logger.Debugf("Liveness monitor stopping")
			return
		}
	}
}

func (m *LivenessMonitor) performCheck(ctx context.Context) {
	healthy, message := m.checker.Check(ctx, m.url)
	snapshot := domain.HealthSnapshot{
		Timestamp:      time.Now(),
		BackendHealthy: healthy,
		Message:        message,
	}
	callback := m.updateState(snapshot)
	if callback != nil {
		callback(snapshot)
	}
}

func (m *LivenessMonitor) updateState(snapshot domain.HealthSnapshot) SnapshotCallback {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	previousStatus := m.state.Status
	m.state.LastCheck = snapshot.Timestamp
	m.state.Message = snapshot.Message

	if snapshot.BackendHealthy {
		m.state.ConsecutiveSuccesses++
		m.state.ConsecutiveFailures = 0
		if previousStatus != HealthCheckStatusHealthy {
			m.state.Status = HealthCheckStatusHealthy
			m.logger.Infof("Backend health recovered, previous: %s", previousStatus)
		} else {
			m.logger.Debugf("Backend health check passed, consecutive_successes: %d", m.state.ConsecutiveSuccesses)
		}
		return m.onSnapshot
	}

	m.state.ConsecutiveFailures++
	m.state.ConsecutiveSuccesses = 0

	newStatus := HealthCheckStatusUnhealthy
	if m.state.ConsecutiveFailures == 1 {
		newStatus = HealthCheckStatusDegraded
	}
	m.state.Status = newStatus
	if previousStatus != newStatus {
		m.logger.Warnf("Backend health check status changed, status: %s->%s, message: %s", previousStatus, newStatus, snapshot.Message)
	} else {
		m.logger.Warnf("Backend health check failed, consecutive_failures: %d, message: %s", m.state.ConsecutiveFailures, snapshot.Message)
	}
	return m.onSnapshot
}
