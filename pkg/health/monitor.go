// Package health tracks per-device connection health and drives the
// reconnection state machine with exponential backoff.
package health

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aesdetic/ledmesh/pkg/config"
	"github.com/aesdetic/ledmesh/pkg/models"
	"github.com/aesdetic/ledmesh/pkg/probe"
)

const (
	defaultCheckInterval    = 15 * time.Second
	defaultFastInterval     = 3 * time.Second
	defaultBaseDelay        = 2 * time.Second
	defaultMaxDelay         = 60 * time.Second
	defaultMultiplier       = 2.0
	defaultMaxRetries       = 5
	defaultFailureThreshold = 3
	defaultHistorySize      = 50
)

// Config holds monitor settings. Zero values select the defaults.
type Config struct {
	// CheckInterval is the full-sweep cadence covering every device.
	CheckInterval config.Duration `json:"check_interval"`
	// FastInterval is the cadence for devices already showing failures, so
	// recovery is noticed without polling healthy devices harder.
	FastInterval      config.Duration `json:"fast_interval"`
	BaseDelay         config.Duration `json:"base_delay"`
	BackoffMultiplier float64         `json:"backoff_multiplier"`
	MaxDelay          config.Duration `json:"max_delay"`
	MaxRetries        int             `json:"max_retries"`
	FailureThreshold  int             `json:"failure_threshold"`
	HistorySize       int             `json:"history_size"`
}

func (c *Config) checkInterval() time.Duration { return c.CheckInterval.AsDuration(defaultCheckInterval) }
func (c *Config) fastInterval() time.Duration  { return c.FastInterval.AsDuration(defaultFastInterval) }
func (c *Config) baseDelay() time.Duration     { return c.BaseDelay.AsDuration(defaultBaseDelay) }
func (c *Config) maxDelay() time.Duration      { return c.MaxDelay.AsDuration(defaultMaxDelay) }

func (c *Config) multiplier() float64 {
	if c.BackoffMultiplier <= 0 {
		return defaultMultiplier
	}

	return c.BackoffMultiplier
}

func (c *Config) maxRetries() int {
	if c.MaxRetries <= 0 {
		return defaultMaxRetries
	}

	return c.MaxRetries
}

func (c *Config) failureThreshold() int {
	if c.FailureThreshold <= 0 {
		return defaultFailureThreshold
	}

	return c.FailureThreshold
}

func (c *Config) historySize() int {
	if c.HistorySize <= 0 {
		return defaultHistorySize
	}

	return c.HistorySize
}

type deviceHealth struct {
	device      models.Device
	state       models.HealthState
	failures    int
	attempts    int
	lastAttempt time.Time
	nextRetry   time.Time
	status      string
	history     *attemptRing
	probing     bool // serializes probes per device
	retryTimer  *time.Timer
}

// Monitor owns all per-device health state. Probes run concurrently across
// devices but are serialized per device.
type Monitor struct {
	cfg    Config
	prober probe.Prober
	log    zerolog.Logger

	mu        sync.RWMutex
	devices   map[string]*deviceHealth
	suspended bool // host network is down; all retries parked

	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMonitor creates a health monitor. It does nothing until Start.
func NewMonitor(cfg Config, prober probe.Prober, log zerolog.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		prober:  prober,
		log:     log,
		devices: make(map[string]*deviceHealth),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Start runs the two sweep cadences until the context is cancelled or Stop
// is called.
func (m *Monitor) Start(ctx context.Context) error {
	fullTicker := time.NewTicker(m.cfg.checkInterval())
	defer fullTicker.Stop()

	fastTicker := time.NewTicker(m.cfg.fastInterval())
	defer fastTicker.Stop()

	m.sweep(ctx, false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-fullTicker.C:
			m.sweep(ctx, false)
		case <-fastTicker.C:
			m.sweep(ctx, true)
		}
	}
}

// Stop halts sweeps and cancels all reconnect timers.
func (m *Monitor) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		defer m.mu.Unlock()

		for _, dh := range m.devices {
			stopTimer(dh)
		}
	})

	return nil
}

// RegisterDevice begins tracking a device. Re-registering updates the
// address without resetting health state.
func (m *Monitor) RegisterDevice(device models.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dh, ok := m.devices[device.ID]; ok {
		dh.device = device
		return
	}

	m.devices[device.ID] = &deviceHealth{
		device:  device,
		state:   models.StateMonitoring,
		status:  "online",
		history: newAttemptRing(m.cfg.historySize()),
	}
}

// UnregisterDevice stops tracking a device, cancelling its timers.
func (m *Monitor) UnregisterDevice(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dh, ok := m.devices[id]; ok {
		stopTimer(dh)
		delete(m.devices, id)
	}
}

// ForceHealthCheck probes every tracked device immediately, bypassing the
// sweep schedule.
func (m *Monitor) ForceHealthCheck(ctx context.Context) {
	for _, id := range m.trackedIDs() {
		go m.checkDevice(ctx, id)
	}
}

// ForceReconnection resets a device's attempt counter and retries
// immediately, including from the exhausted state.
func (m *Monitor) ForceReconnection(id string) error {
	m.mu.Lock()

	dh, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return ErrDeviceNotTracked
	}

	stopTimer(dh)

	dh.state = models.StateReconnecting
	dh.attempts = 0
	dh.status = "offline - reconnecting now"

	m.mu.Unlock()

	go m.attemptReconnect(id)

	return nil
}

// IsOnline reports the device's aggregate online flag. Unknown devices are
// offline.
func (m *Monitor) IsOnline(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dh, ok := m.devices[id]
	if !ok {
		return false
	}

	return dh.state == models.StateMonitoring || dh.state == models.StateDegraded
}

// GetStatus returns the synchronous view of one device's health.
func (m *Monitor) GetStatus(id string) (models.HealthSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dh, ok := m.devices[id]
	if !ok {
		return models.HealthSnapshot{}, ErrDeviceNotTracked
	}

	return models.HealthSnapshot{
		DeviceID:    id,
		State:       dh.state,
		Online:      dh.state == models.StateMonitoring || dh.state == models.StateDegraded,
		Failures:    dh.failures,
		Attempts:    dh.attempts,
		Exhausted:   dh.state == models.StateExhausted,
		Status:      dh.status,
		LastAttempt: dh.lastAttempt,
		NextRetry:   dh.nextRetry,
	}, nil
}

// GetConnectionHistory returns the bounded attempt log, newest first.
func (m *Monitor) GetConnectionHistory(id string) ([]models.ConnectionAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	dh, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotTracked
	}

	return dh.history.List(), nil
}

// SetNetworkAvailable force-transitions every device on host connectivity
// changes. Loss marks all devices offline and parks every retry timer;
// restoration resumes normal checks from monitoring.
func (m *Monitor) SetNetworkAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.suspended = !available

	for _, dh := range m.devices {
		stopTimer(dh)

		if available {
			dh.state = models.StateMonitoring
			dh.failures = 0
			dh.attempts = 0
			dh.status = "online"
		} else {
			dh.state = models.StateOffline
			dh.status = "offline - network unavailable"
		}
	}
}

func (m *Monitor) trackedIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}

	return ids
}

// sweep probes tracked devices. A fast sweep is restricted to devices
// already showing at least one consecutive failure.
func (m *Monitor) sweep(ctx context.Context, fastOnly bool) {
	m.mu.RLock()

	if m.suspended {
		m.mu.RUnlock()
		return
	}

	var ids []string

	for id, dh := range m.devices {
		if dh.state != models.StateMonitoring && dh.state != models.StateDegraded {
			continue
		}

		if fastOnly && dh.failures == 0 {
			continue
		}

		ids = append(ids, id)
	}

	m.mu.RUnlock()

	for _, id := range ids {
		go m.checkDevice(ctx, id)
	}
}

func (m *Monitor) checkDevice(ctx context.Context, id string) {
	m.mu.Lock()

	dh, ok := m.devices[id]
	if !ok || dh.probing || m.suspended {
		m.mu.Unlock()
		return
	}

	if dh.state != models.StateMonitoring && dh.state != models.StateDegraded {
		m.mu.Unlock()
		return
	}

	dh.probing = true
	host := dh.device.Host

	m.mu.Unlock()

	result := m.prober.Check(ctx, host)

	m.mu.Lock()
	defer m.mu.Unlock()

	dh, ok = m.devices[id]
	if !ok {
		return
	}

	dh.probing = false

	m.recordAttempt(dh, result)

	if result.Outcome == models.OutcomeSuccess {
		m.toMonitoring(dh)
		return
	}

	dh.failures++

	if dh.failures < m.cfg.failureThreshold() {
		dh.state = models.StateDegraded
		dh.status = fmt.Sprintf("degraded - %d consecutive failures", dh.failures)

		return
	}

	// Third consecutive failure: offline, reconnection begins immediately.
	m.log.Info().Str("device", id).Int("failures", dh.failures).Msg("device offline, starting reconnection")

	dh.state = models.StateReconnecting
	dh.attempts = 0

	m.scheduleRetryLocked(id, dh, m.cfg.baseDelay())
}

func (m *Monitor) attemptReconnect(id string) {
	m.mu.Lock()

	dh, ok := m.devices[id]
	if !ok || dh.probing || m.suspended || dh.state != models.StateReconnecting {
		m.mu.Unlock()
		return
	}

	dh.probing = true
	host := dh.device.Host

	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.baseDelay())
	result := m.prober.Check(ctx, host)

	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()

	dh, ok = m.devices[id]
	if !ok {
		return
	}

	dh.probing = false

	m.recordAttempt(dh, result)

	if result.Outcome == models.OutcomeSuccess {
		m.log.Info().Str("device", id).Int("attempts", dh.attempts).Msg("device reconnected")
		m.toMonitoring(dh)

		return
	}

	dh.attempts++

	if dh.attempts >= m.cfg.maxRetries() {
		dh.state = models.StateExhausted
		dh.status = fmt.Sprintf("offline - gave up after %d attempts", dh.attempts)
		dh.nextRetry = time.Time{}

		m.log.Warn().Str("device", id).Msg("reconnection attempts exhausted")

		return
	}

	m.scheduleRetryLocked(id, dh, m.retryDelay(dh.attempts))
}

// retryDelay computes min(baseDelay * multiplier^attempt, maxDelay).
func (m *Monitor) retryDelay(attempt int) time.Duration {
	delay := time.Duration(float64(m.cfg.baseDelay()) * math.Pow(m.cfg.multiplier(), float64(attempt)))

	if maxDelay := m.cfg.maxDelay(); delay > maxDelay {
		return maxDelay
	}

	return delay
}

func (m *Monitor) scheduleRetryLocked(id string, dh *deviceHealth, delay time.Duration) {
	dh.nextRetry = m.now().Add(delay)
	dh.status = fmt.Sprintf("offline - reconnecting in %s (attempt %d/%d)",
		delay.Round(time.Second), dh.attempts+1, m.cfg.maxRetries())

	dh.retryTimer = time.AfterFunc(delay, func() {
		m.attemptReconnect(id)
	})
}

func (m *Monitor) toMonitoring(dh *deviceHealth) {
	stopTimer(dh)

	dh.state = models.StateMonitoring
	dh.failures = 0
	dh.attempts = 0
	dh.status = "online"
	dh.nextRetry = time.Time{}
}

func (m *Monitor) recordAttempt(dh *deviceHealth, result *models.ProbeResult) {
	dh.lastAttempt = m.now()

	attempt := models.ConnectionAttempt{
		Timestamp: dh.lastAttempt,
		Success:   result.Outcome == models.OutcomeSuccess,
		RespTime:  result.RespTime,
	}

	if result.Error != nil {
		attempt.Error = result.Error.Error()
	}

	dh.history.Add(attempt)
}

func stopTimer(dh *deviceHealth) {
	if dh.retryTimer != nil {
		dh.retryTimer.Stop()
		dh.retryTimer = nil
	}
}
