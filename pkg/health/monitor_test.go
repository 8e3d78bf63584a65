package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/aesdetic/ledmesh/pkg/config"
	"github.com/aesdetic/ledmesh/pkg/logger"
	"github.com/aesdetic/ledmesh/pkg/models"
	"github.com/aesdetic/ledmesh/pkg/probe"
)

const testDeviceID = "AA:BB:CC:DD:EE:FF"

// testMonitor uses an hour-long base delay so no retry timer fires during a
// test; reconnect attempts are driven by calling attemptReconnect directly.
func testMonitor(t *testing.T, prober probe.Prober) *Monitor {
	t.Helper()

	m := NewMonitor(Config{
		BaseDelay:         config.Duration(time.Hour),
		BackoffMultiplier: 2.0,
		MaxDelay:          config.Duration(2 * time.Hour),
		MaxRetries:        5,
		FailureThreshold:  3,
		HistorySize:       10,
	}, prober, logger.NewTestLogger())

	t.Cleanup(func() {
		_ = m.Stop(context.Background())
	})

	m.RegisterDevice(models.Device{ID: testDeviceID, Host: "192.168.1.40"})

	return m
}

func okCheck(host string) *models.ProbeResult {
	return &models.ProbeResult{Host: host, Outcome: models.OutcomeSuccess, RespTime: 5 * time.Millisecond}
}

func failedCheck(host string) *models.ProbeResult {
	return &models.ProbeResult{Host: host, Outcome: models.OutcomeTimeout, Error: errors.New("timed out")}
}

func TestRegisterDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := testMonitor(t, probe.NewMockProber(ctrl))

	status, err := m.GetStatus(testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, models.StateMonitoring, status.State)
	assert.True(t, status.Online)
	assert.True(t, m.IsOnline(testDeviceID))
}

func TestRegisterDeviceKeepsHealthState(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)
	m := testMonitor(t, prober)

	prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(failedCheck("192.168.1.40"))

	m.checkDevice(context.Background(), testDeviceID)

	// Rediscovery at a new address must not wipe the failure count.
	m.RegisterDevice(models.Device{ID: testDeviceID, Host: "192.168.1.99"})

	status, err := m.GetStatus(testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failures)
	assert.Equal(t, models.StateDegraded, status.State)
}

func TestFailureProgression(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)
	m := testMonitor(t, prober)

	prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(failedCheck("192.168.1.40")).Times(3)

	// First two failures degrade but keep the device online.
	m.checkDevice(context.Background(), testDeviceID)

	status, _ := m.GetStatus(testDeviceID)
	assert.Equal(t, models.StateDegraded, status.State)
	assert.True(t, status.Online, "one failure must not mark the device offline")

	m.checkDevice(context.Background(), testDeviceID)

	status, _ = m.GetStatus(testDeviceID)
	assert.Equal(t, models.StateDegraded, status.State)
	assert.Equal(t, 2, status.Failures)
	assert.True(t, status.Online)

	// Third consecutive failure flips to reconnecting.
	m.checkDevice(context.Background(), testDeviceID)

	status, _ = m.GetStatus(testDeviceID)
	assert.Equal(t, models.StateReconnecting, status.State)
	assert.False(t, status.Online)
	assert.False(t, m.IsOnline(testDeviceID))
	assert.False(t, status.NextRetry.IsZero(), "a retry must be scheduled")
}

func TestSuccessResetsFailureCount(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)
	m := testMonitor(t, prober)

	gomock.InOrder(
		prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(failedCheck("192.168.1.40")).Times(2),
		prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(okCheck("192.168.1.40")),
	)

	m.checkDevice(context.Background(), testDeviceID)
	m.checkDevice(context.Background(), testDeviceID)
	m.checkDevice(context.Background(), testDeviceID)

	status, err := m.GetStatus(testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, models.StateMonitoring, status.State)
	assert.Equal(t, 0, status.Failures, "success must clear consecutive failures")
	assert.Equal(t, "online", status.Status)
}

func TestReconnectionExhaustion(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)
	m := testMonitor(t, prober)

	// 3 sweep failures to enter reconnecting, then 5 failed retries.
	prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(failedCheck("192.168.1.40")).Times(8)

	for i := 0; i < 3; i++ {
		m.checkDevice(context.Background(), testDeviceID)
	}

	for i := 0; i < 5; i++ {
		m.attemptReconnect(testDeviceID)
	}

	status, err := m.GetStatus(testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, models.StateExhausted, status.State)
	assert.True(t, status.Exhausted)
	assert.Equal(t, 5, status.Attempts)
	assert.Contains(t, status.Status, "gave up after 5 attempts")
	assert.True(t, status.NextRetry.IsZero(), "no retry may remain scheduled after exhaustion")

	// Exhausted devices are left alone by further reconnect attempts.
	m.attemptReconnect(testDeviceID)

	status, _ = m.GetStatus(testDeviceID)
	assert.Equal(t, 5, status.Attempts)
}

func TestReconnectSuccessRestoresMonitoring(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)
	m := testMonitor(t, prober)

	gomock.InOrder(
		prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(failedCheck("192.168.1.40")).Times(4),
		prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(okCheck("192.168.1.40")),
	)

	for i := 0; i < 3; i++ {
		m.checkDevice(context.Background(), testDeviceID)
	}

	m.attemptReconnect(testDeviceID)
	m.attemptReconnect(testDeviceID)

	status, err := m.GetStatus(testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, models.StateMonitoring, status.State)
	assert.True(t, status.Online)
	assert.Equal(t, 0, status.Attempts)
}

func TestForceReconnectionFromExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)
	m := testMonitor(t, prober)

	prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(failedCheck("192.168.1.40")).Times(8)

	for i := 0; i < 3; i++ {
		m.checkDevice(context.Background(), testDeviceID)
	}

	for i := 0; i < 5; i++ {
		m.attemptReconnect(testDeviceID)
	}

	status, _ := m.GetStatus(testDeviceID)
	require.Equal(t, models.StateExhausted, status.State)

	prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(okCheck("192.168.1.40"))

	require.NoError(t, m.ForceReconnection(testDeviceID))

	assert.Eventually(t, func() bool {
		return m.IsOnline(testDeviceID)
	}, time.Second, 10*time.Millisecond, "forced reconnection must retry immediately")
}

func TestForceReconnectionUnknownDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := testMonitor(t, probe.NewMockProber(ctrl))

	assert.ErrorIs(t, m.ForceReconnection("11:22:33:44:55:66"), ErrDeviceNotTracked)
}

func TestRetryDelayBackoff(t *testing.T) {
	m := NewMonitor(Config{
		BaseDelay:         config.Duration(2 * time.Second),
		BackoffMultiplier: 2.0,
		MaxDelay:          config.Duration(60 * time.Second),
	}, nil, logger.NewTestLogger())

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		60 * time.Second, // capped
		60 * time.Second,
	}

	var prev time.Duration

	for attempt, expected := range want {
		got := m.retryDelay(attempt)
		assert.Equal(t, expected, got, "attempt %d", attempt)
		assert.GreaterOrEqual(t, got, prev, "delays must not decrease")

		prev = got
	}
}

func TestSetNetworkAvailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)
	m := testMonitor(t, prober)

	m.SetNetworkAvailable(false)

	status, err := m.GetStatus(testDeviceID)
	require.NoError(t, err)
	assert.Equal(t, models.StateOffline, status.State)
	assert.False(t, m.IsOnline(testDeviceID))

	// Sweeps and checks are parked while the network is down; the prober has
	// no expectations, so any call would fail the test.
	m.sweep(context.Background(), false)
	m.checkDevice(context.Background(), testDeviceID)

	m.SetNetworkAvailable(true)

	status, _ = m.GetStatus(testDeviceID)
	assert.Equal(t, models.StateMonitoring, status.State)
	assert.Equal(t, 0, status.Failures)
}

func TestUnregisterDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := testMonitor(t, probe.NewMockProber(ctrl))

	m.UnregisterDevice(testDeviceID)

	_, err := m.GetStatus(testDeviceID)
	assert.ErrorIs(t, err, ErrDeviceNotTracked)
	assert.False(t, m.IsOnline(testDeviceID))
}

func TestConnectionHistory(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)
	m := testMonitor(t, prober)

	gomock.InOrder(
		prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(failedCheck("192.168.1.40")),
		prober.EXPECT().Check(gomock.Any(), "192.168.1.40").Return(okCheck("192.168.1.40")),
	)

	m.checkDevice(context.Background(), testDeviceID)
	m.checkDevice(context.Background(), testDeviceID)

	history, err := m.GetConnectionHistory(testDeviceID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Newest first.
	assert.True(t, history[0].Success)
	assert.False(t, history[1].Success)
	assert.Equal(t, "timed out", history[1].Error)
}
