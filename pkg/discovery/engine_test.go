package discovery

import (
	"context"
	"errors"
	"sync"
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

func testEngine(t *testing.T, prober probe.Prober) *Engine {
	t.Helper()

	cfg := Config{
		BatchWindow: config.Duration(10 * time.Millisecond),
		Exhaustive:  true,
	}

	e := NewEngine(cfg, prober, nil, logger.NewTestLogger())
	// Probing outside a full run still needs the dedup set.
	e.scanned = make(map[string]struct{})

	return e
}

func successResult(host, id string) *models.ProbeResult {
	return &models.ProbeResult{
		Host:    host,
		Outcome: models.OutcomeSuccess,
		Device: &models.Device{
			ID:        id,
			Name:      "strip",
			Host:      host,
			FirstSeen: time.Now(),
			LastSeen:  time.Now(),
		},
		Timestamp: time.Now(),
	}
}

func waitForBatch(t *testing.T, e *Engine) []models.Device {
	t.Helper()

	select {
	case batch := <-e.Results():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device batch")
		return nil
	}
}

func TestProbeAddressSkipsAlreadyScanned(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)

	prober.EXPECT().
		Probe(gomock.Any(), "192.168.1.40").
		Return(successResult("192.168.1.40", "AA:BB:CC:DD:EE:FF")).
		Times(1)

	e.probeAddress(context.Background(), "192.168.1.40")
	e.probeAddress(context.Background(), "192.168.1.40")

	stats := e.Stats()
	assert.Equal(t, int64(1), stats.Attempts)
	assert.Equal(t, int64(1), stats.Skipped)
}

func TestProbeAddressSkipsBanned(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)
	e.bans.Ban("192.168.1.40")

	e.probeAddress(context.Background(), "192.168.1.40")

	stats := e.Stats()
	assert.Equal(t, int64(0), stats.Attempts)
	assert.Equal(t, int64(1), stats.Skipped)
}

func TestProbeAddressBansTransportFailures(t *testing.T) {
	tests := []struct {
		name    string
		outcome models.ProbeOutcome
		banned  bool
	}{
		{name: "timeout is banned", outcome: models.OutcomeTimeout, banned: true},
		{name: "unreachable is banned", outcome: models.OutcomeUnreachable, banned: true},
		{name: "protocol mismatch is not banned", outcome: models.OutcomeProtocolMismatch, banned: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			prober := probe.NewMockProber(ctrl)

			e := testEngine(t, prober)

			prober.EXPECT().
				Probe(gomock.Any(), "192.168.1.40").
				Return(&models.ProbeResult{
					Host:    "192.168.1.40",
					Outcome: tt.outcome,
					Error:   errors.New("probe failed"),
				})

			e.probeAddress(context.Background(), "192.168.1.40")

			assert.Equal(t, tt.banned, e.bans.Banned("192.168.1.40"))
		})
	}
}

func TestProbeAddressAbandonsCancelledResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)

	ctx, cancel := context.WithCancel(context.Background())

	prober.EXPECT().
		Probe(gomock.Any(), "192.168.1.40").
		DoAndReturn(func(_ context.Context, host string) *models.ProbeResult {
			cancel()
			return &models.ProbeResult{Host: host, Outcome: models.OutcomeTimeout}
		})

	e.probeAddress(ctx, "192.168.1.40")

	stats := e.Stats()
	assert.Equal(t, int64(0), stats.Attempts, "a cancelled run must not record its result")
	assert.False(t, e.bans.Banned("192.168.1.40"))
}

func TestMergeDeduplicatesByID(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)

	firstSeen := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	e.merge(models.Device{
		ID:        "AA:BB:CC:DD:EE:FF",
		Name:      "bedroom-strip",
		Host:      "192.168.1.40",
		FirstSeen: firstSeen,
	})

	batch := waitForBatch(t, e)
	require.Len(t, batch, 1)

	// Same device found again at a new address, without a name.
	e.merge(models.Device{
		ID:        "AA:BB:CC:DD:EE:FF",
		Host:      "192.168.1.99",
		FirstSeen: time.Now(),
	})

	batch = waitForBatch(t, e)
	require.Len(t, batch, 1)
	assert.Equal(t, "192.168.1.99", batch[0].Host)
	assert.Equal(t, "bedroom-strip", batch[0].Name, "name must survive a nameless rediscovery")
	assert.True(t, batch[0].FirstSeen.Equal(firstSeen), "first seen must survive rediscovery")
}

func TestBatchCollectsNearbyFinds(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)

	e.merge(models.Device{ID: "AA:BB:CC:DD:EE:01", Host: "192.168.1.40"})
	e.merge(models.Device{ID: "AA:BB:CC:DD:EE:02", Host: "192.168.1.41"})
	e.merge(models.Device{ID: "AA:BB:CC:DD:EE:01", Host: "192.168.1.40"})

	batch := waitForBatch(t, e)

	require.Len(t, batch, 2, "a batch must not contain the same device twice")

	ids := map[string]bool{}
	for _, d := range batch {
		ids[d.ID] = true
	}

	assert.True(t, ids["AA:BB:CC:DD:EE:01"])
	assert.True(t, ids["AA:BB:CC:DD:EE:02"])
}

func TestAddDeviceByAddress(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)

	prober.EXPECT().
		Probe(gomock.Any(), "192.168.1.77").
		Return(successResult("192.168.1.77", "AA:BB:CC:DD:EE:FF"))

	result := e.AddDeviceByAddress(context.Background(), "192.168.1.77")

	require.Equal(t, models.OutcomeSuccess, result.Outcome)
	require.NotNil(t, result.Device)

	// The find also flows through the stream.
	batch := waitForBatch(t, e)
	require.Len(t, batch, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", batch[0].ID)
}

func TestAddDeviceByAddressMismatchReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)

	prober.EXPECT().
		Probe(gomock.Any(), "192.168.1.1").
		Return(&models.ProbeResult{Host: "192.168.1.1", Outcome: models.OutcomeProtocolMismatch})

	result := e.AddDeviceByAddress(context.Background(), "192.168.1.1")

	assert.Equal(t, models.OutcomeProtocolMismatch, result.Outcome)
	assert.Nil(t, result.Device)
	assert.False(t, e.bans.Banned("192.168.1.1"))
}

func TestAddDeviceByAddressRespectsBan(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)
	e.bans.Ban("192.168.1.40")

	result := e.AddDeviceByAddress(context.Background(), "192.168.1.40")

	assert.Equal(t, models.OutcomeBanned, result.Outcome)
}

func TestStopWithoutRunIsSafe(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	e := testEngine(t, prober)

	e.Stop()
	assert.False(t, e.Running())
}

// armRunning puts an engine into the mid-run state merge checks, with the run
// cancel wired to a channel so the test can observe an early stop.
func armRunning(t *testing.T, e *Engine) chan struct{} {
	t.Helper()

	cancelled := make(chan struct{})

	e.mu.Lock()
	e.running = true
	e.stopOnce = &sync.Once{}
	e.cancel = func() { close(cancelled) }
	e.mu.Unlock()

	return cancelled
}

func TestFirstFindArmsEarlyStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	cfg := Config{
		BatchWindow: config.Duration(5 * time.Millisecond),
		StopGrace:   config.Duration(20 * time.Millisecond),
	}

	e := NewEngine(cfg, prober, nil, logger.NewTestLogger())
	e.scanned = make(map[string]struct{})

	cancelled := armRunning(t, e)

	e.merge(models.Device{ID: "AA:BB:CC:DD:EE:01", Host: "192.168.1.41"})
	// A second find inside the grace window must not re-arm the timer.
	e.merge(models.Device{ID: "AA:BB:CC:DD:EE:02", Host: "192.168.1.42"})

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("run was not cancelled after the stop grace elapsed")
	}

	batch := waitForBatch(t, e)
	assert.Len(t, batch, 2, "devices found during the grace window must still be reported")
}

func TestExhaustiveRunNeverStopsEarly(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := probe.NewMockProber(ctrl)

	cfg := Config{
		BatchWindow: config.Duration(5 * time.Millisecond),
		StopGrace:   config.Duration(10 * time.Millisecond),
		Exhaustive:  true,
	}

	e := NewEngine(cfg, prober, nil, logger.NewTestLogger())
	e.scanned = make(map[string]struct{})

	cancelled := armRunning(t, e)

	e.merge(models.Device{ID: "AA:BB:CC:DD:EE:01", Host: "192.168.1.41"})

	select {
	case <-cancelled:
		t.Fatal("an exhaustive run must sweep the whole range")
	case <-time.After(100 * time.Millisecond):
	}
}
