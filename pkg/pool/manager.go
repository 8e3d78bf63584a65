// Package pool maintains persistent duplex connections to a bounded number
// of devices, with priority-based eviction and jittered reconnection.
package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aesdetic/ledmesh/pkg/config"
	"github.com/aesdetic/ledmesh/pkg/models"
)

const (
	defaultCapacity     = 20
	defaultPingInterval = 30 * time.Second
	defaultDialTimeout  = 5 * time.Second
	defaultBaseDelay    = 2 * time.Second
	defaultMaxDelay     = 60 * time.Second
	defaultMultiplier   = 2.0
	defaultMaxReconnect = 5
	defaultJitter       = 0.2
	defaultOffNetBanTTL = 15 * time.Minute

	updateBuffer = 64
)

// Config holds pool settings. Zero values select the defaults.
type Config struct {
	Capacity             int             `json:"capacity"`
	PingInterval         config.Duration `json:"ping_interval"`
	DialTimeout          config.Duration `json:"dial_timeout"`
	BaseDelay            config.Duration `json:"base_delay"`
	BackoffMultiplier    float64         `json:"backoff_multiplier"`
	MaxDelay             config.Duration `json:"max_delay"`
	MaxReconnectAttempts int             `json:"max_reconnect_attempts"`
	JitterFraction       float64         `json:"jitter_fraction"`
	OffNetworkBanTTL     config.Duration `json:"off_network_ban_ttl"`
}

func (c *Config) capacity() int {
	if c.Capacity <= 0 {
		return defaultCapacity
	}

	return c.Capacity
}

func (c *Config) pingInterval() time.Duration { return c.PingInterval.AsDuration(defaultPingInterval) }
func (c *Config) dialTimeout() time.Duration  { return c.DialTimeout.AsDuration(defaultDialTimeout) }
func (c *Config) baseDelay() time.Duration    { return c.BaseDelay.AsDuration(defaultBaseDelay) }
func (c *Config) maxDelay() time.Duration     { return c.MaxDelay.AsDuration(defaultMaxDelay) }
func (c *Config) offNetBanTTL() time.Duration { return c.OffNetworkBanTTL.AsDuration(defaultOffNetBanTTL) }

func (c *Config) multiplier() float64 {
	if c.BackoffMultiplier <= 0 {
		return defaultMultiplier
	}

	return c.BackoffMultiplier
}

func (c *Config) maxReconnect() int {
	if c.MaxReconnectAttempts <= 0 {
		return defaultMaxReconnect
	}

	return c.MaxReconnectAttempts
}

func (c *Config) jitter() float64 {
	if c.JitterFraction <= 0 {
		return defaultJitter
	}

	return c.JitterFraction
}

type connection struct {
	device      models.Device
	status      models.ConnStatus
	priority    int
	connectedAt time.Time
	latency     time.Duration
	retries     int // failed redials in the current loss episode, zeroed on success
	reconnects  int // lifetime reconnect count, reported in snapshots
	lastErr     error
	transport   Transport
	cancel      context.CancelFunc
	retryTimer  *time.Timer
	pingSentAt  time.Time
}

// Manager owns the connection table. The table lock is the single
// serialization point for admission control: connect atomically
// checks-and-reserves a slot so concurrent requests never overshoot the cap.
type Manager struct {
	cfg    Config
	dialer Dialer
	log    zerolog.Logger

	mu            sync.Mutex
	conns         map[string]*connection
	reconnectBans map[string]time.Time
	suspended     bool

	updates chan models.StateUpdate
	rng     *rand.Rand
	rngMu   sync.Mutex
	now     func() time.Time

	// localNetworks is injectable so tests can pin the reachable prefixes.
	localNetworks func() ([]*net.IPNet, error)
}

// NewManager creates a pool manager. dialer may be nil, selecting the real
// WebSocket dialer.
func NewManager(cfg Config, dialer Dialer, log zerolog.Logger) *Manager {
	if dialer == nil {
		dialer = &WSDialer{HandshakeTimeout: cfg.dialTimeout()}
	}

	return &Manager{
		cfg:           cfg,
		dialer:        dialer,
		log:           log,
		conns:         make(map[string]*connection),
		reconnectBans: make(map[string]time.Time),
		updates:       make(chan models.StateUpdate, updateBuffer),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // jitter, not crypto
		now:           time.Now,
		localNetworks: hostNetworks,
	}
}

// Updates returns the broadcast stream of state documents pushed by devices.
func (m *Manager) Updates() <-chan models.StateUpdate {
	return m.updates
}

// Connect establishes a persistent duplex connection to the device. The call
// returns once the connection is up or rejected.
func (m *Manager) Connect(ctx context.Context, device models.Device, priority int) error {
	if device.ID == "" || device.Host == "" {
		return ErrInvalidAddress
	}

	if err := m.checkReachable(device); err != nil {
		return err
	}

	m.mu.Lock()

	if existing, ok := m.conns[device.ID]; ok && existing.status.Active() {
		existing.priority = priority
		m.mu.Unlock()

		return nil
	}

	if m.activeCountLocked() >= m.cfg.capacity() {
		m.conns[device.ID] = &connection{
			device:   device,
			status:   models.ConnLimitReached,
			priority: priority,
			lastErr:  ErrMaxConnections,
		}
		m.mu.Unlock()

		return ErrMaxConnections
	}

	// Reserve the slot before dialing so racing connects cannot overshoot.
	conn := &connection{
		device:   device,
		status:   models.ConnConnecting,
		priority: priority,
	}
	m.conns[device.ID] = conn

	m.mu.Unlock()

	return m.dial(ctx, device.ID, conn)
}

func (m *Manager) dial(ctx context.Context, id string, conn *connection) error {
	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.dialTimeout())
	defer cancel()

	transport, err := m.dialer.Dial(dialCtx, deviceWSURL(conn.device))
	if err != nil {
		m.mu.Lock()
		conn.status = models.ConnDisconnected
		conn.lastErr = err
		m.mu.Unlock()

		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())

	m.mu.Lock()

	conn.transport = transport
	conn.status = models.ConnConnected
	conn.connectedAt = m.now()
	conn.retries = 0
	conn.lastErr = nil
	conn.cancel = loopCancel

	m.mu.Unlock()

	// Ask for the full state document up front; further updates arrive
	// unsolicited.
	if err := transport.WriteMessage(websocket.TextMessage, []byte(`{"v":true}`)); err != nil {
		m.log.Debug().Err(err).Str("device", id).Msg("state request failed")
	}

	go m.readLoop(loopCtx, id, transport)
	go m.pingLoop(loopCtx, id, transport)

	m.log.Info().Str("device", id).Str("host", conn.device.Host).Msg("connected")

	return nil
}

// checkReachable rejects devices whose address is off every local prefix, to
// avoid the energy and timeout cost of connecting outside the current
// network. Such devices get a temporary reconnect ban instead of retries.
func (m *Manager) checkReachable(device models.Device) error {
	m.mu.Lock()

	if expiry, ok := m.reconnectBans[device.Host]; ok {
		if m.now().Before(expiry) {
			m.mu.Unlock()
			return ErrNotOnLocalNetwork
		}

		delete(m.reconnectBans, device.Host)
	}

	m.mu.Unlock()

	ip := net.ParseIP(device.Host)
	if ip == nil {
		// Hostname; leave resolution to the dialer.
		return nil
	}

	networks, err := m.localNetworks()
	if err != nil || len(networks) == 0 {
		return nil
	}

	for _, n := range networks {
		if n.Contains(ip) {
			return nil
		}
	}

	m.mu.Lock()
	m.reconnectBans[device.Host] = m.now().Add(m.cfg.offNetBanTTL())
	m.mu.Unlock()

	return ErrNotOnLocalNetwork
}

// Disconnect tears down a device's connection and cancels every timer tied
// to it, releasing its pool slot.
func (m *Manager) Disconnect(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked(deviceID, nil)
}

// DisconnectAll tears down every connection, e.g. on app backgrounding.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.conns {
		m.teardownLocked(id, nil)
	}
}

// DisconnectAllExcept keeps one device's connection and tears down the rest,
// used when focusing a single device to conserve the pool.
func (m *Manager) DisconnectAllExcept(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.conns {
		if id != deviceID {
			m.teardownLocked(id, nil)
		}
	}
}

func (m *Manager) teardownLocked(deviceID string, lastErr error) {
	conn, ok := m.conns[deviceID]
	if !ok {
		return
	}

	if conn.retryTimer != nil {
		conn.retryTimer.Stop()
		conn.retryTimer = nil
	}

	if conn.cancel != nil {
		conn.cancel()
		conn.cancel = nil
	}

	if conn.transport != nil {
		_ = conn.transport.Close()
		conn.transport = nil
	}

	conn.status = models.ConnDisconnected

	if lastErr != nil {
		conn.lastErr = lastErr
	}
}

// OptimizeConnections makes room for a connection of the given priority by
// evicting lower-priority connections, oldest first on ties. Returns true
// when a slot is free afterwards.
func (m *Manager) OptimizeConnections(priority int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCountLocked() < m.cfg.capacity() {
		return true
	}

	type candidate struct {
		id   string
		conn *connection
	}

	var candidates []candidate

	for id, conn := range m.conns {
		if conn.status.Active() && conn.priority < priority {
			candidates = append(candidates, candidate{id, conn})
		}
	}

	if len(candidates) == 0 {
		return false
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].conn, candidates[j].conn
		if a.priority != b.priority {
			return a.priority < b.priority
		}

		return a.connectedAt.Before(b.connectedAt)
	})

	evict := candidates[0]

	m.log.Info().Str("device", evict.id).Int("priority", evict.conn.priority).Msg("evicting connection for higher-priority request")
	m.teardownLocked(evict.id, nil)

	return true
}

// SendUpdate transmits a state document over the device's open duplex
// connection. Callers must Connect first.
func (m *Manager) SendUpdate(deviceID string, state *models.DeviceState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	return m.SendRaw(deviceID, body)
}

// SendRaw transmits a pre-encoded request body, e.g. a chunked pixel update.
func (m *Manager) SendRaw(deviceID string, body []byte) error {
	m.mu.Lock()

	conn, ok := m.conns[deviceID]
	if !ok || conn.status != models.ConnConnected || conn.transport == nil {
		m.mu.Unlock()
		m.log.Warn().Str("device", deviceID).Msg("send requested without an open connection")

		return ErrNotConnected
	}

	transport := conn.transport

	m.mu.Unlock()

	if err := transport.WriteMessage(websocket.TextMessage, body); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	return nil
}

// GetStatus returns the connection snapshot for a device; ok is false when
// the pool has never seen the device.
func (m *Manager) GetStatus(deviceID string) (models.ConnSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[deviceID]
	if !ok {
		return models.ConnSnapshot{DeviceID: deviceID, Status: models.ConnDisconnected}, false
	}

	snapshot := models.ConnSnapshot{
		DeviceID:    deviceID,
		Status:      conn.status,
		Priority:    conn.priority,
		ConnectedAt: conn.connectedAt,
		Latency:     conn.latency,
		Reconnects:  conn.reconnects,
	}

	if conn.lastErr != nil {
		snapshot.LastError = conn.lastErr.Error()
	}

	return snapshot, true
}

// ConnectedDeviceIDs lists devices with established connections.
func (m *Manager) ConnectedDeviceIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.conns))

	for id, conn := range m.conns {
		if conn.status == models.ConnConnected {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}

// ActiveConnectionCount reports connections currently holding pool slots.
func (m *Manager) ActiveConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.activeCountLocked()
}

func (m *Manager) activeCountLocked() int {
	count := 0

	for _, conn := range m.conns {
		if conn.status.Active() {
			count++
		}
	}

	return count
}

// Suspend parks periodic ping activity and pending reconnect timers while the
// host app is backgrounded. Open connections stay open but unmonitored, and
// lost ones hold their reconnecting state until Resume.
func (m *Manager) Suspend() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.suspended = true

	for _, conn := range m.conns {
		if conn.retryTimer != nil {
			conn.retryTimer.Stop()
			conn.retryTimer = nil
		}
	}
}

// Resume restarts ping activity and reschedules retries for connections that
// were waiting on a reconnect when Suspend parked them.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.suspended = false

	for id, conn := range m.conns {
		if conn.status != models.ConnReconnecting || conn.retryTimer != nil {
			continue
		}

		attempt := conn.retries
		if attempt < 1 {
			attempt = 1
		}

		m.rngMu.Lock()
		delay := backoffDelay(m.cfg.baseDelay(), m.cfg.multiplier(), m.cfg.maxDelay(), attempt-1, m.cfg.jitter(), m.rng)
		m.rngMu.Unlock()

		deviceID := id

		conn.retryTimer = time.AfterFunc(delay, func() {
			m.reconnect(deviceID)
		})
	}
}

func deviceWSURL(device models.Device) string {
	host := device.Host
	if device.Port > 0 && device.Port != 80 {
		host = net.JoinHostPort(device.Host, strconv.Itoa(device.Port))
	}

	return "ws://" + host + "/ws"
}

func hostNetworks() ([]*net.IPNet, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}

	var networks []*net.IPNet

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}

		if ip := ipNet.IP.To4(); ip == nil || ip.IsLoopback() {
			continue
		}

		networks = append(networks, ipNet)
	}

	return networks, nil
}
