package pool

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aesdetic/ledmesh/pkg/models"
)

// readLoop consumes frames from one device until the connection drops or its
// context is cancelled. Any inbound frame doubles as a ping response for
// latency measurement; frames that parse as state documents are republished
// on the broadcast stream.
func (m *Manager) readLoop(ctx context.Context, deviceID string, transport Transport) {
	for {
		_, message, err := transport.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			m.handleConnectionLoss(deviceID, err)

			return
		}

		m.recordResponse(deviceID)

		var doc struct {
			State *models.DeviceState `json:"state"`
		}

		if err := json.Unmarshal(message, &doc); err != nil || doc.State == nil {
			continue
		}

		update := models.StateUpdate{
			DeviceID: deviceID,
			State:    doc.State,
			Received: m.now(),
		}

		select {
		case m.updates <- update:
		default:
			m.log.Warn().Str("device", deviceID).Msg("update stream full, dropping state document")
		}
	}
}

// pingLoop periodically sends a ping text frame to measure latency and mark
// health. Content of the response is irrelevant; only its presence counts.
func (m *Manager) pingLoop(ctx context.Context, deviceID string, transport Transport) {
	ticker := time.NewTicker(m.cfg.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()

			if m.suspended {
				m.mu.Unlock()
				continue
			}

			conn, ok := m.conns[deviceID]
			if !ok || conn.status != models.ConnConnected {
				m.mu.Unlock()
				return
			}

			conn.pingSentAt = m.now()

			m.mu.Unlock()

			if err := transport.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				m.log.Debug().Err(err).Str("device", deviceID).Msg("ping send failed")
			}
		}
	}
}

func (m *Manager) recordResponse(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[deviceID]
	if !ok {
		return
	}

	if !conn.pingSentAt.IsZero() {
		conn.latency = m.now().Sub(conn.pingSentAt)
		conn.pingSentAt = time.Time{}
	}
}

// handleConnectionLoss drives the per-connection reconnection state machine.
// The backoff is jittered so a whole fleet recovering at once does not retry
// in lockstep.
func (m *Manager) handleConnectionLoss(deviceID string, cause error) {
	m.mu.Lock()

	conn, ok := m.conns[deviceID]
	if !ok || conn.status == models.ConnDisconnected {
		m.mu.Unlock()
		return
	}

	if conn.cancel != nil {
		conn.cancel()
		conn.cancel = nil
	}

	if conn.transport != nil {
		_ = conn.transport.Close()
		conn.transport = nil
	}

	if conn.retries >= m.cfg.maxReconnect() {
		m.log.Warn().Str("device", deviceID).Int("attempts", conn.retries).Msg("reconnect attempts exhausted, tearing down")

		conn.status = models.ConnDisconnected
		conn.lastErr = ErrMaxReconnectAttempts

		m.mu.Unlock()

		return
	}

	conn.status = models.ConnReconnecting
	conn.lastErr = ErrConnectionLost
	conn.retries++
	conn.reconnects++

	attempt := conn.retries

	if m.suspended {
		// Backgrounded: hold the reconnecting state without arming a timer.
		// Resume picks these connections up again.
		m.log.Info().Err(cause).Str("device", deviceID).Msg("connection lost while suspended, deferring reconnect")

		m.mu.Unlock()

		return
	}

	m.rngMu.Lock()
	delay := backoffDelay(m.cfg.baseDelay(), m.cfg.multiplier(), m.cfg.maxDelay(), attempt-1, m.cfg.jitter(), m.rng)
	m.rngMu.Unlock()

	m.log.Info().
		Err(cause).
		Str("device", deviceID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("connection lost, scheduling reconnect")

	conn.retryTimer = time.AfterFunc(delay, func() {
		m.reconnect(deviceID)
	})

	m.mu.Unlock()
}

func (m *Manager) reconnect(deviceID string) {
	m.mu.Lock()

	conn, ok := m.conns[deviceID]
	if !ok || conn.status != models.ConnReconnecting {
		m.mu.Unlock()
		return
	}

	conn.retryTimer = nil

	if m.suspended {
		m.mu.Unlock()
		return
	}

	m.mu.Unlock()

	if err := m.dial(context.Background(), deviceID, conn); err != nil {
		// dial marks failed connects disconnected; flip back so the loss
		// handler keeps the retry chain going until attempts run out.
		m.mu.Lock()
		if c, ok := m.conns[deviceID]; ok && c.status == models.ConnDisconnected {
			c.status = models.ConnReconnecting
		}
		m.mu.Unlock()

		m.handleConnectionLoss(deviceID, err)
	}
}
