// Package api exposes the device directory, discovery and connection
// controls over HTTP for external UI collaborators.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/aesdetic/ledmesh/pkg/chunk"
	"github.com/aesdetic/ledmesh/pkg/directory"
	"github.com/aesdetic/ledmesh/pkg/discovery"
	"github.com/aesdetic/ledmesh/pkg/health"
	"github.com/aesdetic/ledmesh/pkg/models"
	"github.com/aesdetic/ledmesh/pkg/pool"
	"github.com/aesdetic/ledmesh/pkg/probe"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server is the HTTP surface over the connectivity core.
type Server struct {
	store   directory.Store
	engine  *discovery.Engine
	monitor *health.Monitor
	pool    *pool.Manager
	prober  probe.Prober
	log     zerolog.Logger

	router *mux.Router
	srv    *http.Server
}

// NewServer wires the components into a router. Nothing listens until Start.
func NewServer(
	addr string,
	store directory.Store,
	engine *discovery.Engine,
	monitor *health.Monitor,
	poolMgr *pool.Manager,
	prober probe.Prober,
	log zerolog.Logger,
) *Server {
	s := &Server{
		store:   store,
		engine:  engine,
		monitor: monitor,
		pool:    poolMgr,
		prober:  prober,
		log:     log,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	s.router.HandleFunc("/api/devices", s.listDevices).Methods("GET")
	s.router.HandleFunc("/api/devices", s.addDevice).Methods("POST")
	s.router.HandleFunc("/api/devices/{id}", s.getDevice).Methods("GET")
	s.router.HandleFunc("/api/devices/{id}", s.removeDevice).Methods("DELETE")
	s.router.HandleFunc("/api/devices/{id}/name", s.renameDevice).Methods("PUT")
	s.router.HandleFunc("/api/devices/{id}/status", s.getDeviceStatus).Methods("GET")
	s.router.HandleFunc("/api/devices/{id}/history", s.getDeviceHistory).Methods("GET")
	s.router.HandleFunc("/api/devices/{id}/connect", s.connectDevice).Methods("POST")
	s.router.HandleFunc("/api/devices/{id}/connect", s.disconnectDevice).Methods("DELETE")
	s.router.HandleFunc("/api/devices/{id}/reconnect", s.forceReconnect).Methods("POST")
	s.router.HandleFunc("/api/devices/{id}/state", s.updateDeviceState).Methods("POST")
	s.router.HandleFunc("/api/discovery/start", s.startDiscovery).Methods("POST")
	s.router.HandleFunc("/api/discovery/stop", s.stopDiscovery).Methods("POST")
	s.router.HandleFunc("/api/discovery", s.discoveryStatus).Methods("GET")
}

// Start begins serving. It blocks until the listener fails or Stop is called.
func (s *Server) Start(_ context.Context) error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("API server listening")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) addDevice(w http.ResponseWriter, r *http.Request) {
	var req addDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" {
		s.writeError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	result := s.engine.AddDeviceByAddress(r.Context(), req.Host)
	if result.Outcome != models.OutcomeSuccess {
		s.writeJSON(w, http.StatusBadGateway, result)
		return
	}

	s.writeJSON(w, http.StatusCreated, result)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	s.writeJSON(w, http.StatusOK, device)
}

func (s *Server) removeDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.pool.Disconnect(id)
	s.monitor.UnregisterDevice(id)

	if err := s.store.RemoveDevice(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renameDevice(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if err := s.store.SetDisplayName(r.Context(), mux.Vars(r)["id"], req.Name); err != nil {
		s.writeStoreError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getDeviceStatus(w http.ResponseWriter, r *http.Request) {
	device, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	healthSnap, err := s.monitor.GetStatus(device.ID)
	if err != nil {
		healthSnap = models.HealthSnapshot{DeviceID: device.ID, State: models.StateOffline, Status: "not monitored"}
	}

	connSnap, _ := s.pool.GetStatus(device.ID)

	s.writeJSON(w, http.StatusOK, deviceStatusResponse{
		Device:     *device,
		Health:     healthSnap,
		Connection: connSnap,
	})
}

func (s *Server) getDeviceHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.monitor.GetConnectionHistory(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) connectDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req connectRequest
	// Empty body means default priority.
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := s.pool.Connect(r.Context(), *device, req.Priority); err != nil {
		status := http.StatusBadGateway

		switch {
		case errors.Is(err, pool.ErrMaxConnections):
			status = http.StatusConflict
		case errors.Is(err, pool.ErrInvalidAddress), errors.Is(err, pool.ErrNotOnLocalNetwork):
			status = http.StatusUnprocessableEntity
		}

		s.writeError(w, status, err)

		return
	}

	snapshot, _ := s.pool.GetStatus(device.ID)
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) disconnectDevice(w http.ResponseWriter, r *http.Request) {
	s.pool.Disconnect(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) forceReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.monitor.ForceReconnection(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) updateDeviceState(w http.ResponseWriter, r *http.Request) {
	device, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	if req.On != nil || req.Brightness != nil {
		state := &models.DeviceState{On: req.On, Brightness: req.Brightness}

		if err := s.sendState(r.Context(), device, state); err != nil {
			s.writeError(w, http.StatusBadGateway, err)
			return
		}
	}

	if req.Pixels != nil {
		chunks := chunk.BuildChunks(req.Pixels.Segment, req.Pixels.Offset, req.Pixels.Colors, chunk.DefaultMaxItems)

		if err := chunk.Send(r.Context(), chunks, s.chunkSender(device)); err != nil {
			s.writeError(w, http.StatusBadGateway, err)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// sendState prefers the pooled duplex connection and falls back to a
// one-shot request.
func (s *Server) sendState(ctx context.Context, device *models.Device, state *models.DeviceState) error {
	err := s.pool.SendUpdate(device.ID, state)
	if err == nil {
		return nil
	}

	if !errors.Is(err, pool.ErrNotConnected) {
		return err
	}

	return s.prober.PushState(ctx, device.Host, state)
}

func (s *Server) chunkSender(device *models.Device) chunk.SendFunc {
	return func(ctx context.Context, body []byte) error {
		err := s.pool.SendRaw(device.ID, body)
		if err == nil {
			return nil
		}

		if !errors.Is(err, pool.ErrNotConnected) {
			return err
		}

		return s.prober.PushRaw(ctx, device.Host, body)
	}
}

func (s *Server) startDiscovery(w http.ResponseWriter, _ *http.Request) {
	// Discovery outlives the request; it is stopped through its own endpoint
	// or daemon shutdown.
	if err := s.engine.Start(context.Background()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) stopDiscovery(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) discoveryStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, discoveryStatusResponse{
		Running: s.engine.Running(),
		Stats:   s.engine.Stats(),
	})
}

func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*models.Device, bool) {
	device, err := s.store.GetDevice(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}

	return device, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, directory.ErrDeviceNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("error encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
