// cmd/ledmeshd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/rs/zerolog"

	"github.com/aesdetic/ledmesh/pkg/api"
	"github.com/aesdetic/ledmesh/pkg/config"
	"github.com/aesdetic/ledmesh/pkg/directory"
	"github.com/aesdetic/ledmesh/pkg/discovery"
	"github.com/aesdetic/ledmesh/pkg/health"
	"github.com/aesdetic/ledmesh/pkg/lifecycle"
	"github.com/aesdetic/ledmesh/pkg/logger"
	"github.com/aesdetic/ledmesh/pkg/pool"
	"github.com/aesdetic/ledmesh/pkg/probe"
	"github.com/aesdetic/ledmesh/pkg/scan"
)

const (
	defaultListenAddr   = ":8090"
	defaultDatabasePath = "/var/lib/ledmesh/devices.db"
	prescanTimeout      = 1 * time.Second
	prescanInterval     = 2 * time.Millisecond
)

type daemonConfig struct {
	ListenAddr   string           `json:"listen_addr"`
	DatabasePath string           `json:"database_path"`
	Prescan      bool             `json:"prescan"`
	Logging      logger.Config    `json:"logging"`
	Probe        probe.Config     `json:"probe"`
	Discovery    discovery.Config `json:"discovery"`
	Health       health.Config    `json:"health"`
	Pool         pool.Config      `json:"pool"`
}

func (c *daemonConfig) Validate() error {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	if c.DatabasePath == "" {
		c.DatabasePath = defaultDatabasePath
	}

	return nil
}

func main() {
	configPath := flag.String("config", "/etc/ledmesh/ledmesh.json", "Path to daemon config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	var cfg daemonConfig
	if err := config.LoadAndValidate(configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	rootLog, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	prober := probe.NewHTTPProber(cfg.Probe, logger.WithComponent(rootLog, "probe"))

	// The ICMP prescan needs a raw socket, so it is only available when the
	// daemon runs with the right privileges. Fall back to probing every
	// address when it is not.
	var prescan scan.Scanner

	if cfg.Prescan {
		icmp, icmpErr := scan.NewICMPScanner(prescanTimeout, prescanInterval, logger.WithComponent(rootLog, "scan"))
		if icmpErr != nil {
			rootLog.Warn().Err(icmpErr).Msg("ICMP prescan unavailable, probing all addresses")
		} else {
			prescan = icmp
		}
	}

	engine := discovery.NewEngine(cfg.Discovery, prober, prescan, logger.WithComponent(rootLog, "discovery"))
	monitor := health.NewMonitor(cfg.Health, prober, logger.WithComponent(rootLog, "health"))
	poolMgr := pool.NewManager(cfg.Pool, nil, logger.WithComponent(rootLog, "pool"))

	store, err := directory.NewSQLiteStore(cfg.DatabasePath, logger.WithComponent(rootLog, "directory"))
	if err != nil {
		return fmt.Errorf("failed to open device directory: %w", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Devices already in the directory are monitored from the start, before
	// any discovery run confirms them.
	known, err := store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list known devices: %w", err)
	}

	for _, d := range known {
		monitor.RegisterDevice(d)
	}

	rootLog.Info().Int("known_devices", len(known)).Msg("starting ledmeshd")

	go consumeDiscoveries(ctx, engine, store, monitor, rootLog)
	go consumeStateUpdates(ctx, poolMgr, rootLog)

	apiServer := api.NewServer(cfg.ListenAddr, store, engine, monitor, poolMgr, prober,
		logger.WithComponent(rootLog, "api"))

	return lifecycle.Run(ctx, rootLog,
		monitor,
		apiServer,
		&engineService{engine: engine},
		&poolService{pool: poolMgr},
	)
}

// consumeDiscoveries persists discovered devices and hands them to the health
// monitor.
func consumeDiscoveries(
	ctx context.Context,
	engine *discovery.Engine,
	store directory.Store,
	monitor *health.Monitor,
	log zerolog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-engine.Results():
			for _, device := range batch {
				if err := store.UpsertDevice(ctx, &device); err != nil {
					log.Error().Err(err).Str("device_id", device.ID).Msg("failed to persist device")
				}

				monitor.RegisterDevice(device)
			}

			log.Info().Int("count", len(batch)).Msg("device batch processed")
		}
	}
}

// consumeStateUpdates drains the pool's state stream so device pushes never
// back up the read loops. Interested clients observe state through the API.
func consumeStateUpdates(ctx context.Context, poolMgr *pool.Manager, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-poolMgr.Updates():
			log.Debug().Str("device_id", update.DeviceID).Msg("state update received")
		}
	}
}

// engineService adapts the discovery engine to the lifecycle runner. The
// daemon does not start a run at boot; runs are triggered through the API.
type engineService struct {
	engine *discovery.Engine
}

func (s *engineService) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *engineService) Stop(_ context.Context) error {
	s.engine.Stop()
	return nil
}

// poolService tears down every device connection on shutdown.
type poolService struct {
	pool *pool.Manager
}

func (s *poolService) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *poolService) Stop(_ context.Context) error {
	s.pool.DisconnectAll()
	return nil
}
