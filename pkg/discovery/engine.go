// Package discovery finds LED controllers on the local network by running
// three strategies in parallel: service-advertisement listening, broadcast
// probing and address-range probing.
package discovery

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aesdetic/ledmesh/pkg/config"
	"github.com/aesdetic/ledmesh/pkg/models"
	"github.com/aesdetic/ledmesh/pkg/probe"
	"github.com/aesdetic/ledmesh/pkg/scan"
)

const (
	defaultMDNSWindow      = 2 * time.Second
	defaultBroadcastPort   = 21324
	defaultBroadcastWindow = 5 * time.Second
	defaultConcurrency     = 5
	defaultBanTTL          = 15 * time.Minute
	defaultBatchWindow     = 300 * time.Millisecond
	defaultStopGrace       = 2 * time.Second
	defaultProbesPerSecond = 50

	resultBuffer = 16
)

// Config holds discovery settings. Zero values select the defaults.
type Config struct {
	ServiceTypes     []string        `json:"service_types"`
	MDNSWindow       config.Duration `json:"mdns_window"`
	BroadcastPort    int             `json:"broadcast_port"`
	BroadcastWindow  config.Duration `json:"broadcast_window"`
	ProbeConcurrency int             `json:"probe_concurrency"`
	ProbesPerSecond  float64         `json:"probes_per_second"`
	BanTTL           config.Duration `json:"ban_ttl"`
	BatchWindow      config.Duration `json:"batch_window"`
	StopGrace        config.Duration `json:"stop_grace"`
	// Exhaustive disables the early stop after the first device is found,
	// letting all three strategies run to completion.
	Exhaustive bool `json:"exhaustive"`
}

func (c *Config) serviceTypes() []string {
	if len(c.ServiceTypes) == 0 {
		return []string{"_wled._tcp", "_http._tcp"}
	}

	return c.ServiceTypes
}

func (c *Config) mdnsWindow() time.Duration      { return c.MDNSWindow.AsDuration(defaultMDNSWindow) }
func (c *Config) broadcastWindow() time.Duration { return c.BroadcastWindow.AsDuration(defaultBroadcastWindow) }
func (c *Config) banTTL() time.Duration          { return c.BanTTL.AsDuration(defaultBanTTL) }
func (c *Config) batchWindow() time.Duration     { return c.BatchWindow.AsDuration(defaultBatchWindow) }
func (c *Config) stopGrace() time.Duration       { return c.StopGrace.AsDuration(defaultStopGrace) }

func (c *Config) broadcastPort() int {
	if c.BroadcastPort <= 0 {
		return defaultBroadcastPort
	}

	return c.BroadcastPort
}

func (c *Config) probeConcurrency() int {
	if c.ProbeConcurrency <= 0 {
		return defaultConcurrency
	}

	return c.ProbeConcurrency
}

func (c *Config) probesPerSecond() float64 {
	if c.ProbesPerSecond <= 0 {
		return defaultProbesPerSecond
	}

	return c.ProbesPerSecond
}

// Stats are cumulative diagnostic counters for probe attempts. Discovery as
// an operation always succeeds; these are the only failure signal it exposes.
type Stats struct {
	Attempts    int64 `json:"attempts"`
	Successes   int64 `json:"successes"`
	Timeouts    int64 `json:"timeouts"`
	Unreachable int64 `json:"unreachable"`
	Mismatches  int64 `json:"mismatches"`
	Skipped     int64 `json:"skipped"` // already scanned or banned
}

// Engine orchestrates the discovery strategies and emits deduplicated device
// records through a debounced batch stream.
type Engine struct {
	cfg     Config
	prober  probe.Prober
	prescan scan.Scanner // optional fast reachability filter, may be nil
	log     zerolog.Logger
	limiter *rate.Limiter
	bans    *banList

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	runDone  chan struct{}
	scanned  map[string]struct{}
	known    map[string]models.Device
	stopOnce *sync.Once // arms the early-stop grace timer, reset per run

	batchMu    sync.Mutex
	pending    []models.Device
	flushTimer *time.Timer

	results chan []models.Device

	attempts    atomic.Int64
	successes   atomic.Int64
	timeouts    atomic.Int64
	unreachable atomic.Int64
	mismatches  atomic.Int64
	skipped     atomic.Int64
}

// NewEngine creates a discovery engine. prescan may be nil, in which case
// every candidate address is probed directly over HTTP.
func NewEngine(cfg Config, prober probe.Prober, prescan scan.Scanner, log zerolog.Logger) *Engine {
	cfg.BroadcastPort = cfg.broadcastPort()

	return &Engine{
		cfg:     cfg,
		prober:  prober,
		prescan: prescan,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(cfg.probesPerSecond()), cfg.probeConcurrency()),
		bans:    newBanList(cfg.banTTL()),
		known:   make(map[string]models.Device),
		results: make(chan []models.Device, resultBuffer),
	}
}

// Results returns the stream of discovered/updated device batches. The
// channel is owned by the engine and stays open for its lifetime.
func (e *Engine) Results() <-chan []models.Device {
	return e.results
}

// Stats returns a snapshot of the diagnostic counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Attempts:    e.attempts.Load(),
		Successes:   e.successes.Load(),
		Timeouts:    e.timeouts.Load(),
		Unreachable: e.unreachable.Load(),
		Mismatches:  e.mismatches.Load(),
		Skipped:     e.skipped.Load(),
	}
}

// Start launches all three strategies. It is idempotent: a no-op when a run
// is already in progress.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()

	if e.running {
		e.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	e.running = true
	e.cancel = cancel
	e.runDone = make(chan struct{})
	e.scanned = make(map[string]struct{})
	e.stopOnce = &sync.Once{}

	runDone := e.runDone
	runID := uuid.New().String()

	e.mu.Unlock()

	log := e.log.With().Str("run_id", runID).Logger()
	log.Info().Msg("discovery started")

	networks, err := localNetworks()
	if err != nil {
		// Broadcast and range probing need the local prefixes; mDNS does
		// not. Degrade rather than fail.
		log.Warn().Err(err).Msg("local networks unavailable, mDNS only")
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		e.runMDNS(runCtx)
	}()

	if len(networks) > 0 {
		wg.Add(2)

		go func() {
			defer wg.Done()
			e.runBroadcast(runCtx, networks)
		}()

		go func() {
			defer wg.Done()
			e.runRangeProbe(runCtx, networks)
		}()
	}

	go func() {
		wg.Wait()
		cancel()

		e.mu.Lock()
		e.running = false
		e.mu.Unlock()

		close(runDone)

		log.Info().
			Int64("attempts", e.attempts.Load()).
			Int64("successes", e.successes.Load()).
			Msg("discovery finished")
	}()

	return nil
}

// Stop cancels the current run and waits for in-flight probes to abandon
// their work. Safe to call when no run is active and from lifecycle hooks.
func (e *Engine) Stop() {
	e.mu.Lock()

	if !e.running {
		e.mu.Unlock()
		return
	}

	cancel := e.cancel
	runDone := e.runDone

	e.mu.Unlock()

	cancel()
	<-runDone
}

// Running reports whether a discovery run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// AddDeviceByAddress probes a single caller-supplied address. The result is
// returned directly and, on success, also delivered through the result
// stream like any other find.
func (e *Engine) AddDeviceByAddress(ctx context.Context, host string) *models.ProbeResult {
	if e.bans.Banned(host) {
		e.skipped.Add(1)

		return &models.ProbeResult{Host: host, Outcome: models.OutcomeBanned, Timestamp: time.Now()}
	}

	result := e.prober.Probe(ctx, host)
	e.record(result)

	if result.Outcome == models.OutcomeSuccess && result.Device != nil {
		e.merge(*result.Device)
	}

	return result
}

// probeAddress runs one address through the shared probe pipeline: scanned-set
// dedup, ban check, rate limiting, probe, classification bookkeeping.
func (e *Engine) probeAddress(ctx context.Context, host string) {
	e.mu.Lock()

	if e.scanned == nil {
		e.mu.Unlock()
		return
	}

	if _, seen := e.scanned[host]; seen {
		e.mu.Unlock()
		e.skipped.Add(1)

		return
	}

	e.scanned[host] = struct{}{}

	e.mu.Unlock()

	if e.bans.Banned(host) {
		e.skipped.Add(1)
		return
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return
	}

	result := e.prober.Probe(ctx, host)

	// A cancelled run abandons its result instead of recording a spurious
	// timeout.
	if ctx.Err() != nil {
		return
	}

	e.record(result)

	if result.Outcome == models.OutcomeSuccess && result.Device != nil {
		e.merge(*result.Device)
	}
}

func (e *Engine) record(result *models.ProbeResult) {
	e.attempts.Add(1)

	switch result.Outcome {
	case models.OutcomeSuccess:
		e.successes.Add(1)
	case models.OutcomeTimeout:
		e.timeouts.Add(1)
	case models.OutcomeUnreachable:
		e.unreachable.Add(1)
	case models.OutcomeProtocolMismatch:
		e.mismatches.Add(1)
	default:
	}

	if result.Outcome.Bannable() {
		e.bans.Ban(result.Host)
	}
}

// merge deduplicates by logical identifier: the same device answering at a
// new address updates the existing record in place.
func (e *Engine) merge(device models.Device) {
	e.mu.Lock()

	if existing, ok := e.known[device.ID]; ok {
		device.FirstSeen = existing.FirstSeen

		if device.Name == "" {
			device.Name = existing.Name
		}
	}

	e.known[device.ID] = device

	armStop := !e.cfg.Exhaustive && e.running
	stopOnce := e.stopOnce
	cancel := e.cancel

	e.mu.Unlock()

	// First find schedules an early stop after a short grace period so a
	// handful of additional devices can still register.
	if armStop && stopOnce != nil {
		stopOnce.Do(func() {
			grace := e.cfg.stopGrace()

			e.log.Debug().Dur("grace", grace).Msg("device found, scheduling early stop")
			time.AfterFunc(grace, cancel)
		})
	}

	e.emit(device)
}

// emit feeds a device record into the debounced batch stream.
func (e *Engine) emit(device models.Device) {
	e.batchMu.Lock()
	defer e.batchMu.Unlock()

	for i := range e.pending {
		if e.pending[i].ID == device.ID {
			e.pending[i] = device
			return
		}
	}

	e.pending = append(e.pending, device)

	if e.flushTimer == nil {
		e.flushTimer = time.AfterFunc(e.cfg.batchWindow(), e.flush)
	}
}

func (e *Engine) flush() {
	e.batchMu.Lock()

	batch := e.pending
	e.pending = nil
	e.flushTimer = nil

	e.batchMu.Unlock()

	if len(batch) == 0 {
		return
	}

	e.results <- batch
}

// runRangeProbe walks every candidate host address in the local prefixes
// through a bounded worker pool. When a reachability pre-scan is available it
// filters the candidates first so HTTP probes are spent on live hosts only.
func (e *Engine) runRangeProbe(ctx context.Context, networks []*net.IPNet) {
	var hosts []string

	for _, network := range networks {
		expanded, err := expandNetwork(network)
		if err != nil {
			e.log.Debug().Err(err).Str("network", network.String()).Msg("skipping network")
			continue
		}

		hosts = append(hosts, expanded...)
	}

	if len(hosts) == 0 {
		return
	}

	hosts = e.filterReachable(ctx, hosts)

	targetChan := make(chan string, e.cfg.probeConcurrency())

	var wg sync.WaitGroup

	for i := 0; i < e.cfg.probeConcurrency(); i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				select {
				case host, ok := <-targetChan:
					if !ok {
						return
					}

					e.probeAddress(ctx, host)
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for _, host := range hosts {
		select {
		case targetChan <- host:
		case <-ctx.Done():
			close(targetChan)
			wg.Wait()

			return
		}
	}

	close(targetChan)
	wg.Wait()
}

func (e *Engine) filterReachable(ctx context.Context, hosts []string) []string {
	if e.prescan == nil {
		return hosts
	}

	results, err := e.prescan.Scan(ctx, hosts)
	if err != nil {
		e.log.Debug().Err(err).Msg("reachability pre-scan unavailable, probing all candidates")
		return hosts
	}

	reachable := make([]string, 0, len(hosts))

	for result := range results {
		if result.Available {
			reachable = append(reachable, result.Host)
		}
	}

	if ctx.Err() != nil {
		return nil
	}

	e.log.Debug().Int("candidates", len(hosts)).Int("reachable", len(reachable)).Msg("pre-scan complete")

	return reachable
}
