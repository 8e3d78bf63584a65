// Package probe implements the bounded-timeout identity probe for LED
// controllers speaking the JSON-over-HTTP protocol.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aesdetic/ledmesh/pkg/config"
	"github.com/aesdetic/ledmesh/pkg/models"
)

const (
	defaultTimeout = 2 * time.Second
	defaultPort    = 80

	statePath = "/json"
	infoPath  = "/json/info"

	maxDocumentSize = 1 << 20
)

// Config holds probe settings.
type Config struct {
	Timeout config.Duration `json:"timeout"`
	Port    int             `json:"port"`
}

// HTTPProber probes addresses over HTTP. Safe for concurrent use.
type HTTPProber struct {
	client  *http.Client
	timeout time.Duration
	port    int
	log     zerolog.Logger
	now     func() time.Time
}

// NewHTTPProber creates a prober with its own pooled HTTP client.
func NewHTTPProber(cfg Config, log zerolog.Logger) *HTTPProber {
	timeout := cfg.Timeout.AsDuration(defaultTimeout)

	port := cfg.Port
	if port <= 0 {
		port = defaultPort
	}

	return &HTTPProber{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		timeout: timeout,
		port:    port,
		log:     log,
		now:     time.Now,
	}
}

func (p *HTTPProber) Probe(ctx context.Context, host string) *models.ProbeResult {
	return p.fetch(ctx, host, statePath)
}

func (p *HTTPProber) Check(ctx context.Context, host string) *models.ProbeResult {
	return p.fetch(ctx, host, infoPath)
}

func (p *HTTPProber) fetch(ctx context.Context, host, path string) *models.ProbeResult {
	start := p.now()
	result := &models.ProbeResult{
		Host:      host,
		Timestamp: start,
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL(host)+path, http.NoBody)
	if err != nil {
		result.Outcome = models.OutcomeUnreachable
		result.Error = fmt.Errorf("%w: %w", errInvalidAddress, err)

		return result
	}

	resp, err := p.client.Do(req)
	result.RespTime = p.now().Sub(start)

	if err != nil {
		result.Outcome = classifyTransportError(err)
		result.Error = err

		return result
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Outcome = models.OutcomeProtocolMismatch
		result.Error = fmt.Errorf("%w: status %d", errUnexpectedStatus, resp.StatusCode)

		return result
	}

	device, err := parseDeviceDocument(resp.Body, host, p.port, start)
	if err != nil {
		result.Outcome = models.OutcomeProtocolMismatch
		result.Error = err

		return result
	}

	result.Outcome = models.OutcomeSuccess
	result.Device = device

	return result
}

// PushState POSTs a partial state document. Devices answer with a small JSON
// acknowledgement or nothing at all; both count as success.
func (p *HTTPProber) PushState(ctx context.Context, host string, state *models.DeviceState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return p.PushRaw(ctx, host, body)
}

// PushRaw POSTs a pre-encoded request body to the state path.
func (p *HTTPProber) PushRaw(ctx context.Context, host string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL(host)+statePath+"/state", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidAddress, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push state to %s: %w", host, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", errUnexpectedStatus, resp.StatusCode)
	}

	return nil
}

func (p *HTTPProber) baseURL(host string) string {
	if p.port != defaultPort {
		return "http://" + net.JoinHostPort(host, strconv.Itoa(p.port))
	}

	return "http://" + host
}

func classifyTransportError(err error) models.ProbeOutcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.OutcomeTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.OutcomeTimeout
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return models.OutcomeTimeout
	}

	// Connection refused, host unreachable, DNS failure.
	return models.OutcomeUnreachable
}

// deviceDocument mirrors the identity/state document devices return from the
// fixed JSON path. Only the fields the core needs are decoded.
type deviceDocument struct {
	State *models.DeviceState `json:"state"`
	Info  deviceInfo          `json:"info"`
}

type deviceInfo struct {
	MAC     string `json:"mac"`
	Name    string `json:"name"`
	Version string `json:"ver"`
	LEDs    struct {
		Count int `json:"count"`
	} `json:"leds"`
}

func parseDeviceDocument(r io.Reader, host string, port int, seen time.Time) (*models.Device, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}

	var doc deviceDocument

	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}

	// The info path returns the info document bare, without the wrapper.
	if doc.Info.MAC == "" {
		if err := json.Unmarshal(data, &doc.Info); err != nil {
			return nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
		}
	}

	if doc.Info.MAC == "" {
		return nil, errMissingIdentifier
	}

	return &models.Device{
		ID:        NormalizeID(doc.Info.MAC),
		Name:      doc.Info.Name,
		Host:      host,
		Port:      port,
		Version:   doc.Info.Version,
		LEDCount:  doc.Info.LEDs.Count,
		FirstSeen: seen,
		LastSeen:  seen,
		State:     doc.State,
	}, nil
}

// NormalizeID canonicalizes a hardware address into colon-separated
// uppercase form so the same device matches regardless of source formatting.
func NormalizeID(raw string) string {
	hex := strings.ToUpper(strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(raw)))
	if len(hex)%2 != 0 {
		return strings.ToUpper(raw)
	}

	parts := make([]string, 0, len(hex)/2)
	for i := 0; i+2 <= len(hex); i += 2 {
		parts = append(parts, hex[i:i+2])
	}

	return strings.Join(parts, ":")
}
