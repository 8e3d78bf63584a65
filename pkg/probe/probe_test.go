package probe

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesdetic/ledmesh/pkg/config"
	"github.com/aesdetic/ledmesh/pkg/logger"
	"github.com/aesdetic/ledmesh/pkg/models"
)

const sampleDocument = `{
	"state": {"on": true, "bri": 128},
	"info": {
		"mac": "aa:bb:cc:dd:ee:ff",
		"name": "bedroom-strip",
		"ver": "0.14.1",
		"leds": {"count": 144}
	}
}`

// proberFor builds a prober pointed at the test server's port, returning the
// server host to probe.
func proberFor(t *testing.T, srv *httptest.Server, timeout time.Duration) (*HTTPProber, string) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := Config{Port: port}
	if timeout > 0 {
		cfg.Timeout = config.Duration(timeout)
	}

	return NewHTTPProber(cfg, logger.NewTestLogger()), host
}

func TestProbeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json", r.URL.Path)
		_, _ = w.Write([]byte(sampleDocument))
	}))
	defer srv.Close()

	prober, host := proberFor(t, srv, 0)

	result := prober.Probe(context.Background(), host)

	require.Equal(t, models.OutcomeSuccess, result.Outcome)
	require.NotNil(t, result.Device)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", result.Device.ID)
	assert.Equal(t, "bedroom-strip", result.Device.Name)
	assert.Equal(t, "0.14.1", result.Device.Version)
	assert.Equal(t, 144, result.Device.LEDCount)
	assert.Equal(t, host, result.Device.Host)
	require.NotNil(t, result.Device.State)
	require.NotNil(t, result.Device.State.On)
	assert.True(t, *result.Device.State.On)
}

func TestCheckUsesInfoPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/json/info", r.URL.Path)
		// The info path returns the info document bare.
		_, _ = w.Write([]byte(`{"mac": "11-22-33-44-55-66", "name": "porch", "leds": {"count": 30}}`))
	}))
	defer srv.Close()

	prober, host := proberFor(t, srv, 0)

	result := prober.Check(context.Background(), host)

	require.Equal(t, models.OutcomeSuccess, result.Outcome)
	require.NotNil(t, result.Device)
	assert.Equal(t, "11:22:33:44:55:66", result.Device.ID)
	assert.Equal(t, 30, result.Device.LEDCount)
}

func TestProbeTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	prober, host := proberFor(t, srv, 50*time.Millisecond)

	result := prober.Probe(context.Background(), host)

	assert.Equal(t, models.OutcomeTimeout, result.Outcome)
	assert.True(t, result.Outcome.Bannable())
	assert.Error(t, result.Error)
}

func TestProbeUnreachable(t *testing.T) {
	// Bind a listener and close it so the port refuses connections.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	prober := NewHTTPProber(Config{Port: port, Timeout: config.Duration(time.Second)}, logger.NewTestLogger())

	result := prober.Probe(context.Background(), "127.0.0.1")

	assert.Equal(t, models.OutcomeUnreachable, result.Outcome)
	assert.True(t, result.Outcome.Bannable())
}

func TestProbeProtocolMismatch(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
		},
		{
			name: "non-JSON body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("<html>router admin page</html>"))
			},
		},
		{
			name: "JSON without identifier",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"info": {"name": "something-else"}}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			prober, host := proberFor(t, srv, 0)

			result := prober.Probe(context.Background(), host)

			assert.Equal(t, models.OutcomeProtocolMismatch, result.Outcome)
			assert.False(t, result.Outcome.Bannable(), "a live non-device host must not be banned")
			assert.Nil(t, result.Device)
		})
	}
}

func TestPushStateEmptyResponseIsSuccess(t *testing.T) {
	var received []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/json/state", r.URL.Path)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		received = body

		// Devices often answer 200 with an empty body.
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	prober, host := proberFor(t, srv, 0)

	on := true
	bri := uint8(200)

	err := prober.PushState(context.Background(), host, &models.DeviceState{On: &on, Brightness: &bri})
	require.NoError(t, err)
	assert.JSONEq(t, `{"on": true, "bri": 200}`, string(received))
}

func TestPushRawRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	prober, host := proberFor(t, srv, 0)

	err := prober.PushRaw(context.Background(), host, []byte(`{"on": false}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"aa:bb:cc:dd:ee:ff", "AA:BB:CC:DD:EE:FF"},
		{"AA-BB-CC-DD-EE-FF", "AA:BB:CC:DD:EE:FF"},
		{"aabbccddeeff", "AA:BB:CC:DD:EE:FF"},
		{"  aabbccddeeff  ", "AA:BB:CC:DD:EE:FF"},
		{"abc", "ABC"}, // odd length passes through
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeID(tt.input), "input %q", tt.input)
	}
}
