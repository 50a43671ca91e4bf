package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-monitor/internal/config"
	"trip-monitor/internal/hub"
	"trip-monitor/internal/logging"
	"trip-monitor/internal/metrics"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["watch"])
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("verbose"))
}

func TestMetricsAdaptersAreNilWhenDisabled(t *testing.T) {
	assert.Nil(t, supervisorMetrics(nil))
	assert.Nil(t, rosterMetrics(nil))
	assert.Nil(t, monitorMetrics(nil))

	c := metrics.NewCollector(time.Second, 30*time.Second, 0)
	assert.NotNil(t, supervisorMetrics(c))
	assert.NotNil(t, rosterMetrics(c))
	assert.NotNil(t, monitorMetrics(c))
}

func TestNewAppWiresHTTPRoster(t *testing.T) {
	cfg := &config.Config{
		HubTransport:   "websocket",
		HubURL:         "ws://127.0.0.1:1/hub",
		ConnectTimeout: time.Second,
		BackoffInitial: time.Second,
		BackoffMax:     2 * time.Second,
		RosterSource:   "http",
		RosterURL:      "http://127.0.0.1:1/trips",
		SeedTimeout:    time.Second,
	}
	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)
	assert.Nil(t, a.db)
	assert.Nil(t, a.mcol)
	require.NotNil(t, a.monitor)
	assert.Equal(t, hub.Disconnected, a.monitor.ConnectionState())
	assert.Same(t, a.sup.Instance(), a.sup.Instance())
}

func TestNewAppRejectsUnknownTransport(t *testing.T) {
	cfg := &config.Config{HubTransport: "smoke-signals", RosterSource: "http", RosterURL: "http://x"}
	_, err := newApp(context.Background(), cfg, false)
	assert.ErrorIs(t, err, hub.ErrUnknownTransport)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogs(t *testing.T) *lockedBuffer {
	t.Helper()
	out := &lockedBuffer{}
	logging.SetOutput(out)
	t.Cleanup(func() { logging.SetOutput(os.Stderr) })
	return out
}

// localHub serves a websocket hub that holds every session open and a
// roster endpoint returning one trip.
func localHub(t *testing.T) *config.Config {
	t.Helper()
	release := make(chan struct{})
	upgrader := websocket.Upgrader{}
	hubSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		<-release
	}))
	rosterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"tripId":"T1","routeId":"R1","vehicleId":"V1","status":"ongoing"}]`))
	}))
	t.Cleanup(func() {
		close(release)
		hubSrv.Close()
		rosterSrv.Close()
	})
	return &config.Config{
		HubTransport:         "websocket",
		HubURL:               "ws" + strings.TrimPrefix(hubSrv.URL, "http"),
		ConnectTimeout:       time.Second,
		BackoffInitial:       50 * time.Millisecond,
		BackoffMax:           100 * time.Millisecond,
		RosterSource:         "http",
		RosterURL:            rosterSrv.URL,
		TripsRefreshInterval: 20 * time.Millisecond,
		SeedTimeout:          time.Second,
	}
}

func TestWatchLogsFirstConnection(t *testing.T) {
	logs := captureLogs(t)
	cfg := localHub(t)
	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.watch(ctx) }()

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "first hub connection established")
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(a.monitor.Trips()) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after cancellation")
	}
	assert.Equal(t, hub.Disconnected, a.sup.Instance().State())
}

func TestServeStopsMonitorBeforeClosingSupervisor(t *testing.T) {
	logs := captureLogs(t)
	cfg := localHub(t)
	cfg.HTTPAddr = "127.0.0.1:0"
	a, err := newApp(context.Background(), cfg, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx) }()

	require.Eventually(t, func() bool { return a.monitor.ConnectionState() == hub.Connected }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(a.monitor.Trips()) == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
	assert.Equal(t, hub.Disconnected, a.sup.Instance().State())
	assert.Contains(t, logs.String(), "shutdown complete")
}
