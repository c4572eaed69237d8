package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"var_gold/internal/models"
	"var_gold/internal/modules/health/service"
	"var_gold/internal/observability"
)

func newTestServer(t *testing.T) (*httptest.Server, *service.State, *service.Hub) {
	t.Helper()
	state := service.NewState()
	hub := service.NewHub(nil)
	srv := httptest.NewServer(NewMux(state, hub, observability.NewMetrics("")))
	t.Cleanup(srv.Close)
	return srv, state, hub
}

func TestReadyAfterFirstSnapshot(t *testing.T) {
	srv, state, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	state.OnFailure(2, nil)
	state.OnSnapshot(models.MarketSnapshot{TsMs: 1_700_000_000_000, SpreadOpen: 41})

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, float64(1_700_000_000), body["lastTickUnix"])
	assert.Equal(t, float64(0), body["consecutiveApiFailures"])
	assert.Equal(t, 41.0, body["spreadOpen"])
}

func TestFailureStreakIsReported(t *testing.T) {
	_, state, _ := newTestServer(t)
	state.OnFailure(4, nil)
	assert.Equal(t, int64(4), state.FailureStreak())
	assert.False(t, state.Ready())
}

func TestWebsocketReceivesSnapshots(t *testing.T) {
	srv, _, hub := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.OnSnapshot(models.MarketSnapshot{TsMs: 5, SpreadOpen: 40.5, SpreadClose: -39})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg service.TickMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, int64(5), msg.TsMs)
	assert.Equal(t, 40.5, msg.SpreadOpen)
	assert.Equal(t, -39.0, msg.SpreadClose)
}

func TestHubCloseDropsWebsocketClients(t *testing.T) {
	srv, _, hub := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection must be closed by the server, not time out")
	}
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)

	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, hub.Clients())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
