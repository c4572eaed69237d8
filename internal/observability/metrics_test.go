package observability

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	a := NewMetrics("")
	b := NewMetrics("")

	a.TicksTotal.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.TicksTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.TicksTotal))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics("test")
	m.SpreadOpen.Set(42)
	m.Commands.WithLabelValues("open", "ok").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_market_spread_open 42")
	assert.Contains(t, string(body), `test_telegram_commands_total{command="open",result="ok"} 1`)
}
