package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"trip-monitor/internal/hub"
	"trip-monitor/internal/trip"
)

func TestAdaptersUpdateCollector(t *testing.T) {
	c := NewCollector(time.Second, 30*time.Second, time.Minute)

	c.Supervisor().SetState(hub.Reconnecting)
	c.Supervisor().ConnectFailureInc()
	c.Roster().SeedInc("error")
	c.Monitor().EventObserve("LocationReported", "stale", time.Millisecond)
	c.Monitor().EventObserve("", "unknown", time.Millisecond)
	c.Monitor().StatsSet(trip.Stats{Trips: 4, StudentsBoarded: 7})

	assert.Equal(t, 3.0, testutil.ToFloat64(c.ConnectionState))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ConnectFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Seeds.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Events.WithLabelValues("LocationReported", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Events.WithLabelValues("unknown", "unknown")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.RosterTrips))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.Students.WithLabelValues("boarded")))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.BackoffMax))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(time.Second, 30*time.Second, 0)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "monitor_backoff_initial_seconds 1"))
}
