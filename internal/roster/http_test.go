package roster

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-monitor/internal/trip"
)

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

func TestHTTPSourceDecodesArrayAndWrapped(t *testing.T) {
	bodies := map[string]string{
		"/array":   `[{"tripId":"T1","routeId":"R1","vehicleId":"BUS-1","status":"ongoing","startedAt":"2025-03-01T07:00:00Z"}]`,
		"/wrapped": `{"data":[{"tripId":"T1","routeId":"R1","vehicleId":"BUS-1","status":"ongoing","startedAt":"2025-03-01T07:00:00Z"}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer api-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(bodies[r.URL.Path]))
	}))
	defer srv.Close()

	want := []trip.OngoingTrip{{TripID: "T1", RouteID: "R1", VehicleID: "BUS-1", Status: "ongoing", StartedAt: time.Date(2025, 3, 1, 7, 0, 0, 0, time.UTC)}}
	for path := range bodies {
		src := NewHTTPSource(srv.URL+path, staticTokens("api-token"), time.Second)
		got, err := src.FetchOngoing(context.Background())
		require.NoError(t, err, path)
		require.Len(t, got, 1)
		assert.True(t, want[0].Equal(got[0]), path)
	}
}

func TestHTTPSourceStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, nil, time.Second).FetchOngoing(context.Background())
	assert.ErrorIs(t, err, ErrStatus)
}

func TestDecodeRosterEmpty(t *testing.T) {
	trips, err := decodeRoster([]byte(` [] `))
	require.NoError(t, err)
	assert.Empty(t, trips)

	_, err = decodeRoster([]byte(`<html>`))
	assert.Error(t, err)
}
