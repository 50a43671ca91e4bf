// Package api exposes the monitor to dashboard clients over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"trip-monitor/internal/hub"
	"trip-monitor/internal/monitor"
	"trip-monitor/internal/trip"
)

// Monitor is the read and selection surface the handlers need.
type Monitor interface {
	ConnectionState() hub.State
	Trips() []trip.OngoingTrip
	Trip(id trip.ID) (trip.OngoingTrip, bool)
	LocationOf(id trip.ID) (trip.Location, bool)
	AttendanceOf(id trip.ID) (trip.Attendance, bool)
	Stats() trip.Stats
	View() monitor.View
	Select(id trip.ID)
	Deselect(id trip.ID)
	SelectedTripIDs() []trip.ID
	SelectedTrips() []trip.OngoingTrip
	Refresh(ctx context.Context) error
	Subscribe() (<-chan struct{}, func())
}

type Server struct {
	mon  Monitor
	log  *logrus.Entry
	http *http.Server
}

func NewServer(addr string, mon Monitor, origins []string, log *logrus.Entry) *Server {
	s := &Server{mon: mon, log: log}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(origins),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the gin engine. An empty origins list allows any origin.
func (s *Server) Router(origins []string) *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(s.log), gin.Recovery(), corsMiddleware(origins))
	if err := r.SetTrustedProxies(nil); err != nil {
		s.log.WithError(err).Warn("failed to set trusted proxies")
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "path": c.Request.URL.Path})
	})

	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		api.GET("/state", s.state)
		api.GET("/stats", s.stats)
		api.GET("/stream", s.stream)
		api.POST("/refresh", s.refresh)

		trips := api.Group("/trips")
		trips.GET("", s.trips)
		trips.GET("/:id/location", s.location)
		trips.GET("/:id/attendance", s.attendance)

		sel := api.Group("/selection")
		sel.GET("", s.selection)
		sel.PUT("/:id", s.selectTrip)
		sel.DELETE("/:id", s.deselectTrip)
	}
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	cfg.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Accept"}
	cfg.MaxAge = 24 * time.Hour
	return cors.New(cfg)
}

// requestLogger logs one line per request at debug level, errors at warn.
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		entry := log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     status,
			"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"ip":         c.ClientIP(),
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	}
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.http.Addr).Info("api listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }
