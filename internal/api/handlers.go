package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"trip-monitor/internal/trip"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connection": s.mon.ConnectionState()})
}

func (s *Server) state(c *gin.Context) {
	c.JSON(http.StatusOK, s.mon.View())
}

func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.mon.Stats())
}

func (s *Server) trips(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.mon.Trips()})
}

func (s *Server) location(c *gin.Context) {
	id := trip.ID(c.Param("id"))
	if _, ok := s.mon.Trip(id); !ok {
		notFound(c, "trip not found")
		return
	}
	loc, ok := s.mon.LocationOf(id)
	if !ok {
		notFound(c, "no location reported")
		return
	}
	c.JSON(http.StatusOK, loc)
}

func (s *Server) attendance(c *gin.Context) {
	id := trip.ID(c.Param("id"))
	if _, ok := s.mon.Trip(id); !ok {
		notFound(c, "trip not found")
		return
	}
	att, ok := s.mon.AttendanceOf(id)
	if !ok {
		att = trip.Attendance{}
	}
	c.JSON(http.StatusOK, att)
}

func (s *Server) selection(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"selectedTripIds": s.mon.SelectedTripIDs(),
		"trips":           s.mon.SelectedTrips(),
	})
}

func (s *Server) selectTrip(c *gin.Context) {
	s.mon.Select(trip.ID(c.Param("id")))
	c.JSON(http.StatusOK, gin.H{"selectedTripIds": s.mon.SelectedTripIDs()})
}

func (s *Server) deselectTrip(c *gin.Context) {
	s.mon.Deselect(trip.ID(c.Param("id")))
	c.JSON(http.StatusOK, gin.H{"selectedTripIds": s.mon.SelectedTripIDs()})
}

func (s *Server) refresh(c *gin.Context) {
	if err := s.mon.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.mon.Stats())
}

// stream pushes a full view on connect and again after every change.
func (s *Server) stream(c *gin.Context) {
	changes, cancel := s.mon.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", s.mon.View())
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-changes:
			c.SSEvent("snapshot", s.mon.View())
			return true
		}
	})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, gin.H{"error": msg, "tripId": c.Param("id")})
}
