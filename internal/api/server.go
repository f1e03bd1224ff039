// Package api exposes the engine's state over a local HTTP surface so
// dashboards and scripts can read the synchronized snapshot.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lancachetools/lansync/internal/assoc"
	"github.com/lancachetools/lansync/internal/channel"
	"github.com/lancachetools/lansync/internal/notify"
	"github.com/lancachetools/lansync/internal/prefs"
	"github.com/lancachetools/lansync/internal/timefilter"
	"github.com/lancachetools/lansync/internal/uistate"
	"github.com/lancachetools/lansync/pkg/metrics"
	"github.com/lancachetools/lansync/pkg/version"
)

// Deps are the engine components the API reads from.
type Deps struct {
	Channel       *channel.Manager
	Notifications *notify.Aggregator
	Associations  *assoc.Cache
	Preferences   *prefs.Synchronizer
	TimeFilter    *timefilter.Filter
	UIState       *uistate.State
	Metrics       *metrics.Metrics
}

// Server serves the local snapshot API.
type Server struct {
	logger *zap.Logger
	deps   Deps
}

// NewServer creates the API server.
func NewServer(logger *zap.Logger, deps Deps) *Server {
	return &Server{logger: logger.Named("api"), deps: deps}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/api/connection", s.handleConnection)
	r.GET("/api/notifications", s.handleNotifications)
	r.DELETE("/api/notifications/:id", s.handleDismiss)
	r.GET("/api/associations/:id", s.handleAssociations)
	r.GET("/api/preferences", s.handlePreferences)
	r.PUT("/api/preferences/:key", s.handleSetPreference)
	r.GET("/api/timefilter", s.handleTimeFilter)
	r.PUT("/api/timefilter", s.handleSetTimeFilter)
	r.GET("/api/eventfilter", s.handleEventFilter)
	r.PUT("/api/eventfilter", s.handleSetEventFilter)
	r.GET("/api/servicetab", s.handleServiceTab)
	r.PUT("/api/servicetab", s.handleSetServiceTab)

	if s.deps.Metrics != nil {
		r.GET("/metrics", s.deps.Metrics.Handler())
	}
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Get(),
	})
}

func (s *Server) handleConnection(c *gin.Context) {
	state := s.deps.Channel.State()
	c.JSON(http.StatusOK, gin.H{
		"state":     state.String(),
		"connected": state == channel.StateConnected,
	})
}

func (s *Server) handleNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"notifications": s.deps.Notifications.Items()})
}

func (s *Server) handleDismiss(c *gin.Context) {
	s.deps.Notifications.Dismiss(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAssociations(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid download id"})
		return
	}

	// Populate lazily on first access; a fetch failure still returns the
	// cached (possibly empty) associations.
	if err := s.deps.Associations.Fetch(c.Request.Context(), []int64{id}); err != nil {
		s.logger.Warn("association fetch", zap.Int64("id", id), zap.Error(err))
	}
	c.JSON(http.StatusOK, s.deps.Associations.Get(id))
}

func (s *Server) handlePreferences(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Preferences.All())
}

func (s *Server) handleSetPreference(c *gin.Context) {
	var body struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.deps.Preferences.SetOptimistic(c.Request.Context(), c.Param("key"), body.Value); err != nil {
		// The optimistic value is applied locally either way.
		c.JSON(http.StatusAccepted, gin.H{"applied": true, "confirmed": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": true, "confirmed": true})
}

func (s *Server) handleTimeFilter(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.TimeFilter.Params())
}

func (s *Server) handleSetTimeFilter(c *gin.Context) {
	var body struct {
		Range timefilter.Range `json:"range" binding:"required"`
		Start time.Time        `json:"start"`
		End   time.Time        `json:"end"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if body.Range == timefilter.RangeCustom {
		if body.Start.IsZero() || body.End.IsZero() || !body.End.After(body.Start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "custom range requires start < end"})
			return
		}
		s.deps.TimeFilter.SelectCustom(c.Request.Context(), body.Start, body.End)
	} else {
		s.deps.TimeFilter.Select(c.Request.Context(), body.Range)
	}
	c.JSON(http.StatusOK, s.deps.TimeFilter.Params())
}

func (s *Server) handleEventFilter(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"eventIds": s.deps.UIState.EventFilter()})
}

func (s *Server) handleSetEventFilter(c *gin.Context) {
	var body struct {
		EventIDs []int64 `json:"eventIds"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.deps.UIState.SetEventFilter(c.Request.Context(), body.EventIDs)
	c.JSON(http.StatusOK, gin.H{"eventIds": s.deps.UIState.EventFilter()})
}

func (s *Server) handleServiceTab(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tab": s.deps.UIState.ServiceTab()})
}

func (s *Server) handleSetServiceTab(c *gin.Context) {
	var body struct {
		Tab string `json:"tab" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.deps.UIState.SetServiceTab(c.Request.Context(), body.Tab)
	c.JSON(http.StatusOK, gin.H{"tab": body.Tab})
}
