package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/perfeye/internal/errs"
	"github.com/perfeye/internal/ingest"
	"github.com/perfeye/internal/models"
	"github.com/perfeye/internal/rules"
	"github.com/perfeye/internal/store"
	"github.com/perfeye/internal/tracker"
)

type Server struct {
	gateway  *ingest.Gateway
	store    *store.Store
	registry *rules.Registry
	tracker  *tracker.Tracker
	log      *logrus.Logger
	router   *gin.Engine
}

func NewServer(gateway *ingest.Gateway, st *store.Store, registry *rules.Registry, tr *tracker.Tracker, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	server := &Server{
		gateway:  gateway,
		store:    st,
		registry: registry,
		tracker:  tr,
		log:      log,
		router:   gin.New(),
	}
	server.router.Use(gin.Recovery())
	server.router.Use(cors.Default())
	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health)

	api := s.router.Group("/api/v1")

	api.POST("/samples", s.ingestSample)
	api.POST("/samples/batch", s.ingestBatch)
	api.GET("/samples", s.listSamples)
	api.GET("/rollups", s.listRollups)
	api.GET("/metrics/:metric/targets", s.listTargets)

	api.GET("/alerts", s.listAlerts)
	api.GET("/alerts/open", s.listOpenAlerts)

	ruleRoutes := api.Group("/rules")
	{
		ruleRoutes.GET("", s.listRules)
		ruleRoutes.POST("", s.createRule)
		ruleRoutes.GET("/:id", s.getRule)
		ruleRoutes.PUT("/:id", s.updateRule)
		ruleRoutes.DELETE("/:id", s.deleteRule)
		ruleRoutes.PUT("/:id/enable", s.enableRule)
		ruleRoutes.PUT("/:id/disable", s.disableRule)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(port int) error {
	return s.router.Run(fmt.Sprintf(":%d", port))
}

// writeError maps the error taxonomy to HTTP status codes.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errs.IsValidation(err), errs.IsConfiguration(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errs.IsStoreUnavailable(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable"})
		s.log.WithError(err).Error("store unavailable")
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"open_alerts": s.tracker.OpenCount(),
		"timestamp":   time.Now().UTC(),
	})
}

func (s *Server) ingestSample(c *gin.Context) {
	var sample models.MetricSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.gateway.Accept(c.Request.Context(), &sample); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) ingestBatch(c *gin.Context) {
	var samples []*models.MetricSample
	if err := c.ShouldBindJSON(&samples); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(samples) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch must not be empty"})
		return
	}
	summary := s.gateway.AcceptBatch(c.Request.Context(), samples)
	status := http.StatusAccepted
	if summary.Accepted == 0 {
		status = http.StatusBadRequest
	}
	c.JSON(status, summary)
}

func (s *Server) listSamples(c *gin.Context) {
	metric := c.Query("metric")
	target := c.Query("target")
	if metric == "" || target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metric and target are required"})
		return
	}
	since, until, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	samples, err := s.store.ReadWindow(metric, target, since, until)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if limit := c.Query("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n >= 0 && n < len(samples) {
			samples = samples[:n]
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": samples, "total": len(samples)})
}

func (s *Server) listRollups(c *gin.Context) {
	metric := c.Query("metric")
	target := c.Query("target")
	if metric == "" || target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metric and target are required"})
		return
	}
	since, until, err := parseTimeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rollups, err := s.store.ReadRollups(metric, target, since, until)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": rollups, "total": len(rollups)})
}

func (s *Server) listTargets(c *gin.Context) {
	targets, err := s.store.KnownTargets(c.Param("metric"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": targets, "total": len(targets)})
}

func (s *Server) listAlerts(c *gin.Context) {
	filter := store.AlertFilter{
		Status:   models.AlertStatus(c.Query("status")),
		RuleID:   c.Query("rule"),
		TargetID: c.Query("target"),
	}
	alerts, err := s.store.ListAlertStates(filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": alerts, "total": len(alerts)})
}

func (s *Server) listOpenAlerts(c *gin.Context) {
	alerts := s.tracker.Open()
	c.JSON(http.StatusOK, gin.H{"items": alerts, "total": len(alerts)})
}

func (s *Server) listRules(c *gin.Context) {
	var enabled *bool
	if raw := c.Query("enabled"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "enabled must be true or false"})
			return
		}
		enabled = &v
	}
	items, err := s.registry.ListRules(enabled)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

func (s *Server) createRule(c *gin.Context) {
	var rule models.EvaluationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.registry.CreateRule(&rule); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (s *Server) getRule(c *gin.Context) {
	rule, err := s.registry.GetRule(c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if rule == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) updateRule(c *gin.Context) {
	var rule models.EvaluationRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rule.RuleID = c.Param("id")
	if err := s.registry.UpdateRule(&rule); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (s *Server) deleteRule(c *gin.Context) {
	if err := s.registry.DeleteRule(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) enableRule(c *gin.Context) {
	if err := s.registry.SetEnabled(c.Param("id"), true); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enabled"})
}

func (s *Server) disableRule(c *gin.Context) {
	if err := s.registry.SetEnabled(c.Param("id"), false); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disabled"})
}

// parseTimeRange reads start/end query params (RFC3339). Defaults to the
// last hour when absent.
func parseTimeRange(c *gin.Context) (time.Time, time.Time, error) {
	until := time.Now()
	since := until.Add(-time.Hour)

	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %v", err)
		}
		since = t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %v", err)
		}
		until = t
	}
	return since, until, nil
}
