package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthhq/hearth/pkg/database"
	"github.com/hearthhq/hearth/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /health.
// Only hearth's own components are checked. The hub has no failure mode of
// its own, so the database is the only check that can fail the probe.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.dbClient != nil {
		if _, err := database.Health(reqCtx, s.dbClient.DB()); err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	stats := s.hub.Stats()
	checks["hub"] = HealthCheck{Status: healthStatusHealthy}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:      status,
		Version:     version.GitCommit,
		Checks:      checks,
		Connections: stats.Connections,
	})
}
