package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthhq/hearth/pkg/scanner"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// statsHandler handles GET /api/v1/realtime/stats.
func (s *Server) statsHandler(c *gin.Context) {
	resp := StatsResponse{
		Hub:           s.hub.Stats(),
		Fanout:        s.cfg.Fanout,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.scanner != nil {
		resp.Rules = s.scanner.Rules()
	}
	c.JSON(http.StatusOK, resp)
}

// auditHandler handles GET /api/v1/realtime/audit: the caller's tenant only.
func (s *Server) auditHandler(c *gin.Context) {
	if s.auditStore == nil {
		abortWithError(c, http.StatusServiceUnavailable, "audit trail not available")
		return
	}

	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			abortWithError(c, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	id := identityFrom(c)
	entries, err := s.auditStore.Recent(c.Request.Context(), id.TenantID, limit)
	if err != nil {
		slog.Error("Failed to read audit trail", "tenant_id", id.TenantID, "error", err)
		abortWithError(c, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := AuditResponse{Entries: make([]AuditEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, AuditEntry{
			Source:    e.Source,
			Action:    e.Action,
			SubjectID: e.SubjectID,
			EventType: e.EventType,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// runRuleHandler handles POST /api/v1/realtime/scanner/rules/:name/run.
// The run is synchronous; the rule's side-effect guard makes it safe to
// overlap with a scheduled run.
func (s *Server) runRuleHandler(c *gin.Context) {
	if s.scanner == nil {
		abortWithError(c, http.StatusServiceUnavailable, "scanner not running")
		return
	}

	name := c.Param("name")
	res, err := s.scanner.RunOnce(c.Request.Context(), name)
	if errors.Is(err, scanner.ErrUnknownRule) {
		abortWithError(c, http.StatusNotFound, "unknown rule")
		return
	}
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err.Error())
		return
	}

	resp := RunRuleResponse{
		Rule:          name,
		Matched:       res.Matched,
		Emitted:       res.Emitted,
		Skipped:       res.Skipped,
		PublishErrors: res.PublishErrors,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	c.JSON(http.StatusOK, resp)
}
