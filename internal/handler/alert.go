package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tourguard/internal/middleware"
	"tourguard/internal/model"
	"tourguard/internal/service"
)

// RecentAlerts is the read-side feed kept in Redis.
type RecentAlerts interface {
	RecentAlerts(ctx context.Context, n int) ([]model.Alert, error)
}

// AlertHandler serves the authority side of alerts.
type AlertHandler struct {
	engine *service.Engine
	recent RecentAlerts
}

func NewAlertHandler(engine *service.Engine, recent RecentAlerts) *AlertHandler {
	return &AlertHandler{engine: engine, recent: recent}
}

// Active returns open alerts for the caller's scope
// @Summary Active alerts
// @Description Open alerts visible to the caller, highest severity first. Global callers may pass scope.
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param scope query string false "Scope (global callers only)"
// @Success 200 {object} map[string]interface{}
// @Router /alerts/active [get]
func (h *AlertHandler) Active(c *gin.Context) {
	scope := middleware.CallerScope(c)
	alerts := h.engine.GetActiveAlerts(scope)
	if alerts == nil {
		alerts = []model.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts, "total": len(alerts), "scope": scope})
}

func parseFilter(c *gin.Context) (model.AlertFilter, error) {
	f := model.AlertFilter{
		Scope:     middleware.CallerScope(c),
		TouristID: c.Query("tourist_id"),
		Kind:      model.AlertKind(c.Query("kind")),
		Status:    model.AlertStatus(c.Query("status")),
		Limit:     100,
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return f, model.Invalid("kind", "unknown alert kind %q", f.Kind)
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, model.Invalid("since", "expected RFC3339 time")
		}
		f.Since = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, model.Invalid("limit", "expected a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

// List returns alert history
// @Summary List alerts
// @Description Alert history newest first, filtered by tourist, kind, status and creation time.
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param scope query string false "Scope (global callers only)"
// @Param tourist_id query string false "Tourist ID"
// @Param kind query string false "ZONE_ENTRY, ZONE_EXIT, PANIC, INACTIVITY or ANOMALY"
// @Param status query string false "active, investigating, responding or resolved"
// @Param since query string false "RFC3339 lower bound on creation time"
// @Param limit query int false "Max results (0 for all)" default(100)
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /alerts [get]
func (h *AlertHandler) List(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	alerts, err := h.engine.ListAlerts(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts, "total": len(alerts)})
}

// Get returns one alert
// @Summary Get alert
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Alert ID"
// @Success 200 {object} model.Alert
// @Failure 404 {object} map[string]string
// @Router /alerts/{id} [get]
func (h *AlertHandler) Get(c *gin.Context) {
	a, err := h.engine.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if !model.ScopeMatches(middleware.CallerScope(c), a.Scope) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, a)
}

// StatusRequest moves an alert through its lifecycle.
type StatusRequest struct {
	Status model.AlertStatus `json:"status" binding:"required"`
	Note   string            `json:"note"`
}

// UpdateStatus changes an alert's status
// @Summary Update alert status
// @Description active -> investigating | responding | resolved, investigating <-> responding, any open -> resolved. Resolved is terminal.
// @Tags Alerts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Alert ID"
// @Param request body StatusRequest true "New status"
// @Success 200 {object} model.Alert
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /alerts/{id}/status [post]
func (h *AlertHandler) UpdateStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !h.visible(c) {
		return
	}
	a, err := h.engine.UpdateAlertStatus(c.Request.Context(), c.Param("id"), req.Status, req.Note)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// Resend queues another delivery attempt
// @Summary Resend alert
// @Description Re-queue delivery of an open alert, typically after delivery failed.
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param id path string true "Alert ID"
// @Success 202 {object} model.Alert
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /alerts/{id}/resend [post]
func (h *AlertHandler) Resend(c *gin.Context) {
	if !h.visible(c) {
		return
	}
	a, err := h.engine.ResendAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, a)
}

// visible writes a 404 and returns false when the alert is outside the
// caller's scope.
func (h *AlertHandler) visible(c *gin.Context) bool {
	a, err := h.engine.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return false
	}
	if !model.ScopeMatches(middleware.CallerScope(c), a.Scope) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return false
	}
	return true
}

// Recent returns the latest alerts from the cache
// @Summary Recent alerts
// @Description Newest alerts as mirrored into Redis, across scopes the caller may see.
// @Tags Alerts
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Max results" default(50)
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]string
// @Router /alerts/recent [get]
func (h *AlertHandler) Recent(c *gin.Context) {
	if h.recent == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert cache not configured"})
		return
	}
	n, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	alerts, err := h.recent.RecentAlerts(c.Request.Context(), n)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	scope := middleware.CallerScope(c)
	out := make([]model.Alert, 0, len(alerts))
	for _, a := range alerts {
		if model.ScopeMatches(scope, a.Scope) {
			out = append(out, a)
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "total": len(out)})
}

// Export downloads alerts as a workbook
// @Summary Export alerts
// @Description XLSX workbook with one row per alert and a per-kind summary sheet. Accepts the same filters as the list endpoint.
// @Tags Alerts
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param scope query string false "Scope (global callers only)"
// @Param status query string false "Status"
// @Param since query string false "RFC3339 lower bound on creation time"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Router /alerts/export [get]
func (h *AlertHandler) Export(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if c.Query("limit") == "" {
		f.Limit = 0
	}
	alerts, err := h.engine.ListAlerts(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	buf, err := service.ExportAlerts(alerts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	name := fmt.Sprintf("alerts_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}
