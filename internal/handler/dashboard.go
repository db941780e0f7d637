package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tourguard/internal/middleware"
	"tourguard/internal/model"
	"tourguard/internal/service"
)

// DashboardHandler serves the authority overview.
type DashboardHandler struct {
	engine *service.Engine
}

func NewDashboardHandler(engine *service.Engine) *DashboardHandler {
	return &DashboardHandler{engine: engine}
}

// Tourists searches the tourists visible to the caller
// @Summary Search tourists
// @Description Tourists visible to the caller whose id, name, current zones or region contain q. Each carries its score band and a safe, caution or alert label.
// @Tags Tourists
// @Produce json
// @Security BearerAuth
// @Param q query string false "Search text"
// @Param scope query string false "Scope (global callers only)"
// @Success 200 {object} map[string]interface{}
// @Router /tourists [get]
func (h *DashboardHandler) Tourists(c *gin.Context) {
	scope := middleware.CallerScope(c)
	list := h.engine.ListTourists(scope, c.Query("q"))
	if list == nil {
		list = []model.TouristStatus{}
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list), "scope": scope})
}

// Summary returns the headline counters
// @Summary Dashboard summary
// @Description Active tourists, open alerts and alerts resolved today, with per-region tourist and alert counts.
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param scope query string false "Scope (global callers only)"
// @Success 200 {object} model.Summary
// @Failure 500 {object} map[string]string
// @Router /summary [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	sum, err := h.engine.Summary(c.Request.Context(), middleware.CallerScope(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}
