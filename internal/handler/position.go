package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tourguard/internal/geo"
	"tourguard/internal/model"
	"tourguard/internal/service"
)

// maxBatch caps the samples accepted by one batch request.
const maxBatch = 500

// PositionHandler is the device-facing ingest boundary plus tourist
// lifecycle and status queries.
type PositionHandler struct {
	engine *service.Engine
}

func NewPositionHandler(engine *service.Engine) *PositionHandler {
	return &PositionHandler{engine: engine}
}

// Submit ingests one position sample
// @Summary Submit position
// @Description Run one position sample through ingest, zone evaluation, alert routing and scoring. Stale or duplicate samples are dropped and reported with accepted=false.
// @Tags Positions
// @Accept json
// @Produce json
// @Param sample body model.PositionSample true "Position sample"
// @Success 200 {object} model.IngestResult
// @Failure 400 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /positions [post]
func (h *PositionHandler) Submit(c *gin.Context) {
	var s model.PositionSample
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.engine.SubmitPosition(c.Request.Context(), s)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SubmitBatch ingests samples in order
// @Summary Submit position batch
// @Description Submit buffered samples in order. Each sample gets its own result; invalid samples do not stop the batch.
// @Tags Positions
// @Accept json
// @Produce json
// @Param samples body []model.PositionSample true "Samples"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /positions/batch [post]
func (h *PositionHandler) SubmitBatch(c *gin.Context) {
	var samples []model.PositionSample
	if err := c.ShouldBindJSON(&samples); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(samples) > maxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batch too large", "max": maxBatch})
		return
	}

	type item struct {
		model.IngestResult
		Error string `json:"error,omitempty"`
	}
	results := make([]item, 0, len(samples))
	accepted := 0
	for _, s := range samples {
		res, err := h.engine.SubmitPosition(c.Request.Context(), s)
		if err != nil {
			if statusFor(err) != http.StatusBadRequest {
				respondError(c, err)
				return
			}
			results = append(results, item{IngestResult: res, Error: err.Error()})
			continue
		}
		if res.Accepted {
			accepted++
		}
		results = append(results, item{IngestResult: res})
	}
	c.JSON(http.StatusOK, gin.H{
		"accepted": accepted,
		"total":    len(samples),
		"results":  results,
	})
}

// PanicRequest is the body of a panic call.
type PanicRequest struct {
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
	Message string   `json:"message"`
}

// Panic raises a panic alert
// @Summary Panic button
// @Description Raise a high-severity panic alert for the tourist. Never suppressed. Without coordinates the last accepted position is used.
// @Tags Positions
// @Accept json
// @Produce json
// @Param id path string true "Tourist ID"
// @Param request body PanicRequest false "Location and message"
// @Success 202 {object} model.Alert
// @Failure 400 {object} map[string]string
// @Router /tourists/{id}/panic [post]
func (h *PositionHandler) Panic(c *gin.Context) {
	var req PanicRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	var loc *geo.Point
	if req.Lat != nil && req.Lon != nil {
		loc = &geo.Point{Lat: *req.Lat, Lon: *req.Lon}
	}
	alert, err := h.engine.Panic(c.Request.Context(), c.Param("id"), loc, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, alert)
}

// RegisterRequest registers or renames a tourist.
type RegisterRequest struct {
	ID    string `json:"id" binding:"required"`
	Name  string `json:"name"`
	Scope string `json:"scope"`
}

// Register creates or updates a tourist
// @Summary Register tourist
// @Description Register a tourist with a display name and home scope. Tourists are also created by their first sample.
// @Tags Tourists
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RegisterRequest true "Tourist"
// @Success 201 {object} model.TouristStatus
// @Failure 400 {object} map[string]string
// @Router /tourists [post]
func (h *PositionHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := h.engine.RegisterTourist(c.Request.Context(), req.ID, req.Name, req.Scope)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

// Status returns the tracked state of a tourist
// @Summary Tourist status
// @Description Position, current zones, safety score, open alerts and nearby zones.
// @Tags Tourists
// @Produce json
// @Security BearerAuth
// @Param id path string true "Tourist ID"
// @Success 200 {object} model.TouristStatus
// @Failure 404 {object} map[string]string
// @Router /tourists/{id}/status [get]
func (h *PositionHandler) Status(c *gin.Context) {
	st, err := h.engine.GetTouristStatus(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// EndSession archives a tourist
// @Summary End tourist session
// @Description Resolve the tourist's open alerts and forget their memberships without exit alerts.
// @Tags Tourists
// @Security BearerAuth
// @Param id path string true "Tourist ID"
// @Success 204
// @Failure 404 {object} map[string]string
// @Router /tourists/{id} [delete]
func (h *PositionHandler) EndSession(c *gin.Context) {
	if err := h.engine.EndSession(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
