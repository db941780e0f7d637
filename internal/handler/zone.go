package handler

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tourguard/internal/geo"
	"tourguard/internal/model"
	"tourguard/internal/service"
	"tourguard/internal/store"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ZoneHistory is implemented by repositories that keep zone versions.
type ZoneHistory interface {
	ZoneHistory(ctx context.Context, zoneID string) ([]store.ZoneVersionRecord, error)
}

type importTask struct {
	result  service.ZoneImportResult
	created time.Time
}

// ZoneHandler is the administration boundary for risk zones.
type ZoneHandler struct {
	zones        *service.ZoneStore
	history      ZoneHistory
	nearbyRadius float64

	tasksMu sync.Mutex
	tasks   map[string]*importTask
}

func NewZoneHandler(zones *service.ZoneStore, nearbyRadius float64) *ZoneHandler {
	return &ZoneHandler{
		zones:        zones,
		nearbyRadius: nearbyRadius,
		tasks:        make(map[string]*importTask),
	}
}

// SetHistory enables the zone version history endpoint.
func (h *ZoneHandler) SetHistory(history ZoneHistory) {
	h.history = history
}

// List returns the active zones
// @Summary List zones
// @Description Active zones in the current snapshot, optionally narrowed by scope and category.
// @Tags Zones
// @Produce json
// @Security BearerAuth
// @Param scope query string false "Scope"
// @Param category query string false "Category"
// @Success 200 {object} map[string]interface{}
// @Router /zones [get]
func (h *ZoneHandler) List(c *gin.Context) {
	snap := h.zones.Snapshot()
	scope := c.Query("scope")
	category := c.Query("category")
	zones := make([]model.Zone, 0, snap.Len())
	for _, z := range snap.Zones {
		if scope != "" && !model.ScopeMatches(scope, z.Scope) {
			continue
		}
		if category != "" && z.Category != category {
			continue
		}
		zones = append(zones, *z)
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    zones,
		"total":   len(zones),
		"version": snap.Version,
	})
}

// Get returns one active zone
// @Summary Get zone
// @Tags Zones
// @Produce json
// @Security BearerAuth
// @Param id path string true "Zone ID"
// @Success 200 {object} model.Zone
// @Failure 404 {object} map[string]string
// @Router /zones/{id} [get]
func (h *ZoneHandler) Get(c *gin.Context) {
	z, ok := h.zones.Snapshot().Zone(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "zone not found"})
		return
	}
	c.JSON(http.StatusOK, z)
}

// Create adds a zone
// @Summary Create zone
// @Description Validate and publish a new zone. Returns the new snapshot version.
// @Tags Zones
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param zone body model.Zone true "Zone"
// @Success 201 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /zones [post]
func (h *ZoneHandler) Create(c *gin.Context) {
	var z model.Zone
	if err := c.ShouldBindJSON(&z); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	z.ID = ""
	id, version, err := h.zones.Upsert(c.Request.Context(), z)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "version": version})
}

// Update replaces a zone
// @Summary Update zone
// @Description Replace the zone with the given ID. Creates it when unknown.
// @Tags Zones
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Zone ID"
// @Param zone body model.Zone true "Zone"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /zones/{id} [put]
func (h *ZoneHandler) Update(c *gin.Context) {
	var z model.Zone
	if err := c.ShouldBindJSON(&z); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	z.ID = c.Param("id")
	id, version, err := h.zones.Upsert(c.Request.Context(), z)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "version": version})
}

// Retire removes a zone from the active set
// @Summary Retire zone
// @Description Tourists inside the zone get an exit transition on their next sample.
// @Tags Zones
// @Produce json
// @Security BearerAuth
// @Param id path string true "Zone ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /zones/{id} [delete]
func (h *ZoneHandler) Retire(c *gin.Context) {
	version, err := h.zones.Retire(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "version": version})
}

// History lists stored versions of a zone
// @Summary Zone history
// @Tags Zones
// @Produce json
// @Security BearerAuth
// @Param id path string true "Zone ID"
// @Success 200 {object} map[string]interface{}
// @Failure 501 {object} map[string]string
// @Router /zones/{id}/history [get]
func (h *ZoneHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "zone history requires a database"})
		return
	}
	versions, err := h.history.ZoneHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(versions) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "zone not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": versions, "total": len(versions)})
}

// CheckRequest is a point to test against the current snapshot.
type CheckRequest struct {
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Radius float64 `json:"radius"`
}

// Check reports which zones contain a point
// @Summary Check location
// @Description Zones containing the point and zones within radius meters of it.
// @Tags Zones
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CheckRequest true "Point"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /zones/check [post]
func (h *ZoneHandler) Check(c *gin.Context) {
	var req CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := geo.Point{Lat: req.Lat, Lon: req.Lon}
	if !p.Valid() {
		respondError(c, model.Invalid("lat", "coordinate out of range"))
		return
	}
	radius := req.Radius
	if radius <= 0 {
		radius = h.nearbyRadius
	}
	snap := h.zones.Snapshot()
	inside := make([]model.Zone, 0)
	for _, id := range snap.Query(p) {
		if z, ok := snap.Zone(id); ok {
			inside = append(inside, *z)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"inside":  inside,
		"nearby":  snap.Nearby(p, radius),
		"version": snap.Version,
	})
}

// DownloadImportTemplate returns the zone import workbook
// @Summary Download zone import template
// @Tags Zones
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Success 200 {file} binary
// @Router /zones/import-template [get]
func (h *ZoneHandler) DownloadImportTemplate(c *gin.Context) {
	buf, err := service.GenerateZoneTemplate()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", "attachment; filename=zone_import_template.xlsx")
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// Import loads zones from an uploaded workbook
// @Summary Import zones from Excel
// @Description Every valid row is published; invalid rows are reported and can be downloaded as an error workbook.
// @Tags Zones
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "Excel file"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /zones/import [post]
func (h *ZoneHandler) Import(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".xlsx") && header.Header.Get("Content-Type") != xlsxContentType {
		c.JSON(http.StatusBadRequest, gin.H{"error": "upload an .xlsx workbook"})
		return
	}

	rows, err := service.ParseZoneSheet(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no data rows in workbook"})
		return
	}

	result := service.ImportZones(c.Request.Context(), h.zones, rows)
	taskID := uuid.NewString()
	h.saveTask(taskID, result)

	resp := gin.H{"task_id": taskID, "result": result}
	if result.Failed > 0 {
		resp["errors_url"] = fmt.Sprintf("/api/v1/zones/import/%s/errors", taskID)
	}
	c.JSON(http.StatusOK, resp)
}

// DownloadImportErrorReport returns the failed rows of an import
// @Summary Download zone import error report
// @Tags Zones
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Security BearerAuth
// @Param task_id path string true "Task ID"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string
// @Router /zones/import/{task_id}/errors [get]
func (h *ZoneHandler) DownloadImportErrorReport(c *gin.Context) {
	h.tasksMu.Lock()
	task, ok := h.tasks[c.Param("task_id")]
	h.tasksMu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "import task not found"})
		return
	}
	if task.result.Failed == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "import had no errors"})
		return
	}
	buf, err := service.GenerateZoneErrorReport(task.result.Errors)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", "attachment; filename=zone_import_errors.xlsx")
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// import results are kept for an hour
const importTaskTTL = time.Hour

func (h *ZoneHandler) saveTask(id string, result service.ZoneImportResult) {
	h.tasksMu.Lock()
	defer h.tasksMu.Unlock()
	now := time.Now()
	for k, t := range h.tasks {
		if now.Sub(t.created) > importTaskTTL {
			delete(h.tasks, k)
		}
	}
	h.tasks[id] = &importTask{result: result, created: now}
}
