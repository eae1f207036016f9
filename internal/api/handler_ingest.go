package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"growhub-backend/internal/ingest"
	"growhub-backend/internal/model"
	"growhub-backend/internal/mw"
)

// Device-facing endpoints authenticate with the credentials minted at
// registration, not with a user identity.
const (
	deviceUIDHeader = "X-Device-UID"
	apiKeyHeader    = "X-API-Key"
)

func (h *Handler) authenticateDevice(c *gin.Context) (*model.Device, bool) {
	uid := c.GetHeader(deviceUIDHeader)
	key := c.GetHeader(apiKeyHeader)
	if uid == "" || key == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing device credentials", "code": "bad_credentials"})
		return nil, false
	}
	dev, err := h.svc.Devices.Authenticate(c.Request.Context(), uid, key)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return dev, true
}

type ingestRequest struct {
	Events []ingest.Event `json:"events" binding:"required"`
}

// PostIngestLogs accepts a batch of device events and fans them out to the
// plants the device currently serves.
func (h *Handler) PostIngestLogs(c *gin.Context) {
	dev, ok := h.authenticateDevice(c)
	if !ok {
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.svc.Ingest.Ingest(c.Request.Context(), dev, req.Events, time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// PostIngestEnvironment accepts one environment reading cycle.
func (h *Handler) PostIngestEnvironment(c *gin.Context) {
	dev, ok := h.authenticateDevice(c)
	if !ok {
		return
	}
	var req ingest.EnvironmentReading
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rec, err := h.svc.Ingest.IngestEnvironment(c.Request.Context(), dev, req, time.Now().UTC())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// PostIngestConnect marks a device online and notifies subscribers.
func (h *Handler) PostIngestConnect(c *gin.Context) {
	uid := c.GetHeader(deviceUIDHeader)
	key := c.GetHeader(apiKeyHeader)
	dev, err := h.svc.Ingest.HandleConnect(c.Request.Context(), uid, key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": dev.ID, "online": true})
}

// PostIngestDisconnect marks a device offline.
func (h *Handler) PostIngestDisconnect(c *gin.Context) {
	dev, ok := h.authenticateDevice(c)
	if !ok {
		return
	}
	if err := h.svc.Ingest.HandleDisconnect(c.Request.Context(), dev.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"device_id": dev.ID, "online": false})
}

func logFilterFromQuery(c *gin.Context) (ingest.LogFilter, error) {
	var f ingest.LogFilter
	f.EventType = c.Query("event_type")

	from, err := optionalQueryTime(c, "from")
	if err != nil {
		return f, err
	}
	f.From = from

	to, err := optionalQueryTime(c, "to")
	if err != nil {
		return f, err
	}
	f.To = to

	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return f, errInvalidLimit
		}
		f.Limit = n
	}
	return f, nil
}

// GetPlantLogs returns a plant's event log, newest first.
func (h *Handler) GetPlantLogs(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	if _, err := h.svc.Lifecycle.Get(c.Request.Context(), mw.Actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	f, err := logFilterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	entries, err := h.svc.Ingest.PlantLogs(c.Request.Context(), id, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// GetPlantEnvironment returns the environment readings covering a plant's
// assignment intervals.
func (h *Handler) GetPlantEnvironment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	if _, err := h.svc.Lifecycle.Get(c.Request.Context(), mw.Actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	f, err := logFilterFromQuery(c)
	if err != nil {
		badRequest(c, err)
		return
	}

	recs, err := h.svc.Ingest.PlantEnvironment(c.Request.Context(), id, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}
