package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"growhub-backend/internal/device"
	"growhub-backend/internal/mw"
	"growhub-backend/internal/share"
)

type assignRequest struct {
	DeviceID int64      `json:"device_id" binding:"required"`
	At       *time.Time `json:"at"`
}

// PostPlantAssignment opens an assignment interval between a plant and a
// device.
func (h *Handler) PostPlantAssignment(c *gin.Context) {
	plantID, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	rec, err := h.svc.Assignments.Assign(c.Request.Context(), mw.Actor(c), plantID, req.DeviceID, at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type unassignRequest struct {
	At *time.Time `json:"at"`
}

// DeletePlantAssignment closes an open assignment interval.
func (h *Handler) DeletePlantAssignment(c *gin.Context) {
	assignmentID, err := pathID(c, "assignment_id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req unassignRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, err)
		return
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	if err := h.svc.Assignments.Remove(c.Request.Context(), mw.Actor(c), assignmentID, at); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPlantAssignments returns a plant's open intervals, or the full history
// with ?history=true.
func (h *Handler) GetPlantAssignments(c *gin.Context) {
	plantID, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	if _, err := h.svc.Lifecycle.Get(c.Request.Context(), mw.Actor(c), plantID); err != nil {
		respondError(c, err)
		return
	}

	if c.Query("history") == "true" {
		recs, err := h.svc.Assignments.History(c.Request.Context(), plantID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, recs)
		return
	}

	recs, err := h.svc.Assignments.ActiveForPlant(c.Request.Context(), plantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetDevicePlants resolves the plants a device serves at a given instant
// (?at=RFC3339, default now).
func (h *Handler) GetDevicePlants(c *gin.Context) {
	deviceID, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	at, err := queryTime(c, "at")
	if err != nil {
		badRequest(c, err)
		return
	}

	ok, err := h.svc.Shares.CheckDevice(c.Request.Context(), deviceID, mw.Actor(c), share.PermissionRead)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		// An inaccessible device is indistinguishable from a missing one.
		respondError(c, device.ErrNotFound)
		return
	}

	ids, err := h.svc.Assignments.ActivePlants(c.Request.Context(), deviceID, at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plant_ids": ids})
}
