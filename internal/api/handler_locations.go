package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"growhub-backend/internal/location"
	"growhub-backend/internal/mw"
)

type locationRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	ParentID    *int64 `json:"parent_id"`
}

// PostLocation creates a location, optionally under a parent.
func (h *Handler) PostLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	loc, err := h.svc.Locations.Create(c.Request.Context(), mw.Actor(c), location.Input{
		Name:        req.Name,
		Description: req.Description,
		ParentID:    req.ParentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loc)
}

// GetLocations lists the caller's locations.
func (h *Handler) GetLocations(c *gin.Context) {
	locs, err := h.svc.Locations.List(c.Request.Context(), mw.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, locs)
}

// GetLocation returns one owned location.
func (h *Handler) GetLocation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	loc, err := h.svc.Locations.Get(c.Request.Context(), mw.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}

// GetLocationDescendants returns the subtree below a location.
func (h *Handler) GetLocationDescendants(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	locs, err := h.svc.Locations.Descendants(c.Request.Context(), mw.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, locs)
}

// PutLocation renames or reparents a location.
func (h *Handler) PutLocation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	loc, err := h.svc.Locations.Update(c.Request.Context(), mw.Actor(c), id, location.Input{
		Name:        req.Name,
		Description: req.Description,
		ParentID:    req.ParentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loc)
}

// DeleteLocation removes a location and its subtree.
func (h *Handler) DeleteLocation(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Locations.Delete(c.Request.Context(), mw.Actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
