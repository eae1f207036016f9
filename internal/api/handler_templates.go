package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"growhub-backend/internal/lifecycle"
	"growhub-backend/internal/mw"
)

type templateRequest struct {
	Name        string                   `json:"name" binding:"required"`
	Description string                   `json:"description"`
	Durations   durationOverridesRequest `json:"expected_durations"`
}

// PostTemplate creates a phase duration template.
func (h *Handler) PostTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.svc.Lifecycle.CreateTemplate(c.Request.Context(), mw.Actor(c), lifecycle.TemplateInput{
		Name:        req.Name,
		Description: req.Description,
		Durations:   req.Durations.toOverrides(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

// GetTemplates lists the caller's templates.
func (h *Handler) GetTemplates(c *gin.Context) {
	tpls, err := h.svc.Lifecycle.ListTemplates(c.Request.Context(), mw.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpls)
}

// GetTemplate returns one owned template.
func (h *Handler) GetTemplate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.svc.Lifecycle.GetTemplate(c.Request.Context(), mw.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// PutTemplate replaces a template's fields.
func (h *Handler) PutTemplate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tpl, err := h.svc.Lifecycle.UpdateTemplate(c.Request.Context(), mw.Actor(c), id, lifecycle.TemplateInput{
		Name:        req.Name,
		Description: req.Description,
		Durations:   req.Durations.toOverrides(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}

// DeleteTemplate removes a template, detaching its plants.
func (h *Handler) DeleteTemplate(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Lifecycle.DeleteTemplate(c.Request.Context(), mw.Actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostPlantTemplate links a template to a plant.
func (h *Handler) PostPlantTemplate(c *gin.Context) {
	plantID, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	templateID, err := pathID(c, "template_id")
	if err != nil {
		badRequest(c, err)
		return
	}
	plant, err := h.svc.Lifecycle.ApplyTemplate(c.Request.Context(), mw.Actor(c), plantID, templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plant)
}
