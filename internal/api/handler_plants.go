package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"growhub-backend/internal/lifecycle"
	"growhub-backend/internal/mw"
)

type durationOverridesRequest struct {
	Seed   *int `json:"seed_days"`
	Clone  *int `json:"clone_days"`
	Veg    *int `json:"veg_days"`
	Flower *int `json:"flower_days"`
	Drying *int `json:"drying_days"`
	Curing *int `json:"curing_days"`
}

func (r durationOverridesRequest) toOverrides() lifecycle.DurationOverrides {
	return lifecycle.DurationOverrides{
		Seed:   r.Seed,
		Clone:  r.Clone,
		Veg:    r.Veg,
		Flower: r.Flower,
		Drying: r.Drying,
		Curing: r.Curing,
	}
}

type createPlantRequest struct {
	Name          string                   `json:"name" binding:"required"`
	BatchNumber   string                   `json:"batch_number"`
	LocationID    *int64                   `json:"location_id"`
	TemplateID    *int64                   `json:"template_id"`
	StartDate     *time.Time               `json:"start_date"`
	StartingPhase *string                  `json:"starting_phase"`
	Overrides     durationOverridesRequest `json:"expected_durations"`
	DisplayOrder  int                      `json:"display_order"`
}

// PostPlant registers a plant, optionally entering an entry phase right away.
func (h *Handler) PostPlant(c *gin.Context) {
	var req createPlantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	start := time.Now().UTC()
	if req.StartDate != nil {
		start = req.StartDate.UTC()
	}
	var starting *lifecycle.Phase
	if req.StartingPhase != nil {
		p := lifecycle.Phase(*req.StartingPhase)
		starting = &p
	}

	plant, err := h.svc.Lifecycle.CreatePlant(c.Request.Context(), mw.Actor(c), lifecycle.CreateInput{
		Name:          req.Name,
		BatchNumber:   req.BatchNumber,
		LocationID:    req.LocationID,
		TemplateID:    req.TemplateID,
		StartDate:     start,
		StartingPhase: starting,
		Overrides:     req.Overrides.toOverrides(),
		DisplayOrder:  req.DisplayOrder,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plant)
}

// GetPlants lists the caller's plants in display order.
func (h *Handler) GetPlants(c *gin.Context) {
	plants, err := h.svc.Lifecycle.List(c.Request.Context(), mw.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plants)
}

// GetPlant returns one owned plant.
func (h *Handler) GetPlant(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	plant, err := h.svc.Lifecycle.Get(c.Request.Context(), mw.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plant)
}

type updatePlantRequest struct {
	Name         *string                   `json:"name"`
	BatchNumber  *string                   `json:"batch_number"`
	LocationID   *int64                    `json:"location_id"`
	YieldGrams   *float64                  `json:"yield_grams"`
	DisplayOrder *int                      `json:"display_order"`
	Overrides    *durationOverridesRequest `json:"expected_durations"`
}

// PatchPlant updates plant bookkeeping fields. Phase and status move only
// through the lifecycle endpoints.
func (h *Handler) PatchPlant(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req updatePlantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	in := lifecycle.UpdateInput{
		Name:         req.Name,
		BatchNumber:  req.BatchNumber,
		LocationID:   req.LocationID,
		YieldGrams:   req.YieldGrams,
		DisplayOrder: req.DisplayOrder,
	}
	if req.Overrides != nil {
		o := req.Overrides.toOverrides()
		in.Overrides = &o
	}

	plant, err := h.svc.Lifecycle.Update(c.Request.Context(), mw.Actor(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plant)
}

// DeletePlant removes a plant with its logs, history and assignments.
func (h *Handler) DeletePlant(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Lifecycle.Delete(c.Request.Context(), mw.Actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type advanceRequest struct {
	Phase string     `json:"phase" binding:"required"`
	At    *time.Time `json:"at"`
}

// PostPlantAdvance steps a plant into its next phase.
func (h *Handler) PostPlantAdvance(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	plant, err := h.svc.Lifecycle.Advance(c.Request.Context(), mw.Actor(c), id, lifecycle.Phase(req.Phase), at)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.svc.Notify != nil {
		h.svc.Notify.PlantPhase(plant.ID, req.Phase)
	}
	c.JSON(http.StatusOK, plant)
}

type finishRequest struct {
	At *time.Time `json:"at"`
}

// PostPlantFinish terminates a plant's lifecycle from any phase.
func (h *Handler) PostPlantFinish(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		badRequest(c, err)
		return
	}
	at := time.Now().UTC()
	if req.At != nil {
		at = req.At.UTC()
	}

	plant, err := h.svc.Lifecycle.Finish(c.Request.Context(), mw.Actor(c), id, at)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plant)
}

// PostPlantArchive moves a finished plant out of the working set.
func (h *Handler) PostPlantArchive(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	plant, err := h.svc.Lifecycle.Archive(c.Request.Context(), mw.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plant)
}

// GetPlantPhaseHistory returns a plant's phase records, oldest first.
func (h *Handler) GetPlantPhaseHistory(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	recs, err := h.svc.Lifecycle.History(c.Request.Context(), mw.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

// GetPlantDurations resolves the plant's expected phase durations through
// the override-then-template chain.
func (h *Handler) GetPlantDurations(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	plant, err := h.svc.Lifecycle.Get(c.Request.Context(), mw.Actor(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	durations, err := h.svc.Lifecycle.ExpectedDurations(c.Request.Context(), plant)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make(map[string]*int, len(durations))
	for p, d := range durations {
		out[string(p)] = d
	}
	c.JSON(http.StatusOK, gin.H{"expected_days": out})
}
