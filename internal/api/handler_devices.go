package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"growhub-backend/internal/device"
	"growhub-backend/internal/mw"
	"growhub-backend/internal/share"
)

type registerDeviceRequest struct {
	Name       string `json:"name" binding:"required"`
	SystemName string `json:"system_name"`
	Type       string `json:"type" binding:"required"`
	Scope      string `json:"scope"`
	LocationID *int64 `json:"location_id"`
}

// PostDevice registers a new device and returns it with its credentials.
// The api key is visible in this response only.
func (h *Handler) PostDevice(c *gin.Context) {
	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dev, err := h.svc.Devices.Register(c.Request.Context(), mw.Actor(c), device.RegisterInput{
		Name:       req.Name,
		SystemName: req.SystemName,
		Type:       req.Type,
		Scope:      req.Scope,
		LocationID: req.LocationID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"device":  dev,
		"api_key": dev.APIKey,
	})
}

// GetDevices lists the caller's devices.
func (h *Handler) GetDevices(c *gin.Context) {
	devs, err := h.svc.Devices.List(c.Request.Context(), mw.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, devs)
}

// GetDevice returns a device the caller owns or holds a read share on.
func (h *Handler) GetDevice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	ok, err := h.svc.Shares.CheckDevice(c.Request.Context(), id, mw.Actor(c), share.PermissionRead)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, device.ErrNotFound)
		return
	}
	dev, err := h.svc.Devices.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dev)
}

type updateDeviceRequest struct {
	Name          *string `json:"name"`
	Scope         *string `json:"scope"`
	LocationID    *int64  `json:"location_id"`
	ClearLocation bool    `json:"clear_location"`
}

// PatchDevice updates the mutable device fields.
func (h *Handler) PatchDevice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req updateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dev, err := h.svc.Devices.Update(c.Request.Context(), mw.Actor(c), id, device.UpdateInput{
		Name:          req.Name,
		Scope:         req.Scope,
		LocationID:    req.LocationID,
		ClearLocation: req.ClearLocation,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dev)
}

// DeleteDevice removes a device, its assignments and its shares.
func (h *Handler) DeleteDevice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Devices.Delete(c.Request.Context(), mw.Actor(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// deviceBlobUpdate gates a capabilities/settings write behind a write share.
func (h *Handler) deviceBlobUpdate(c *gin.Context, apply func(int64, datatypes.JSON) error) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	ok, err := h.svc.Shares.CheckDevice(c.Request.Context(), id, mw.Actor(c), share.PermissionWrite)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, device.ErrNotFound)
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := apply(id, datatypes.JSON(payload)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PutDeviceCapabilities replaces a device's capability blob.
func (h *Handler) PutDeviceCapabilities(c *gin.Context) {
	h.deviceBlobUpdate(c, func(id int64, payload datatypes.JSON) error {
		return h.svc.Devices.UpdateCapabilities(c.Request.Context(), id, payload)
	})
}

// PutDeviceSettings replaces a device's settings blob.
func (h *Handler) PutDeviceSettings(c *gin.Context) {
	h.deviceBlobUpdate(c, func(id int64, payload datatypes.JSON) error {
		return h.svc.Devices.UpdateSettings(c.Request.Context(), id, payload)
	})
}

// GetDeviceEnvironment returns a device's most recent environment reading.
func (h *Handler) GetDeviceEnvironment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	ok, err := h.svc.Shares.CheckDevice(c.Request.Context(), id, mw.Actor(c), share.PermissionRead)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		respondError(c, device.ErrNotFound)
		return
	}
	rec, err := h.svc.Ingest.LatestEnvironment(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, rec)
}
