package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"growhub-backend/internal/mw"
	"growhub-backend/internal/share"
)

type issueShareRequest struct {
	PermissionLevel string `json:"permission_level" binding:"required"`
	TTLHours        *int   `json:"ttl_hours"` // nil means the code never expires
	Recipient       *int64 `json:"recipient_user_id"`
}

func (h *Handler) issueShare(c *gin.Context, target share.Target) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req issueShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var ttl *time.Duration
	if req.TTLHours != nil {
		d := time.Duration(*req.TTLHours) * time.Hour
		ttl = &d
	}

	grant, err := h.svc.Shares.Issue(c.Request.Context(), mw.Actor(c), share.IssueInput{
		Target:    target,
		TargetID:  id,
		Level:     share.Permission(req.PermissionLevel),
		TTL:       ttl,
		Recipient: req.Recipient,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

// PostLocationShare issues a share code for a location.
func (h *Handler) PostLocationShare(c *gin.Context) {
	h.issueShare(c, share.TargetLocation)
}

// PostDeviceShare issues a share code for a device.
func (h *Handler) PostDeviceShare(c *gin.Context) {
	h.issueShare(c, share.TargetDevice)
}

func (h *Handler) listShares(c *gin.Context, target share.Target) {
	id, err := pathID(c, "id")
	if err != nil {
		badRequest(c, err)
		return
	}
	grants, err := h.svc.Shares.ListForTarget(c.Request.Context(), target, id, mw.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, grants)
}

// GetLocationShares lists the shares issued for a location.
func (h *Handler) GetLocationShares(c *gin.Context) {
	h.listShares(c, share.TargetLocation)
}

// GetDeviceShares lists the shares issued for a device.
func (h *Handler) GetDeviceShares(c *gin.Context) {
	h.listShares(c, share.TargetDevice)
}

type redeemRequest struct {
	Code string `json:"code" binding:"required"`
}

// PostShareRedeem accepts a share code on behalf of the caller.
func (h *Handler) PostShareRedeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	grant, err := h.svc.Shares.Redeem(c.Request.Context(), req.Code, mw.Actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

func (h *Handler) revokeShare(c *gin.Context, target share.Target) {
	id, err := pathID(c, "share_id")
	if err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Shares.Revoke(c.Request.Context(), target, id, mw.Actor(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteLocationShare revokes a location share.
func (h *Handler) DeleteLocationShare(c *gin.Context) {
	h.revokeShare(c, share.TargetLocation)
}

// DeleteDeviceShare revokes a device share.
func (h *Handler) DeleteDeviceShare(c *gin.Context) {
	h.revokeShare(c, share.TargetDevice)
}

type updateShareRequest struct {
	PermissionLevel string `json:"permission_level" binding:"required"`
}

func (h *Handler) updateShare(c *gin.Context, target share.Target) {
	id, err := pathID(c, "share_id")
	if err != nil {
		badRequest(c, err)
		return
	}
	var req updateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err = h.svc.Shares.UpdatePermission(c.Request.Context(), target, id, mw.Actor(c), share.Permission(req.PermissionLevel))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PatchLocationShare changes the level on a location share.
func (h *Handler) PatchLocationShare(c *gin.Context) {
	h.updateShare(c, share.TargetLocation)
}

// PatchDeviceShare changes the level on a device share.
func (h *Handler) PatchDeviceShare(c *gin.Context) {
	h.updateShare(c, share.TargetDevice)
}
