package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"growhub-backend/internal/assignment"
	"growhub-backend/internal/device"
	"growhub-backend/internal/lifecycle"
	"growhub-backend/internal/location"
	"growhub-backend/internal/share"
)

// httpError pairs a status with a stable machine-readable code. Clients
// branch on the code, not the message text.
type httpError struct {
	status int
	code   string
}

var errorTable = []struct {
	err  error
	resp httpError
}{
	{location.ErrNotFound, httpError{http.StatusNotFound, "not_found"}},
	{device.ErrNotFound, httpError{http.StatusNotFound, "not_found"}},
	{share.ErrNotFound, httpError{http.StatusNotFound, "not_found"}},
	{assignment.ErrNotFound, httpError{http.StatusNotFound, "not_found"}},
	{lifecycle.ErrNotFound, httpError{http.StatusNotFound, "not_found"}},
	{lifecycle.ErrTemplateNotFound, httpError{http.StatusNotFound, "not_found"}},

	{location.ErrCycle, httpError{http.StatusConflict, "hierarchy_cycle"}},
	{assignment.ErrCardinality, httpError{http.StatusConflict, "cardinality_violation"}},
	{assignment.ErrAlreadyAssigned, httpError{http.StatusConflict, "already_assigned"}},
	{assignment.ErrAlreadyRemoved, httpError{http.StatusConflict, "already_removed"}},
	{lifecycle.ErrInvalidTransition, httpError{http.StatusConflict, "invalid_transition"}},
	{device.ErrScopeLocked, httpError{http.StatusConflict, "scope_locked"}},
	{share.ErrAlreadyAccepted, httpError{http.StatusConflict, "already_accepted"}},

	{share.ErrExpired, httpError{http.StatusGone, "expired"}},
	{share.ErrRevoked, httpError{http.StatusGone, "revoked"}},

	{share.ErrOwnShare, httpError{http.StatusBadRequest, "own_share"}},
	{share.ErrInvalidPermission, httpError{http.StatusBadRequest, "invalid_permission"}},
	{device.ErrInvalidType, httpError{http.StatusBadRequest, "invalid_device_type"}},
	{device.ErrInvalidScope, httpError{http.StatusBadRequest, "invalid_device_scope"}},
	{lifecycle.ErrEndBeforeStart, httpError{http.StatusBadRequest, "end_before_start"}},

	{device.ErrBadCredentials, httpError{http.StatusUnauthorized, "bad_credentials"}},
}

// respondError translates a service error into an HTTP response. Unknown
// errors become a 500 without leaking internals.
func respondError(c *gin.Context, err error) {
	for _, entry := range errorTable {
		if errors.Is(err, entry.err) {
			c.JSON(entry.resp.status, gin.H{"error": err.Error(), "code": entry.resp.code})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "bad_request"})
}
