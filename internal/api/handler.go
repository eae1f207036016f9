package api

import (
	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"growhub-backend/internal/assignment"
	"growhub-backend/internal/device"
	"growhub-backend/internal/ingest"
	"growhub-backend/internal/lifecycle"
	"growhub-backend/internal/location"
	"growhub-backend/internal/share"
)

// PhaseNotifier pushes plant phase changes to subscribers. A nil notifier
// disables phase pushes.
type PhaseNotifier interface {
	PlantPhase(plantID int64, phase string)
}

// Services bundles the domain services the API exposes.
type Services struct {
	Locations   *location.Service
	Shares      *share.Service
	Devices     *device.Service
	Assignments *assignment.Service
	Lifecycle   *lifecycle.Service
	Ingest      *ingest.Service
	Notify      PhaseNotifier
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	db      *gorm.DB
	svc     Services
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(db *gorm.DB, svc Services, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		db:      db,
		svc:     svc,
		webpush: webpushOptions,
	}
}
