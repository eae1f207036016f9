package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"growhub-backend/config"
	"growhub-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, db *gorm.DB, svc Services, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(db, svc, webpushOptions)

	rateLimiter := mw.RateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst, cfg.Server.RequestIPHeader)

	cacheTTL := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	api := r.Group("/api")
	api.Use(rateLimiter)

	// Device-facing ingestion, authenticated by device credentials.
	ingestGroup := api.Group("/ingest")
	{
		ingestGroup.POST("/connect", handler.PostIngestConnect)
		ingestGroup.POST("/disconnect", handler.PostIngestDisconnect)
		ingestGroup.POST("/logs", handler.PostIngestLogs)
		ingestGroup.POST("/environment", handler.PostIngestEnvironment)
	}

	// User-facing API, authenticated upstream; the user id arrives in a
	// trusted header.
	user := api.Group("")
	user.Use(mw.RequireActor())
	{
		user.POST("/locations", handler.PostLocation)
		user.GET("/locations", caching, handler.GetLocations)
		user.GET("/locations/:id", handler.GetLocation)
		user.GET("/locations/:id/descendants", handler.GetLocationDescendants)
		user.PUT("/locations/:id", handler.PutLocation)
		user.DELETE("/locations/:id", handler.DeleteLocation)
		user.POST("/locations/:id/shares", handler.PostLocationShare)
		user.GET("/locations/:id/shares", handler.GetLocationShares)

		user.POST("/devices", handler.PostDevice)
		user.GET("/devices", caching, handler.GetDevices)
		user.GET("/devices/:id", handler.GetDevice)
		user.PATCH("/devices/:id", handler.PatchDevice)
		user.DELETE("/devices/:id", handler.DeleteDevice)
		user.PUT("/devices/:id/capabilities", handler.PutDeviceCapabilities)
		user.PUT("/devices/:id/settings", handler.PutDeviceSettings)
		user.GET("/devices/:id/environment", handler.GetDeviceEnvironment)
		user.GET("/devices/:id/plants", handler.GetDevicePlants)
		user.POST("/devices/:id/shares", handler.PostDeviceShare)
		user.GET("/devices/:id/shares", handler.GetDeviceShares)

		user.POST("/shares/redeem", handler.PostShareRedeem)
		user.PATCH("/shares/locations/:share_id", handler.PatchLocationShare)
		user.DELETE("/shares/locations/:share_id", handler.DeleteLocationShare)
		user.PATCH("/shares/devices/:share_id", handler.PatchDeviceShare)
		user.DELETE("/shares/devices/:share_id", handler.DeleteDeviceShare)

		user.POST("/plants", handler.PostPlant)
		user.GET("/plants", caching, handler.GetPlants)
		user.GET("/plants/:id", handler.GetPlant)
		user.PATCH("/plants/:id", handler.PatchPlant)
		user.DELETE("/plants/:id", handler.DeletePlant)
		user.POST("/plants/:id/advance", handler.PostPlantAdvance)
		user.POST("/plants/:id/finish", handler.PostPlantFinish)
		user.POST("/plants/:id/archive", handler.PostPlantArchive)
		user.GET("/plants/:id/phases", handler.GetPlantPhaseHistory)
		user.GET("/plants/:id/durations", handler.GetPlantDurations)
		user.POST("/plants/:id/assignments", handler.PostPlantAssignment)
		user.GET("/plants/:id/assignments", handler.GetPlantAssignments)
		user.DELETE("/assignments/:assignment_id", handler.DeletePlantAssignment)
		user.GET("/plants/:id/logs", handler.GetPlantLogs)
		user.GET("/plants/:id/environment", handler.GetPlantEnvironment)
		user.POST("/plants/:id/template/:template_id", handler.PostPlantTemplate)

		user.POST("/templates", handler.PostTemplate)
		user.GET("/templates", caching, handler.GetTemplates)
		user.GET("/templates/:id", handler.GetTemplate)
		user.PUT("/templates/:id", handler.PutTemplate)
		user.DELETE("/templates/:id", handler.DeleteTemplate)
	}

	// Push subscription management follows the endpoint-keyed model; no user
	// identity is required beyond possession of the endpoint.
	api.GET("/subscriptions", handler.GetSubscription)
	api.PUT("/subscriptions", handler.PutSubscription)
	api.DELETE("/subscriptions", handler.DeleteSubscription)
	api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

	return r
}
