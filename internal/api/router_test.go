package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"growhub-backend/config"
	"growhub-backend/internal/assignment"
	"growhub-backend/internal/db"
	"growhub-backend/internal/device"
	"growhub-backend/internal/ingest"
	"growhub-backend/internal/lifecycle"
	"growhub-backend/internal/location"
	"growhub-backend/internal/model"
	"growhub-backend/internal/mw"
	"growhub-backend/internal/share"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	cfg := &config.Config{}
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000
	cfg.Server.CacheTTLSeconds = 1

	locations := location.NewService(gdb)
	shares := share.NewService(gdb, 12, 0)
	devices := device.NewService(gdb)
	assignments := assignment.NewService(gdb, shares)
	lc := lifecycle.NewService(gdb)
	ingestSvc := ingest.NewService(gdb, devices, assignments, lc, nil)

	router := NewRouter(cfg, gdb, Services{
		Locations:   locations,
		Shares:      shares,
		Devices:     devices,
		Assignments: assignments,
		Lifecycle:   lc,
		Ingest:      ingestSvc,
	}, &webpush.Options{VAPIDPublicKey: "test-public-key"})
	return router, gdb
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req.Header.Set(mw.ActorHeader, strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMissingUserIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/plants", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLocationLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/locations", 1, gin.H{"name": "Grow House"})
	require.Equal(t, http.StatusCreated, w.Code)
	var root model.Location
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &root))

	w = doJSON(t, router, http.MethodPost, "/api/locations", 1, gin.H{"name": "Flower Room", "parent_id": root.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var child model.Location
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &child))

	// Reparenting the root under its own child reports the cycle.
	w = doJSON(t, router, http.MethodPut, fmt.Sprintf("/api/locations/%d", root.ID), 1, gin.H{"name": "Grow House", "parent_id": child.ID})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "hierarchy_cycle")

	// Another user sees nothing.
	w = doJSON(t, router, http.MethodGet, fmt.Sprintf("/api/locations/%d", root.ID), 2, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestPlantPhaseFlowOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/plants", 1, gin.H{"name": "Blue Dream", "starting_phase": "seed"})
	require.Equal(t, http.StatusCreated, w.Code)
	var plant model.Plant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plant))
	assert.Equal(t, model.StatusFeeding, plant.Status)

	// Skipping veg is refused with a stable error code.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/plants/%d/advance", plant.ID), 1, gin.H{"phase": "flower"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_transition")

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/plants/%d/advance", plant.ID), 1, gin.H{"phase": "veg"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/plants/%d/finish", plant.ID), 1, gin.H{})
	require.Equal(t, http.StatusOK, w.Code)
	var finished model.Plant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &finished))
	assert.Equal(t, model.StatusFinished, finished.Status)

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/plants/%d/archive", plant.ID), 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDeviceRegistrationAndIngestOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/devices", 1, gin.H{"name": "BME680", "type": "environmental"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Device model.Device `json:"device"`
		APIKey string       `json:"api_key"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, model.ScopeRoom, created.Device.Scope)
	require.NotEmpty(t, created.APIKey)

	// Ingestion endpoints reject missing credentials.
	w = doJSON(t, router, http.MethodPost, "/api/ingest/logs", 0, gin.H{"events": []gin.H{}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// With credentials, an unassigned device's upload is acknowledged.
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(gin.H{"events": []gin.H{{"event_type": "sensor_reading", "sensor_name": "temperature", "value": 24.5}}}))
	req, err := http.NewRequest(http.MethodPost, "/api/ingest/logs", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-UID", created.Device.DeviceUID)
	req.Header.Set("X-API-Key", created.APIKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var res ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 0, res.Plants)
	assert.Equal(t, 0, res.Written)
}

func TestDevicePlantsRequiresReadAccess(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/devices", 1, gin.H{"name": "BME680", "type": "environmental"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Device model.Device `json:"device"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = doJSON(t, router, http.MethodPost, "/api/plants", 1, gin.H{"name": "Blue Dream", "starting_phase": "seed"})
	require.Equal(t, http.StatusCreated, w.Code)
	var plant model.Plant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plant))

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/plants/%d/assignments", plant.ID), 1, gin.H{"device_id": created.Device.ID})
	require.Equal(t, http.StatusCreated, w.Code)

	path := fmt.Sprintf("/api/devices/%d/plants", created.Device.ID)
	w = doJSON(t, router, http.MethodGet, path, 1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), strconv.FormatInt(plant.ID, 10))

	// A stranger must not learn which plants the device serves.
	w = doJSON(t, router, http.MethodGet, path, 2, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")

	// A redeemed read share opens the view.
	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/devices/%d/shares", created.Device.ID), 1, gin.H{"permission_level": "read"})
	require.Equal(t, http.StatusCreated, w.Code)
	var grant share.Grant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	w = doJSON(t, router, http.MethodPost, "/api/shares/redeem", 2, gin.H{"code": grant.ShareCode})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, path, 2, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), strconv.FormatInt(plant.ID, 10))
}

func TestShareRedeemOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/locations", 1, gin.H{"name": "Shared Room"})
	require.Equal(t, http.StatusCreated, w.Code)
	var loc model.Location
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &loc))

	w = doJSON(t, router, http.MethodPost, fmt.Sprintf("/api/locations/%d/shares", loc.ID), 1, gin.H{"permission_level": "write"})
	require.Equal(t, http.StatusCreated, w.Code)
	var grant share.Grant
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &grant))
	require.Len(t, grant.ShareCode, 12)

	// The owner cannot redeem their own code.
	w = doJSON(t, router, http.MethodPost, "/api/shares/redeem", 1, gin.H{"code": grant.ShareCode})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "own_share")

	w = doJSON(t, router, http.MethodPost, "/api/shares/redeem", 2, gin.H{"code": grant.ShareCode})
	require.Equal(t, http.StatusOK, w.Code)

	// The code is now bound to user 2; anyone else is told it does not exist.
	w = doJSON(t, router, http.MethodPost, "/api/shares/redeem", 3, gin.H{"code": grant.ShareCode})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubscriptionsOverHTTP(t *testing.T) {
	router, gdb := newTestRouter(t)

	dev := model.Device{DeviceUID: "uid-sub", APIKey: "key", Name: "Sensor", Type: model.DeviceTypeEnvironmental, Scope: model.ScopeRoom, OwnerID: 1}
	require.NoError(t, gdb.Create(&dev).Error)

	w := doJSON(t, router, http.MethodPut, "/api/subscriptions", 0, gin.H{
		"endpoint":           "https://example.com/push",
		"p256dh":             "p",
		"auth":               "a",
		"subscribed_devices": []int64{dev.ID},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	req, err := http.NewRequest(http.MethodGet, "/api/subscriptions?endpoint=https://example.com/push", nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), strconv.FormatInt(dev.ID, 10))

	w = doJSON(t, router, http.MethodDelete, "/api/subscriptions", 0, gin.H{"endpoint": "https://example.com/push"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	router, _ := newTestRouter(t)

	req, err := http.NewRequest(http.MethodGet, "/api/vapid_public_key", nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"public_key":"test-public-key"}`, rec.Body.String())
}
