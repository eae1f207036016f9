package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"growhub-backend/internal/assignment"
	"growhub-backend/internal/db"
	"growhub-backend/internal/device"
	"growhub-backend/internal/lifecycle"
	"growhub-backend/internal/model"
	"growhub-backend/internal/share"
)

type fixture struct {
	db          *gorm.DB
	devices     *device.Service
	assignments *assignment.Service
	lifecycle   *lifecycle.Service
	ingest      *Service
}

type recordingNotifier struct {
	online  []int64
	offline []int64
}

func (r *recordingNotifier) DeviceOnline(id int64)  { r.online = append(r.online, id) }
func (r *recordingNotifier) DeviceOffline(id int64) { r.offline = append(r.offline, id) }

func newFixture(t *testing.T, notifier Notifier) *fixture {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))

	devices := device.NewService(gdb)
	shares := share.NewService(gdb, 12, 0)
	assignments := assignment.NewService(gdb, shares)
	lc := lifecycle.NewService(gdb)
	return &fixture{
		db:          gdb,
		devices:     devices,
		assignments: assignments,
		lifecycle:   lc,
		ingest:      NewService(gdb, devices, assignments, lc, notifier),
	}
}

// seedPlantInPhase walks a fresh plant through the state machine until it
// sits in the target phase, entered at the given time.
func (f *fixture) seedPlantInPhase(t *testing.T, name string, target lifecycle.Phase, at time.Time) *model.Plant {
	ctx := context.Background()
	plant, err := f.lifecycle.CreatePlant(ctx, 1, lifecycle.CreateInput{Name: name, StartDate: at})
	require.NoError(t, err)

	entry := lifecycle.PhaseSeed
	if target == lifecycle.PhaseClone {
		entry = lifecycle.PhaseClone
	}
	plant, err = f.lifecycle.Advance(ctx, 1, plant.ID, entry, at)
	require.NoError(t, err)
	if target == entry {
		return plant
	}
	step := at
	for _, p := range []lifecycle.Phase{lifecycle.PhaseVeg, lifecycle.PhaseFlower, lifecycle.PhaseDrying, lifecycle.PhaseCuring} {
		step = step.Add(time.Minute)
		plant, err = f.lifecycle.Advance(ctx, 1, plant.ID, p, step)
		require.NoError(t, err)
		if p == target {
			break
		}
	}
	return plant
}

func (f *fixture) seedDevice(t *testing.T, devType string) *model.Device {
	dev, err := f.devices.Register(context.Background(), 1, device.RegisterInput{Name: devType, Type: devType})
	require.NoError(t, err)
	return dev
}

func floatPtr(v float64) *float64 { return &v }

func TestIngestFansOutToActivePlants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	sensor := f.seedDevice(t, model.DeviceTypeEnvironmental)
	plantA := f.seedPlantInPhase(t, "A", lifecycle.PhaseVeg, now.Add(-48*time.Hour))
	plantB := f.seedPlantInPhase(t, "B", lifecycle.PhaseSeed, now.Add(-48*time.Hour))
	_, err := f.assignments.Assign(ctx, 1, plantA.ID, sensor.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	_, err = f.assignments.Assign(ctx, 1, plantB.ID, sensor.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)

	res, err := f.ingest.Ingest(ctx, sensor, []Event{
		{Type: model.EventTypeSensor, SensorName: "temperature", Value: floatPtr(24.2)},
	}, now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Plants)
	assert.Equal(t, 2, res.Written)
	assert.Equal(t, 0, res.Skipped)

	// Each plant got its own row, stamped with its own phase.
	var entries []model.LogEntry
	require.NoError(t, f.db.Order("plant_id").Find(&entries).Error)
	require.Len(t, entries, 2)
	assert.Equal(t, plantA.ID, entries[0].PlantID)
	assert.Equal(t, plantB.ID, entries[1].PlantID)
	assert.Equal(t, string(lifecycle.PhaseSeed), entries[1].Phase)
}

func TestIngestWithoutAssignmentsAcks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sensor := f.seedDevice(t, model.DeviceTypeEnvironmental)
	res, err := f.ingest.Ingest(ctx, sensor, []Event{
		{Type: model.EventTypeSensor, SensorName: "temperature", Value: floatPtr(22.0)},
	}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Plants)
	assert.Equal(t, 0, res.Written)

	var count int64
	f.db.Model(&model.LogEntry{}).Count(&count)
	assert.Equal(t, int64(0), count)

	// The device is still marked online; silence is not an error.
	dev, err := f.devices.Get(ctx, sensor.ID)
	require.NoError(t, err)
	assert.True(t, dev.Online)
}

func TestIngestDeduplicatesRetries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	pump := f.seedDevice(t, model.DeviceTypeFeedingSystem)
	plant := f.seedPlantInPhase(t, "A", lifecycle.PhaseVeg, now.Add(-48*time.Hour))
	_, err := f.assignments.Assign(ctx, 1, plant.ID, pump.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)

	ts := now.Add(-time.Hour)
	batch := []Event{
		{Type: model.EventTypeDosing, DoseType: "nutrient_a", DoseAmountML: floatPtr(5), Timestamp: &ts},
	}

	res, err := f.ingest.Ingest(ctx, pump, batch, now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)

	// The retried upload writes nothing new.
	res, err = f.ingest.Ingest(ctx, pump, batch, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Written)
	assert.Equal(t, 1, res.Skipped)

	var count int64
	f.db.Model(&model.LogEntry{}).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestIngestBackfillUsesHistoricalPhase(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	t0 := time.Now().UTC().Add(-10 * 24 * time.Hour)

	pump := f.seedDevice(t, model.DeviceTypeFeedingSystem)
	plant := f.seedPlantInPhase(t, "A", lifecycle.PhaseSeed, t0)
	_, err := f.assignments.Assign(ctx, 1, plant.ID, pump.ID, t0)
	require.NoError(t, err)
	_, err = f.lifecycle.Advance(ctx, 1, plant.ID, lifecycle.PhaseVeg, t0.Add(5*24*time.Hour))
	require.NoError(t, err)

	// An event backfilled into the seed window carries the seed phase even
	// though the plant has moved on.
	backfill := t0.Add(2 * 24 * time.Hour)
	_, err = f.ingest.Ingest(ctx, pump, []Event{
		{Type: model.EventTypeDosing, DoseType: "water", DoseAmountML: floatPtr(100), Timestamp: &backfill},
	}, time.Now().UTC())
	require.NoError(t, err)

	var entry model.LogEntry
	require.NoError(t, f.db.First(&entry).Error)
	assert.Equal(t, string(lifecycle.PhaseSeed), entry.Phase)
}

func TestEnvironmentSingleRowPerReading(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	sensor := f.seedDevice(t, model.DeviceTypeEnvironmental)
	plantA := f.seedPlantInPhase(t, "A", lifecycle.PhaseVeg, now.Add(-48*time.Hour))
	plantB := f.seedPlantInPhase(t, "B", lifecycle.PhaseVeg, now.Add(-48*time.Hour))
	_, err := f.assignments.Assign(ctx, 1, plantA.ID, sensor.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)
	_, err = f.assignments.Assign(ctx, 1, plantB.ID, sensor.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)

	co2 := 800
	rec, err := f.ingest.IngestEnvironment(ctx, sensor, EnvironmentReading{
		CO2:         &co2,
		Temperature: floatPtr(25.1),
		Humidity:    floatPtr(61.0),
	}, now)
	require.NoError(t, err)
	assert.Equal(t, sensor.ID, rec.DeviceID)

	// One reading cycle, one row, no matter how many plants the room holds.
	var count int64
	f.db.Model(&model.EnvironmentLog{}).Count(&count)
	assert.Equal(t, int64(1), count)

	// Both plants resolve the same reading through the interval join.
	for _, plantID := range []int64{plantA.ID, plantB.ID} {
		recs, err := f.ingest.PlantEnvironment(ctx, plantID, LogFilter{})
		require.NoError(t, err)
		require.Len(t, recs, 1, "plant %d", plantID)
		assert.Equal(t, rec.ID, recs[0].ID)
	}
}

func TestPlantEnvironmentHonorsIntervals(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	t0 := time.Now().UTC().Add(-48 * time.Hour)

	sensor := f.seedDevice(t, model.DeviceTypeEnvironmental)
	plant := f.seedPlantInPhase(t, "A", lifecycle.PhaseVeg, t0)

	rec, err := f.assignments.Assign(ctx, 1, plant.ID, sensor.ID, t0)
	require.NoError(t, err)

	// A reading inside the interval.
	inside := t0.Add(time.Hour)
	_, err = f.ingest.IngestEnvironment(ctx, sensor, EnvironmentReading{Temperature: floatPtr(24.0), Timestamp: &inside}, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, f.assignments.Remove(ctx, 1, rec.ID, t0.Add(2*time.Hour)))

	// A reading after the interval closed belongs to nobody.
	outside := t0.Add(3 * time.Hour)
	_, err = f.ingest.IngestEnvironment(ctx, sensor, EnvironmentReading{Temperature: floatPtr(30.0), Timestamp: &outside}, time.Now().UTC())
	require.NoError(t, err)

	recs, err := f.ingest.PlantEnvironment(ctx, plant.ID, LogFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 24.0, *recs[0].Temperature)
}

func TestConnectDisconnectNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newFixture(t, notifier)
	ctx := context.Background()

	sensor := f.seedDevice(t, model.DeviceTypeEnvironmental)

	dev, err := f.ingest.HandleConnect(ctx, sensor.DeviceUID, sensor.APIKey)
	require.NoError(t, err)
	assert.Equal(t, []int64{dev.ID}, notifier.online)

	require.NoError(t, f.ingest.HandleDisconnect(ctx, dev.ID))
	assert.Equal(t, []int64{dev.ID}, notifier.offline)

	_, err = f.ingest.HandleConnect(ctx, sensor.DeviceUID, "wrong-key")
	assert.ErrorIs(t, err, device.ErrBadCredentials)
}

func TestPlantLogsFilter(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	pump := f.seedDevice(t, model.DeviceTypeFeedingSystem)
	plant := f.seedPlantInPhase(t, "A", lifecycle.PhaseVeg, now.Add(-48*time.Hour))
	_, err := f.assignments.Assign(ctx, 1, plant.ID, pump.ID, now.Add(-24*time.Hour))
	require.NoError(t, err)

	early := now.Add(-2 * time.Hour)
	late := now.Add(-time.Minute)
	_, err = f.ingest.Ingest(ctx, pump, []Event{
		{Type: model.EventTypeDosing, DoseType: "water", DoseAmountML: floatPtr(50), Timestamp: &early},
		{Type: model.EventTypeControl, SensorName: "pump_state", Timestamp: &late},
	}, now)
	require.NoError(t, err)

	// Newest first.
	all, err := f.ingest.PlantLogs(ctx, plant.ID, LogFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.EventTypeControl, all[0].EventType)

	// Type filter.
	dosing, err := f.ingest.PlantLogs(ctx, plant.ID, LogFilter{EventType: model.EventTypeDosing})
	require.NoError(t, err)
	require.Len(t, dosing, 1)
	assert.Equal(t, model.EventTypeDosing, dosing[0].EventType)

	// Window filter.
	from := now.Add(-30 * time.Minute)
	windowed, err := f.ingest.PlantLogs(ctx, plant.ID, LogFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, model.EventTypeControl, windowed[0].EventType)
}
