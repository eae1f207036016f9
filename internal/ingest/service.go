package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"growhub-backend/internal/assignment"
	"growhub-backend/internal/device"
	"growhub-backend/internal/lifecycle"
	"growhub-backend/internal/model"
)

// Notifier receives device state changes worth telling subscribers about.
// The notification worker pool implements it; tests plug in a stub.
type Notifier interface {
	DeviceOnline(deviceID int64)
	DeviceOffline(deviceID int64)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) DeviceOnline(int64)  {}
func (NopNotifier) DeviceOffline(int64) {}

// Service routes incoming device events to the plants the device currently
// serves and stamps them with the phase active at processing time.
type Service struct {
	db          *gorm.DB
	devices     *device.Service
	assignments *assignment.Service
	lifecycle   *lifecycle.Service
	notifier    Notifier
}

// NewService creates a new ingestion service.
func NewService(gdb *gorm.DB, devices *device.Service, assignments *assignment.Service, lc *lifecycle.Service, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{db: gdb, devices: devices, assignments: assignments, lifecycle: lc, notifier: notifier}
}

// HandleConnect authenticates a device's transport connection and marks it
// online.
func (s *Service) HandleConnect(ctx context.Context, deviceUID, apiKey string) (*model.Device, error) {
	dev, err := s.devices.Authenticate(ctx, deviceUID, apiKey)
	if err != nil {
		return nil, err
	}
	if err := s.devices.MarkOnline(ctx, dev.ID); err != nil {
		return nil, err
	}
	s.notifier.DeviceOnline(dev.ID)
	return dev, nil
}

// HandleDisconnect marks a device offline when its transport drops.
func (s *Service) HandleDisconnect(ctx context.Context, deviceID int64) error {
	if err := s.devices.MarkOffline(ctx, deviceID); err != nil {
		return err
	}
	s.notifier.DeviceOffline(deviceID)
	return nil
}

// Ingest fans a batch of events out to every plant the device serves at the
// moment of processing. A device with no active assignments is not an
// error; the batch is simply acknowledged without plant writes. Duplicate
// events per (plant, timestamp, type) are skipped, so devices may retry
// uploads safely.
func (s *Service) Ingest(ctx context.Context, dev *model.Device, events []Event, at time.Time) (Result, error) {
	var res Result

	if err := s.devices.MarkOnline(ctx, dev.ID); err != nil {
		return res, err
	}

	plantIDs, err := s.assignments.ActivePlants(ctx, dev.ID, at)
	if err != nil {
		return res, err
	}
	res.Plants = len(plantIDs)
	if len(plantIDs) == 0 {
		log.Printf("ingest: device %d has no active plants, acknowledging %d events", dev.ID, len(events))
		return res, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plantID := range plantIDs {
			currentPhase, err := s.lifecycle.CurrentPhase(ctx, plantID)
			if err != nil {
				if errors.Is(err, lifecycle.ErrNotFound) {
					continue
				}
				return err
			}

			for _, ev := range events {
				ts := at.UTC()
				phase := currentPhase
				if ev.Timestamp != nil {
					// Backfill: stamp with the phase active back then.
					ts = ev.Timestamp.UTC()
					phase, err = s.lifecycle.PhaseAt(ctx, plantID, ts)
					if err != nil {
						return err
					}
				}

				var dup int64
				if err := tx.Model(&model.LogEntry{}).
					Where("plant_id = ? AND timestamp = ? AND event_type = ?", plantID, ts, ev.Type).
					Count(&dup).Error; err != nil {
					return fmt.Errorf("check duplicate log: %w", err)
				}
				if dup > 0 {
					res.Skipped++
					continue
				}

				entry := model.LogEntry{
					PlantID:      plantID,
					EventType:    ev.Type,
					SensorName:   ev.SensorName,
					Value:        ev.Value,
					DoseType:     ev.DoseType,
					DoseAmountML: ev.DoseAmountML,
					Timestamp:    ts,
					Phase:        phase,
				}
				if err := tx.Create(&entry).Error; err != nil {
					return fmt.Errorf("create log entry: %w", err)
				}
				res.Written++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// IngestEnvironment persists one reading cycle as a single row, regardless
// of how many plants the device serves. Plant association for environmental
// data is resolved at query time through the assignment intervals.
func (s *Service) IngestEnvironment(ctx context.Context, dev *model.Device, reading EnvironmentReading, at time.Time) (*model.EnvironmentLog, error) {
	if err := s.devices.MarkOnline(ctx, dev.ID); err != nil {
		return nil, err
	}

	ts := at.UTC()
	if reading.Timestamp != nil {
		ts = reading.Timestamp.UTC()
	}

	rec := model.EnvironmentLog{
		DeviceID:        dev.ID,
		LocationID:      dev.LocationID,
		CO2:             reading.CO2,
		Temperature:     reading.Temperature,
		Humidity:        reading.Humidity,
		VPD:             reading.VPD,
		Pressure:        reading.Pressure,
		Altitude:        reading.Altitude,
		GasResistance:   reading.GasResistance,
		AirQualityScore: reading.AirQualityScore,
		Lux:             reading.Lux,
		PPFD:            reading.PPFD,
		Timestamp:       ts,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("create environment log: %w", err)
	}
	return &rec, nil
}

// LatestEnvironment returns a device's most recent reading cycle.
func (s *Service) LatestEnvironment(ctx context.Context, deviceID int64) (*model.EnvironmentLog, error) {
	var rec model.EnvironmentLog
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).
		Order("timestamp DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest environment log: %w", err)
	}
	return &rec, nil
}

// LogFilter narrows a plant log query.
type LogFilter struct {
	EventType string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// PlantLogs returns a plant's log entries, newest first.
func (s *Service) PlantLogs(ctx context.Context, plantID int64, f LogFilter) ([]model.LogEntry, error) {
	q := s.db.WithContext(ctx).Where("plant_id = ?", plantID)
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.From != nil {
		q = q.Where("timestamp >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("timestamp <= ?", f.To.UTC())
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var entries []model.LogEntry
	if err := q.Order("timestamp DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list plant logs: %w", err)
	}
	return entries, nil
}

// PlantEnvironment returns the environment readings taken by devices while
// they were assigned to the plant. The interval join is the query-time
// counterpart of the single-row-per-reading storage rule.
func (s *Service) PlantEnvironment(ctx context.Context, plantID int64, f LogFilter) ([]model.EnvironmentLog, error) {
	q := s.db.WithContext(ctx).Model(&model.EnvironmentLog{}).
		Joins("JOIN device_assignments ON device_assignments.device_id = environment_logs.device_id").
		Where("device_assignments.plant_id = ?", plantID).
		Where("device_assignments.assigned_at <= environment_logs.timestamp").
		Where("device_assignments.removed_at IS NULL OR device_assignments.removed_at > environment_logs.timestamp")
	if f.From != nil {
		q = q.Where("environment_logs.timestamp >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("environment_logs.timestamp <= ?", f.To.UTC())
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	var recs []model.EnvironmentLog
	if err := q.Order("environment_logs.timestamp DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list plant environment logs: %w", err)
	}
	return recs, nil
}
