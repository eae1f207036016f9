package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"growhub-backend/internal/db"
	"growhub-backend/internal/model"
	"growhub-backend/internal/share"
)

var (
	// ErrNotFound covers missing and inaccessible plants, devices and
	// assignments alike.
	ErrNotFound = errors.New("assignment target not found")
	// ErrCardinality is returned when an assignment would break the
	// device's scope rule.
	ErrCardinality = errors.New("assignment violates device scope cardinality")
	// ErrAlreadyAssigned is returned when the plant/device pair already has
	// an open interval; intervals for a pair never overlap.
	ErrAlreadyAssigned = errors.New("device is already assigned to this plant")
	// ErrAlreadyRemoved is the idempotency guard on interval removal.
	ErrAlreadyRemoved = errors.New("assignment already removed")
)

// singularTypes lists plant-scoped device types of which a plant may hold
// at most one active assignment.
var singularTypes = map[string]bool{
	model.DeviceTypeFeedingSystem: true,
}

// Service maintains the temporal assignment intervals between devices and
// plants.
type Service struct {
	db     *gorm.DB
	shares *share.Service
}

// NewService creates a new assignment engine.
func NewService(gdb *gorm.DB, shares *share.Service) *Service {
	return &Service{db: gdb, shares: shares}
}

// Assign opens a new assignment interval at the given time. The device row
// is locked for the duration of the cardinality check so two concurrent
// calls cannot both pass it.
func (s *Service) Assign(ctx context.Context, actorID, plantID, deviceID int64, at time.Time) (*model.DeviceAssignment, error) {
	var created *model.DeviceAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dev model.Device
		err := db.LockForUpdate(tx).First(&dev, deviceID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get device: %w", err)
		}

		ok, err := s.shares.CheckDevice(ctx, dev.ID, actorID, share.PermissionWrite)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}

		plant, err := s.accessiblePlant(ctx, tx, actorID, plantID)
		if err != nil {
			return err
		}

		var pairOpen int64
		if err := tx.Model(&model.DeviceAssignment{}).
			Where("plant_id = ? AND device_id = ? AND removed_at IS NULL", plant.ID, dev.ID).
			Count(&pairOpen).Error; err != nil {
			return fmt.Errorf("check open interval: %w", err)
		}
		if pairOpen > 0 {
			return ErrAlreadyAssigned
		}

		if dev.Scope == model.ScopePlant {
			// 1:1 rule: the device may serve at most one plant at a time.
			var open int64
			if err := tx.Model(&model.DeviceAssignment{}).
				Where("device_id = ? AND removed_at IS NULL", dev.ID).
				Count(&open).Error; err != nil {
				return fmt.Errorf("check device cardinality: %w", err)
			}
			if open > 0 {
				return ErrCardinality
			}

			if singularTypes[dev.Type] {
				// The plant may hold at most one active device of this type.
				var sameType int64
				if err := tx.Model(&model.DeviceAssignment{}).
					Joins("JOIN devices ON devices.id = device_assignments.device_id").
					Where("device_assignments.plant_id = ? AND device_assignments.removed_at IS NULL", plant.ID).
					Where("devices.scope = ? AND devices.type = ?", model.ScopePlant, dev.Type).
					Count(&sameType).Error; err != nil {
					return fmt.Errorf("check type exclusivity: %w", err)
				}
				if sameType > 0 {
					return ErrCardinality
				}
			}
		}

		rec := model.DeviceAssignment{
			PlantID:    plant.ID,
			DeviceID:   dev.ID,
			AssignedAt: at.UTC(),
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("create assignment: %w", err)
		}
		created = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Remove closes an open assignment interval at the given time.
func (s *Service) Remove(ctx context.Context, actorID, assignmentID int64, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec model.DeviceAssignment
		err := db.LockForUpdate(tx).First(&rec, assignmentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get assignment: %w", err)
		}

		ok, err := s.shares.CheckDevice(ctx, rec.DeviceID, actorID, share.PermissionWrite)
		if err != nil {
			return err
		}
		if !ok {
			if _, err := s.accessiblePlant(ctx, tx, actorID, rec.PlantID); err != nil {
				return ErrNotFound
			}
		}

		if rec.RemovedAt != nil {
			return ErrAlreadyRemoved
		}

		removedAt := at.UTC()
		rec.RemovedAt = &removedAt
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("remove assignment: %w", err)
		}
		return nil
	})
}

// ActivePlants returns the ids of plants whose assignment interval with the
// device covers the given instant. The query touches only open intervals
// and intervals closed after t, never the whole history.
func (s *Service) ActivePlants(ctx context.Context, deviceID int64, at time.Time) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).Model(&model.DeviceAssignment{}).
		Where("device_id = ? AND assigned_at <= ?", deviceID, at.UTC()).
		Where("removed_at IS NULL OR removed_at > ?", at.UTC()).
		Order("plant_id").
		Pluck("plant_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("resolve active plants: %w", err)
	}
	return ids, nil
}

// ActiveForPlant returns the plant's currently open assignment intervals.
func (s *Service) ActiveForPlant(ctx context.Context, plantID int64) ([]model.DeviceAssignment, error) {
	var recs []model.DeviceAssignment
	err := s.db.WithContext(ctx).
		Where("plant_id = ? AND removed_at IS NULL", plantID).
		Order("id").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list active assignments: %w", err)
	}
	return recs, nil
}

// History returns every interval ever recorded for a plant, oldest first.
func (s *Service) History(ctx context.Context, plantID int64) ([]model.DeviceAssignment, error) {
	var recs []model.DeviceAssignment
	err := s.db.WithContext(ctx).
		Where("plant_id = ?", plantID).
		Order("assigned_at").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list assignment history: %w", err)
	}
	return recs, nil
}

// accessiblePlant loads a plant the actor owns, or one sitting in a
// location the actor holds write access on.
func (s *Service) accessiblePlant(ctx context.Context, tx *gorm.DB, actorID, plantID int64) (*model.Plant, error) {
	var plant model.Plant
	err := tx.First(&plant, plantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plant: %w", err)
	}
	if plant.OwnerID == actorID {
		return &plant, nil
	}
	if plant.LocationID != nil {
		ok, err := s.shares.CheckLocation(ctx, *plant.LocationID, actorID, share.PermissionWrite)
		if err != nil {
			return nil, err
		}
		if ok {
			return &plant, nil
		}
	}
	return nil, ErrNotFound
}
