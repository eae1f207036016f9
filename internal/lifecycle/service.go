package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"growhub-backend/internal/db"
	"growhub-backend/internal/model"
)

var (
	// ErrNotFound covers missing and inaccessible plants and templates.
	ErrNotFound = errors.New("plant not found")
	// ErrInvalidTransition is returned for any phase jump that is not a
	// single forward step or a finish.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrEndBeforeStart guards the end-date >= start-date invariant.
	ErrEndBeforeStart = errors.New("end date precedes start date")
)

// Service runs the plant lifecycle state machine and owns plant and
// template records.
type Service struct {
	db *gorm.DB
}

// NewService creates a new lifecycle service.
func NewService(gdb *gorm.DB) *Service {
	return &Service{db: gdb}
}

// DurationOverrides carries per-phase expected durations in days. Nil
// fields mean "no override".
type DurationOverrides struct {
	Seed   *int
	Clone  *int
	Veg    *int
	Flower *int
	Drying *int
	Curing *int
}

// CreateInput holds the caller-settable fields of a new plant.
type CreateInput struct {
	Name          string
	BatchNumber   string
	LocationID    *int64
	TemplateID    *int64
	StartDate     time.Time
	StartingPhase *Phase // nil registers the plant without starting it
	Overrides     DurationOverrides
	DisplayOrder  int
}

// CreatePlant registers a plant. When a starting phase is given the plant
// enters it immediately; otherwise it sits in status "created" until the
// first Advance call.
func (s *Service) CreatePlant(ctx context.Context, ownerID int64, in CreateInput) (*model.Plant, error) {
	if in.StartingPhase != nil && !isEntry(*in.StartingPhase) {
		return nil, ErrInvalidTransition
	}

	plant := model.Plant{
		PlantUID:     uuid.NewString(),
		Name:         in.Name,
		BatchNumber:  in.BatchNumber,
		OwnerID:      ownerID,
		LocationID:   in.LocationID,
		TemplateID:   in.TemplateID,
		StartDate:    truncateToDate(in.StartDate),
		Status:       model.StatusCreated,
		DisplayOrder: in.DisplayOrder,
	}
	applyOverrides(&plant, in.Overrides)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&plant).Error; err != nil {
			return fmt.Errorf("create plant: %w", err)
		}
		if in.StartingPhase != nil {
			// History begins at the plant's start, not at creation time,
			// so PhaseAt resolves the entry phase for plants that started
			// in the past.
			return enterPhase(tx, &plant, *in.StartingPhase, in.StartDate.UTC())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &plant, nil
}

// Get returns an owned plant.
func (s *Service) Get(ctx context.Context, ownerID, plantID int64) (*model.Plant, error) {
	return s.owned(ctx, s.db, ownerID, plantID)
}

// List returns every plant owned by ownerID in display order.
func (s *Service) List(ctx context.Context, ownerID int64) ([]model.Plant, error) {
	var plants []model.Plant
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).
		Order("display_order, id").Find(&plants).Error
	if err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}
	return plants, nil
}

// UpdateInput holds the mutable plant fields outside the state machine.
type UpdateInput struct {
	Name         *string
	BatchNumber  *string
	LocationID   *int64
	YieldGrams   *float64
	DisplayOrder *int
	Overrides    *DurationOverrides
}

// Update applies bookkeeping changes to an owned plant. Phase and status
// are not touchable here; they move only through Advance, Finish and
// Archive.
func (s *Service) Update(ctx context.Context, ownerID, plantID int64, in UpdateInput) (*model.Plant, error) {
	var updated *model.Plant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plant, err := s.owned(ctx, tx, ownerID, plantID)
		if err != nil {
			return err
		}
		if in.Name != nil {
			plant.Name = *in.Name
		}
		if in.BatchNumber != nil {
			plant.BatchNumber = *in.BatchNumber
		}
		if in.LocationID != nil {
			plant.LocationID = in.LocationID
		}
		if in.YieldGrams != nil {
			plant.YieldGrams = in.YieldGrams
		}
		if in.DisplayOrder != nil {
			plant.DisplayOrder = *in.DisplayOrder
		}
		if in.Overrides != nil {
			applyOverrides(plant, *in.Overrides)
		}
		if err := tx.Save(plant).Error; err != nil {
			return fmt.Errorf("update plant: %w", err)
		}
		updated = plant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a plant together with its logs, phase history and
// assignment intervals.
func (s *Service) Delete(ctx context.Context, ownerID, plantID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plant, err := s.owned(ctx, tx, ownerID, plantID)
		if err != nil {
			return err
		}
		if err := tx.Where("plant_id = ?", plant.ID).Delete(&model.LogEntry{}).Error; err != nil {
			return fmt.Errorf("delete logs: %w", err)
		}
		if err := tx.Where("plant_id = ?", plant.ID).Delete(&model.PhaseHistory{}).Error; err != nil {
			return fmt.Errorf("delete phase history: %w", err)
		}
		if err := tx.Where("plant_id = ?", plant.ID).Delete(&model.DeviceAssignment{}).Error; err != nil {
			return fmt.Errorf("delete assignments: %w", err)
		}
		if err := tx.Delete(plant).Error; err != nil {
			return fmt.Errorf("delete plant: %w", err)
		}
		return nil
	})
}

// Advance steps a plant into the next phase at the given time. Only the
// immediate successor of the current phase (or an entry phase for a fresh
// plant) is legal; anything else fails with ErrInvalidTransition. The plant
// row is locked for the duration of the check-then-write sequence.
func (s *Service) Advance(ctx context.Context, ownerID, plantID int64, next Phase, at time.Time) (*model.Plant, error) {
	if !next.Valid() {
		return nil, ErrInvalidTransition
	}

	var advanced *model.Plant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plant, err := s.ownedLocked(ctx, tx, ownerID, plantID)
		if err != nil {
			return err
		}
		if plant.Status == model.StatusFinished || plant.Status == model.StatusArchived {
			return ErrInvalidTransition
		}
		if !canAdvance(plant.CurrentPhase, next) {
			return ErrInvalidTransition
		}
		if err := enterPhase(tx, plant, next, at.UTC()); err != nil {
			return err
		}
		advanced = plant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return advanced, nil
}

// Finish terminates a plant's lifecycle: the open phase record is closed,
// the end date is stamped and the status becomes "finished". Reachable from
// any phase.
func (s *Service) Finish(ctx context.Context, ownerID, plantID int64, at time.Time) (*model.Plant, error) {
	var finished *model.Plant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plant, err := s.ownedLocked(ctx, tx, ownerID, plantID)
		if err != nil {
			return err
		}
		if plant.Status == model.StatusFinished || plant.Status == model.StatusArchived {
			return ErrInvalidTransition
		}

		endDate := truncateToDate(at.UTC())
		if endDate.Before(plant.StartDate) {
			return ErrEndBeforeStart
		}

		if err := closeOpenPhase(tx, plant.ID, at.UTC()); err != nil {
			return err
		}
		if plant.CurrentPhase != nil && Phase(*plant.CurrentPhase) == PhaseCuring {
			t := at.UTC()
			plant.CureEndDate = &t
		}
		plant.CurrentPhase = nil
		plant.EndDate = &endDate
		plant.Status = model.StatusFinished
		if err := tx.Save(plant).Error; err != nil {
			return fmt.Errorf("finish plant: %w", err)
		}
		finished = plant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finished, nil
}

// Archive moves a finished plant out of the working set.
func (s *Service) Archive(ctx context.Context, ownerID, plantID int64) (*model.Plant, error) {
	var archived *model.Plant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plant, err := s.ownedLocked(ctx, tx, ownerID, plantID)
		if err != nil {
			return err
		}
		if plant.Status != model.StatusFinished {
			return ErrInvalidTransition
		}
		plant.Status = model.StatusArchived
		if err := tx.Save(plant).Error; err != nil {
			return fmt.Errorf("archive plant: %w", err)
		}
		archived = plant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return archived, nil
}

// History returns a plant's phase records, oldest first.
func (s *Service) History(ctx context.Context, ownerID, plantID int64) ([]model.PhaseHistory, error) {
	if _, err := s.owned(ctx, s.db, ownerID, plantID); err != nil {
		return nil, err
	}
	var recs []model.PhaseHistory
	err := s.db.WithContext(ctx).Where("plant_id = ?", plantID).
		Order("entered_at").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list phase history: %w", err)
	}
	return recs, nil
}

// PhaseAt resolves the phase a plant was in at an arbitrary instant from
// the history trail. The empty string means no phase was active then.
func (s *Service) PhaseAt(ctx context.Context, plantID int64, at time.Time) (string, error) {
	var rec model.PhaseHistory
	err := s.db.WithContext(ctx).
		Where("plant_id = ? AND entered_at <= ?", plantID, at.UTC()).
		Where("exited_at IS NULL OR exited_at > ?", at.UTC()).
		Order("entered_at DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve phase at time: %w", err)
	}
	return rec.Phase, nil
}

// CurrentPhase returns the plant's active phase, or "" when none is.
func (s *Service) CurrentPhase(ctx context.Context, plantID int64) (string, error) {
	var plant model.Plant
	err := s.db.WithContext(ctx).Select("current_phase").First(&plant, plantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get current phase: %w", err)
	}
	if plant.CurrentPhase == nil {
		return "", nil
	}
	return *plant.CurrentPhase, nil
}

// ExpectedDays resolves the expected duration of a phase for a plant:
// the plant's own override wins, then the linked template, then nothing.
func (s *Service) ExpectedDays(ctx context.Context, plant *model.Plant, phase Phase) (*int, error) {
	if v := overrideFor(plant, phase); v != nil {
		return v, nil
	}
	if plant.TemplateID == nil {
		return nil, nil
	}
	var tpl model.PhaseTemplate
	err := s.db.WithContext(ctx).First(&tpl, *plant.TemplateID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return templateDaysFor(&tpl, phase), nil
}

// ExpectedDurations resolves every phase's expected duration at once.
func (s *Service) ExpectedDurations(ctx context.Context, plant *model.Plant) (map[Phase]*int, error) {
	out := make(map[Phase]*int, len(Phases))
	var tpl *model.PhaseTemplate
	if plant.TemplateID != nil {
		var rec model.PhaseTemplate
		err := s.db.WithContext(ctx).First(&rec, *plant.TemplateID).Error
		if err == nil {
			tpl = &rec
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get template: %w", err)
		}
	}
	for _, p := range Phases {
		if v := overrideFor(plant, p); v != nil {
			out[p] = v
			continue
		}
		if tpl != nil {
			out[p] = templateDaysFor(tpl, p)
			continue
		}
		out[p] = nil
	}
	return out, nil
}

// enterPhase closes the open history record, opens the next one and keeps
// the derived plant fields in step. Callers hold the plant row lock.
func enterPhase(tx *gorm.DB, plant *model.Plant, next Phase, at time.Time) error {
	if err := closeOpenPhase(tx, plant.ID, at); err != nil {
		return err
	}

	rec := model.PhaseHistory{
		PlantID:   plant.ID,
		Phase:     string(next),
		EnteredAt: at,
	}
	if err := tx.Create(&rec).Error; err != nil {
		return fmt.Errorf("create phase history: %w", err)
	}

	phase := string(next)
	plant.CurrentPhase = &phase
	plant.Status = model.StatusFeeding
	switch next {
	case PhaseDrying:
		plant.HarvestDate = &at
	case PhaseCuring:
		plant.CureStartDate = &at
	}
	if err := tx.Save(plant).Error; err != nil {
		return fmt.Errorf("update plant phase: %w", err)
	}
	return nil
}

func closeOpenPhase(tx *gorm.DB, plantID int64, at time.Time) error {
	err := tx.Model(&model.PhaseHistory{}).
		Where("plant_id = ? AND exited_at IS NULL", plantID).
		Update("exited_at", at).Error
	if err != nil {
		return fmt.Errorf("close phase history: %w", err)
	}
	return nil
}

func (s *Service) owned(ctx context.Context, tx *gorm.DB, ownerID, plantID int64) (*model.Plant, error) {
	var plant model.Plant
	err := tx.WithContext(ctx).Where("id = ? AND owner_id = ?", plantID, ownerID).First(&plant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plant: %w", err)
	}
	return &plant, nil
}

func (s *Service) ownedLocked(ctx context.Context, tx *gorm.DB, ownerID, plantID int64) (*model.Plant, error) {
	var plant model.Plant
	err := db.LockForUpdate(tx.WithContext(ctx)).
		Where("id = ? AND owner_id = ?", plantID, ownerID).First(&plant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plant: %w", err)
	}
	return &plant, nil
}

func applyOverrides(plant *model.Plant, o DurationOverrides) {
	if o.Seed != nil {
		plant.ExpectedSeedDays = o.Seed
	}
	if o.Clone != nil {
		plant.ExpectedCloneDays = o.Clone
	}
	if o.Veg != nil {
		plant.ExpectedVegDays = o.Veg
	}
	if o.Flower != nil {
		plant.ExpectedFlowerDays = o.Flower
	}
	if o.Drying != nil {
		plant.ExpectedDryingDays = o.Drying
	}
	if o.Curing != nil {
		plant.ExpectedCuringDays = o.Curing
	}
}

func overrideFor(plant *model.Plant, phase Phase) *int {
	switch phase {
	case PhaseSeed:
		return plant.ExpectedSeedDays
	case PhaseClone:
		return plant.ExpectedCloneDays
	case PhaseVeg:
		return plant.ExpectedVegDays
	case PhaseFlower:
		return plant.ExpectedFlowerDays
	case PhaseDrying:
		return plant.ExpectedDryingDays
	case PhaseCuring:
		return plant.ExpectedCuringDays
	}
	return nil
}

func templateDaysFor(tpl *model.PhaseTemplate, phase Phase) *int {
	switch phase {
	case PhaseSeed:
		return tpl.ExpectedSeedDays
	case PhaseClone:
		return tpl.ExpectedCloneDays
	case PhaseVeg:
		return tpl.ExpectedVegDays
	case PhaseFlower:
		return tpl.ExpectedFlowerDays
	case PhaseDrying:
		return tpl.ExpectedDryingDays
	case PhaseCuring:
		return tpl.ExpectedCuringDays
	}
	return nil
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
