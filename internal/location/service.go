package location

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"growhub-backend/internal/model"
)

var (
	// ErrNotFound is returned when a location does not exist or the caller
	// cannot see it. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("location not found")
	// ErrCycle is returned when a reparent would make the hierarchy cyclic.
	ErrCycle = errors.New("location hierarchy would become cyclic")
)

// Service manages the location tree for each owner.
type Service struct {
	db *gorm.DB
}

// NewService creates a new location service.
func NewService(gdb *gorm.DB) *Service {
	return &Service{db: gdb}
}

// Input holds the caller-settable location fields.
type Input struct {
	Name        string
	Description string
	ParentID    *int64
}

// Create inserts a new location under the optional parent. The parent must
// exist and belong to the same owner.
func (s *Service) Create(ctx context.Context, ownerID int64, in Input) (*model.Location, error) {
	if in.ParentID != nil {
		if _, err := s.owned(ctx, s.db, ownerID, *in.ParentID); err != nil {
			return nil, err
		}
	}

	loc := model.Location{
		Name:        in.Name,
		Description: in.Description,
		ParentID:    in.ParentID,
		OwnerID:     ownerID,
	}
	if err := s.db.WithContext(ctx).Create(&loc).Error; err != nil {
		return nil, fmt.Errorf("create location: %w", err)
	}
	return &loc, nil
}

// Get returns a single owned location.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (*model.Location, error) {
	return s.owned(ctx, s.db, ownerID, id)
}

// List returns every location owned by ownerID.
func (s *Service) List(ctx context.Context, ownerID int64) ([]model.Location, error) {
	var locs []model.Location
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&locs).Error; err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locs, nil
}

// Update renames or reparents a location. Moving a location under itself or
// one of its own descendants fails with ErrCycle.
func (s *Service) Update(ctx context.Context, ownerID, id int64, in Input) (*model.Location, error) {
	var updated *model.Location
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loc, err := s.owned(ctx, tx, ownerID, id)
		if err != nil {
			return err
		}

		if in.ParentID != nil {
			if *in.ParentID == id {
				return ErrCycle
			}
			if _, err := s.owned(ctx, tx, ownerID, *in.ParentID); err != nil {
				return err
			}
			descendantIDs, err := collectDescendantIDs(ctx, tx, id)
			if err != nil {
				return err
			}
			for _, did := range descendantIDs {
				if did == *in.ParentID {
					return ErrCycle
				}
			}
		}

		loc.Name = in.Name
		loc.Description = in.Description
		loc.ParentID = in.ParentID
		if err := tx.Save(loc).Error; err != nil {
			return fmt.Errorf("update location: %w", err)
		}
		updated = loc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a location and all of its descendants. Devices and plants
// referencing any deleted location are detached, never deleted. Shares on
// the deleted locations go with them.
func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.owned(ctx, tx, ownerID, id); err != nil {
			return err
		}

		ids, err := collectDescendantIDs(ctx, tx, id)
		if err != nil {
			return err
		}
		ids = append([]int64{id}, ids...)

		if err := tx.Model(&model.Device{}).Where("location_id IN ?", ids).
			Update("location_id", nil).Error; err != nil {
			return fmt.Errorf("detach devices: %w", err)
		}
		if err := tx.Model(&model.Plant{}).Where("location_id IN ?", ids).
			Update("location_id", nil).Error; err != nil {
			return fmt.Errorf("detach plants: %w", err)
		}
		if err := tx.Where("location_id IN ?", ids).Delete(&model.LocationShare{}).Error; err != nil {
			return fmt.Errorf("delete location shares: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&model.Location{}).Error; err != nil {
			return fmt.Errorf("delete locations: %w", err)
		}
		return nil
	})
}

// Descendants returns the subtree below an owned location in depth-first
// order, excluding the location itself. Each call re-queries, so the result
// reflects current state rather than a live cursor.
func (s *Service) Descendants(ctx context.Context, ownerID, id int64) ([]model.Location, error) {
	if _, err := s.owned(ctx, s.db, ownerID, id); err != nil {
		return nil, err
	}
	return s.descendantsDFS(ctx, id)
}

func (s *Service) descendantsDFS(ctx context.Context, id int64) ([]model.Location, error) {
	var children []model.Location
	if err := s.db.WithContext(ctx).Where("parent_id = ?", id).Order("id").Find(&children).Error; err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	var out []model.Location
	for _, child := range children {
		out = append(out, child)
		sub, err := s.descendantsDFS(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func (s *Service) owned(ctx context.Context, tx *gorm.DB, ownerID, id int64) (*model.Location, error) {
	var loc model.Location
	err := tx.WithContext(ctx).Where("id = ? AND owner_id = ?", id, ownerID).First(&loc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}
	return &loc, nil
}

// collectDescendantIDs walks the tree breadth-first and returns every id
// strictly below root.
func collectDescendantIDs(ctx context.Context, tx *gorm.DB, root int64) ([]int64, error) {
	var all []int64
	frontier := []int64{root}
	for len(frontier) > 0 {
		var next []int64
		if err := tx.WithContext(ctx).Model(&model.Location{}).
			Where("parent_id IN ?", frontier).Pluck("id", &next).Error; err != nil {
			return nil, fmt.Errorf("collect descendants: %w", err)
		}
		all = append(all, next...)
		frontier = next
	}
	return all, nil
}
