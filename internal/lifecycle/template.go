package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"growhub-backend/internal/model"
)

// ErrTemplateNotFound is returned for missing or foreign templates.
var ErrTemplateNotFound = errors.New("phase template not found")

// TemplateInput holds the caller-settable fields of a phase template.
type TemplateInput struct {
	Name        string
	Description string
	Durations   DurationOverrides
}

// CreateTemplate stores a reusable source of expected phase durations.
func (s *Service) CreateTemplate(ctx context.Context, ownerID int64, in TemplateInput) (*model.PhaseTemplate, error) {
	tpl := model.PhaseTemplate{
		OwnerID:     ownerID,
		Name:        in.Name,
		Description: in.Description,
	}
	setTemplateDays(&tpl, in.Durations)
	if err := s.db.WithContext(ctx).Create(&tpl).Error; err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	return &tpl, nil
}

// GetTemplate returns an owned template.
func (s *Service) GetTemplate(ctx context.Context, ownerID, templateID int64) (*model.PhaseTemplate, error) {
	var tpl model.PhaseTemplate
	err := s.db.WithContext(ctx).Where("id = ? AND owner_id = ?", templateID, ownerID).First(&tpl).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return &tpl, nil
}

// ListTemplates returns every template owned by ownerID.
func (s *Service) ListTemplates(ctx context.Context, ownerID int64) ([]model.PhaseTemplate, error) {
	var tpls []model.PhaseTemplate
	err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("id").Find(&tpls).Error
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return tpls, nil
}

// UpdateTemplate replaces the template's fields. Plants that already carry
// their own overrides are unaffected; plants without overrides pick up the
// new values on the next duration resolution.
func (s *Service) UpdateTemplate(ctx context.Context, ownerID, templateID int64, in TemplateInput) (*model.PhaseTemplate, error) {
	tpl, err := s.GetTemplate(ctx, ownerID, templateID)
	if err != nil {
		return nil, err
	}
	tpl.Name = in.Name
	tpl.Description = in.Description
	setTemplateDays(tpl, in.Durations)
	if err := s.db.WithContext(ctx).Save(tpl).Error; err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	return tpl, nil
}

// DeleteTemplate removes a template. Plants referencing it are detached and
// fall back to their own overrides only.
func (s *Service) DeleteTemplate(ctx context.Context, ownerID, templateID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tpl model.PhaseTemplate
		err := tx.Where("id = ? AND owner_id = ?", templateID, ownerID).First(&tpl).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTemplateNotFound
		}
		if err != nil {
			return fmt.Errorf("get template: %w", err)
		}
		if err := tx.Model(&model.Plant{}).Where("template_id = ?", tpl.ID).
			Update("template_id", nil).Error; err != nil {
			return fmt.Errorf("detach plants: %w", err)
		}
		if err := tx.Delete(&tpl).Error; err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		return nil
	})
}

// ApplyTemplate links a template to a plant without touching the plant's
// own overrides.
func (s *Service) ApplyTemplate(ctx context.Context, ownerID, plantID, templateID int64) (*model.Plant, error) {
	if _, err := s.GetTemplate(ctx, ownerID, templateID); err != nil {
		return nil, err
	}
	var updated *model.Plant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		plant, err := s.owned(ctx, tx, ownerID, plantID)
		if err != nil {
			return err
		}
		plant.TemplateID = &templateID
		if err := tx.Save(plant).Error; err != nil {
			return fmt.Errorf("apply template: %w", err)
		}
		updated = plant
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func setTemplateDays(tpl *model.PhaseTemplate, d DurationOverrides) {
	tpl.ExpectedSeedDays = d.Seed
	tpl.ExpectedCloneDays = d.Clone
	tpl.ExpectedVegDays = d.Veg
	tpl.ExpectedFlowerDays = d.Flower
	tpl.ExpectedDryingDays = d.Drying
	tpl.ExpectedCuringDays = d.Curing
}
