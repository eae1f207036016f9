package model

import "time"

// Plant statuses. Status is derived, never set directly by callers:
// "created" until the first phase is entered, "feeding" while growing,
// "finished" once EndDate is set, "archived" after explicit archival.
const (
	StatusCreated  = "created"
	StatusFeeding  = "feeding"
	StatusFinished = "finished"
	StatusArchived = "archived"
)

// Plant represents a single tracked plant.
type Plant struct {
	ID          int64      `gorm:"primaryKey" json:"id"`
	PlantUID    string     `gorm:"uniqueIndex;size:36;not null" json:"plant_uid"`
	Name        string     `gorm:"size:255;not null" json:"name"`
	BatchNumber string     `gorm:"size:100" json:"batch_number,omitempty"`
	OwnerID     int64      `gorm:"index;not null" json:"owner_id"`
	LocationID  *int64     `gorm:"index" json:"location_id,omitempty"`
	StartDate   time.Time  `gorm:"not null" json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`

	Status        string     `gorm:"size:50;not null;default:created" json:"status"`
	CurrentPhase  *string    `gorm:"size:50" json:"current_phase,omitempty"`
	HarvestDate   *time.Time `json:"harvest_date,omitempty"`
	CureStartDate *time.Time `json:"cure_start_date,omitempty"`
	CureEndDate   *time.Time `json:"cure_end_date,omitempty"`

	// Per-plant expected phase durations, overriding the template.
	ExpectedSeedDays   *int `json:"expected_seed_days,omitempty"`
	ExpectedCloneDays  *int `json:"expected_clone_days,omitempty"`
	ExpectedVegDays    *int `json:"expected_veg_days,omitempty"`
	ExpectedFlowerDays *int `json:"expected_flower_days,omitempty"`
	ExpectedDryingDays *int `json:"expected_drying_days,omitempty"`
	ExpectedCuringDays *int `json:"expected_curing_days,omitempty"`

	TemplateID   *int64   `gorm:"index" json:"template_id,omitempty"`
	YieldGrams   *float64 `json:"yield_grams,omitempty"`
	DisplayOrder int      `gorm:"not null;default:0" json:"display_order"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PhaseTemplate is a reusable source of expected phase durations. Applying
// a template never mutates a plant's own overrides.
type PhaseTemplate struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	OwnerID     int64  `gorm:"index;not null" json:"owner_id"`
	Name        string `gorm:"size:100;not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	ExpectedSeedDays   *int `json:"expected_seed_days,omitempty"`
	ExpectedCloneDays  *int `json:"expected_clone_days,omitempty"`
	ExpectedVegDays    *int `json:"expected_veg_days,omitempty"`
	ExpectedFlowerDays *int `json:"expected_flower_days,omitempty"`
	ExpectedDryingDays *int `json:"expected_drying_days,omitempty"`
	ExpectedCuringDays *int `json:"expected_curing_days,omitempty"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PhaseHistory is the append-only audit trail of phase changes. Exactly one
// record per plant has a nil ExitedAt while the plant is in a phase.
type PhaseHistory struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	PlantID   int64      `gorm:"index:idx_phase_history_plant_open;not null" json:"plant_id"`
	Phase     string     `gorm:"size:50;not null" json:"phase"`
	EnteredAt time.Time  `gorm:"not null" json:"entered_at"`
	ExitedAt  *time.Time `gorm:"index:idx_phase_history_plant_open" json:"exited_at,omitempty"`
}
