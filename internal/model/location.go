package model

import "time"

// Location represents a physical growing space. Locations form a tree via
// ParentID; top-level locations have a nil parent.
type Location struct {
	ID          int64  `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:255;not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`
	ParentID    *int64 `gorm:"index" json:"parent_id,omitempty"`
	OwnerID     int64  `gorm:"index;not null" json:"owner_id"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Associations
	Parent *Location `gorm:"foreignKey:ParentID" json:"-"`
}
