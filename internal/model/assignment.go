package model

import "time"

// DeviceAssignment is one temporal interval during which a device serves a
// plant. A nil RemovedAt marks the interval as currently active. Historical
// intervals for the same (plant, device) pair never overlap.
type DeviceAssignment struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	PlantID    int64      `gorm:"index;not null" json:"plant_id"`
	DeviceID   int64      `gorm:"index:idx_assignments_device_open;not null" json:"device_id"`
	AssignedAt time.Time  `gorm:"not null" json:"assigned_at"`
	RemovedAt  *time.Time `gorm:"index:idx_assignments_device_open" json:"removed_at,omitempty"`
}
