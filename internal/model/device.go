package model

import (
	"time"

	"gorm.io/datatypes"
)

// Device types. EnvironmentalDevice sensors report room-wide readings; the
// rest act on a single plant.
const (
	DeviceTypeFeedingSystem   = "feeding_system"
	DeviceTypeEnvironmental   = "environmental"
	DeviceTypeValveController = "valve_controller"
	DeviceTypeOther           = "other"
)

// Device scopes. A plant-scoped device serves exactly one plant at a time; a
// room-scoped device fans out to every plant assigned to it.
const (
	ScopePlant = "plant"
	ScopeRoom  = "room"
)

// Device represents a registered piece of growing equipment.
type Device struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	DeviceUID  string `gorm:"uniqueIndex;size:36;not null" json:"device_uid"`
	APIKey     string `gorm:"size:64;not null" json:"-"`
	Name       string `gorm:"size:255" json:"name"`
	SystemName string `gorm:"size:255" json:"system_name,omitempty"`
	Type       string `gorm:"size:50;not null" json:"type"`
	// Scope is fixed once the device has assignment history.
	Scope        string         `gorm:"size:20;not null" json:"scope"`
	Capabilities datatypes.JSON `json:"capabilities,omitempty"`
	Settings     datatypes.JSON `json:"settings,omitempty"`
	Online       bool           `gorm:"not null;default:false" json:"online"`
	LastSeen     *time.Time     `json:"last_seen,omitempty"`
	OwnerID      int64          `gorm:"index;not null" json:"owner_id"`
	LocationID   *int64         `gorm:"index" json:"location_id,omitempty"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DefaultScope returns the scope implied by a device type when registration
// does not name one explicitly.
func DefaultScope(deviceType string) string {
	if deviceType == DeviceTypeEnvironmental {
		return ScopeRoom
	}
	return ScopePlant
}

// ValidDeviceType reports whether t is one of the recognized device types.
func ValidDeviceType(t string) bool {
	switch t {
	case DeviceTypeFeedingSystem, DeviceTypeEnvironmental, DeviceTypeValveController, DeviceTypeOther:
		return true
	}
	return false
}
