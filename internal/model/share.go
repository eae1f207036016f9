package model

import "time"

// LocationShare grants a user time-bounded access to a location. The share
// is redeemed by code; SharedWithUserID stays nil until someone accepts an
// unbound share.
type LocationShare struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	LocationID       int64      `gorm:"index;not null" json:"location_id"`
	OwnerID          int64      `gorm:"not null" json:"owner_id"`
	SharedWithUserID *int64     `gorm:"index" json:"shared_with_user_id,omitempty"`
	ShareCode        string     `gorm:"uniqueIndex;size:12;not null" json:"share_code"`
	PermissionLevel  string     `gorm:"size:20;not null" json:"permission_level"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
}

// DeviceShare is the device-targeted counterpart of LocationShare. The two
// are kept as separate tables with a symmetric shape, matching the fact that
// a share code must be unique across both.
type DeviceShare struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	DeviceID         int64      `gorm:"index;not null" json:"device_id"`
	OwnerID          int64      `gorm:"not null" json:"owner_id"`
	SharedWithUserID *int64     `gorm:"index" json:"shared_with_user_id,omitempty"`
	ShareCode        string     `gorm:"uniqueIndex;size:12;not null" json:"share_code"`
	PermissionLevel  string     `gorm:"size:20;not null" json:"permission_level"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	AcceptedAt       *time.Time `json:"accepted_at,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
}
