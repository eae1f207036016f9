package model

import "time"

// Log entry event types.
const (
	EventTypeSensor  = "sensor"
	EventTypeDosing  = "dosing"
	EventTypeValve   = "valve"
	EventTypeControl = "control"
)

// LogEntry is one device event attributed to one plant, stamped with the
// phase active when it was ingested. Rows are append-only.
type LogEntry struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	PlantID      int64     `gorm:"index;not null" json:"plant_id"`
	EventType    string    `gorm:"size:20;not null" json:"event_type"`
	SensorName   string    `gorm:"size:50" json:"sensor_name,omitempty"`
	Value        *float64  `json:"value,omitempty"`
	DoseType     string    `gorm:"size:10" json:"dose_type,omitempty"`
	DoseAmountML *float64  `json:"dose_amount_ml,omitempty"`
	Timestamp    time.Time `gorm:"index;not null" json:"timestamp"`
	Phase        string    `gorm:"size:50" json:"phase,omitempty"`
	CreatedAt    time.Time `json:"-"`
}

// EnvironmentLog is one reading cycle from one device. A room-scoped
// device's row is logically shared by every plant assigned at that moment;
// the association is resolved at query time, never stored per plant.
type EnvironmentLog struct {
	ID         int64  `gorm:"primaryKey" json:"id"`
	DeviceID   int64  `gorm:"index;not null" json:"device_id"`
	LocationID *int64 `gorm:"index" json:"location_id,omitempty"`

	CO2         *int     `json:"co2,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	VPD         *float64 `json:"vpd,omitempty"`

	Pressure        *float64 `json:"pressure,omitempty"`
	Altitude        *float64 `json:"altitude,omitempty"`
	GasResistance   *float64 `json:"gas_resistance,omitempty"`
	AirQualityScore *int     `json:"air_quality_score,omitempty"`

	Lux  *float64 `json:"lux,omitempty"`
	PPFD *float64 `json:"ppfd,omitempty"`

	Timestamp time.Time `gorm:"index;not null" json:"timestamp"`
	CreatedAt time.Time `json:"-"`
}
