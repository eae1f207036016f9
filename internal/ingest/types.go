package ingest

import "time"

// Event is one decoded device event. A nil Timestamp means "stamp with the
// processing time"; an explicit timestamp marks a backfill, whose phase is
// resolved from history rather than the plant's current phase.
type Event struct {
	Type         string     `json:"event_type" binding:"required"`
	SensorName   string     `json:"sensor_name,omitempty"`
	Value        *float64   `json:"value,omitempty"`
	DoseType     string     `json:"dose_type,omitempty"`
	DoseAmountML *float64   `json:"dose_amount_ml,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// EnvironmentReading is one multi-field reading cycle from an environmental
// sensor. Every field is independently optional.
type EnvironmentReading struct {
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

	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Result summarizes one ingestion batch.
type Result struct {
	Plants  int `json:"plants"`
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}
