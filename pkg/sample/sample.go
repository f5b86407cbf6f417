package sample

import (
	"math"
	"time"

	"github.com/itohio/beltmon/pkg/config"
	"github.com/itohio/beltmon/pkg/record"
)

// Sample is a calibrated tension reading derived from exactly one SensorRecord.
type Sample struct {
	Timestamp time.Time `json:"t"`
	Tension   int       `json:"tension"` // Calibrated tension (lb)
}

// Calibrator applies the linear tension calibration.
// Slope and Offset are fixed for the lifetime of the process.
type Calibrator struct {
	Slope  float64
	Offset float64
}

// NewCalibrator creates a calibrator from configuration.
func NewCalibrator(cfg config.CalibrationConfig) Calibrator {
	return Calibrator{
		Slope:  cfg.Slope,
		Offset: cfg.Offset,
	}
}

// Calibrate converts a raw tension into calibrated integer units.
// Formula: round(raw * slope + offset)
func (c Calibrator) Calibrate(raw float64) int {
	return int(math.Round(raw*c.Slope + c.Offset))
}

// Convert turns a parsed record into a calibrated sample.
func (c Calibrator) Convert(rec record.SensorRecord) Sample {
	return Sample{
		Timestamp: rec.Timestamp,
		Tension:   c.Calibrate(rec.Tension),
	}
}

// ToFahrenheit converts the rig's Celsius temperature reading.
func ToFahrenheit(celsius float64) float64 {
	return celsius*9.0/5.0 + 32.0
}
