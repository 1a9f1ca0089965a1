// Package units provides shared constants and conversions for the speed,
// flow and time quantities reported by lane detectors. Detectors accumulate
// in SI (m/s, veh/s, seconds) and convert only when reporting.
package units

import (
	"math"
	"time"
)

// Speed unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Flow unit constants
const (
	VehPerSecond = "veh/s"
	VehPerHour   = "veh/h"
)

// ValidUnits contains all valid speed unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// MPSToKMPH is the factor from metres per second to kilometres per hour.
const MPSToKMPH = 3.6

// IsValid checks if the given unit is in the list of valid speed units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units fall back to m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * MPSToKMPH
	default:
		return speedMPS
	}
}

// ConvertFlow converts a flow in vehicles per second to the target units.
func ConvertFlow(vehPerSecond float64, targetUnits string) float64 {
	if targetUnits == VehPerHour {
		return vehPerSecond * 3600
	}
	return vehPerSecond
}

// Seconds returns d as float seconds, the SI time base used by measurements.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// FromSeconds converts float seconds to a duration, rounding to the
// nearest nanosecond. Infinite or NaN input saturates.
func FromSeconds(s float64) time.Duration {
	switch {
	case math.IsNaN(s):
		return 0
	case s >= float64(math.MaxInt64)/float64(time.Second):
		return time.Duration(math.MaxInt64)
	case s <= float64(math.MinInt64)/float64(time.Second):
		return time.Duration(math.MinInt64)
	}
	return time.Duration(math.Round(s * float64(time.Second)))
}
