package units

import (
	"math"
	"testing"
	"time"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedMPS float64
		units    string
		expected float64
	}{
		{"10 m/s to mph", 10.0, MPH, 22.3694},
		{"10 m/s to kmph", 10.0, KMPH, 36.0},
		{"10 m/s to kph", 10.0, KPH, 36.0},
		{"10 m/s to mps", 10.0, MPS, 10.0},
		{"unknown units default to mps", 10.0, "unknown", 10.0},
		{"motorway speed 33.33 m/s to kmph", 33.33, KMPH, 119.988},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedMPS, tt.units)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedMPS, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mps", MPS, true},
		{"valid kmph", KMPH, true},
		{"flow unit is not a speed", VehPerHour, false},
		{"case sensitive", "MPH", false},
		{"empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.unit); got != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, got, tt.expected)
			}
		})
	}
}

func TestConvertFlow(t *testing.T) {
	if got := ConvertFlow(0.5, VehPerHour); got != 1800 {
		t.Errorf("ConvertFlow(0.5, veh/h) = %f, want 1800", got)
	}
	if got := ConvertFlow(0.5, VehPerSecond); got != 0.5 {
		t.Errorf("ConvertFlow(0.5, veh/s) = %f, want 0.5", got)
	}
}

func TestFromSeconds(t *testing.T) {
	if got := FromSeconds(1.5); got != 1500*time.Millisecond {
		t.Errorf("FromSeconds(1.5) = %v", got)
	}
	if got := FromSeconds(math.NaN()); got != 0 {
		t.Errorf("FromSeconds(NaN) = %v, want 0", got)
	}
	if got := FromSeconds(math.Inf(1)); got != time.Duration(math.MaxInt64) {
		t.Errorf("FromSeconds(+Inf) = %v, want max duration", got)
	}
	if got := Seconds(90 * time.Second); got != 90 {
		t.Errorf("Seconds(90s) = %v", got)
	}
}
