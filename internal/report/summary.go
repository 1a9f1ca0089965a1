// Package report summarises loop detector histories and renders them as
// charts.
package report

import (
	"math"
	"slices"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lanedetect/internal/loop"
	"github.com/banshee-data/lanedetect/internal/units"
)

// SpeedName is the measurement name of the arithmetic mean speed.
var SpeedName = loop.MeanSpeed{}.Info().Name

// Summary condenses the periodic history of one loop detector.
type Summary struct {
	DetectorID string
	Periods    int
	Partial    int
	// Vehicles is the number of front-flank passages in the summarised
	// periods.
	Vehicles int

	MeanFlow float64 // veh/h
	StdFlow  float64 // veh/h
	PeakFlow float64 // veh/h

	// MeanSpeed is the vehicle-weighted mean of the period mean speeds and
	// P85Speed the 85th percentile of period mean speeds, both in
	// SpeedUnits. Periods without vehicles are skipped; NaN when no
	// period had any.
	MeanSpeed  float64
	P85Speed   float64
	SpeedUnits string
}

// Summarise computes flow and speed statistics over records. Speeds are
// read from the SpeedName value and converted to speedUnits.
func Summarise(detectorID string, records []loop.Record, speedUnits string) Summary {
	s := Summary{
		DetectorID: detectorID,
		Periods:    len(records),
		Partial:    lo.CountBy(records, func(r loop.Record) bool { return r.Partial }),
		MeanSpeed:  math.NaN(),
		P85Speed:   math.NaN(),
		SpeedUnits: speedUnits,
	}
	if len(records) == 0 {
		return s
	}

	flows := lo.Map(records, func(r loop.Record, _ int) float64 {
		return units.ConvertFlow(r.Flow, units.VehPerHour)
	})
	s.MeanFlow, s.StdFlow = stat.MeanStdDev(flows, nil)
	if len(flows) < 2 {
		s.StdFlow = 0
	}
	s.PeakFlow = floats.Max(flows)

	var speeds, weights []float64
	for _, r := range records {
		n := int(math.Round(r.Flow * (r.End - r.Start).Seconds()))
		s.Vehicles += n
		v, ok := r.Values[SpeedName].(float64)
		if !ok || math.IsNaN(v) || n == 0 {
			continue
		}
		speeds = append(speeds, units.ConvertSpeed(v/units.MPSToKMPH, speedUnits))
		weights = append(weights, float64(n))
	}
	if len(speeds) > 0 {
		s.MeanSpeed = stat.Mean(speeds, weights)
		sorted := slices.Clone(speeds)
		slices.Sort(sorted)
		s.P85Speed = stat.Quantile(0.85, stat.Empirical, sorted, nil)
	}
	return s
}
