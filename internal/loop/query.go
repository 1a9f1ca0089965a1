package loop

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/banshee-data/lanedetect/internal/detector"
)

// Record is one completed aggregation period, for export collaborators.
type Record struct {
	Period  int
	Start   time.Duration
	End     time.Duration
	Flow    float64
	Values  map[string]any
	Partial bool
}

// HasLastValue reports whether at least one period has been aggregated.
func (d *Detector) HasLastValue() bool {
	return len(d.flow) > 0
}

// Periods returns the number of aggregated periods.
func (d *Detector) Periods() int {
	return len(d.flow)
}

// LastFlow returns the flow of the last period in vehicles per second.
func (d *Detector) LastFlow() (float64, error) {
	if len(d.flow) == 0 {
		return 0, fmt.Errorf("loop %s: %w", d.id, detector.ErrEmptyHistory)
	}
	return d.flow[len(d.flow)-1], nil
}

// FlowHistory returns the flow of every aggregated period in vehicles per second.
func (d *Detector) FlowHistory() []float64 {
	return slices.Clone(d.flow)
}

// Measurements describes the registered measurements in registration order.
func (d *Detector) Measurements() []Info {
	return lo.Map(d.slots, func(s slot, _ int) Info { return s.info() })
}

// Records returns the aggregated periods with the periodic values by name.
func (d *Detector) Records() []Record {
	periodic := lo.Filter(d.slots, func(s slot, _ int) bool { return s.periodic() })
	out := make([]Record, len(d.flow))
	for i := range d.flow {
		values := make(map[string]any, len(periodic))
		for _, s := range periodic {
			values[s.info().Name] = s.historyAt(i)
		}
		out[i] = Record{
			Period:  i + 1,
			Start:   d.periods[i].start,
			End:     d.periods[i].end,
			Flow:    d.flow[i],
			Values:  values,
			Partial: d.periods[i].partial,
		}
	}
	return out
}

// Snapshots returns the current value of every non-periodic measurement,
// aggregated over all passages since the start of the run.
func (d *Detector) Snapshots() map[string]any {
	out := make(map[string]any)
	for _, s := range d.slots {
		if !s.periodic() {
			out[s.info().Name] = s.value(d.countOverall, d.sched.Now())
		}
	}
	return out
}

func typedSlotFor[C, A any](d *Detector, m Measurement[C, A]) (*typedSlot[C, A], error) {
	name := m.Info().Name
	s, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("loop %s: measurement %q not registered: %w", d.id, name, detector.ErrConfiguration)
	}
	ts, ok := s.(*typedSlot[C, A])
	if !ok {
		return nil, fmt.Errorf("loop %s: measurement %q registered with other types: %w", d.id, name, detector.ErrConfiguration)
	}
	return ts, nil
}

// LastValue returns the last aggregate of periodic measurement m.
func LastValue[C, A any](d *Detector, m Measurement[C, A]) (A, error) {
	var zero A
	ts, err := typedSlotFor(d, m)
	if err != nil {
		return zero, err
	}
	if !m.Periodic() {
		return zero, fmt.Errorf("loop %s: measurement %q is not periodic: %w", d.id, m.Info().Name, detector.ErrConfiguration)
	}
	if len(ts.history) == 0 {
		return zero, fmt.Errorf("loop %s: %w", d.id, detector.ErrEmptyHistory)
	}
	return ts.history[len(ts.history)-1], nil
}

// History returns every aggregate of periodic measurement m.
func History[C, A any](d *Detector, m Measurement[C, A]) ([]A, error) {
	ts, err := typedSlotFor(d, m)
	if err != nil {
		return nil, err
	}
	if !m.Periodic() {
		return nil, fmt.Errorf("loop %s: measurement %q is not periodic: %w", d.id, m.Info().Name, detector.ErrConfiguration)
	}
	return slices.Clone(ts.history), nil
}

// Snapshot aggregates non-periodic measurement m over the overall count and
// the time since the start of the run. It does not change the detector.
func Snapshot[C, A any](d *Detector, m Measurement[C, A]) (A, error) {
	var zero A
	ts, err := typedSlotFor(d, m)
	if err != nil {
		return zero, err
	}
	if m.Periodic() {
		return zero, fmt.Errorf("loop %s: measurement %q is periodic: %w", d.id, m.Info().Name, detector.ErrConfiguration)
	}
	return m.Aggregate(ts.cum, d.countOverall, d.sched.Now()), nil
}
