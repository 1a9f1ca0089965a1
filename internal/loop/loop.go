// Package loop implements the dual-loop detector: a front and a rear
// cross-section detector a fixed length apart, feeding a registry of
// pluggable measurements that are aggregated on a fixed period.
package loop

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/banshee-data/lanedetect/internal/detector"
	"github.com/banshee-data/lanedetect/internal/monitoring"
	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/sim"
)

// RearSuffix is appended to a loop id to name its rear flank.
const RearSuffix = "_rear"

// Config describes a dual-loop detector.
type Config struct {
	ID        string
	LaneID    string
	PositionM float64
	// LengthM separates the front flank from the rear flank.
	LengthM float64
	// FirstAggregation is the time of the first tick. Zero means one
	// AggregationPeriod after the start of the run.
	FirstAggregation  time.Duration
	AggregationPeriod time.Duration
	Measurements      []Registration
	// Compatibility restricts the GTU types counted; nil counts all.
	Compatibility detector.Compatibility
}

// LoopTriggered is emitted when a GTU passes the front flank.
type LoopTriggered struct {
	DetectorID string
	GTUID      string
	Time       time.Duration
}

// Aggregate is emitted once per tick with the flow and the periodic
// measurement values in registration order.
type Aggregate struct {
	DetectorID string
	Period     int
	Start      time.Duration
	End        time.Duration
	// Flow is in vehicles per second.
	Flow   float64
	Names  []string
	Values []any
	Time   time.Duration
}

// Detector is a dual-loop detector.
type Detector struct {
	id                string
	laneID            string
	positionM         float64
	lengthM           float64
	firstAggregation  time.Duration
	aggregationPeriod time.Duration

	sched sim.Scheduler
	front *detector.Detector
	rear  *detector.Detector

	slots   []slot
	byName  map[string]slot
	pending map[string]Entry

	periodIndex  int
	countPeriod  int
	countOverall int
	flow         []float64
	periods      []span
	lastTick     time.Duration

	tick      sim.Handle
	scheduled bool
	closed    bool

	triggeredListeners []func(LoopTriggered)
	aggregateListeners []func(Aggregate)
}

type span struct {
	start, end time.Duration
	partial    bool
}

// New builds the loop, registers both flanks on the lane and schedules the
// first aggregation tick. It fails with detector.ErrConfiguration for a
// non-positive period, a negative length, a loop running past the lane end,
// duplicate measurement names or ids already taken. On failure nothing is
// left registered.
func New(net *network.Network, sched sim.Scheduler, cfg Config) (*Detector, error) {
	if cfg.AggregationPeriod <= 0 {
		return nil, fmt.Errorf("loop %s: aggregation period must be positive, got %v: %w",
			cfg.ID, cfg.AggregationPeriod, detector.ErrConfiguration)
	}
	if cfg.LengthM < 0 {
		return nil, fmt.Errorf("loop %s: length must not be negative, got %v: %w",
			cfg.ID, cfg.LengthM, detector.ErrConfiguration)
	}
	first := cfg.FirstAggregation
	if first == 0 {
		first = cfg.AggregationPeriod
	}
	if first <= 0 || first < sched.Now() {
		return nil, fmt.Errorf("loop %s: first aggregation %v is not after now (%v): %w",
			cfg.ID, first, sched.Now(), detector.ErrConfiguration)
	}
	lane, err := net.Lane(cfg.LaneID)
	if err != nil {
		return nil, fmt.Errorf("loop %s: %w: %w", cfg.ID, detector.ErrConfiguration, err)
	}
	if cfg.PositionM+cfg.LengthM > lane.LengthM() {
		return nil, fmt.Errorf("loop %s: %.3fm + %.3fm runs past the end of lane %s (%.3fm): %w",
			cfg.ID, cfg.PositionM, cfg.LengthM, lane.ID(), lane.LengthM(), detector.ErrConfiguration)
	}
	if _, taken := net.Object(cfg.ID); taken {
		return nil, fmt.Errorf("loop %s: object already registered: %w", cfg.ID, detector.ErrConfiguration)
	}
	if id, taken := lo.Find([]string{cfg.ID, cfg.ID + RearSuffix}, lane.HasDetector); taken {
		return nil, fmt.Errorf("loop %s: detector %s already on lane %s: %w", cfg.ID, id, lane.ID(), detector.ErrConfiguration)
	}
	if dups := lo.FindDuplicates(lo.Map(cfg.Measurements, func(r Registration, _ int) string {
		return r.Info().Name
	})); len(dups) > 0 {
		return nil, fmt.Errorf("loop %s: duplicate measurements %v: %w", cfg.ID, dups, detector.ErrConfiguration)
	}

	d := &Detector{
		id:                cfg.ID,
		laneID:            cfg.LaneID,
		positionM:         cfg.PositionM,
		lengthM:           cfg.LengthM,
		firstAggregation:  first,
		aggregationPeriod: cfg.AggregationPeriod,
		sched:             sched,
		byName:            make(map[string]slot),
		pending:           make(map[string]Entry),
		periodIndex:       1,
	}
	for _, r := range cfg.Measurements {
		s := r.bind()
		d.slots = append(d.slots, s)
		d.byName[r.Info().Name] = s
	}

	d.front, err = detector.New(net, sched, cfg.ID, cfg.LaneID, cfg.PositionM, network.Front,
		detector.WithCompatibility(cfg.Compatibility),
		detector.WithResponder(frontFlank{parent: d}))
	if err != nil {
		return nil, fmt.Errorf("loop %s front flank: %w", cfg.ID, err)
	}
	d.rear, err = detector.New(net, sched, cfg.ID+RearSuffix, cfg.LaneID, cfg.PositionM+cfg.LengthM, network.Rear,
		detector.WithCompatibility(cfg.Compatibility),
		detector.WithResponder(rearFlank{parent: d}))
	if err != nil {
		return nil, fmt.Errorf("loop %s rear flank: %w", cfg.ID, err)
	}
	if err := net.RegisterObject(cfg.ID, d); err != nil {
		return nil, fmt.Errorf("loop %s: %w: %w", cfg.ID, detector.ErrConfiguration, err)
	}

	if err := d.schedule(first); err != nil {
		return nil, fmt.Errorf("loop %s: %w", cfg.ID, err)
	}
	return d, nil
}

// frontFlank forwards front-flank triggers to the loop.
type frontFlank struct{ parent *Detector }

func (f frontFlank) OnTrigger(_ *detector.Detector, gtu network.GTU) error {
	f.parent.onEntry(gtu)
	return nil
}

// rearFlank forwards rear-flank triggers to the loop.
type rearFlank struct{ parent *Detector }

func (f rearFlank) OnTrigger(_ *detector.Detector, gtu network.GTU) error {
	f.parent.onExit(gtu)
	return nil
}

func (d *Detector) onEntry(gtu network.GTU) {
	d.countPeriod++
	d.countOverall++
	for _, s := range d.slots {
		s.entry(gtu, d)
	}
	ev := LoopTriggered{DetectorID: d.id, GTUID: gtu.ID(), Time: d.sched.Now()}
	for _, l := range d.triggeredListeners {
		l(ev)
	}
}

func (d *Detector) onExit(gtu network.GTU) {
	for _, s := range d.slots {
		s.exit(gtu, d)
	}
}

func (d *Detector) schedule(at time.Duration) error {
	h, err := d.sched.ScheduleAt(at, d.id+".aggregate", d.aggregate)
	if err != nil {
		return err
	}
	d.tick = h
	d.scheduled = true
	return nil
}

// aggregate closes the current period. The next tick is placed on the
// fixed grid first + period*index rather than relative to now.
func (d *Detector) aggregate(now time.Duration) error {
	d.scheduled = false
	elapsed := d.aggregationPeriod
	if d.periodIndex == 1 {
		elapsed = d.firstAggregation
	}
	d.closePeriod(now, elapsed, false)
	next := d.firstAggregation + d.aggregationPeriod*time.Duration(d.periodIndex)
	d.periodIndex++
	if d.closed {
		return nil
	}
	return d.schedule(next)
}

func (d *Detector) closePeriod(now, elapsed time.Duration, partial bool) {
	flow := float64(d.countPeriod) / elapsed.Seconds()
	d.flow = append(d.flow, flow)
	d.periods = append(d.periods, span{start: now - elapsed, end: now, partial: partial})

	var names []string
	var values []any
	for _, s := range d.slots {
		if !s.periodic() {
			continue
		}
		names = append(names, s.info().Name)
		values = append(values, s.closePeriod(d.countPeriod, elapsed))
	}
	d.countPeriod = 0
	d.lastTick = now

	if len(d.aggregateListeners) == 0 {
		return
	}
	ev := Aggregate{
		DetectorID: d.id,
		Period:     len(d.flow),
		Start:      now - elapsed,
		End:        now,
		Flow:       flow,
		Names:      names,
		Values:     values,
		Time:       now,
	}
	for _, l := range d.aggregateListeners {
		l(ev)
	}
}

// FlushPartial aggregates the period in progress, covering the time since
// the last tick, and stops further ticks. It is meant for teardown and
// reports false when nothing was flushed.
func (d *Detector) FlushPartial() bool {
	if d.closed {
		return false
	}
	d.Close()
	now := d.sched.Now()
	elapsed := now - d.lastTick
	if elapsed <= 0 {
		return false
	}
	n := d.countPeriod
	d.closePeriod(now, elapsed, true)
	monitoring.Logf("loop %s: flushed partial period of %v with %d passages", d.id, elapsed, n)
	return true
}

// Close cancels the pending aggregation tick.
func (d *Detector) Close() {
	d.closed = true
	if d.scheduled {
		d.sched.Cancel(d.tick)
		d.scheduled = false
	}
}

// Context implementation.

func (d *Detector) DetectorID() string { return d.id }
func (d *Detector) LengthM() float64   { return d.lengthM }
func (d *Detector) Now() time.Duration { return d.sched.Now() }

func (d *Detector) PendingEntry(key string) (Entry, bool) {
	e, ok := d.pending[key]
	return e, ok
}

func (d *Detector) SetPendingEntry(key string, e Entry) { d.pending[key] = e }
func (d *Detector) ClearPendingEntry(key string)        { delete(d.pending, key) }

func (d *Detector) ID() string                       { return d.id }
func (d *Detector) LaneID() string                   { return d.laneID }
func (d *Detector) PositionM() float64               { return d.positionM }
func (d *Detector) Front() *detector.Detector        { return d.front }
func (d *Detector) Rear() *detector.Detector         { return d.rear }
func (d *Detector) AggregationPeriod() time.Duration { return d.aggregationPeriod }
func (d *Detector) FirstAggregation() time.Duration  { return d.firstAggregation }

// Count returns the number of front passages since the start of the run.
func (d *Detector) Count() int { return d.countOverall }

// PeriodCount returns the number of front passages in the current period.
func (d *Detector) PeriodCount() int { return d.countPeriod }

// OnTriggered subscribes l to loop-triggered notifications.
func (d *Detector) OnTriggered(l func(LoopTriggered)) {
	d.triggeredListeners = append(d.triggeredListeners, l)
}

// OnAggregate subscribes l to periodic aggregate notifications.
func (d *Detector) OnAggregate(l func(Aggregate)) {
	d.aggregateListeners = append(d.aggregateListeners, l)
}

func (d *Detector) String() string {
	return fmt.Sprintf("LoopDetector[%s %s@%.3fm+%.3fm]", d.id, d.laneID, d.positionM, d.lengthM)
}
