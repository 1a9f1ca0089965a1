package loop

import (
	"time"

	"github.com/banshee-data/lanedetect/internal/network"
)

// Info describes a measurement for reporting.
type Info struct {
	Name        string
	Description string
	Unit        string
	ValueType   string
}

// Entry is a GTU's pending passage over the front flank.
type Entry struct {
	GTUID string
	At    time.Duration
}

// Context is the per-detector state handed to accumulate functions.
// Pending entries are keyed by measurement name and survive the periodic
// reset of the accumulator, so a GTU on the loop at a tick is still
// matched on exit.
type Context interface {
	DetectorID() string
	LengthM() float64
	Now() time.Duration
	PendingEntry(key string) (Entry, bool)
	SetPendingEntry(key string, e Entry)
	ClearPendingEntry(key string)
}

// Measurement is an accumulate/aggregate strategy over an accumulator of
// type C producing aggregates of type A. Implementations hold no
// detector-specific state, so one value may serve many detectors.
type Measurement[C, A any] interface {
	Info() Info
	// Identity returns an empty accumulator.
	Identity() C
	// AccumulateEntry folds a front-flank passage into c.
	AccumulateEntry(c C, gtu network.GTU, ctx Context) C
	// AccumulateExit folds a rear-flank passage into c.
	AccumulateExit(c C, gtu network.GTU, ctx Context) C
	// Periodic measurements are aggregated and reset once per aggregation
	// period; the others accumulate over the whole run.
	Periodic() bool
	// Aggregate turns c into a value given the number of front passages and
	// the time covered. It must not modify c.
	Aggregate(c C, count int, elapsed time.Duration) A
}

// Registration is a measurement erased to a uniform type so detectors can
// hold measurements with different accumulator and aggregate types.
type Registration interface {
	Info() Info
	Periodic() bool
	bind() slot
}

// Use registers m with a detector:
//
//	loop.Config{Measurements: []loop.Registration{loop.Use(loop.MeanSpeed{})}}
func Use[C, A any](m Measurement[C, A]) Registration {
	return registration[C, A]{m: m}
}

type registration[C, A any] struct {
	m Measurement[C, A]
}

func (r registration[C, A]) Info() Info     { return r.m.Info() }
func (r registration[C, A]) Periodic() bool { return r.m.Periodic() }
func (r registration[C, A]) bind() slot {
	return &typedSlot[C, A]{m: r.m, cum: r.m.Identity()}
}

// slot is the detector-owned state of one measurement.
type slot interface {
	info() Info
	periodic() bool
	entry(gtu network.GTU, ctx Context)
	exit(gtu network.GTU, ctx Context)
	// closePeriod aggregates, appends to the history and resets.
	closePeriod(count int, elapsed time.Duration) any
	value(count int, elapsed time.Duration) any
	historyLen() int
	historyAt(i int) any
}

type typedSlot[C, A any] struct {
	m       Measurement[C, A]
	cum     C
	history []A
}

func (s *typedSlot[C, A]) info() Info     { return s.m.Info() }
func (s *typedSlot[C, A]) periodic() bool { return s.m.Periodic() }

func (s *typedSlot[C, A]) entry(gtu network.GTU, ctx Context) {
	s.cum = s.m.AccumulateEntry(s.cum, gtu, ctx)
}

func (s *typedSlot[C, A]) exit(gtu network.GTU, ctx Context) {
	s.cum = s.m.AccumulateExit(s.cum, gtu, ctx)
}

func (s *typedSlot[C, A]) closePeriod(count int, elapsed time.Duration) any {
	v := s.m.Aggregate(s.cum, count, elapsed)
	s.history = append(s.history, v)
	s.cum = s.m.Identity()
	return v
}

func (s *typedSlot[C, A]) value(count int, elapsed time.Duration) any {
	return s.m.Aggregate(s.cum, count, elapsed)
}

func (s *typedSlot[C, A]) historyLen() int     { return len(s.history) }
func (s *typedSlot[C, A]) historyAt(i int) any { return s.history[i] }
