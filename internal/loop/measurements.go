package loop

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/units"
)

// MeanSpeed is the arithmetic (time) mean speed of passing GTUs in km/h.
type MeanSpeed struct{}

func (MeanSpeed) Info() Info {
	return Info{Name: "v[km/h]", Description: "arithmetic mean speed", Unit: units.KMPH, ValueType: "float64"}
}
func (MeanSpeed) Identity() float64 { return 0 }
func (MeanSpeed) Periodic() bool    { return true }

func (MeanSpeed) AccumulateEntry(c float64, gtu network.GTU, _ Context) float64 {
	return c + gtu.SpeedMPS()
}

func (MeanSpeed) AccumulateExit(c float64, _ network.GTU, _ Context) float64 { return c }

// Aggregate is NaN for a period without passages.
func (MeanSpeed) Aggregate(c float64, count int, _ time.Duration) float64 {
	return units.MPSToKMPH * c / float64(count)
}

// HarmonicMeanSpeed is the harmonic (space) mean speed in km/h.
type HarmonicMeanSpeed struct{}

func (HarmonicMeanSpeed) Info() Info {
	return Info{Name: "vHarm[km/h]", Description: "harmonic mean speed", Unit: units.KMPH, ValueType: "float64"}
}
func (HarmonicMeanSpeed) Identity() float64 { return 0 }
func (HarmonicMeanSpeed) Periodic() bool    { return true }

func (HarmonicMeanSpeed) AccumulateEntry(c float64, gtu network.GTU, _ Context) float64 {
	return c + 1/gtu.SpeedMPS()
}

func (HarmonicMeanSpeed) AccumulateExit(c float64, _ network.GTU, _ Context) float64 { return c }

func (HarmonicMeanSpeed) Aggregate(c float64, count int, _ time.Duration) float64 {
	return units.MPSToKMPH * float64(count) / c
}

// Occupancy is the fraction of the period during which a GTU covered the
// loop, measured from front-flank entry to rear-flank exit of the same GTU.
type Occupancy struct{}

const occupancyName = "occupancy"

func (Occupancy) Info() Info {
	return Info{Name: occupancyName, Description: "time fraction the loop is occupied", Unit: "", ValueType: "float64"}
}
func (Occupancy) Identity() float64 { return 0 }
func (Occupancy) Periodic() bool    { return true }

func (Occupancy) AccumulateEntry(c float64, gtu network.GTU, ctx Context) float64 {
	ctx.SetPendingEntry(occupancyName, Entry{GTUID: gtu.ID(), At: ctx.Now()})
	return c
}

// AccumulateExit ignores a GTU that is not the last one to enter; it
// changed lane onto the loop between the flanks.
func (Occupancy) AccumulateExit(c float64, gtu network.GTU, ctx Context) float64 {
	e, ok := ctx.PendingEntry(occupancyName)
	if !ok || e.GTUID != gtu.ID() {
		return c
	}
	ctx.ClearPendingEntry(occupancyName)
	return c + (ctx.Now() - e.At).Seconds()
}

func (Occupancy) Aggregate(c float64, _ int, elapsed time.Duration) float64 {
	return c / elapsed.Seconds()
}

// Passages lists the front-flank passage times over the whole run.
type Passages struct{}

func (Passages) Info() Info {
	return Info{Name: "passage times", Description: "time of each front-flank passage", Unit: "s", ValueType: "[]time.Duration"}
}
func (Passages) Identity() []time.Duration { return nil }
func (Passages) Periodic() bool            { return false }

func (Passages) AccumulateEntry(c []time.Duration, _ network.GTU, ctx Context) []time.Duration {
	return append(c, ctx.Now())
}

func (Passages) AccumulateExit(c []time.Duration, _ network.GTU, _ Context) []time.Duration {
	return c
}

func (Passages) Aggregate(c []time.Duration, _ int, _ time.Duration) []time.Duration {
	return slices.Clone(c)
}

// PlatoonSizes clusters consecutive GTUs whose headway, measured from the
// previous passage or exit, is below Threshold.
type PlatoonSizes struct {
	Threshold time.Duration
}

// Platoons is the PlatoonSizes accumulator.
type Platoons struct {
	open      int
	lastExit  time.Duration
	seen      bool
	completed []int
	members   []string
}

// Open returns the size of the platoon still being formed.
func (p Platoons) Open() int { return p.open }

// Members returns the ids of GTUs that entered and have not yet exited.
func (p Platoons) Members() []string { return slices.Clone(p.members) }

func (p PlatoonSizes) Info() Info {
	return Info{
		Name:        fmt.Sprintf("platoon sizes(%s)", p.Threshold),
		Description: "sizes of GTU platoons separated by a headway threshold",
		Unit:        "veh",
		ValueType:   "[]int",
	}
}
func (PlatoonSizes) Identity() Platoons { return Platoons{} }
func (PlatoonSizes) Periodic() bool     { return false }

func (p PlatoonSizes) AccumulateEntry(c Platoons, gtu network.GTU, ctx Context) Platoons {
	now := ctx.Now()
	if c.seen && now-c.lastExit < p.Threshold {
		c.open++
	} else {
		if c.open > 0 {
			c.completed = append(c.completed, c.open)
		}
		c.open = 1
	}
	c.members = append(c.members, gtu.ID())
	c.lastExit = now
	c.seen = true
	return c
}

// AccumulateExit drops the GTU and every GTU that entered before it. Older
// GTUs still listed left the loop by changing lane.
func (PlatoonSizes) AccumulateExit(c Platoons, gtu network.GTU, ctx Context) Platoons {
	i := lo.IndexOf(c.members, gtu.ID())
	if i < 0 {
		return c
	}
	c.members = c.members[i+1:]
	c.lastExit = ctx.Now()
	return c
}

// Aggregate returns the completed platoons with the open platoon appended
// once. The accumulator is left untouched, so repeated calls agree.
func (PlatoonSizes) Aggregate(c Platoons, _ int, _ time.Duration) []int {
	out := slices.Clone(c.completed)
	if c.open > 0 {
		out = append(out, c.open)
	}
	return out
}
