package traffic

import (
	"fmt"
	"time"

	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/sim"
	"github.com/banshee-data/lanedetect/internal/units"
)

// overlapTolerance absorbs the nanosecond rounding of scheduled crossing
// times when a vehicle is queried exactly at a lane boundary.
const overlapTolerance = 1e-6

// Vehicle is a GTU travelling along a corridor at constant speed. Its front
// is at the corridor start when it departs.
type Vehicle struct {
	id       string
	gtuType  string
	speedMPS float64
	lengthM  float64
	departed time.Duration

	corridor *Corridor
	clock    sim.Clock
	driver   *Driver

	onLanes   map[string]bool
	destroyed bool
}

func (v *Vehicle) ID() string              { return v.id }
func (v *Vehicle) Type() string            { return v.gtuType }
func (v *Vehicle) SpeedMPS() float64       { return v.speedMPS }
func (v *Vehicle) LengthM() float64        { return v.lengthM }
func (v *Vehicle) Departed() time.Duration { return v.departed }
func (v *Vehicle) Destroyed() bool         { return v.destroyed }

// FrontAt returns the distance of the front from the corridor start at now.
func (v *Vehicle) FrontAt(now time.Duration) float64 {
	return v.speedMPS * units.Seconds(now-v.departed)
}

// refOffset is the distance from the front back to ref.
func (v *Vehicle) refOffset(ref network.RelativePosition) float64 {
	switch ref {
	case network.Rear:
		return v.lengthM
	case network.Center, network.Reference:
		return v.lengthM / 2
	}
	return 0
}

// PositionOn returns the lane coordinate of ref. It fails with
// network.ErrNotOnLane when no part of the vehicle overlaps laneID.
func (v *Vehicle) PositionOn(laneID string, ref network.RelativePosition) (float64, error) {
	offset, ok := v.corridor.Offset(laneID)
	if !ok || v.destroyed {
		return 0, fmt.Errorf("vehicle %s, lane %s: %w", v.id, laneID, network.ErrNotOnLane)
	}
	lane := v.corridor.lanes[v.corridor.index[laneID]]
	front := v.FrontAt(v.clock.Now()) - offset
	rear := front - v.lengthM
	if front < -overlapTolerance || rear > lane.LengthM()+overlapTolerance {
		return 0, fmt.Errorf("vehicle %s, lane %s: %w", v.id, laneID, network.ErrNotOnLane)
	}
	return front - v.refOffset(ref), nil
}

// Destroy removes the vehicle from the network, cancels its pending events
// and tells every lane it still occupies that it left.
func (v *Vehicle) Destroy() error {
	if v.destroyed {
		return nil
	}
	return v.driver.destroy(v)
}

func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle[%s %s %.1fm/s]", v.id, v.gtuType, v.speedMPS)
}
