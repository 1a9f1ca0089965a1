package network

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotOnLane is returned by GTU.PositionOn when the GTU does not occupy the lane.
var ErrNotOnLane = errors.New("gtu not on lane")

// RelativePosition names the point on a GTU a detector reacts to.
type RelativePosition int

const (
	Front RelativePosition = iota
	Rear
	Center
	Reference
)

func (r RelativePosition) String() string {
	switch r {
	case Front:
		return "FRONT"
	case Rear:
		return "REAR"
	case Center:
		return "CENTER"
	case Reference:
		return "REFERENCE"
	default:
		return fmt.Sprintf("RelativePosition(%d)", int(r))
	}
}

// ParseRelativePosition parses the case-insensitive name of a reference point.
func ParseRelativePosition(s string) (RelativePosition, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FRONT":
		return Front, nil
	case "REAR":
		return Rear, nil
	case "CENTER", "CENTRE":
		return Center, nil
	case "REFERENCE":
		return Reference, nil
	}
	return 0, fmt.Errorf("unknown relative position %q", s)
}

// GTU is the view of a simulated vehicle that detectors consume. Kinematics
// belong to the motion collaborator; detectors only read.
type GTU interface {
	ID() string
	Type() string
	SpeedMPS() float64
	// PositionOn returns the longitudinal position of ref on the lane, in
	// metres from the lane start. It wraps ErrNotOnLane when the GTU is not
	// registered on the lane.
	PositionOn(laneID string, ref RelativePosition) (float64, error)
	// Destroy removes the GTU from the simulation.
	Destroy() error
}
