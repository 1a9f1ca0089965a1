package network

import "cmp"

// Detector is what a lane knows about the detectors registered on it.
type Detector interface {
	ID() string
	LaneID() string
	PositionM() float64
	Reference() RelativePosition
	Compatible(gtuType string) bool
	Trigger(gtu GTU) error
}

// CompareDetectors orders detectors by lane, position, reference point and id.
func CompareDetectors(a, b Detector) int {
	if c := cmp.Compare(a.LaneID(), b.LaneID()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.PositionM(), b.PositionM()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Reference(), b.Reference()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID(), b.ID())
}

// SameSection reports whether two detectors sit on the same cross-section:
// same lane, same position and same reference point.
func SameSection(a, b Detector) bool {
	return a.LaneID() == b.LaneID() && a.PositionM() == b.PositionM() && a.Reference() == b.Reference()
}
