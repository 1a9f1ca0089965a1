package detector

import (
	"github.com/banshee-data/lanedetect/internal/monitoring"
	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/sim"
)

// NewSink creates a detector that removes every GTU whose reference point
// reaches it, typically at the end of a lane without successors.
func NewSink(net *network.Network, clock sim.Clock, id, laneID string, positionM float64, opts ...Option) (*Detector, error) {
	opts = append(opts, WithResponder(ResponderFunc(destroyGTU)))
	return New(net, clock, id, laneID, positionM, network.Front, opts...)
}

// destroyGTU never fails the trigger: a GTU that cannot be destroyed is
// logged here so detectors due at the same instant still run.
func destroyGTU(d *Detector, gtu network.GTU) error {
	if err := gtu.Destroy(); err != nil {
		monitoring.Logf("sink %s: destroy gtu %s at %v: %v", d.ID(), gtu.ID(), d.Now(), err)
	}
	return nil
}
