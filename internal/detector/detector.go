// Package detector implements the cross-section detector: a point sensor on
// a lane that emits a trigger notification when a GTU reference point passes
// it, then hands the GTU to a specialised responder. Composite detectors
// (dual loops, area occupancy) and the sink are built from it.
package detector

import (
	"fmt"
	"slices"
	"time"

	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/sim"
)

// Compatibility decides which GTU types trigger a detector.
type Compatibility func(gtuType string) bool

// AnyType accepts every GTU type.
func AnyType(string) bool { return true }

// Types accepts only the listed GTU types.
func Types(types ...string) Compatibility {
	allowed := slices.Clone(types)
	return func(gtuType string) bool {
		return slices.Contains(allowed, gtuType)
	}
}

// TriggerEvent is the generic notification emitted on every trigger.
type TriggerEvent struct {
	DetectorID string
	Detector   *Detector
	GTU        network.GTU
	Reference  network.RelativePosition
	Time       time.Duration
}

// TriggerListener observes trigger notifications.
type TriggerListener func(ev TriggerEvent)

// Responder is the specialised behaviour run after the notification.
type Responder interface {
	OnTrigger(d *Detector, gtu network.GTU) error
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(d *Detector, gtu network.GTU) error

func (f ResponderFunc) OnTrigger(d *Detector, gtu network.GTU) error { return f(d, gtu) }

// Detector is a cross-section detector registered on one lane.
type Detector struct {
	id        string
	laneID    string
	positionM float64
	ref       network.RelativePosition

	net       *network.Network
	clock     sim.Clock
	compat    Compatibility
	responder Responder
	listeners []TriggerListener

	triggers int
}

// Option configures a Detector at construction.
type Option func(*Detector)

// WithCompatibility restricts the GTU types that trigger the detector.
func WithCompatibility(c Compatibility) Option {
	return func(d *Detector) {
		if c != nil {
			d.compat = c
		}
	}
}

// WithResponder sets the specialised trigger behaviour.
func WithResponder(r Responder) Option {
	return func(d *Detector) { d.responder = r }
}

// WithListener subscribes l before the detector is registered.
func WithListener(l TriggerListener) Option {
	return func(d *Detector) { d.listeners = append(d.listeners, l) }
}

// New creates a detector on laneID at positionM metres from the lane start
// and registers it on the lane. It fails with ErrGeometry when the position
// is outside the lane.
func New(net *network.Network, clock sim.Clock, id, laneID string, positionM float64, ref network.RelativePosition, opts ...Option) (*Detector, error) {
	if id == "" {
		return nil, fmt.Errorf("detector id is required: %w", ErrConfiguration)
	}
	lane, err := net.Lane(laneID)
	if err != nil {
		return nil, fmt.Errorf("detector %s: %w: %w", id, ErrConfiguration, err)
	}
	if !lane.Contains(positionM) {
		return nil, fmt.Errorf("detector %s: position %.3fm outside lane %s [0, %.3fm]: %w",
			id, positionM, laneID, lane.LengthM(), ErrGeometry)
	}
	d := &Detector{
		id:        id,
		laneID:    laneID,
		positionM: positionM,
		ref:       ref,
		net:       net,
		clock:     clock,
		compat:    AnyType,
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := lane.RegisterDetector(d); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return d, nil
}

func (d *Detector) ID() string                          { return d.id }
func (d *Detector) LaneID() string                      { return d.laneID }
func (d *Detector) PositionM() float64                  { return d.positionM }
func (d *Detector) Reference() network.RelativePosition { return d.ref }
func (d *Detector) Network() *network.Network           { return d.net }
func (d *Detector) Now() time.Duration                  { return d.clock.Now() }

// Triggers returns how many compatible GTUs have triggered the detector.
func (d *Detector) Triggers() int { return d.triggers }

// Compatible reports whether a GTU of gtuType triggers the detector.
func (d *Detector) Compatible(gtuType string) bool {
	return d.compat(gtuType)
}

// Lane resolves the lane handle through the network arena.
func (d *Detector) Lane() (*network.Lane, error) {
	return d.net.Lane(d.laneID)
}

// AddTriggerListener subscribes l to trigger notifications.
func (d *Detector) AddTriggerListener(l TriggerListener) {
	d.listeners = append(d.listeners, l)
}

// Trigger is called by the motion collaborator when the detector's
// reference point of gtu crosses the detector. Incompatible GTUs are
// ignored.
func (d *Detector) Trigger(gtu network.GTU) error {
	if !d.compat(gtu.Type()) {
		return nil
	}
	d.triggers++
	ev := TriggerEvent{
		DetectorID: d.id,
		Detector:   d,
		GTU:        gtu,
		Reference:  d.ref,
		Time:       d.clock.Now(),
	}
	for _, l := range d.listeners {
		l(ev)
	}
	if d.responder == nil {
		return nil
	}
	if err := d.responder.OnTrigger(d, gtu); err != nil {
		return fmt.Errorf("detector %s: gtu %s: %w", d.id, gtu.ID(), err)
	}
	return nil
}

// Compare orders d against other by lane, position, reference point and id.
func (d *Detector) Compare(other network.Detector) int {
	return network.CompareDetectors(d, other)
}

func (d *Detector) String() string {
	return fmt.Sprintf("Detector[%s %s@%.3fm %s]", d.id, d.laneID, d.positionM, d.ref)
}
