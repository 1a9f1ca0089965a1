// Package area implements the area occupancy detector used by traffic-light
// controllers: an entry flank at A on the first lane of a path, an exit flank
// at B on the last lane, and lane membership notifications for GTUs that
// enter or leave the area laterally.
package area

import (
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/banshee-data/lanedetect/internal/detector"
	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/sim"
)

// Config describes an area occupancy detector.
type Config struct {
	ID string
	// Lanes is the ordered path from the lane holding A to the lane holding B.
	Lanes     []string
	PositionA float64
	PositionB float64
	// EntryPosition is the GTU point that must pass A to enter the area.
	EntryPosition network.RelativePosition
	// ExitPosition is the GTU point that must pass B to leave the area.
	ExitPosition  network.RelativePosition
	Compatibility detector.Compatibility
}

// Transition is emitted when the area becomes occupied or empty.
type Transition struct {
	DetectorID string
	Occupied   bool
	Time       time.Duration
}

// Detector tracks which GTUs are inside the area.
type Detector struct {
	id        string
	net       *network.Network
	clock     sim.Clock
	lanes     []string
	laneIndex map[string]int
	positionA float64
	positionB float64
	entryRef  network.RelativePosition
	exitRef   network.RelativePosition
	compat    detector.Compatibility

	entryA *detector.Detector
	exitB  *detector.Detector

	// occupancy counts flank entries per GTU. One exit removes the GTU
	// whatever its count.
	occupancy map[string]int

	entryListeners []func(Transition)
	exitListeners  []func(Transition)
}

// New builds the detector, registers its flanks and subscribes to every
// lane of the path. A path of zero or negative length fails with
// detector.ErrGeometry. On failure nothing is left registered.
func New(net *network.Network, clock sim.Clock, cfg Config) (*Detector, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("area detector id is required: %w", detector.ErrConfiguration)
	}
	if len(cfg.Lanes) == 0 {
		return nil, fmt.Errorf("area %s: lane path is empty: %w", cfg.ID, detector.ErrConfiguration)
	}
	if dups := lo.FindDuplicates(cfg.Lanes); len(dups) > 0 {
		return nil, fmt.Errorf("area %s: lanes %v repeat in path: %w", cfg.ID, dups, detector.ErrConfiguration)
	}
	lanes := make([]*network.Lane, len(cfg.Lanes))
	for i, id := range cfg.Lanes {
		l, err := net.Lane(id)
		if err != nil {
			return nil, fmt.Errorf("area %s: %w: %w", cfg.ID, detector.ErrConfiguration, err)
		}
		lanes[i] = l
	}
	first, last := lanes[0], lanes[len(lanes)-1]
	if !first.Contains(cfg.PositionA) || !last.Contains(cfg.PositionB) {
		return nil, fmt.Errorf("area %s: A=%.3fm on %s or B=%.3fm on %s outside lane: %w",
			cfg.ID, cfg.PositionA, first.ID(), cfg.PositionB, last.ID(), detector.ErrGeometry)
	}
	if length := pathLength(lanes, cfg.PositionA, cfg.PositionB); length <= 0 {
		return nil, fmt.Errorf("area %s: path from A=%.3fm to B=%.3fm has length %.3fm: %w: %w",
			cfg.ID, cfg.PositionA, cfg.PositionB, length, detector.ErrConfiguration, detector.ErrGeometry)
	}
	if _, taken := net.Object(cfg.ID); taken {
		return nil, fmt.Errorf("area %s: object already registered: %w", cfg.ID, detector.ErrConfiguration)
	}
	entryID, exitID := cfg.ID+".entryA", cfg.ID+".exitB"
	if first.HasDetector(entryID) || last.HasDetector(exitID) {
		return nil, fmt.Errorf("area %s: flank %s or %s already registered: %w", cfg.ID, entryID, exitID, detector.ErrConfiguration)
	}

	d := &Detector{
		id:        cfg.ID,
		net:       net,
		clock:     clock,
		lanes:     slices.Clone(cfg.Lanes),
		laneIndex: make(map[string]int, len(cfg.Lanes)),
		positionA: cfg.PositionA,
		positionB: cfg.PositionB,
		entryRef:  cfg.EntryPosition,
		exitRef:   cfg.ExitPosition,
		compat:    cfg.Compatibility,
		occupancy: make(map[string]int),
	}
	if d.compat == nil {
		d.compat = detector.AnyType
	}
	for i, id := range cfg.Lanes {
		d.laneIndex[id] = i
	}

	var err error
	d.entryA, err = detector.New(net, clock, entryID, cfg.Lanes[0], cfg.PositionA, cfg.EntryPosition,
		detector.WithCompatibility(cfg.Compatibility),
		detector.WithResponder(flank{parent: d, entry: true}))
	if err != nil {
		return nil, fmt.Errorf("area %s entry flank: %w", cfg.ID, err)
	}
	d.exitB, err = detector.New(net, clock, exitID, cfg.Lanes[len(cfg.Lanes)-1], cfg.PositionB, cfg.ExitPosition,
		detector.WithCompatibility(cfg.Compatibility),
		detector.WithResponder(flank{parent: d, entry: false}))
	if err != nil {
		return nil, fmt.Errorf("area %s exit flank: %w", cfg.ID, err)
	}
	if err := net.RegisterObject(cfg.ID, d); err != nil {
		return nil, fmt.Errorf("area %s: %w: %w", cfg.ID, detector.ErrConfiguration, err)
	}
	for _, l := range lanes {
		l.AddListener(d)
	}
	return d, nil
}

func pathLength(lanes []*network.Lane, a, b float64) float64 {
	if len(lanes) == 1 {
		return b - a
	}
	length := lanes[0].LengthM() - a + b
	for _, l := range lanes[1 : len(lanes)-1] {
		length += l.LengthM()
	}
	return length
}

// flank forwards entryA and exitB triggers to the area detector.
type flank struct {
	parent *Detector
	entry  bool
}

func (f flank) OnTrigger(_ *detector.Detector, gtu network.GTU) error {
	if f.entry {
		f.parent.add(gtu.ID())
	} else {
		f.parent.remove(gtu.ID())
	}
	return nil
}

// OnLaneEvent reconciles lateral lane changes with the flank triggers. An
// event from a lane outside the path is a wiring defect and is returned as
// detector.ErrInvariant.
func (d *Detector) OnLaneEvent(ev network.LaneEvent) error {
	idx, ok := d.laneIndex[ev.LaneID]
	if !ok {
		return fmt.Errorf("area %s: %s from lane %s outside path %v: %w",
			d.id, ev.Kind, ev.LaneID, d.lanes, detector.ErrInvariant)
	}
	_, tracked := d.occupancy[ev.GTUID]

	switch ev.Kind {
	case network.GTULeft:
		if !tracked {
			return nil
		}
		gtu, err := d.net.GTU(ev.GTUID)
		if err == nil && d.stillOnPath(gtu, ev.LaneID) {
			return nil
		}
		d.remove(ev.GTUID)
		return nil

	case network.GTUEntered:
		if tracked {
			return nil
		}
		gtu, err := d.net.GTU(ev.GTUID)
		if err != nil {
			return fmt.Errorf("area %s: %w", d.id, err)
		}
		if !d.compat(gtu.Type()) {
			return nil
		}
		inside, err := d.covers(gtu, idx)
		if err != nil {
			return fmt.Errorf("area %s: %w", d.id, err)
		}
		if inside {
			d.add(ev.GTUID)
		}
		return nil
	}
	return fmt.Errorf("area %s: unexpected lane event %v: %w", d.id, ev.Kind, detector.ErrInvariant)
}

// covers decides whether a GTU that appeared on path lane idx is between A
// and B.
func (d *Detector) covers(gtu network.GTU, idx int) (bool, error) {
	last := len(d.lanes) - 1
	if idx > 0 && idx < last {
		return true, nil
	}
	laneID := d.lanes[idx]
	entryPos, err := gtu.PositionOn(laneID, d.entryRef)
	if err != nil {
		return false, err
	}
	exitPos, err := gtu.PositionOn(laneID, d.exitRef)
	if err != nil {
		return false, err
	}
	switch {
	case last == 0:
		return entryPos > d.positionA && exitPos < d.positionB, nil
	case idx == 0:
		return entryPos > d.positionA, nil
	default:
		return exitPos < d.positionB, nil
	}
}

// stillOnPath reports whether gtu occupies a path lane other than left.
func (d *Detector) stillOnPath(gtu network.GTU, left string) bool {
	return lo.ContainsBy(d.lanes, func(id string) bool {
		if id == left {
			return false
		}
		_, err := gtu.PositionOn(id, d.entryRef)
		return err == nil
	})
}

func (d *Detector) add(gtuID string) {
	wasEmpty := len(d.occupancy) == 0
	d.occupancy[gtuID]++
	if wasEmpty {
		d.emit(d.entryListeners, true)
	}
}

func (d *Detector) remove(gtuID string) {
	if _, ok := d.occupancy[gtuID]; !ok {
		return
	}
	delete(d.occupancy, gtuID)
	if len(d.occupancy) == 0 {
		d.emit(d.exitListeners, false)
	}
}

func (d *Detector) emit(listeners []func(Transition), occupied bool) {
	ev := Transition{DetectorID: d.id, Occupied: occupied, Time: d.clock.Now()}
	for _, l := range listeners {
		l(ev)
	}
}

// Occupied reports whether any GTU is inside the area.
func (d *Detector) Occupied() bool {
	return len(d.occupancy) > 0
}

// GTUs returns the ids of the GTUs inside the area, sorted.
func (d *Detector) GTUs() []string {
	ids := lo.Keys(d.occupancy)
	slices.Sort(ids)
	return ids
}

// Multiplicity returns how many times gtuID was added since it last left.
// It drops to zero on the first exit, not by one per exit.
func (d *Detector) Multiplicity(gtuID string) int {
	return d.occupancy[gtuID]
}

// OnEntry subscribes l to empty→occupied transitions.
func (d *Detector) OnEntry(l func(Transition)) {
	d.entryListeners = append(d.entryListeners, l)
}

// OnExit subscribes l to occupied→empty transitions.
func (d *Detector) OnExit(l func(Transition)) {
	d.exitListeners = append(d.exitListeners, l)
}

// Close unsubscribes the detector from its lanes.
func (d *Detector) Close() {
	for _, id := range d.lanes {
		if l, err := d.net.Lane(id); err == nil {
			l.RemoveListener(d)
		}
	}
}

func (d *Detector) ID() string                 { return d.id }
func (d *Detector) Lanes() []string            { return slices.Clone(d.lanes) }
func (d *Detector) PositionA() float64         { return d.positionA }
func (d *Detector) PositionB() float64         { return d.positionB }
func (d *Detector) EntryA() *detector.Detector { return d.entryA }
func (d *Detector) ExitB() *detector.Detector  { return d.exitB }

func (d *Detector) String() string {
	return fmt.Sprintf("AreaDetector[%s %v A=%.3fm B=%.3fm occupied=%t]", d.id, d.lanes, d.positionA, d.positionB, d.Occupied())
}
