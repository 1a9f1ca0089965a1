package traffic

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/sim"
	"github.com/banshee-data/lanedetect/internal/units"
)

// VehicleSpec describes a vehicle to release. An empty ID is replaced by a
// random UUID.
type VehicleSpec struct {
	ID       string
	Type     string
	SpeedMPS float64
	LengthM  float64
}

// Driver releases vehicles onto a corridor and schedules every event their
// motion produces: lane entry when the front reaches a lane, lane exit when
// the rear clears it, and a trigger for each detector when the detector's
// reference point of the vehicle crosses it. Detectors must be registered
// on the lanes before the vehicles that should trigger them are released.
type Driver struct {
	net      *network.Network
	sched    sim.Scheduler
	corridor *Corridor

	handles  map[string][]sim.Handle
	released int
	finished int
}

// NewDriver creates a driver for corridor.
func NewDriver(net *network.Network, sched sim.Scheduler, corridor *Corridor) *Driver {
	return &Driver{
		net:      net,
		sched:    sched,
		corridor: corridor,
		handles:  make(map[string][]sim.Handle),
	}
}

// Released returns how many vehicles have been released.
func (d *Driver) Released() int { return d.released }

// Finished returns how many vehicles have left the corridor or been
// destroyed.
func (d *Driver) Finished() int { return d.finished }

// Active returns the number of vehicles still on the corridor.
func (d *Driver) Active() int { return len(d.handles) }

// Release puts a vehicle at the corridor start now.
func (d *Driver) Release(spec VehicleSpec) (*Vehicle, error) {
	if spec.SpeedMPS <= 0 {
		return nil, fmt.Errorf("release vehicle %q: speed must be positive, got %f", spec.ID, spec.SpeedMPS)
	}
	if spec.LengthM < 0 {
		return nil, fmt.Errorf("release vehicle %q: negative length %f", spec.ID, spec.LengthM)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	if spec.Type == "" {
		spec.Type = "CAR"
	}
	v := &Vehicle{
		id:       spec.ID,
		gtuType:  spec.Type,
		speedMPS: spec.SpeedMPS,
		lengthM:  spec.LengthM,
		departed: d.sched.Now(),
		corridor: d.corridor,
		clock:    d.sched,
		driver:   d,
		onLanes:  make(map[string]bool),
	}
	if err := d.net.AddGTU(v); err != nil {
		return nil, fmt.Errorf("release vehicle: %w", err)
	}
	if err := d.plan(v); err != nil {
		d.cancel(v)
		d.net.RemoveGTU(v.id)
		return nil, err
	}
	d.released++
	return v, nil
}

// at converts a distance travelled from the corridor start into the time
// the front has covered it.
func (d *Driver) at(v *Vehicle, distM float64) time.Duration {
	return v.departed + units.FromSeconds(distM/v.speedMPS)
}

func (d *Driver) schedule(v *Vehicle, distM float64, name string, fn sim.Callback) error {
	h, err := d.sched.ScheduleAt(d.at(v, distM), v.id+" "+name, fn)
	if err != nil {
		return fmt.Errorf("vehicle %s: %w", v.id, err)
	}
	d.handles[v.id] = append(d.handles[v.id], h)
	return nil
}

// plan schedules every event of v's trip. Events at equal times fire in
// planning order: lane entry, detector crossings by position, lane exit.
func (d *Driver) plan(v *Vehicle) error {
	d.handles[v.id] = nil
	for i, lane := range d.corridor.lanes {
		offset := d.corridor.offsets[i]

		if err := d.schedule(v, offset, "enters "+lane.ID(), func(now time.Duration) error {
			v.onLanes[lane.ID()] = true
			return lane.NotifyEntered(v.id, now)
		}); err != nil {
			return err
		}

		detectors := lane.Detectors()
		crossings := lo.Map(detectors, func(det network.Detector, _ int) float64 {
			return offset + det.PositionM() + v.refOffset(det.Reference())
		})
		for _, j := range sortedIndex(crossings) {
			det := detectors[j]
			if !det.Compatible(v.gtuType) {
				continue
			}
			if err := d.schedule(v, crossings[j], "crosses "+det.ID(), func(time.Duration) error {
				return det.Trigger(v)
			}); err != nil {
				return err
			}
		}

		if err := d.schedule(v, offset+lane.LengthM()+v.lengthM, "leaves "+lane.ID(), func(now time.Duration) error {
			delete(v.onLanes, lane.ID())
			return lane.NotifyLeft(v.id, now)
		}); err != nil {
			return err
		}
	}
	return d.schedule(v, d.corridor.lengthM+v.lengthM, "finishes", func(time.Duration) error {
		d.finish(v)
		return nil
	})
}

// sortedIndex returns the indices of xs in ascending order of value.
func sortedIndex(xs []float64) []int {
	idx := lo.Range(len(xs))
	slices.SortStableFunc(idx, func(a, b int) int { return cmp.Compare(xs[a], xs[b]) })
	return idx
}

func (d *Driver) cancel(v *Vehicle) {
	for _, h := range d.handles[v.id] {
		d.sched.Cancel(h)
	}
	delete(d.handles, v.id)
}

func (d *Driver) finish(v *Vehicle) {
	d.net.RemoveGTU(v.id)
	delete(d.handles, v.id)
	d.finished++
}

// destroy takes v off the network before its trip ends. Lanes still holding
// v are told it left, in corridor order.
func (d *Driver) destroy(v *Vehicle) error {
	d.cancel(v)
	d.net.RemoveGTU(v.id)
	v.destroyed = true
	d.finished++

	now := d.sched.Now()
	var errs []error
	for _, lane := range d.corridor.lanes {
		if !v.onLanes[lane.ID()] {
			continue
		}
		delete(v.onLanes, lane.ID())
		if err := lane.NotifyLeft(v.id, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
