package traffic

import (
	"fmt"
	"math/rand"
	"time"
)

// Demand is a stream of vehicles released at a fixed headway with speeds
// drawn uniformly from [SpeedMPS-SpreadMPS, SpeedMPS+SpreadMPS].
type Demand struct {
	Vehicles  int
	Headway   time.Duration
	SpeedMPS  float64
	SpreadMPS float64
	Type      string
	LengthM   float64
	Seed      int64
}

// Schedule queues the releases of dem starting now. Speeds are sampled up
// front so a run is reproducible for a given seed.
func (d *Driver) Schedule(dem Demand) error {
	if dem.Headway <= 0 {
		return fmt.Errorf("demand headway must be positive, got %v", dem.Headway)
	}
	if dem.SpreadMPS < 0 || dem.SpreadMPS >= dem.SpeedMPS {
		return fmt.Errorf("demand speed spread %f outside [0, %f)", dem.SpreadMPS, dem.SpeedMPS)
	}
	rng := rand.New(rand.NewSource(dem.Seed))
	start := d.sched.Now()
	for i := range dem.Vehicles {
		spec := VehicleSpec{
			Type:     dem.Type,
			SpeedMPS: dem.SpeedMPS + dem.SpreadMPS*(2*rng.Float64()-1),
			LengthM:  dem.LengthM,
		}
		at := start + time.Duration(i)*dem.Headway
		if _, err := d.sched.ScheduleAt(at, fmt.Sprintf("release #%d", i), func(time.Duration) error {
			_, err := d.Release(spec)
			return err
		}); err != nil {
			return fmt.Errorf("schedule demand: %w", err)
		}
	}
	return nil
}
