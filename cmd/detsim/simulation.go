package main

import (
	"context"
	"fmt"

	"github.com/banshee-data/lanedetect/internal/area"
	"github.com/banshee-data/lanedetect/internal/config"
	"github.com/banshee-data/lanedetect/internal/detector"
	"github.com/banshee-data/lanedetect/internal/loop"
	"github.com/banshee-data/lanedetect/internal/monitoring"
	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/report"
	"github.com/banshee-data/lanedetect/internal/sim"
	"github.com/banshee-data/lanedetect/internal/store"
	"github.com/banshee-data/lanedetect/internal/traffic"
	"github.com/banshee-data/lanedetect/internal/units"
)

// simulation is one scenario wired onto a fresh network and queue.
type simulation struct {
	cfg     *config.ScenarioConfig
	net     *network.Network
	queue   *sim.Queue
	driver  *traffic.Driver
	metrics *monitoring.Metrics

	loops       []*loop.Detector
	areas       []*area.Detector
	transitions []area.Transition
}

func compatibility(types []string) detector.Compatibility {
	if len(types) == 0 {
		return nil
	}
	return detector.Types(types...)
}

func registrations(lc config.LoopConfig) []loop.Registration {
	var out []loop.Registration
	for _, name := range lc.GetMeasurements() {
		switch name {
		case config.MeasureMeanSpeed:
			out = append(out, loop.Use(loop.MeanSpeed{}))
		case config.MeasureHarmonicMeanSpeed:
			out = append(out, loop.Use(loop.HarmonicMeanSpeed{}))
		case config.MeasureOccupancy:
			out = append(out, loop.Use(loop.Occupancy{}))
		case config.MeasurePassages:
			out = append(out, loop.Use(loop.Passages{}))
		case config.MeasurePlatoonSizes:
			out = append(out, loop.Use(loop.PlatoonSizes{Threshold: lc.GetPlatoonThreshold()}))
		}
	}
	return out
}

// build creates the lanes and detectors of cfg. Detectors exist before any
// vehicle is released so every vehicle sees all of them.
func build(cfg *config.ScenarioConfig, metrics *monitoring.Metrics) (*simulation, error) {
	s := &simulation{
		cfg:     cfg,
		net:     network.New(cfg.GetName()),
		queue:   sim.NewQueue(),
		metrics: metrics,
	}
	s.queue.OnFailure = func(string, error) { metrics.ObserveCallbackFailure() }

	for _, lc := range cfg.Lanes {
		if _, err := s.net.AddLane(lc.ID, lc.Link, lc.LengthM); err != nil {
			return nil, err
		}
	}
	corridor, err := traffic.NewCorridor(s.net, cfg.Corridor...)
	if err != nil {
		return nil, err
	}
	s.driver = traffic.NewDriver(s.net, s.queue, corridor)

	observe := func(ev detector.TriggerEvent) {
		metrics.ObserveTrigger(ev.DetectorID, ev.Reference.String())
	}

	for _, lc := range cfg.Loops {
		ld, err := loop.New(s.net, s.queue, loop.Config{
			ID:                lc.ID,
			LaneID:            lc.Lane,
			PositionM:         lc.PositionM,
			LengthM:           lc.GetLengthM(),
			FirstAggregation:  lc.GetFirstAggregation(),
			AggregationPeriod: lc.GetAggregationPeriod(),
			Measurements:      registrations(lc),
			Compatibility:     compatibility(lc.VehicleTypes),
		})
		if err != nil {
			return nil, err
		}
		ld.Front().AddTriggerListener(observe)
		ld.Rear().AddTriggerListener(observe)
		ld.OnAggregate(func(ev loop.Aggregate) {
			metrics.ObserveAggregate(ev.DetectorID, units.ConvertFlow(ev.Flow, units.VehPerHour))
		})
		s.loops = append(s.loops, ld)
	}

	for _, ac := range cfg.Areas {
		ad, err := area.New(s.net, s.queue, area.Config{
			ID:            ac.ID,
			Lanes:         ac.Lanes,
			PositionA:     ac.PositionA,
			PositionB:     ac.PositionB,
			EntryPosition: ac.GetEntryPosition(),
			ExitPosition:  ac.GetExitPosition(),
			Compatibility: compatibility(ac.VehicleTypes),
		})
		if err != nil {
			return nil, err
		}
		ad.EntryA().AddTriggerListener(observe)
		ad.ExitB().AddTriggerListener(observe)
		record := func(tr area.Transition) {
			s.transitions = append(s.transitions, tr)
			metrics.ObserveOccupancy(tr.DetectorID, tr.Occupied)
		}
		ad.OnEntry(record)
		ad.OnExit(record)
		s.areas = append(s.areas, ad)
	}

	for _, sc := range cfg.Sinks {
		if _, err := detector.NewSink(s.net, s.queue, sc.ID, sc.Lane, sc.PositionM, detector.WithListener(observe)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// run releases the demand and advances the queue to the end of the
// scenario. Loops are closed afterwards, flushing the trailing partial
// period when configured.
func (s *simulation) run(ctx context.Context) error {
	d := s.cfg.Demand
	if err := s.driver.Schedule(traffic.Demand{
		Vehicles:  d.GetVehicles(),
		Headway:   d.GetHeadway(),
		SpeedMPS:  d.GetSpeedMPS(),
		SpreadMPS: d.GetSpeedSpreadMPS(),
		Type:      d.GetVehicleType(),
		LengthM:   d.GetVehicleLengthM(),
		Seed:      d.GetSeed(),
	}); err != nil {
		return err
	}
	if err := s.queue.RunUntil(ctx, s.cfg.GetDuration()); err != nil {
		return fmt.Errorf("run interrupted at %v: %w", s.queue.Now(), err)
	}
	for _, ld := range s.loops {
		if s.cfg.GetFlushPartial() {
			ld.FlushPartial()
		} else {
			ld.Close()
		}
	}
	for _, ad := range s.areas {
		ad.Close()
	}
	return nil
}

// export writes the run into st and returns the run id.
func (s *simulation) export(st *store.Store) (string, error) {
	runID, err := st.CreateRun(s.cfg.GetName())
	if err != nil {
		return "", err
	}
	for _, ld := range s.loops {
		if err := st.InsertLoopRecords(runID, ld.ID(), ld.Records()); err != nil {
			return "", err
		}
		if err := st.InsertSnapshots(runID, ld.ID(), ld.Snapshots()); err != nil {
			return "", err
		}
	}
	if err := st.InsertTransitions(runID, s.transitions); err != nil {
		return "", err
	}
	if err := st.FinishRun(runID, s.queue.Now()); err != nil {
		return "", err
	}
	return runID, nil
}

func (s *simulation) loopSeries() []report.LoopSeries {
	out := make([]report.LoopSeries, 0, len(s.loops))
	for _, ld := range s.loops {
		out = append(out, report.LoopSeries{DetectorID: ld.ID(), Records: ld.Records()})
	}
	return out
}

func (s *simulation) areaSeries() []report.AreaSeries {
	out := make([]report.AreaSeries, 0, len(s.areas))
	for _, ad := range s.areas {
		var trs []area.Transition
		for _, tr := range s.transitions {
			if tr.DetectorID == ad.ID() {
				trs = append(trs, tr)
			}
		}
		out = append(out, report.AreaSeries{DetectorID: ad.ID(), Transitions: trs, End: s.queue.Now()})
	}
	return out
}

func (s *simulation) summaries() []report.Summary {
	out := make([]report.Summary, 0, len(s.loops))
	for _, ld := range s.loops {
		out = append(out, report.Summarise(ld.ID(), ld.Records(), s.cfg.GetSpeedUnits()))
	}
	return out
}
