package loop

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lanedetect/internal/detector"
	"github.com/banshee-data/lanedetect/internal/monitoring"
	"github.com/banshee-data/lanedetect/internal/network"
	"github.com/banshee-data/lanedetect/internal/sim"
	"github.com/banshee-data/lanedetect/internal/testutil"
)

type fixture struct {
	net   *network.Network
	queue *sim.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	net := network.New("test")
	_, err := net.AddLane("L1", "A-B", 200)
	require.NoError(t, err)
	return &fixture{net: net, queue: sim.NewQueue()}
}

func (f *fixture) loop(t *testing.T, cfg Config) *Detector {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "loop1"
	}
	if cfg.LaneID == "" {
		cfg.LaneID = "L1"
	}
	if cfg.AggregationPeriod == 0 {
		cfg.AggregationPeriod = time.Minute
	}
	d, err := New(f.net, f.queue, cfg)
	require.NoError(t, err)
	return d
}

// at schedules fn at t and fails the test if scheduling fails.
func (f *fixture) at(t *testing.T, at time.Duration, fn func() error) {
	t.Helper()
	_, err := f.queue.ScheduleAt(at, "test", func(time.Duration) error { return fn() })
	require.NoError(t, err)
}

func (f *fixture) pass(t *testing.T, d *Detector, g network.GTU, entry, exit time.Duration) {
	t.Helper()
	f.at(t, entry, func() error { return d.Front().Trigger(g) })
	f.at(t, exit, func() error { return d.Rear().Trigger(g) })
}

func (f *fixture) run(t *testing.T, end time.Duration) {
	t.Helper()
	require.NoError(t, f.queue.RunUntil(context.Background(), end))
	require.Zero(t, f.queue.Failures())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"zero period", Config{ID: "a", LaneID: "L1", PositionM: 10, AggregationPeriod: 0}, detector.ErrConfiguration},
		{"negative period", Config{ID: "a", LaneID: "L1", PositionM: 10, AggregationPeriod: -time.Second}, detector.ErrConfiguration},
		{"negative length", Config{ID: "a", LaneID: "L1", PositionM: 10, LengthM: -1, AggregationPeriod: time.Minute}, detector.ErrConfiguration},
		{"past lane end", Config{ID: "a", LaneID: "L1", PositionM: 198, LengthM: 3, AggregationPeriod: time.Minute}, detector.ErrConfiguration},
		{"unknown lane", Config{ID: "a", LaneID: "L9", PositionM: 10, AggregationPeriod: time.Minute}, detector.ErrConfiguration},
		{"outside lane", Config{ID: "a", LaneID: "L1", PositionM: -5, LengthM: 2, AggregationPeriod: time.Minute}, detector.ErrGeometry},
		{"duplicate measurements", Config{ID: "a", LaneID: "L1", PositionM: 10, AggregationPeriod: time.Minute,
			Measurements: []Registration{Use(MeanSpeed{}), Use(MeanSpeed{})}}, detector.ErrConfiguration},
		{"negative first aggregation", Config{ID: "a", LaneID: "L1", PositionM: 10, AggregationPeriod: time.Minute,
			FirstAggregation: -time.Second}, detector.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d, err := New(f.net, f.queue, tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, d)
		})
	}
}

func TestNewCreatesRearFlank(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, LengthM: 1.5})

	lane, err := f.net.Lane("L1")
	require.NoError(t, err)
	dets := lane.Detectors()
	require.Len(t, dets, 2)
	assert.Equal(t, "loop1", dets[0].ID())
	assert.Equal(t, network.Front, dets[0].Reference())
	assert.Equal(t, "loop1_rear", dets[1].ID())
	assert.Equal(t, network.Rear, dets[1].Reference())
	assert.Equal(t, 51.5, dets[1].PositionM())
	assert.Same(t, d.Rear(), dets[1])

	registered := network.ObjectsOf[*Detector](f.net)
	require.Len(t, registered, 1)
	assert.Same(t, d, registered[0])

	assert.Equal(t, 1, f.queue.Pending(), "first tick scheduled")
	next, ok := f.queue.NextAt()
	require.True(t, ok)
	assert.Equal(t, time.Minute, next)
}

func TestHistoryLengthsStayAligned(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{
		PositionM: 50,
		LengthM:   1,
		Measurements: []Registration{
			Use(MeanSpeed{}), Use(HarmonicMeanSpeed{}), Use(Occupancy{}), Use(Passages{}),
			Use(PlatoonSizes{Threshold: 2 * time.Second}),
		},
	})
	f.pass(t, d, testutil.NewGTU("g1", 10), 10*time.Second, 11*time.Second)
	f.pass(t, d, testutil.NewGTU("g2", 15), 130*time.Second, 131*time.Second)

	f.run(t, 5*time.Minute)

	assert.Equal(t, 5, d.Periods())
	assert.Len(t, d.FlowHistory(), 5)
	speeds, err := History(d, MeanSpeed{})
	require.NoError(t, err)
	assert.Len(t, speeds, 5)
	harm, err := History(d, HarmonicMeanSpeed{})
	require.NoError(t, err)
	assert.Len(t, harm, 5)
	occ, err := History(d, Occupancy{})
	require.NoError(t, err)
	assert.Len(t, occ, 5)

	_, err = History(d, Passages{})
	assert.ErrorIs(t, err, detector.ErrConfiguration, "non-periodic has no history")
	assert.Len(t, d.Records(), 5)
}

func TestFlowConservation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, AggregationPeriod: 30 * time.Second})

	for i := 0; i < 7; i++ {
		g := testutil.NewGTU("g", 20)
		f.at(t, time.Duration(i+1)*time.Second, func() error { return d.Front().Trigger(g) })
	}
	f.run(t, 30*time.Second)

	flow, err := d.LastFlow()
	require.NoError(t, err)
	assert.InDelta(t, 7.0/30.0, flow, 1e-12)
	assert.Equal(t, 7, d.Count())
	assert.Equal(t, 0, d.PeriodCount(), "period count resets at the tick")
}

func TestFirstAggregationAndDriftFreeSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, FirstAggregation: 20 * time.Second, AggregationPeriod: time.Minute})

	var ticks []Aggregate
	d.OnAggregate(func(a Aggregate) { ticks = append(ticks, a) })

	g := testutil.NewGTU("g1", 10)
	f.at(t, 5*time.Second, func() error { return d.Front().Trigger(g) })
	f.at(t, 30*time.Second, func() error { return d.Front().Trigger(g) })
	f.run(t, 190*time.Second)

	require.Len(t, ticks, 3)
	assert.Equal(t, []time.Duration{20 * time.Second, 80 * time.Second, 140 * time.Second},
		[]time.Duration{ticks[0].Time, ticks[1].Time, ticks[2].Time})
	assert.InDelta(t, 1.0/20.0, ticks[0].Flow, 1e-12, "first period covers only first aggregation")
	assert.InDelta(t, 1.0/60.0, ticks[1].Flow, 1e-12)
	assert.Equal(t, time.Duration(0), ticks[0].Start)
	assert.Equal(t, 20*time.Second, ticks[1].Start)
	assert.Equal(t, 3, ticks[2].Period)

	next, ok := f.queue.NextAt()
	require.True(t, ok)
	assert.Equal(t, 200*time.Second, next)
}

func TestMeanSpeeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, Measurements: []Registration{Use(MeanSpeed{}), Use(HarmonicMeanSpeed{})}})

	for i, v := range []float64{10, 20, 30} {
		g := testutil.NewGTU("g", v)
		f.at(t, time.Duration(i+1)*time.Second, func() error { return d.Front().Trigger(g) })
	}
	f.run(t, time.Minute)

	mean, err := LastValue(d, MeanSpeed{})
	require.NoError(t, err)
	assert.InDelta(t, 72.0, mean, 1e-9)

	// harmonic over 10, 20, 30
	harm, err := LastValue(d, HarmonicMeanSpeed{})
	require.NoError(t, err)
	assert.InDelta(t, 3.6*3/(0.1+0.05+1.0/30), harm, 1e-9)
}

func TestHarmonicMeanSpeed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, Measurements: []Registration{Use(HarmonicMeanSpeed{})}})

	f.at(t, time.Second, func() error { return d.Front().Trigger(testutil.NewGTU("a", 10)) })
	f.at(t, 2*time.Second, func() error { return d.Front().Trigger(testutil.NewGTU("b", 20)) })
	f.run(t, time.Minute)

	harm, err := LastValue(d, HarmonicMeanSpeed{})
	require.NoError(t, err)
	assert.InDelta(t, 48.0, harm, 1e-9)
}

func TestOccupancy(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, LengthM: 2, Measurements: []Registration{Use(Occupancy{})}})

	g := testutil.NewGTU("g1", 1)
	f.pass(t, d, g, 0, 5*time.Second)
	f.run(t, time.Minute)

	occ, err := LastValue(d, Occupancy{})
	require.NoError(t, err)
	assert.InDelta(t, 5.0/60.0, occ, 1e-9)
}

func TestOccupancyAcrossTick(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, LengthM: 2, Measurements: []Registration{Use(Occupancy{})}})

	f.pass(t, d, testutil.NewGTU("g1", 1), 55*time.Second, 65*time.Second)
	f.run(t, 2*time.Minute)

	occ, err := History(d, Occupancy{})
	require.NoError(t, err)
	require.Len(t, occ, 2)
	assert.Equal(t, 0.0, occ[0])
	assert.InDelta(t, 10.0/60.0, occ[1], 1e-9, "entry recorded before the tick is matched after it")
}

func TestNonPeriodicSnapshots(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	platoons := PlatoonSizes{Threshold: 2 * time.Second}
	d := f.loop(t, Config{PositionM: 50, Measurements: []Registration{Use(Passages{}), Use(platoons)}})

	for i, at := range []time.Duration{0, 1, 2, 10, 11} {
		g := testutil.NewGTU(string(rune('a'+i)), 10)
		f.at(t, at*time.Second, func() error { return d.Front().Trigger(g) })
	}
	f.run(t, 12*time.Second)

	sizes, err := Snapshot(d, platoons)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, sizes)
	again, err := Snapshot(d, platoons)
	require.NoError(t, err)
	assert.Equal(t, sizes, again, "snapshot does not flush twice")

	passages, err := Snapshot(d, Passages{})
	require.NoError(t, err)
	want := []time.Duration{0, time.Second, 2 * time.Second, 10 * time.Second, 11 * time.Second}
	if diff := cmp.Diff(want, passages); diff != "" {
		t.Errorf("passages mismatch (-want +got):\n%s", diff)
	}

	snaps := d.Snapshots()
	assert.Len(t, snaps, 2)
	assert.Equal(t, []int{3, 2}, snaps[platoons.Info().Name])

	_, err = Snapshot(d, MeanSpeed{})
	assert.ErrorIs(t, err, detector.ErrConfiguration)
}

func TestQueriesBeforeFirstTick(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, Measurements: []Registration{Use(MeanSpeed{}), Use(Passages{})}})

	assert.False(t, d.HasLastValue())
	_, err := d.LastFlow()
	assert.ErrorIs(t, err, detector.ErrEmptyHistory)
	_, err = LastValue(d, MeanSpeed{})
	assert.ErrorIs(t, err, detector.ErrEmptyHistory)
	_, err = LastValue(d, Passages{})
	assert.ErrorIs(t, err, detector.ErrConfiguration)
	_, err = LastValue(d, Occupancy{})
	assert.ErrorIs(t, err, detector.ErrConfiguration, "not registered")
}

func TestLoopTriggeredNotification(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, LengthM: 1})

	var got []LoopTriggered
	d.OnTriggered(func(ev LoopTriggered) { got = append(got, ev) })

	g := testutil.NewGTU("g1", 10)
	f.pass(t, d, g, 3*time.Second, 4*time.Second)
	f.run(t, 10*time.Second)

	assert.Equal(t, []LoopTriggered{{DetectorID: "loop1", GTUID: "g1", Time: 3 * time.Second}}, got)
	assert.Equal(t, 1, d.Count(), "rear flank does not count")
}

func TestAggregateNotificationValues(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, Measurements: []Registration{Use(Passages{}), Use(MeanSpeed{}), Use(Occupancy{})}})

	var got []Aggregate
	d.OnAggregate(func(a Aggregate) { got = append(got, a) })
	f.at(t, time.Second, func() error { return d.Front().Trigger(testutil.NewGTU("g1", 10)) })
	f.run(t, time.Minute)

	require.Len(t, got, 1)
	assert.Equal(t, []string{"v[km/h]", "occupancy"}, got[0].Names)
	require.Len(t, got[0].Values, 2)
	assert.InDelta(t, 36.0, got[0].Values[0].(float64), 1e-9)
	assert.Equal(t, 0.0, got[0].Values[1])
}

func TestIncompatibleGTUsAreNotCounted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, Compatibility: detector.Types("CAR")})

	truck := testutil.NewGTU("t1", 10)
	truck.TypeValue = "TRUCK"
	f.at(t, time.Second, func() error { return d.Front().Trigger(truck) })
	f.at(t, 2*time.Second, func() error { return d.Front().Trigger(testutil.NewGTU("c1", 10)) })
	f.run(t, time.Minute)

	assert.Equal(t, 1, d.Count())
}

func TestFlushPartialAndClose(t *testing.T) {
	defer monitoring.Swap(t.Logf)()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, Measurements: []Registration{Use(MeanSpeed{})}})

	f.at(t, 70*time.Second, func() error { return d.Front().Trigger(testutil.NewGTU("g1", 20)) })
	f.run(t, 90*time.Second)
	require.Equal(t, 1, d.Periods())

	assert.True(t, d.FlushPartial())
	assert.False(t, d.FlushPartial(), "flush happens once")
	assert.Zero(t, f.queue.Pending(), "pending tick cancelled")

	records := d.Records()
	require.Len(t, records, 2)
	last := records[1]
	assert.True(t, last.Partial)
	assert.Equal(t, 60*time.Second, last.Start)
	assert.Equal(t, 90*time.Second, last.End)
	assert.InDelta(t, 1.0/30.0, last.Flow, 1e-12)
	assert.InDelta(t, 72.0, last.Values["v[km/h]"].(float64), 1e-9)

	speeds, err := History(d, MeanSpeed{})
	require.NoError(t, err)
	assert.Len(t, speeds, 2)
}

func TestCloseStopsTicks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50})
	f.run(t, 2*time.Minute)
	require.Equal(t, 2, d.Periods())

	d.Close()
	f.run(t, 10*time.Minute)
	assert.Equal(t, 2, d.Periods())
	assert.Zero(t, f.queue.Pending())
}

func TestMeasurementsDescribed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d := f.loop(t, Config{PositionM: 50, Measurements: []Registration{
		Use(MeanSpeed{}), Use(PlatoonSizes{Threshold: 3 * time.Second}),
	}})

	infos := d.Measurements()
	require.Len(t, infos, 2)
	assert.Equal(t, "v[km/h]", infos[0].Name)
	assert.Equal(t, "platoon sizes(3s)", infos[1].Name)
	assert.Equal(t, "[]int", infos[1].ValueType)
}

func TestFailedNewLeavesNothingRegistered(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := detector.NewSink(f.net, f.queue, "loop1_rear", "L1", 120)
	require.NoError(t, err)

	d, err := New(f.net, f.queue, Config{ID: "loop1", LaneID: "L1", PositionM: 50, LengthM: 1.5, AggregationPeriod: time.Minute})
	assert.ErrorIs(t, err, detector.ErrConfiguration)
	assert.Nil(t, d)

	lane, err := f.net.Lane("L1")
	require.NoError(t, err)
	dets := lane.Detectors()
	require.Len(t, dets, 1)
	assert.Equal(t, "loop1_rear", dets[0].ID())
	_, registered := f.net.Object("loop1")
	assert.False(t, registered)
	assert.Zero(t, f.queue.Pending())

	require.NoError(t, f.net.RegisterObject("loop2", struct{}{}))
	_, err = New(f.net, f.queue, Config{ID: "loop2", LaneID: "L1", PositionM: 50, AggregationPeriod: time.Minute})
	assert.ErrorIs(t, err, detector.ErrConfiguration)
	assert.Len(t, lane.Detectors(), 1)
}
