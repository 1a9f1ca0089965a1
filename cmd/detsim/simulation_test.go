package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lanedetect/internal/config"
	"github.com/banshee-data/lanedetect/internal/monitoring"
	"github.com/banshee-data/lanedetect/internal/store"
)

func runDefault(t *testing.T, mutate func(*config.ScenarioConfig)) *simulation {
	t.Helper()
	defer monitoring.Swap(t.Logf)()

	cfg := config.MustLoadDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())
	s, err := build(cfg, monitoring.NewMetrics())
	require.NoError(t, err)
	require.NoError(t, s.run(context.Background()))
	require.Zero(t, s.queue.Failures())
	return s
}

func TestDefaultScenario(t *testing.T) {
	s := runDefault(t, nil)

	require.Len(t, s.loops, 1)
	ld := s.loops[0]
	assert.Equal(t, 120, ld.Count())
	assert.Equal(t, 10, ld.Periods())

	vehicles := 0.0
	for _, r := range ld.Records() {
		vehicles += r.Flow * (r.End - r.Start).Seconds()
		assert.False(t, r.Partial)
	}
	assert.InDelta(t, 120, vehicles, 1e-6)

	assert.Equal(t, 120, s.driver.Released())
	assert.Equal(t, 120, s.driver.Finished())
	assert.Zero(t, s.net.GTUCount())

	require.NotEmpty(t, s.transitions)
	assert.Zero(t, len(s.transitions)%2, "every entry has a matching exit")
	assert.True(t, s.transitions[0].Occupied)
	assert.False(t, s.transitions[len(s.transitions)-1].Occupied)
	assert.False(t, s.areas[0].Occupied())

	summaries := s.summaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, 120, summaries[0].Vehicles)
	assert.InDelta(t, 13.9*3.6, summaries[0].MeanSpeed, 2*3.6)
}

func TestFlushPartialPeriod(t *testing.T) {
	s := runDefault(t, func(c *config.ScenarioConfig) {
		d, flush := "570s", true
		c.Duration, c.FlushPartial = &d, &flush
	})

	recs := s.loops[0].Records()
	require.Len(t, recs, 10)
	last := recs[len(recs)-1]
	assert.True(t, last.Partial)
	assert.Equal(t, 540*time.Second, last.Start)
	assert.Equal(t, 570*time.Second, last.End)
}

func TestExportAndReport(t *testing.T) {
	s := runDefault(t, nil)

	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close()

	runID, err := s.export(st)
	require.NoError(t, err)

	recs, err := st.LoopRecords(runID, "loop1")
	require.NoError(t, err)
	assert.Len(t, recs, 10)

	var platoons []int
	require.NoError(t, st.Snapshot(runID, "loop1", "platoon sizes(3s)", &platoons))
	total := 0
	for _, n := range platoons {
		total += n
	}
	assert.Equal(t, 120, total)

	trs, err := st.Transitions(runID, "tl1")
	require.NoError(t, err)
	assert.Equal(t, s.transitions, trs)

	runs, err := st.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 10*time.Minute, runs[0].SimDuration)

	var out bytes.Buffer
	printSummaries(&out, s.summaries())
	assert.Contains(t, out.String(), "loop1")

	out.Reset()
	require.NoError(t, writeMetrics(&out, s.metrics))
	assert.Contains(t, out.String(), `lanedetect_loop_aggregations_total{detector="loop1"} 10`)
	assert.Contains(t, out.String(), `lanedetect_detector_triggers_total{detector="sink1",reference="FRONT"} 120`)
}
