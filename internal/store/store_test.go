package store

import (
	"database/sql"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lanedetect/internal/area"
	"github.com/banshee-data/lanedetect/internal/loop"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigrates(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, s.MigrateUp())
	require.NoError(t, s.MigrateUp(), "no change is not an error")
}

func TestRuns(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateRun("corridor")
	require.NoError(t, err)
	assert.Len(t, id, 36)
	require.NoError(t, s.FinishRun(id, 10*time.Minute))

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "corridor", runs[0].Scenario)
	assert.Equal(t, 10*time.Minute, runs[0].SimDuration)
	assert.False(t, runs[0].StartedAt.IsZero())

	assert.ErrorIs(t, s.FinishRun("missing", time.Second), sql.ErrNoRows)
}

func TestLoopRecordsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreateRun("corridor")
	require.NoError(t, err)

	records := []loop.Record{
		{Period: 1, Start: 0, End: time.Minute, Flow: 0.25, Values: map[string]any{"v[km/h]": 48.5, "occupancy": 0.1}},
		{Period: 2, Start: time.Minute, End: 90 * time.Second, Flow: 0, Values: map[string]any{"v[km/h]": math.NaN(), "occupancy": 0.0}, Partial: true},
		{Period: 3, Start: 90 * time.Second, End: 2 * time.Minute, Flow: 0.1, Values: map[string]any{"custom": []int{1, 2}}},
	}
	require.NoError(t, s.InsertLoopRecords(run, "loop1", records))

	got, err := s.LoopRecords(run, "loop1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.True(t, math.IsNaN(got[1].Values["v[km/h]"].(float64)))
	delete(got[1].Values, "v[km/h]")
	delete(records[1].Values, "v[km/h]")
	records[2].Values["custom"] = json.RawMessage(`[1,2]`)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	empty, err := s.LoopRecords(run, "other")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLoopRecordsRequireRun(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertLoopRecords("no-such-run", "loop1", []loop.Record{{Period: 1, Values: map[string]any{}}})
	assert.Error(t, err)
}

func TestSnapshots(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreateRun("corridor")
	require.NoError(t, err)

	require.NoError(t, s.InsertSnapshots(run, "loop1", map[string]any{
		"passage times":     []time.Duration{time.Second, 3 * time.Second},
		"platoon sizes(3s)": []int{2, 1},
	}))
	require.NoError(t, s.InsertSnapshots(run, "loop1", map[string]any{"platoon sizes(3s)": []int{2, 1, 4}}))

	var passages []time.Duration
	require.NoError(t, s.Snapshot(run, "loop1", "passage times", &passages))
	assert.Equal(t, []time.Duration{time.Second, 3 * time.Second}, passages)

	var platoons []int
	require.NoError(t, s.Snapshot(run, "loop1", "platoon sizes(3s)", &platoons))
	assert.Equal(t, []int{2, 1, 4}, platoons)

	assert.ErrorIs(t, s.Snapshot(run, "loop1", "missing", &platoons), sql.ErrNoRows)
}

func TestTransitions(t *testing.T) {
	s := openTestStore(t)
	run, err := s.CreateRun("corridor")
	require.NoError(t, err)

	first := []area.Transition{
		{DetectorID: "tl1", Occupied: true, Time: 9 * time.Second},
		{DetectorID: "tl2", Occupied: true, Time: 10 * time.Second},
		{DetectorID: "tl1", Occupied: false, Time: 20 * time.Second},
	}
	require.NoError(t, s.InsertTransitions(run, first))
	require.NoError(t, s.InsertTransitions(run, []area.Transition{
		{DetectorID: "tl1", Occupied: true, Time: 30 * time.Second},
	}))

	got, err := s.Transitions(run, "tl1")
	require.NoError(t, err)
	want := []area.Transition{
		{DetectorID: "tl1", Occupied: true, Time: 9 * time.Second},
		{DetectorID: "tl1", Occupied: false, Time: 20 * time.Second},
		{DetectorID: "tl1", Occupied: true, Time: 30 * time.Second},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}
