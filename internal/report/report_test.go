package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lanedetect/internal/area"
	"github.com/banshee-data/lanedetect/internal/loop"
	"github.com/banshee-data/lanedetect/internal/units"
)

func minuteRecords() []loop.Record {
	return []loop.Record{
		// 6 vehicles at 36 km/h.
		{Period: 1, Start: 0, End: time.Minute, Flow: 0.1, Values: map[string]any{SpeedName: 36.0}},
		// 12 vehicles at 72 km/h.
		{Period: 2, Start: time.Minute, End: 2 * time.Minute, Flow: 0.2, Values: map[string]any{SpeedName: 72.0}},
		// Empty period.
		{Period: 3, Start: 2 * time.Minute, End: 3 * time.Minute, Flow: 0, Values: map[string]any{SpeedName: math.NaN()}},
		// Partial period of 30s with 3 vehicles at 54 km/h.
		{Period: 4, Start: 3 * time.Minute, End: 210 * time.Second, Flow: 0.1, Values: map[string]any{SpeedName: 54.0}, Partial: true},
	}
}

func TestSummarise(t *testing.T) {
	s := Summarise("loop1", minuteRecords(), units.KMPH)

	assert.Equal(t, "loop1", s.DetectorID)
	assert.Equal(t, 4, s.Periods)
	assert.Equal(t, 1, s.Partial)
	assert.Equal(t, 21, s.Vehicles)

	// Flows 360, 720, 0, 360 veh/h.
	assert.InDelta(t, 360, s.MeanFlow, 1e-9)
	assert.InDelta(t, 293.9387691, s.StdFlow, 1e-6)
	assert.InDelta(t, 720, s.PeakFlow, 1e-9)

	// (6*36 + 12*72 + 3*54) / 21
	assert.InDelta(t, 59.142857, s.MeanSpeed, 1e-6)
	assert.InDelta(t, 72, s.P85Speed, 1e-9)
	assert.Equal(t, units.KMPH, s.SpeedUnits)
}

func TestSummariseConvertsUnits(t *testing.T) {
	s := Summarise("loop1", minuteRecords()[:1], units.MPS)
	assert.InDelta(t, 10, s.MeanSpeed, 1e-9)
	assert.Zero(t, s.StdFlow)
}

func TestSummariseEmpty(t *testing.T) {
	s := Summarise("loop1", nil, units.KMPH)
	assert.Zero(t, s.Periods)
	assert.True(t, math.IsNaN(s.MeanSpeed))

	s = Summarise("loop1", minuteRecords()[2:3], units.KMPH)
	assert.Equal(t, 1, s.Periods)
	assert.True(t, math.IsNaN(s.MeanSpeed), "no vehicles means no speed")
}

func TestWriteDashboard(t *testing.T) {
	var buf bytes.Buffer
	err := WriteDashboard(&buf, "corridor",
		[]LoopSeries{{DetectorID: "loop1", Records: minuteRecords()}},
		[]AreaSeries{{DetectorID: "tl1", End: 4 * time.Minute, Transitions: []area.Transition{
			{DetectorID: "tl1", Occupied: true, Time: 30 * time.Second},
			{DetectorID: "tl1", Occupied: false, Time: 90 * time.Second},
		}}},
	)
	require.NoError(t, err)

	html := buf.String()
	assert.True(t, strings.Contains(html, "<html"), "expected an HTML page")
	assert.Contains(t, html, "loop1")
	assert.Contains(t, html, "tl1")
	assert.Contains(t, html, "Area occupancy")
}

func TestStepData(t *testing.T) {
	data := stepData(AreaSeries{DetectorID: "tl1", End: 2 * time.Minute, Transitions: []area.Transition{
		{Occupied: true, Time: 30 * time.Second},
		{Occupied: false, Time: time.Minute},
	}})

	want := [][]interface{}{{0.0, 0}, {0.5, 0}, {0.5, 1}, {1.0, 1}, {1.0, 0}, {2.0, 0}}
	require.Len(t, data, len(want))
	for i, d := range data {
		assert.Equal(t, want[i], d.Value, "point %d", i)
	}
}

func TestWriteSpeedPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speed.png")
	require.NoError(t, WriteSpeedPlot(path, []LoopSeries{
		{DetectorID: "loop1", Records: minuteRecords()},
		{DetectorID: "empty"},
	}, units.KMPH))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("\x89PNG")), "expected a PNG file")
}
